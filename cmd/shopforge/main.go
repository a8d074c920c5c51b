package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"

	"github.com/shopforge/shopforge/internal/blobstore"
	"github.com/shopforge/shopforge/internal/config"
	"github.com/shopforge/shopforge/internal/queue"
)

var composeFile string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shopforge: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shopforge",
		Short: "shopforge development CLI",
		Long: `shopforge CLI orchestrates common development workflows: starting and stopping the
Docker stack (Postgres, Redis, MinIO, API and worker), provisioning the media bucket,
seeding a shop with a product, and triggering a scratch sweep.`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&composeFile, "compose-file", "f", "docker-compose.yml", "Compose file to use for stack commands")
	cmd.AddCommand(
		newUpCmd(),
		newDownCmd(),
		newLogsCmd(),
		newBucketCmd(),
		newSeedCmd(),
		newSweepCmd(),
	)
	return cmd
}

func newUpCmd() *cobra.Command {
	var detach bool
	var skipBuild bool
	cmd := &cobra.Command{
		Use:   "up [service...]",
		Short: "Start the full docker-compose stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			composeArgs := []string{"compose", "-f", composeFile, "up"}
			if !skipBuild {
				composeArgs = append(composeArgs, "--build")
			}
			if detach {
				composeArgs = append(composeArgs, "-d")
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(ctx, "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&detach, "detached", "d", true, "Run docker compose in detached mode")
	cmd.Flags().BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding images before starting")
	return cmd
}

func newDownCmd() *cobra.Command {
	var removeVolumes bool
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Stop docker-compose stack",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			composeArgs := []string{"compose", "-f", composeFile, "down"}
			if removeVolumes {
				composeArgs = append(composeArgs, "-v")
			}
			return runCommand(ctx, "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&removeVolumes, "volumes", "v", false, "Remove stack volumes")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs [service...]",
		Short: "Tail logs from docker-compose services",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			composeArgs := []string{"compose", "-f", composeFile, "logs"}
			if follow {
				composeArgs = append(composeArgs, "-f")
			}
			composeArgs = append(composeArgs, args...)
			return runCommand(ctx, "docker", composeArgs...)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream logs continuously")
	return cmd
}

// newBucketCmd provisions the media bucket and its public-read policy using
// the same SHOPFORGE_* environment the server and worker read.
func newBucketCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bucket",
		Short: "Create the media bucket and apply the public-read policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := blobstore.New(cfg)
			if err != nil {
				return fmt.Errorf("connect blob store: %w", err)
			}
			if err := store.EnsureBucket(cmd.Context()); err != nil {
				return fmt.Errorf("ensure bucket: %w", err)
			}
			fmt.Printf("bucket %q ready at %s\n", cfg.Bucket, cfg.S3Endpoint)
			return nil
		},
	}
}

func newSeedCmd() *cobra.Command {
	var apiBase string
	var shopName string
	var productName string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a shop and a product through the running API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := &http.Client{Timeout: 10 * time.Second}

			shopID, err := postForID(ctx, client, apiBase+"/shops", map[string]string{"name": shopName})
			if err != nil {
				return fmt.Errorf("create shop: %w", err)
			}
			productID, err := postForID(ctx, client, apiBase+"/shops/"+shopID+"/products", map[string]string{"name": productName})
			if err != nil {
				return fmt.Errorf("create product: %w", err)
			}

			fmt.Printf("shop    %s\n", shopID)
			fmt.Printf("product %s\n", productID)
			fmt.Printf("upload images with: POST %s/shops/%s/products/%s/images\n", apiBase, shopID, productID)
			return nil
		},
	}
	cmd.Flags().StringVar(&apiBase, "api", "http://localhost:8080", "Base URL of the running API server")
	cmd.Flags().StringVar(&shopName, "shop", "Demo Shop", "Name of the shop to create")
	cmd.Flags().StringVar(&productName, "product", "Demo Product", "Name of the product to create")
	return cmd
}

// newSweepCmd enqueues a scratch sweep immediately instead of waiting for the
// worker's schedule.
func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Enqueue a temp-prefix sweep right away",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := asynq.NewClient(asynq.RedisClientOpt{
				Addr:     cfg.RedisAddr,
				Password: cfg.RedisPassword,
				DB:       cfg.RedisDB,
			})
			defer client.Close()

			info, err := client.EnqueueContext(cmd.Context(), asynq.NewTask(queue.TempSweepTask, nil))
			if err != nil {
				return fmt.Errorf("enqueue sweep: %w", err)
			}
			fmt.Printf("sweep enqueued: %s\n", info.ID)
			return nil
		},
	}
}

func postForID(ctx context.Context, client *http.Client, url string, body map[string]string) (string, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("response had no id")
	}
	return out.ID, nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	execCmd := exec.CommandContext(ctx, name, args...)
	execCmd.Stdout = os.Stdout
	execCmd.Stderr = os.Stderr
	execCmd.Stdin = os.Stdin
	return execCmd.Run()
}

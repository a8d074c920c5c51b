// Package api exposes the HTTP surface that feeds the media pipeline:
// record bootstrap, image uploads and deletions. Every successful object
// write or removal emits the matching storage event onto the queue.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/shopforge/shopforge/internal/config"
	"github.com/shopforge/shopforge/internal/model"
	"github.com/shopforge/shopforge/internal/queue"
	"github.com/shopforge/shopforge/internal/repository"
)

// BlobStore is the slice of object storage the API needs.
type BlobStore interface {
	UploadStream(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
	PublicURL(key string) string
}

// Server exposes HTTP endpoints for uploads and storefront records.
type Server struct {
	cfg      *config.Config
	shops    *repository.ShopRepository
	products *repository.ProductRepository
	store    BlobStore
	queue    *asynq.Client
	log      *slog.Logger
	server   *http.Server
	once     sync.Once
}

// New constructs a Server.
func New(cfg *config.Config, shops *repository.ShopRepository, products *repository.ProductRepository,
	store BlobStore, queueClient *asynq.Client, log *slog.Logger) *Server {
	return &Server{
		cfg:      cfg,
		shops:    shops,
		products: products,
		store:    store,
		queue:    queueClient,
		log:      log,
	}
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", s.handleHealth)
		mux.HandleFunc("/shops", s.handleShops)
		mux.HandleFunc("/shops/", s.handleShopRoute)
		mux.HandleFunc("/objects/", s.handleObjectRoute)
		s.server = &http.Server{
			Addr:    s.cfg.Address,
			Handler: corsMiddleware(s.loggingMiddleware(mux)),
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	s.log.Info("api listening", "address", s.cfg.Address)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleShops(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	shop := &model.Shop{ID: uuid.NewString(), Name: strings.TrimSpace(req.Name)}
	if err := s.shops.Create(r.Context(), shop); err != nil {
		s.log.Error("create shop failed", "error", err)
		http.Error(w, "create shop failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, shop)
}

// handleShopRoute dispatches /shops/{shopId}[/...] by path segments.
func (s *Server) handleShopRoute(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/shops/"), "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	shopID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		s.handleGetShop(w, r, shopID)
	case len(parts) == 2 && parts[1] == "products" && r.Method == http.MethodPost:
		s.handleCreateProduct(w, r, shopID)
	case len(parts) == 3 && parts[1] == "products" && r.Method == http.MethodGet:
		s.handleGetProduct(w, r, shopID, parts[2])
	case len(parts) == 3 && parts[1] == "products" && r.Method == http.MethodDelete:
		s.handleDeleteProduct(w, r, shopID, parts[2])
	case len(parts) == 4 && parts[1] == "products" && parts[3] == "images" && r.Method == http.MethodPost:
		s.handleProductImageUpload(w, r, shopID, parts[2])
	case len(parts) == 2 && (parts[1] == "logo" || parts[1] == "cover") && r.Method == http.MethodPost:
		s.handleShopImageUpload(w, r, shopID, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleGetShop(w http.ResponseWriter, r *http.Request, shopID string) {
	shop, err := s.shops.Get(r.Context(), shopID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("get shop failed", "shop_id", shopID, "error", err)
		http.Error(w, "get shop failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, shop)
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request, shopID string) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	product := &model.Product{ID: uuid.NewString(), ShopID: shopID, Name: strings.TrimSpace(req.Name)}
	if err := s.products.Create(r.Context(), product); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "shop not found", http.StatusNotFound)
			return
		}
		s.log.Error("create product failed", "shop_id", shopID, "error", err)
		http.Error(w, "create product failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusCreated, product)
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request, shopID, productID string) {
	product, err := s.products.Get(r.Context(), shopID, productID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("get product failed", "product_id", productID, "error", err)
		http.Error(w, "get product failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request, shopID, productID string) {
	if err := s.products.Delete(r.Context(), shopID, productID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("delete product failed", "product_id", productID, "error", err)
		http.Error(w, "delete product failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleProductImageUpload(w http.ResponseWriter, r *http.Request, shopID, productID string) {
	file, header, ok := s.acceptUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	key := path.Join("products", shopID, productID, sanitizeFileName(header.Filename))
	s.storeAndAnnounce(w, r, key, file, header)
}

func (s *Server) handleShopImageUpload(w http.ResponseWriter, r *http.Request, shopID, slot string) {
	file, header, ok := s.acceptUpload(w, r)
	if !ok {
		return
	}
	defer file.Close()
	key := path.Join("shops", shopID, slot, sanitizeFileName(header.Filename))
	s.storeAndAnnounce(w, r, key, file, header)
}

// handleObjectRoute serves DELETE /objects/{objectKey}: the object is
// removed and an object-deleted event is emitted so the worker mirrors
// the deletion onto the derivatives.
func (s *Server) handleObjectRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	key := strings.Trim(strings.TrimPrefix(r.URL.Path, "/objects/"), "/")
	if key == "" {
		http.NotFound(w, r)
		return
	}
	if err := s.store.Delete(r.Context(), key); err != nil {
		s.log.Error("object delete failed", "object_key", key, "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	payload := queue.ObjectDeletedPayload{Bucket: s.cfg.Bucket, ObjectKey: key}
	if err := queue.EnqueueObjectDeleted(r.Context(), s.queue, payload); err != nil {
		s.log.Error("enqueue deleted event failed", "object_key", key, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"objectKey": key, "status": "deleting"})
}

func (s *Server) acceptUpload(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		http.Error(w, "upload too large or malformed", http.StatusBadRequest)
		return nil, nil, false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return nil, nil, false
	}
	contentType := header.Header.Get("Content-Type")
	if !s.typeAllowed(contentType) {
		file.Close()
		http.Error(w, fmt.Sprintf("content type %q not allowed", contentType), http.StatusUnsupportedMediaType)
		return nil, nil, false
	}
	return file, header, true
}

func (s *Server) storeAndAnnounce(w http.ResponseWriter, r *http.Request, key string, file multipart.File, header *multipart.FileHeader) {
	contentType := header.Header.Get("Content-Type")
	if err := s.store.UploadStream(r.Context(), key, file, header.Size, contentType); err != nil {
		s.log.Error("object upload failed", "object_key", key, "error", err)
		http.Error(w, "upload failed", http.StatusInternalServerError)
		return
	}
	payload := queue.ObjectFinalizedPayload{
		Bucket:      s.cfg.Bucket,
		ObjectKey:   key,
		ContentType: contentType,
	}
	if err := queue.EnqueueObjectFinalized(r.Context(), s.queue, payload); err != nil {
		s.log.Error("enqueue finalized event failed", "object_key", key, "error", err)
		http.Error(w, "enqueue failed", http.StatusInternalServerError)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{
		"objectKey": key,
		"url":       s.store.PublicURL(key),
		"status":    "processing",
	})
}

func (s *Server) typeAllowed(contentType string) bool {
	for _, allowed := range s.cfg.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

// sanitizeFileName strips any path components a client sneaks into the
// multipart file name so keys stay inside their record's directory.
func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "upload"
	}
	return name
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		next.ServeHTTP(w, r)
		s.log.Info("request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(started))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/shopforge/internal/model"
)

// ProductRepository persists product rows.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository constructs a repository.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

// Create inserts a product and bumps the owning shop's product_count in
// the same transaction.
func (r *ProductRepository) Create(ctx context.Context, product *model.Product) error {
	now := time.Now().UTC()
	product.CreatedAt = now
	product.UpdatedAt = now
	if product.Images == nil {
		product.Images = []model.ImageEntry{}
	}
	images, err := json.Marshal(product.Images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	base := Slugify(product.Name)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for attempt := 0; ; attempt++ {
		slug := base
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%d", base, attempt+1)
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE shop_id=$1 AND slug=$2)`,
			product.ShopID, slug).Scan(&exists); err != nil {
			return fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			product.Slug = slug
			break
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO products (id, shop_id, name, slug, images, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, product.ID, product.ShopID, product.Name, product.Slug, images, product.CreatedAt, product.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	tag, err := tx.Exec(ctx, `UPDATE shops SET product_count=product_count+1, updated_at=$1 WHERE id=$2`,
		now, product.ShopID)
	if err != nil {
		return fmt.Errorf("bump product count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return tx.Commit(ctx)
}

// Get returns a product scoped to its shop.
func (r *ProductRepository) Get(ctx context.Context, shopID, id string) (*model.Product, error) {
	var (
		product model.Product
		raw     []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, shop_id, name, slug, images, created_at, updated_at
		FROM products WHERE id=$1 AND shop_id=$2
	`, id, shopID)
	if err := row.Scan(&product.ID, &product.ShopID, &product.Name, &product.Slug, &raw,
		&product.CreatedAt, &product.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select product: %w", err)
	}
	if err := json.Unmarshal(raw, &product.Images); err != nil {
		return nil, fmt.Errorf("decode images: %w", err)
	}
	return &product, nil
}

// Delete removes a product and decrements the shop's product_count.
func (r *ProductRepository) Delete(ctx context.Context, shopID, id string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM products WHERE id=$1 AND shop_id=$2`, id, shopID)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	_, err = tx.Exec(ctx, `
		UPDATE shops SET product_count=GREATEST(product_count-1, 0), updated_at=$1 WHERE id=$2
	`, time.Now().UTC(), shopID)
	if err != nil {
		return fmt.Errorf("drop product count: %w", err)
	}
	return tx.Commit(ctx)
}

// ApplyImage merges a processed image entry into the product's images
// list. An entry for the same source upload is overwritten in place,
// keeping its order; a new upload is appended at the end. The row is
// locked for the read-merge-write so concurrent runs for different
// images of the same product cannot drop each other's entries.
func (r *ProductRepository) ApplyImage(ctx context.Context, shopID, productID string, entry model.ImageEntry) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	row := tx.QueryRow(ctx, `SELECT images FROM products WHERE id=$1 AND shop_id=$2 FOR UPDATE`, productID, shopID)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("select product images: %w", err)
	}
	var images []model.ImageEntry
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &images); err != nil {
			return fmt.Errorf("decode images: %w", err)
		}
	}
	images = MergeImageEntry(images, entry)
	data, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE products SET images=$1, updated_at=$2 WHERE id=$3 AND shop_id=$4`,
		data, time.Now().UTC(), productID, shopID); err != nil {
		return fmt.Errorf("update product images: %w", err)
	}
	return tx.Commit(ctx)
}

// Package repository wraps all SQL used throughout the API and worker.
// Products and shops keep their image data in JSONB columns so each
// reconciliation lands as a single-statement update on one row.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shopforge/shopforge/internal/derivative"
	"github.com/shopforge/shopforge/internal/model"
)

// ErrNotFound is returned when the addressed row does not exist. Callers
// racing a deletion treat it as a benign no-op.
var ErrNotFound = errors.New("record not found")

// ShopRepository persists shop rows.
type ShopRepository struct {
	pool *pgxpool.Pool
}

// NewShopRepository constructs a repository.
func NewShopRepository(pool *pgxpool.Pool) *ShopRepository {
	return &ShopRepository{pool: pool}
}

// Create inserts a shop, assigning a slug derived from the name. On slug
// collision a numeric suffix is appended until the insert succeeds.
func (r *ShopRepository) Create(ctx context.Context, shop *model.Shop) error {
	now := time.Now().UTC()
	shop.CreatedAt = now
	shop.UpdatedAt = now
	base := Slugify(shop.Name)
	for attempt := 0; ; attempt++ {
		slug := base
		if attempt > 0 {
			slug = fmt.Sprintf("%s-%d", base, attempt+1)
		}
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM shops WHERE slug=$1)`, slug).Scan(&exists); err != nil {
			return fmt.Errorf("check slug: %w", err)
		}
		if !exists {
			shop.Slug = slug
			break
		}
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shops (id, name, slug, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
	`, shop.ID, shop.Name, shop.Slug, shop.CreatedAt, shop.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert shop: %w", err)
	}
	return nil
}

// Get returns a shop by id.
func (r *ShopRepository) Get(ctx context.Context, id string) (*model.Shop, error) {
	var (
		shop     model.Shop
		logoRaw  []byte
		coverRaw []byte
	)
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, slug, logo, cover_image, logo_processed, cover_processed, product_count, created_at, updated_at
		FROM shops WHERE id=$1
	`, id)
	err := row.Scan(&shop.ID, &shop.Name, &shop.Slug, &shop.Logo, &shop.CoverImage,
		&logoRaw, &coverRaw, &shop.ProductCount, &shop.CreatedAt, &shop.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select shop: %w", err)
	}
	if shop.LogoProcessed, err = decodeFormatSet(logoRaw); err != nil {
		return nil, err
	}
	if shop.CoverProcessed, err = decodeFormatSet(coverRaw); err != nil {
		return nil, err
	}
	return &shop, nil
}

// ApplyImageSlot overwrites a shop's logo or cover fields with the
// derivative set produced for that slot. The logo slot serves the medium
// size, the cover slot the large size.
func (r *ShopRepository) ApplyImageSlot(ctx context.Context, shopID, slot string, set derivative.Set) error {
	update := SlotUpdate(slot, set)
	data, err := json.Marshal(update.Formats)
	if err != nil {
		return fmt.Errorf("marshal %s formats: %w", slot, err)
	}
	stmt := fmt.Sprintf(`UPDATE shops SET %s=$1, %s=$2, updated_at=$3 WHERE id=$4`,
		update.URLColumn, update.ProcessedColumn)
	tag, err := r.pool.Exec(ctx, stmt, update.Primary, data, time.Now().UTC(), shopID)
	if err != nil {
		return fmt.Errorf("update shop %s: %w", slot, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func decodeFormatSet(raw []byte) (*model.FormatSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var set model.FormatSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("decode format set: %w", err)
	}
	return &set, nil
}

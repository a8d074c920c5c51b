package repository

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopforge/shopforge/internal/derivative"
	"github.com/shopforge/shopforge/internal/locator"
	"github.com/shopforge/shopforge/internal/model"
)

// Narrow write surfaces of the two repositories, so reconciliation can be
// exercised without a live database.
type shopSlotWriter interface {
	ApplyImageSlot(ctx context.Context, shopID, slot string, set derivative.Set) error
}

type productImageWriter interface {
	ApplyImage(ctx context.Context, shopID, productID string, entry model.ImageEntry) error
}

// Reconciler merges a published derivative set into the record that owns
// the original upload.
type Reconciler struct {
	shops    shopSlotWriter
	products productImageWriter
	log      *slog.Logger
}

// NewReconciler constructs a Reconciler.
func NewReconciler(shops shopSlotWriter, products productImageWriter, log *slog.Logger) *Reconciler {
	return &Reconciler{shops: shops, products: products, log: log}
}

// Apply writes the derivative set into the owning document. A missing
// owner (deleted while the pipeline ran) is logged and swallowed; the
// run still counts as successful.
func (r *Reconciler) Apply(ctx context.Context, originalKey string, target locator.Target, set derivative.Set) error {
	var err error
	switch target.Kind {
	case locator.KindProduct:
		entry := ProductImageEntry(originalKey, set)
		err = r.products.ApplyImage(ctx, target.ShopID, target.ProductID, entry)
	case locator.KindShopLogo, locator.KindShopCover:
		err = r.shops.ApplyImageSlot(ctx, target.ShopID, target.Slot, set)
	default:
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		r.log.Warn("owning record absent, skipping reconcile",
			"kind", string(target.Kind), "shop_id", target.ShopID, "object_key", originalKey)
		return nil
	}
	return err
}

// ProductImageEntry builds the image entry for a product from one run's
// derivative set. The large JPEG serves as the canonical url with the
// medium JPEG as fallback; thumb and medium prefer WebP.
func ProductImageEntry(originalKey string, set derivative.Set) model.ImageEntry {
	return model.ImageEntry{
		SourceKey: originalKey,
		URL: firstURL(set,
			derivative.SetKey(derivative.SizeLarge, derivative.FormatJPEG),
			derivative.SetKey(derivative.SizeMedium, derivative.FormatJPEG)),
		ThumbURL: firstURL(set,
			derivative.SetKey(derivative.SizeThumb, derivative.FormatWebP),
			derivative.SetKey(derivative.SizeThumb, derivative.FormatJPEG)),
		MediumURL: firstURL(set,
			derivative.SetKey(derivative.SizeMedium, derivative.FormatWebP),
			derivative.SetKey(derivative.SizeMedium, derivative.FormatJPEG)),
		WebP: formatVariants(set, derivative.FormatWebP),
		AVIF: formatVariants(set, derivative.FormatAVIF),
	}
}

// MergeImageEntry merges entry into images. The match is an exact
// comparison on SourceKey; entries written before SourceKey existed fall
// back to a best-effort URL match on the original's base name. A matched
// entry keeps its position and order, a new one is appended with
// order = len(images).
func MergeImageEntry(images []model.ImageEntry, entry model.ImageEntry) []model.ImageEntry {
	idx := -1
	for i, existing := range images {
		if existing.SourceKey != "" && existing.SourceKey == entry.SourceKey {
			idx = i
			break
		}
	}
	if idx < 0 {
		base := locator.BaseName(entry.SourceKey)
		for i, existing := range images {
			if existing.SourceKey == "" && base != "" && strings.Contains(existing.URL, "/"+base+"_") {
				idx = i
				break
			}
		}
	}
	if idx >= 0 {
		entry.Order = images[idx].Order
		images[idx] = entry
		return images
	}
	entry.Order = len(images)
	return append(images, entry)
}

// ShopSlotUpdate describes how one run's derivative set lands in a shop
// row: which size the slot serves, the primary URL, the three-format
// sub-object and the columns that hold them.
type ShopSlotUpdate struct {
	SizeLabel       string
	Primary         string
	Formats         model.FormatSet
	URLColumn       string
	ProcessedColumn string
}

// SlotUpdate resolves a shop slot into its row update. The logo slot
// serves the medium size, the cover slot the large size; the primary URL
// prefers WebP and falls back to JPEG.
func SlotUpdate(slot string, set derivative.Set) ShopSlotUpdate {
	size := derivative.SizeMedium
	urlColumn, processedColumn := "logo", "logo_processed"
	if slot == "cover" {
		size = derivative.SizeLarge
		urlColumn, processedColumn = "cover_image", "cover_processed"
	}
	return ShopSlotUpdate{
		SizeLabel: size,
		Primary: firstURL(set,
			derivative.SetKey(size, derivative.FormatWebP),
			derivative.SetKey(size, derivative.FormatJPEG)),
		Formats:         slotFormatSet(set, size),
		URLColumn:       urlColumn,
		ProcessedColumn: processedColumn,
	}
}

func slotFormatSet(set derivative.Set, sizeLabel string) model.FormatSet {
	return model.FormatSet{
		JPEG: set.URL(sizeLabel, derivative.FormatJPEG),
		WebP: set.URL(sizeLabel, derivative.FormatWebP),
		AVIF: set.URL(sizeLabel, derivative.FormatAVIF),
	}
}

func formatVariants(set derivative.Set, format string) *model.ImageVariants {
	v := model.ImageVariants{
		Thumb:  set.URL(derivative.SizeThumb, format),
		Medium: set.URL(derivative.SizeMedium, format),
		Large:  set.URL(derivative.SizeLarge, format),
	}
	if v.Thumb == "" && v.Medium == "" && v.Large == "" {
		return nil
	}
	return &v
}

func firstURL(set derivative.Set, keys ...string) string {
	for _, key := range keys {
		if loc, ok := set[key]; ok && loc.URL != "" {
			return loc.URL
		}
	}
	return ""
}

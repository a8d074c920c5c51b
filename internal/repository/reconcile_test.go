package repository

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopforge/shopforge/internal/derivative"
	"github.com/shopforge/shopforge/internal/locator"
	"github.com/shopforge/shopforge/internal/model"
)

func fullSet(base string) derivative.Set {
	set := derivative.Set{}
	for _, spec := range derivative.Matrix() {
		key := derivative.SetKey(spec.SizeLabel, spec.Format)
		set[key] = derivative.Locator{
			SizeLabel: spec.SizeLabel,
			Format:    spec.Format,
			URL:       "http://cdn/processed/" + base + "_" + spec.SizeLabel + "." + spec.Format,
		}
	}
	return set
}

func TestProductImageEntry(t *testing.T) {
	set := fullSet("products/shop1/prod42/photo")
	entry := ProductImageEntry("products/shop1/prod42/photo.jpg", set)

	assert.Equal(t, "products/shop1/prod42/photo.jpg", entry.SourceKey)
	assert.Equal(t, "http://cdn/processed/products/shop1/prod42/photo_large.jpeg", entry.URL)
	assert.Equal(t, "http://cdn/processed/products/shop1/prod42/photo_thumb.webp", entry.ThumbURL)
	assert.Equal(t, "http://cdn/processed/products/shop1/prod42/photo_medium.webp", entry.MediumURL)
	assert.Equal(t, "http://cdn/processed/products/shop1/prod42/photo_large.avif", entry.AVIF.Large)
	assert.Equal(t, "http://cdn/processed/products/shop1/prod42/photo_thumb.webp", entry.WebP.Thumb)
}

func TestProductImageEntryFallbacks(t *testing.T) {
	set := derivative.Set{
		derivative.SetKey(derivative.SizeMedium, derivative.FormatJPEG): derivative.Locator{URL: "http://cdn/m.jpeg"},
		derivative.SetKey(derivative.SizeThumb, derivative.FormatJPEG):  derivative.Locator{URL: "http://cdn/t.jpeg"},
	}
	entry := ProductImageEntry("products/shop1/prod42/photo.jpg", set)
	assert.Equal(t, "http://cdn/m.jpeg", entry.URL, "falls back to medium jpeg without a large")
	assert.Equal(t, "http://cdn/t.jpeg", entry.ThumbURL, "falls back to thumb jpeg without webp")
	assert.Nil(t, entry.WebP, "no webp cells, no webp sub-object")
	assert.Nil(t, entry.AVIF)
}

func TestImageEntryOmitsAbsentVariants(t *testing.T) {
	set := derivative.Set{
		derivative.SetKey(derivative.SizeMedium, derivative.FormatJPEG): derivative.Locator{URL: "http://cdn/m.jpeg"},
	}
	entry := ProductImageEntry("products/shop1/prod42/photo.jpg", set)

	data, err := json.Marshal(entry)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"webp"`, "absent cells stay unset in the stored document")
	assert.NotContains(t, string(data), `"avif"`)
}

func TestMergeImageEntryAppends(t *testing.T) {
	first := ProductImageEntry("products/s/p/a.jpg", fullSet("products/s/p/a"))
	second := ProductImageEntry("products/s/p/b.jpg", fullSet("products/s/p/b"))

	images := MergeImageEntry(nil, first)
	images = MergeImageEntry(images, second)

	require.Len(t, images, 2)
	assert.Equal(t, 0, images[0].Order)
	assert.Equal(t, 1, images[1].Order)
	assert.Equal(t, "products/s/p/b.jpg", images[1].SourceKey)
}

func TestMergeImageEntryIdempotent(t *testing.T) {
	entry := ProductImageEntry("products/s/p/a.jpg", fullSet("products/s/p/a"))

	images := MergeImageEntry(nil, entry)
	images = MergeImageEntry(images, entry)
	images = MergeImageEntry(images, entry)

	require.Len(t, images, 1, "re-processing the same upload must not grow the list")
	assert.Equal(t, 0, images[0].Order)
}

func TestMergeImageEntryPreservesOrder(t *testing.T) {
	images := []model.ImageEntry{
		{SourceKey: "products/s/p/a.jpg", URL: "old-a", Order: 0},
		{SourceKey: "products/s/p/b.jpg", URL: "old-b", Order: 1},
	}
	replacement := ProductImageEntry("products/s/p/a.jpg", fullSet("products/s/p/a"))
	merged := MergeImageEntry(images, replacement)

	require.Len(t, merged, 2)
	assert.Equal(t, 0, merged[0].Order, "replaced entry keeps its slot")
	assert.NotEqual(t, "old-a", merged[0].URL)
	assert.Equal(t, "old-b", merged[1].URL, "sibling untouched")
}

func TestMergeImageEntryLegacyURLMatch(t *testing.T) {
	// Entry written before sourceKey existed: only the URL identifies it.
	images := []model.ImageEntry{
		{URL: "http://cdn/processed/products/s/p/photo_large.jpeg", Order: 3},
	}
	replacement := ProductImageEntry("products/s/p/photo.jpg", fullSet("products/s/p/photo"))
	merged := MergeImageEntry(images, replacement)

	require.Len(t, merged, 1)
	assert.Equal(t, 3, merged[0].Order)
	assert.Equal(t, "products/s/p/photo.jpg", merged[0].SourceKey, "entry upgraded with its source key")
}

func TestMergeImageEntryNoFalseLegacyMatch(t *testing.T) {
	// Similar base names must not be confused: photo vs photo2.
	images := []model.ImageEntry{
		{URL: "http://cdn/processed/products/s/p/photo2_large.jpeg", Order: 0},
	}
	replacement := ProductImageEntry("products/s/p/photo.jpg", fullSet("products/s/p/photo"))
	merged := MergeImageEntry(images, replacement)

	require.Len(t, merged, 2, "photo must not overwrite photo2")
}

func TestSlotUpdateLogo(t *testing.T) {
	set := fullSet("shops/shop1/logo/logo")
	update := SlotUpdate("logo", set)

	assert.Equal(t, derivative.SizeMedium, update.SizeLabel, "logo serves the medium size")
	assert.Equal(t, "http://cdn/processed/shops/shop1/logo/logo_medium.webp", update.Primary)
	assert.Equal(t, "logo", update.URLColumn)
	assert.Equal(t, "logo_processed", update.ProcessedColumn)
	assert.Equal(t, "http://cdn/processed/shops/shop1/logo/logo_medium.jpeg", update.Formats.JPEG)
	assert.Equal(t, "http://cdn/processed/shops/shop1/logo/logo_medium.webp", update.Formats.WebP)
	assert.Equal(t, "http://cdn/processed/shops/shop1/logo/logo_medium.avif", update.Formats.AVIF)
}

func TestSlotUpdateCover(t *testing.T) {
	set := fullSet("shops/shop1/cover/banner")
	update := SlotUpdate("cover", set)

	assert.Equal(t, derivative.SizeLarge, update.SizeLabel, "cover serves the large size")
	assert.Equal(t, "http://cdn/processed/shops/shop1/cover/banner_large.webp", update.Primary)
	assert.Equal(t, "cover_image", update.URLColumn)
	assert.Equal(t, "cover_processed", update.ProcessedColumn)
	assert.Equal(t, "http://cdn/processed/shops/shop1/cover/banner_large.jpeg", update.Formats.JPEG)
}

func TestSlotUpdatePrimaryFallsBackToJPEG(t *testing.T) {
	set := derivative.Set{
		derivative.SetKey(derivative.SizeMedium, derivative.FormatJPEG): derivative.Locator{URL: "http://cdn/logo_medium.jpeg"},
	}
	update := SlotUpdate("logo", set)
	assert.Equal(t, "http://cdn/logo_medium.jpeg", update.Primary, "no webp, primary falls back to jpeg")
}

type fakeShopWriter struct {
	err   error
	calls int
	slot  string
}

func (f *fakeShopWriter) ApplyImageSlot(ctx context.Context, shopID, slot string, set derivative.Set) error {
	f.calls++
	f.slot = slot
	return f.err
}

type fakeProductWriter struct {
	err   error
	calls int
	entry model.ImageEntry
}

func (f *fakeProductWriter) ApplyImage(ctx context.Context, shopID, productID string, entry model.ImageEntry) error {
	f.calls++
	f.entry = entry
	return f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestReconcilerAppliesProduct(t *testing.T) {
	shops := &fakeShopWriter{}
	products := &fakeProductWriter{}
	rec := NewReconciler(shops, products, testLogger())

	const original = "products/shop1/prod42/photo.jpg"
	target := locator.Target{Kind: locator.KindProduct, ShopID: "shop1", ProductID: "prod42", FileName: "photo.jpg"}
	err := rec.Apply(context.Background(), original, target, fullSet("products/shop1/prod42/photo"))
	require.NoError(t, err)
	assert.Equal(t, 1, products.calls)
	assert.Equal(t, 0, shops.calls)
	assert.Equal(t, original, products.entry.SourceKey)
}

func TestReconcilerAppliesShopSlot(t *testing.T) {
	shops := &fakeShopWriter{}
	products := &fakeProductWriter{}
	rec := NewReconciler(shops, products, testLogger())

	target := locator.Target{Kind: locator.KindShopCover, ShopID: "shop1", Slot: "cover", FileName: "banner.jpg"}
	err := rec.Apply(context.Background(), "shops/shop1/cover/banner.jpg", target, fullSet("shops/shop1/cover/banner"))
	require.NoError(t, err)
	assert.Equal(t, 1, shops.calls)
	assert.Equal(t, "cover", shops.slot)
	assert.Equal(t, 0, products.calls)
}

func TestReconcilerAbsentOwnerIsBenign(t *testing.T) {
	shops := &fakeShopWriter{err: ErrNotFound}
	products := &fakeProductWriter{err: ErrNotFound}
	rec := NewReconciler(shops, products, testLogger())

	productTarget := locator.Target{Kind: locator.KindProduct, ShopID: "shop1", ProductID: "gone", FileName: "photo.jpg"}
	err := rec.Apply(context.Background(), "products/shop1/gone/photo.jpg", productTarget, fullSet("products/shop1/gone/photo"))
	assert.NoError(t, err, "deleted product must not fail the run")

	shopTarget := locator.Target{Kind: locator.KindShopLogo, ShopID: "gone", Slot: "logo", FileName: "logo.png"}
	err = rec.Apply(context.Background(), "shops/gone/logo/logo.png", shopTarget, fullSet("shops/gone/logo/logo"))
	assert.NoError(t, err, "deleted shop must not fail the run")
}

func TestReconcilerPropagatesWriteFailures(t *testing.T) {
	cause := errors.New("document store down")
	shops := &fakeShopWriter{err: cause}
	rec := NewReconciler(shops, &fakeProductWriter{}, testLogger())

	target := locator.Target{Kind: locator.KindShopLogo, ShopID: "shop1", Slot: "logo", FileName: "logo.png"}
	err := rec.Apply(context.Background(), "shops/shop1/logo/logo.png", target, fullSet("shops/shop1/logo/logo"))
	assert.ErrorIs(t, err, cause)
}

func TestReconcilerIgnoresUnrecognized(t *testing.T) {
	shops := &fakeShopWriter{}
	products := &fakeProductWriter{}
	rec := NewReconciler(shops, products, testLogger())

	err := rec.Apply(context.Background(), "avatars/u1/pic.jpg", locator.Target{Kind: locator.KindUnrecognized}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, shops.calls)
	assert.Equal(t, 0, products.calls)
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"Blue Pottery & Co.": "blue-pottery-co",
		"  spaced   out  ":   "spaced-out",
		"ALL_CAPS_123":       "all-caps-123",
		"---":                "",
		"already-sluggish":   "already-sluggish",
	}
	for in, want := range cases {
		assert.Equal(t, want, Slugify(in), "Slugify(%q)", in)
	}
}

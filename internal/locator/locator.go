// Package locator maps blob-store object keys onto the records that own
// them. Classification is pure string work so the pipeline can reject
// irrelevant events before touching storage.
package locator

import (
	"path"
	"strings"
)

// Kind identifies which record an uploaded object belongs to.
type Kind string

const (
	KindUnrecognized Kind = "unrecognized"
	KindProduct      Kind = "product"
	KindShopLogo     Kind = "shop_logo"
	KindShopCover    Kind = "shop_cover"
)

// Reserved path segments. Objects under these never feed the pipeline:
// processed/ holds the pipeline's own output and temp/ holds scratch
// uploads, so classifying them would re-trigger processing forever.
const (
	ProcessedSegment = "processed"
	TempSegment      = "temp"
)

// Target describes the owning record and slot for an object key.
type Target struct {
	Kind      Kind
	ShopID    string
	ProductID string
	Slot      string
	FileName  string
}

// Classify resolves an object key and its content type into a Target.
// It never fails; anything that should not enter the pipeline comes back
// as KindUnrecognized.
func Classify(objectKey, contentType string) Target {
	none := Target{Kind: KindUnrecognized}
	if Reserved(objectKey) {
		return none
	}
	if !strings.HasPrefix(contentType, "image/") {
		return none
	}
	parts := strings.Split(strings.Trim(objectKey, "/"), "/")
	switch {
	case len(parts) == 4 && parts[0] == "products":
		return Target{
			Kind:      KindProduct,
			ShopID:    parts[1],
			ProductID: parts[2],
			FileName:  parts[3],
		}
	case len(parts) == 4 && parts[0] == "shops" && (parts[2] == "logo" || parts[2] == "cover"):
		kind := KindShopLogo
		if parts[2] == "cover" {
			kind = KindShopCover
		}
		return Target{
			Kind:     kind,
			ShopID:   parts[1],
			Slot:     parts[2],
			FileName: parts[3],
		}
	}
	return none
}

// Reserved reports whether the key sits under a processed/ or temp/
// segment. Deletion events carry no content type, so the mirror-deletion
// path uses this check alone.
func Reserved(objectKey string) bool {
	for _, part := range strings.Split(strings.Trim(objectKey, "/"), "/") {
		if part == ProcessedSegment || part == TempSegment {
			return true
		}
	}
	return false
}

// SourceDir returns the directory portion of an object key, "" for a bare
// file name.
func SourceDir(objectKey string) string {
	dir := path.Dir(objectKey)
	if dir == "." {
		return ""
	}
	return dir
}

// BaseName returns the file name of an object key without its extension.
func BaseName(objectKey string) string {
	base := path.Base(objectKey)
	return strings.TrimSuffix(base, path.Ext(base))
}

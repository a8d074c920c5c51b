// Package model contains the record types shared between the API, the
// repositories and the image pipeline.
package model

import (
	"time"
)

// ImageVariants holds the URLs of one encoding family across the three
// derivative sizes. Absent sizes stay empty and are dropped from JSON.
type ImageVariants struct {
	Thumb  string `json:"thumb,omitempty"`
	Medium string `json:"medium,omitempty"`
	Large  string `json:"large,omitempty"`
}

// FormatSet holds one size rendered in every encoding format. Shops store
// one of these per slot (logo, cover).
type FormatSet struct {
	JPEG string `json:"jpeg,omitempty"`
	WebP string `json:"webp,omitempty"`
	AVIF string `json:"avif,omitempty"`
}

// ImageEntry is one element of a product's images list. SourceKey is the
// object key of the original upload and is the identity used when the
// pipeline reconciles a re-processed image back into the list; Order is
// user-controlled and survives re-processing.
type ImageEntry struct {
	SourceKey string         `json:"sourceKey,omitempty"`
	URL       string         `json:"url"`
	ThumbURL  string         `json:"thumbUrl,omitempty"`
	MediumURL string         `json:"mediumUrl,omitempty"`
	WebP      *ImageVariants `json:"webp,omitempty"`
	AVIF      *ImageVariants `json:"avif,omitempty"`
	Order     int            `json:"order"`
}

// Shop represents a row in the shops table.
type Shop struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Slug           string     `json:"slug"`
	Logo           string     `json:"logo,omitempty"`
	CoverImage     string     `json:"coverImage,omitempty"`
	LogoProcessed  *FormatSet `json:"logoProcessed,omitempty"`
	CoverProcessed *FormatSet `json:"coverProcessed,omitempty"`
	ProductCount   int        `json:"productCount"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Product represents a row in the products table. Images round-trips
// through a JSONB column so the whole list is written in one statement.
type Product struct {
	ID        string       `json:"id"`
	ShopID    string       `json:"shopId"`
	Name      string       `json:"name"`
	Slug      string       `json:"slug"`
	Images    []ImageEntry `json:"images"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

package locator

import "testing"

func TestClassify(t *testing.T) {
	cases := []struct {
		name        string
		key         string
		contentType string
		want        Target
	}{
		{
			name:        "product image",
			key:         "products/shop1/prod42/photo.jpg",
			contentType: "image/jpeg",
			want: Target{
				Kind:      KindProduct,
				ShopID:    "shop1",
				ProductID: "prod42",
				FileName:  "photo.jpg",
			},
		},
		{
			name:        "shop logo",
			key:         "shops/shop1/logo/logo.png",
			contentType: "image/png",
			want: Target{
				Kind:     KindShopLogo,
				ShopID:   "shop1",
				Slot:     "logo",
				FileName: "logo.png",
			},
		},
		{
			name:        "shop cover",
			key:         "shops/shop1/cover/banner.webp",
			contentType: "image/webp",
			want: Target{
				Kind:     KindShopCover,
				ShopID:   "shop1",
				Slot:     "cover",
				FileName: "banner.webp",
			},
		},
		{
			name:        "already processed output",
			key:         "processed/products/shop1/prod42/photo_thumb.jpeg",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "processed segment in the middle",
			key:         "products/processed/prod42/photo.jpg",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "temp scratch upload",
			key:         "temp/upload-1234.jpg",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "not an image",
			key:         "products/shop1/prod42/manual.pdf",
			contentType: "application/pdf",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "unknown top level directory",
			key:         "avatars/user1/pic.jpg",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "shop slot outside logo and cover",
			key:         "shops/shop1/banner/pic.jpg",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "product key with missing segments",
			key:         "products/shop1/photo.jpg",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
		{
			name:        "empty key",
			key:         "",
			contentType: "image/jpeg",
			want:        Target{Kind: KindUnrecognized},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(tc.key, tc.contentType)
			if got != tc.want {
				t.Fatalf("Classify(%q, %q) = %+v, want %+v", tc.key, tc.contentType, got, tc.want)
			}
		})
	}
}

func TestReserved(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"processed/products/shop1/prod42/photo_thumb.jpeg", true},
		{"temp/scratch.jpg", true},
		{"products/shop1/temp/photo.jpg", true},
		{"products/shop1/prod42/photo.jpg", false},
		{"products/shop1/prod42/temporary.jpg", false},
		{"shops/shop1/logo/logo.png", false},
	}
	for _, tc := range cases {
		if got := Reserved(tc.key); got != tc.want {
			t.Fatalf("Reserved(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}

func TestKeyHelpers(t *testing.T) {
	if got := SourceDir("products/shop1/prod42/photo.jpg"); got != "products/shop1/prod42" {
		t.Fatalf("SourceDir = %q", got)
	}
	if got := SourceDir("photo.jpg"); got != "" {
		t.Fatalf("SourceDir for bare name = %q", got)
	}
	if got := BaseName("products/shop1/prod42/photo.final.jpg"); got != "photo.final" {
		t.Fatalf("BaseName = %q", got)
	}
	if got := BaseName("products/shop1/prod42/photo"); got != "photo" {
		t.Fatalf("BaseName without extension = %q", got)
	}
}

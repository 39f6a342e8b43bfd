package model

import "time"

// AssetKind groups uploaded objects by what they are used for.
type AssetKind string

const (
	AssetVideo        AssetKind = "video"
	AssetCover        AssetKind = "cover"
	AssetProfilePhoto AssetKind = "profile"
)

// Asset is an uploaded object: Ref is what gets stored on documents.
//
// Every upload is also recorded in the document store with its uploader.
// Bound flips once a post or profile references the object, and an asset
// can be bound only once, by its uploader, for its own kind.
type Asset struct {
	Kind        AssetKind `json:"kind"`
	Key         string    `json:"key"`
	Ref         string    `json:"url"`
	ContentType string    `json:"contentType"`
	Size        int64     `json:"size"`
	OwnerID     string    `json:"ownerId"`
	Bound       bool      `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}

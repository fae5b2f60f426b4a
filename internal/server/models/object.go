package models

import "time"

// StoredObject describes a file kept in object storage.
type StoredObject struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	ContentType  string    `json:"content_type,omitempty"`
	LastModified time.Time `json:"last_modified"`
	// URL is a presigned GET for public objects; empty for private ones.
	URL string `json:"url,omitempty"`
}

package models

import "time"

// Entry is a single item from an RSS or Atom feed, normalized by the
// feed package. Read-only once produced.
type Entry struct {
	ID        string    `json:"id,omitempty"`
	GUID      string    `json:"guid,omitempty"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary,omitempty"`
	Link      string    `json:"link"`
	Published time.Time `json:"published,omitempty"`

	// Media lists attachment candidates in feed order, media:content
	// fields before enclosures.
	Media []MediaRef `json:"media,omitempty"`
}

// MediaRef points at an external image/video attachment.
type MediaRef struct {
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
}

package domain

import "time"

// Track is an immutable piece of metadata fetched from a music provider.
type Track struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Artist          string  `json:"artist"`
	DurationSeconds float64 `json:"durationSeconds"`
	Provider        string  `json:"provider"`
	ThumbnailURL    string  `json:"thumbnailUrl,omitempty"`
	ExternalURL     string  `json:"externalUrl,omitempty"`
}

// Valid reports whether the track carries the fields required to be queued.
// A zero duration is allowed, a negative one is not.
func (t Track) Valid() bool {
	return t.ID != "" && t.Title != "" && t.Artist != "" && t.DurationSeconds >= 0
}

// QueueItem is a track placed in a room queue.
type QueueItem struct {
	ID       string    `json:"id"`
	Track    Track     `json:"track"`
	AddedBy  string    `json:"addedBy"`
	AddedAt  time.Time `json:"addedAt"`
	Position int       `json:"position"`
}

// StreamInfo is the playable location of a track as resolved by a provider.
type StreamInfo struct {
	URL       string    `json:"url"`
	Format    string    `json:"format,omitempty"`
	ExpiresAt time.Time `json:"expiresAt,omitempty"`
}

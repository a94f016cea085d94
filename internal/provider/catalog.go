package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"strings"

	"listenparty/internal/domain"
)

// CatalogName is the provider tag of the local catalog.
const CatalogName = "local"

// Catalog serves tracks from a fixed in-memory list, typically loaded
// from a JSON file. A track's ExternalURL doubles as its stream URL.
type Catalog struct {
	name   string
	tracks []domain.Track
	byID   map[string]domain.Track
}

// NewCatalog returns a catalog provider tagged name holding tracks.
func NewCatalog(name string, tracks []domain.Track) *Catalog {
	if name == "" {
		name = CatalogName
	}
	c := &Catalog{name: name, byID: make(map[string]domain.Track, len(tracks))}
	for _, t := range tracks {
		t.Provider = name
		c.tracks = append(c.tracks, t)
		c.byID[t.ID] = t
	}
	return c
}

// LoadCatalog reads a JSON array of tracks from file.
func LoadCatalog(file string) (*Catalog, error) {
	raw, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", file, err)
	}
	var tracks []domain.Track
	if err := json.Unmarshal(raw, &tracks); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", file, err)
	}
	return NewCatalog(CatalogName, tracks), nil
}

func (c *Catalog) Name() string { return c.name }

func (c *Catalog) IsAvailable(context.Context) bool { return len(c.tracks) > 0 }

// Search matches query case-insensitively against title and artist.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]domain.Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	q := strings.ToLower(strings.TrimSpace(query))
	out := make([]domain.Track, 0)
	for _, t := range c.tracks {
		if limit > 0 && len(out) >= limit {
			break
		}
		if q == "" || strings.Contains(strings.ToLower(t.Title), q) || strings.Contains(strings.ToLower(t.Artist), q) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (c *Catalog) GetTrack(_ context.Context, id string) (domain.Track, error) {
	t, ok := c.byID[id]
	if !ok {
		return domain.Track{}, fmt.Errorf("%w: %s/%s", domain.ErrTrackNotFound, c.name, id)
	}
	return t, nil
}

func (c *Catalog) GetStreamURL(ctx context.Context, id string) (domain.StreamInfo, error) {
	t, err := c.GetTrack(ctx, id)
	if err != nil {
		return domain.StreamInfo{}, err
	}
	if t.ExternalURL == "" {
		return domain.StreamInfo{}, fmt.Errorf("%w: track %s has no stream", domain.ErrProvider, id)
	}
	format := strings.TrimPrefix(path.Ext(t.ExternalURL), ".")
	if format == "" {
		format = "mp3"
	}
	return domain.StreamInfo{URL: t.ExternalURL, Format: format}, nil
}

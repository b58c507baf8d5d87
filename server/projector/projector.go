// Package projector derives display rows from the conversation store.
package projector

import (
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"

	"github.com/hrygo/convsync/plugin/markdown"
	"github.com/hrygo/convsync/store"
)

const (
	// DefaultPreviewLength is the preview display length in runes.
	DefaultPreviewLength = 80
	// DefaultCacheSize is the number of stripped previews kept in memory.
	DefaultCacheSize = 512
)

// Row is one display-ready conversation.
type Row struct {
	ID            string     `json:"id" yaml:"id"`
	Name          string     `json:"name" yaml:"name"`
	Kind          store.Kind `json:"kind" yaml:"kind"`
	Preview       string     `json:"preview,omitempty" yaml:"preview,omitempty"`
	LastMessageAt time.Time  `json:"last_message_at,omitzero" yaml:"last_message_at,omitempty"`
	ModelLabel    string     `json:"model_label,omitempty" yaml:"model_label,omitempty"`
	IsPending     bool       `json:"is_pending" yaml:"is_pending"`
	IsProcessing  bool       `json:"is_processing" yaml:"is_processing"`
	IsActive      bool       `json:"is_active" yaml:"is_active"`
}

// Config configures a Projector.
type Config struct {
	PreviewLength int
	CacheSize     int
}

// Projector turns store records into rows. It has no side effects on the
// records it reads; the only state it holds is the preview cache.
type Projector struct {
	previewLength int
	previews      *lru.Cache[string, string]
}

// New creates a Projector. Zero config values take the defaults.
func New(cfg Config) (*Projector, error) {
	if cfg.PreviewLength <= 0 {
		cfg.PreviewLength = DefaultPreviewLength
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, string](cfg.CacheSize)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create preview cache")
	}
	return &Projector{
		previewLength: cfg.PreviewLength,
		previews:      cache,
	}, nil
}

// Project filters records by query and returns rows in the given order.
// The query matches name or preview, case-insensitively; a blank query
// matches everything. processingIDs and activeID are UI-local and only
// merged here.
func (p *Projector) Project(records []store.ConversationRecord, query string, processingIDs map[string]bool, activeID string) []Row {
	needle := strings.ToLower(strings.TrimSpace(query))
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		if needle != "" && !matches(rec, needle) {
			continue
		}
		rows = append(rows, Row{
			ID:            rec.ID,
			Name:          rec.Name,
			Kind:          rec.Kind,
			Preview:       p.Preview(rec.LastMessagePreview),
			LastMessageAt: rec.LastMessageAt,
			ModelLabel:    rec.ModelLabel,
			IsPending:     rec.IsPending,
			IsProcessing:  processingIDs[rec.ID],
			IsActive:      activeID != "" && rec.ID == activeID,
		})
	}
	return rows
}

// Preview returns the stripped and truncated form of raw.
func (p *Projector) Preview(raw string) string {
	if raw == "" {
		return ""
	}
	if cached, ok := p.previews.Get(raw); ok {
		return cached
	}
	out := markdown.Preview(raw, p.previewLength)
	p.previews.Add(raw, out)
	return out
}

func matches(rec store.ConversationRecord, needle string) bool {
	return strings.Contains(strings.ToLower(rec.Name), needle) ||
		strings.Contains(strings.ToLower(rec.LastMessagePreview), needle)
}

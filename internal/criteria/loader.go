package criteria

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/MikeSquared-Agency/intake/internal/geo"
)

const (
	maxFileSize = 1024 * 1024 // 1MB
	envPrefix   = "CRITERIA_"
)

// File is the agency configuration document.
type File struct {
	Criteria  Criteria  `koanf:"criteria"`
	Geography Geography `koanf:"geography"`
}

// Geography places the agency office and known referral sources.
type Geography struct {
	Office       geo.Point            `koanf:"office" json:"office"`
	ZipCentroids map[string]geo.Point `koanf:"zip_centroids" json:"zipCentroids,omitempty"`
	Sources      []SourceRating       `koanf:"sources" json:"sources,omitempty"`
}

// SourceRating is the known quality rating of a referring facility, keyed by
// the sender's email domain.
type SourceRating struct {
	Domain string `koanf:"domain" json:"domain"`
	Rating int    `koanf:"rating" json:"rating"`
}

// SourceRatings returns the ratings as a domain lookup map.
func (g Geography) SourceRatings() map[string]int {
	out := make(map[string]int, len(g.Sources))
	for _, s := range g.Sources {
		out[strings.ToLower(s.Domain)] = s.Rating
	}
	return out
}

// Load reads the YAML file at path, overlays CRITERIA_* environment variables
// and validates the result. An empty path yields the built-in defaults.
//
// Environment keys map onto criteria fields with double underscores for nesting:
//
//	CRITERIA_MAX_TRAVEL_DISTANCE -> criteria.max_travel_distance
//	CRITERIA_THRESHOLDS__ACCEPT  -> criteria.thresholds.accept
func Load(path string) (File, error) {
	var content []byte
	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return File{}, fmt.Errorf("stat criteria file: %w", err)
		}
		if info.Size() > maxFileSize {
			return File{}, fmt.Errorf("criteria file too large: %d bytes (max %d)", info.Size(), maxFileSize)
		}
		content, err = os.ReadFile(path)
		if err != nil {
			return File{}, fmt.Errorf("read criteria file: %w", err)
		}
	}
	return LoadBytes(content)
}

// LoadBytes is Load for an in-memory YAML document.
func LoadBytes(content []byte) (File, error) {
	k := koanf.New(".")

	if len(content) > 0 {
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return File{}, fmt.Errorf("parse criteria yaml: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return "criteria." + strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return File{}, fmt.Errorf("load criteria env: %w", err)
	}

	var f File
	if err := k.Unmarshal("", &f); err != nil {
		return File{}, fmt.Errorf("unmarshal criteria: %w", err)
	}

	applyDefaults(&f.Criteria, func(key string) bool {
		return k.Exists("criteria." + key)
	})
	if err := f.Criteria.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Source serves the current criteria from a cached file and reloads it only
// when asked. It also answers geography lookups from the same file, so a
// reload swaps criteria, ZIP centroids and source ratings together.
type Source struct {
	path   string
	logger *slog.Logger

	mu       sync.RWMutex
	file     File
	table    *geo.Table
	ratings  map[string]int
	loadedAt time.Time
}

func NewSource(path string, logger *slog.Logger) (*Source, error) {
	f, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Source{path: path, logger: logger}
	s.swap(f)
	return s, nil
}

// swap installs f. Callers hold the write lock or own s exclusively.
func (s *Source) swap(f File) {
	s.file = f
	s.table = geo.NewTable(f.Geography.Office, f.Geography.ZipCentroids)
	s.ratings = f.Geography.SourceRatings()
	s.loadedAt = time.Now().UTC()
}

// Current returns a copy of the active criteria.
func (s *Source) Current(_ context.Context) (Criteria, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Criteria.Clone(), nil
}

// Geography returns the loaded office and ZIP table.
func (s *Source) Geography() Geography {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.file.Geography
}

// Reload re-reads the file. On error the previous criteria stay active.
func (s *Source) Reload() error {
	f, err := Load(s.path)
	if err != nil {
		s.logger.Error("criteria reload failed, keeping previous", "path", s.path, "error", err)
		return err
	}

	s.mu.Lock()
	s.swap(f)
	s.mu.Unlock()

	s.logger.Info("criteria reloaded", "path", s.path, "payers", len(f.Criteria.Payers))
	return nil
}

// Distance places an address using the ZIP centroids of the active file. ok is
// false when no centroids are configured or the ZIP is unknown.
func (s *Source) Distance(ctx context.Context, address, zipCode string) (float64, bool, error) {
	s.mu.RLock()
	table := s.table
	s.mu.RUnlock()
	if table.Len() == 0 {
		return 0, false, nil
	}
	return table.Distance(ctx, address, zipCode)
}

// Rating returns the configured rating for a sender domain.
func (s *Source) Rating(domain string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.ratings[strings.ToLower(domain)]
	return r, ok
}

func (s *Source) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

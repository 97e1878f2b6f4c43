// Package corpus reads and writes infraction corpus files kept in object storage.
package corpus

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"quizzy-backend/models"
	"quizzy-backend/storage"

	"gopkg.in/yaml.v3"
)

// ErrMissingInfractions is returned when a corpus file has no "infractions" list
var ErrMissingInfractions = errors.New(`corpus file has no "infractions" list`)

// Format is the serialization of a corpus file
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFor picks the format from a key's extension, defaulting to JSON
func FormatFor(key string) Format {
	switch strings.ToLower(path.Ext(key)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Parse decodes a corpus document of the form {"infractions": [...]}
func Parse(r io.Reader, format Format) ([]models.Infraction, error) {
	var raw struct {
		Infractions *[]models.Infraction `json:"infractions" yaml:"infractions"`
	}

	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode YAML corpus: %w", err)
		}
	default:
		if err := json.NewDecoder(r).Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode JSON corpus: %w", err)
		}
	}

	if raw.Infractions == nil {
		return nil, ErrMissingInfractions
	}
	return *raw.Infractions, nil
}

// Encode writes infractions in the given format
func Encode(w io.Writer, format Format, infractions []models.Infraction) error {
	if infractions == nil {
		infractions = []models.Infraction{}
	}
	doc := models.InfractionCorpus{Infractions: infractions}

	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode YAML corpus: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("failed to encode JSON corpus: %w", err)
		}
		return nil
	}
}

// StorageSource lists infractions from a corpus file in object storage
type StorageSource struct {
	store storage.Storage
	key   string
}

// NewStorageSource creates a source reading the object stored under key
func NewStorageSource(store storage.Storage, key string) *StorageSource {
	return &StorageSource{store: store, key: key}
}

// ListAll downloads and parses the corpus file on every call
func (s *StorageSource) ListAll(ctx context.Context) ([]models.Infraction, error) {
	rc, err := s.store.Download(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to load corpus %s: %w", s.key, err)
	}
	defer rc.Close()

	return Parse(rc, FormatFor(s.key))
}

// Export writes infractions to key, choosing the format from the key extension
func Export(ctx context.Context, store storage.Storage, key string, infractions []models.Infraction) (string, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, FormatFor(key), infractions); err != nil {
		return "", err
	}
	return store.Upload(ctx, key, &buf)
}

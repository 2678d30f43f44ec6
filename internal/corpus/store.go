package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"
)

// Format is a corpus encoding, chosen by file extension.
type Format string

const (
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
	FormatYAML  Format = "yaml"
)

// FormatOf returns the format for location, defaulting to JSON.
func FormatOf(location string) Format {
	switch strings.ToLower(path.Ext(url.Path(location))) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Store reads and writes corpora through afs, so any location afs understands
// works: local paths, file:// URLs, mem:// in tests, and object stores when
// their connectors are linked in.
type Store struct {
	fs afs.Service
}

func NewStore() *Store {
	return &Store{fs: afs.New()}
}

// normalize turns bare local paths into file URLs.
func normalize(location string) string {
	return url.Normalize(location, file.Scheme)
}

// Exists reports whether location holds an object.
func (s *Store) Exists(ctx context.Context, location string) (bool, error) {
	return s.fs.Exists(ctx, normalize(location))
}

// ReadPhrases loads all phrase records from location.
func (s *Store) ReadPhrases(ctx context.Context, location string) ([]Phrase, error) {
	URL := normalize(location)
	data, err := s.fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	phrases, err := decode[Phrase](data, FormatOf(location))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", location, err)
	}
	return phrases, nil
}

// ReadVectors loads a previously written vector corpus.
func (s *Store) ReadVectors(ctx context.Context, location string) ([]Vector, error) {
	data, err := s.fs.DownloadWithURL(ctx, normalize(location))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	vectors, err := decode[Vector](data, FormatOf(location))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", location, err)
	}
	return vectors, nil
}

// WriteVectors materializes vectors at location in one piece. The data goes to
// a temporary sibling first and is then moved into place, so a failed write
// leaves any previous file intact.
func (s *Store) WriteVectors(ctx context.Context, location string, vectors []Vector) error {
	data, err := encode(vectors, FormatOf(location))
	if err != nil {
		return fmt.Errorf("encoding vectors: %w", err)
	}
	final := normalize(location)
	tmp := final + ".tmp"

	if err := s.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	err = s.fs.Move(ctx, tmp, final)
	if err == nil {
		return nil
	}
	// Some storages cannot move; upload straight to the destination instead.
	slog.Debug("corpus move failed, uploading in place", "url", final, "error", err)
	if err := s.fs.Upload(ctx, final, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		_ = s.fs.Delete(ctx, tmp)
		return fmt.Errorf("writing %s: %w", location, err)
	}
	_ = s.fs.Delete(ctx, tmp)
	return nil
}

func decode[T any](data []byte, format Format) ([]T, error) {
	var out []T
	switch format {
	case FormatJSONL:
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
		line := 0
		for scanner.Scan() {
			line++
			b := bytes.TrimSpace(scanner.Bytes())
			if len(b) == 0 {
				continue
			}
			var rec T
			if err := json.Unmarshal(b, &rec); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			out = append(out, rec)
		}
		return out, scanner.Err()
	case FormatYAML:
		err := yaml.Unmarshal(data, &out)
		return out, err
	default:
		err := json.Unmarshal(data, &out)
		return out, err
	}
}

func encode[T any](records []T, format Format) ([]byte, error) {
	var buf bytes.Buffer
	switch format {
	case FormatJSONL:
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return nil, err
			}
		}
	case FormatYAML:
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(records); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
	default:
		if records == nil {
			records = []T{}
		}
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(records); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

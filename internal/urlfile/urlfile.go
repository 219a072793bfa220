// Package urlfile loads the URL playlist consumed by the visit loop.
//
// A playlist groups URLs by category:
//
//	{"urls": [{"category": "news", "urls": ["https://example.com/"]}]}
//
// Files ending in .yaml or .yml are parsed as the YAML equivalent; anything
// else is treated as JSON.
package urlfile

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	json "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"
)

// ErrNoURLs is returned when a playlist contains no usable URLs.
var ErrNoURLs = errors.New("url list is empty")

// Entry is a single playlist item.
type Entry struct {
	URL      string `json:"url" yaml:"url"`
	Category string `json:"category" yaml:"category"`
}

// Group is one category block of the playlist document.
type Group struct {
	Category string   `json:"category" yaml:"category"`
	URLs     []string `json:"urls" yaml:"urls"`
}

// File is the on-disk playlist document.
type File struct {
	Groups []Group `json:"urls" yaml:"urls"`
}

// Load reads and parses the playlist at path. The format is chosen by file
// extension. A missing file is an error: the loop refuses to start without an
// explicit playlist.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading url file %s: %w", path, err)
	}

	var entries []Entry
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		entries, err = ParseYAML(data)
	default:
		entries, err = ParseJSON(data)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing url file %s: %w", path, err)
	}
	return entries, nil
}

// ParseJSON parses a JSON playlist document and flattens it into entries.
func ParseJSON(data []byte) ([]Entry, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	return flatten(f)
}

// ParseYAML parses a YAML playlist document and flattens it into entries.
func ParseYAML(data []byte) ([]Entry, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}
	return flatten(f)
}

// flatten turns the grouped document into an ordered entry list, validating
// every URL on the way. Document order is preserved.
func flatten(f File) ([]Entry, error) {
	var entries []Entry
	for _, g := range f.Groups {
		category := strings.TrimSpace(g.Category)
		if category == "" {
			category = "general"
		}
		for _, raw := range g.URLs {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			if err := validate(raw); err != nil {
				return nil, fmt.Errorf("url %q in category %q: %w", raw, category, err)
			}
			entries = append(entries, Entry{URL: raw, Category: category})
		}
	}
	if len(entries) == 0 {
		return nil, ErrNoURLs
	}
	return entries, nil
}

// validate rejects anything that is not an absolute http(s) URL.
func validate(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// Filter returns the entries matching the given category, case-insensitively.
// An empty category returns all entries.
func Filter(entries []Entry, category string) []Entry {
	if category == "" {
		return entries
	}
	var out []Entry
	for _, e := range entries {
		if strings.EqualFold(e.Category, category) {
			out = append(out, e)
		}
	}
	return out
}

// Categories lists the distinct categories in document order.
func Categories(entries []Entry) []string {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		key := strings.ToLower(e.Category)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e.Category)
	}
	return out
}

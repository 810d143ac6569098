// Package catalog holds the static table of voices the relay knows about.
//
// The table ships inside the binary and is parsed once per process. A
// catalog is read-only after construction and safe for concurrent use.
package catalog

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Voice is one entry of the bundled voice table.
type Voice struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ErrCatalogLoad marks a bundled catalog that could not be parsed.
var ErrCatalogLoad = errors.New("voice catalog load failed")

//go:embed data/voices-gwent.json
var bundledVoices []byte

// Catalog is an immutable, ordered set of voices.
type Catalog struct {
	voices []Voice
	byID   map[string]int
}

// Default returns the catalog parsed from the bundled resource. The resource
// is parsed on first call only; later callers share the same result.
var Default = sync.OnceValues(func() (*Catalog, error) {
	return Parse(bundledVoices)
})

// Parse builds a catalog from a JSON array of {id, name} objects.
func Parse(raw []byte) (*Catalog, error) {
	var voices []Voice
	if err := json.Unmarshal(raw, &voices); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalogLoad, err)
	}
	byID := make(map[string]int, len(voices))
	for i, v := range voices {
		if v.ID == "" {
			return nil, fmt.Errorf("%w: voice at index %d has empty id", ErrCatalogLoad, i)
		}
		if _, dup := byID[v.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate voice id %q", ErrCatalogLoad, v.ID)
		}
		byID[v.ID] = i
	}
	return &Catalog{voices: voices, byID: byID}, nil
}

// Voices returns the voices in resource order.
func (c *Catalog) Voices() []Voice {
	out := make([]Voice, len(c.voices))
	copy(out, c.voices)
	return out
}

// Len reports the number of voices.
func (c *Catalog) Len() int { return len(c.voices) }

// IDs returns the set of known voice ids.
func (c *Catalog) IDs() map[string]struct{} {
	out := make(map[string]struct{}, len(c.voices))
	for _, v := range c.voices {
		out[v.ID] = struct{}{}
	}
	return out
}

// SortedIDs returns the known voice ids in lexical order.
func (c *Catalog) SortedIDs() []string {
	out := make([]string, 0, len(c.voices))
	for _, v := range c.voices {
		out = append(out, v.ID)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether id is a known voice.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// Lookup returns the voice with the given id.
func (c *Catalog) Lookup(id string) (Voice, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Voice{}, false
	}
	return c.voices[i], true
}

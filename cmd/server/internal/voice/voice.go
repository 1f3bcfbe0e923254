// Package voice models replacement voice identities: the keep-original
// sentinel, prebuilt catalog voices, and cloned voices produced from raw
// samples by an external voice-cloning engine.
package voice

import (
	"fmt"
	"strings"
)

// KeepOriginal is the sentinel identity meaning "do not replace this
// speaker"; the stitcher sources those segments from the original track.
const KeepOriginal = "keep-original"

// Identity references a synthesizable voice. The zero value is invalid;
// construct via the helpers or parse from a caller-supplied string.
type Identity struct {
	// ID is KeepOriginal, a catalog voice id, or a clone id.
	ID string `json:"id"`
}

// Keep returns the keep-original sentinel identity.
func Keep() Identity { return Identity{ID: KeepOriginal} }

// IsKeepOriginal reports whether the identity is the sentinel.
func (v Identity) IsKeepOriginal() bool { return v.ID == KeepOriginal }

// ReplacementMapping assigns a replacement identity per diarized speaker
// label. Speakers with no entry default to keep-original.
type ReplacementMapping map[string]Identity

// CatalogVoice is a prebuilt voice available to every caller.
type CatalogVoice struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Gender   string `json:"gender,omitempty"`
}

// Catalog is a fixed, config-loaded set of prebuilt voices.
type Catalog struct {
	voices map[string]CatalogVoice
	order  []string
}

// NewCatalog builds a catalog, rejecting duplicate ids.
func NewCatalog(voices []CatalogVoice) (*Catalog, error) {
	c := &Catalog{voices: make(map[string]CatalogVoice, len(voices))}
	for _, v := range voices {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return nil, fmt.Errorf("voice: catalog voice %q has empty id", v.Name)
		}
		if _, exists := c.voices[id]; exists {
			return nil, fmt.Errorf("voice: duplicate catalog voice id %q", id)
		}
		c.voices[id] = v
		c.order = append(c.order, id)
	}
	return c, nil
}

// Lookup returns the catalog voice for id.
func (c *Catalog) Lookup(id string) (CatalogVoice, bool) {
	v, ok := c.voices[id]
	return v, ok
}

// List returns catalog voices in registration order.
func (c *Catalog) List() []CatalogVoice {
	out := make([]CatalogVoice, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.voices[id])
	}
	return out
}

package voice

import (
	"fmt"
	"strings"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
)

// ValidationError rejects a ReplacementMapping before any synthesis is
// dispatched. Problems lists every issue found, not just the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "voice: invalid replacement mapping: " + strings.Join(e.Problems, "; ")
}

// Resolver validates caller-supplied mappings against a diarization result
// and the known voice identities.
type Resolver struct {
	catalog *Catalog
	clones  *CloneStore
}

// NewResolver creates a Resolver.
func NewResolver(catalog *Catalog, clones *CloneStore) *Resolver {
	return &Resolver{catalog: catalog, clones: clones}
}

// Resolve validates every entry of the mapping: the speaker label must exist
// in the diarization result, and the identity must be the keep-original
// sentinel, a catalog voice, or a clone this process produced. On success it
// returns the effective mapping with keep-original entries filled in for
// every unmapped speaker. On failure it returns a *ValidationError listing
// all problems.
func (r *Resolver) Resolve(mapping ReplacementMapping, result *diarize.Result) (ReplacementMapping, error) {
	if result == nil {
		return nil, &ValidationError{Problems: []string{"no diarization result to resolve against"}}
	}

	var problems []string
	for speaker, identity := range mapping {
		if !result.HasSpeaker(speaker) {
			problems = append(problems, fmt.Sprintf("unknown speaker %q", speaker))
		}
		if err := r.checkIdentity(identity); err != nil {
			problems = append(problems, fmt.Sprintf("speaker %q: %v", speaker, err))
		}
	}
	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	effective := make(ReplacementMapping, len(result.Speakers))
	for _, sp := range result.Speakers {
		if id, ok := mapping[sp.Label]; ok {
			effective[sp.Label] = id
		} else {
			effective[sp.Label] = Keep()
		}
	}
	return effective, nil
}

func (r *Resolver) checkIdentity(identity Identity) error {
	id := strings.TrimSpace(identity.ID)
	if id == "" {
		return fmt.Errorf("empty voice identity")
	}
	if id == KeepOriginal {
		return nil
	}
	if _, ok := r.catalog.Lookup(id); ok {
		return nil
	}
	if r.clones != nil && r.clones.Known(id) {
		return nil
	}
	return fmt.Errorf("voice %q is neither a catalog voice nor a known clone", id)
}

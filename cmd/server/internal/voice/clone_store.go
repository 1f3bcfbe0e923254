package voice

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
)

// CloneEngine is the external voice-cloning backend: (name, sample) in,
// synthesizable voice id out.
type CloneEngine interface {
	Clone(ctx context.Context, name string, sample []byte) (string, error)
	Name() string
}

// ClonedVoice records one clone the store has produced.
type ClonedVoice struct {
	VoiceID    string `json:"voice_id"`
	Name       string `json:"name"`
	SampleHash string `json:"sample_hash"`
}

// CloneStore is a content-addressed cache over the clone engine, shared by
// all concurrent jobs. Keys combine the sample's content hash with the
// requested name: keying by name alone would silently reuse a stale voice
// when the same name arrives with a different sample.
//
// Insertion is an atomic check-then-insert: when two jobs clone an identical
// (name, sample) pair concurrently, exactly one engine call happens and both
// get the same voice id.
type CloneStore struct {
	engine CloneEngine

	mu      sync.Mutex
	clones  map[string]*cloneEntry // key: sampleHash + "/" + name
	byVoice map[string]ClonedVoice
}

type cloneEntry struct {
	done    chan struct{}
	voiceID string
	err     error
}

// NewCloneStore creates an empty store over an engine.
func NewCloneStore(engine CloneEngine) *CloneStore {
	return &CloneStore{
		engine:  engine,
		clones:  make(map[string]*cloneEntry),
		byVoice: make(map[string]ClonedVoice),
	}
}

// SampleHash returns the hex SHA-256 of a raw sample.
func SampleHash(sample []byte) string {
	sum := sha256.Sum256(sample)
	return hex.EncodeToString(sum[:])
}

// Clone returns the voice id for (name, sample), calling the engine at most
// once per distinct pair. Re-cloning the same pair returns the existing id.
func (s *CloneStore) Clone(ctx context.Context, name string, sample []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("voice: clone name must not be empty")
	}
	if len(sample) == 0 {
		return "", fmt.Errorf("voice: clone sample must not be empty")
	}

	hash := SampleHash(sample)
	key := hash + "/" + name

	s.mu.Lock()
	if entry, ok := s.clones[key]; ok {
		s.mu.Unlock()
		// Another caller owns the engine call; wait for it.
		select {
		case <-entry.done:
			return entry.voiceID, entry.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	entry := &cloneEntry{done: make(chan struct{})}
	s.clones[key] = entry
	s.mu.Unlock()

	voiceID, err := s.engine.Clone(ctx, name, sample)

	s.mu.Lock()
	if err != nil {
		// Failed clones must not poison the cache; the next caller retries.
		delete(s.clones, key)
	} else {
		entry.voiceID = voiceID
		s.byVoice[voiceID] = ClonedVoice{VoiceID: voiceID, Name: name, SampleHash: hash}
	}
	entry.err = err
	s.mu.Unlock()
	close(entry.done)

	if err != nil {
		return "", fmt.Errorf("voice: cloning %q via %s: %w", name, s.engine.Name(), err)
	}
	slog.Info("[VOICE] clone ready", "name", name, "voice_id", voiceID, "sample_hash", hash[:12])
	return voiceID, nil
}

// Cached reports whether a completed clone already exists for the pair.
func (s *CloneStore) Cached(name string, sample []byte) bool {
	key := SampleHash(sample) + "/" + name
	s.mu.Lock()
	entry, ok := s.clones[key]
	s.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case <-entry.done:
		return entry.err == nil
	default:
		return false
	}
}

// Known reports whether voiceID was produced by this store.
func (s *CloneStore) Known(voiceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byVoice[voiceID]
	return ok
}

// List returns all completed clones.
func (s *CloneStore) List() []ClonedVoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ClonedVoice, 0, len(s.byVoice))
	for _, v := range s.byVoice {
		out = append(out, v)
	}
	return out
}

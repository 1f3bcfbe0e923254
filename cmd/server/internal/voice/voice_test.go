package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famflix/voiceswap/cmd/server/internal/diarize"
)

type fakeCloneEngine struct {
	calls atomic.Int64
	fail  bool
}

func (f *fakeCloneEngine) Clone(ctx context.Context, name string, sample []byte) (string, error) {
	n := f.calls.Add(1)
	if f.fail {
		return "", errors.New("engine down")
	}
	return fmt.Sprintf("clone-%s-%d", name, n), nil
}

func (f *fakeCloneEngine) Name() string { return "fake-clone" }

func TestCloneIdempotent(t *testing.T) {
	eng := &fakeCloneEngine{}
	store := NewCloneStore(eng)

	sample := []byte("raw pcm sample data")
	id1, err := store.Clone(context.Background(), "grandma", sample)
	require.NoError(t, err)
	id2, err := store.Clone(context.Background(), "grandma", sample)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "same (name, sample) pair must return the same voice id")
	assert.Equal(t, int64(1), eng.calls.Load(), "engine must be called once per distinct pair")
	assert.True(t, store.Known(id1))
}

func TestCloneDistinguishesSamplesUnderSameName(t *testing.T) {
	store := NewCloneStore(&fakeCloneEngine{})

	id1, err := store.Clone(context.Background(), "grandma", []byte("sample one"))
	require.NoError(t, err)
	id2, err := store.Clone(context.Background(), "grandma", []byte("sample two"))
	require.NoError(t, err)

	assert.NotEqual(t, id1, id2, "name collision with a different sample must not reuse the voice")
}

func TestCloneConcurrentSingleEngineCall(t *testing.T) {
	eng := &fakeCloneEngine{}
	store := NewCloneStore(eng)
	sample := []byte("identical sample")

	const n = 16
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = store.Clone(context.Background(), "uncle", sample)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
	}

	assert.Equal(t, int64(1), eng.calls.Load())
	for i := 1; i < n; i++ {
		assert.Equal(t, ids[0], ids[i])
	}
}

func TestCloneFailureDoesNotPoisonCache(t *testing.T) {
	eng := &fakeCloneEngine{fail: true}
	store := NewCloneStore(eng)

	_, err := store.Clone(context.Background(), "aunt", []byte("s"))
	require.Error(t, err)

	eng.fail = false
	id, err := store.Clone(context.Background(), "aunt", []byte("s"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func diarizationWithSpeakers(labels ...string) *diarize.Result {
	r := &diarize.Result{}
	for i, l := range labels {
		r.Segments = append(r.Segments, diarize.Segment{ID: i, Speaker: l, Start: float64(i), End: float64(i + 1)})
		r.Speakers = append(r.Speakers, diarize.Speaker{Label: l, SegmentCount: 1, TotalDuration: 1})
	}
	r.TotalSpeakers = len(labels)
	r.TotalSegments = len(labels)
	return r
}

func newTestResolver(t *testing.T) (*Resolver, *CloneStore) {
	t.Helper()
	catalog, err := NewCatalog([]CatalogVoice{
		{ID: "narrator-en", Name: "Narrator", Language: "en"},
	})
	require.NoError(t, err)
	clones := NewCloneStore(&fakeCloneEngine{})
	return NewResolver(catalog, clones), clones
}

func TestResolveRejectsUnknownSpeaker(t *testing.T) {
	resolver, _ := newTestResolver(t)
	result := diarizationWithSpeakers("SPEAKER_00")

	_, err := resolver.Resolve(ReplacementMapping{
		"SPEAKER_99": {ID: "narrator-en"},
	}, result)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Contains(t, vErr.Error(), "SPEAKER_99")
}

func TestResolveRejectsUnknownVoice(t *testing.T) {
	resolver, _ := newTestResolver(t)
	result := diarizationWithSpeakers("SPEAKER_00")

	_, err := resolver.Resolve(ReplacementMapping{
		"SPEAKER_00": {ID: "no-such-voice"},
	}, result)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestResolveCollectsAllProblems(t *testing.T) {
	resolver, _ := newTestResolver(t)
	result := diarizationWithSpeakers("SPEAKER_00")

	_, err := resolver.Resolve(ReplacementMapping{
		"SPEAKER_77": {ID: "nope"},
		"SPEAKER_00": {ID: ""},
	}, result)

	var vErr *ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.GreaterOrEqual(t, len(vErr.Problems), 2)
}

func TestResolveDefaultsUnmappedToKeepOriginal(t *testing.T) {
	resolver, _ := newTestResolver(t)
	result := diarizationWithSpeakers("SPEAKER_00", "SPEAKER_01")

	effective, err := resolver.Resolve(ReplacementMapping{
		"SPEAKER_00": {ID: "narrator-en"},
	}, result)
	require.NoError(t, err)

	assert.Equal(t, "narrator-en", effective["SPEAKER_00"].ID)
	assert.True(t, effective["SPEAKER_01"].IsKeepOriginal())
}

func TestResolveAcceptsCloneAndSentinel(t *testing.T) {
	resolver, clones := newTestResolver(t)
	cloneID, err := clones.Clone(context.Background(), "dad", []byte("dad sample"))
	require.NoError(t, err)

	result := diarizationWithSpeakers("SPEAKER_00", "SPEAKER_01")
	effective, err := resolver.Resolve(ReplacementMapping{
		"SPEAKER_00": {ID: cloneID},
		"SPEAKER_01": Keep(),
	}, result)
	require.NoError(t, err)
	assert.Equal(t, cloneID, effective["SPEAKER_00"].ID)
}

func TestCatalogRejectsDuplicates(t *testing.T) {
	_, err := NewCatalog([]CatalogVoice{
		{ID: "v1", Name: "A"},
		{ID: "v1", Name: "B"},
	})
	require.Error(t, err)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/searchcache"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = config.IndexerConfig{
	WriteTimeout:  time.Second,
	WriteAttempts: 1,
}

type fakeMirror struct {
	mu         sync.Mutex
	fail       error
	block      bool
	docs       map[string]string
	order      []string
	noise      []string
	generation uint64
	writes     int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{docs: make(map[string]string)}
}

func (m *fakeMirror) check(ctx context.Context) error {
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.fail
}

func (m *fakeMirror) SaveDocument(ctx context.Context, doc *index.Document, generation uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	if _, ok := m.docs[doc.Name]; !ok {
		m.order = append(m.order, doc.Name)
	}
	m.docs[doc.Name] = doc.Content
	m.generation = generation
	m.writes++
	return nil
}

func (m *fakeMirror) ReplaceNoise(ctx context.Context, words []string, _ []*index.Document, generation uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return err
	}
	m.noise = append([]string(nil), words...)
	m.generation = generation
	m.writes++
	return nil
}

func (m *fakeMirror) Load(ctx context.Context) (*index.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(ctx); err != nil {
		return nil, err
	}
	state := &index.State{Generation: m.generation, NoiseWords: m.noise}
	for _, name := range m.order {
		state.Documents = append(state.Documents, index.StoredDocument{Name: name, Content: m.docs[name]})
	}
	return state, nil
}

type memSink struct {
	mu     sync.Mutex
	states []index.State
	fail   error
}

func (s *memSink) Save(_ context.Context, state index.State) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.states = append(s.states, state)
	return fmt.Sprintf("snap-%d", state.Generation), nil
}

func (s *memSink) Latest(context.Context) (*index.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return nil, nil
	}
	st := s.states[len(s.states)-1]
	return &st, nil
}

type countingCache struct {
	mu      sync.Mutex
	entries map[string][]index.Result
	hits    int
}

func (c *countingCache) GetOrCompute(_ context.Context, version index.Version, terms []string, compute searchcache.ComputeFunc) ([]index.Result, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := searchcache.BuildKey(version, terms)
	if res, ok := c.entries[key]; ok {
		c.hits++
		return res, true, nil
	}
	res, cacheable, err := compute()
	if err != nil {
		return nil, false, err
	}
	if cacheable {
		c.entries[key] = res
	}
	return res, false, nil
}

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	return New(testConfig, opts)
}

func TestFindReportsFirstLineOnly(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddNoiseWords(ctx, "the"))
	require.NoError(t, e.AddDocument(ctx, "a", "The cat sat.\nThe cat ran."))

	got, err := e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, []index.Result{{Name: "a", Score: 2, Lines: []string{"The cat sat.\n"}}}, got)
}

func TestFindBreaksTiesByName(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "b", "a dog"))
	require.NoError(t, e.AddDocument(ctx, "a", "the dog"))

	got, err := e.Find(ctx, []string{"dog"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Name)
	assert.Equal(t, "b", got[1].Name)
}

func TestFindWithoutTermsIsEmpty(t *testing.T) {
	e := newTestEngine(t, Options{})
	got, err := e.Find(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestCompleteBoundary(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "running runner ran"))

	got, err := e.Complete(ctx, "runni")
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, got)

	got, err = e.Complete(ctx, "runni ")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = e.Complete(ctx, "I was RUN")
	require.NoError(t, err)
	assert.Equal(t, []string{"runner", "running"}, got)

	got, err = e.Complete(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchNormalizesQuery(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddNoiseWords(ctx, "the"))
	require.NoError(t, e.AddDocument(ctx, "a", "The cat's toy\nthe dog"))

	got, err := e.Search(ctx, "THE Cat's dog!")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Score)
	assert.Equal(t, []string{"The cat's toy\n", "the dog\n"}, got[0].Lines)
}

func TestAddDocumentRejectsInvalidInput(t *testing.T) {
	mirror := newFakeMirror()
	e := newTestEngine(t, Options{Mirror: mirror})
	ctx := context.Background()

	for _, tc := range []struct{ name, content string }{
		{"", "text"},
		{"  \t", "text"},
		{"a", ""},
	} {
		err := e.AddDocument(ctx, tc.name, tc.content)
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "name %q content %q", tc.name, tc.content)
		assert.Equal(t, apperrors.CodeBadParam, apperrors.Code(err))
	}
	assert.Zero(t, e.Stats().Documents)
	assert.Zero(t, e.Stats().Generation)
	assert.Zero(t, mirror.writes)
}

func TestAddDocumentIsIdempotent(t *testing.T) {
	mirror := newFakeMirror()
	e := newTestEngine(t, Options{Mirror: mirror})
	ctx := context.Background()

	require.NoError(t, e.AddDocument(ctx, "a", "cat cat dog"))
	first, err := e.Find(ctx, []string{"cat", "dog"})
	require.NoError(t, err)
	gen := e.Stats().Generation

	require.NoError(t, e.AddDocument(ctx, "a", "cat cat dog"))
	second, err := e.Find(ctx, []string{"cat", "dog"})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 3, second[0].Score)
	assert.Equal(t, gen, e.Stats().Generation)
	assert.Equal(t, 1, mirror.writes)
}

func TestAddDocumentReplacesContent(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	require.NoError(t, e.AddDocument(ctx, "a", "dog"))

	got, err := e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Empty(t, got)
	content, err := e.DocContent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "dog", content)
}

func TestMirrorFailureLeavesIndexUnchanged(t *testing.T) {
	mirror := newFakeMirror()
	e := newTestEngine(t, Options{Mirror: mirror})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	before := e.Stats()

	mirror.fail = errors.New("connection reset")
	err := e.AddDocument(ctx, "a", "dog")
	assert.ErrorIs(t, err, apperrors.ErrInternal)
	assert.Equal(t, apperrors.CodeInternal, apperrors.Code(err))

	err = e.AddNoiseWords(ctx, "cat")
	assert.ErrorIs(t, err, apperrors.ErrInternal)

	assert.Equal(t, before, e.Stats())
	content, err := e.DocContent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "cat", content)
	got, err := e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMirrorTimeout(t *testing.T) {
	mirror := newFakeMirror()
	mirror.block = true
	e := New(config.IndexerConfig{WriteTimeout: 20 * time.Millisecond, WriteAttempts: 1}, Options{Mirror: mirror})

	err := e.AddDocument(context.Background(), "a", "cat")
	assert.ErrorIs(t, err, apperrors.ErrTimeout)
	assert.Zero(t, e.Stats().Documents)
}

func TestAddNoiseWordsRebuildsPostings(t *testing.T) {
	mirror := newFakeMirror()
	e := newTestEngine(t, Options{Mirror: mirror})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "the cat\nthe dog"))

	got, err := e.Find(ctx, []string{"the"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	require.NoError(t, e.AddNoiseWords(ctx, "the a"))
	got, err = e.Find(ctx, []string{"the"})
	require.NoError(t, err)
	assert.Empty(t, got)
	comp, err := e.Complete(ctx, "th")
	require.NoError(t, err)
	assert.Empty(t, comp)
	assert.Equal(t, []string{"a", "the"}, mirror.noise)

	writes := mirror.writes
	require.NoError(t, e.AddNoiseWords(ctx, "a  the\tthe"))
	assert.Equal(t, writes, mirror.writes, "equal noise set is a no-op")

	require.NoError(t, e.AddNoiseWords(ctx, ""))
	got, err = e.Find(ctx, []string{"the"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestNormalizedNoiseWords(t *testing.T) {
	e := New(config.IndexerConfig{NormalizeNoiseWords: true}, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddNoiseWords(ctx, "it's"))
	require.NoError(t, e.AddDocument(ctx, "a", "it is here"))

	got, err := e.Find(ctx, []string{"it"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDocContentNotFound(t *testing.T) {
	e := newTestEngine(t, Options{})
	_, err := e.DocContent(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrDocumentNotFound)
	assert.Equal(t, apperrors.CodeNotFound, apperrors.Code(err))
}

func TestDocContentIsVerbatim(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	content := "line one\r\nline two\n"
	require.NoError(t, e.AddDocument(ctx, "a", content))
	got, err := e.DocContent(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestLoadFromMirror(t *testing.T) {
	mirror := newFakeMirror()
	ctx := context.Background()
	first := newTestEngine(t, Options{Mirror: mirror})
	require.NoError(t, first.AddNoiseWords(ctx, "the"))
	require.NoError(t, first.AddDocument(ctx, "a", "the cat"))
	require.NoError(t, first.AddDocument(ctx, "b", "the dog"))

	second := newTestEngine(t, Options{Mirror: mirror})
	require.NoError(t, second.Load(ctx))
	assert.Equal(t, first.Stats(), second.Stats())
	assert.False(t, second.Dirty())

	want, err := first.Find(ctx, []string{"cat", "dog", "the"})
	require.NoError(t, err)
	got, err := second.Find(ctx, []string{"cat", "dog", "the"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadMirrorFailure(t *testing.T) {
	mirror := newFakeMirror()
	mirror.fail = errors.New("refused")
	e := newTestEngine(t, Options{Mirror: mirror})
	assert.ErrorIs(t, e.Load(context.Background()), apperrors.ErrInternal)
}

func TestSnapshotAndLoadFromSink(t *testing.T) {
	sink := &memSink{}
	ctx := context.Background()
	e := newTestEngine(t, Options{Sinks: []NamedSink{{Name: "mem", Sink: sink}}})
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	assert.True(t, e.Dirty())
	require.NoError(t, e.Snapshot(ctx))
	assert.False(t, e.Dirty())

	restored := newTestEngine(t, Options{Sinks: []NamedSink{
		{Name: "empty", Sink: &memSink{}},
		{Name: "mem", Sink: sink},
	}})
	require.NoError(t, restored.Load(ctx))
	got, err := restored.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSnapshotFailureKeepsDirty(t *testing.T) {
	ok := &memSink{}
	bad := &memSink{fail: errors.New("disk full")}
	e := newTestEngine(t, Options{Sinks: []NamedSink{{Name: "bad", Sink: bad}, {Name: "ok", Sink: ok}}})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))

	err := e.Snapshot(ctx)
	assert.ErrorContains(t, err, "disk full")
	assert.Len(t, ok.states, 1)
	assert.True(t, e.Dirty())
}

func TestSnapshotLoopWritesFinalSnapshot(t *testing.T) {
	sink := &memSink{}
	e := New(config.IndexerConfig{SnapshotInterval: time.Hour}, Options{Sinks: []NamedSink{{Name: "mem", Sink: sink}}})
	ctx, cancel := context.WithCancel(context.Background())
	e.StartSnapshotLoop(ctx)
	require.NoError(t, e.AddDocument(context.Background(), "a", "cat"))
	cancel()
	require.NoError(t, e.Close())

	latest, err := sink.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, e.Stats().Generation, latest.Generation)
}

func TestFindUsesCacheByGeneration(t *testing.T) {
	cache := &countingCache{entries: make(map[string][]index.Result)}
	e := newTestEngine(t, Options{Cache: cache})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))

	_, err := e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	_, err = e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits)

	require.NoError(t, e.AddDocument(ctx, "b", "cat cat"))
	got, err := e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, 1, cache.hits, "a new generation misses")
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Name)
}

func TestSharedCacheDoesNotLeakAcrossIndexes(t *testing.T) {
	cache := &countingCache{entries: make(map[string][]index.Result)}
	ctx := context.Background()

	first := newTestEngine(t, Options{Cache: cache})
	require.NoError(t, first.Load(ctx))
	require.NoError(t, first.AddDocument(ctx, "old", "cat cat cat"))
	_, err := first.Find(ctx, []string{"cat"})
	require.NoError(t, err)

	second := newTestEngine(t, Options{Cache: cache})
	require.NoError(t, second.Load(ctx))
	require.NoError(t, second.AddDocument(ctx, "new", "cat"))
	require.Equal(t, first.Stats().Generation, second.Stats().Generation)

	got, err := second.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	assert.Equal(t, 0, cache.hits)
	assert.Equal(t, []index.Result{{Name: "new", Score: 1, Lines: []string{"cat\n"}}}, got)
}

type invalidatingCache struct {
	countingCache
	invalidations int
}

func (c *invalidatingCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidations++
	c.entries = make(map[string][]index.Result)
	return nil
}

func TestLoadDropsCachedResults(t *testing.T) {
	cache := &invalidatingCache{countingCache: countingCache{entries: make(map[string][]index.Result)}}
	e := newTestEngine(t, Options{Cache: cache})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	_, err := e.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	require.Len(t, cache.entries, 1)

	require.NoError(t, e.Load(ctx))
	assert.Equal(t, 1, cache.invalidations)
	assert.Empty(t, cache.entries)
}

func TestCheckpointMakesMutationsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	sink := &memSink{}
	e := newTestEngine(t, Options{Sinks: []NamedSink{{Name: "mem", Sink: sink}}})
	require.True(t, e.Durable())
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	require.NoError(t, e.Checkpoint(ctx))
	assert.False(t, e.Dirty())
	require.NoError(t, e.Checkpoint(ctx))
	assert.Len(t, sink.states, 1, "a clean index is not snapshotted again")

	restarted := newTestEngine(t, Options{Sinks: []NamedSink{{Name: "mem", Sink: sink}}})
	require.NoError(t, restarted.Load(ctx))
	got, err := restarted.Find(ctx, []string{"cat"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].Name)
}

func TestCheckpointWithoutStoreFails(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, Options{})
	assert.False(t, e.Durable())
	require.NoError(t, e.Checkpoint(ctx), "nothing to persist yet")
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	assert.ErrorIs(t, e.Checkpoint(ctx), apperrors.ErrInternal)
}

func TestCheckpointIsNoopWithMirror(t *testing.T) {
	ctx := context.Background()
	sink := &memSink{}
	e := newTestEngine(t, Options{Mirror: newFakeMirror(), Sinks: []NamedSink{{Name: "mem", Sink: sink}}})
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	require.NoError(t, e.Checkpoint(ctx))
	assert.Empty(t, sink.states)
}

func TestMetricsAreRecorded(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	e := newTestEngine(t, Options{Metrics: m})
	ctx := context.Background()

	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	require.NoError(t, e.AddDocument(ctx, "a", "cat"))
	assert.Error(t, e.AddDocument(ctx, "", "cat"))
	_, _ = e.Find(ctx, []string{"cat"})
	_, _ = e.DocContent(ctx, "zzz")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues(opAddDocument, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues(opAddDocument, "noop")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MutationsTotal.WithLabelValues(opAddDocument, "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues(opFind, "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueriesTotal.WithLabelValues(opDocContent, "not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IndexDocuments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.DocsIndexedTotal))
}

func TestConcurrentReadsSeeWholeDocuments(t *testing.T) {
	e := newTestEngine(t, Options{})
	ctx := context.Background()
	require.NoError(t, e.AddDocument(ctx, "a", "cat dog"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				content := "cat dog"
				if (i+w)%2 == 1 {
					content = "bird fish"
				}
				_ = e.AddDocument(ctx, "a", content)
			}
		}(w)
	}
	for i := 0; i < 500; i++ {
		got, err := e.Find(ctx, []string{"cat", "dog", "bird", "fish"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, 2, got[0].Score, "postings of one version only")
	}
	close(stop)
	wg.Wait()
}

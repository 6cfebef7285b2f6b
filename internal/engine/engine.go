// Package engine is the document finder's public surface: it owns one
// MemoryIndex, writes every mutation through to an optional mirror store
// before publishing it, and serves find, complete and content queries with
// an optional result cache in front.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/normalizer"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/searchcache"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/resilience"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/tracing"
)

const (
	opAddDocument   = "add_document"
	opAddNoiseWords = "add_noise_words"
	opFind          = "find"
	opComplete      = "complete"
	opDocContent    = "doc_content"
)

// Mirror is a durable copy of the index written before each in-memory
// publish. Load returns documents and noise words; postings may be omitted.
type Mirror interface {
	SaveDocument(ctx context.Context, doc *index.Document, generation uint64) error
	ReplaceNoise(ctx context.Context, words []string, docs []*index.Document, generation uint64) error
	Load(ctx context.Context) (*index.State, error)
}

// SnapshotSink stores whole-index snapshots. Latest returns nil when the
// sink holds none.
type SnapshotSink interface {
	Save(ctx context.Context, state index.State) (string, error)
	Latest(ctx context.Context) (*index.State, error)
}

// ResultCache caches find results by index version.
type ResultCache interface {
	GetOrCompute(ctx context.Context, version index.Version, terms []string, compute searchcache.ComputeFunc) ([]index.Result, bool, error)
}

// cacheInvalidator is implemented by caches that can drop every entry.
type cacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// NamedSink labels a SnapshotSink for logs and metrics.
type NamedSink struct {
	Name string
	Sink SnapshotSink
}

// Options carries the optional collaborators of an Engine. Every field may
// be left zero.
type Options struct {
	Mirror  Mirror
	Cache   ResultCache
	Sinks   []NamedSink
	Metrics *metrics.Metrics
}

type Engine struct {
	idx     *index.MemoryIndex
	cfg     config.IndexerConfig
	mirror  Mirror
	cache   ResultCache
	sinks   []NamedSink
	metrics *metrics.Metrics
	logger  *slog.Logger

	// writeMu serializes mutations so each one is mirrored and published
	// against the generation it was computed for.
	writeMu sync.Mutex

	savedGen atomic.Uint64
	loops    sync.WaitGroup
}

func New(cfg config.IndexerConfig, opts Options) *Engine {
	e := &Engine{
		idx:     index.NewMemoryIndex(),
		cfg:     cfg,
		mirror:  opts.Mirror,
		cache:   opts.Cache,
		sinks:   opts.Sinks,
		metrics: opts.Metrics,
		logger:  slog.Default().With("component", "engine"),
	}
	return e
}

// Load restores the index from the mirror when one is configured, or else
// from the newest snapshot found in the sinks, tried in order. Cached
// results of earlier index lifetimes are dropped first.
func (e *Engine) Load(ctx context.Context) error {
	ctx, span := tracing.Start(ctx, "engine.load")
	defer span.End()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if inv, ok := e.cache.(cacheInvalidator); ok {
		if err := inv.Invalidate(ctx); err != nil {
			e.logger.Warn("dropping stale cached results failed", "error", err)
		}
	}

	state, source, err := e.loadState(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		e.logger.Info("no stored index found, starting empty")
		return nil
	}
	if err := e.idx.Restore(*state); err != nil {
		return apperrors.Newf(apperrors.ErrInternal, "restoring index from %s: %v", source, err)
	}
	e.savedGen.Store(e.idx.Generation())
	e.updateGauges()
	span.SetAttr("source", source)
	e.logger.Info("index loaded",
		"source", source,
		"docs", e.idx.DocCount(),
		"terms", e.idx.TermCount(),
		"generation", e.idx.Generation(),
	)
	return nil
}

func (e *Engine) loadState(ctx context.Context) (*index.State, string, error) {
	if e.mirror != nil {
		var state *index.State
		err := e.roundTrip(ctx, "mirror.load", func(ctx context.Context) error {
			var err error
			state, err = e.mirror.Load(ctx)
			return err
		})
		if err != nil {
			return nil, "", err
		}
		return state, "mirror", nil
	}
	for _, s := range e.sinks {
		state, err := s.Sink.Latest(ctx)
		if err != nil {
			e.logger.Warn("reading snapshot failed", "sink", s.Name, "error", err)
			continue
		}
		if state != nil {
			return state, s.Name, nil
		}
	}
	return nil, "", nil
}

// AddNoiseWords replaces the noise set with the whitespace-separated words
// of text. Replacing the set with an equal one changes nothing; otherwise
// every stored document is re-tokenized so no noise word stays indexed.
func (e *Engine) AddNoiseWords(ctx context.Context, text string) (err error) {
	ctx, span := tracing.Start(ctx, "engine.add_noise_words")
	defer span.End()
	start := time.Now()
	status := "ok"
	defer func() { e.observeMutation(opAddNoiseWords, start, status, err) }()

	noise := normalizer.ParseNoiseWords(text, e.cfg.NormalizeNoiseWords)
	span.SetAttr("noise_words", noise.Len())

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if noise.Equal(e.idx.Noise()) {
		status = "noop"
		return nil
	}
	docs := e.idx.Rebuild(noise)
	gen := e.idx.Generation() + 1
	if e.mirror != nil {
		err = e.roundTrip(ctx, "mirror.replace_noise", func(ctx context.Context) error {
			return e.mirror.ReplaceNoise(ctx, noise.Words(), docs, gen)
		})
		if err != nil {
			return err
		}
	}
	e.idx.Reset(noise, docs)
	e.updateGauges()
	e.logger.Info("noise words replaced",
		"noise_words", noise.Len(),
		"docs_rebuilt", len(docs),
		"generation", gen,
	)
	return nil
}

// ValidateDocument reports whether AddDocument would accept name and content.
func ValidateDocument(name, content string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, "document name is empty")
	}
	if content == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, "document %s has no content", name)
	}
	return nil
}

// AddDocument indexes content under name, replacing any earlier content of
// that name. Submitting the content name already holds is a no-op.
func (e *Engine) AddDocument(ctx context.Context, name, content string) (err error) {
	ctx, span := tracing.Start(ctx, "engine.add_document")
	defer span.End()
	span.SetAttr("doc", name)
	start := time.Now()
	status := "ok"
	defer func() { e.observeMutation(opAddDocument, start, status, err) }()

	if err := ValidateDocument(name, content); err != nil {
		return err
	}

	noise := e.idx.Noise()
	doc := index.BuildDocument(name, content, noise)

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.idx.HasContent(name, content) {
		status = "noop"
		return nil
	}
	if current := e.idx.Noise(); current != noise {
		doc = index.BuildDocument(name, content, current)
	}
	gen := e.idx.Generation() + 1
	if e.mirror != nil {
		err = e.roundTrip(ctx, "mirror.save_document", func(ctx context.Context) error {
			return e.mirror.SaveDocument(ctx, doc, gen)
		})
		if err != nil {
			return err
		}
	}
	e.idx.Publish(doc)
	if e.metrics != nil {
		e.metrics.DocsIndexedTotal.Inc()
	}
	e.updateGauges()
	e.logger.Debug("document indexed",
		"doc", name,
		"lines", len(doc.Lines),
		"terms", len(doc.Postings),
		"generation", gen,
	)
	return nil
}

// Find returns the documents matching any of terms, best first. terms must
// already be normalized; see Search for raw query text.
func (e *Engine) Find(ctx context.Context, terms []string) (results []index.Result, err error) {
	ctx, span := tracing.Start(ctx, "engine.find")
	defer span.End()
	start := time.Now()
	defer func() {
		e.observeQuery(opFind, start, findOutcome(results, err))
		if err == nil && e.metrics != nil {
			e.metrics.FindResultsCount.Observe(float64(len(results)))
		}
	}()

	if len(terms) == 0 {
		return []index.Result{}, nil
	}
	if e.cache == nil {
		return e.idx.Find(terms), nil
	}

	version := e.idx.Version()
	results, hit, err := e.cache.GetOrCompute(ctx, version, terms, func() ([]index.Result, bool, error) {
		res, at := e.idx.FindAtVersion(terms)
		return res, at == version, nil
	})
	if err != nil {
		return nil, apperrors.Newf(apperrors.ErrInternal, "find: %v", err)
	}
	span.SetAttr("cache_hit", hit)
	if e.metrics != nil {
		if hit {
			e.metrics.CacheHitsTotal.Inc()
		} else {
			e.metrics.CacheMissesTotal.Inc()
		}
	}
	return results, nil
}

// Search normalizes raw query text with the current noise set and finds
// the resulting terms.
func (e *Engine) Search(ctx context.Context, query string) ([]index.Result, error) {
	return e.Find(ctx, e.QueryTerms(query))
}

// QueryTerms is the term list Search would look up for query.
func (e *Engine) QueryTerms(query string) []string {
	return normalizer.QueryTerms(query, e.idx.Noise())
}

// Complete returns the indexed tokens that complete the last word of text.
func (e *Engine) Complete(ctx context.Context, text string) (completions []string, err error) {
	_, span := tracing.Start(ctx, "engine.complete")
	defer span.End()
	start := time.Now()
	defer func() {
		outcome := "hit"
		if len(completions) == 0 {
			outcome = "zero_result"
		}
		e.observeQuery(opComplete, start, outcome)
	}()

	prefix, ok := normalizer.LastWord(text)
	if !ok {
		return []string{}, nil
	}
	span.SetAttr("prefix", prefix)
	return e.idx.Complete(prefix), nil
}

// DocContent returns the stored content of name.
func (e *Engine) DocContent(ctx context.Context, name string) (content string, err error) {
	_, span := tracing.Start(ctx, "engine.doc_content")
	defer span.End()
	start := time.Now()
	defer func() {
		outcome := "hit"
		if errors.Is(err, apperrors.ErrDocumentNotFound) {
			outcome = "not_found"
		}
		e.observeQuery(opDocContent, start, outcome)
	}()
	return e.idx.DocContent(name)
}

// Stats summarizes the index.
type Stats struct {
	Documents  int    `json:"documents"`
	Terms      int    `json:"terms"`
	NoiseWords int    `json:"noise_words"`
	Generation uint64 `json:"generation"`
}

func (e *Engine) Stats() Stats {
	return Stats{
		Documents:  e.idx.DocCount(),
		Terms:      e.idx.TermCount(),
		NoiseWords: e.idx.Noise().Len(),
		Generation: e.idx.Generation(),
	}
}

// roundTrip runs one backing-store call with the configured timeout and
// retry budget. Failures come back as Internal, or Timeout when the last
// attempt ran out of time.
func (e *Engine) roundTrip(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	_, span := tracing.Start(ctx, name)
	defer span.End()

	err := resilience.Retry(ctx, name, resilience.RetryConfig{
		MaxAttempts: e.cfg.WriteAttempts,
		Retryable: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}, func() error {
		return resilience.WithTimeout(ctx, e.cfg.WriteTimeout, name, fn)
	})
	if err == nil {
		return nil
	}
	span.SetAttr("error", err.Error())
	e.logger.Error("backing store call failed", "operation", name, "error", err)
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Newf(apperrors.ErrTimeout, "%s: %v", name, err)
	}
	return apperrors.Newf(apperrors.ErrInternal, "%s: %v", name, err)
}

func (e *Engine) observeMutation(op string, start time.Time, status string, err error) {
	if e.metrics == nil {
		return
	}
	if err != nil {
		status = "error"
		if errors.Is(err, apperrors.ErrInvalidInput) {
			status = "invalid"
		}
	}
	e.metrics.MutationsTotal.WithLabelValues(op, status).Inc()
	e.metrics.MutationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) observeQuery(op string, start time.Time, outcome string) {
	if e.metrics == nil {
		return
	}
	e.metrics.QueriesTotal.WithLabelValues(op, outcome).Inc()
	e.metrics.QueryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (e *Engine) updateGauges() {
	if e.metrics == nil {
		return
	}
	e.metrics.IndexDocuments.Set(float64(e.idx.DocCount()))
	e.metrics.IndexTerms.Set(float64(e.idx.TermCount()))
	e.metrics.IndexGeneration.Set(float64(e.idx.Generation()))
}

func findOutcome(results []index.Result, err error) string {
	switch {
	case err != nil:
		return "error"
	case len(results) == 0:
		return "zero_result"
	default:
		return "hit"
	}
}

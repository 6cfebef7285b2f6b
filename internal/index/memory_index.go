package index

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/normalizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"
)

const lineTerminator = "\n"

type docEntry struct {
	ordinal uint32
	content string
	lines   []string
	tokens  []string
}

// StoredDocument is the persisted form of a document.
type StoredDocument struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// State is a point-in-time copy of a MemoryIndex. Terms may be empty, in
// which case Restore re-derives postings from the documents.
type State struct {
	Generation uint64           `json:"generation"`
	NoiseWords []string         `json:"noise_words"`
	Documents  []StoredDocument `json:"documents"`
	Terms      []TermEntry      `json:"terms,omitempty"`
}

// Version identifies one state of a MemoryIndex. Epoch is fresh for every
// NewMemoryIndex and Restore, so a generation reached again after a restart
// or reload never names the same state twice.
type Version struct {
	Epoch      string
	Generation uint64
}

func (v Version) String() string {
	return fmt.Sprintf("%s:g%d", v.Epoch, v.Generation)
}

type MemoryIndex struct {
	mu         sync.RWMutex
	epoch      string
	index      map[string]map[string]*Posting
	docs       map[string]*docEntry
	names      []string
	terms      []string
	noise      *normalizer.NoiseSet
	generation uint64
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		index: make(map[string]map[string]*Posting),
		docs:  make(map[string]*docEntry),
		noise: normalizer.NewNoiseSet(nil),
		epoch: uuid.NewString(),
	}
}

// Noise returns the noise set documents are currently tokenized with.
func (m *MemoryIndex) Noise() *normalizer.NoiseSet {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.noise
}

// Generation is bumped by every Publish and Reset, and set by Restore.
func (m *MemoryIndex) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}

func (m *MemoryIndex) Version() Version {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Version{Epoch: m.epoch, Generation: m.generation}
}

// HasContent reports whether name is stored with exactly content.
func (m *MemoryIndex) HasContent(name, content string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[name]
	return ok && entry.content == content
}

// Publish replaces every posting of doc.Name with the postings of doc in a
// single step. Readers see either the old or the new document, never a mix.
func (m *MemoryIndex) Publish(doc *Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishLocked(doc)
	m.generation++
}

// Rebuild re-derives every stored document with noise. The returned
// documents are not published; pass them to Reset.
func (m *MemoryIndex) Rebuild(noise *normalizer.NoiseSet) []*Document {
	m.mu.RLock()
	stored := make([]StoredDocument, 0, len(m.names))
	for _, name := range m.names {
		stored = append(stored, StoredDocument{Name: name, Content: m.docs[name].content})
	}
	m.mu.RUnlock()

	docs := make([]*Document, 0, len(stored))
	for _, sd := range stored {
		docs = append(docs, BuildDocument(sd.Name, sd.Content, noise))
	}
	return docs
}

// Reset swaps the whole index for docs tokenized with noise.
func (m *MemoryIndex) Reset(noise *normalizer.NoiseSet, docs []*Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.noise = noise
	for _, doc := range docs {
		m.publishLocked(doc)
	}
	m.generation++
}

// Find returns every document holding at least one of terms, scored by the
// sum of the terms' occurrence counts. Each result lists the first-occurrence
// line of every matched term once, in source order.
func (m *MemoryIndex) Find(terms []string) []Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(terms)
}

// FindAtVersion is Find plus the version the results belong to.
func (m *MemoryIndex) FindAtVersion(terms []string) ([]Result, Version) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findLocked(terms), Version{Epoch: m.epoch, Generation: m.generation}
}

func (m *MemoryIndex) findLocked(terms []string) []Result {
	candidates := roaring.New()
	for _, term := range terms {
		for name := range m.index[term] {
			candidates.Add(m.docs[name].ordinal)
		}
	}

	results := make([]Result, 0, candidates.GetCardinality())
	it := candidates.Iterator()
	for it.HasNext() {
		name := m.names[it.Next()]
		entry := m.docs[name]
		score := 0
		lineNos := make([]int, 0, len(terms))
		for _, term := range terms {
			p, ok := m.index[term][name]
			if !ok {
				continue
			}
			score += p.Count
			lineNos = append(lineNos, p.FirstLine)
		}
		sort.Ints(lineNos)
		lineNos = slices.Compact(lineNos)
		lines := make([]string, 0, len(lineNos))
		for _, j := range lineNos {
			lines = append(lines, entry.lines[j]+lineTerminator)
		}
		results = append(results, Result{
			Name:  name,
			Score: score,
			Lines: lines,
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return CompareResults(results[i], results[j]) < 0
	})
	return results
}

// Complete returns, in ascending order, every indexed token starting with
// prefix. An empty prefix completes to nothing.
func (m *MemoryIndex) Complete(prefix string) []string {
	if prefix == "" {
		return []string{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	start := sort.SearchStrings(m.terms, prefix)
	end := start
	for end < len(m.terms) && strings.HasPrefix(m.terms[end], prefix) {
		end++
	}
	out := make([]string, end-start)
	copy(out, m.terms[start:end])
	return out
}

// DocContent returns the stored content of name.
func (m *MemoryIndex) DocContent(name string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.docs[name]
	if !ok {
		return "", apperrors.Newf(apperrors.ErrDocumentNotFound, "doc %s not found", name)
	}
	return entry.content, nil
}

// Postings returns a copy of the postings for term, sorted by document name.
func (m *MemoryIndex) Postings(term string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.postingsLocked(term)
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) TermCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.terms)
}

func (m *MemoryIndex) Snapshot() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state := State{
		Generation: m.generation,
		NoiseWords: m.noise.Words(),
		Documents:  make([]StoredDocument, 0, len(m.names)),
		Terms:      make([]TermEntry, 0, len(m.terms)),
	}
	for _, name := range m.names {
		state.Documents = append(state.Documents, StoredDocument{
			Name:    name,
			Content: m.docs[name].content,
		})
	}
	for _, term := range m.terms {
		state.Terms = append(state.Terms, TermEntry{
			Term:     term,
			Postings: m.postingsLocked(term),
		})
	}
	return state
}

// Restore replaces the index with state. When state carries no term
// dictionary the postings are re-derived from the documents.
func (m *MemoryIndex) Restore(state State) error {
	noise := normalizer.NewNoiseSet(state.NoiseWords)
	if len(state.Terms) == 0 {
		docs := make([]*Document, 0, len(state.Documents))
		for _, sd := range state.Documents {
			docs = append(docs, BuildDocument(sd.Name, sd.Content, noise))
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		m.clearLocked()
		m.noise = noise
		for _, doc := range docs {
			m.publishLocked(doc)
		}
		m.generation = state.Generation
		m.epoch = uuid.NewString()
		return nil
	}

	docs := make(map[string]*Document, len(state.Documents))
	order := make([]*Document, 0, len(state.Documents))
	for _, sd := range state.Documents {
		if _, dup := docs[sd.Name]; dup {
			return fmt.Errorf("restoring index: duplicate document %q", sd.Name)
		}
		doc := &Document{
			Name:     sd.Name,
			Content:  sd.Content,
			Lines:    SplitLines(sd.Content),
			Postings: make(map[string]*Posting),
		}
		docs[sd.Name] = doc
		order = append(order, doc)
	}
	for _, entry := range state.Terms {
		for _, p := range entry.Postings {
			doc, ok := docs[p.Doc]
			if !ok {
				return fmt.Errorf("restoring index: term %q references unknown document %q", entry.Term, p.Doc)
			}
			if p.FirstLine < 0 || p.FirstLine >= len(doc.Lines) || p.Count < 1 {
				return fmt.Errorf("restoring index: invalid posting for term %q in document %q", entry.Term, p.Doc)
			}
			posting := p
			doc.Postings[entry.Term] = &posting
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.clearLocked()
	m.noise = noise
	for _, doc := range order {
		m.publishLocked(doc)
	}
	m.generation = state.Generation
	m.epoch = uuid.NewString()
	return nil
}

func (m *MemoryIndex) publishLocked(doc *Document) {
	entry, exists := m.docs[doc.Name]
	if exists {
		for _, token := range entry.tokens {
			postings := m.index[token]
			delete(postings, doc.Name)
			if len(postings) == 0 {
				delete(m.index, token)
				m.removeTermLocked(token)
			}
		}
	} else {
		entry = &docEntry{ordinal: uint32(len(m.names))}
		m.names = append(m.names, doc.Name)
		m.docs[doc.Name] = entry
	}
	entry.content = doc.Content
	entry.lines = doc.Lines
	entry.tokens = doc.Terms()
	for _, token := range entry.tokens {
		postings, ok := m.index[token]
		if !ok {
			postings = make(map[string]*Posting)
			m.index[token] = postings
			m.insertTermLocked(token)
		}
		postings[doc.Name] = doc.Postings[token]
	}
}

func (m *MemoryIndex) clearLocked() {
	m.index = make(map[string]map[string]*Posting)
	m.docs = make(map[string]*docEntry)
	m.names = nil
	m.terms = nil
}

func (m *MemoryIndex) postingsLocked(term string) PostingList {
	docs := m.index[term]
	result := make(PostingList, 0, len(docs))
	for _, posting := range docs {
		result = append(result, *posting)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Doc < result[j].Doc
	})
	return result
}

func (m *MemoryIndex) insertTermLocked(term string) {
	i := sort.SearchStrings(m.terms, term)
	if i < len(m.terms) && m.terms[i] == term {
		return
	}
	m.terms = slices.Insert(m.terms, i, term)
}

func (m *MemoryIndex) removeTermLocked(term string) {
	i := sort.SearchStrings(m.terms, term)
	if i < len(m.terms) && m.terms[i] == term {
		m.terms = slices.Delete(m.terms, i, i+1)
	}
}

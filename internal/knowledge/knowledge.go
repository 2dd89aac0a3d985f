// Package knowledge implements the retrieval service behind the authoring
// agents. Documents keep their full bodies in the relational store; only a
// compact metadata blob (title, keywords, tags, summary) is embedded into
// the vector store, partitioned into one collection per domain plus a shared
// common collection that mirrors everything. Searches blend cosine
// similarity over those embeddings with a lexical relevance score and
// rehydrate hits with full bodies before returning them.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/magpieflow/magpie/internal/logging"
	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/vector"
)

const (
	// DefaultSemanticWeight favors the embedding score over the lexical
	// one when blending.
	DefaultSemanticWeight = 0.7

	// DefaultSummaryTokens bounds the stored summary, which doubles as
	// the lexical search surface.
	DefaultSummaryTokens = 120

	// DefaultContextTokens bounds rendered agent context.
	DefaultContextTokens = 4000

	// maxKeywords caps how many extracted terms a document carries.
	maxKeywords = 10

	// maxBlobRunes caps the embeddable metadata blob.
	maxBlobRunes = 1024
)

// Embedder turns text into a vector. *llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Service coordinates the document store, the vector index, and the domain
// registry.
type Service struct {
	store    *store.Store
	vectors  *vector.Store
	embedder Embedder
	logger   *log.Logger

	semanticWeight float64
	summaryTokens  int
	contextTokens  int
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithDefaultSemanticWeight sets the default blend weight for searches.
func WithDefaultSemanticWeight(w float64) Option {
	return func(s *Service) { s.semanticWeight = clampWeight(w) }
}

// WithSummaryTokens sets how many leading tokens of a body become its
// summary.
func WithSummaryTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.summaryTokens = n
		}
	}
}

// WithContextTokens sets the default budget for BuildContext.
func WithContextTokens(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.contextTokens = n
		}
	}
}

// NewService wires the service and guarantees the common domain exists.
func NewService(st *store.Store, vs *vector.Store, emb Embedder, opts ...Option) (*Service, error) {
	s := &Service{
		store:          st,
		vectors:        vs,
		embedder:       emb,
		logger:         logging.New("knowledge"),
		semanticWeight: DefaultSemanticWeight,
		summaryTokens:  DefaultSummaryTokens,
		contextTokens:  DefaultContextTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureCommonDomain(); err != nil {
		return nil, err
	}
	return s, nil
}

// AddDocument derives a document's metadata (summary, keywords, content
// hash), resolves its home domain, stores it, and indexes its metadata blob
// into the home domain's collection plus common. A document with no clear
// home domain lands in common only.
func (s *Service) AddDocument(ctx context.Context, doc *store.Document) error {
	if err := s.ingest(ctx, doc); err != nil {
		return err
	}
	s.logger.Info("added document", "id", doc.ID, "title", doc.Title, "domain", homeLabel(doc.Domain))
	return nil
}

// UpdateDocument replaces a stored document and re-indexes it: prior vector
// entries are removed from every collection first. Leave doc.Domain empty
// to re-detect the home domain from the new content.
func (s *Service) UpdateDocument(ctx context.Context, doc *store.Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id is required")
	}
	if _, err := s.store.GetDocument(doc.ID); err != nil {
		return err
	}
	if _, err := s.vectors.DeleteEverywhere(doc.ID); err != nil {
		return fmt.Errorf("removing stale vectors: %w", err)
	}
	if err := s.ingest(ctx, doc); err != nil {
		return err
	}
	s.logger.Info("updated document", "id", doc.ID, "title", doc.Title, "domain", homeLabel(doc.Domain))
	return nil
}

// DeleteDocument removes a document and its vectors from every collection.
func (s *Service) DeleteDocument(id string) error {
	if err := s.store.DeleteDocument(id); err != nil {
		return err
	}
	if _, err := s.vectors.DeleteEverywhere(id); err != nil {
		return fmt.Errorf("removing vectors: %w", err)
	}
	s.logger.Info("deleted document", "id", id)
	return nil
}

func (s *Service) ingest(ctx context.Context, doc *store.Document) error {
	if strings.TrimSpace(doc.Title) == "" {
		return fmt.Errorf("document title is required")
	}
	if strings.TrimSpace(doc.Content) == "" {
		return fmt.Errorf("document content is required")
	}
	if !doc.Category.Valid() {
		return fmt.Errorf("unknown document category %q", doc.Category)
	}

	// A categorized document belongs to the base grouping that category.
	if doc.Category != "" && doc.KnowledgeBaseID == "" {
		kb, err := s.ensureBase(doc.Category)
		if err != nil {
			return err
		}
		doc.KnowledgeBaseID = kb.ID
	}

	doc.Summary = summarize(doc.Content, s.summaryTokens)
	doc.Keywords = extractKeywords(doc.Content, maxKeywords)
	doc.ContentHash = contentHash(doc.Content)

	domain := strings.ToLower(strings.TrimSpace(doc.Domain))
	if domain != "" {
		if _, err := s.EnsureDomain(domain); err != nil {
			return err
		}
	} else {
		detected, err := s.detectHomeDomain(doc)
		if err != nil {
			return err
		}
		domain = detected
	}
	doc.Domain = domain

	vec, err := s.embedder.Embed(ctx, metadataBlob(doc))
	if err != nil {
		return fmt.Errorf("embedding %q: %w", doc.Title, err)
	}
	if err := s.store.PutDocument(doc); err != nil {
		return err
	}

	collections := []string{collectionName(CommonDomain)}
	if domain != "" {
		collections = append(collections, collectionName(domain))
	}
	for _, col := range collections {
		if err := s.vectors.Upsert(col, doc.ID, vec); err != nil {
			return fmt.Errorf("indexing into %s: %w", col, err)
		}
	}
	return nil
}

// ensureBase returns the knowledge base for a category, creating it on
// first use. A base created here is named after its category.
func (s *Service) ensureBase(category store.DocumentCategory) (*store.KnowledgeBase, error) {
	kb, err := s.store.FindKnowledgeBase(category)
	if err == nil {
		return kb, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	kb = &store.KnowledgeBase{Name: string(category), Category: category}
	if err := s.store.PutKnowledgeBase(kb); err != nil {
		return nil, fmt.Errorf("creating knowledge base for %s: %w", category, err)
	}
	s.logger.Info("created knowledge base", "category", category, "id", kb.ID)
	return kb, nil
}

// DeleteKnowledgeBase removes a base, its documents, and their vector
// entries.
func (s *Service) DeleteKnowledgeBase(id string) error {
	docIDs, err := s.store.DeleteKnowledgeBase(id)
	if err != nil {
		return err
	}
	for _, docID := range docIDs {
		if _, err := s.vectors.DeleteEverywhere(docID); err != nil {
			return fmt.Errorf("removing vectors for %s: %w", docID, err)
		}
	}
	s.logger.Info("deleted knowledge base", "id", id, "documents", len(docIDs))
	return nil
}

// detectHomeDomain classifies a document by its title and content. Ties
// between the top candidates are treated as ambiguous, which means common
// only.
func (s *Service) detectHomeDomain(doc *store.Document) (string, error) {
	matches, err := s.Detect(doc.Title + "\n" + doc.Content)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	if len(matches) > 1 &&
		matches[0].Matches == matches[1].Matches &&
		matches[0].Specificity == matches[1].Specificity {
		return "", nil
	}
	return matches[0].Name, nil
}

func homeLabel(domain string) string {
	if domain == "" {
		return CommonDomain
	}
	return domain
}

func clampWeight(w float64) float64 {
	if w < 0 {
		return 0
	}
	if w > 1 {
		return 1
	}
	return w
}

package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/magpieflow/magpie/internal/store"
)

const defaultSearchLimit = 5

// Hit is one search result, rehydrated with the full document.
type Hit struct {
	Document *store.Document
	Score    float64
	Semantic float64
	Lexical  float64
}

type searchParams struct {
	domain   string
	category store.DocumentCategory
	limit    int
	weight   float64
}

// SearchOption adjusts a single search.
type SearchOption func(*searchParams)

// InDomain restricts routing to one domain (plus common).
func InDomain(domain string) SearchOption {
	return func(p *searchParams) { p.domain = strings.ToLower(strings.TrimSpace(domain)) }
}

// InCategory admits only documents of one category. Categories filter the
// candidate set; they do not change collection routing, which stays
// domain-based.
func InCategory(category store.DocumentCategory) SearchOption {
	return func(p *searchParams) { p.category = category }
}

// WithLimit sets the maximum number of hits.
func WithLimit(n int) SearchOption {
	return func(p *searchParams) {
		if n > 0 {
			p.limit = n
		}
	}
}

// WithSemanticWeight overrides the blend weight for this search. Zero is
// pure lexical and skips embedding entirely; one is pure semantic.
func WithSemanticWeight(w float64) SearchOption {
	return func(p *searchParams) { p.weight = clampWeight(w) }
}

// Search runs a hybrid query. The final score of each hit blends cosine
// similarity against the embedded metadata with a lexical score:
// weight*semantic + (1-weight)*lexical. Routing picks which collections the
// semantic side queries: an explicit domain plus common, else the detected
// domains plus common, else every collection. A category filter narrows the
// candidate set before ranking. Each query is recorded in the query log.
func (s *Service) Search(ctx context.Context, query string, opts ...SearchOption) ([]Hit, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("search query is required")
	}

	p := searchParams{limit: defaultSearchLimit, weight: s.semanticWeight}
	for _, opt := range opts {
		opt(&p)
	}

	started := time.Now()

	routed, collections, err := s.route(query, p.domain)
	if err != nil {
		return nil, err
	}

	semantic := make(map[string]float64)
	if p.weight > 0 {
		semantic, err = s.semanticScores(ctx, query, collections, p.limit*2)
		if err != nil {
			return nil, err
		}
	}

	terms := queryTerms(query)
	lexical := make(map[string]float64)
	docs := make(map[string]*store.Document)
	all, err := s.store.ListDocuments("")
	if err != nil {
		return nil, err
	}
	for _, d := range all {
		docs[d.ID] = d
		if sc := lexicalScore(terms, d); sc > 0 {
			lexical[d.ID] = sc
		}
	}

	ids := make(map[string]bool, len(semantic)+len(lexical))
	for id := range semantic {
		ids[id] = true
	}
	for id := range lexical {
		ids[id] = true
	}

	hits := make([]Hit, 0, len(ids))
	for id := range ids {
		doc := docs[id]
		if doc == nil {
			// A vector whose document was deleted out from under it.
			continue
		}
		if p.category != "" && doc.Category != p.category {
			continue
		}
		hits = append(hits, Hit{
			Document: doc,
			Semantic: semantic[id],
			Lexical:  lexical[id],
			Score:    p.weight*semantic[id] + (1-p.weight)*lexical[id],
		})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Document.ID < hits[j].Document.ID
	})
	if len(hits) > p.limit {
		hits = hits[:p.limit]
	}

	s.logQuery(query, routed, len(hits), time.Since(started))
	return hits, nil
}

// route resolves which domains a query targets and the collections to scan.
// routed holds the domain names for the query log; it stays empty when the
// query falls through to every collection.
func (s *Service) route(query, explicit string) (routed, collections []string, err error) {
	if explicit != "" {
		return []string{explicit}, []string{collectionName(explicit), collectionName(CommonDomain)}, nil
	}
	matches, err := s.Detect(query)
	if err != nil {
		return nil, nil, err
	}
	if len(matches) > 0 {
		for _, m := range matches {
			routed = append(routed, m.Name)
			collections = append(collections, collectionName(m.Name))
		}
		collections = append(collections, collectionName(CommonDomain))
		return routed, collections, nil
	}
	collections, err = s.vectors.Collections()
	if err != nil {
		return nil, nil, err
	}
	return nil, collections, nil
}

// semanticScores embeds the query once and fans out over the collections,
// keeping the best cosine score per document.
func (s *Service) semanticScores(ctx context.Context, query string, collections []string, topK int) (map[string]float64, error) {
	qvec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	scores := make(map[string]float64)
	var mu sync.Mutex
	var g errgroup.Group
	for _, col := range collections {
		g.Go(func() error {
			hits, err := s.vectors.Query(col, qvec, topK)
			if err != nil {
				return fmt.Errorf("querying %s: %w", col, err)
			}
			mu.Lock()
			defer mu.Unlock()
			for _, h := range hits {
				if existing, ok := scores[h.ID]; !ok || h.Score > existing {
					scores[h.ID] = h.Score
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

// BuildContext renders hits into a single context window for an agent
// prompt, in the given score order. Each entry carries its title and domain;
// entries that would push past the token budget are dropped. A budget of
// zero or less uses the service default.
func (s *Service) BuildContext(hits []Hit, maxTokens int) string {
	if maxTokens <= 0 {
		maxTokens = s.contextTokens
	}

	var parts []string
	used := 0
	for _, h := range hits {
		if h.Document == nil {
			continue
		}
		entry := fmt.Sprintf("**%s** (%s)\n\n%s\n\n---\n",
			h.Document.Title, homeLabel(h.Document.Domain), strings.TrimSpace(h.Document.Content))
		cost := approxTokens(entry)
		if used+cost > maxTokens {
			s.logger.Debug("context budget reached", "included", len(parts), "budget", maxTokens)
			break
		}
		parts = append(parts, entry)
		used += cost
	}
	return strings.Join(parts, "\n")
}

// logQuery records the search for later analysis. Failures are logged, not
// returned; analytics never break a search.
func (s *Service) logQuery(query string, domains []string, hits int, elapsed time.Duration) {
	entry := &store.QueryLogEntry{
		Query:     query,
		Domains:   domains,
		Hits:      hits,
		LatencyMS: elapsed.Milliseconds(),
	}
	if err := s.store.AppendQueryLog(entry); err != nil {
		s.logger.Warn("recording query log", "error", err)
	}
}

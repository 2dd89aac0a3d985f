package knowledge

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magpieflow/magpie/internal/store"
	"github.com/magpieflow/magpie/internal/vector"
)

// fakeEmbedder maps each axis word to one vector dimension by occurrence
// count, plus a constant bias dimension so no vector is ever zero. Texts
// about the same axis word land close together under cosine similarity.
type fakeEmbedder struct {
	axes  []string
	calls atomic.Int32
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	text = strings.ToLower(text)
	vec := make([]float32, len(f.axes)+1)
	for i, w := range f.axes {
		vec[i] = float32(strings.Count(text, w))
	}
	vec[len(f.axes)] = 1
	return vec, nil
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("embedding unavailable")
}

func newTestService(t *testing.T, opts ...Option) (*Service, *fakeEmbedder) {
	t.Helper()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vs, err := vector.Open(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })

	emb := &fakeEmbedder{axes: []string{"weather", "payment"}}
	svc, err := NewService(st, vs, emb, append([]Option{WithLogger(log.New(io.Discard))}, opts...)...)
	require.NoError(t, err)
	return svc, emb
}

func TestNewService_CreatesCommonDomain(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	d, err := svc.store.GetDomain(CommonDomain)
	require.NoError(t, err)
	assert.True(t, d.Active)
	assert.NotEmpty(t, d.Keywords)
}

func TestAddDocument_ComputesMetadata(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	doc := &store.Document{
		Title:   "Weather API Guide",
		Content: "weather weather weather forecast forecast endpoint the a to x",
		Domain:  "weather",
		Tags:    []string{"api"},
	}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, doc.Content, doc.Summary)
	assert.Equal(t, []string{"weather", "forecast", "endpoint"}, doc.Keywords)
	assert.Len(t, doc.ContentHash, 16)

	stored, err := svc.store.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "weather", stored.Domain)

	// The explicit domain is registered on the fly.
	_, err = svc.store.GetDomain("weather")
	require.NoError(t, err)

	n, err := svc.vectors.Count(collectionName("weather"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.vectors.Count(collectionName(CommonDomain))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddDocument_DetectsHomeDomain(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("weather", "weather", "forecast")
	require.NoError(t, err)

	doc := &store.Document{
		Title:   "Reading the forecast feed",
		Content: "How to poll the forecast feed and cache responses.",
	}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	assert.Equal(t, "weather", doc.Domain)
	n, err := svc.vectors.Count(collectionName("weather"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddDocument_AmbiguousLandsInCommonOnly(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	_, err := svc.EnsureDomain("queues", "kafka")
	require.NoError(t, err)
	_, err = svc.EnsureDomain("caches", "redis")
	require.NoError(t, err)

	doc := &store.Document{
		Title:   "Connecting services",
		Content: "Pipe events through kafka and memoize lookups in redis.",
	}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	assert.Empty(t, doc.Domain)
	for _, domain := range []string{"queues", "caches"} {
		n, err := svc.vectors.Count(collectionName(domain))
		require.NoError(t, err)
		assert.Zero(t, n, domain)
	}
	n, err := svc.vectors.Count(collectionName(CommonDomain))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddDocument_NoMatchLandsInCommonOnly(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	doc := &store.Document{Title: "Orientation notes", Content: "General onboarding material."}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	assert.Empty(t, doc.Domain)
	n, err := svc.vectors.Count(collectionName(CommonDomain))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestAddDocument_Validation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	err := svc.AddDocument(context.Background(), &store.Document{Content: "body"})
	assert.ErrorContains(t, err, "title is required")

	err = svc.AddDocument(context.Background(), &store.Document{Title: "t", Content: "   "})
	assert.ErrorContains(t, err, "content is required")

	err = svc.AddDocument(context.Background(), &store.Document{Title: "t", Content: "c", Category: "gossip"})
	assert.ErrorContains(t, err, "unknown document category")
}

func TestAddDocument_CategorizedJoinsBase(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	first := &store.Document{Title: "Polling template", Content: "poll and collect", Category: store.CategoryCodeTemplates}
	require.NoError(t, svc.AddDocument(context.Background(), first))
	require.NotEmpty(t, first.KnowledgeBaseID)

	// A second document of the same category joins the same base.
	second := &store.Document{Title: "Batch template", Content: "batch and submit", Category: store.CategoryCodeTemplates}
	require.NoError(t, svc.AddDocument(context.Background(), second))
	assert.Equal(t, first.KnowledgeBaseID, second.KnowledgeBaseID)

	bases, err := svc.store.ListKnowledgeBases()
	require.NoError(t, err)
	require.Len(t, bases, 1)
	assert.Equal(t, store.CategoryCodeTemplates, bases[0].Category)
}

func TestDeleteKnowledgeBase_RemovesDocumentsAndVectors(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	doc := &store.Document{Title: "Old fix", Content: "weather retry notes", Category: store.CategoryErrorSolutions}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	require.NoError(t, svc.DeleteKnowledgeBase(doc.KnowledgeBaseID))

	_, err := svc.store.GetDocument(doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	n, err := svc.vectors.Count(collectionName(CommonDomain))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAddDocument_EmbedderFailureStoresNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	st, err := store.Open(filepath.Join(dir, "magpie.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	vs, err := vector.Open(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { vs.Close() })

	svc, err := NewService(st, vs, failingEmbedder{}, WithLogger(log.New(io.Discard)))
	require.NoError(t, err)

	err = svc.AddDocument(context.Background(), &store.Document{Title: "t", Content: "body"})
	require.ErrorContains(t, err, "embedding")

	docs, err := st.ListDocuments("")
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestUpdateDocument_Reindexes(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	doc := &store.Document{Title: "Billing hooks", Content: "payment payment retries", Domain: "payments"}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	doc.Content = "weather weather polling"
	doc.Domain = "climate"
	require.NoError(t, svc.UpdateDocument(context.Background(), doc))

	n, err := svc.vectors.Count(collectionName("payments"))
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = svc.vectors.Count(collectionName("climate"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = svc.vectors.Count(collectionName(CommonDomain))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stored, err := svc.store.GetDocument(doc.ID)
	require.NoError(t, err)
	assert.Equal(t, "weather weather polling", stored.Content)
	assert.Equal(t, []string{"weather", "polling"}, stored.Keywords)
}

func TestUpdateDocument_UnknownID(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	err := svc.UpdateDocument(context.Background(), &store.Document{ID: "missing", Title: "t", Content: "c"})
	assert.ErrorIs(t, err, store.ErrNotFound)

	err = svc.UpdateDocument(context.Background(), &store.Document{Title: "t", Content: "c"})
	assert.ErrorContains(t, err, "id is required")
}

func TestDeleteDocument_RemovesVectors(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	doc := &store.Document{Title: "Forecast polling", Content: "weather data", Domain: "weather"}
	require.NoError(t, svc.AddDocument(context.Background(), doc))

	require.NoError(t, svc.DeleteDocument(doc.ID))

	_, err := svc.store.GetDocument(doc.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	for _, col := range []string{collectionName("weather"), collectionName(CommonDomain)} {
		n, err := svc.vectors.Count(col)
		require.NoError(t, err)
		assert.Zero(t, n, col)
	}
}

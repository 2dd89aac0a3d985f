package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutKnowledgeBase_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	kb := &KnowledgeBase{Name: "patterns", Category: CategoryWorkflowPatterns}
	require.NoError(t, s.PutKnowledgeBase(kb))
	require.NotEmpty(t, kb.ID)
	created := kb.CreatedAt

	kb.Description = "reusable workflow shapes"
	require.NoError(t, s.PutKnowledgeBase(kb))

	got, err := s.GetKnowledgeBase(kb.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "reusable workflow shapes", got.Description)
	assert.Equal(t, CategoryWorkflowPatterns, got.Category)

	_, err = s.GetKnowledgeBase("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutKnowledgeBase_RejectsUnknownCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.PutKnowledgeBase(&KnowledgeBase{Name: "bad", Category: "gossip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown knowledge base category")
}

func TestFindKnowledgeBase_ByCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.PutKnowledgeBase(&KnowledgeBase{Name: "fixes", Category: CategoryErrorSolutions}))

	kb, err := s.FindKnowledgeBase(CategoryErrorSolutions)
	require.NoError(t, err)
	assert.Equal(t, "fixes", kb.Name)

	_, err = s.FindKnowledgeBase(CategoryCodeTemplates)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteKnowledgeBase_CascadesToDocuments(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	kb := &KnowledgeBase{Name: "fixes", Category: CategoryErrorSolutions}
	require.NoError(t, s.PutKnowledgeBase(kb))

	owned := &Document{Title: "timeout fix", Content: "raise it", KnowledgeBaseID: kb.ID, Category: CategoryErrorSolutions}
	require.NoError(t, s.PutDocument(owned))
	stray := &Document{Title: "stray", Content: "x", Domain: "common"}
	require.NoError(t, s.PutDocument(stray))

	deleted, err := s.DeleteKnowledgeBase(kb.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{owned.ID}, deleted)

	_, err = s.GetKnowledgeBase(kb.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetDocument(owned.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	kept, err := s.GetDocument(stray.ID)
	require.NoError(t, err)
	assert.Equal(t, "stray", kept.Title)

	_, err = s.DeleteKnowledgeBase(kb.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPutDocument_PreservesCreatedAt(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	d := &Document{Title: "retry patterns", Content: "use backoff", Domain: "common"}
	require.NoError(t, s.PutDocument(d))
	created := d.CreatedAt
	require.False(t, created.IsZero())

	d.Content = "use exponential backoff"
	require.NoError(t, s.PutDocument(d))

	got, err := s.GetDocument(d.ID)
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Equal(t, "use exponential backoff", got.Content)
}

func TestListDocuments_FilterByDomain(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.PutDocument(&Document{Title: "a", Content: "a", Domain: "common"}))
	require.NoError(t, s.PutDocument(&Document{Title: "b", Content: "b", Domain: "finance"}))

	all, err := s.ListDocuments("")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	finance, err := s.ListDocuments("finance")
	require.NoError(t, err)
	require.Len(t, finance, 1)
	assert.Equal(t, "b", finance[0].Title)
}

func TestPutDocument_RejectsUnknownCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	err := s.PutDocument(&Document{Title: "bad", Content: "x", Category: "gossip"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown document category")
}

func TestListDocumentsByCategory(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.PutDocument(&Document{Title: "a", Content: "a", Category: CategoryCodeTemplates}))
	require.NoError(t, s.PutDocument(&Document{Title: "b", Content: "b", Category: CategoryBestPractices}))
	require.NoError(t, s.PutDocument(&Document{Title: "c", Content: "c"}))

	templates, err := s.ListDocumentsByCategory(CategoryCodeTemplates)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, "a", templates[0].Title)

	none, err := s.ListDocumentsByCategory(CategoryIntegrationExamples)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	d := &Document{Title: "gone", Content: "x", Domain: "common"}
	require.NoError(t, s.PutDocument(d))
	require.NoError(t, s.DeleteDocument(d.ID))

	_, err := s.GetDocument(d.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteDocument(d.ID), ErrNotFound)
}

func TestPutDomain_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	d := &Domain{Name: "finance", Description: "money things", Keywords: []string{"invoice", "ledger"}, Active: true}
	require.NoError(t, s.PutDomain(d))
	created := d.CreatedAt

	d.Keywords = append(d.Keywords, "budget")
	require.NoError(t, s.PutDomain(d))

	got, err := s.GetDomain("finance")
	require.NoError(t, err)
	assert.Equal(t, created, got.CreatedAt)
	assert.Len(t, got.Keywords, 3)

	_, err = s.GetDomain("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListDomains_SortedByName(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.PutDomain(&Domain{Name: "zoo", Active: true}))
	require.NoError(t, s.PutDomain(&Domain{Name: "common", Active: true}))

	domains, err := s.ListDomains()
	require.NoError(t, err)
	require.Len(t, domains, 2)
	assert.Equal(t, "common", domains[0].Name)
	assert.Equal(t, "zoo", domains[1].Name)
}

func TestQueryLog_AppendAndRecent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	for _, q := range []string{"first", "second", "third"} {
		require.NoError(t, s.AppendQueryLog(&QueryLogEntry{Query: q, Hits: 1, LatencyMS: 3}))
	}

	recent, err := s.RecentQueries(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Query)
	assert.Equal(t, "second", recent[1].Query)
	assert.Greater(t, recent[0].Seq, recent[1].Seq)

	all, err := s.RecentQueries(10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedThings(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, d := range []testDoc{
		{Name: "c", Count: 10, OK: true},
		{Name: "a", Count: 9, OK: false},
		{Name: "b", Count: 100, OK: true},
		{Name: "a", Count: 1, OK: true},
	} {
		_, err := s.Create(ctx, "things", d)
		require.NoError(t, err)
	}
	_, err := s.Create(ctx, "other", testDoc{Name: "a"})
	require.NoError(t, err)
}

func names(t *testing.T, docs []Document) []string {
	t.Helper()
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		var td testDoc
		require.NoError(t, d.Decode(&td))
		out = append(out, td.Name)
	}
	return out
}

func TestSearch(t *testing.T) {
	s := createTestStore(t)
	seedThings(t, s)

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{name: "insertion order", q: Query{Collection: "things"}, want: []string{"c", "a", "b", "a"}},
		{name: "newest first", q: Query{Collection: "things", Desc: true}, want: []string{"a", "b", "a", "c"}},
		{name: "match string", q: Query{Collection: "things", Match: map[string]string{"name": "a"}}, want: []string{"a", "a"}},
		{name: "match bool", q: Query{Collection: "things", Match: map[string]string{"ok": "true"}}, want: []string{"c", "b", "a"}},
		{name: "match two fields", q: Query{Collection: "things", Match: map[string]string{"name": "a", "ok": "true"}}, want: []string{"a"}},
		{name: "match number", q: Query{Collection: "things", Match: map[string]string{"count": "100"}}, want: []string{"b"}},
		{name: "no match", q: Query{Collection: "things", Match: map[string]string{"name": "z"}}, want: []string{}},
		{name: "sort numeric not lexical", q: Query{Collection: "things", SortBy: "count"}, want: []string{"a", "a", "c", "b"}},
		{name: "sort numeric desc", q: Query{Collection: "things", SortBy: "count", Desc: true}, want: []string{"b", "c", "a", "a"}},
		{name: "sort text", q: Query{Collection: "things", SortBy: "name"}, want: []string{"a", "a", "b", "c"}},
		{name: "offset and limit", q: Query{Collection: "things", SortBy: "count", Offset: 1, Limit: 2}, want: []string{"a", "c"}},
		{name: "other collection", q: Query{Collection: "other"}, want: []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := s.Search(context.Background(), tt.q)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(t, docs))
		})
	}
}

func TestSearch_TiesBrokenByInsertionOrder(t *testing.T) {
	s := createTestStore(t)
	seedThings(t, s)

	docs, err := s.Search(context.Background(), Query{Collection: "things", SortBy: "name"})
	require.NoError(t, err)
	require.Len(t, docs, 4)
	assert.Less(t, docs[0].Seq, docs[1].Seq)
	assert.Equal(t, "doc-0002", docs[0].ID)
	assert.Equal(t, "doc-0004", docs[1].ID)
}

func TestSearch_Window(t *testing.T) {
	s := createTestStore(t)
	seedThings(t, s)

	docs, err := s.Search(context.Background(), Query{Collection: "things", Offset: DefaultWindow})
	require.NoError(t, err)
	assert.Empty(t, docs)

	_, err = s.Search(context.Background(), Query{Collection: "things", Limit: -1})
	assert.Error(t, err)
}

func TestDistinct(t *testing.T) {
	s := createTestStore(t)
	seedThings(t, s)
	ctx := context.Background()

	got, err := s.Distinct(ctx, "things", "name", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = s.Distinct(ctx, "things", "name", map[string]string{"ok": "true"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)

	got, err = s.Distinct(ctx, "things", "name", map[string]string{"ok": "false"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got)

	got, err = s.Distinct(ctx, "things", "missing", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

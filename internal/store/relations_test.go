package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/ir"
)

func testRelation(id, url string, cols int) ir.Relation {
	rel := ir.Relation{ID: id, Name: id, URL: url, RowXPath: "/html/body/ul/li[*]", Next: ir.NextControl{Type: ir.NextNone}}
	for i := 0; i < cols; i++ {
		rel.Columns = append(rel.Columns, ir.Column{Name: string(rune('a' + i)), Suffix: "/span"})
	}
	return rel
}

func ids(rels []ir.Relation) []string {
	out := make([]string, len(rels))
	for i, r := range rels {
		out[i] = r.ID
	}
	return out
}

func TestRetrieveCandidateRelations_Ranking(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRelation(ctx, testRelation("host-only", "https://shop.test/about", 1)))
	clock.Advance(time.Second)
	require.NoError(t, s.SaveRelation(ctx, testRelation("same-path", "https://shop.test/items?page=2", 1)))
	clock.Advance(time.Second)
	require.NoError(t, s.SaveRelation(ctx, testRelation("exact", "https://shop.test/items?page=1", 1)))
	clock.Advance(time.Second)
	require.NoError(t, s.SaveRelation(ctx, testRelation("wide", "https://shop.test/other", 4)))
	require.NoError(t, s.SaveRelation(ctx, testRelation("elsewhere", "https://other.test/items", 9)))

	got, err := s.RetrieveCandidateRelations(ctx, "https://shop.test/items?page=1", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "same-path", "wide", "host-only"}, ids(got))

	limited, err := s.RetrieveCandidateRelations(ctx, "https://shop.test/items?page=1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"exact", "same-path"}, ids(limited))
}

func TestRetrieveCandidateRelations_RecencyBreaksTies(t *testing.T) {
	s, clock := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveRelation(ctx, testRelation("old", "https://shop.test/a", 2)))
	clock.Advance(time.Minute)
	require.NoError(t, s.SaveRelation(ctx, testRelation("new", "https://shop.test/b", 2)))

	got, err := s.RetrieveCandidateRelations(ctx, "https://shop.test/c", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"new", "old"}, ids(got))
}

func TestSaveRelation_RoundTripAndReplace(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	rel := testRelation("r", "https://shop.test/items", 2)
	rel.Next = ir.NextControl{Type: ir.NextButton, XPath: "//a[@id='next']", Text: "Next"}
	rel.Columns[0].FirstRow = ir.NodeRep{Text: "first", XPath: "/html/body/ul/li[1]/span"}
	require.NoError(t, s.SaveRelation(ctx, rel))

	got, err := s.RetrieveCandidateRelations(ctx, "https://shop.test/items", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rel, got[0])

	rel.Name = "renamed"
	require.NoError(t, s.SaveRelation(ctx, rel))
	got, err = s.RetrieveCandidateRelations(ctx, "https://shop.test/items", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "renamed", got[0].Name)
}

func TestSaveRelation_EmptyID(t *testing.T) {
	s, _ := createTestStore(t)
	err := s.SaveRelation(context.Background(), ir.Relation{URL: "https://x.test"})
	assert.Error(t, err)
}

func TestRetrieveCandidateRelations_BadURL(t *testing.T) {
	s, _ := createTestStore(t)
	got, err := s.RetrieveCandidateRelations(context.Background(), "not a url", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

package cli

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/harvest/internal/ir"
	"github.com/roach88/harvest/internal/store"
)

func seedRelations(t *testing.T, path string) {
	t.Helper()
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	for _, rel := range []ir.Relation{
		{
			ID: "books-any", Name: "Any books", URL: "https://books.test/fiction",
			RowXPath: "//li[*]", Columns: []ir.Column{{Name: "title"}},
		},
		{
			ID: "books-history", Name: "History books", URL: "https://books.test/history",
			RowXPath: "/html/body/table/tr[*]", Columns: []ir.Column{{Name: "title"}, {Name: "author"}},
		},
		{
			ID: "other-site", URL: "https://elsewhere.test/history",
			RowXPath: "//li[*]", Columns: []ir.Column{{Name: "title"}},
		},
	} {
		require.NoError(t, st.SaveRelation(context.Background(), rel))
	}
}

func TestRelationsRankedText(t *testing.T) {
	root := testRoot(t, "text")
	seedRelations(t, root.Config.Database)

	out, _, err := execute(NewRelationsCommand(root), "https://books.test/history")
	require.NoError(t, err)
	assert.Contains(t, out, "1. History books (books-history)")
	assert.Contains(t, out, "   columns: title, author")
	assert.Contains(t, out, "2. Any books (books-any)")
	assert.NotContains(t, out, "other-site")
}

func TestRelationsJSONLimit(t *testing.T) {
	root := testRoot(t, "json")
	seedRelations(t, root.Config.Database)

	out, _, err := execute(NewRelationsCommand(root), "https://books.test/history", "--limit", "1")
	require.NoError(t, err)

	var resp struct {
		Status string          `json:"status"`
		Data   RelationsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Relations, 1)
	assert.Equal(t, "books-history", resp.Data.Relations[0].ID)
	assert.Equal(t, "/html/body/table/tr[*]", resp.Data.Relations[0].RowXPath)
}

func TestRelationsNoneFound(t *testing.T) {
	root := testRoot(t, "text")
	seedRelations(t, root.Config.Database)

	out, _, err := execute(NewRelationsCommand(root), "https://unknown.test/")
	require.NoError(t, err)
	assert.Equal(t, "No relations found for https://unknown.test/\n", out)
}

func TestRelationsNegativeLimit(t *testing.T) {
	_, _, err := execute(NewRelationsCommand(testRoot(t, "text")), "https://books.test/", "--limit", "-1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestSummarizeRelationFallsBackToID(t *testing.T) {
	s := summarizeRelation(ir.Relation{ID: "r1", Columns: []ir.Column{{Name: "a"}}})
	assert.Equal(t, "r1", s.Name)
	assert.Equal(t, []string{"a"}, s.Columns)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/roach88/harvest/internal/ir"
)

// SaveRelation stores a relation so later programs can reuse it.
// Saving an id again replaces the stored document.
func (s *Store) SaveRelation(ctx context.Context, rel ir.Relation) error {
	if rel.ID == "" {
		return fmt.Errorf("save relation: empty id")
	}
	doc, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("save relation: %w", err)
	}
	host, _ := splitURL(rel.URL)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO relations (id, signature, name, url, host, document, saved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			signature = excluded.signature,
			name = excluded.name,
			url = excluded.url,
			host = excluded.host,
			document = excluded.document,
			saved_at = excluded.saved_at
	`, rel.ID, ir.RelationSignature(rel.URL, rel.RowXPath), rel.Name, rel.URL, host, string(doc), formatTime(s.now()))
	if err != nil {
		return fmt.Errorf("save relation: %w", err)
	}
	return nil
}

type relationCandidate struct {
	rel   ir.Relation
	rank  int
	saved string
}

// RetrieveCandidateRelations returns stored relations that may apply to
// a page, best first: exact URL, then same host and path, then same
// host. Ties prefer more columns, then the most recently saved.
func (s *Store) RetrieveCandidateRelations(ctx context.Context, pageURL string, limit int) ([]ir.Relation, error) {
	host, path := splitURL(pageURL)
	if host == "" {
		return []ir.Relation{}, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT url, document, saved_at FROM relations WHERE host = ?
	`, host)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var cands []relationCandidate
	for rows.Next() {
		var u, doc, saved string
		if err := rows.Scan(&u, &doc, &saved); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		var rel ir.Relation
		if err := json.Unmarshal([]byte(doc), &rel); err != nil {
			return nil, fmt.Errorf("decode relation: %w", err)
		}
		c := relationCandidate{rel: rel, saved: saved, rank: 2}
		switch _, p := splitURL(u); {
		case u == pageURL:
			c.rank = 0
		case p == path:
			c.rank = 1
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relations: %w", err)
	}

	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if len(a.rel.Columns) != len(b.rel.Columns) {
			return len(a.rel.Columns) > len(b.rel.Columns)
		}
		if a.saved != b.saved {
			return a.saved > b.saved
		}
		return a.rel.ID < b.rel.ID
	})
	if limit > 0 && len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]ir.Relation, len(cands))
	for i, c := range cands {
		out[i] = c.rel
	}
	return out, nil
}

func splitURL(raw string) (host, path string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	return strings.ToLower(u.Host), strings.TrimSuffix(u.Path, "/")
}

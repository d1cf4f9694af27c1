package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// DefaultWindow bounds how many documents one Search can reach
// (Offset + Limit).
const DefaultWindow = 10000

// Document is a stored document.
type Document struct {
	ID         string
	Collection string
	Seq        int64
	Body       json.RawMessage
}

// Decode unmarshals the document body into out.
func (d Document) Decode(out any) error {
	if err := json.Unmarshal(d.Body, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", d.Collection, d.ID, err)
	}
	return nil
}

// Get loads the document with id from collection and decodes its body
// into out. Returns ErrNotFound if there is none.
func (s *Store) Get(ctx context.Context, collection, id string, out any) error {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM documents WHERE collection = ? AND id = ?",
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("get %s %s: %w", collection, id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("get %s %s: %w", collection, id, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("decode %s %s: %w", collection, id, err)
	}
	return nil
}

// Query selects documents of one collection.
type Query struct {
	Collection string
	// Match restricts results to documents whose top-level field equals the
	// given text. Numbers and booleans match their JSON spelling.
	Match map[string]string
	// SortBy orders by a top-level field, numerically when the field holds
	// numbers. Empty means insertion order.
	SortBy string
	Desc   bool
	Offset int
	// Limit caps the result count. Zero means as many as the window allows.
	Limit int
}

// Search returns the documents selected by q. Offset+Limit never exceeds
// DefaultWindow.
func (s *Store) Search(ctx context.Context, q Query) ([]Document, error) {
	if q.Offset < 0 || q.Limit < 0 {
		return nil, fmt.Errorf("search %s: negative offset or limit", q.Collection)
	}
	limit := DefaultWindow - q.Offset
	if q.Limit > 0 && q.Limit < limit {
		limit = q.Limit
	}
	if limit <= 0 {
		return nil, nil
	}

	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT d.seq, d.id, d.body FROM documents d")
	args = appendMatchJoins(&sb, args, q.Match)
	if q.SortBy != "" {
		sb.WriteString(" LEFT JOIN document_fields s ON s.doc_seq = d.seq AND s.name = ?")
		args = append(args, q.SortBy)
	}
	sb.WriteString(" WHERE d.collection = ?")
	args = append(args, q.Collection)

	if q.SortBy != "" {
		dir := " ASC"
		if q.Desc {
			dir = " DESC"
		}
		sb.WriteString(" ORDER BY s.num_value" + dir + ", s.value" + dir + ", d.seq ASC")
	} else if q.Desc {
		sb.WriteString(" ORDER BY d.seq DESC")
	} else {
		sb.WriteString(" ORDER BY d.seq ASC")
	}
	sb.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, limit, q.Offset)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d := Document{Collection: q.Collection}
		var body string
		if err := rows.Scan(&d.Seq, &d.ID, &body); err != nil {
			return nil, fmt.Errorf("search %s: scan: %w", q.Collection, err)
		}
		d.Body = json.RawMessage(body)
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search %s: %w", q.Collection, err)
	}
	return docs, nil
}

// Distinct returns the distinct values of field among the documents of
// collection that satisfy match, sorted.
func (s *Store) Distinct(ctx context.Context, collection, field string, match map[string]string) ([]string, error) {
	var (
		sb   strings.Builder
		args []any
	)
	sb.WriteString("SELECT DISTINCT v.value FROM documents d")
	args = appendMatchJoins(&sb, args, match)
	sb.WriteString(" JOIN document_fields v ON v.doc_seq = d.seq AND v.name = ?")
	args = append(args, field)
	sb.WriteString(" WHERE d.collection = ? ORDER BY v.value ASC")
	args = append(args, collection)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("distinct %s.%s: scan: %w", collection, field, err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", collection, field, err)
	}
	return out, nil
}

// appendMatchJoins adds one inner join per match term, in key order so the
// generated SQL is stable.
func appendMatchJoins(sb *strings.Builder, args []any, match map[string]string) []any {
	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for i, k := range keys {
		alias := fmt.Sprintf("m%d", i)
		fmt.Fprintf(sb, " JOIN document_fields %s ON %s.doc_seq = d.seq AND %s.name = ? AND %s.value = ?", alias, alias, alias, alias)
		args = append(args, k, match[k])
	}
	return args
}

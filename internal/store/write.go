package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

// Create stores doc as a new document in collection and returns its ID.
// doc is encoded with encoding/json and must encode to a JSON object.
func (s *Store) Create(ctx context.Context, collection string, doc any) (string, error) {
	body, fields, err := encodeDocument(doc)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("create %s: begin tx: %w", collection, err)
	}
	defer tx.Rollback() // No-op if committed

	id := s.ids.Generate()
	res, err := tx.ExecContext(ctx,
		"INSERT INTO documents (id, collection, body) VALUES (?, ?, ?)",
		id, collection, string(body))
	if err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("create %s: get seq: %w", collection, err)
	}
	if err := insertFields(ctx, tx, seq, fields); err != nil {
		return "", fmt.Errorf("create %s: %w", collection, err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("create %s: commit: %w", collection, err)
	}
	return id, nil
}

// GetOrCreate returns the ID of the document stored under key in
// collection, creating it from doc when there is none. created reports
// whether doc was inserted. The lookup and insert happen in one
// transaction against a unique index, so concurrent callers with the same
// key end up with the same document.
func (s *Store) GetOrCreate(ctx context.Context, collection, key string, doc any) (id string, created bool, err error) {
	body, fields, err := encodeDocument(doc)
	if err != nil {
		return "", false, fmt.Errorf("get or create %s: %w", collection, err)
	}
	uk := hashKey(collection, key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("get or create %s: begin tx: %w", collection, err)
	}
	defer tx.Rollback() // No-op if committed

	newID := s.ids.Generate()
	res, err := tx.ExecContext(ctx,
		s.insertIgnore("documents", "id, collection, body, unique_key", "?, ?, ?, ?"),
		newID, collection, string(body), uk)
	if err != nil {
		return "", false, fmt.Errorf("get or create %s: %w", collection, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("get or create %s: rows affected: %w", collection, err)
	}

	if n == 1 {
		seq, err := res.LastInsertId()
		if err != nil {
			return "", false, fmt.Errorf("get or create %s: get seq: %w", collection, err)
		}
		if err := insertFields(ctx, tx, seq, fields); err != nil {
			return "", false, fmt.Errorf("get or create %s: %w", collection, err)
		}
		id, created = newID, true
	} else {
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM documents WHERE collection = ? AND unique_key = ?",
			collection, uk).Scan(&id)
		if err != nil {
			return "", false, fmt.Errorf("get or create %s: query existing: %w", collection, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("get or create %s: commit: %w", collection, err)
	}
	return id, created, nil
}

// field is one indexed top-level scalar of a document body.
type field struct {
	name  string
	value string
	num   sql.NullFloat64
}

// encodeDocument marshals doc and extracts its top-level scalar fields.
// Objects, arrays and nulls are stored in the body but not indexed.
func encodeDocument(doc any) ([]byte, []field, error) {
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("encode document: %w", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, nil, fmt.Errorf("encode document: body must be a JSON object: %w", err)
	}
	if top == nil {
		return nil, nil, fmt.Errorf("encode document: body must be a JSON object, got %s", body)
	}

	fields := make([]field, 0, len(top))
	for name, raw := range top {
		f, ok, err := scalarField(name, raw)
		if err != nil {
			return nil, nil, fmt.Errorf("encode document: field %q: %w", name, err)
		}
		if ok {
			fields = append(fields, f)
		}
	}
	return body, fields, nil
}

func scalarField(name string, raw json.RawMessage) (field, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return field{}, false, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return field{}, false, err
		}
		return field{name: name, value: s}, true, nil
	case 't', 'f':
		return field{name: name, value: string(raw)}, true, nil
	case 'n', '{', '[':
		return field{}, false, nil
	default:
		f, err := strconv.ParseFloat(string(raw), 64)
		if err != nil {
			return field{}, false, err
		}
		return field{name: name, value: string(raw), num: sql.NullFloat64{Float64: f, Valid: true}}, true, nil
	}
}

func insertFields(ctx context.Context, tx *sql.Tx, seq int64, fields []field) error {
	if len(fields) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO document_fields (doc_seq, name, value, num_value) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare field insert: %w", err)
	}
	defer stmt.Close()
	for _, f := range fields {
		if _, err := stmt.ExecContext(ctx, seq, f.name, f.value, f.num); err != nil {
			return fmt.Errorf("insert field %q: %w", f.name, err)
		}
	}
	return nil
}

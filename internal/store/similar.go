package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SimilarQuery asks for the documents whose Field text is most like Like.
type SimilarQuery struct {
	Collection string
	Field      string
	Like       string
	// ExcludeID drops one document (usually the one Like came from).
	ExcludeID string
	// MinTermFreq is how often a term must occur in Like to be used.
	MinTermFreq int
	// MinDocFreq is how many documents must contain a term for it to be used.
	MinDocFreq int
	// MaxQueryTerms keeps only the highest-weighted terms of Like.
	MaxQueryTerms int
	Limit         int
}

// Match is a ranked similarity result.
type Match struct {
	ID    string
	Score float64
}

// Similar ranks the documents of a collection by TF-IDF similarity of
// q.Field to q.Like, more-like-this style. Documents sharing no selected
// term are not returned.
func (s *Store) Similar(ctx context.Context, q SimilarQuery) ([]Match, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, f.value FROM documents d
		JOIN document_fields f ON f.doc_seq = d.seq AND f.name = ?
		WHERE d.collection = ?
		ORDER BY d.seq ASC`, q.Field, q.Collection)
	if err != nil {
		return nil, fmt.Errorf("similar %s.%s: %w", q.Collection, q.Field, err)
	}
	defer rows.Close()

	var corpus []termDoc
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("similar %s.%s: scan: %w", q.Collection, q.Field, err)
		}
		corpus = append(corpus, newTermDoc(id, text))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similar %s.%s: %w", q.Collection, q.Field, err)
	}
	return rankSimilar(corpus, q), nil
}

// termDoc is one document's term frequencies.
type termDoc struct {
	id     string
	terms  map[string]int
	length int
}

func newTermDoc(id, text string) termDoc {
	toks := Tokenize(text)
	tf := make(map[string]int, len(toks))
	for _, t := range toks {
		tf[t]++
	}
	return termDoc{id: id, terms: tf, length: len(toks)}
}

// Tokenize splits text on whitespace and normalises each token to NFC with
// Unicode case folding.
func Tokenize(text string) []string {
	fold := cases.Fold()
	fields := strings.Fields(norm.NFC.String(text))
	for i, f := range fields {
		fields[i] = fold.String(f)
	}
	return fields
}

type queryTerm struct {
	term   string
	idf    float64
	weight float64
}

func rankSimilar(corpus []termDoc, q SimilarQuery) []Match {
	if len(corpus) == 0 {
		return nil
	}
	df := make(map[string]int)
	for _, d := range corpus {
		for t := range d.terms {
			df[t]++
		}
	}

	like := newTermDoc("", q.Like)
	n := float64(len(corpus))
	var terms []queryTerm
	for t, tf := range like.terms {
		if tf < q.MinTermFreq || df[t] < q.MinDocFreq || df[t] == 0 {
			continue
		}
		idf := 1 + math.Log(n/float64(df[t]+1))
		terms = append(terms, queryTerm{term: t, idf: idf, weight: float64(tf) * idf})
	}
	sort.Slice(terms, func(i, j int) bool {
		if terms[i].weight != terms[j].weight {
			return terms[i].weight > terms[j].weight
		}
		return terms[i].term < terms[j].term
	})
	if q.MaxQueryTerms > 0 && len(terms) > q.MaxQueryTerms {
		terms = terms[:q.MaxQueryTerms]
	}

	var out []Match
	for _, d := range corpus {
		if d.id == q.ExcludeID {
			continue
		}
		var score float64
		for _, qt := range terms {
			if tf := d.terms[qt.term]; tf > 0 {
				score += math.Sqrt(float64(tf)) * qt.idf * qt.idf
			}
		}
		if score <= 0 {
			continue
		}
		out = append(out, Match{ID: d.id, Score: score / math.Sqrt(float64(d.length))})
	}
	// Stable keeps corpus (insertion) order among equal scores.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

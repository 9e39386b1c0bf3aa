package model

// Category selects which judge grades a problem.
type Category string

const (
	CategoryCompiled Category = "compiled"
	CategoryQuery    Category = "query"
	CategoryClient   Category = "client"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryCompiled, CategoryQuery, CategoryClient:
		return true
	}
	return false
}

// Problem is immutable once published.
type Problem struct {
	ID        int64    `json:"id"`
	Category  Category `json:"category"`
	Title     string   `json:"title"`
	Published bool     `json:"published"`

	// CorpusKey points at an object holding the hidden corpus; empty means test_cases rows.
	CorpusKey string `json:"corpus_key,omitempty"`

	// Query problems only.
	QuerySetup     string `json:"query_setup,omitempty"`
	QueryReference string `json:"query_reference,omitempty"`
}

// TestCase belongs to exactly one problem.
type TestCase struct {
	ID             int64  `json:"id"`
	ProblemID      int64  `json:"problem_id"`
	Ordinal        int    `json:"ordinal"`
	Input          string `json:"input"`
	ExpectedOutput string `json:"expected_output"`
	Hidden         bool   `json:"hidden"`
}

package models

// Question is a single generated quiz question. Immutable once generated;
// the answer is precomputed so scoring never re-evaluates the expression.
type Question struct {
	Expression string `json:"question"`
	Answer     int    `json:"answer"`
	Position   int    `json:"position"`
}

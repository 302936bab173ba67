// Package search provides full-text search over decided agenda items.
// Meilisearch is preferred; the Postgres archive serves as fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	SessionCode string `json:"sessionCode"`
	SessionDate string `json:"sessionDate"`
	Title       string `json:"title"`
	Decision    string `json:"decision"`
	Snippet     string `json:"snippet,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text           string
	FilterDecision string // empty = all
	Limit          int
	Offset         int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// OutcomeRecord is the data indexed per decided agenda item.
type OutcomeRecord struct {
	ID                 string `json:"id"`
	SessionCode        string `json:"sessionCode"`
	SessionDate        string `json:"sessionDate"`
	AgendaItemID       string `json:"agendaItemId"`
	Title              string `json:"title"`
	Decision           string `json:"decision"`
	BallotCount        int    `json:"ballotCount"`
	ApprovedCount      int    `json:"approvedCount"`
	NeedsRevisionCount int    `json:"needsRevisionCount"`
}

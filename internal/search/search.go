package search

// Result is a single task search hit returned to the caller.
type Result struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Snippet     string `json:"snippet"`
	WorkspaceID string `json:"workspaceId"`
	Status      string `json:"status"`
}

// Query describes a task search request.
type Query struct {
	Text              string
	FilterWorkspaceID string
	FilterStatus      string
	Limit             int
	Offset            int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text task search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TaskRecord is the data we index for a task.
type TaskRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	WorkspaceID string `json:"workspaceId"`
	Status      string `json:"status"`
}

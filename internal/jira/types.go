package jira

// User is the authenticated tracker identity, from /rest/api/3/myself.
type User struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Email       string `json:"emailAddress"`
}

// Status is the workflow state of an issue.
type Status struct {
	Name string `json:"name"`
}

// Attachment references a file attached to an issue. Content is the
// authenticated download URL, not the bytes.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
	Content  string `json:"content"`
}

// IssueFields carries the subset of fields the portal reads.
type IssueFields struct {
	Summary    string       `json:"summary"`
	Status     Status       `json:"status"`
	Labels     []string     `json:"labels"`
	Attachment []Attachment `json:"attachment"`
}

// Issue is one data-request ticket.
type Issue struct {
	Key    string      `json:"key"`
	Fields IssueFields `json:"fields"`
}

// HasLabel reports whether the issue carries the given label.
func (i *Issue) HasLabel(label string) bool {
	for _, l := range i.Fields.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// SearchResult is one page of a JQL search.
type SearchResult struct {
	StartAt    int     `json:"startAt"`
	MaxResults int     `json:"maxResults"`
	Total      int     `json:"total"`
	Issues     []Issue `json:"issues"`
}

// Transition is one workflow move available on an issue.
type Transition struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

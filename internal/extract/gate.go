package extract

import (
	"context"
	"fmt"

	"github.com/de101/dataportal/internal/errdefs"
	"github.com/de101/dataportal/internal/jira"
)

// GroupLister is the slice of the tracker the gate depends on.
type GroupLister interface {
	GroupMembers(ctx context.Context, group string) ([]string, error)
}

// Gate decides whether a caller may trigger extraction for a ticket. It is a
// precondition check only; callers invoke the orchestrator themselves after
// the gate passes.
type Gate struct {
	Groups     GroupLister
	AdminGroup string
	PIILabel   string
}

// IsPII reports whether the ticket is flagged as a PII request. A ticket
// without the label is not a PII request and needs no approval.
func (g *Gate) IsPII(issue *jira.Issue) bool {
	return issue.HasLabel(g.PIILabel)
}

// Authorize grants extraction when the ticket is not a PII request, or when
// it is and callerEmail belongs to the admin group. A PII request from a
// non-member fails with ErrForbidden.
func (g *Gate) Authorize(ctx context.Context, issue *jira.Issue, callerEmail string) error {
	if !g.IsPII(issue) {
		return nil
	}
	members, err := g.Groups.GroupMembers(ctx, g.AdminGroup)
	if err != nil {
		return fmt.Errorf("resolve admin group %s: %w", g.AdminGroup, err)
	}
	for _, m := range members {
		if m == callerEmail {
			return nil
		}
	}
	return fmt.Errorf("%s is not in admin group %s: %w", callerEmail, g.AdminGroup, errdefs.ErrForbidden)
}

// Package jira is a thin REST v3 client covering the calls the portal makes:
// credential check, ticket search, attachment transfer, comments, workflow
// transitions and group membership. Each client carries one caller's
// credentials; construct one per request scope rather than sharing a global.
package jira

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/de101/dataportal/internal/errdefs"
)

const defaultTimeout = 30 * time.Second

// Client talks to one Jira instance as one user.
type Client struct {
	baseURL string
	email   string
	token   string
	http    *http.Client
}

// NewClient builds a client for baseURL using the caller's email and API
// token. The underlying HTTP client bounds every call with a timeout.
func NewClient(baseURL, email, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// WithTimeout overrides the per-call timeout.
func (c *Client) WithTimeout(d time.Duration) *Client {
	c.http.Timeout = d
	return c
}

// Myself validates the client's credentials and returns the tracker identity
// behind them.
func (c *Client) Myself(ctx context.Context) (*User, error) {
	var u User
	if err := c.getJSON(ctx, c.baseURL+"/rest/api/3/myself", &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SearchIssues returns one page of the project's tickets, newest first.
func (c *Client) SearchIssues(ctx context.Context, project string, startAt, maxResults int) (*SearchResult, error) {
	q := url.Values{}
	q.Set("jql", fmt.Sprintf("project=%s ORDER BY created DESC", project))
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", "summary,status,labels")

	var res SearchResult
	if err := c.getJSON(ctx, c.baseURL+"/rest/api/3/search?"+q.Encode(), &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetIssue fetches one ticket with the fields the pipeline needs, including
// its attachment references.
func (c *Client) GetIssue(ctx context.Context, key string) (*Issue, error) {
	u := fmt.Sprintf("%s/rest/api/3/issue/%s?fields=summary,status,labels,attachment", c.baseURL, url.PathEscape(key))
	var issue Issue
	if err := c.getJSON(ctx, u, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// DownloadAttachment fetches attachment bytes from the content URL returned
// by GetIssue.
func (c *Client) DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, contentURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build attachment request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download attachment %s: %w", contentURL, err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}
	return data, nil
}

// UploadAttachment attaches content to the issue under filename.
func (c *Client) UploadAttachment(ctx context.Context, issueKey, filename string, content io.Reader) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("build multipart form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("copy attachment content: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("finish multipart form: %w", err)
	}

	u := fmt.Sprintf("%s/rest/api/3/issue/%s/attachments", c.baseURL, url.PathEscape(issueKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return fmt.Errorf("build upload request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	// Required by Jira to bypass the XSRF check on attachment uploads.
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload attachment to %s: %w", issueKey, err)
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// AddComment posts a plain-text comment on the issue.
func (c *Client) AddComment(ctx context.Context, issueKey, text string) error {
	// REST v3 comments use the Atlassian document format.
	payload := map[string]any{
		"body": map[string]any{
			"type":    "doc",
			"version": 1,
			"content": []any{
				map[string]any{
					"type": "paragraph",
					"content": []any{
						map[string]any{"type": "text", "text": text},
					},
				},
			},
		},
	}
	u := fmt.Sprintf("%s/rest/api/3/issue/%s/comment", c.baseURL, url.PathEscape(issueKey))
	return c.postJSON(ctx, u, payload, nil)
}

// ListTransitions returns the workflow moves currently available on the issue.
func (c *Client) ListTransitions(ctx context.Context, issueKey string) ([]Transition, error) {
	u := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.baseURL, url.PathEscape(issueKey))
	var res struct {
		Transitions []Transition `json:"transitions"`
	}
	if err := c.getJSON(ctx, u, &res); err != nil {
		return nil, err
	}
	return res.Transitions, nil
}

// ApplyTransition moves the issue through the transition with the given id.
func (c *Client) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	u := fmt.Sprintf("%s/rest/api/3/issue/%s/transitions", c.baseURL, url.PathEscape(issueKey))
	payload := map[string]any{"transition": map[string]string{"id": transitionID}}
	return c.postJSON(ctx, u, payload, nil)
}

// GroupMembers returns the email addresses of every member of the group,
// following pagination to the end.
func (c *Client) GroupMembers(ctx context.Context, group string) ([]string, error) {
	var emails []string
	startAt := 0
	for {
		q := url.Values{}
		q.Set("groupname", group)
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", "50")

		var page struct {
			Values []struct {
				Email string `json:"emailAddress"`
			} `json:"values"`
			IsLast     bool `json:"isLast"`
			MaxResults int  `json:"maxResults"`
		}
		if err := c.getJSON(ctx, c.baseURL+"/rest/api/3/group/member?"+q.Encode(), &page); err != nil {
			return nil, err
		}
		for _, v := range page.Values {
			if v.Email != "" {
				emails = append(emails, v.Email)
			}
		}
		if page.IsLast || len(page.Values) == 0 {
			return emails, nil
		}
		startAt += len(page.Values)
	}
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jira GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jira response from %s: %w", url, err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode jira payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.email, c.token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("jira POST %s: %w", url, err)
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode jira response from %s: %w", url, err)
	}
	return nil
}

// checkStatus maps non-success responses onto the shared error taxonomy,
// keeping a bounded slice of the body for diagnostics.
func (c *Client) checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	limited := io.LimitReader(resp.Body, 512)
	body, _ := io.ReadAll(limited)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("jira rejected credentials (status %d): %w", resp.StatusCode, errdefs.ErrUnauthenticated)
	case http.StatusForbidden:
		return fmt.Errorf("jira denied access (status %d): %w", resp.StatusCode, errdefs.ErrForbidden)
	case http.StatusNotFound:
		return fmt.Errorf("jira resource missing: %w", errdefs.ErrNotFound)
	default:
		return &errdefs.UpstreamError{Service: "jira", StatusCode: resp.StatusCode, Body: string(body)}
	}
}

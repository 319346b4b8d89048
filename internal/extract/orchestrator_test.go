package extract

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"github.com/yeka/zip"

	"github.com/de101/dataportal/internal/errdefs"
	"github.com/de101/dataportal/internal/jira"
)

type fakeTracker struct {
	mu          sync.Mutex
	issue       *jira.Issue
	attachments map[string][]byte // content URL -> bytes
	uploads     map[string][]byte
	comments    []string
	transitions []jira.Transition
	applied     []string
	getDelay    time.Duration
	failUpload  bool
}

func newFakeTracker(key string, labels []string, files map[string][]byte) *fakeTracker {
	ft := &fakeTracker{
		attachments: make(map[string][]byte),
		uploads:     make(map[string][]byte),
		transitions: []jira.Transition{{ID: "31", Name: "Done"}},
	}
	issue := &jira.Issue{Key: key, Fields: jira.IssueFields{Labels: labels}}
	for name, content := range files {
		url := "fake://attachment/" + name
		ft.attachments[url] = content
		issue.Fields.Attachment = append(issue.Fields.Attachment, jira.Attachment{
			ID: name, Filename: name, Size: int64(len(content)), Content: url,
		})
	}
	ft.issue = issue
	return ft
}

func (f *fakeTracker) GetIssue(ctx context.Context, key string) (*jira.Issue, error) {
	if f.getDelay > 0 {
		select {
		case <-time.After(f.getDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.issue == nil || f.issue.Key != key {
		return nil, errdefs.ErrNotFound
	}
	return f.issue, nil
}

func (f *fakeTracker) DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.attachments[contentURL]
	if !ok {
		return nil, errdefs.ErrNotFound
	}
	return data, nil
}

func (f *fakeTracker) UploadAttachment(ctx context.Context, issueKey, filename string, content io.Reader) error {
	if f.failUpload {
		return &errdefs.UpstreamError{Service: "jira", StatusCode: 500, Body: "boom"}
	}
	data, err := io.ReadAll(content)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[filename] = data
	return nil
}

func (f *fakeTracker) AddComment(ctx context.Context, issueKey, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, text)
	return nil
}

func (f *fakeTracker) ListTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error) {
	return f.transitions, nil
}

func (f *fakeTracker) ApplyTransition(ctx context.Context, issueKey, transitionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied = append(f.applied, transitionID)
	return nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (f *fakeNotifier) Post(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeNotifier) password(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if i := strings.Index(m, "Password: "); i >= 0 {
			rest := m[i+len("Password: "):]
			if j := strings.Index(rest, ". "); j >= 0 {
				return rest[:j]
			}
		}
	}
	t.Fatal("no password found in notifications")
	return ""
}

type fakeAuditor struct {
	mu     sync.Mutex
	audits []string
	events []string
}

func (f *fakeAuditor) AppendAudit(ctx context.Context, extractor, ticketKey, fileName, filePath string, createdAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, fmt.Sprintf("%s|%s|%s", extractor, ticketKey, fileName))
	return nil
}

func (f *fakeAuditor) LogEvent(ctx context.Context, ticketKey, state, message string, duration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, state)
	return nil
}

func newTestOrchestrator(t *testing.T, tracker Tracker, lookup PIILookup) (*Orchestrator, *fakeNotifier, *fakeAuditor) {
	t.Helper()
	notifier := &fakeNotifier{}
	auditor := &fakeAuditor{}
	orch := &Orchestrator{
		Tracker:  tracker,
		Lookup:   lookup,
		Notifier: notifier,
		Audit:    auditor,
		Locks:    NewLocks(),
		Opts: Options{
			WorkRoot:            t.TempDir(),
			ChunkSize:           100,
			DownloadConcurrency: 2,
			DeliverEmptyArchive: true,
			DoneTransition:      "Done",
			SupportContact:      "data-support@de101.example.com",
		},
	}
	return orch, notifier, auditor
}

func extractArchive(t *testing.T, data []byte, password string, dir string) map[string][][]string {
	t.Helper()
	path := filepath.Join(dir, "delivered.zip")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	out := make(map[string][][]string)
	for _, f := range zr.File {
		f.SetPassword(password)
		rc, err := f.Open()
		require.NoError(t, err)
		rows, err := csv.NewReader(rc).ReadAll()
		rc.Close()
		require.NoError(t, err)
		out[f.Name] = rows
	}
	return out
}

func TestRunEndToEnd(t *testing.T) {
	tracker := newFakeTracker("DATA-42", []string{"pii"}, map[string][]byte{
		"req.csv": []byte("User ID,Team\nalice,core\nbob,infra\n"),
	})
	orch, notifier, auditor := newTestOrchestrator(t, tracker, testLookup())

	summary, err := orch.Run(context.Background(), "DATA-42", "admin@example.com")
	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.Len(t, summary.Files, 1)
	require.Equal(t, 2, summary.Files[0].Rows)
	require.True(t, summary.Uploaded)
	require.True(t, summary.Commented)
	require.True(t, summary.Transitioned)
	require.True(t, summary.Notified)
	require.True(t, summary.Audited)

	// The archive delivered to the tracker opens with the notified password
	// and holds the joined output: alice matched, bob left null.
	archive := tracker.uploads["DATA-42.zip"]
	require.NotNil(t, archive)
	files := extractArchive(t, archive, notifier.password(t), t.TempDir())
	require.Equal(t, [][]string{
		{"username", "team", "email", "gender"},
		{"alice", "core", "alice@example.com", "F"},
		{"bob", "infra", "", ""},
	}, files["req.csv"])

	// Password never reaches the ticket comment.
	require.Len(t, tracker.comments, 1)
	require.NotContains(t, tracker.comments[0], notifier.password(t))

	require.Equal(t, []string{"31"}, tracker.applied)
	require.Len(t, auditor.audits, 1)
	require.Contains(t, auditor.audits[0], "admin@example.com|DATA-42|DATA-42.zip")
	require.Contains(t, auditor.events, string(StateDone))
}

func TestRunZeroAttachments(t *testing.T) {
	tracker := newFakeTracker("DATA-7", nil, nil)
	orch, notifier, auditor := newTestOrchestrator(t, tracker, testLookup())

	summary, err := orch.Run(context.Background(), "DATA-7", "admin@example.com")
	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.Empty(t, summary.Files)
	require.True(t, summary.Uploaded)
	require.True(t, summary.Notified)
	require.Len(t, auditor.audits, 1)

	// Empty archive is still delivered and opens cleanly.
	archive := tracker.uploads["DATA-7.zip"]
	require.NotNil(t, archive)
	files := extractArchive(t, archive, notifier.password(t), t.TempDir())
	require.Empty(t, files)
}

func TestRunPerFileFailureIsolation(t *testing.T) {
	tracker := newFakeTracker("DATA-9", nil, map[string][]byte{
		"good.csv":  []byte("username\nalice\n"),
		"notes.txt": []byte("not tabular"),
	})
	orch, _, _ := newTestOrchestrator(t, tracker, testLookup())

	summary, err := orch.Run(context.Background(), "DATA-9", "admin@example.com")
	require.NoError(t, err)
	require.Equal(t, StateDone, summary.State)
	require.Len(t, summary.Files, 2)

	byName := map[string]FileResult{}
	for _, f := range summary.Files {
		byName[f.Name] = f
	}
	require.Empty(t, byName["good.csv"].Error)
	require.Equal(t, 1, byName["good.csv"].Rows)
	require.True(t, byName["notes.txt"].Skipped)
	require.NotEmpty(t, byName["notes.txt"].Error)
	require.True(t, summary.Uploaded)
}

func TestRunAllFilesFailedPolicy(t *testing.T) {
	tracker := newFakeTracker("DATA-11", nil, map[string][]byte{
		"notes.txt": []byte("not tabular"),
	})
	orch, _, _ := newTestOrchestrator(t, tracker, testLookup())
	orch.Opts.DeliverEmptyArchive = false

	_, err := orch.Run(context.Background(), "DATA-11", "admin@example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "every input file failed")
	require.Empty(t, tracker.uploads)
}

func TestRunUploadFailureFailsRun(t *testing.T) {
	tracker := newFakeTracker("DATA-13", nil, map[string][]byte{
		"req.csv": []byte("username\nalice\n"),
	})
	tracker.failUpload = true
	orch, _, auditor := newTestOrchestrator(t, tracker, testLookup())

	summary, err := orch.Run(context.Background(), "DATA-13", "admin@example.com")
	require.Error(t, err)
	require.Equal(t, StateFailed, summary.State)
	require.Empty(t, auditor.audits)
}

func TestRunTicketBusy(t *testing.T) {
	tracker := newFakeTracker("DATA-21", nil, nil)
	tracker.getDelay = 200 * time.Millisecond
	orch, _, _ := newTestOrchestrator(t, tracker, testLookup())

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := orch.Run(context.Background(), "DATA-21", "admin@example.com")
			errs <- err
		}()
	}
	first, second := <-errs, <-errs
	busy := 0
	for _, err := range []error{first, second} {
		if err != nil {
			require.ErrorIs(t, err, errdefs.ErrTicketBusy)
			busy++
		}
	}
	require.Equal(t, 1, busy, "exactly one concurrent run must be rejected")
}

func TestRunDuplicateAttachmentNames(t *testing.T) {
	tracker := &fakeTracker{
		attachments: map[string][]byte{
			"fake://attachment/a": []byte("username\nalice\n"),
			"fake://attachment/b": []byte("username\nbob\n"),
		},
		uploads:     make(map[string][]byte),
		transitions: []jira.Transition{{ID: "31", Name: "Done"}},
		issue: &jira.Issue{Key: "DATA-61", Fields: jira.IssueFields{Attachment: []jira.Attachment{
			{ID: "a", Filename: "report.csv", Content: "fake://attachment/a"},
			{ID: "b", Filename: "report.csv", Content: "fake://attachment/b"},
		}}},
	}
	orch, notifier, _ := newTestOrchestrator(t, tracker, testLookup())

	summary, err := orch.Run(context.Background(), "DATA-61", "admin@example.com")
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)

	// Both inputs keep their own merged output; neither overwrites the other.
	archive := tracker.uploads["DATA-61.zip"]
	require.NotNil(t, archive)
	files := extractArchive(t, archive, notifier.password(t), t.TempDir())
	require.Equal(t, [][]string{
		{"username", "email", "gender"},
		{"alice", "alice@example.com", "F"},
	}, files["report.csv"])
	require.Equal(t, [][]string{
		{"username", "email", "gender"},
		{"bob", "", ""},
	}, files["report_2.csv"])
}

func TestRunStemCollisionAcrossFormats(t *testing.T) {
	var buf bytes.Buffer
	x := excelize.NewFile()
	sheet := x.GetSheetName(0)
	require.NoError(t, x.SetSheetRow(sheet, "A1", &[]any{"username"}))
	require.NoError(t, x.SetSheetRow(sheet, "A2", &[]any{"carol"}))
	require.NoError(t, x.Write(&buf))

	tracker := newFakeTracker("DATA-63", nil, map[string][]byte{
		"data.csv":  []byte("username\nalice\n"),
		"data.xlsx": buf.Bytes(),
	})
	orch, notifier, _ := newTestOrchestrator(t, tracker, testLookup())

	summary, err := orch.Run(context.Background(), "DATA-63", "admin@example.com")
	require.NoError(t, err)
	require.Len(t, summary.Files, 2)

	// data.csv and data.xlsx share a stem; their outputs must not merge into
	// one file.
	archive := tracker.uploads["DATA-63.zip"]
	require.NotNil(t, archive)
	files := extractArchive(t, archive, notifier.password(t), t.TempDir())
	require.Len(t, files, 2)
	require.Contains(t, files, "data.csv")
	require.Contains(t, files, "data_2.csv")

	var usernames []string
	for _, rows := range files {
		require.Len(t, rows, 2, "each output carries exactly its own row")
		usernames = append(usernames, rows[1][0])
	}
	require.ElementsMatch(t, []string{"alice", "carol"}, usernames)
}

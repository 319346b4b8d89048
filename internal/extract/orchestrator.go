// Package extract implements the PII data-extraction pipeline: fetch ticket
// attachments, normalize and join them against the user store in bounded
// chunks, package the merged output into an encrypted archive, and deliver
// it back through the tracker and chat.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/de101/dataportal/internal/errdefs"
	"github.com/de101/dataportal/internal/jira"
	"github.com/de101/dataportal/internal/table"
)

// State names one pipeline stage. Transitions are strictly sequential;
// StateFailed is reachable from any stage.
type State string

const (
	StateFetching   State = "FETCHING"
	StateParsing    State = "PARSING"
	StateJoining    State = "JOINING"
	StatePackaging  State = "PACKAGING"
	StateDelivering State = "DELIVERING"
	StateLogging    State = "LOGGING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// Tracker is the slice of the issue tracker the pipeline consumes.
type Tracker interface {
	GetIssue(ctx context.Context, key string) (*jira.Issue, error)
	DownloadAttachment(ctx context.Context, contentURL string) ([]byte, error)
	UploadAttachment(ctx context.Context, issueKey, filename string, content io.Reader) error
	AddComment(ctx context.Context, issueKey, text string) error
	ListTransitions(ctx context.Context, issueKey string) ([]jira.Transition, error)
	ApplyTransition(ctx context.Context, issueKey, transitionID string) error
}

// Notifier posts human-readable status messages to chat. Failures are logged
// by the orchestrator, never escalated.
type Notifier interface {
	Post(ctx context.Context, text string) error
}

// Auditor records the audit trail and pipeline events. Write failures are
// logged; they never invalidate a delivered run.
type Auditor interface {
	AppendAudit(ctx context.Context, extractor, ticketKey, fileName, filePath string, createdAt time.Time) error
	LogEvent(ctx context.Context, ticketKey, state, message string, duration time.Duration) error
}

// FileResult reports the outcome for one input attachment.
type FileResult struct {
	Name       string `json:"name"`
	OutputPath string `json:"output_path,omitempty"`
	Rows       int    `json:"rows"`
	Skipped    bool   `json:"skipped,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Summary is what an extraction run returns to its caller.
type Summary struct {
	TicketKey    string       `json:"ticket_key"`
	State        State        `json:"state"`
	Files        []FileResult `json:"files"`
	ArchivePath  string       `json:"archive_path,omitempty"`
	ArchiveName  string       `json:"archive_name,omitempty"`
	Uploaded     bool         `json:"uploaded"`
	Commented    bool         `json:"commented"`
	Transitioned bool         `json:"transitioned"`
	Notified     bool         `json:"notified"`
	Audited      bool         `json:"audited"`
}

// Options tunes one orchestrator instance.
type Options struct {
	WorkRoot            string
	ChunkSize           int
	LookupTimeout       time.Duration
	DownloadConcurrency int
	DeliverEmptyArchive bool
	DoneTransition      string
	SupportContact      string
}

// Orchestrator runs the extraction pipeline for tickets. The tracker client
// carries the triggering user's credentials, so construct one orchestrator
// per request scope; Locks is shared process-wide to serialize runs per
// ticket key.
type Orchestrator struct {
	Tracker  Tracker
	Lookup   PIILookup
	Notifier Notifier
	Audit    Auditor
	Locks    *Locks
	Opts     Options
	Logger   *slog.Logger
}

// attachmentsDirName holds the raw downloads, out of the packager's reach:
// the packager only picks up regular files at the working directory root.
const attachmentsDirName = "attachments"

// Run executes the full pipeline for ticketKey on behalf of extractor (the
// approving user's email). It returns a per-file summary; the error is
// non-nil only for run-level failures, per-file problems are reported in the
// summary.
func (o *Orchestrator) Run(ctx context.Context, ticketKey, extractor string) (*Summary, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("ticket", ticketKey))

	if !o.Locks.TryAcquire(ticketKey) {
		return nil, fmt.Errorf("ticket %s: %w", ticketKey, errdefs.ErrTicketBusy)
	}
	defer o.Locks.Release(ticketKey)

	summary := &Summary{TicketKey: ticketKey}
	runStart := time.Now()

	fail := func(state State, err error) (*Summary, error) {
		summary.State = StateFailed
		o.logEvent(ctx, logger, ticketKey, StateFailed, fmt.Sprintf("%s: %v", state, err), time.Since(runStart))
		o.notifyFailure(ctx, logger, ticketKey, state, err)
		return summary, err
	}

	// FETCHING
	summary.State = StateFetching
	o.logEvent(ctx, logger, ticketKey, StateFetching, "", 0)
	issue, err := o.Tracker.GetIssue(ctx, ticketKey)
	if err != nil {
		return fail(StateFetching, fmt.Errorf("fetch ticket %s: %w", ticketKey, err))
	}
	workDir := filepath.Join(o.Opts.WorkRoot, ticketKey)
	attachDir := filepath.Join(workDir, attachmentsDirName)
	if err := os.MkdirAll(attachDir, 0o755); err != nil {
		return fail(StateFetching, fmt.Errorf("create working directory %s: %w", workDir, err))
	}
	downloaded, err := o.fetchAttachments(ctx, logger, issue, attachDir)
	if err != nil {
		return fail(StateFetching, err)
	}
	logger.Info("Attachments fetched.", slog.Int("count", len(downloaded)))

	// PARSING + JOINING, isolated per file.
	summary.State = StateParsing
	o.logEvent(ctx, logger, ticketKey, StateParsing, fmt.Sprintf("%d attachments", len(downloaded)), 0)
	summary.State = StateJoining
	o.logEvent(ctx, logger, ticketKey, StateJoining, "", 0)
	merged := 0
	usedOutputs := make(map[string]struct{}, len(downloaded))
	for _, name := range downloaded {
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		outName := uniqueFileName(usedOutputs, stem+".csv")
		res := o.processFile(ctx, logger, workDir, attachDir, name, outName)
		summary.Files = append(summary.Files, res)
		if res.Error == "" && !res.Skipped {
			merged++
		}
	}
	if merged == 0 && len(downloaded) > 0 && !o.Opts.DeliverEmptyArchive {
		return fail(StateJoining, fmt.Errorf("ticket %s: every input file failed and empty delivery is disabled", ticketKey))
	}

	// PACKAGING
	summary.State = StatePackaging
	packStart := time.Now()
	archiveName := ticketKey + ".zip"
	archivePath, password, err := Pack(workDir, archiveName)
	if err != nil {
		return fail(StatePackaging, fmt.Errorf("package outputs for %s: %w", ticketKey, err))
	}
	summary.ArchivePath = archivePath
	summary.ArchiveName = archiveName
	o.logEvent(ctx, logger, ticketKey, StatePackaging, archiveName, time.Since(packStart))
	logger.Info("Archive packaged.", slog.String("path", archivePath), slog.Int("files", merged))

	// DELIVERING
	summary.State = StateDelivering
	deliverStart := time.Now()
	if err := o.deliver(ctx, logger, summary, password); err != nil {
		return fail(StateDelivering, err)
	}
	o.logEvent(ctx, logger, ticketKey, StateDelivering, archiveName, time.Since(deliverStart))

	// LOGGING
	summary.State = StateLogging
	if err := o.Audit.AppendAudit(ctx, extractor, ticketKey, archiveName, archivePath, time.Now()); err != nil {
		logger.Error("Audit append failed; delivery already completed.", "error", err)
	} else {
		summary.Audited = true
	}

	summary.State = StateDone
	o.logEvent(ctx, logger, ticketKey, StateDone, "", time.Since(runStart))
	logger.Info("Extraction run complete.",
		slog.Int("files_total", len(summary.Files)),
		slog.Int("files_merged", merged),
		slog.Duration("duration", time.Since(runStart).Round(time.Millisecond)),
	)
	return summary, nil
}

// fetchAttachments downloads every attachment into dir. Zero attachments is
// a valid, empty outcome. Any download failure fails the fetch stage.
func (o *Orchestrator) fetchAttachments(ctx context.Context, logger *slog.Logger, issue *jira.Issue, dir string) ([]string, error) {
	atts := issue.Fields.Attachment

	// Attachment names come from requesters; keep only the base name and
	// suffix duplicates so no download overwrites another.
	names := make([]string, len(atts))
	seen := make(map[string]struct{}, len(atts))
	for i, att := range atts {
		names[i] = uniqueFileName(seen, filepath.Base(att.Filename))
	}

	g, gctx := errgroup.WithContext(ctx)
	limit := o.Opts.DownloadConcurrency
	if limit <= 0 {
		limit = 4
	}
	g.SetLimit(limit)
	for i, att := range atts {
		g.Go(func() error {
			data, err := o.Tracker.DownloadAttachment(gctx, att.Content)
			if err != nil {
				return fmt.Errorf("download attachment %s: %w", att.Filename, err)
			}
			if err := os.WriteFile(filepath.Join(dir, names[i]), data, 0o644); err != nil {
				return fmt.Errorf("save attachment %s: %w", names[i], err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return names, nil
}

// uniqueFileName claims base in used, suffixing the stem with _2, _3, ... on
// collision. Inputs sharing a name or a stem thus keep distinct files.
func uniqueFileName(used map[string]struct{}, base string) string {
	if _, taken := used[base]; !taken {
		used[base] = struct{}{}
		return base
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s_%d%s", stem, i, ext)
		if _, taken := used[candidate]; !taken {
			used[candidate] = struct{}{}
			return candidate
		}
	}
}

// processFile parses, normalizes and joins one attachment. All failures are
// contained to this file's result.
func (o *Orchestrator) processFile(ctx context.Context, logger *slog.Logger, workDir, attachDir, name, outName string) FileResult {
	res := FileResult{Name: name}
	l := logger.With(slog.String("file", name))

	format := table.DetectFormat(name)
	if format == table.FormatUnsupported {
		l.Warn("Skipping attachment with unsupported format.")
		res.Skipped = true
		res.Error = table.ErrUnsupportedFormat.Error()
		return res
	}

	r, err := table.Open(filepath.Join(attachDir, name))
	if err != nil {
		perr := &errdefs.ParseError{File: name, Err: err}
		l.Warn("Failed to parse attachment.", "error", perr)
		res.Error = perr.Error()
		return res
	}
	defer r.Close()

	outPath := filepath.Join(workDir, outName)
	joiner := &Joiner{Lookup: o.Lookup, ChunkSize: o.Opts.ChunkSize, LookupTimeout: o.Opts.LookupTimeout, Logger: l}
	rows, err := joiner.JoinToFile(ctx, r, outPath)
	if err != nil {
		// Chunks already appended stay on disk; the failure is per file.
		l.Warn("Join failed for attachment.", "error", err, slog.Int("rows_written", rows))
		res.OutputPath = outPath
		res.Rows = rows
		res.Error = err.Error()
		return res
	}
	l.Info("Attachment joined.", slog.Int("rows", rows))
	res.OutputPath = outPath
	res.Rows = rows
	return res
}

// deliver uploads the archive, posts the confirmation comment, transitions
// the ticket and sends the chat notification. Upload and comment failures
// fail the stage; the transition and notification are best-effort because
// the archive is already delivered by then. The password appears only in
// the chat message.
func (o *Orchestrator) deliver(ctx context.Context, logger *slog.Logger, summary *Summary, password string) error {
	data, err := os.ReadFile(summary.ArchivePath)
	if err != nil {
		return fmt.Errorf("read archive for upload: %w", err)
	}
	if err := o.Tracker.UploadAttachment(ctx, summary.TicketKey, summary.ArchiveName, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload archive to %s: %w", summary.TicketKey, err)
	}
	summary.Uploaded = true

	comment := fmt.Sprintf(
		"Extraction complete. Encrypted archive %s attached (%d input files processed). The archive password was sent separately via the data-support channel.",
		summary.ArchiveName, len(summary.Files),
	)
	if err := o.Tracker.AddComment(ctx, summary.TicketKey, comment); err != nil {
		return fmt.Errorf("post delivery comment on %s: %w", summary.TicketKey, err)
	}
	summary.Commented = true

	if o.Opts.DoneTransition != "" {
		if err := o.transitionDone(ctx, summary.TicketKey); err != nil {
			logger.Warn("Could not transition ticket after delivery.", "error", err)
		} else {
			summary.Transitioned = true
		}
	}

	msg := fmt.Sprintf(
		"Data extraction for %s is ready. Archive: %s. Password: %s. Questions: %s",
		summary.TicketKey, summary.ArchiveName, password, o.Opts.SupportContact,
	)
	if err := o.Notifier.Post(ctx, msg); err != nil {
		logger.Warn("Chat notification failed.", "error", err)
	} else {
		summary.Notified = true
	}
	return nil
}

func (o *Orchestrator) transitionDone(ctx context.Context, ticketKey string) error {
	transitions, err := o.Tracker.ListTransitions(ctx, ticketKey)
	if err != nil {
		return err
	}
	for _, t := range transitions {
		if strings.EqualFold(t.Name, o.Opts.DoneTransition) {
			return o.Tracker.ApplyTransition(ctx, ticketKey, t.ID)
		}
	}
	return fmt.Errorf("transition %q: %w", o.Opts.DoneTransition, errdefs.ErrNotFound)
}

func (o *Orchestrator) logEvent(ctx context.Context, logger *slog.Logger, ticketKey string, state State, message string, duration time.Duration) {
	if o.Audit == nil {
		return
	}
	if err := o.Audit.LogEvent(ctx, ticketKey, string(state), message, duration); err != nil {
		logger.Warn("Could not record pipeline event.", slog.String("state", string(state)), "error", err)
	}
}

func (o *Orchestrator) notifyFailure(ctx context.Context, logger *slog.Logger, ticketKey string, state State, err error) {
	if o.Notifier == nil {
		return
	}
	msg := fmt.Sprintf("Data extraction for %s failed during %s: %v. Contact %s.", ticketKey, state, err, o.Opts.SupportContact)
	if nerr := o.Notifier.Post(ctx, msg); nerr != nil {
		logger.Warn("Chat notification failed.", "error", nerr)
	}
}

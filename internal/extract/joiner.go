package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/de101/dataportal/internal/piistore"
	"github.com/de101/dataportal/internal/table"
)

// PIILookup resolves PII fields for a set of usernames in one batched query.
type PIILookup interface {
	LookupByUsernames(ctx context.Context, usernames []string) (map[string]piistore.PIIRecord, error)
}

// piiColumns are appended to every merged output, in this order.
var piiColumns = [...]string{"email", "gender"}

// Joiner streams an input table in fixed-size chunks, joining each chunk
// against the PII store and appending the result to a merged CSV. Peak
// memory is one chunk regardless of input size, and the store sees at most
// one query per chunk.
type Joiner struct {
	Lookup    PIILookup
	ChunkSize int
	// LookupTimeout bounds each per-chunk store query. A stalled store
	// connection fails the chunk instead of hanging the run.
	LookupTimeout time.Duration
	Logger        *slog.Logger
}

// JoinToFile consumes r and writes the merged output to outPath, returning
// the number of joined rows. Row order follows input order; rows whose
// normalized username is empty are dropped. On a chunk failure the rows
// already written stay on disk and the error names this file only.
func (j *Joiner) JoinToFile(ctx context.Context, r table.RowReader, outPath string) (int, error) {
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	chunkSize := j.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 100000
	}

	cols := table.NormalizeColumns(r.Columns())
	userIdx := table.UsernameIndex(cols)
	if userIdx < 0 {
		logger.Warn("No user-identifier column found; all rows will be dropped.", slog.String("output", outPath))
	}

	out, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("create merged output %s: %w", outPath, err)
	}
	defer out.Close()
	w := csv.NewWriter(out)

	// Header goes out once, before the first chunk.
	header := append(append([]string{}, cols...), dedupPIIColumns(cols)...)
	if err := w.Write(header); err != nil {
		return 0, fmt.Errorf("write merged header: %w", err)
	}

	total := 0
	for {
		chunk, readErr := readChunk(r, chunkSize, userIdx)
		if len(chunk) > 0 {
			joined, err := j.joinChunk(ctx, chunk, userIdx)
			if err != nil {
				w.Flush()
				return total, err
			}
			for _, row := range joined {
				if err := w.Write(row); err != nil {
					return total, fmt.Errorf("append joined chunk to %s: %w", outPath, err)
				}
			}
			// Flush per chunk so completed chunks survive a later failure.
			w.Flush()
			if err := w.Error(); err != nil {
				return total, fmt.Errorf("flush merged output %s: %w", outPath, err)
			}
			total += len(joined)
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			w.Flush()
			return total, fmt.Errorf("read input rows: %w", readErr)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return total, fmt.Errorf("flush merged output %s: %w", outPath, err)
	}
	return total, nil
}

// readChunk pulls up to limit rows that carry a username. Rows without one
// are dropped here, before they can count against the chunk budget.
func readChunk(r table.RowReader, limit, userIdx int) ([][]string, error) {
	if userIdx < 0 {
		// No identity column: drain the reader, keep nothing.
		for {
			if _, err := r.Next(); err != nil {
				return nil, err
			}
		}
	}
	chunk := make([][]string, 0, min(limit, 1024))
	for len(chunk) < limit {
		row, err := r.Next()
		if err != nil {
			return chunk, err
		}
		if row[userIdx] == "" {
			continue
		}
		chunk = append(chunk, row)
	}
	return chunk, nil
}

// joinChunk performs the one batched lookup for the chunk and left-joins the
// result, preserving left-side order and columns.
func (j *Joiner) joinChunk(ctx context.Context, chunk [][]string, userIdx int) ([][]string, error) {
	seen := make(map[string]struct{}, len(chunk))
	usernames := make([]string, 0, len(chunk))
	for _, row := range chunk {
		u := row[userIdx]
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		usernames = append(usernames, u)
	}

	lookupCtx := ctx
	if j.LookupTimeout > 0 {
		var cancel context.CancelFunc
		lookupCtx, cancel = context.WithTimeout(ctx, j.LookupTimeout)
		defer cancel()
	}
	records, err := j.Lookup.LookupByUsernames(lookupCtx, usernames)
	if err != nil {
		return nil, fmt.Errorf("chunk lookup of %d usernames: %w", len(usernames), err)
	}

	joined := make([][]string, 0, len(chunk))
	for _, row := range chunk {
		rec := records[row[userIdx]]
		merged := append(append(make([]string, 0, len(row)+len(piiColumns)), row...), rec.Email, rec.Gender)
		joined = append(joined, merged)
	}
	return joined, nil
}

// dedupPIIColumns renames appended PII columns that collide with an input
// column, so headers stay unambiguous.
func dedupPIIColumns(cols []string) []string {
	existing := make(map[string]bool, len(cols))
	for _, c := range cols {
		existing[c] = true
	}
	out := make([]string, 0, len(piiColumns))
	for _, p := range piiColumns {
		name := p
		if existing[name] {
			name = p + "_pii"
		}
		out = append(out, name)
	}
	return out
}

package extract

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/de101/dataportal/internal/piistore"
)

// sliceReader is an in-memory RowReader for joiner tests.
type sliceReader struct {
	cols []string
	rows [][]string
	pos  int
}

func (s *sliceReader) Columns() []string { return s.cols }

func (s *sliceReader) Next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}
	row := s.rows[s.pos]
	s.pos++
	return row, nil
}

func (s *sliceReader) Close() error { return nil }

// countingLookup resolves from a fixed map and counts batched calls.
type countingLookup struct {
	records map[string]piistore.PIIRecord
	calls   int
	failOn  int // fail the nth call when > 0
}

func (c *countingLookup) LookupByUsernames(ctx context.Context, usernames []string) (map[string]piistore.PIIRecord, error) {
	c.calls++
	if c.failOn > 0 && c.calls == c.failOn {
		return nil, fmt.Errorf("store unavailable")
	}
	out := make(map[string]piistore.PIIRecord, len(usernames))
	for _, u := range usernames {
		if r, ok := c.records[u]; ok {
			out[u] = r
		}
	}
	return out, nil
}

func testLookup() *countingLookup {
	return &countingLookup{records: map[string]piistore.PIIRecord{
		"alice": {Username: "alice", Email: "alice@example.com", Gender: "F"},
		"carol": {Username: "carol", Email: "carol@example.com", Gender: "F"},
	}}
}

func readCSVFile(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestJoinToFileLeftOuterJoin(t *testing.T) {
	lookup := testLookup()
	j := &Joiner{Lookup: lookup, ChunkSize: 10}
	out := filepath.Join(t.TempDir(), "req.csv")

	r := &sliceReader{
		cols: []string{"User ID", "Note"},
		rows: [][]string{{"alice", "a"}, {"bob", "b"}},
	}
	rows, err := j.JoinToFile(context.Background(), r, out)
	require.NoError(t, err)
	require.Equal(t, 2, rows)

	got := readCSVFile(t, out)
	require.Equal(t, [][]string{
		{"username", "note", "email", "gender"},
		{"alice", "a", "alice@example.com", "F"},
		{"bob", "b", "", ""},
	}, got)
}

func TestJoinToFileDropsRowsWithoutUsername(t *testing.T) {
	j := &Joiner{Lookup: testLookup(), ChunkSize: 10}
	out := filepath.Join(t.TempDir(), "out.csv")

	r := &sliceReader{
		cols: []string{"user_id"},
		rows: [][]string{{"alice"}, {""}, {"carol"}},
	}
	rows, err := j.JoinToFile(context.Background(), r, out)
	require.NoError(t, err)
	require.Equal(t, 2, rows)

	got := readCSVFile(t, out)
	require.Len(t, got, 3) // header + 2 rows
	require.Equal(t, "alice", got[1][0])
	require.Equal(t, "carol", got[2][0])
}

func TestJoinToFileNoIdentityColumn(t *testing.T) {
	j := &Joiner{Lookup: testLookup(), ChunkSize: 10}
	out := filepath.Join(t.TempDir(), "out.csv")

	r := &sliceReader{cols: []string{"account", "amount"}, rows: [][]string{{"x", "1"}}}
	rows, err := j.JoinToFile(context.Background(), r, out)
	require.NoError(t, err)
	require.Equal(t, 0, rows)

	got := readCSVFile(t, out)
	require.Equal(t, [][]string{{"account", "amount", "email", "gender"}}, got)
}

func TestJoinToFileChunkingMatchesWholeTable(t *testing.T) {
	// Chunk boundaries must not change the join result or row order.
	var rows [][]string
	for i := 0; i < 25; i++ {
		u := fmt.Sprintf("user%02d", i)
		if i%5 == 0 {
			u = "alice"
		}
		rows = append(rows, []string{u, fmt.Sprintf("n%d", i)})
	}

	render := func(chunkSize int) [][]string {
		j := &Joiner{Lookup: testLookup(), ChunkSize: chunkSize}
		out := filepath.Join(t.TempDir(), fmt.Sprintf("out%d.csv", chunkSize))
		r := &sliceReader{cols: []string{"username", "note"}, rows: rows}
		n, err := j.JoinToFile(context.Background(), r, out)
		require.NoError(t, err)
		require.Equal(t, len(rows), n)
		return readCSVFile(t, out)
	}

	whole := render(1000)
	for _, chunkSize := range []int{1, 2, 3, 7, 25} {
		require.Equal(t, whole, render(chunkSize), "chunk size %d changed the result", chunkSize)
	}
}

func TestJoinToFileOneLookupPerChunk(t *testing.T) {
	lookup := testLookup()
	j := &Joiner{Lookup: lookup, ChunkSize: 10}
	out := filepath.Join(t.TempDir(), "out.csv")

	var rows [][]string
	for i := 0; i < 35; i++ {
		rows = append(rows, []string{fmt.Sprintf("user%d", i)})
	}
	r := &sliceReader{cols: []string{"username"}, rows: rows}
	_, err := j.JoinToFile(context.Background(), r, out)
	require.NoError(t, err)
	// 35 rows in chunks of 10: four chunks, four calls, not 35.
	require.Equal(t, 4, lookup.calls)
}

func TestJoinToFileChunkFailureKeepsEarlierChunks(t *testing.T) {
	lookup := testLookup()
	lookup.failOn = 2
	j := &Joiner{Lookup: lookup, ChunkSize: 2}
	out := filepath.Join(t.TempDir(), "out.csv")

	r := &sliceReader{
		cols: []string{"username"},
		rows: [][]string{{"alice"}, {"bob"}, {"carol"}, {"dave"}},
	}
	rows, err := j.JoinToFile(context.Background(), r, out)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "chunk lookup"))
	require.Equal(t, 2, rows)

	// The first chunk survives on disk.
	got := readCSVFile(t, out)
	require.Len(t, got, 3)
	require.Equal(t, "alice", got[1][0])
	require.Equal(t, "bob", got[2][0])
}

// stalledLookup blocks until the query context expires, imitating a hung
// store connection.
type stalledLookup struct{}

func (stalledLookup) LookupByUsernames(ctx context.Context, usernames []string) (map[string]piistore.PIIRecord, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestJoinToFileBoundsLookupTime(t *testing.T) {
	j := &Joiner{Lookup: stalledLookup{}, ChunkSize: 10, LookupTimeout: 50 * time.Millisecond}
	out := filepath.Join(t.TempDir(), "out.csv")

	start := time.Now()
	rows, err := j.JoinToFile(context.Background(), &sliceReader{
		cols: []string{"username"},
		rows: [][]string{{"alice"}},
	}, out)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, rows)
	require.Less(t, time.Since(start), 5*time.Second, "a stalled store must fail the chunk, not hang")
}

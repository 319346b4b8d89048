package table

import (
	"strconv"
	"strings"
)

// UsernameColumn is the canonical identity column every joined output keys on.
const UsernameColumn = "username"

// usernameSynonyms are header spellings that requesters use for the user
// identifier across their spreadsheets.
var usernameSynonyms = map[string]bool{
	"username":  true,
	"user name": true,
	"user_name": true,
	"user id":   true,
	"user_id":   true,
	"userid":    true,
	"id":        true,
}

// NormalizeColumns lower-cases and trims every header and renames the first
// header drawn from the user-identifier synonym set to "username". Exactly
// one column at most ends up named "username": an existing username column
// wins over synonyms, and duplicate candidates keep a numbered suffix so they
// cannot shadow the identity column. The input slice is not modified.
//
// When no header matches, the headers come back without an identity column;
// callers must then treat every row as droppable.
func NormalizeColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = strings.ToLower(strings.TrimSpace(c))
	}

	// Pick the identity column: a literal "username" first, else the first
	// synonym in header order.
	target := -1
	for i, c := range out {
		if c == UsernameColumn {
			target = i
			break
		}
	}
	if target < 0 {
		for i, c := range out {
			if usernameSynonyms[c] {
				target = i
				break
			}
		}
	}
	if target < 0 {
		return out
	}
	out[target] = UsernameColumn

	// Deduplicate any remaining headers that collide with the canonical name.
	n := 2
	for i, c := range out {
		if i != target && c == UsernameColumn {
			out[i] = UsernameColumn + "_" + strconv.Itoa(n)
			n++
		}
	}
	return out
}

// UsernameIndex returns the position of the canonical identity column, or -1
// when the headers carry none.
func UsernameIndex(cols []string) int {
	for i, c := range cols {
		if c == UsernameColumn {
			return i
		}
	}
	return -1
}

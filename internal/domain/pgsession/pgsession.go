// Package pgsession defines the transient view of a live PostgreSQL backend.
// The source of truth is pg_stat_activity; records are never persisted.
package pgsession

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Well-known pg_stat_activity states. NotFound is used when the backend is gone.
const (
	StateActive            = "active"
	StateIdle              = "idle"
	StateIdleInTransaction = "idle in transaction"
	StateAborted           = "idle in transaction (aborted)"
	StateFastpath          = "fastpath function call"
	StateDisabled          = "disabled"
	StateNotFound          = "not_found"
)

// Record is one backend process as reported by pg_stat_activity.
type Record struct {
	PID             int32         `json:"pid"`
	State           string        `json:"state"`
	Query           string        `json:"query"`
	QueryStart      time.Time     `json:"query_start"`
	Elapsed         time.Duration `json:"elapsed"`
	ApplicationName string        `json:"application_name,omitempty"`
	ClientAddr      string        `json:"client_addr,omitempty"`
	Username        string        `json:"username,omitempty"`
	Database        string        `json:"database,omitempty"`
	BackendStart    time.Time     `json:"backend_start"`
	WaitEventType   string        `json:"wait_event_type,omitempty"`
}

// Running reports whether the backend is still executing or holding a
// transaction. An aborted transaction still holds its locks until rollback.
func (r *Record) Running() bool {
	switch r.State {
	case StateActive, StateIdleInTransaction, StateAborted, StateFastpath:
		return true
	}
	return false
}

// Exceeds reports whether the backend is running and has been for at least threshold.
func (r *Record) Exceeds(threshold time.Duration) bool {
	return r.Running() && r.Elapsed >= threshold
}

// MaxQueryPreview is how much query text is kept for display and prompts.
const MaxQueryPreview = 200

// Preview returns the query text truncated for display.
func (r *Record) Preview() string {
	return Truncate(r.Query, MaxQueryPreview)
}

// Truncate cuts s to at most n bytes on a rune boundary and marks the cut
// with "...".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

// Offender picks the record a strategy should act on from a list ordered
// oldest first: the oldest one past threshold, else the oldest running one,
// else the first. It returns nil for an empty list.
func Offender(recs []Record, threshold time.Duration) *Record {
	if len(recs) == 0 {
		return nil
	}
	running := -1
	for i := range recs {
		if recs[i].Exceeds(threshold) {
			return &recs[i]
		}
		if running < 0 && recs[i].Running() {
			running = i
		}
	}
	if running >= 0 {
		return &recs[running]
	}
	return &recs[0]
}

var pidPattern = regexp.MustCompile(`(?i)\b(?:pid|process(?:\s+id)?|backend)\s*[:#=]?\s*(\d{1,10})\b`)

// PIDFromText extracts a backend pid mentioned in free text ("pid 1234",
// "process id: 1234"). The second return is false when none is present.
func PIDFromText(text string) (int32, bool) {
	m := pidPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil || n <= 0 {
		return 0, false
	}
	return int32(n), true
}

var labelReplacer = strings.NewReplacer(" ", "_", "(", "", ")", "")

// StatusLabel returns the state as reported in resolution results, with
// spaces replaced so it reads as a single token ("idle_in_transaction").
func (r *Record) StatusLabel() string {
	if r.State == "" {
		return "unknown"
	}
	return labelReplacer.Replace(r.State)
}

var (
	quotedPattern = regexp.MustCompile("[`\"]([^`\"]{3,})[`\"]")
	tablePattern  = regexp.MustCompile(`(?i)\b(?:select|delete|insert|update|query|queries|lock|locks|scan)\b.*?\b(?:on|from|into|against|table)\s+([a-z_][a-z0-9_.]*)`)
	updatePattern = regexp.MustCompile(`\bUPDATE\s+([A-Za-z_][A-Za-z0-9_.]*)`)
)

var notARelation = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true, "our": true,
	"my": true, "production": true, "prod": true, "database": true, "db": true,
	"server": true, "it": true,
}

// QueryFragmentFromText extracts text that identifies a running query: a
// quoted snippet ("`SELECT * FROM orders`") or the relation a statement is
// said to touch ("the SELECT on orders"). The second return is false when
// none is present.
func QueryFragmentFromText(text string) (string, bool) {
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		if frag := strings.TrimSpace(m[1]); frag != "" {
			return frag, true
		}
	}
	for _, p := range []*regexp.Regexp{updatePattern, tablePattern} {
		m := p.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if name := strings.Trim(m[1], "."); name != "" && !notARelation[strings.ToLower(name)] {
			return name, true
		}
	}
	return "", false
}

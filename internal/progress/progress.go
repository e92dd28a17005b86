// Package progress holds the shared scan progress tracker. It is the only
// structure written by the running pipeline and read concurrently by the
// status API and the WebSocket stream, so every field access goes through
// one mutex.
package progress

import (
	"errors"
	"sync"
	"time"
)

const (
	maxLogEntries = 200
	maxActivities = 20
)

// ErrCancelled is returned by CheckCancelled once a user has requested
// cancellation. It propagates up through every loop level and is mapped to
// the "cancelled" scan status, never logged as an error.
var ErrCancelled = errors.New("scan cancelled by user")

var stageNames = map[int]string{
	0: "Preparation",
	1: "OSINT",
	2: "Code search",
	3: "Repo analysis",
	4: "Finalize",
}

type LogEntry struct {
	TS   string `json:"ts"`
	Text string `json:"text"`
}

// Activity is a structured dashboard entry. Unlike the log it survives
// Reset so the last notable events remain visible between runs.
type Activity struct {
	TS   string `json:"ts"`
	Type string `json:"type"`
	Text string `json:"text"`
}

// Event is pushed to the registered listener on every log or activity
// write; the WebSocket hub fans it out to connected clients.
type Event struct {
	Kind     string    `json:"kind"` // "log" | "activity" | "stage"
	Log      *LogEntry `json:"log,omitempty"`
	Activity *Activity `json:"activity,omitempty"`
	Stage    int       `json:"stage,omitempty"`
	Message  string    `json:"message,omitempty"`
}

type Snapshot struct {
	Running        bool       `json:"running"`
	Stage          int        `json:"stage"`
	StageName      string     `json:"stage_name"`
	Message        string     `json:"message"`
	CurrentItem    string     `json:"current_item"`
	Count          int        `json:"count"`
	Total          int        `json:"total"`
	Percent        int        `json:"percent"`
	Findings       int        `json:"findings_so_far"`
	ReposScanned   int        `json:"repos_scanned_so_far"`
	CancelRequest  bool       `json:"cancel_requested"`
	Log            []LogEntry `json:"log"`
	Activities     []Activity `json:"activities"`
}

// Tracker is the process-wide progress object.
type Tracker struct {
	mu           sync.Mutex
	running      bool
	stage        int
	stageName    string
	message      string
	currentItem  string
	count        int
	total        int
	findings     int
	reposScanned int
	cancel       bool
	log          []LogEntry
	activities   []Activity
	listener     func(Event)
}

func NewTracker() *Tracker {
	return &Tracker{}
}

// SetListener registers a callback invoked (outside the lock) on every log
// and activity write.
func (t *Tracker) SetListener(fn func(Event)) {
	t.mu.Lock()
	t.listener = fn
	t.mu.Unlock()
}

func (t *Tracker) Update(stage int, message, currentItem string, count, total int) {
	t.mu.Lock()
	t.running = true
	t.stage = stage
	t.stageName = stageNames[stage]
	t.message = message
	t.currentItem = currentItem
	t.count = count
	t.total = total
	fn := t.listener
	t.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: "stage", Stage: stage, Message: message})
	}
}

func (t *Tracker) SetFindings(n int) {
	t.mu.Lock()
	t.findings = n
	t.mu.Unlock()
}

func (t *Tracker) SetReposScanned(n int) {
	t.mu.Lock()
	t.reposScanned = n
	t.mu.Unlock()
}

func (t *Tracker) AddLog(text string) {
	entry := LogEntry{TS: time.Now().UTC().Format("15:04:05"), Text: text}
	t.mu.Lock()
	t.log = append(t.log, entry)
	if len(t.log) > maxLogEntries {
		t.log = t.log[len(t.log)-maxLogEntries:]
	}
	fn := t.listener
	t.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: "log", Log: &entry})
	}
}

func (t *Tracker) AddActivity(activityType, text string) {
	entry := Activity{TS: time.Now().UTC().Format("15:04:05"), Type: activityType, Text: text}
	t.mu.Lock()
	t.activities = append(t.activities, entry)
	if len(t.activities) > maxActivities {
		t.activities = t.activities[len(t.activities)-maxActivities:]
	}
	fn := t.listener
	t.mu.Unlock()

	if fn != nil {
		fn(Event{Kind: "activity", Activity: &entry})
	}
}

func (t *Tracker) RequestCancel() {
	t.mu.Lock()
	t.cancel = true
	t.mu.Unlock()
}

func (t *Tracker) CancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancel
}

// CheckCancelled returns ErrCancelled if cancellation was requested. Call
// sites check it at the top of every per-keyword and per-repository loop
// iteration.
func (t *Tracker) CheckCancelled() error {
	if t.CancelRequested() {
		return ErrCancelled
	}
	return nil
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	percent := 0
	if t.total > 0 {
		percent = t.count * 100 / t.total
		if percent > 100 {
			percent = 100
		}
	}

	return Snapshot{
		Running:       t.running,
		Stage:         t.stage,
		StageName:     t.stageName,
		Message:       t.message,
		CurrentItem:   t.currentItem,
		Count:         t.count,
		Total:         t.total,
		Percent:       percent,
		Findings:      t.findings,
		ReposScanned:  t.reposScanned,
		CancelRequest: t.cancel,
		Log:           append([]LogEntry(nil), t.log...),
		Activities:    append([]Activity(nil), t.activities...),
	}
}

// Reset clears the per-run transient state. Activities are kept so the
// dashboard still shows the last notable events across runs.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.running = false
	t.stage = 0
	t.stageName = ""
	t.message = ""
	t.currentItem = ""
	t.count = 0
	t.total = 0
	t.findings = 0
	t.reposScanned = 0
	t.cancel = false
	t.log = nil
	t.mu.Unlock()
}

// Package status publishes the read-only run snapshot observers poll. The
// current snapshot is swapped atomically; readers never block the pipeline
// and never see a half-built value.
package status

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MaxMessages is how many recent messages a snapshot carries.
const MaxMessages = 50

// Message levels.
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelError   = "error"
)

type Document struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	LastError string `json:"last_error,omitempty"`
	Versions  int    `json:"versions"`
}

type Message struct {
	Text  string    `json:"text"`
	Level string    `json:"level"`
	Time  time.Time `json:"time"`
}

// Snapshot is an immutable projection of a run. Seq increases with every
// publication so observers can order snapshots.
type Snapshot struct {
	Seq             uint64     `json:"seq"`
	ProjectName     string     `json:"project_name"`
	RunID           string     `json:"run_id"`
	Progress        int        `json:"progress"`
	Status          string     `json:"status"`
	CurrentDocument string     `json:"current_document,omitempty"`
	Completed       int        `json:"completed"`
	Total           int        `json:"total"`
	Documents       []Document `json:"documents"`
	Messages        []Message  `json:"messages"`
	FailedDocument  string     `json:"failed_document,omitempty"`
	Reason          string     `json:"reason,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Progress is round(completed/total*100), 0 for an empty run.
func Progress(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(completed) * 100 / float64(total)))
}

// Publisher holds the current snapshot and the recent message log.
type Publisher struct {
	current atomic.Pointer[Snapshot]

	mu       sync.Mutex // serializes writers
	seq      uint64
	messages []Message
	clock    func() time.Time
}

func NewPublisher() *Publisher {
	p := &Publisher{clock: time.Now}
	p.current.Store(&Snapshot{Status: "ready", Documents: []Document{}, Messages: []Message{}})
	return p
}

// Publish replaces the current snapshot. The publisher's message log is
// attached; any Messages on s are ignored.
func (p *Publisher) Publish(s Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storeLocked(s)
}

// Post appends a message and republishes the current snapshot with it.
func (p *Publisher) Post(level, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Text: text, Level: level, Time: p.clock()})
	if over := len(p.messages) - MaxMessages; over > 0 {
		p.messages = append([]Message(nil), p.messages[over:]...)
	}
	p.storeLocked(*p.current.Load())
}

func (p *Publisher) storeLocked(s Snapshot) {
	p.seq++
	s.Seq = p.seq
	s.UpdatedAt = p.clock()
	s.Documents = append([]Document{}, s.Documents...)
	s.Messages = append([]Message{}, p.messages...)
	p.current.Store(&s)
}

// Current returns the latest snapshot. It never blocks on writers.
func (p *Publisher) Current() Snapshot {
	s := *p.current.Load()
	s.Documents = append([]Document{}, s.Documents...)
	s.Messages = append([]Message{}, s.Messages...)
	return s
}

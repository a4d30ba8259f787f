package highlight

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// NoticeKind classifies a user-facing notice
type NoticeKind string

const (
	NoticeAnalyzing   NoticeKind = "analyzing"    // Indicator shown while waiting for results
	NoticeClaimsFound NoticeKind = "claims_found" // Claim count after a pass
	NoticeNoClaims    NoticeKind = "no_claims"    // Analysis returned an empty list
	NoticeNoSelection NoticeKind = "no_selection" // Selection analysis with nothing selected
	NoticeNoContent   NoticeKind = "no_content"   // Page had no extractable text
	NoticeError       NoticeKind = "error"        // Analysis failed
)

// Notice is a message shown to the user
type Notice struct {
	ID      string        `json:"id"`
	Kind    NoticeKind    `json:"kind"`
	Message string        `json:"message"`
	Shown   time.Time     `json:"shown"`
	TTL     time.Duration `json:"ttl"` // Zero means shown until dismissed
}

// Notifier shows and dismisses notices
type Notifier interface {
	Show(kind NoticeKind, message string, ttl time.Duration) string
	Dismiss(id string)
}

// Notices is the default Notifier. Notices with a TTL are dismissed by a
// timer the Notices value owns; Close stops all pending timers.
type Notices struct {
	mu     sync.Mutex
	active []Notice
	timers map[string]*time.Timer
	sink   func(Notice)
	closed bool
}

// NewNotices creates a notifier. sink, if non-nil, is called for every
// notice shown.
func NewNotices(sink func(Notice)) *Notices {
	return &Notices{
		timers: make(map[string]*time.Timer),
		sink:   sink,
	}
}

// Show displays a notice and schedules its dismissal when ttl > 0
func (n *Notices) Show(kind NoticeKind, message string, ttl time.Duration) string {
	notice := Notice{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: message,
		Shown:   time.Now(),
		TTL:     ttl,
	}

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return notice.ID
	}
	n.active = append(n.active, notice)
	if ttl > 0 {
		id := notice.ID
		n.timers[id] = time.AfterFunc(ttl, func() { n.Dismiss(id) })
	}
	sink := n.sink
	n.mu.Unlock()

	if sink != nil {
		sink(notice)
	}
	return notice.ID
}

// Dismiss removes a notice and cancels its timer
func (n *Notices) Dismiss(id string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.timers[id]; ok {
		t.Stop()
		delete(n.timers, id)
	}
	for i, notice := range n.active {
		if notice.ID == id {
			n.active = append(n.active[:i], n.active[i+1:]...)
			return
		}
	}
}

// Active returns the notices currently shown, oldest first
func (n *Notices) Active() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notice, len(n.active))
	copy(out, n.active)
	return out
}

// Close cancels every pending dismissal and drops all notices
func (n *Notices) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, t := range n.timers {
		t.Stop()
		delete(n.timers, id)
	}
	n.active = nil
	n.closed = true
}

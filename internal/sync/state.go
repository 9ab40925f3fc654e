package sync

import (
	stdsync "sync"
	"time"
)

// Phase labels what a running pass is doing
type Phase string

const (
	PhasePrepare       Phase = "prepare.account"
	PhaseAutodiscover  Phase = "send.request.autodiscover"
	PhaseGetFolders    Phase = "send.request.folders"
	PhaseMarkPending   Phase = "prepare.folders"
	PhasePrepareFolder Phase = "prepare.request.folder"
	PhasePullRequest   Phase = "send.request.remotechanges"
	PhasePullApply     Phase = "eval.response.remotechanges"
	PhasePushRequest   Phase = "send.request.localchanges"
	PhaseDone          Phase = "done"
)

// EventType is the kind of progress event
type EventType string

const (
	EventAccountStarted  EventType = "account.started"
	EventPhase           EventType = "phase"
	EventProgress        EventType = "progress"
	EventFolderFinished  EventType = "folder.finished"
	EventAccountFinished EventType = "account.finished"
)

// State is the live progress of one account pass. It exists only while the
// pass runs.
type State struct {
	AccountID  string
	RunID      string
	FolderID   string
	FolderName string
	Phase      Phase
	Done       int
	Todo       int
	// Deadline is when the request in flight times out, zero when idle
	Deadline time.Time
	// Status is set on finish events
	Status    string
	StartedAt time.Time
}

// Remaining returns the advisory countdown of the request in flight
func (s State) Remaining(now time.Time) time.Duration {
	if s.Deadline.IsZero() || now.After(s.Deadline) {
		return 0
	}
	return s.Deadline.Sub(now)
}

// Event is one progress update
type Event struct {
	Type  EventType
	State State
}

// Tracker holds the states of running passes and fans events out to
// subscribers. Slow subscribers miss events instead of blocking the engine.
type Tracker struct {
	mu     stdsync.Mutex
	states map[string]State
	subs   map[int]chan Event
	nextID int
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{
		states: make(map[string]State),
		subs:   make(map[int]chan Event),
	}
}

// Subscribe returns a channel of events and a function that closes it
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Event, buffer)
	t.subs[id] = ch

	var once stdsync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			delete(t.subs, id)
			close(ch)
		})
	}
}

// Current returns the state of a running pass
func (t *Tracker) Current(accountID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[accountID]
	return s, ok
}

// Running lists the states of all running passes
func (t *Tracker) Running() []State {
	t.mu.Lock()
	defer t.mu.Unlock()
	states := make([]State, 0, len(t.states))
	for _, s := range t.states {
		states = append(states, s)
	}
	return states
}

func (t *Tracker) start(accountID, runID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := State{AccountID: accountID, RunID: runID, Phase: PhasePrepare, StartedAt: time.Now()}
	t.states[accountID] = s
	t.publish(Event{Type: EventAccountStarted, State: s})
}

func (t *Tracker) update(accountID string, typ EventType, fn func(*State)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[accountID]
	if !ok {
		return
	}
	fn(&s)
	t.states[accountID] = s
	t.publish(Event{Type: typ, State: s})
}

func (t *Tracker) finish(accountID, status string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.states[accountID]
	if !ok {
		return
	}
	delete(t.states, accountID)
	s.Phase = PhaseDone
	s.FolderID = ""
	s.FolderName = ""
	s.Deadline = time.Time{}
	s.Status = status
	t.publish(Event{Type: EventAccountFinished, State: s})
}

// publish must be called with mu held
func (t *Tracker) publish(ev Event) {
	for _, ch := range t.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

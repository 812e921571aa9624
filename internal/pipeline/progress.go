package pipeline

import (
	"sync"
	"time"
)

// Phase names the currently running pipeline stage
type Phase string

const (
	PhaseDistill Phase = "distill"
	PhaseCask    Phase = "cask"
)

// LastRun summarizes the most recent completed pipeline run
type LastRun struct {
	CompletedAt time.Time `json:"completed_at"`
	Distilled   int       `json:"distilled"`
	Casked      int       `json:"casked"`
}

// ProgressSnapshot is a point-in-time copy of the pipeline state
type ProgressSnapshot struct {
	Status    string     `json:"status"` // idle or running
	Phase     string     `json:"phase,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	LastRun   *LastRun   `json:"last_run,omitempty"`
}

// Progress tracks in-process pipeline state. It doubles as the concurrency
// guard: TryStart only succeeds when no run is in flight.
type Progress struct {
	mu        sync.Mutex
	running   bool
	phase     Phase
	startedAt time.Time
	lastRun   *LastRun
}

// NewProgress creates an idle progress tracker
func NewProgress() *Progress {
	return &Progress{}
}

// TryStart atomically transitions idle to running(distill). Returns false
// when a run is already in flight, in which case the state is unchanged.
func (p *Progress) TryStart() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return false
	}
	p.running = true
	p.phase = PhaseDistill
	p.startedAt = time.Now()
	return true
}

// EnterPhase records the currently running phase
func (p *Progress) EnterPhase(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// Finish returns the state to idle and records the run summary. Called on
// both success and failure so the pipeline always returns to idle.
func (p *Progress) Finish(distilled, casked int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	p.phase = ""
	p.startedAt = time.Time{}
	p.lastRun = &LastRun{
		CompletedAt: time.Now(),
		Distilled:   distilled,
		Casked:      casked,
	}
}

// Snapshot returns a copy of the current state
func (p *Progress) Snapshot() ProgressSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	snap := ProgressSnapshot{Status: "idle"}
	if p.running {
		snap.Status = "running"
		snap.Phase = string(p.phase)
		started := p.startedAt
		snap.StartedAt = &started
	}
	if p.lastRun != nil {
		last := *p.lastRun
		snap.LastRun = &last
	}
	return snap
}

package workqueue

import "sync"

// ConcurrencyStrategy controls how tasks are allowed to start concurrently.
// The strategy is responsible for tracking running tasks and determining
// if a new task can start based on the current state.
type ConcurrencyStrategy interface {
	// CanStart returns true if task can start given current state
	CanStart(task Task) bool
	// OnStart is called when a task starts
	OnStart(task Task)
	// OnComplete is called when a task reaches a terminal status
	OnComplete(task Task)
}

// ============================================================================
// PerStoreStrategy - default: one mutating task per store, pure tasks throttled
// ============================================================================

// PerStoreStrategy runs at most one task per store key at a time, so plans on
// the same store never interleave, while tasks on other stores and tasks
// without a store run in parallel. Pure tasks are capped at maxPure; zero
// means no cap.
type PerStoreStrategy struct {
	mu          sync.Mutex
	maxPure     int
	pureRunning int
	busy        map[string]bool
}

// NewPerStoreStrategy creates a strategy that serializes tasks sharing a
// store key.
func NewPerStoreStrategy(maxPure int) *PerStoreStrategy {
	if maxPure < 0 {
		maxPure = 0
	}
	return &PerStoreStrategy{
		maxPure: maxPure,
		busy:    make(map[string]bool),
	}
}

func (s *PerStoreStrategy) CanStart(task Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := task.StoreKey(); key != "" {
		return !s.busy[key]
	}
	return s.maxPure == 0 || s.pureRunning < s.maxPure
}

func (s *PerStoreStrategy) OnStart(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := task.StoreKey(); key != "" {
		s.busy[key] = true
		return
	}
	s.pureRunning++
}

func (s *PerStoreStrategy) OnComplete(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key := task.StoreKey(); key != "" {
		delete(s.busy, key)
		return
	}
	if s.pureRunning > 0 {
		s.pureRunning--
	}
}

// ============================================================================
// SerializedStrategy - one task at a time
// ============================================================================

// SerializedStrategy runs a single task at a time regardless of kind.
type SerializedStrategy struct {
	mu      sync.Mutex
	running bool
}

// NewSerializedStrategy creates a strategy that runs tasks one by one.
func NewSerializedStrategy() *SerializedStrategy {
	return &SerializedStrategy{}
}

func (s *SerializedStrategy) CanStart(Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running
}

func (s *SerializedStrategy) OnStart(Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *SerializedStrategy) OnComplete(Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
}

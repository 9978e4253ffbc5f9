package scheduler

import "time"

// RetryStatus is the position of a gate in the retry ladder.
type RetryStatus string

const (
	// StatusRetrying waits for guarantees to pass on their own.
	StatusRetrying RetryStatus = "retrying"
	// StatusAwaitingRecovery waits for a launched recovery agent.
	StatusAwaitingRecovery RetryStatus = "awaiting_recovery"
	// StatusEscalated waits for a human.
	StatusEscalated RetryStatus = "escalated"
)

// RetryState tracks one pending gate whose guarantees keep failing. A gate
// with passing guarantees has no state.
type RetryState struct {
	ExecutionID        string      `json:"execution_id"`
	GateID             string      `json:"gate_id"`
	Status             RetryStatus `json:"status"`
	RetryCount         int         `json:"retry_count"`
	LastAttempt        time.Time   `json:"last_attempt"`
	RecoveryLaunchedAt time.Time   `json:"recovery_launched_at,omitzero"`
	EscalatedAt        time.Time   `json:"escalated_at,omitzero"`
	Notified           bool        `json:"notified,omitempty"`
	Missing            []string    `json:"missing,omitempty"`
}

func (r *RetryState) clone() *RetryState {
	c := *r
	c.Missing = append([]string(nil), r.Missing...)
	return &c
}

type gateKey struct {
	executionID string
	gateID      string
}

// RetryState returns a copy of the retry state of a gate.
func (s *Scheduler) RetryState(executionID, gateID string) (RetryState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.retries[gateKey{executionID, gateID}]
	if !ok {
		return RetryState{}, false
	}
	return *r.clone(), true
}

// RetryStates returns a copy of every retry state.
func (s *Scheduler) RetryStates() []RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RetryState, 0, len(s.retries))
	for _, r := range s.retries {
		out = append(out, *r.clone())
	}
	return out
}

func (s *Scheduler) loadRetry(key gateKey) *RetryState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.retries[key]; ok {
		return r.clone()
	}
	return nil
}

func (s *Scheduler) storeRetry(r *RetryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retries[gateKey{r.ExecutionID, r.GateID}] = r.clone()
}

func (s *Scheduler) deleteRetry(key gateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.retries, key)
}

// markNotice records a human notice for a gate and reports whether it is
// the first one.
func (s *Scheduler) markNotice(key gateKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notices[key]; ok {
		return false
	}
	s.notices[key] = struct{}{}
	return true
}

func (s *Scheduler) unmarkNotice(key gateKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notices, key)
}

// forget drops all state of an execution.
func (s *Scheduler) forget(executionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forgetLocked(executionID)
}

func (s *Scheduler) forgetLocked(executionID string) {
	for k := range s.retries {
		if k.executionID == executionID {
			delete(s.retries, k)
		}
	}
	for k := range s.notices {
		if k.executionID == executionID {
			delete(s.notices, k)
		}
	}
	delete(s.visited, executionID)
}

// prune drops state for executions that are no longer eligible.
func (s *Scheduler) prune(eligible map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := make(map[string]bool)
	for k := range s.retries {
		if !eligible[k.executionID] {
			stale[k.executionID] = true
		}
	}
	for k := range s.notices {
		if !eligible[k.executionID] {
			stale[k.executionID] = true
		}
	}
	for id := range s.visited {
		if !eligible[id] {
			stale[id] = true
		}
	}
	for id := range stale {
		s.forgetLocked(id)
	}
}

// pruneGates drops state for gates of an execution that are no longer pending.
func (s *Scheduler) pruneGates(executionID string, pending map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.retries {
		if k.executionID == executionID && !pending[k.gateID] {
			delete(s.retries, k)
		}
	}
	for k := range s.notices {
		if k.executionID == executionID && !pending[k.gateID] {
			delete(s.notices, k)
		}
	}
}

func (s *Scheduler) countByStatus() map[RetryStatus]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := map[RetryStatus]int{
		StatusRetrying:         0,
		StatusAwaitingRecovery: 0,
		StatusEscalated:        0,
	}
	for _, r := range s.retries {
		counts[r.Status]++
	}
	return counts
}

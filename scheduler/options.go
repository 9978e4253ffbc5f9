package scheduler

import (
	"fmt"
	"time"
)

// Options are the scheduler knobs. Durations are in milliseconds so they
// map one to one onto configuration files.
type Options struct {
	// TickInterval is the time between ticks.
	TickInterval int `json:"tick_interval_ms"`
	// MaxParallelExecutions caps the executions processed in one tick.
	MaxParallelExecutions int `json:"max_parallel_executions"`
	// MaxSkillRetries caps retries of failed skills.
	MaxSkillRetries int `json:"max_skill_retries"`
	// GateRetryDelay is the minimum wall-clock time between gate retries.
	GateRetryDelay int `json:"gate_retry_delay_ms"`
	// MaxGateRetries is the retry count after which recovery is launched.
	MaxGateRetries int `json:"max_gate_retries"`
	// RecoveryTimeout is how long a recovery agent gets before escalation.
	RecoveryTimeout int `json:"recovery_timeout_ms"`
	// ExecutionTimeout bounds the processing of one execution in a tick.
	ExecutionTimeout int `json:"execution_timeout_ms"`
	// AutoStart starts the tick loop when the owning component starts.
	AutoStart bool `json:"auto_start"`
}

// DefaultOptions returns the default scheduler options.
func DefaultOptions() Options {
	return Options{
		TickInterval:          5000,
		MaxParallelExecutions: 3,
		MaxSkillRetries:       3,
		GateRetryDelay:        10000,
		MaxGateRetries:        3,
		RecoveryTimeout:       300000,
		ExecutionTimeout:      30000,
		AutoStart:             false,
	}
}

// Validate rejects non-positive knobs.
func (o Options) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"tick_interval_ms", o.TickInterval},
		{"max_parallel_executions", o.MaxParallelExecutions},
		{"max_skill_retries", o.MaxSkillRetries},
		{"gate_retry_delay_ms", o.GateRetryDelay},
		{"max_gate_retries", o.MaxGateRetries},
		{"recovery_timeout_ms", o.RecoveryTimeout},
		{"execution_timeout_ms", o.ExecutionTimeout},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.name, c.value)
		}
	}
	return nil
}

func (o Options) tickInterval() time.Duration {
	return time.Duration(o.TickInterval) * time.Millisecond
}

func (o Options) gateRetryDelay() time.Duration {
	return time.Duration(o.GateRetryDelay) * time.Millisecond
}

func (o Options) recoveryTimeout() time.Duration {
	return time.Duration(o.RecoveryTimeout) * time.Millisecond
}

func (o Options) executionTimeout() time.Duration {
	return time.Duration(o.ExecutionTimeout) * time.Millisecond
}

// Partial is a sparse update for Configure. Nil fields are left unchanged.
type Partial struct {
	TickInterval          *int  `json:"tick_interval_ms,omitempty"`
	MaxParallelExecutions *int  `json:"max_parallel_executions,omitempty"`
	MaxSkillRetries       *int  `json:"max_skill_retries,omitempty"`
	GateRetryDelay        *int  `json:"gate_retry_delay_ms,omitempty"`
	MaxGateRetries        *int  `json:"max_gate_retries,omitempty"`
	RecoveryTimeout       *int  `json:"recovery_timeout_ms,omitempty"`
	ExecutionTimeout      *int  `json:"execution_timeout_ms,omitempty"`
	AutoStart             *bool `json:"auto_start,omitempty"`
}

// PartialFrom returns a Partial that sets every field of o.
func PartialFrom(o Options) Partial {
	return Partial{
		TickInterval:          &o.TickInterval,
		MaxParallelExecutions: &o.MaxParallelExecutions,
		MaxSkillRetries:       &o.MaxSkillRetries,
		GateRetryDelay:        &o.GateRetryDelay,
		MaxGateRetries:        &o.MaxGateRetries,
		RecoveryTimeout:       &o.RecoveryTimeout,
		ExecutionTimeout:      &o.ExecutionTimeout,
		AutoStart:             &o.AutoStart,
	}
}

// Apply returns o with the non-nil fields of p.
func (p Partial) Apply(o Options) Options {
	if p.TickInterval != nil {
		o.TickInterval = *p.TickInterval
	}
	if p.MaxParallelExecutions != nil {
		o.MaxParallelExecutions = *p.MaxParallelExecutions
	}
	if p.MaxSkillRetries != nil {
		o.MaxSkillRetries = *p.MaxSkillRetries
	}
	if p.GateRetryDelay != nil {
		o.GateRetryDelay = *p.GateRetryDelay
	}
	if p.MaxGateRetries != nil {
		o.MaxGateRetries = *p.MaxGateRetries
	}
	if p.RecoveryTimeout != nil {
		o.RecoveryTimeout = *p.RecoveryTimeout
	}
	if p.ExecutionTimeout != nil {
		o.ExecutionTimeout = *p.ExecutionTimeout
	}
	if p.AutoStart != nil {
		o.AutoStart = *p.AutoStart
	}
	return o
}

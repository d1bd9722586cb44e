package domain

import "fmt"

// SystemMode is the process-wide trading posture
type SystemMode string

const (
	// ModeObserveOnly blocks every real-execution intent; the default posture.
	ModeObserveOnly SystemMode = "observe_only"
	// ModeAggressive permits real execution for strategies with Active accounts.
	ModeAggressive SystemMode = "aggressive"
)

// ParseSystemMode maps a config string onto a mode.
func ParseSystemMode(s string) (SystemMode, error) {
	switch SystemMode(s) {
	case ModeObserveOnly, ModeAggressive:
		return SystemMode(s), nil
	}
	return "", fmt.Errorf("unknown system mode %q", s)
}

// ExecutionMode selects the adapter path. The zero value is deliberately
// unset; the execution manager refuses to run until a mode is chosen.
type ExecutionMode int

const (
	ExecutionUnset ExecutionMode = iota
	ExecutionReal
	ExecutionSimulation
	ExecutionShadow
)

// ParseExecutionMode maps a config string onto a mode.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch s {
	case "real":
		return ExecutionReal, nil
	case "simulation":
		return ExecutionSimulation, nil
	case "shadow":
		return ExecutionShadow, nil
	}
	return ExecutionUnset, fmt.Errorf("unknown execution mode %q", s)
}

func (m ExecutionMode) String() string {
	switch m {
	case ExecutionReal:
		return "real"
	case ExecutionSimulation:
		return "simulation"
	case ExecutionShadow:
		return "shadow"
	}
	return "unset"
}

// Type returns the execution type stamped onto outcomes produced in this mode.
func (m ExecutionMode) Type() ExecutionType {
	switch m {
	case ExecutionReal:
		return ExecTypeReal
	case ExecutionSimulation:
		return ExecTypeSimulated
	case ExecutionShadow:
		return ExecTypeShadow
	}
	return ""
}

// ExecutionType annotates outcomes, events and runtime-tracker records with
// the path that produced them. Sentinel marks decisions that were recorded
// for evidence without any adapter execution.
type ExecutionType string

const (
	ExecTypeReal      ExecutionType = "real"
	ExecTypeSimulated ExecutionType = "simulated"
	ExecTypeShadow    ExecutionType = "shadow"
	ExecTypeSentinel  ExecutionType = "sentinel"
)

// CountsAsValidation reports whether this execution type accrues
// validation evidence (everything except real fills).
func (t ExecutionType) CountsAsValidation() bool {
	return t == ExecTypeSimulated || t == ExecTypeShadow || t == ExecTypeSentinel
}

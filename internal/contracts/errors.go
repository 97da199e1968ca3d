package contracts

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error taxonomy
// =============================================================================

var (
	ErrDataInsufficiency    = errors.New("data insufficiency")
	ErrNumericalInstability = errors.New("numerical instability")
	ErrConfiguration        = errors.New("configuration error")
	ErrExplosion            = errors.New("explosion event")
)

// ErrorKind mirrors the sentinel errors as an enumerable value
type ErrorKind int

const (
	KindDataInsufficiency ErrorKind = iota + 1
	KindNumericalInstability
	KindConfiguration
	KindExplosion
)

func (k ErrorKind) String() string {
	switch k {
	case KindDataInsufficiency:
		return "data_insufficiency"
	case KindNumericalInstability:
		return "numerical_instability"
	case KindConfiguration:
		return "configuration"
	case KindExplosion:
		return "explosion"
	default:
		return "unknown"
	}
}

// Sentinel returns the sentinel error for the kind
func (k ErrorKind) Sentinel() error {
	switch k {
	case KindDataInsufficiency:
		return ErrDataInsufficiency
	case KindNumericalInstability:
		return ErrNumericalInstability
	case KindConfiguration:
		return ErrConfiguration
	case KindExplosion:
		return ErrExplosion
	default:
		return nil
	}
}

// KindOf classifies an error chain; 0 when it carries none of the sentinels
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrDataInsufficiency):
		return KindDataInsufficiency
	case errors.Is(err, ErrNumericalInstability):
		return KindNumericalInstability
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrExplosion):
		return KindExplosion
	default:
		return 0
	}
}

// =============================================================================
// Fallback policy
// =============================================================================

// Action is what the engine does when a stage reports an ErrorKind
type Action int

const (
	ActionDegrade       Action = iota + 1 // simplest valid fallback (single regime, independence)
	ActionCorrect                         // local correction (PSD projection, ratio clamp)
	ActionFailFast                        // explicit error at the orchestrator boundary
	ActionResetAndCount                   // hard reset, zero next return, count
)

func (a Action) String() string {
	switch a {
	case ActionDegrade:
		return "degrade"
	case ActionCorrect:
		return "correct"
	case ActionFailFast:
		return "fail_fast"
	case ActionResetAndCount:
		return "reset_and_count"
	default:
		return "unknown"
	}
}

// FallbackPolicy maps every error kind to its handling
type FallbackPolicy map[ErrorKind]Action

// DefaultFallbackPolicy 기본 폴백 정책
func DefaultFallbackPolicy() FallbackPolicy {
	return FallbackPolicy{
		KindDataInsufficiency:    ActionDegrade,
		KindNumericalInstability: ActionCorrect,
		KindConfiguration:        ActionFailFast,
		KindExplosion:            ActionResetAndCount,
	}
}

// ActionFor returns the configured action, failing fast for unknown kinds
func (p FallbackPolicy) ActionFor(kind ErrorKind) Action {
	if a, ok := p[kind]; ok {
		return a
	}
	return ActionFailFast
}

// =============================================================================
// Stage errors & degradations
// =============================================================================

// Stage names a step of the per-(product, path) state machine
type Stage string

const (
	StageCalibration Stage = "CALIBRATION"
	StageAwaitBlock  Stage = "AWAIT_BLOCK"
	StageBlock       Stage = "BLOCK_ACCEPTED"
	StageJump        Stage = "JUMP_PASS"
	StageOverlay     Stage = "OVERLAY_PASS"
	StageCorrelation Stage = "CORRELATION_PASS"
	StageCapCheck    Stage = "CAP_CHECK"
	StageVolatility  Stage = "VOLATILITY_PASS"
	StageAdvance     Stage = "ADVANCE"
	StageEnforcement Stage = "TARGET_ENFORCEMENT"
)

// StageError carries where a failure happened
type StageError struct {
	Product ProductID
	Path    int
	Step    int
	Stage   Stage
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("product %s path %d step %d stage %s: %v",
		e.Product, e.Path, e.Step, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Degradation is an observable non-fatal fallback
type Degradation struct {
	Component string    `json:"component"` // regime, volatility, jump, copula, simulator
	Product   ProductID `json:"product,omitempty"`
	Regime    int       `json:"regime,omitempty"`
	Kind      ErrorKind `json:"kind"`
	Action    Action    `json:"action"`
	Detail    string    `json:"detail"`
}

func (d Degradation) String() string {
	return fmt.Sprintf("%s[%s r=%d] %s→%s: %s",
		d.Component, d.Product, d.Regime, d.Kind, d.Action, d.Detail)
}

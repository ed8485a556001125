package core

import (
	"errors"
	"fmt"
)

// #region sentinels

// ErrInvalidFeedback reports feedback referencing a turn that does not exist.
var ErrInvalidFeedback = errors.New("feedback references unknown turn")

// ErrTrainingInstability reports a discarded training update whose
// KL-divergence exceeded the configured threshold.
var ErrTrainingInstability = errors.New("training update exceeded KL threshold")

// #endregion sentinels

// #region reward-range

// RewardRangeError reports a reward component that is NaN or infinite after
// computation. Fatal: surfaced to the feedback caller, never retried.
type RewardRangeError struct {
	Component string
	Value     float64
}

func (e *RewardRangeError) Error() string {
	return fmt.Sprintf("reward component %s out of range: %v", e.Component, e.Value)
}

// #endregion reward-range

// #region generation-error

// GenerationError wraps a failure of the external text-generation capability.
// Recovered by falling back to the cached strategy.
type GenerationError struct {
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("text generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// #endregion generation-error

// #region safety-violation

// SafetyViolation reports an action rejected by the safety guard.
// Recovered by substituting the fallback action; always recorded for training.
type SafetyViolation struct {
	Constraint string
	Reason     string
}

func (e *SafetyViolation) Error() string {
	return fmt.Sprintf("safety violation (%s): %s", e.Constraint, e.Reason)
}

// #endregion safety-violation

// #region activation-rejected

// ActivationRejectedError reports a staged model version that failed
// validation against the active version. Non-fatal: the staged version is
// retired and the active version unchanged.
type ActivationRejectedError struct {
	Version int64
	Reason  string
}

func (e *ActivationRejectedError) Error() string {
	return fmt.Sprintf("activation of version %d rejected: %s", e.Version, e.Reason)
}

// #endregion activation-rejected

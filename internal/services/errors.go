// Package services implements the reaction-to-calendar pipeline: the dedup
// gate, AI extraction, batch orchestration, and the reaction handler that
// ties them together. This file centralizes common service-level error
// values so that they can be consistently returned by service methods and
// checked by callers.
//
// Translation into user-facing messages is performed by the reaction
// handler; raw provider errors never reach the channel.
package services

import "errors"

var (
	// ErrMessageUnavailable indicates that the reacted-to message could not
	// be read (deleted, or the bot is not in the channel).
	ErrMessageUnavailable = errors.New("message unavailable")

	// ErrExtractionTimeout is returned when the extraction wall-clock budget
	// elapsed before the model produced a usable answer.
	ErrExtractionTimeout = errors.New("extraction timed out")

	// ErrAIOverloaded is returned when the model keeps pushing back on load
	// after all retries.
	ErrAIOverloaded = errors.New("ai service overloaded")

	// ErrAIAuth indicates bad credentials or a rejected request; retrying
	// cannot help and the operator has to act.
	ErrAIAuth = errors.New("ai request rejected")
)

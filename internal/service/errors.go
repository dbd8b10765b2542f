// Package service provides business logic implementations.
package service

import (
	"errors"
	"fmt"
	"strings"
)

// Common service errors.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount: must be positive")
	ErrRechargeProcessed   = errors.New("recharge request already processed")
	ErrStopPointTriggered  = errors.New("stop point has already been triggered")
	ErrSelfReferral        = errors.New("user cannot refer themselves")
)

// SkippedEntry explains why one admin input entry was not applied.
type SkippedEntry struct {
	Point  int    `json:"point"`
	Reason string `json:"reason"`
}

// ValidationError reports rejected admin input.
type ValidationError struct {
	Field   string
	Message string
	Skipped []SkippedEntry
}

func (e *ValidationError) Error() string {
	if len(e.Skipped) > 0 {
		parts := make([]string, 0, len(e.Skipped))
		for _, s := range e.Skipped {
			parts = append(parts, fmt.Sprintf("point %d: %s", s.Point, s.Reason))
		}
		return "no entries applied: " + strings.Join(parts, "; ")
	}
	if e.Field != "" {
		return e.Field + ": " + e.Message
	}
	return e.Message
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// Package models contains the persisted entities of the rejection audit.
package models

import (
	"errors"
	"time"
)

// MaxCallerIDLength matches the caller_id column width.
const MaxCallerIDLength = 512

// Validation errors
var (
	ErrEmptyCallerID  = errors.New("caller id cannot be empty")
	ErrCallerIDLength = errors.New("caller id exceeds 512 characters")
	ErrInvalidCount   = errors.New("rejection count must be positive")
)

// RejectionStat is the aggregated rejection history of one caller.
type RejectionStat struct {
	CallerID        string    `json:"caller_id"`
	RejectedCount   int64     `json:"rejected_count"`
	FirstRejectedAt time.Time `json:"first_rejected_at"`
	LastRejectedAt  time.Time `json:"last_rejected_at"`
}

// ValidateCallerID checks that id can be stored.
func ValidateCallerID(id string) error {
	if id == "" {
		return ErrEmptyCallerID
	}
	if len(id) > MaxCallerIDLength {
		return ErrCallerIDLength
	}
	return nil
}

// ValidateIncrement checks one entry of a batch increment.
func ValidateIncrement(id string, count int64) error {
	if err := ValidateCallerID(id); err != nil {
		return err
	}
	if count <= 0 {
		return ErrInvalidCount
	}
	return nil
}

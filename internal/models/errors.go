package models

import "errors"

var (
	// ErrDuplicateID is returned when appending a record whose id already exists.
	ErrDuplicateID = errors.New("notification id already exists")
	// ErrNotFound is returned for lookups of unknown records, rules, reminders
	// or preferences.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied means the platform notification permission is not
	// granted. Recoverable by prompting the user.
	ErrPermissionDenied = errors.New("notification permission denied")
	// ErrDeliveryFailed means the delivery hand-off failed. The record is kept
	// and flagged, never rolled back.
	ErrDeliveryFailed = errors.New("delivery hand-off failed")
	// ErrReadBeforeDelivery guards the read-implies-delivered invariant.
	ErrReadBeforeDelivery = errors.New("cannot mark an undelivered notification as read")
	// ErrSnoozeLimit is returned once a reminder has used up its snoozes.
	ErrSnoozeLimit = errors.New("reminder snooze limit reached")
	// ErrValidation covers malformed caller input.
	ErrValidation = errors.New("invalid value")
)

package models

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrInvalidViolation  = errors.New("invalid violation")
	ErrViolationNotFound = errors.New("violation not found")
	ErrSanctionConflict  = errors.New("sanction state changed concurrently")
	ErrLockTimeout       = errors.New("timed out waiting for user lock")
	ErrAdminRequired     = errors.New("admin id is required")
)

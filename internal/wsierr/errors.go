// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package wsierr

import (
	"errors"
	"fmt"
)

// Sentinel errors for the upload and analysis pipeline. Callers should test
// with errors.Is, or the Is* helpers below.
var (
	ErrValidation         = errors.New("validation failed")
	ErrQuotaExceeded      = errors.New("upload quota exceeded")
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("invalid state")
	ErrStorageUnavailable = errors.New("object storage is not configured")
	ErrWorkerFailure      = errors.New("analysis failed")
)

// ValidationError describes a client-fixable problem with a single field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e ValidationError) Unwrap() error {
	return ErrValidation
}

// StateError reports that an entity was not in the status an operation requires.
type StateError struct {
	Entity string
	Have   string
	Want   string
}

func (e StateError) Error() string {
	return fmt.Sprintf("%s is %s, must be %s", e.Entity, e.Have, e.Want)
}

func (e StateError) Unwrap() error {
	return ErrInvalidState
}

// QuotaError reports the cap that was hit.
type QuotaError struct {
	Limit int
}

func (e QuotaError) Error() string {
	return fmt.Sprintf("upload quota exceeded: at most %d outstanding uploads allowed", e.Limit)
}

func (e QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// NewValidation creates a new ValidationError
func NewValidation(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// NewInvalidState creates a new StateError
func NewInvalidState(entity, have, want string) error {
	return StateError{Entity: entity, Have: have, Want: want}
}

// NewQuotaExceeded creates a new QuotaError
func NewQuotaExceeded(limit int) error {
	return QuotaError{Limit: limit}
}

// NotFound wraps ErrNotFound with the kind of entity that was missing.
func NotFound(entity string) error {
	return fmt.Errorf("%s %w", entity, ErrNotFound)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsQuotaExceeded(err error) bool {
	return errors.Is(err, ErrQuotaExceeded)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

func IsStorageUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

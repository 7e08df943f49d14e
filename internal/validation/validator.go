// attackmap - Real-Time Attack Telemetry Map
// Copyright 2026 O. Weller
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oweller/attackmap

// Package validation provides struct validation using go-playground/validator
// v10 through a thread-safe singleton instance, with custom validators for
// pipeline-specific rules (attack types, window identifiers).
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/oweller/attackmap/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ValidationError is a single field validation failure.
type ValidationError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

// Error returns the human-readable message.
func (e *ValidationError) Error() string {
	return e.Message
}

// ValidationErrors aggregates every failed field of one struct.
type ValidationErrors struct {
	Errors []ValidationError
}

// Error joins all field messages.
func (e *ValidationErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Message
	}
	return strings.Join(msgs, "; ")
}

// getValidator returns the singleton validator, constructing it on first use.
func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// attack_type: value must be one of the ten recognized enum values,
		// case-sensitive.
		_ = validate.RegisterValidation("attack_type", func(fl validator.FieldLevel) bool {
			return models.AttackType(fl.Field().String()).Valid()
		})

		// window: one of the recognized window identifiers (empty allowed,
		// callers default it).
		_ = validate.RegisterValidation("window", func(fl validator.FieldLevel) bool {
			switch fl.Field().String() {
			case "", models.Window5m, models.Window15m, models.Window1h:
				return true
			default:
				return false
			}
		})
	})
	return validate
}

// ValidateStruct validates v against its `validate` struct tags. Returns nil
// on success or a *ValidationErrors describing every failed field.
func ValidateStruct(v interface{}) *ValidationErrors {
	err := getValidator().Struct(v)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return &ValidationErrors{Errors: []ValidationError{{
			Field:   "struct",
			Message: fmt.Sprintf("invalid validation target: %v", err),
		}}}
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationErrors{Errors: []ValidationError{{
			Field:   "struct",
			Message: err.Error(),
		}}}
	}

	out := &ValidationErrors{Errors: make([]ValidationError, 0, len(fieldErrs))}
	for _, fe := range fieldErrs {
		out.Errors = append(out.Errors, ValidationError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: translate(fe),
		})
	}
	return out
}

// translate produces a stable, human-readable message per failed field.
func translate(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be <= %s", fe.Field(), fe.Param())
	case "attack_type":
		return fmt.Sprintf("%s must be one of the recognized attack types", fe.Field())
	case "window":
		return fmt.Sprintf("%s must be one of 5m, 15m, 1h", fe.Field())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound       = errors.New("resource not found")
	ErrRunNotFound    = fmt.Errorf("%w: run", ErrNotFound)
	ErrGeneNotFound   = fmt.Errorf("%w: gene", ErrNotFound)
	ErrConfigNotFound = fmt.Errorf("%w: threshold configuration", ErrNotFound)

	// Input validation errors
	ErrInvalidInput        = errors.New("invalid input")
	ErrDimensionMismatch   = errors.New("matrix dimensions disagree with annotation")
	ErrMissingColumn       = errors.New("design references a metadata column absent from samples")
	ErrReferenceLevelUnset = errors.New("design reference level must be set explicitly")
	ErrInvalidDesign       = errors.New("invalid design")
	ErrNegativeCount       = errors.New("negative count in raw count matrix")
	ErrInsufficientSamples = errors.New("insufficient samples")
	ErrInsufficientData    = errors.New("insufficient data for analysis")

	// Model-fit errors
	ErrMixtureDegenerate   = errors.New("mixture model degenerate")
	ErrMixtureNotConverged = errors.New("mixture model did not converge")
	ErrSizeFactors         = errors.New("size factors undefined: no gene has positive counts in every sample")
	ErrDispersionFit       = errors.New("dispersion trend fit failed")

	// External service errors
	ErrServiceUnavailable = errors.New("enrichment service unavailable")
	ErrMalformedResponse  = errors.New("malformed enrichment response")

	// Determinism errors
	ErrNonDeterministic = errors.New("non-deterministic result")
	ErrHashMismatch     = errors.New("hash mismatch")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: validation failed for %s: %s", ErrInvalidInput, field, reason)
}

func NewDimensionError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has %d entries, expected %d", ErrDimensionMismatch, what, got, want)
}

func NewMissingColumnError(column, sampleID string) error {
	return fmt.Errorf("%w: %q missing on sample %s", ErrMissingColumn, column, sampleID)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrDimensionMismatch) ||
		errors.Is(err, ErrMissingColumn) ||
		errors.Is(err, ErrReferenceLevelUnset) ||
		errors.Is(err, ErrInvalidDesign) ||
		errors.Is(err, ErrNegativeCount) ||
		errors.Is(err, ErrInsufficientSamples)
}

func IsModelFitError(err error) bool {
	return errors.Is(err, ErrMixtureDegenerate) ||
		errors.Is(err, ErrMixtureNotConverged) ||
		errors.Is(err, ErrSizeFactors) ||
		errors.Is(err, ErrDispersionFit)
}

func IsDeterminismError(err error) bool {
	return errors.Is(err, ErrNonDeterministic) ||
		errors.Is(err, ErrHashMismatch)
}

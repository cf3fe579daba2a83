// Package validation checks user-supplied optimization requests before they
// reach the optimizer.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Limits bound what a single API request may ask for
type Limits struct {
	MaxAssets         int
	MaxPopulationSize int
	MaxGenerations    int
}

// DefaultLimits returns the limits applied to API requests
func DefaultLimits() Limits {
	return Limits{
		MaxAssets:         50,
		MaxPopulationSize: 5000,
		MaxGenerations:    1000,
	}
}

// assetPattern allows tickers and pair names but never path separators,
// since CSV sources turn asset names into file names
var assetPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,31}$`)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return "validation errors: " + strings.Join(msgs, "; ")
}

// Validator collects validation errors
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// Err returns the collected errors, or nil when there are none
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	return v.errors
}

// IntRange validates lo <= value <= hi
func (v *Validator) IntRange(field string, value, lo, hi int) {
	if value < lo || value > hi {
		v.AddError(field, fmt.Sprintf("must be between %d and %d", lo, hi))
	}
}

// Asset validates an asset name
func (v *Validator) Asset(field, value string) {
	if !assetPattern.MatchString(value) {
		v.AddError(field, "must be 1-32 letters, digits, '.', '_' or '-'")
	}
}

// Date parses an optional YYYY-MM-DD date, returning zero when value is empty
func (v *Validator) Date(field, value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, value)
	if err != nil {
		v.AddError(field, "must be a date in YYYY-MM-DD format")
		return time.Time{}
	}
	return t
}

// OptimizationRequest is the user-controlled part of an optimization
type OptimizationRequest struct {
	Assets         []string
	StartDate      string
	EndDate        string
	PopulationSize int
	Generations    int
}

// RequestValidator validates optimization requests against Limits
type RequestValidator struct {
	*Validator
	limits Limits
}

// NewRequestValidator creates a request validator
func NewRequestValidator(limits Limits) *RequestValidator {
	return &RequestValidator{Validator: NewValidator(), limits: limits}
}

// Validate checks req and returns its parsed dates
func (v *RequestValidator) Validate(req OptimizationRequest) (start, end time.Time, err error) {
	if len(req.Assets) == 0 {
		v.AddError("assets", "at least one asset is required")
	} else if len(req.Assets) > v.limits.MaxAssets {
		v.AddError("assets", fmt.Sprintf("at most %d assets are allowed", v.limits.MaxAssets))
	}
	for i, asset := range req.Assets {
		v.Asset(fmt.Sprintf("assets[%d]", i), asset)
	}

	start = v.Date("start_date", req.StartDate)
	end = v.Date("end_date", req.EndDate)
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		v.AddError("end_date", "must be after start_date")
	}

	v.IntRange("population_size", req.PopulationSize, 1, v.limits.MaxPopulationSize)
	v.IntRange("generations", req.Generations, 0, v.limits.MaxGenerations)

	return start, end, v.Err()
}

// SanitizeAssets trims whitespace and null bytes from asset names
func SanitizeAssets(assets []string) []string {
	out := make([]string, len(assets))
	for i, asset := range assets {
		out[i] = strings.TrimSpace(strings.ReplaceAll(asset, "\x00", ""))
	}
	return out
}

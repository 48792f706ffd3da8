package assessment

import "errors"

var (
	ErrNotFound              = errors.New("assessment: not found")
	ErrInvalidInput          = errors.New("assessment: invalid input")
	ErrDuplicateAssessment   = errors.New("assessment: active assessment already exists for system and period")
	ErrInvalidFrameworkKey   = errors.New("assessment: answer key not in framework schema")
	ErrImmutableAssessment   = errors.New("assessment: assessment is no longer editable")
	ErrIncompleteAssessment  = errors.New("assessment: not all outcomes are confirmed")
	ErrInvalidTransition     = errors.New("assessment: invalid status transition")
	ErrConfigurationNotFound = errors.New("assessment: configuration not found")
	ErrMalformedDate         = errors.New("assessment: malformed period end date")
	ErrEntityCascade         = errors.New("assessment: dependent records exist")
)

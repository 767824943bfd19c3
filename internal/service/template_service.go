package service

import (
	"errors"

	appErrors "github.com/unclebandit/dispatch-engine/internal/errors"
	"github.com/unclebandit/dispatch-engine/internal/template"
)

// TemplateProblem is one finding of ValidateTemplate.
type TemplateProblem struct {
	Field  string `json:"field,omitempty"`
	Reason string `json:"reason"`
}

// ValidateTemplate lists every shape problem in tpl; an empty slice means
// the template is well formed.
func ValidateTemplate(tpl string) []TemplateProblem {
	problems := []TemplateProblem{}
	err := template.Validate(tpl)
	if err == nil {
		return problems
	}
	var joined interface{ Unwrap() []error }
	errs := []error{err}
	if errors.As(err, &joined) {
		errs = joined.Unwrap()
	}
	for _, e := range errs {
		var ve *appErrors.ValidationError
		if errors.As(e, &ve) {
			problems = append(problems, TemplateProblem{Field: ve.Field, Reason: ve.Reason})
			continue
		}
		problems = append(problems, TemplateProblem{Reason: e.Error()})
	}
	return problems
}

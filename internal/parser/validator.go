package parser

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/me/wic/pkg/cwl"
	"github.com/me/wic/pkg/model"
)

// Validator checks that a generated CWL workflow is internally consistent.
type Validator struct {
	logger *slog.Logger
}

// NewValidator creates a Validator with the given logger.
func NewValidator(logger *slog.Logger) *Validator {
	return &Validator{logger: logger.With("component", "validator")}
}

// Validate returns nil if wf is consistent, or an *model.APIError with
// FieldError details.
func (v *Validator) Validate(wf *cwl.Workflow) *model.APIError {
	var errs []model.FieldError

	errs = append(errs, v.validateParams(wf)...)
	errs = append(errs, v.validateSteps(wf)...)
	errs = append(errs, v.validateSources(wf)...)
	errs = append(errs, v.validateOutputSources(wf)...)
	errs = append(errs, v.validateDAG(wf)...)

	if len(errs) == 0 {
		return nil
	}
	v.logger.Debug("generated workflow failed validation", "errors", len(errs))
	return model.NewValidationError("CWL validation failed", errs...)
}

func (v *Validator) validateParams(wf *cwl.Workflow) []model.FieldError {
	var errs []model.FieldError
	seen := make(map[string]bool)
	for _, in := range wf.Inputs {
		if in.Type == "" {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("inputs.%s.type", in.ID),
				Message: fmt.Sprintf("input %q is missing type", in.ID),
			})
		}
		if seen[in.ID] {
			errs = append(errs, model.FieldError{Field: "inputs." + in.ID, Message: "duplicate input id"})
		}
		seen[in.ID] = true
	}
	return errs
}

func (v *Validator) validateSteps(wf *cwl.Workflow) []model.FieldError {
	var errs []model.FieldError
	seen := make(map[string]bool)
	for _, s := range wf.Steps {
		field := "steps." + s.ID
		if seen[s.ID] {
			errs = append(errs, model.FieldError{Field: field, Message: "duplicate step id"})
		}
		seen[s.ID] = true
		if s.Run == "" {
			errs = append(errs, model.FieldError{Field: field + ".run", Message: "step has no run target"})
		}
		ins := make(map[string]bool, len(s.In))
		for _, si := range s.In {
			ins[si.ID] = true
		}
		for _, sc := range s.Scatter {
			if !ins[sc] {
				errs = append(errs, model.FieldError{
					Field:   field + ".scatter",
					Message: fmt.Sprintf("scatter names %q which is not a step input", sc),
				})
			}
		}
		if !cwl.ValidScatterMethod(s.ScatterMethod) {
			errs = append(errs, model.FieldError{
				Field:   field + ".scatterMethod",
				Message: fmt.Sprintf("unknown scatter method %q", s.ScatterMethod),
			})
		}
	}
	return errs
}

// sourceExists checks "input" or "step/port" against wf.
func sourceExists(wf *cwl.Workflow, src string) bool {
	stepID, port, ok := strings.Cut(src, "/")
	if !ok {
		_, found := wf.Input(src)
		return found
	}
	s, found := wf.Step(stepID)
	if !found {
		return false
	}
	for _, o := range s.Out {
		if o == port {
			return true
		}
	}
	return false
}

func (v *Validator) validateSources(wf *cwl.Workflow) []model.FieldError {
	var errs []model.FieldError
	for _, s := range wf.Steps {
		for _, si := range s.In {
			if si.Source == "" {
				if si.ValueFrom == "" && si.Default == nil {
					errs = append(errs, model.FieldError{
						Field:   fmt.Sprintf("steps.%s.in.%s", s.ID, si.ID),
						Message: "step input has neither source nor value",
					})
				}
				continue
			}
			if !sourceExists(wf, si.Source) {
				errs = append(errs, model.FieldError{
					Field:   fmt.Sprintf("steps.%s.in.%s", s.ID, si.ID),
					Message: fmt.Sprintf("source %q does not exist", si.Source),
				})
			}
		}
	}
	return errs
}

func (v *Validator) validateOutputSources(wf *cwl.Workflow) []model.FieldError {
	var errs []model.FieldError
	for _, o := range wf.Outputs {
		if !sourceExists(wf, o.OutputSource) {
			errs = append(errs, model.FieldError{
				Field:   fmt.Sprintf("outputs.%s.outputSource", o.ID),
				Message: fmt.Sprintf("outputSource %q does not exist", o.OutputSource),
			})
		}
	}
	return errs
}

func (v *Validator) validateDAG(wf *cwl.Workflow) []model.FieldError {
	if _, err := BuildDAG(wf); err != nil {
		return []model.FieldError{{Field: "steps", Message: err.Error()}}
	}
	return nil
}

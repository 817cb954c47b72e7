package model

import (
	"errors"
	"fmt"
	"strings"
)

// Located is implemented by every compile error that can point at a place
// in the source tree.
type Located interface {
	error
	FieldError() FieldError
}

func position(doc string, pos int) string {
	if pos <= 0 {
		return doc
	}
	return fmt.Sprintf("%s#%d", doc, pos)
}

// UnresolvedStepError is returned when a step name matches neither a tool
// nor a sub-specification.
type UnresolvedStepError struct {
	Name      string
	Namespace string
	Document  string
	Position  int
}

func (e *UnresolvedStepError) Error() string {
	return fmt.Sprintf("unresolved step %q (namespace %q) at %s", e.Name, e.Namespace, position(e.Document, e.Position))
}

func (e *UnresolvedStepError) FieldError() FieldError {
	return FieldError{Kind: "UnresolvedStepError", Field: e.Name, Path: position(e.Document, e.Position), Message: e.Error()}
}

// CyclicWorkflowError is returned when a sub-specification refers back to
// one of its ancestors.
type CyclicWorkflowError struct {
	Document string
	Position int
	Chain    []StepID
}

func (e *CyclicWorkflowError) Error() string {
	parts := make([]string, len(e.Chain))
	for i, id := range e.Chain {
		parts[i] = id.String()
	}
	return fmt.Sprintf("cyclic workflow in %s: %s", position(e.Document, e.Position), strings.Join(parts, " -> "))
}

func (e *CyclicWorkflowError) FieldError() FieldError {
	field := ""
	if len(e.Chain) > 0 {
		field = e.Chain[len(e.Chain)-1].String()
	}
	return FieldError{Kind: "CyclicWorkflowError", Field: field, Path: position(e.Document, e.Position), Message: e.Error()}
}

// SchemaValidationError is returned when a document does not satisfy its
// schema, or when an embedded expression does not parse.
type SchemaValidationError struct {
	Document string
	Position int
	SchemaID string
	Problems []FieldError
}

func (e *SchemaValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		if p.Path != "" {
			msgs = append(msgs, p.Path+": "+p.Message)
		} else {
			msgs = append(msgs, p.Message)
		}
	}
	return fmt.Sprintf("%s does not validate against %s: %s", position(e.Document, e.Position), e.SchemaID, strings.Join(msgs, "; "))
}

func (e *SchemaValidationError) FieldError() FieldError {
	return FieldError{Kind: "SchemaValidationError", Field: e.SchemaID, Path: position(e.Document, e.Position), Message: e.Error()}
}

// MissingInputError is returned when a required input slot has no explicit
// binding and inference found no candidate.
type MissingInputError struct {
	Document string
	Position int
	Step     string
	Port     string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing input %q of step %s at %s", e.Port, e.Step, position(e.Document, e.Position))
}

func (e *MissingInputError) FieldError() FieldError {
	return FieldError{Kind: "MissingInputError", Field: e.Port, Path: position(e.Document, e.Position), Message: e.Error()}
}

// TypeMismatchError is returned when a binding connects incompatible types.
type TypeMismatchError struct {
	Document   string
	Position   int
	Step       string
	Port       string
	Source     string
	SourceType string
	SinkType   string
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("type mismatch on input %q of step %s at %s: %s (%s) cannot feed %s",
		e.Port, e.Step, position(e.Document, e.Position), e.Source, e.SourceType, e.SinkType)
}

func (e *TypeMismatchError) FieldError() FieldError {
	return FieldError{Kind: "TypeMismatchError", Field: e.Port, Path: position(e.Document, e.Position), Message: e.Error()}
}

// InliningConflictError is returned when splicing a subworkflow into its
// parent would produce clashing names.
type InliningConflictError struct {
	Document string
	Position int
	Step     string
	Name     string
	Reason   string
}

func (e *InliningConflictError) Error() string {
	return fmt.Sprintf("cannot inline %s at %s: %s %q", e.Step, position(e.Document, e.Position), e.Reason, e.Name)
}

func (e *InliningConflictError) FieldError() FieldError {
	return FieldError{Kind: "InliningConflictError", Field: e.Name, Path: position(e.Document, e.Position), Message: e.Error()}
}

// SchemaRegistrationError is returned when a schema id is registered twice.
type SchemaRegistrationError struct {
	ID string
}

func (e *SchemaRegistrationError) Error() string {
	return fmt.Sprintf("schema %q is already registered", e.ID)
}

func (e *SchemaRegistrationError) FieldError() FieldError {
	return FieldError{Kind: "SchemaRegistrationError", Field: e.ID, Message: e.Error()}
}

// ErrorList accumulates errors from independent siblings.
type ErrorList struct {
	errs []error
}

// Add appends err. Nil is ignored and nested lists are flattened.
func (l *ErrorList) Add(err error) {
	if err == nil {
		return
	}
	var nested *ErrorList
	if errors.As(err, &nested) && nested != l {
		l.errs = append(l.errs, nested.errs...)
		return
	}
	l.errs = append(l.errs, err)
}

// Len returns the number of accumulated errors.
func (l *ErrorList) Len() int { return len(l.errs) }

// Err returns nil for an empty list, the single error for a list of one,
// and the list itself otherwise.
func (l *ErrorList) Err() error {
	switch len(l.errs) {
	case 0:
		return nil
	case 1:
		return l.errs[0]
	}
	return &ErrorList{errs: append([]error(nil), l.errs...)}
}

func (l *ErrorList) Error() string {
	msgs := make([]string, len(l.errs))
	for i, e := range l.errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors: %s", len(l.errs), strings.Join(msgs, "; "))
}

func (l *ErrorList) Unwrap() []error { return l.errs }

// FieldErrors flattens err into API field errors.
func FieldErrors(err error) []FieldError {
	if err == nil {
		return nil
	}
	var list *ErrorList
	if errors.As(err, &list) {
		var out []FieldError
		for _, e := range list.errs {
			out = append(out, FieldErrors(e)...)
		}
		return out
	}
	var loc Located
	if errors.As(err, &loc) {
		return []FieldError{loc.FieldError()}
	}
	return []FieldError{{Message: err.Error()}}
}

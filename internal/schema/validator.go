package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/me/wic/pkg/model"
)

// Validator checks documents against one compiled schema from a Store.
// It is safe for concurrent use.
type Validator struct {
	id      string
	schema  *jsonschema.Schema
	printer *message.Printer
}

// NewValidator compiles the schema registered under id, resolving
// references against every schema in store.
func NewValidator(store *Store, id string) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.DefaultDraft(jsonschema.Draft2020)
	for _, sid := range store.IDs() {
		doc, _ := store.Get(sid)
		if err := c.AddResource(URL(sid), doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", sid, err)
		}
	}
	sch, err := c.Compile(URL(id))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", id, err)
	}
	return &Validator{id: id, schema: sch, printer: message.NewPrinter(language.English)}, nil
}

// Validate checks doc, which must hold JSON-compatible values. The
// returned error is a *model.SchemaValidationError naming document.
func (v *Validator) Validate(document string, doc any) error {
	err := v.schema.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &model.SchemaValidationError{
			Document: document,
			SchemaID: v.id,
			Problems: []model.FieldError{{Message: err.Error()}},
		}
	}
	return &model.SchemaValidationError{
		Document: document,
		SchemaID: v.id,
		Problems: v.flatten(ve, nil),
	}
}

// flatten collects the leaf causes of a validation error.
func (v *Validator) flatten(ve *jsonschema.ValidationError, out []model.FieldError) []model.FieldError {
	if len(ve.Causes) == 0 {
		return append(out, model.FieldError{
			Path:    "/" + strings.Join(ve.InstanceLocation, "/"),
			Field:   strings.Join(ve.ErrorKind.KeywordPath(), "/"),
			Message: ve.ErrorKind.LocalizedString(v.printer),
		})
	}
	for _, c := range ve.Causes {
		out = v.flatten(c, out)
	}
	return out
}

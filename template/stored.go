package template

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned by template repositories for an unknown template.
	ErrNotFound = errors.New("template not found")
	// ErrAlreadyExists is returned when a template name is taken.
	ErrAlreadyExists = errors.New("template already exists")
)

// Template is a stored template.
type Template struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	Subject     string    `json:"subject" db:"subject"`
	HTML        string    `json:"html" db:"html"`
	Variables   []string  `json:"variables" db:"-"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// FromDocument converts a parsed document into a template without an ID.
func FromDocument(d *Document) Template {
	return Template{
		Name:        d.Name,
		Description: d.Description,
		Subject:     d.Subject,
		HTML:        d.HTML,
		Variables:   d.Variables(),
	}
}

// Refresh recomputes Variables from the subject and the body.
func (t *Template) Refresh() {
	doc := Document{Subject: t.Subject, HTML: t.HTML}
	t.Variables = doc.Variables()
}

// Builtin serves the embedded default templates, identified by name.
type Builtin struct{}

func (Builtin) List(context.Context) ([]Template, error) {
	docs, err := Defaults()
	if err != nil {
		return nil, err
	}
	out := make([]Template, len(docs))
	for i, d := range docs {
		out[i] = FromDocument(d)
		out[i].ID = d.Name
	}
	return out, nil
}

func (Builtin) Get(_ context.Context, id string) (Template, error) {
	d, err := Default(id)
	if err != nil {
		return Template{}, errors.Wrapf(ErrNotFound, "id %s", id)
	}
	t := FromDocument(d)
	t.ID = d.Name
	return t, nil
}

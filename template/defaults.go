package template

import (
	"embed"
	"io/fs"
	"slices"

	"github.com/pkg/errors"
)

//go:embed defaults/*
var defaultsFS embed.FS

// Defaults returns the built-in templates ordered by file name.
func Defaults() ([]*Document, error) {
	entries, err := fs.ReadDir(defaultsFS, "defaults")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read built-in templates")
	}

	docs := make([]*Document, 0, len(entries))
	for _, e := range entries {
		content, err := fs.ReadFile(defaultsFS, "defaults/"+e.Name())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", e.Name())
		}
		doc, err := ParseDocument(content)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", e.Name())
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Default returns the built-in template with the given name.
func Default(name string) (*Document, error) {
	docs, err := Defaults()
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(docs, func(d *Document) bool { return d.Name == name })
	if i < 0 {
		return nil, errors.Errorf("built-in template %q not found", name)
	}
	return docs[i], nil
}

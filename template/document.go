package template

import (
	"bytes"
	"slices"
	"strings"

	"github.com/pkg/errors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
	"gopkg.in/yaml.v3"
)

// ErrInvalidFrontmatter indicates a malformed YAML header.
var ErrInvalidFrontmatter = errors.New("invalid frontmatter")

const (
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
)

var frontmatterDelimiter = []byte("---")

// Document is a template file: a YAML header followed by the body.
//
//	---
//	name: Professional
//	subject: Hello {name}
//	format: html
//	---
//	<p>Dear {name},</p>
//
// Markdown bodies are converted to HTML when parsed. Placeholders inside Markdown
// link destinations get URL-escaped, so keep links in raw HTML.
type Document struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Subject     string `yaml:"subject"`
	Format      string `yaml:"format"`

	HTML string `yaml:"-"`
}

// Variables returns the distinct placeholder names of the subject and the body.
func (d *Document) Variables() []string {
	vars := append(ExtractVariables(d.Subject), ExtractVariables(d.HTML)...)
	slices.Sort(vars)
	return slices.Compact(vars)
}

var markdown = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))

// ParseDocument parses a template file. Content without a header is an HTML body.
func ParseDocument(content []byte) (*Document, error) {
	doc := &Document{Format: FormatHTML}

	body := content
	if bytes.HasPrefix(content, frontmatterDelimiter) {
		rest := bytes.TrimLeft(bytes.TrimPrefix(content, frontmatterDelimiter), "\r\n")
		if len(rest) == 0 {
			return nil, errors.Wrap(ErrInvalidFrontmatter, "no content after opening delimiter")
		}

		end := bytes.Index(rest, frontmatterDelimiter)
		if end == -1 {
			return nil, errors.Wrap(ErrInvalidFrontmatter, "closing delimiter not found")
		}

		if header := rest[:end]; len(bytes.TrimSpace(header)) > 0 {
			if err := yaml.Unmarshal(header, doc); err != nil {
				return nil, errors.Wrap(ErrInvalidFrontmatter, err.Error())
			}
		}

		body = rest[end+len(frontmatterDelimiter):]
		body = bytes.TrimPrefix(body, []byte("\r"))
		body = bytes.TrimPrefix(body, []byte("\n"))
	}

	switch strings.ToLower(doc.Format) {
	case "", FormatHTML:
		doc.Format = FormatHTML
		doc.HTML = string(body)
	case FormatMarkdown, "md":
		doc.Format = FormatMarkdown
		var buf bytes.Buffer
		if err := markdown.Convert(body, &buf); err != nil {
			return nil, errors.Wrap(err, "failed to convert markdown")
		}
		doc.HTML = buf.String()
	default:
		return nil, errors.Errorf("unknown template format %q", doc.Format)
	}

	return doc, nil
}

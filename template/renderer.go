package template

import (
	"maps"

	"github.com/microcosm-cc/bluemonday"
)

// Renderer renders subject and HTML templates for one recipient.
type Renderer struct {
	policy *bluemonday.Policy
}

// RendererOptions configures a Renderer.
type RendererOptions struct {
	// SanitizeValues strips markup from values substituted into HTML bodies
	// and escapes the rest, so recipient data cannot inject HTML.
	SanitizeValues bool
}

// NewRenderer creates a Renderer. Nil options keep values verbatim.
func NewRenderer(options *RendererOptions) *Renderer {
	r := &Renderer{}
	if options != nil && options.SanitizeValues {
		r.policy = bluemonday.StrictPolicy()
	}
	return r
}

// RenderSubject renders a subject line. Subjects are plain text and never sanitized.
func (r *Renderer) RenderSubject(tpl string, data map[string]string) (string, error) {
	return Render(tpl, data)
}

// RenderHTML renders an HTML body.
func (r *Renderer) RenderHTML(tpl string, data map[string]string) (string, error) {
	if r.policy == nil {
		return Render(tpl, data)
	}

	clean := maps.Clone(data)
	for k, v := range clean {
		clean[k] = r.policy.Sanitize(v)
	}
	return Render(tpl, clean)
}

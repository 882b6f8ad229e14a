package topviews

import (
	"bytes"
	"context"
	"fmt"

	"github.com/a-h/templ"

	"github.com/eringen/topviews/result"
	"github.com/eringen/topviews/views"
)

// Node is one rendered result element.
type Node struct {
	Record result.DisplayRecord
	HTML   string
}

// Template turns a display record into a node.
type Template interface {
	Instantiate(ctx context.Context, rec result.DisplayRecord) (*Node, error)
}

// Initializer is implemented by templates whose nodes need a second step
// (binding, hydration) after instantiation.
type Initializer interface {
	InitNode(ctx context.Context, n *Node) error
}

// TemplateFunc adapts a templ component constructor to Template.
type TemplateFunc func(rec result.DisplayRecord) templ.Component

// Instantiate renders the component into a node.
func (f TemplateFunc) Instantiate(ctx context.Context, rec result.DisplayRecord) (*Node, error) {
	var buf bytes.Buffer
	if err := f(rec).Render(ctx, &buf); err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return &Node{Record: rec, HTML: buf.String()}, nil
}

// CardTemplate is the default template. With rich set each card also lists
// every metric value of its row.
func CardTemplate(rich bool) Template {
	return TemplateFunc(func(rec result.DisplayRecord) templ.Component {
		return views.Card(rec, rich)
	})
}

// ListTemplate renders one compact line per document.
func ListTemplate() Template {
	return TemplateFunc(func(rec result.DisplayRecord) templ.Component {
		return views.ListItem(rec, false)
	})
}

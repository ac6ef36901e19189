// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package mail

import (
	"bytes"
	"embed"
	"strings"
	"text/template"

	"github.com/samber/oops"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Rendered is a message ready for a transport.
type Rendered struct {
	Subject string
	Body    string
}

// Renderer executes the embedded mail templates. Each template file defines
// a "subject" and a "body" block.
type Renderer struct {
	templates map[string]*template.Template
}

// NewRenderer parses every embedded template.
func NewRenderer() (*Renderer, error) {
	entries, err := templatesFS.ReadDir("templates")
	if err != nil {
		return nil, oops.Code("MAIL_TEMPLATE_LOAD_FAILED").Wrap(err)
	}

	r := &Renderer{templates: make(map[string]*template.Template, len(entries))}
	for _, entry := range entries {
		name, ok := strings.CutSuffix(entry.Name(), ".tmpl")
		if !ok {
			continue
		}
		tmpl, err := template.New(name).Option("missingkey=zero").ParseFS(templatesFS, "templates/"+entry.Name())
		if err != nil {
			return nil, oops.Code("MAIL_TEMPLATE_LOAD_FAILED").With("template", name).Wrap(err)
		}
		r.templates[name] = tmpl
	}
	return r, nil
}

// Render executes the message's template with its context.
func (r *Renderer) Render(msg Message) (Rendered, error) {
	tmpl, ok := r.templates[msg.Template]
	if !ok {
		return Rendered{}, oops.Code("MAIL_TEMPLATE_UNKNOWN").
			With("template", msg.Template).
			Errorf("unknown mail template %q", msg.Template)
	}

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", msg.Context); err != nil {
		return Rendered{}, oops.Code("MAIL_RENDER_FAILED").With("template", msg.Template).With("block", "subject").Wrap(err)
	}
	if err := tmpl.ExecuteTemplate(&body, "body", msg.Context); err != nil {
		return Rendered{}, oops.Code("MAIL_RENDER_FAILED").With("template", msg.Template).With("block", "body").Wrap(err)
	}
	return Rendered{
		Subject: strings.TrimSpace(subject.String()),
		Body:    strings.TrimSpace(body.String()) + "\n",
	}, nil
}

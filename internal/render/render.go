// Package render produces the final specification documents from approved
// phase content.
//
// Each document embeds its phase content verbatim between a pair of HTML
// comment delimiters so the approved text can be recovered exactly with
// ExtractPhase.
package render

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/Mantoine56/spec-bot/internal/extraction"
)

// Document names.
const (
	RequirementsDoc = "requirements.md"
	DesignDoc       = "design.md"
	TasksDoc        = "tasks.md"
)

// ErrMissingContent is returned when a phase has no approved content.
var ErrMissingContent = errors.New("missing phase content")

//go:embed templates/*.tmpl
var templateFS embed.FS

// Input is everything the documents are rendered from.
type Input struct {
	WorkflowID   string
	FeatureName  string
	Description  string
	Requirements string
	Design       string
	Tasks        string
	GeneratedAt  time.Time
}

type docData struct {
	Input
	Contents []extraction.Section
}

// Renderer renders the three specification documents.
type Renderer struct {
	tmpl *template.Template
}

// New parses the embedded templates.
func New() (*Renderer, error) {
	tmpl, err := template.New("spec").Funcs(template.FuncMap{
		"delimit": delimit,
		"indent": func(level int) string {
			if level <= 2 {
				return ""
			}
			return strings.Repeat("  ", level-2)
		},
	}).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render returns document name -> markdown.
func (r *Renderer) Render(in Input) (map[string]string, error) {
	if in.GeneratedAt.IsZero() {
		in.GeneratedAt = time.Now()
	}

	phases := []struct {
		doc     string
		phase   string
		content string
	}{
		{RequirementsDoc, "requirements", in.Requirements},
		{DesignDoc, "design", in.Design},
		{TasksDoc, "tasks", in.Tasks},
	}

	out := make(map[string]string, len(phases))
	for _, p := range phases {
		if strings.TrimSpace(p.content) == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingContent, p.phase)
		}
		var buf bytes.Buffer
		data := docData{Input: in, Contents: outline(p.content)}
		if err := r.tmpl.ExecuteTemplate(&buf, p.doc+".tmpl", data); err != nil {
			return nil, fmt.Errorf("render %s: %w", p.doc, err)
		}
		out[p.doc] = buf.String()
	}
	return out, nil
}

// outline lists level 2 and 3 headings.
func outline(content string) []extraction.Section {
	var out []extraction.Section
	for _, s := range extraction.Sections(content) {
		if s.Level == 2 || s.Level == 3 {
			out = append(out, s)
		}
	}
	return out
}

func beginMarker(phase string) string { return "<!-- spec-bot:begin " + phase + " -->" }
func endMarker(phase string) string   { return "<!-- spec-bot:end " + phase + " -->" }

func delimit(phase, content string) string {
	return beginMarker(phase) + "\n" + strings.TrimRight(content, "\n") + "\n" + endMarker(phase)
}

// ExtractPhase returns the content embedded for phase in a rendered document.
func ExtractPhase(doc, phase string) (string, bool) {
	begin, end := beginMarker(phase), endMarker(phase)
	i := strings.Index(doc, begin)
	if i < 0 {
		return "", false
	}
	rest := doc[i+len(begin):]
	j := strings.Index(rest, end)
	if j < 0 {
		return "", false
	}
	return strings.TrimPrefix(strings.TrimSuffix(rest[:j], "\n"), "\n"), true
}

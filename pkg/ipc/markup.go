package ipc

import (
	"bytes"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/odvcencio/actionator/pkg/action"
)

// Paths of the generated markup and the start endpoint.
const (
	ActionBarPath   = "/static/gen/action_bar.html"
	startFormPrefix = "/static/gen/forms/"
	startPathPrefix = "/api/actions/"
)

// StartFormPath returns where the start form for name is served.
func StartFormPath(name string) string {
	return startFormPrefix + name + ".html"
}

// StartPath returns the endpoint that starts name.
func StartPath(name string) string {
	return startPathPrefix + name
}

const actionBarTmpl = `<ul class="action-bar">
{{- range . }}
  <li id="{{ .Name }}-action-but" class="action" data-action="{{ .Name }}" data-form="{{ .FormPath }}" data-submit="{{ .StartPath }}">
    <span class="action-title">{{ .Title }}</span>
    {{- if .Description }}
    <div class="action-description">{{ .Description }}</div>
    {{- end }}
  </li>
{{- end }}
</ul>
`

const startFormTmpl = `<form id="{{ .Name }}-form" action="{{ .StartPath }}" method="post">
{{- range .Fields }}
  <label for="{{ $.Name }}-{{ .Name }}">{{ .DisplayLabel }}</label>
  {{- if eq .InputType "textarea" }}
  <textarea id="{{ $.Name }}-{{ .Name }}" name="{{ .Name }}">{{ .Default }}</textarea>
  {{- else if eq .InputType "select" }}
  <select id="{{ $.Name }}-{{ .Name }}" name="{{ .Name }}">
    {{- $def := .Default }}
    {{- range .Options }}
    <option value="{{ . }}"{{ if eq . $def }} selected{{ end }}>{{ . }}</option>
    {{- end }}
  </select>
  {{- else if eq .InputType "checkbox" }}
  <input id="{{ $.Name }}-{{ .Name }}" type="checkbox" name="{{ .Name }}" value="true"{{ if eq .Default "true" }} checked{{ end }}>
  {{- else }}
  <input id="{{ $.Name }}-{{ .Name }}" class="input-reset" type="{{ .InputType }}" name="{{ .Name }}" placeholder="{{ .Name }}" value="{{ .Default }}">
  {{- end }}
{{- end }}
  <input type="submit" value="Start">
</form>
`

const indexTmpl = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Actionator</title>
</head>
<body>
<h1>Actionator</h1>
{{ .ActionBar }}
{{- range .Forms }}
<section class="start-form">
{{ . }}
</section>
{{- end }}
<p>Progress streams on <code>{{ .PushPath }}</code>.</p>
</body>
</html>
`

type actionBarItem struct {
	Name        string
	Title       string
	Description template.HTML
	FormPath    string
	StartPath   string
}

type startFormView struct {
	Name      string
	StartPath string
	Fields    []action.Field
}

// markupRenderer produces the action bar, start forms and index page.
// Descriptions are markdown; raw HTML in them is not passed through.
type markupRenderer struct {
	md        goldmark.Markdown
	actionBar *template.Template
	startForm *template.Template
	index     *template.Template
}

func newMarkupRenderer() *markupRenderer {
	return &markupRenderer{
		md:        goldmark.New(goldmark.WithExtensions(extension.GFM)),
		actionBar: template.Must(template.New("action_bar").Parse(actionBarTmpl)),
		startForm: template.Must(template.New("start_form").Parse(startFormTmpl)),
		index:     template.Must(template.New("index").Parse(indexTmpl)),
	}
}

func (m *markupRenderer) markdown(src string) (template.HTML, error) {
	if src == "" {
		return "", nil
	}
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark escapes raw HTML unless WithUnsafe is set.
	return template.HTML(buf.String()), nil
}

// ActionBar renders one entry per action.
func (m *markupRenderer) ActionBar(defs []action.Definition) ([]byte, error) {
	items := make([]actionBarItem, 0, len(defs))
	for _, def := range defs {
		desc, err := m.markdown(def.Description)
		if err != nil {
			return nil, err
		}
		items = append(items, actionBarItem{
			Name:        def.Name,
			Title:       def.DisplayTitle(),
			Description: desc,
			FormPath:    StartFormPath(def.Name),
			StartPath:   StartPath(def.Name),
		})
	}
	var buf bytes.Buffer
	if err := m.actionBar.Execute(&buf, items); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// StartForm renders the parameter form for def.
func (m *markupRenderer) StartForm(def action.Definition) ([]byte, error) {
	var buf bytes.Buffer
	err := m.startForm.Execute(&buf, startFormView{
		Name:      def.Name,
		StartPath: StartPath(def.Name),
		Fields:    def.Fields,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Index renders the landing page: the action bar followed by every form.
func (m *markupRenderer) Index(defs []action.Definition, pushPath string) ([]byte, error) {
	bar, err := m.ActionBar(defs)
	if err != nil {
		return nil, err
	}
	forms := make([]template.HTML, 0, len(defs))
	for _, def := range defs {
		form, err := m.StartForm(def)
		if err != nil {
			return nil, err
		}
		forms = append(forms, template.HTML(form))
	}

	var buf bytes.Buffer
	err = m.index.Execute(&buf, struct {
		ActionBar template.HTML
		Forms     []template.HTML
		PushPath  string
	}{
		ActionBar: template.HTML(bar),
		Forms:     forms,
		PushPath:  pushPath,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

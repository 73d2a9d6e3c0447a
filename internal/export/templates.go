package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

// SafeHTML is a template function that marks a string as safe HTML
func SafeHTML(s interface{}) template.HTML {
	switch v := s.(type) {
	case string:
		return template.HTML(v)
	case template.HTML:
		return v
	default:
		return template.HTML("")
	}
}

//go:embed templates/*.html
var templateFS embed.FS

var glossaryTemplate *template.Template

func init() {
	funcMap := template.FuncMap{
		"lower": strings.ToLower,
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
		"safeHTML": SafeHTML,
	}

	templateContent, err := templateFS.ReadFile("templates/glossary.html")
	if err != nil {
		// Fallback to built-in template if file not found
		glossaryTemplate = template.Must(template.New("glossary").Funcs(funcMap).Parse(fallbackTemplate))
		return
	}

	glossaryTemplate = template.Must(template.New("glossary").Funcs(funcMap).Parse(string(templateContent)))
}

// TemplateData holds data for glossary template rendering
type TemplateData struct {
	Name        string
	Description string
	GeneratedAt time.Time
	Entries     []TemplateEntry
}

// TemplateEntry holds one definition for the template
type TemplateEntry struct {
	TermName    string
	ContentHTML template.HTML
	Author      string
	PublishedAt time.Time
	Endorsed    bool
}

// RenderGlossaryHTML renders the glossary template with provided data
func RenderGlossaryHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := glossaryTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// fallbackTemplate is used if the embedded template fails to load
const fallbackTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Name}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1 { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    .entry { margin: 1.5rem 0; }
    .endorsed { color: #2a7d4f; font-size: 0.8em; }
  </style>
</head>
<body>
  <h1>{{.Name}}</h1>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="meta">Generated {{.GeneratedAt.Format "Jan 2, 2006"}}</div>
  {{range .Entries}}
  <div class="entry">
    <h2>{{.TermName}}{{if .Endorsed}} <span class="endorsed">endorsed</span>{{end}}</h2>
    <div>{{.ContentHTML | safeHTML}}</div>
  </div>
  {{end}}
</body>
</html>`

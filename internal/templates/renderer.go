// Package templates renders the admin HTML pages. Built-in pages cover the
// login and register flows; a templates folder can override them per
// deployment.
package templates

import (
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/sprig/v3"
)

const loginTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{ .Title | default "Sign in" }}</title>
</head>
<body>
  <main>
    <h1>{{ .Title | default "Sign in" }}</h1>
    {{ if .Error }}<p class="error">{{ .Error }}</p>{{ end }}
    <form method="post" action="{{ .Action }}">
      <label>Email <input type="email" name="email" required></label>
      <label>Password <input type="password" name="password" required></label>
      <button type="submit">Sign in</button>
    </form>
    {{ if .RegisterPath }}<p><a href="{{ .RegisterPath }}">Create an account</a></p>{{ end }}
  </main>
</body>
</html>
`

const registerTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>{{ .Title | default "Create account" }}</title>
</head>
<body>
  <main>
    <h1>{{ .Title | default "Create account" }}</h1>
    {{ if .Error }}<p class="error">{{ .Error }}</p>{{ end }}
    <form method="post" action="{{ .Action }}">
      <label>Name <input type="text" name="name" required></label>
      <label>Email <input type="email" name="email" required></label>
      <label>Password <input type="password" name="password" required></label>
      <button type="submit">Create account</button>
    </form>
    <p><a href="{{ .LoginPath }}">Back to sign in</a></p>
  </main>
</body>
</html>
`

var builtins = map[string]string{
	"login":    loginTemplate,
	"register": registerTemplate,
}

// Renderer holds the parsed page templates.
type Renderer struct {
	pages map[string]*template.Template
}

// New parses the built-in pages and, when folder is non-empty, replaces any
// page that has a matching .html file there.
func New(folder string) (*Renderer, error) {
	pages := make(map[string]*template.Template, len(builtins))
	for name, src := range builtins {
		tpl, err := template.New(name).Funcs(sprig.FuncMap()).Parse(src)
		if err != nil {
			return nil, fmt.Errorf("templates: parse builtin %s: %w", name, err)
		}
		pages[name] = tpl
	}

	if folder != "" {
		entries, err := os.ReadDir(folder)
		if err != nil {
			return nil, fmt.Errorf("templates: read folder: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".html") {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ".html")
			raw, err := os.ReadFile(filepath.Join(folder, entry.Name()))
			if err != nil {
				return nil, fmt.Errorf("templates: read %s: %w", entry.Name(), err)
			}
			tpl, err := template.New(name).Funcs(sprig.FuncMap()).Parse(string(raw))
			if err != nil {
				return nil, fmt.Errorf("templates: parse %s: %w", entry.Name(), err)
			}
			pages[name] = tpl
		}
	}

	return &Renderer{pages: pages}, nil
}

// Render writes the named page with the given data.
func (r *Renderer) Render(w io.Writer, name string, data any) error {
	tpl, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("templates: unknown page %s", name)
	}
	return tpl.Execute(w, data)
}

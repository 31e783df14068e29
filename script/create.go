package script

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
	"unicode"
)

// templateFS holds the built-in script templates, one per extension.
//
//go:embed templates/*.tmpl
var templateFS embed.FS

// CreateOptions controls how Create renders a new script.
type CreateOptions struct {
	// Ext is the script extension, "sql" (default) or "go".
	Ext string
	// TemplatePath overrides the built-in template for Ext.
	TemplatePath string
	// Now stamps the filename. Zero means time.Now.
	Now time.Time
}

// TemplateData is passed to script templates.
type TemplateData struct {
	Name      string
	Ident     string
	Package   string
	Timestamp int64
	CreatedAt string
}

// Create writes a new script for name into the scanner's directory and
// returns it. The directory is created if needed; an existing file is never
// overwritten.
func (s *Scanner) Create(name string, opts CreateOptions) (Script, error) {
	if err := ValidateName(name); err != nil {
		return Script{}, err
	}
	ext := strings.TrimPrefix(opts.Ext, ".")
	if ext == "" {
		ext = "sql"
	}
	if ext != "sql" && ext != "go" {
		return Script{}, fmt.Errorf("unsupported script extension %q", ext)
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	tmpl, err := loadTemplate(ext, opts.TemplatePath)
	if err != nil {
		return Script{}, err
	}

	ts := now.UnixMilli()
	data := TemplateData{
		Name:      name,
		Ident:     identifier(name),
		Package:   packageName(s.dir),
		Timestamp: ts,
		CreatedAt: now.UTC().Format(time.RFC3339),
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Script{}, fmt.Errorf("render template: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Script{}, fmt.Errorf("create migrations directory: %w", err)
	}
	filename := FormatFilename(ts, name, ext)
	path := filepath.Join(s.dir, filename)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Script{}, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return Script{}, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return Script{}, fmt.Errorf("close %s: %w", path, err)
	}

	sc, ok := s.load(filename)
	if !ok {
		return Script{}, fmt.Errorf("created file %s is not a migration script", filename)
	}
	return sc, nil
}

func loadTemplate(ext, path string) (*template.Template, error) {
	var (
		text []byte
		err  error
	)
	if path != "" {
		text, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", path, err)
		}
	} else {
		text, err = templateFS.ReadFile("templates/" + ext + ".tmpl")
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("no built-in template for %q scripts", ext)
		}
		if err != nil {
			return nil, err
		}
	}
	tmpl, err := template.New(ext).Parse(string(text))
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return tmpl, nil
}

// identifier turns "create-users.v2" into "CreateUsersV2".
func identifier(name string) string {
	var b strings.Builder
	upper := true
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			upper = true
			continue
		}
		if upper {
			r = unicode.ToUpper(r)
			upper = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// packageName derives a Go package name from the migrations directory.
func packageName(dir string) string {
	base := strings.ToLower(filepath.Base(filepath.Clean(dir)))
	var b strings.Builder
	for _, r := range base {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_') {
			b.WriteRune(r)
		}
	}
	pkg := b.String()
	if pkg == "" || unicode.IsDigit(rune(pkg[0])) {
		return "migrations"
	}
	return pkg
}

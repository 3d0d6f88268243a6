package profile

import (
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.md
var templatesFS embed.FS

// Load returns the trimmed content of a named template.
func Load(name string) (string, error) {
	content, err := templatesFS.ReadFile(templatePath(name))
	if err != nil {
		return "", fmt.Errorf("load %s profile template: %w", name, err)
	}

	profile := strings.TrimSpace(string(content))
	if profile == "" {
		return "", fmt.Errorf("profile template %q is empty", name)
	}

	return profile, nil
}

// Render executes a named template with data. Missing keys are an error.
func Render(name string, data any) (string, error) {
	content, err := Load(name)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(content)
	if err != nil {
		return "", fmt.Errorf("parse %s profile template: %w", name, err)
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("render %s profile template: %w", name, err)
	}

	return sb.String(), nil
}

func templatePath(templateName string) string {
	return "templates/" + strings.TrimSpace(templateName) + ".md"
}

// Package templater renders a unit's config template by substituting
// `{{ key }}` placeholders with option values.
package templater

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/core-tools/hsu-shuriken-go/pkg/errors"
	"github.com/core-tools/hsu-shuriken-go/pkg/fsx"
	"github.com/core-tools/hsu-shuriken-go/pkg/layout"
	"github.com/core-tools/hsu-shuriken-go/pkg/logging"
	"github.com/core-tools/hsu-shuriken-go/pkg/options"
)

// Templater substitutes placeholders against a merged field set. Two
// variables are always available unless the unit's options already define
// them: `platform` (the host platform identifier) and `root` (the unit's
// absolute root path).
type Templater struct {
	fields options.Store
	unit   layout.Unit
	logger logging.Logger
}

func New(fields options.Store, unit layout.Unit, logger logging.Logger) *Templater {
	merged := options.Store{}
	for key, value := range fields {
		merged[key] = value
	}
	if _, ok := merged["platform"]; !ok {
		merged["platform"] = options.String(runtime.GOOS)
	}
	if _, ok := merged["root"]; !ok {
		merged["root"] = options.String(unit.Dir())
	}

	return &Templater{
		fields: merged,
		unit:   unit,
		logger: logger,
	}
}

// RenderString substitutes every `{{ key }}` placeholder in template.
// Keys may be dotted to reach into map-valued options. A placeholder
// naming a key absent from the merged set fails UndefinedVariable; a
// template is never rendered with holes.
func (t *Templater) RenderString(template string) (string, error) {
	var out strings.Builder
	rest := template

	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:open])
		rest = rest[open+2:]

		end := strings.Index(rest, "}}")
		if end < 0 {
			return "", errors.NewValidationError("unterminated placeholder in template", nil)
		}

		key := strings.TrimSpace(rest[:end])
		rest = rest[end+2:]

		value, ok := t.fields.Get(key)
		if !ok {
			return "", errors.NewUndefinedVariableError("template references an undefined variable", nil).
				WithContext("variable", key)
		}
		out.WriteString(value.Render())
	}
}

// GenerateConfig reads the unit's template, renders it and writes the
// result to configPath (unit-relative unless absolute), creating parent
// directories as needed.
func (t *Templater) GenerateConfig(configPath string) error {
	templatePath := t.unit.TemplatePath()
	t.logger.Debugf("Reading template: %s", templatePath)

	content, err := os.ReadFile(templatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.NewNotFoundError("config template not found", err).WithContext("path", templatePath)
		}
		return errors.NewIOError("failed to read config template", err).WithContext("path", templatePath)
	}

	rendered, err := t.RenderString(string(content))
	if err != nil {
		return err
	}

	target := t.unit.Resolve(configPath)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.NewIOError("failed to create config directory", err).WithContext("path", target)
	}
	if err := fsx.WriteFileAtomic(target, []byte(rendered), 0o644); err != nil {
		return errors.NewIOError("failed to write rendered config", err).WithContext("path", target)
	}

	t.logger.Infof("Config generated at %s", target)
	return nil
}

// Package prompt manages the prompt documents a workspace carries: markdown
// files with YAML frontmatter (model, sampling, category, required variables)
// and a template body with {{name}} placeholders. Documents live in
// <workspace>/prompts/ so the agent can edit its own prompts and save them
// back to GitHub like any other file.
package prompt

import (
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/version"
)

// Metadata holds configuration from YAML frontmatter.
type Metadata struct {
	// Name is the document identifier used by prompt_doc payloads and the
	// CLI. Defaults to the filename stem when omitted.
	Name string `yaml:"name"`

	// Description explains what the prompt does.
	Description string `yaml:"description"`

	// Version tracks prompt evolution.
	Version string `yaml:"version"`

	// Model overrides the configured default, "provider/model" form
	// (e.g. "anthropic/claude-sonnet-4").
	Model string `yaml:"model,omitempty"`

	// Temperature controls randomness (0.0-2.0, provider-dependent).
	Temperature *float64 `yaml:"temperature,omitempty"`

	// MaxTokens limits response length.
	MaxTokens *int `yaml:"max_tokens,omitempty"`

	// Category routes the job through the delegation chains when no model
	// is pinned.
	Category string `yaml:"category,omitempty"`

	// Requires is a semver constraint on the roost version
	// (e.g. ">=0.3.0"). Dev builds skip the check.
	Requires string `yaml:"requires,omitempty"`

	// Variables lists the required template placeholders.
	Variables []string `yaml:"variables,omitempty"`
}

// Document is a parsed prompt: frontmatter metadata plus template body.
type Document struct {
	Metadata Metadata
	Body     string
}

// placeholderPattern matches {{name}} with dotted paths allowed.
var placeholderPattern = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_.]*)\}\}`)

// Parse extracts YAML frontmatter and body from document content.
// Expected format:
//
//	---
//	name: "daily-briefing"
//	model: "anthropic/claude-sonnet-4"
//	temperature: 0.7
//	---
//	Prompt body with {{placeholders}}
//
// Content without frontmatter is all body.
func Parse(content string) (*Document, error) {
	parts := strings.SplitN(content, "---", 3)
	if len(parts) < 3 {
		return &Document{Body: strings.TrimSpace(content)}, nil
	}

	var metadata Metadata
	if frontmatter := strings.TrimSpace(parts[1]); frontmatter != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &metadata); err != nil {
			return nil, errors.Wrap(err, "failed to parse frontmatter YAML")
		}
	}

	if err := validateMetadata(&metadata); err != nil {
		return nil, errors.Wrap(err, "invalid frontmatter")
	}

	return &Document{
		Metadata: metadata,
		Body:     strings.TrimSpace(parts[2]),
	}, nil
}

func validateMetadata(m *Metadata) error {
	if m.Temperature != nil && (*m.Temperature < 0.0 || *m.Temperature > 2.0) {
		return errors.Newf("temperature must be between 0.0 and 2.0, got %f", *m.Temperature)
	}
	if m.MaxTokens != nil && *m.MaxTokens < 1 {
		return errors.Newf("max_tokens must be positive, got %d", *m.MaxTokens)
	}
	if m.Requires != "" {
		if _, err := semver.NewConstraint(m.Requires); err != nil {
			return errors.Wrapf(err, "invalid requires constraint %q", m.Requires)
		}
	}
	return nil
}

// Render substitutes {{name}} placeholders from vars. Placeholders without a
// binding and declared variables without a binding both error, so a prompt
// never reaches a model with holes in it.
func (d *Document) Render(vars map[string]string) (string, error) {
	var missing []string
	seen := make(map[string]bool)

	markMissing := func(name string) {
		if !seen[name] {
			seen[name] = true
			missing = append(missing, name)
		}
	}

	out := placeholderPattern.ReplaceAllStringFunc(d.Body, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		if value, ok := vars[name]; ok {
			return value
		}
		markMissing(name)
		return match
	})

	for _, name := range d.Metadata.Variables {
		if _, ok := vars[name]; !ok {
			markMissing(name)
		}
	}

	if len(missing) > 0 {
		return "", errors.Newf("unbound variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// Placeholders returns the distinct placeholder names in the body, in order
// of first appearance.
func (d *Document) Placeholders() []string {
	var names []string
	seen := make(map[string]bool)
	for _, match := range placeholderPattern.FindAllStringSubmatch(d.Body, -1) {
		if name := match[1]; !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// CheckRequires verifies the running version against the document's requires
// constraint. Dev builds always pass so local work is never blocked by a
// version pin.
func (d *Document) CheckRequires() error {
	if d.Metadata.Requires == "" || version.Version == "dev" {
		return nil
	}

	constraint, err := semver.NewConstraint(d.Metadata.Requires)
	if err != nil {
		return errors.Wrapf(err, "invalid requires constraint %q", d.Metadata.Requires)
	}
	running, err := semver.NewVersion(version.Version)
	if err != nil {
		return errors.Wrapf(err, "cannot parse running version %q", version.Version)
	}

	if !constraint.Check(running) {
		return errors.Newf("prompt %q requires roost %s, running %s",
			d.Metadata.Name, d.Metadata.Requires, version.Version)
	}
	return nil
}

// Package values renders add-on values templates and manifests.
//
// Templates carry {{token}} placeholders which are replaced literally, in a
// single pass and case-sensitively. Every placeholder that appears in a
// template has to be declared by the add-on using it and resolved at render
// time; anything else is a configuration error.
package values

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Placeholder tokens understood by the add-on templates.
const (
	TokenRegion  = "region_name"
	TokenCluster = "cluster_name"
	TokenVpcID   = "vpc_id"
)

var (
	// ErrUndeclaredPlaceholder is returned when a template uses a placeholder
	// its add-on does not declare.
	ErrUndeclaredPlaceholder = errors.New("undeclared placeholder")
	// ErrUnresolvedPlaceholder is returned when rendering is missing a value
	// for a placeholder present in the template.
	ErrUnresolvedPlaceholder = errors.New("unresolved placeholder")
)

var placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Template is a values document or manifest with placeholders.
type Template struct {
	Name string
	text string
}

// Parse wraps text as a template. name only shows up in errors.
func Parse(name, text string) *Template {
	return &Template{Name: name, text: text}
}

// Load reads a template from disk.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read template %s: %w", path, err)
	}
	return Parse(path, string(data)), nil
}

// Placeholders returns the distinct placeholders of the template in sorted
// order, written the way they appear between the braces.
func (t *Template) Placeholders() []string {
	seen := map[string]bool{}
	for _, m := range placeholderRe.FindAllStringSubmatch(t.text, -1) {
		seen[m[1]] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Check verifies that every placeholder of the template is one of tokens.
func (t *Template) Check(tokens ...string) error {
	declared := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		declared[tok] = true
	}
	var bad []string
	for _, p := range t.Placeholders() {
		if !declared[p] {
			bad = append(bad, "{{"+p+"}}")
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("template %s: %w: %s", t.Name, ErrUndeclaredPlaceholder, strings.Join(bad, ", "))
	}
	return nil
}

// Render substitutes vars into the template. Keys of vars are bare token
// names, e.g. "region_name" replaces "{{region_name}}".
func (t *Template) Render(vars map[string]string) (string, error) {
	var missing []string
	for _, p := range t.Placeholders() {
		if _, ok := vars[p]; !ok {
			missing = append(missing, "{{"+p+"}}")
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("template %s: %w: %s", t.Name, ErrUnresolvedPlaceholder, strings.Join(missing, ", "))
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, 2*len(vars))
	for _, k := range keys {
		pairs = append(pairs, "{{"+k+"}}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(t.text), nil
}

// Decode parses a rendered values document.
func Decode(doc string) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if err := yaml.Unmarshal([]byte(doc), &out); err != nil {
		return nil, fmt.Errorf("failed to parse YAML values: %w", err)
	}
	return out, nil
}

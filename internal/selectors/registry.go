// File: internal/selectors/registry.go
package selectors

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/erpfill/internal/records"
)

//go:embed default.yaml
var defaultYAML []byte

// Candidates is an ordered list of CSS selectors tried first to last.
// Configuration files may give a single string instead of a list.
type Candidates []string

// UnmarshalYAML accepts a scalar or a sequence.
func (c *Candidates) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		if s = strings.TrimSpace(s); s != "" {
			*c = Candidates{s}
		}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		out := make(Candidates, 0, len(list))
		for _, s := range list {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		*c = out
		return nil
	default:
		return fmt.Errorf("line %d: selector must be a string or a list of strings", node.Line)
	}
}

// Dependent is a UI action triggered after field filling when any present
// field name starts with one of Prefixes.
type Dependent struct {
	Name     string     `yaml:"name"`
	Prefixes []string   `yaml:"prefixes"`
	Click    Candidates `yaml:"click"`
	Await    Candidates `yaml:"await"`
}

// Triggered reports whether one of the given field names matches a prefix.
func (d Dependent) Triggered(fields []string) bool {
	for _, f := range fields {
		for _, p := range d.Prefixes {
			if p != "" && strings.HasPrefix(f, p) {
				return true
			}
		}
	}
	return false
}

// Form maps logical field names onto selectors for one page.
type Form struct {
	URL           string                `yaml:"url,omitempty"`
	Order         []string              `yaml:"order,omitempty"`
	Fields        map[string]Candidates `yaml:"fields"`
	Dependents    []Dependent           `yaml:"dependents,omitempty"`
	Submit        Candidates            `yaml:"submit,omitempty"`
	Confirm       Candidates            `yaml:"confirm,omitempty"`
	ConfirmAccept Candidates            `yaml:"confirm_accept,omitempty"`
	RedirectURL   string                `yaml:"redirect_url,omitempty"`
}

// FieldOrder returns the fields to fill: the explicit order first, then any
// remaining mapped fields alphabetically.
func (f Form) FieldOrder() []string {
	seen := make(map[string]bool, len(f.Fields))
	var out []string
	for _, name := range f.Order {
		if _, ok := f.Fields[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var rest []string
	for name := range f.Fields {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// Signals are the login success heuristics. Any matching signal counts.
type Signals struct {
	Present     []string `yaml:"present,omitempty"`
	Absent      []string `yaml:"absent,omitempty"`
	URLContains []string `yaml:"url_contains,omitempty"`
	// URLChanged is a pointer so an override can switch it off.
	URLChanged *bool `yaml:"url_changed,omitempty"`
}

// URLChangeCounts reports whether leaving the login URL is itself a success signal.
func (s Signals) URLChangeCounts() bool {
	return s.URLChanged != nil && *s.URLChanged
}

// Login is the login page form plus captcha and success detection.
type Login struct {
	Form    `yaml:",inline"`
	Captcha Candidates `yaml:"captcha,omitempty"`
	Success Signals    `yaml:"success"`
}

// Registry holds every selector the tool knows about. It is built once at
// start-up and passed to whoever needs it.
type Registry struct {
	Login Login           `yaml:"login"`
	Forms map[string]Form `yaml:"forms"`
}

// Default returns the built-in registry.
func Default() (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(defaultYAML, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse built-in selectors: %w", err)
	}
	return &reg, nil
}

// Load returns the built-in registry with the file at path merged over it.
// An empty path yields the defaults.
func Load(path string) (*Registry, error) {
	reg, err := Default()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return reg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read selector file: %w", err)
	}
	override, err := decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse selector file %s: %w", path, err)
	}
	if err := reg.Merge(override); err != nil {
		return nil, err
	}
	return reg, nil
}

// decode reads YAML directly. JSON and JSON5 are normalised through json5
// first and then re-read with the YAML decoder so that one set of tags applies.
func decode(path string, data []byte) (*Registry, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".json5":
		var generic interface{}
		if err := json5.Unmarshal(data, &generic); err != nil {
			return nil, err
		}
		out, err := yaml.Marshal(generic)
		if err != nil {
			return nil, err
		}
		data = out
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Merge overlays other onto r. Non-empty values in other win; field maps are
// merged key by key and unknown forms are added.
func (r *Registry) Merge(other *Registry) error {
	if other == nil {
		return nil
	}
	if err := mergo.Merge(&r.Login, other.Login, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge login selectors: %w", err)
	}
	// mergo dereferences pointers and skips a false source, so an explicit
	// url_changed is copied by hand.
	if other.Login.Success.URLChanged != nil {
		v := *other.Login.Success.URLChanged
		r.Login.Success.URLChanged = &v
	}
	if r.Forms == nil {
		r.Forms = make(map[string]Form)
	}
	for name, f := range other.Forms {
		base, ok := r.Forms[name]
		if !ok {
			r.Forms[name] = f
			continue
		}
		if err := mergo.Merge(&base, f, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge form %q: %w", name, err)
		}
		r.Forms[name] = base
	}
	return nil
}

// Form looks up a named form.
func (r *Registry) Form(name string) (Form, error) {
	f, ok := r.Forms[name]
	if !ok {
		return Form{}, fmt.Errorf("unknown form %q (known: %s)", name, strings.Join(r.FormNames(), ", "))
	}
	return f, nil
}

// FormNames lists the configured forms alphabetically.
func (r *Registry) FormNames() []string {
	names := make([]string, 0, len(r.Forms))
	for n := range r.Forms {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Validate checks the registry is usable for a run.
func (r *Registry) Validate() error {
	var errs []error
	for _, field := range records.LoginFields {
		if len(r.Login.Fields[field]) == 0 {
			errs = append(errs, fmt.Errorf("login: no selector for %s", field))
		}
	}
	if len(r.Login.Submit) == 0 {
		errs = append(errs, errors.New("login: no submit selector"))
	}
	for _, name := range r.FormNames() {
		f := r.Forms[name]
		if len(f.Fields) == 0 {
			errs = append(errs, fmt.Errorf("form %s: no fields mapped", name))
		}
		for field, c := range f.Fields {
			if len(c) == 0 {
				errs = append(errs, fmt.Errorf("form %s: field %s has no selector", name, field))
			}
		}
		for i, d := range f.Dependents {
			if len(d.Click) == 0 || len(d.Prefixes) == 0 {
				errs = append(errs, fmt.Errorf("form %s: dependent %d (%s) needs prefixes and a click selector", name, i, d.Name))
			}
		}
	}
	return errors.Join(errs...)
}

// YAML renders the registry.
func (r *Registry) YAML() ([]byte, error) {
	return yaml.Marshal(r)
}

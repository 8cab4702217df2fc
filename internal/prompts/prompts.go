// Package prompts provides ready-made needles for prompts that interactive
// programs commonly print while waiting for input.
//
// Each prompt is a precompiled expect.Needle. Patterns target the text a
// program leaves at the end of its output when it blocks on a read, so
// they are anchored to the end of the buffer where that is safe.
package prompts

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/timvw/pane-expect/internal/expect"
)

// Prompt is a named needle with a short description.
type Prompt struct {
	Name        string
	Description string
	Needle      expect.Needle
}

// Registry holds the known prompts by name.
type Registry struct {
	prompts map[string]Prompt
}

// builtin lists the default prompts. Patterns are compiled once in NewRegistry.
var builtin = []struct {
	name, description, expr string
}{
	{"shell", "POSIX shell prompt ending in $, # or %", `[$#%] ?$`},
	{"root", "root shell prompt ending in #", `# ?$`},
	{"password", "password or passphrase request", `(?i)(password|passphrase)[^\n:]*: ?$`},
	{"login", "login or username request", `(?i)(login|username|user name): ?$`},
	{"confirm", "yes/no confirmation", `(?i)(\[y/n\]|\(y/n\)|\[yes/no\]|\(yes/no\)|\[Y/n\]|\[y/N\])\??:? ?$`},
	{"pager", "pager waiting for a key", `(--More--|\(END\)|lines \d+-\d+)`},
}

// NewRegistry returns a registry with the built-in prompts.
func NewRegistry() *Registry {
	r := &Registry{prompts: make(map[string]Prompt, len(builtin))}
	for _, b := range builtin {
		r.prompts[b.name] = Prompt{
			Name:        b.name,
			Description: b.description,
			Needle:      expect.Regexp(regexp.MustCompile(b.expr)),
		}
	}
	return r
}

// Register adds or replaces a prompt compiled from expr.
func (r *Registry) Register(name, description, expr string) error {
	n, err := expect.Compile(expr)
	if err != nil {
		return fmt.Errorf("prompt %q: %w", name, err)
	}
	r.prompts[name] = Prompt{Name: name, Description: description, Needle: n}
	return nil
}

// Lookup returns the needle registered under name.
func (r *Registry) Lookup(name string) (expect.Needle, bool) {
	p, ok := r.prompts[name]
	return p.Needle, ok
}

// Describe returns the description of the named prompt, or "" if unknown.
func (r *Registry) Describe(name string) string {
	return r.prompts[name].Description
}

// Names returns the registered prompt names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.prompts))
	for name := range r.prompts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered prompt, sorted by name.
func (r *Registry) All() []Prompt {
	all := make([]Prompt, 0, len(r.prompts))
	for _, name := range r.Names() {
		all = append(all, r.prompts[name])
	}
	return all
}

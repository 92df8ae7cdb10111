// Package vars holds the write-once variable context that feeds prompt
// templates. Project metadata seeds it; each completed document binds its
// output variable exactly once.
package vars

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/jorge-barreto/docgen/internal/failure"
)

// ErrAlreadyBound is returned when a name is bound a second time.
var ErrAlreadyBound = errors.New("variable already bound")

// placeholderRe matches {{name}} with optional inner whitespace. Names may
// contain dots so that block variables (architecture.database) resolve.
var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_.\-]*)\s*\}\}`)

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.\-]*$`)

// MissingVariableError lists every placeholder that had no binding.
type MissingVariableError struct {
	Names []string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("missing variable(s): %s", strings.Join(e.Names, ", "))
}

// Context is safe for concurrent use.
type Context struct {
	mu     sync.RWMutex
	values map[string]string
}

// New returns a context seeded with the given values.
func New(seed map[string]string) *Context {
	c := &Context{values: make(map[string]string, len(seed))}
	for k, v := range seed {
		c.values[k] = v
	}
	return c
}

// ValidName reports whether name can be used as a variable.
func ValidName(name string) bool {
	return nameRe.MatchString(name)
}

// Bind sets name to value. Rebinding an existing name fails with
// ErrAlreadyBound and leaves the old value in place.
func (c *Context) Bind(name, value string) error {
	if !ValidName(name) {
		return fmt.Errorf("invalid variable name %q", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.values[name]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyBound, name)
	}
	c.values[name] = value
	return nil
}

// Lookup returns the value bound to name.
func (c *Context) Lookup(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[name]
	return v, ok
}

// Snapshot returns a copy of every binding.
func (c *Context) Snapshot() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

// Render substitutes every {{name}} in tmpl. If any placeholder is unbound
// the result is empty and the error is a failure.MissingVariable wrapping a
// *MissingVariableError.
func (c *Context) Render(tmpl string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	missing := map[string]bool{}
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		name := placeholderRe.FindStringSubmatch(m)[1]
		v, ok := c.values[name]
		if !ok {
			missing[name] = true
			return m
		}
		return v
	})
	if len(missing) > 0 {
		names := make([]string, 0, len(missing))
		for n := range missing {
			names = append(names, n)
		}
		sort.Strings(names)
		return "", failure.New(failure.MissingVariable, &MissingVariableError{Names: names})
	}
	return out, nil
}

// Placeholders returns the distinct placeholder names in tmpl in order of
// first appearance.
func Placeholders(tmpl string) []string {
	seen := map[string]bool{}
	var names []string
	for _, m := range placeholderRe.FindAllStringSubmatch(tmpl, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

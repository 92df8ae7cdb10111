// Package registry holds the immutable, ordered set of document definitions
// a run generates.
package registry

import (
	"fmt"
	"strings"

	"github.com/jorge-barreto/docgen/internal/vars"
)

// Rules are the structural checks applied to a document's generated content.
type Rules struct {
	MinLength        int
	RequiredHeadings []string
}

// DocumentSpec describes one document to generate.
type DocumentSpec struct {
	ID             string
	Title          string
	DependsOn      []string
	PromptTemplate string
	OutputVariable string
	Rules          Rules
}

// Registry is read-only after New.
type Registry struct {
	specs []DocumentSpec
	index map[string]int
}

// New validates specs and returns a registry preserving declaration order.
// It rejects empty and duplicate ids, duplicate output variables, unknown
// dependencies and dependency cycles.
func New(specs []DocumentSpec) (*Registry, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("registry: at least one document is required")
	}
	r := &Registry{
		specs: make([]DocumentSpec, len(specs)),
		index: make(map[string]int, len(specs)),
	}
	outputs := make(map[string]string, len(specs))
	for i, s := range specs {
		if s.ID == "" {
			return nil, fmt.Errorf("registry: document %d: id is required", i+1)
		}
		if _, dup := r.index[s.ID]; dup {
			return nil, fmt.Errorf("registry: duplicate document id %q", s.ID)
		}
		if s.OutputVariable == "" {
			s.OutputVariable = s.ID
		}
		if !vars.ValidName(s.OutputVariable) {
			return nil, fmt.Errorf("registry: document %q: invalid output variable %q", s.ID, s.OutputVariable)
		}
		if other, dup := outputs[s.OutputVariable]; dup {
			return nil, fmt.Errorf("registry: documents %q and %q both bind %q", other, s.ID, s.OutputVariable)
		}
		outputs[s.OutputVariable] = s.ID
		if s.Title == "" {
			s.Title = s.ID
		}
		s.DependsOn = append([]string(nil), s.DependsOn...)
		s.Rules.RequiredHeadings = append([]string(nil), s.Rules.RequiredHeadings...)
		r.index[s.ID] = i
		r.specs[i] = s
	}

	adj := make(map[string][]string, len(specs))
	nodes := make(map[string]struct{}, len(specs))
	for _, s := range r.specs {
		nodes[s.ID] = struct{}{}
		seen := map[string]bool{}
		for _, dep := range s.DependsOn {
			if dep == s.ID {
				return nil, fmt.Errorf("registry: document %q depends on itself", s.ID)
			}
			if _, ok := r.index[dep]; !ok {
				return nil, fmt.Errorf("registry: document %q depends on unknown document %q", s.ID, dep)
			}
			if seen[dep] {
				return nil, fmt.Errorf("registry: document %q lists dependency %q twice", s.ID, dep)
			}
			seen[dep] = true
			adj[s.ID] = append(adj[s.ID], dep)
		}
	}
	if hasCycle(adj, nodes) {
		return nil, fmt.Errorf("registry: dependency graph contains a cycle")
	}
	return r, nil
}

// List returns the documents in declaration order.
func (r *Registry) List() []DocumentSpec {
	out := make([]DocumentSpec, len(r.specs))
	copy(out, r.specs)
	return out
}

// Len returns the number of documents.
func (r *Registry) Len() int { return len(r.specs) }

// Get returns the document with the given id.
func (r *Registry) Get(id string) (DocumentSpec, bool) {
	i, ok := r.index[id]
	if !ok {
		return DocumentSpec{}, false
	}
	return r.specs[i], true
}

// Index returns the declaration position of id, or -1.
func (r *Registry) Index(id string) int {
	if i, ok := r.index[id]; ok {
		return i
	}
	return -1
}

// Dependents returns every document that transitively depends on id, in
// declaration order.
func (r *Registry) Dependents(id string) []string {
	blocked := map[string]bool{id: true}
	// declaration order is not topological, so iterate to a fixed point
	for changed := true; changed; {
		changed = false
		for _, s := range r.specs {
			if blocked[s.ID] {
				continue
			}
			for _, dep := range s.DependsOn {
				if blocked[dep] {
					blocked[s.ID] = true
					changed = true
					break
				}
			}
		}
	}
	var out []string
	for _, s := range r.specs {
		if s.ID != id && blocked[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

// Order returns the ids in the order a sequential run generates them: at
// each step the earliest declared document whose dependencies are done.
func (r *Registry) Order() []string {
	done := make(map[string]bool, len(r.specs))
	order := make([]string, 0, len(r.specs))
	for len(order) < len(r.specs) {
		for _, s := range r.specs {
			if done[s.ID] || !depsDone(s, done) {
				continue
			}
			done[s.ID] = true
			order = append(order, s.ID)
			break
		}
	}
	return order
}

// Unbound returns, per document, the placeholders that neither the seed nor
// an upstream document will provide. Block variables (output.name) are only
// known at generation time and are reported when their prefix is not an
// upstream output.
func (r *Registry) Unbound(seed map[string]string) map[string][]string {
	out := map[string][]string{}
	for _, s := range r.specs {
		upstream := map[string]bool{}
		for _, id := range r.ancestors(s.ID) {
			upstream[r.specs[r.index[id]].OutputVariable] = true
		}
		for _, name := range vars.Placeholders(s.PromptTemplate) {
			if _, ok := seed[name]; ok || upstream[name] {
				continue
			}
			if prefix, _, ok := strings.Cut(name, "."); ok && upstream[prefix] {
				continue
			}
			out[s.ID] = append(out[s.ID], name)
		}
	}
	return out
}

func (r *Registry) ancestors(id string) []string {
	seen := map[string]bool{}
	var walk func(string)
	walk = func(n string) {
		for _, dep := range r.specs[r.index[n]].DependsOn {
			if !seen[dep] {
				seen[dep] = true
				walk(dep)
			}
		}
	}
	walk(id)
	out := make([]string, 0, len(seen))
	for _, s := range r.specs {
		if seen[s.ID] {
			out = append(out, s.ID)
		}
	}
	return out
}

func depsDone(s DocumentSpec, done map[string]bool) bool {
	for _, dep := range s.DependsOn {
		if !done[dep] {
			return false
		}
	}
	return true
}

func hasCycle(adj map[string][]string, nodes map[string]struct{}) bool {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(nodes))
	var visit func(string) bool
	visit = func(node string) bool {
		switch state[node] {
		case visiting:
			return true
		case done:
			return false
		}
		state[node] = visiting
		for _, next := range adj[node] {
			if visit(next) {
				return true
			}
		}
		state[node] = done
		return false
	}
	for node := range nodes {
		if state[node] == unvisited && visit(node) {
			return true
		}
	}
	return false
}

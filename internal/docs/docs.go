// Package docs holds the built-in help articles printed by `docgen docs`,
// from the quickstart through config, prompt variables, the pipeline, the
// version history and run status.
package docs

import "fmt"

// Topic is one help article.
type Topic struct {
	Name    string // slug passed to `docgen docs <name>`
	Title   string
	Summary string // shown in the topic index
	Content string // plain text, styled by the caller
}

// All lists the articles in the order `docgen docs` prints its index.
func All() []Topic {
	return topics
}

// Get returns the article named name.
func Get(name string) (Topic, error) {
	for _, t := range topics {
		if t.Name == name {
			return t, nil
		}
	}
	return Topic{}, fmt.Errorf("no help topic %q (run 'docgen docs' for the list)", name)
}

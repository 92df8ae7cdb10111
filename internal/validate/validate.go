// Package validate checks generated content before it is committed.
package validate

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/jorge-barreto/docgen/internal/registry"
)

// Result is the outcome of validating one piece of content. Hint, when set,
// is appended to the next prompt so the provider can correct itself.
type Result struct {
	OK     bool
	Reason string
	Hint   string
}

// Pass is the accepting result.
var Pass = Result{OK: true}

// Validator judges generated content for a document.
type Validator interface {
	Validate(spec registry.DocumentSpec, content string) Result
}

// Func adapts a function to Validator.
type Func func(spec registry.DocumentSpec, content string) Result

func (f Func) Validate(spec registry.DocumentSpec, content string) Result { return f(spec, content) }

// Chain runs validators in order and returns the first rejection.
func Chain(vs ...Validator) Validator {
	return Func(func(spec registry.DocumentSpec, content string) Result {
		for _, v := range vs {
			if r := v.Validate(spec, content); !r.OK {
				return r
			}
		}
		return Pass
	})
}

// NonEmpty rejects content that is blank after trimming.
var NonEmpty = Func(func(_ registry.DocumentSpec, content string) Result {
	if strings.TrimSpace(content) == "" {
		return Result{Reason: "content is empty", Hint: "The previous response was empty. Produce the complete document."}
	}
	return Pass
})

// MinLength enforces spec.Rules.MinLength, counted in characters.
var MinLength = Func(func(spec registry.DocumentSpec, content string) Result {
	min := spec.Rules.MinLength
	if min <= 0 {
		return Pass
	}
	if n := utf8.RuneCountInString(strings.TrimSpace(content)); n < min {
		return Result{
			Reason: fmt.Sprintf("content has %d characters, want at least %d", n, min),
			Hint:   fmt.Sprintf("The previous response was too short (%d characters). Write at least %d characters.", n, min),
		}
	}
	return Pass
})

var headingRe = regexp.MustCompile(`^#{1,6}\s+(.+?)\s*#*\s*$`)

// Headings enforces spec.Rules.RequiredHeadings. A heading matches when a
// markdown heading line contains it, case-insensitively.
var Headings = Func(func(spec registry.DocumentSpec, content string) Result {
	if len(spec.Rules.RequiredHeadings) == 0 {
		return Pass
	}
	var found []string
	inFence := false
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingRe.FindStringSubmatch(trimmed); m != nil {
			found = append(found, strings.ToLower(m[1]))
		}
	}
	var missing []string
	for _, want := range spec.Rules.RequiredHeadings {
		w := strings.ToLower(strings.TrimSpace(want))
		ok := false
		for _, h := range found {
			if strings.Contains(h, w) {
				ok = true
				break
			}
		}
		if !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return Result{
			Reason: fmt.Sprintf("missing required heading(s): %s", strings.Join(missing, ", ")),
			Hint:   fmt.Sprintf("The document must contain these sections as markdown headings: %s.", strings.Join(missing, ", ")),
		}
	}
	return Pass
})

// Fences rejects content with an unterminated code fence, which usually
// means the provider's output was cut off.
var Fences = Func(func(_ registry.DocumentSpec, content string) Result {
	open := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			open = !open
		}
	}
	if open {
		return Result{
			Reason: "unterminated code block",
			Hint:   "The previous response ended inside a code block. Return the complete document with every code block closed.",
		}
	}
	return Pass
})

var echoedRe = regexp.MustCompile(`\{\{\s*[A-Za-z_][A-Za-z0-9_.\-]*\s*\}\}`)

// Placeholders rejects content that echoes an unrendered {{placeholder}}.
var Placeholders = Func(func(_ registry.DocumentSpec, content string) Result {
	if m := echoedRe.FindString(content); m != "" {
		return Result{
			Reason: fmt.Sprintf("content contains template placeholder %s", m),
			Hint:   "Do not include template placeholders such as {{name}} in the document; write the actual content.",
		}
	}
	return Pass
})

// Structural is the default validator used by the pipeline.
func Structural() Validator {
	return Chain(NonEmpty, Fences, MinLength, Headings, Placeholders)
}

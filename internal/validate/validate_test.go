package validate

import (
	"strings"
	"testing"

	"github.com/jorge-barreto/docgen/internal/registry"
)

func TestStructural_Accepts(t *testing.T) {
	spec := registry.DocumentSpec{ID: "arch", Rules: registry.Rules{
		MinLength:        10,
		RequiredHeadings: []string{"Overview", "data model"},
	}}
	content := "# Architecture Overview\n\nText here.\n\n## Data Model\n\n```sql\ncreate table t();\n```\n"
	if r := Structural().Validate(spec, content); !r.OK {
		t.Fatalf("rejected: %s", r.Reason)
	}
}

func TestNonEmpty(t *testing.T) {
	r := Structural().Validate(registry.DocumentSpec{}, "  \n\t")
	if r.OK || r.Reason != "content is empty" || r.Hint == "" {
		t.Fatalf("result = %+v", r)
	}
}

func TestMinLength(t *testing.T) {
	spec := registry.DocumentSpec{Rules: registry.Rules{MinLength: 5}}
	if r := MinLength.Validate(spec, "héllo"); !r.OK {
		t.Fatalf("5 runes should pass: %+v", r)
	}
	r := MinLength.Validate(spec, "abc")
	if r.OK || !strings.Contains(r.Reason, "3 characters") {
		t.Fatalf("result = %+v", r)
	}
}

func TestHeadings_IgnoresFencedHeadings(t *testing.T) {
	spec := registry.DocumentSpec{Rules: registry.Rules{RequiredHeadings: []string{"Risks", "Timeline"}}}
	content := "# Timeline\n```\n# Risks\n```\n"
	r := Headings.Validate(spec, content)
	if r.OK || !strings.Contains(r.Reason, "Risks") || strings.Contains(r.Reason, "Timeline") {
		t.Fatalf("result = %+v", r)
	}
}

func TestFences(t *testing.T) {
	if r := Fences.Validate(registry.DocumentSpec{}, "text\n```go\nfunc x()\n"); r.OK {
		t.Fatal("unterminated fence accepted")
	}
	if r := Fences.Validate(registry.DocumentSpec{}, "```\na\n```\n```\nb\n```"); !r.OK {
		t.Fatalf("balanced fences rejected: %s", r.Reason)
	}
}

func TestPlaceholders(t *testing.T) {
	r := Placeholders.Validate(registry.DocumentSpec{}, "See {{ requirements }} above")
	if r.OK || !strings.Contains(r.Reason, "{{ requirements }}") {
		t.Fatalf("result = %+v", r)
	}
}

func TestChain_FirstRejectionWins(t *testing.T) {
	calls := 0
	count := Func(func(registry.DocumentSpec, string) Result { calls++; return Pass })
	reject := Func(func(registry.DocumentSpec, string) Result { return Result{Reason: "first"} })
	never := Func(func(registry.DocumentSpec, string) Result { t.Fatal("should not run"); return Pass })
	r := Chain(count, reject, never).Validate(registry.DocumentSpec{}, "x")
	if r.OK || r.Reason != "first" || calls != 1 {
		t.Fatalf("result = %+v, calls = %d", r, calls)
	}
}

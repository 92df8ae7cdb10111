// Package scaffold writes a starter .docgen/ directory.
package scaffold

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jorge-barreto/docgen/internal/ux"
)

// Dir is the project-local directory docgen keeps its config and state in.
const Dir = ".docgen"

var configTemplate = `name: my-project
description: A short description of what the project does

vars:
  audience: engineering team

provider:
  kind: claude
  model: sonnet

retry:
  max-attempts: 3
  base-delay: 2s
  max-delay: 30s

store:
  kind: file

documents:
  - id: requirements
    title: Requirements
    prompt: .docgen/prompts/requirements.md
    validate:
      min-length: 200
      required-headings: [Functional Requirements]

  - id: architecture
    title: Architecture
    prompt: .docgen/prompts/architecture.md
    depends-on: [requirements]

  - id: plan
    title: Implementation Plan
    prompt: .docgen/prompts/plan.md
    depends-on: [requirements, architecture]
`

const fence = "```"

var prompts = map[string]string{
	"requirements.md": `Write the requirements document for {{project_name}}.

Project description: {{project_description}}
Audience: {{audience}}

Use a "## Functional Requirements" section and a "## Non-Functional Requirements" section.

After the document, record the decisions later documents depend on:

` + fence + `variables
database = <chosen database>
api_style = <REST, gRPC, ...>
` + fence + `
`,
	"architecture.md": `Design the architecture for {{project_name}} from these requirements:

{{requirements}}

The requirements chose {{requirements.database}} for storage and a {{requirements.api_style}} API.
Cover components, data flow and deployment.
`,
	"plan.md": `Write an implementation plan for {{project_name}}.

## Requirements
{{requirements}}

## Architecture
{{architecture}}

Break the work into milestones with concrete tasks.
`,
}

// Init creates a new .docgen/ directory with an example config and prompt
// templates.
func Init(targetDir string) error {
	root := filepath.Join(targetDir, Dir)
	if _, err := os.Stat(root); err == nil {
		return fmt.Errorf("%s directory already exists in %s", Dir, targetDir)
	}

	promptDir := filepath.Join(root, "prompts")
	if err := os.MkdirAll(promptDir, 0755); err != nil {
		return fmt.Errorf("creating %s/prompts: %w", Dir, err)
	}
	if err := os.WriteFile(filepath.Join(root, "config.yaml"), []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config.yaml: %w", err)
	}
	for name, body := range prompts {
		if err := os.WriteFile(filepath.Join(promptDir, name), []byte(body), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}

	path := func(p string) string { return ux.Accent.Render(p) }
	fmt.Fprintf(ux.Out, "\n%s\n\n", ux.Success.Bold(true).Render("✓ Initialized "+Dir+"/ directory"))
	fmt.Fprintf(ux.Out, "  Created:\n")
	fmt.Fprintf(ux.Out, "    %s     pipeline configuration\n", path(Dir+"/config.yaml"))
	fmt.Fprintf(ux.Out, "    %s         prompt templates, one per document\n\n", path(Dir+"/prompts/"))
	fmt.Fprintf(ux.Out, "  Next steps:\n")
	fmt.Fprintf(ux.Out, "    1. Set name and description in %s\n", path(Dir+"/config.yaml"))
	fmt.Fprintf(ux.Out, "    2. Edit the templates in %s\n", path(Dir+"/prompts/"))
	fmt.Fprintf(ux.Out, "    3. Run %s to preview the rendered prompts\n\n", path("docgen run --dry-run"))
	return nil
}

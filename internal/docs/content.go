package docs

var topics = []Topic{
	{
		Name:    "quickstart",
		Title:   "Quick Start",
		Summary: "Getting started with docgen",
		Content: topicQuickstart,
	},
	{
		Name:    "config",
		Title:   "Configuration Reference",
		Summary: "Config file schema, fields, defaults and environment overrides",
		Content: topicConfig,
	},
	{
		Name:    "variables",
		Title:   "Template Variables",
		Summary: "Placeholders, project metadata, outputs and variables blocks",
		Content: topicVariables,
	},
	{
		Name:    "pipeline",
		Title:   "Execution Model",
		Summary: "Ordering, retries, validation, pause, resume and cancel",
		Content: topicPipeline,
	},
	{
		Name:    "versions",
		Title:   "Versions and Stores",
		Summary: "History, diff, rollback and the file, postgres and s3 backends",
		Content: topicVersions,
	},
	{
		Name:    "status",
		Title:   "Status and Working Directory",
		Summary: "The status endpoint and what lives under .docgen/",
		Content: topicStatus,
	},
}

const topicQuickstart = `Quick Start
===========

1. Initialize a project:

    cd your-project
    docgen init

   This creates .docgen/config.yaml and three prompt templates under
   .docgen/prompts/ (requirements, architecture, plan).

2. Edit .docgen/config.yaml: set the project name and description and
   pick a provider. Each entry under documents is one document to
   generate; depends-on lists the documents it needs first.

3. Preview the generation order without calling the provider:

    docgen run --dry-run

4. Generate:

    docgen run

5. Check progress from another terminal:

    docgen status

CLI
---

  docgen run                    Generate every document not yet completed
  docgen run --fresh            Ignore the checkpoint and regenerate everything
  docgen run --serve :8080      Also serve the live status at /api/status
  docgen run --max-attempts N   Override retry.max-attempts
  docgen pause | resume | cancel
                                Control a running pipeline from another shell
  docgen status                 Show the checkpointed run
  docgen history <doc>          List a document's versions
  docgen show <doc> [-v N]      Print a version (the active one by default)
  docgen diff <doc> <a> <b>     Unified diff between two versions
  docgen rollback <doc> <N>     Make version N the one later runs use
  docgen doctor                 Ask the provider to diagnose a failed run
  docgen docs [topic]           Read these topics
`

const topicConfig = `Configuration Reference
=======================

docgen reads .docgen/config.yaml (or a .toml file passed with --config).

  name: Acme Portal
  description: Customer self-service portal
  vars:
    audience: internal engineering
  provider:
    kind: claude          # claude | openai | command
    model: sonnet
    temperature: 0.7
    max-tokens: 4000
    timeout: 10           # minutes per call
  retry:
    max-attempts: 3
    base-delay: 2s
    max-delay: 30s
    hint-on-retry: true
  pause-grace: 30s
  store:
    kind: file            # file | memory | postgres | s3
    dir: .docgen/versions
  status:
    addr: ""              # e.g. 127.0.0.1:8080
  log-level: info
  documents:
    - id: requirements
      prompt: .docgen/prompts/requirements.md
      validate:
        min-length: 200
        required-headings: [Scope]
    - id: architecture
      depends-on: [requirements]
      prompt: .docgen/prompts/architecture.md

Providers
---------

  claude    Runs "claude -p". model is passed as --model, system as
            --append-system-prompt.
  openai    POSTs to {base-url}/chat/completions. The key is read from
            the variable named by api-key-env (default OPENAI_API_KEY);
            model defaults to gpt-4.
  command   Runs command with bash; the prompt arrives on stdin and
            stdout is the document.

Environment overrides
---------------------

  DOCGEN_MODEL, OPENAI_MODEL_NAME   provider.model
  DOCGEN_API_BASE_URL               provider.base-url
  DOCGEN_DATABASE_URL               store.database-url
  DOCGEN_LOG_LEVEL                  log-level
`

const topicVariables = `Template Variables
==================

Prompt templates use {{name}} placeholders. Every placeholder must be
bound when the document starts, otherwise the document fails with a
missing variable error and the provider is not called.

Built in:

  project_name          name
  project_description   description
  created_at            the run date, YYYY-MM-DD

Custom vars from the vars section are bound next; values may reference
earlier ones and the environment with $NAME.

When a document completes, its output (the id unless output is set) is
bound to the generated content. Bindings are write-once: a value never
changes for the rest of the run.

Variables blocks
----------------

A generated document may end with

    ` + "```variables" + `
    stack = Go
    database = PostgreSQL
    ` + "```" + `

The block is removed from the bound content and each line is bound as
<output>.<name>, e.g. {{architecture.stack}}.
`

const topicPipeline = `Execution Model
===============

Documents run one at a time. The next document is always the earliest
declared one whose dependencies are all completed.

Each document gets retry.max-attempts provider calls. Timeouts, server
errors and rate limits are retried after base-delay * 2^(attempt-1),
capped at max-delay; a provider's Retry-After is honoured up to the cap.
Authentication and malformed-request errors fail immediately.

Generated content is validated: non-empty, min-length, required
headings, closed code fences, and no unrendered {{placeholders}}. A
rejection uses up an attempt and, with hint-on-retry, the reason is
appended to the next prompt.

When a document fails, every document depending on it is marked blocked
and the run stops as failed.

Pause, resume, cancel
---------------------

  docgen pause    No new document starts. The current call may finish
                  within pause-grace; after that it is aborted and the
                  document is retried on resume without losing an attempt.
  docgen resume   Continue.
  docgen cancel   Abort now. The run fails with reason "cancelled";
                  committed versions are kept.

Ctrl-C cancels. A later "docgen run" carries completed documents forward.
`

const topicVersions = `Versions and Stores
===================

Every accepted document is committed as a new immutable version
numbered 1, 2, 3 ... per document, with a sha256 content hash. Versions
are never edited or removed.

  docgen history plan
  docgen show plan --version 2
  docgen diff plan 1 3
  docgen rollback plan 2

Rollback marks version 2 active in the checkpoint; the next run binds
its content and regenerates nothing that is already completed.

Stores
------

  file       One JSON file per version under store.dir.
  memory     Process lifetime only; useful with --dry-run and tests.
  postgres   store.database-url; the table (default docgen_versions) is
             created on first use.
  s3         Any S3-compatible endpoint (MinIO, AWS). Credentials come
             from DOCGEN_S3_ACCESS_KEY and DOCGEN_S3_SECRET_KEY unless
             access-key-env and secret-key-env name other variables.
`

const topicStatus = `Status and Working Directory
============================

With --serve ADDR (or status.addr) the run serves:

  GET /api/status   the current snapshot as JSON
  GET /healthz      liveness

The snapshot carries project_name, run_id, progress (0-100), status
(ready, generating, paused, completed, failed), current_document,
documents [{id, name, status, attempts, last_error, versions}], the
last 50 messages [{text, level, time}], failed_document and reason.

.docgen/
  config.yaml
  prompts/             templates
  rendered/            the last rendered prompt per document
  state/run.json       checkpoint
  state/timing.json    per-document timing
  state/control        pending pause/resume/cancel request
  logs/docgen.log      structured JSON log
  logs/<doc>.log       provider output per document
  versions/            file store
`

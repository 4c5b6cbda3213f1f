package mcpserver

// Guide explains the ring model to LLM clients before they start issuing
// commands.
const Guide = `# MioRing Guide

MioRing keeps registered content (entities) and derived content (phantoms)
in one dependency graph. Every node is a *specter*.

## Ids

Ids look like ` + "`" + `18c2f9d3a1b4e000-3` + "`" + `: a hex timestamp, a dash, a small ordinal.
Specters and operations share the same id format but not the same namespace;
pass specter ids where a tool asks for ` + "`" + `id` + "`" + `, ` + "`" + `ids` + "`" + ` or ` + "`" + `base` + "`" + `.

## Workflow

1. Register content with ` + "`" + `register_text` + "`" + ` or ` + "`" + `register_asset` + "`" + `.
2. Ask ` + "`" + `offered_operations` + "`" + ` what can be done with it.
3. ` + "`" + `initiate_operation` + "`" + ` records the transformation and returns the new phantom.
   **Nothing runs yet.** Phantoms can themselves be inputs to further operations.
4. ` + "`" + `force` + "`" + ` or ` + "`" + `read_content` + "`" + ` runs whatever is needed, once. Results are cached.

## Operation kinds

- ` + "`" + `crop` + "`" + `, ` + "`" + `resize` + "`" + `, ` + "`" + `annotate` + "`" + ` take images.
- ` + "`" + `summarize` + "`" + ` takes text and needs the llm capability.
- ` + "`" + `convert:<kind>` + "`" + ` changes the kind, e.g. ` + "`" + `convert:text` + "`" + ` on an image runs OCR.
- Attributes are a JSON object; each kind's schema is published in the
  ` + "`" + `mioring://operation-kinds` + "`" + ` resource.

## Archiving

` + "`" + `archive` + "`" + ` moves a specter or operation and everything derived from it out of the
working set. Pinned entities block the archive. ` + "`" + `purge` + "`" + ` discards the archive for good.
`

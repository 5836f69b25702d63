package prompts

import _ "embed"

//go:embed agents/researcher.md
var ResearcherRole string

//go:embed agents/writer.md
var WriterRole string

//go:embed agents/editor.md
var EditorRole string

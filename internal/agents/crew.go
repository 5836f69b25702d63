// Package agents provides the built-in stage capability: a deterministic
// researcher, writer and editor crew. It implements the same boundary an
// LLM-backed provider would, so the orchestrator runs end-to-end offline
// and an external capability can be swapped in without touching the
// pipeline.
package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/stage"
	"github.com/quill-dev/quill/prompts"
)

// Crew implements stage.Capability with one agent per pipeline stage.
type Crew struct{}

// NewCrew returns the built-in crew.
func NewCrew() *Crew {
	return &Crew{}
}

// roleFor maps an agent name to its embedded role prompt.
func roleFor(agent string) (string, bool) {
	switch agent {
	case "researcher":
		return prompts.ResearcherRole, true
	case "writer":
		return prompts.WriterRole, true
	case "editor":
		return prompts.EditorRole, true
	}
	return "", false
}

// Prompt composes the full agent prompt for a stage: role, goal, expected
// output and the stage input. External LLM-backed capabilities reuse this
// to build their provider calls.
func Prompt(st config.StageConfig, input stage.Input) string {
	role, _ := roleFor(st.Agent)

	var b strings.Builder
	b.WriteString(role)
	b.WriteString("\n## Goal\n")
	b.WriteString(st.Goal)
	b.WriteString("\n\n## Expected output\n")
	b.WriteString(st.ExpectedOutput)
	b.WriteString("\n\n## Topic\n")
	b.WriteString(input.Topic)
	if input.Prior != nil {
		fmt.Fprintf(&b, "\n\n## Input from %s stage\n%s\n", input.Prior.Stage, input.Prior.Content)
	}
	return b.String()
}

// Execute runs the agent for one stage. The call is synchronous and
// respects ctx cancellation between phases.
func (c *Crew) Execute(ctx context.Context, st config.StageConfig, input stage.Input) (*stage.Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := roleFor(st.Agent); !ok {
		return nil, &stage.ValidationError{Reason: fmt.Sprintf("unknown agent %q for stage %s", st.Agent, st.Name)}
	}

	switch st.Agent {
	case "researcher":
		return c.research(input)
	case "writer":
		return c.write(input)
	default:
		return c.edit(input)
	}
}

// research produces a markdown digest of sources for the topic.
func (c *Crew) research(input stage.Input) (*stage.Output, error) {
	topic := strings.TrimSpace(input.Topic)
	if topic == "" {
		return nil, &stage.ValidationError{Reason: "research requires a non-empty topic"}
	}

	slug := strings.ReplaceAll(strings.ToLower(topic), " ", "-")
	sources := []artifact.Source{
		{
			Title:   fmt.Sprintf("%s: An Overview", title(topic)),
			Snippet: fmt.Sprintf("A broad introduction to %s, covering the core concepts and current state of the field.", topic),
			Link:    fmt.Sprintf("https://encyclopedia.example.org/%s", slug),
		},
		{
			Title:   fmt.Sprintf("Recent Advances in %s", title(topic)),
			Snippet: fmt.Sprintf("Survey of developments in %s over the last five years, with an emphasis on practical deployments.", topic),
			Link:    fmt.Sprintf("https://journal.example.org/advances/%s", slug),
		},
		{
			Title:   fmt.Sprintf("%s in Practice", title(topic)),
			Snippet: fmt.Sprintf("Case studies describing how %s is applied in industry, including costs, benefits and open problems.", topic),
			Link:    fmt.Sprintf("https://casestudies.example.org/%s", slug),
		},
	}

	var b strings.Builder
	b.WriteString("### Search Results\n\n")
	for i, src := range sources {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, src.Title)
		fmt.Fprintf(&b, "   %s\n", src.Snippet)
		fmt.Fprintf(&b, "   [Read more](%s)\n\n", src.Link)
	}

	return &stage.Output{Content: b.String(), Sources: sources}, nil
}

// write produces an article grounded in the research digest.
func (c *Crew) write(input stage.Input) (*stage.Output, error) {
	if input.Prior == nil {
		return nil, &stage.ValidationError{Reason: "writing requires the research digest as input"}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title(input.Topic))
	fmt.Fprintf(&b, "This article examines %s, drawing on %d sources gathered during research.\n\n",
		input.Topic, len(input.Prior.Sources))

	for _, src := range input.Prior.Sources {
		fmt.Fprintf(&b, "## %s\n\n", src.Title)
		fmt.Fprintf(&b, "%s As reported in \"%s\", this remains a central theme for %s.\n\n",
			src.Snippet, src.Title, input.Topic)
	}

	b.WriteString("## Sources\n\n")
	for _, src := range input.Prior.Sources {
		fmt.Fprintf(&b, "- [%s](%s)\n", src.Title, src.Link)
	}

	return &stage.Output{Content: b.String(), Sources: input.Prior.Sources}, nil
}

// edit reviews the drafted article and produces the approved final copy.
func (c *Crew) edit(input stage.Input) (*stage.Output, error) {
	if input.Prior == nil {
		return nil, &stage.ValidationError{Reason: "editing requires the drafted article as input"}
	}

	var b strings.Builder
	b.WriteString("VERDICT: APPROVED\n\n")
	fmt.Fprintf(&b, "Reviewed %d cited sources; citations are consistent with the research digest.\n\n---\n\n",
		len(input.Prior.Sources))
	b.WriteString(input.Prior.Content)

	return &stage.Output{Content: b.String(), Sources: input.Prior.Sources}, nil
}

// title uppercases the first letter of each word.
func title(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/quill-dev/quill/internal/artifact"
	"github.com/quill-dev/quill/internal/config"
	"github.com/quill-dev/quill/internal/stage"
)

func stages(t *testing.T) []config.StageConfig {
	t.Helper()
	return config.DefaultConfig().Stages
}

func TestResearchProducesSourcedDigest(t *testing.T) {
	crew := NewCrew()

	out, err := crew.Execute(context.Background(), stages(t)[0], stage.Input{Topic: "solar energy"})
	if err != nil {
		t.Fatalf("research failed: %v", err)
	}
	if len(out.Sources) == 0 {
		t.Fatal("research produced no sources")
	}
	if !strings.Contains(out.Content, "### Search Results") {
		t.Errorf("digest missing results header:\n%s", out.Content)
	}
	for _, src := range out.Sources {
		if !strings.Contains(out.Content, src.Title) {
			t.Errorf("digest does not mention source %q", src.Title)
		}
	}
}

func TestResearchRejectsEmptyTopic(t *testing.T) {
	crew := NewCrew()

	_, err := crew.Execute(context.Background(), stages(t)[0], stage.Input{Topic: "   "})
	var validation *stage.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
}

func TestWriterCitesResearchSources(t *testing.T) {
	crew := NewCrew()

	research, err := crew.Execute(context.Background(), stages(t)[0], stage.Input{Topic: "solar energy"})
	if err != nil {
		t.Fatal(err)
	}

	prior := &artifact.Artifact{Stage: "research", Content: research.Content, Sources: research.Sources}
	article, err := crew.Execute(context.Background(), stages(t)[1], stage.Input{Topic: "solar energy", Prior: prior})
	if err != nil {
		t.Fatalf("writing failed: %v", err)
	}

	for _, src := range research.Sources {
		if !strings.Contains(article.Content, src.Title) {
			t.Errorf("article does not cite %q", src.Title)
		}
	}
}

func TestWriterRequiresPriorArtifact(t *testing.T) {
	crew := NewCrew()

	_, err := crew.Execute(context.Background(), stages(t)[1], stage.Input{Topic: "solar energy"})
	var validation *stage.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError without prior artifact, got %v", err)
	}
}

func TestEditorApprovesAndKeepsArticle(t *testing.T) {
	crew := NewCrew()

	prior := &artifact.Artifact{
		Stage:   "writing",
		Content: "# Solar Energy\n\nBody text.",
		Sources: []artifact.Source{{Title: "Solar 101"}},
	}
	out, err := crew.Execute(context.Background(), stages(t)[2], stage.Input{Topic: "solar energy", Prior: prior})
	if err != nil {
		t.Fatalf("editing failed: %v", err)
	}
	if !strings.HasPrefix(out.Content, "VERDICT: APPROVED") {
		t.Errorf("review missing verdict:\n%s", out.Content)
	}
	if !strings.Contains(out.Content, prior.Content) {
		t.Error("final copy dropped the article body")
	}
}

func TestExecuteRejectsUnknownAgent(t *testing.T) {
	crew := NewCrew()

	st := config.StageConfig{Name: "research", Agent: "astrologer"}
	_, err := crew.Execute(context.Background(), st, stage.Input{Topic: "solar energy"})
	var validation *stage.ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError for unknown agent, got %v", err)
	}
}

func TestPromptIncludesRoleGoalAndPriorInput(t *testing.T) {
	st := stages(t)[1]
	prior := &artifact.Artifact{Stage: "research", Content: "digest body"}

	prompt := Prompt(st, stage.Input{Topic: "solar energy", Prior: prior})
	for _, want := range []string{"Content Writer", st.Goal, "solar energy", "digest body"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

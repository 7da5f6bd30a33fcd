package subagent

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/delegate-dev/delegate/pkg/ai"
)

func TestInterpolate(t *testing.T) {
	values := map[string]string{"topic": "go generics", "depth": "deep"}

	got, err := Interpolate("Research ${topic} (${depth}).", values)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Research go generics (deep)." {
		t.Errorf("got %q", got)
	}

	// Applying the result again must be a no-op once all tokens are gone.
	again, err := Interpolate(got, values)
	if err != nil {
		t.Fatal(err)
	}
	if again != got {
		t.Errorf("second application changed the text: %q -> %q", got, again)
	}

	_, err = Interpolate("Research ${topic} with ${missing} and ${also_missing}.", values)
	if err == nil {
		t.Fatal("undefined token accepted")
	}
	if !strings.Contains(err.Error(), "missing") || !strings.Contains(err.Error(), "also_missing") {
		t.Errorf("error %q should name every undefined token", err)
	}
	if KindOf(err) != KindConfiguration {
		t.Errorf("KindOf = %q, want configuration", KindOf(err))
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	def := validDef()
	def.Prompt.SystemPrompt = "Research ${topic}. ${directive}"
	def.Prompt.Directive = "Cite sources."

	got, err := buildSystemPrompt(def, map[string]string{"topic": "caching"}, "# Environment Context\nfake", nil, false)
	if err != nil {
		t.Fatal(err)
	}

	wantOrder := []string{
		"Research caching. Cite sources.",
		"# Environment Context",
		"# Important Rules",
		"complete_task",
	}
	last := -1
	for _, want := range wantOrder {
		idx := strings.Index(got, want)
		if idx < 0 {
			t.Fatalf("prompt missing %q:\n%s", want, got)
		}
		if idx < last {
			t.Errorf("%q appears out of order", want)
		}
		last = idx
	}
}

func TestBuildSystemPromptEmptyTemplate(t *testing.T) {
	def := validDef()
	def.Prompt.SystemPrompt = ""
	def.Prompt.InitialMessages = []ai.Message{ai.UserText("go")}

	got, err := buildSystemPrompt(def, nil, "env", nil, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("definitions without a system prompt carry their own instructions; got %q", got)
	}
}

func TestBuildQuery(t *testing.T) {
	def := validDef()
	def.Prompt.QueryTemplate = ""
	got, err := buildQuery(def, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != "Get Started!" {
		t.Errorf("empty template should fall back to %q, got %q", "Get Started!", got)
	}

	def.Prompt.QueryTemplate = "Do ${task} now."
	got, err = buildQuery(def, map[string]string{"task": "the dishes"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Do the dishes now." {
		t.Errorf("got %q", got)
	}
}

func TestRenderToolCode(t *testing.T) {
	decls := []ai.FunctionDeclaration{
		{
			Name:        "probe",
			Description: "Probes things.",
			ParametersJSONSchema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"target": {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["target", "description"]
			}`),
		},
	}

	t.Run("remote keeps schema key and description param", func(t *testing.T) {
		got, err := renderToolCode(decls, false)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(got, `"parametersJsonSchema"`) {
			t.Errorf("missing parametersJsonSchema key:\n%s", got)
		}
		if !strings.Contains(got, `"description": {`) {
			t.Errorf("remote rendering should keep the description property:\n%s", got)
		}
	})

	t.Run("gemma renames key and strips description param", func(t *testing.T) {
		got, err := renderToolCode(decls, true)
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(got, "parametersJsonSchema") {
			t.Errorf("gemma rendering must not use parametersJsonSchema:\n%s", got)
		}
		if !strings.Contains(got, `"parameters"`) {
			t.Errorf("missing parameters key:\n%s", got)
		}

		var entries []map[string]any
		if err := json.Unmarshal([]byte(got), &entries); err != nil {
			t.Fatalf("rendering is not JSON: %v", err)
		}
		params := entries[0]["parameters"].(map[string]any)
		props := params["properties"].(map[string]any)
		if _, ok := props["description"]; ok {
			t.Error("description property survived the gemma transform")
		}
		if _, ok := props["target"]; !ok {
			t.Error("target property should survive")
		}
		for _, r := range params["required"].([]any) {
			if r == "description" {
				t.Error("description still listed as required")
			}
		}
	})

	t.Run("tool-level description text survives either way", func(t *testing.T) {
		for _, gemma := range []bool{false, true} {
			got, err := renderToolCode(decls, gemma)
			if err != nil {
				t.Fatal(err)
			}
			if !strings.Contains(got, "Probes things.") {
				t.Errorf("gemma=%v: tool description text dropped:\n%s", gemma, got)
			}
		}
	})
}

func TestBuildSystemPromptToolCode(t *testing.T) {
	def := validDef()
	def.Prompt.SystemPrompt = "Tools:\n${tool_code}"
	decls := []ai.FunctionDeclaration{completionDeclaration(nil)}

	got, err := buildSystemPrompt(def, nil, "", decls, true)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, `"name": "complete_task"`) {
		t.Errorf("tool_code token not expanded:\n%s", got)
	}
}


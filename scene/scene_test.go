package scene

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/paperclip/video-orchestrator/video"
)

// approx absorbs float error in word-count duration estimates.
var approx = cmpopts.EquateApprox(0, 1e-9)

const twoSceneScript = `# Introduction (12s)
[Wide shot of a laboratory]
[CALLOUT: Established 1962]
**Narration**
Welcome to the lab.
---
# Findings
**Narration**
The results speak for themselves and they were reproduced across every
trial we ran during the second phase of the study.
`

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []Scene
	}{
		{
			name:    "two scenes with explicit duration",
			content: twoSceneScript,
			want: []Scene{
				{
					Number:            1,
					Title:             "Introduction",
					VisualDescription: "[Wide shot of a laboratory]",
					Narration:         "Welcome to the lab.",
					Callouts:          []string{"Established 1962"},
					DurationEstimate:  12,
				},
				{
					Number:           2,
					Title:            "Findings",
					Narration:        "The results speak for themselves and they were reproduced across every trial we ran during the second phase of the study.",
					DurationEstimate: 8.4,
				},
			},
		},
		{
			name:    "untitled prose defaults to narration",
			content: "Just a single line of prose.",
			want: []Scene{
				{
					Number:           1,
					Narration:        "Just a single line of prose.",
					DurationEstimate: 5,
				},
			},
		},
		{
			name:    "empty blocks are dropped and leave number gaps",
			content: "# One\n---\n---\n# Three",
			want: []Scene{
				{Number: 1, Title: "One", DurationEstimate: 5},
				{Number: 3, Title: "Three", DurationEstimate: 5},
			},
		},
		{
			name:    "block with neither title nor narration is discarded",
			content: "[Only a visual line]",
			want:    nil,
		},
		{
			name:    "empty script",
			content: "",
			want:    nil,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			got := Parse(test.content)
			if diff := cmp.Diff(test.want, got, approx); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDeterministic(t *testing.T) {
	first := Parse(twoSceneScript)
	second := Parse(twoSceneScript)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("Parse() not deterministic (-first +second):\n%s", diff)
	}
}

func TestParseDurationFloor(t *testing.T) {
	scenes := Parse("# Short\n**Narration**\nHi.")
	if len(scenes) != 1 {
		t.Fatalf("expected 1 scene, got %d", len(scenes))
	}
	if scenes[0].DurationEstimate != 5 {
		t.Errorf("DurationEstimate = %v, want floor of 5", scenes[0].DurationEstimate)
	}
}

func TestBuildRequest(t *testing.T) {
	script := &video.Script{
		ID:                "script-1",
		ProjectID:         "project-1",
		Title:             "The Study",
		Content:           twoSceneScript,
		Template:          video.TemplateEducational,
		EstimatedDuration: 20.8,
		SceneCount:        2,
	}
	cfg := video.DefaultConfig()
	cfg.Settings = map[string]interface{}{"watermark": false}

	req := BuildRequest(script, cfg)

	if req.ScriptID != "script-1" || req.Title != "The Study" {
		t.Errorf("unexpected request identity: %+v", req)
	}
	if len(req.Scenes) != 2 {
		t.Fatalf("expected 2 scenes, got %d", len(req.Scenes))
	}
	wantCfg := map[string]interface{}{
		"quality":           "1080p",
		"aspect_ratio":      "16:9",
		"style":             "educational",
		"include_narration": true,
		"voice_style":       "",
		"watermark":         false,
	}
	if diff := cmp.Diff(wantCfg, req.Config); diff != "" {
		t.Errorf("request config mismatch (-want +got):\n%s", diff)
	}
	if req.Metadata.Template != "educational" || req.Metadata.SceneCount != 2 {
		t.Errorf("unexpected metadata: %+v", req.Metadata)
	}
}

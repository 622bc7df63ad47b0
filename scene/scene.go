// Package scene turns script text into the provider-agnostic units of
// generation work. Parsing is deterministic and side-effect free: every
// provider adapter re-parses the same script and must get the same
// scene list.
package scene

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/paperclip/video-orchestrator/video"
)

// Separator splits a script into scene blocks.
const Separator = "---"

// wordsPerMinute drives the narration-based duration estimate.
const wordsPerMinute = 150

// minDuration is the floor for any scene's duration estimate, seconds.
const minDuration = 5.0

var durationSuffix = regexp.MustCompile(`\((\d+\.?\d*)s\)`)
var durationStrip = regexp.MustCompile(`\s*\(\d+\.?\d*s\)`)

// Scene is one structured unit parsed out of a script.
type Scene struct {
	Number            int      `json:"scene_number"`
	Title             string   `json:"title"`
	VisualDescription string   `json:"visual_description"`
	Narration         string   `json:"narration"`
	Callouts          []string `json:"callouts"`
	DurationEstimate  float64  `json:"duration_estimate"`
}

// Parse splits script content on the scene separator and parses each
// block. Blocks with neither a title nor narration are dropped. Scene
// numbers follow raw block order, so a dropped block leaves a gap.
func Parse(content string) []Scene {
	var scenes []Scene
	for i, block := range strings.Split(content, Separator) {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if s, ok := parseBlock(block, i+1); ok {
			scenes = append(scenes, s)
		}
	}
	return scenes
}

func parseBlock(block string, number int) (Scene, bool) {
	s := Scene{Number: number}

	section := ""
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#"):
			s.Title = strings.TrimSpace(strings.TrimLeft(line, "#"))
			if m := durationSuffix.FindStringSubmatch(s.Title); m != nil {
				if d, err := strconv.ParseFloat(m[1], 64); err == nil {
					s.DurationEstimate = d
				}
				s.Title = durationStrip.ReplaceAllString(s.Title, "")
			}
		case strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]"):
			if strings.Contains(line, "CALLOUT:") {
				callout := strings.Replace(line, "[CALLOUT:", "", 1)
				callout = strings.Replace(callout, "]", "", -1)
				s.Callouts = append(s.Callouts, strings.TrimSpace(callout))
			} else {
				s.VisualDescription += line + "\n"
			}
		case strings.HasPrefix(line, "**") && strings.HasSuffix(line, "**"):
			name := strings.ToLower(strings.Trim(line, "*"))
			if strings.Contains(name, "narration") {
				section = "narration"
			} else {
				section = ""
			}
		default:
			if section == "narration" {
				s.Narration += line + " "
			} else if section == "" && s.VisualDescription == "" {
				// Unclassified prose defaults to narration.
				s.Narration += line + " "
			}
		}
	}

	s.VisualDescription = strings.TrimSpace(s.VisualDescription)
	s.Narration = strings.TrimSpace(s.Narration)

	if s.DurationEstimate == 0 {
		words := len(strings.Fields(s.Narration))
		s.DurationEstimate = float64(words) / wordsPerMinute * 60
		if s.DurationEstimate < minDuration {
			s.DurationEstimate = minDuration
		}
	}

	if s.Title == "" && s.Narration == "" {
		return Scene{}, false
	}
	return s, true
}

// TotalDuration sums the duration estimates of a scene list.
func TotalDuration(scenes []Scene) float64 {
	var total float64
	for _, s := range scenes {
		total += s.DurationEstimate
	}
	return total
}

// Request is the generation payload every provider accepts. Its JSON
// shape is the one bit-exact contract between the orchestrator and the
// back-ends.
type Request struct {
	ScriptID string                 `json:"script_id"`
	Title    string                 `json:"title"`
	Scenes   []Scene                `json:"scenes"`
	Config   map[string]interface{} `json:"config"`
	Metadata Metadata               `json:"metadata"`
}

// Metadata describes the script the request was built from.
type Metadata struct {
	EstimatedDuration float64 `json:"estimated_duration"`
	SceneCount        int     `json:"scene_count"`
	Template          string  `json:"template"`
}

// BuildRequest parses the script and merges the video configuration
// into a provider-ready request.
func BuildRequest(script *video.Script, cfg video.Config) Request {
	scenes := Parse(script.Content)

	reqCfg := map[string]interface{}{
		"quality":           cfg.Quality,
		"aspect_ratio":      cfg.AspectRatio,
		"style":             cfg.Style,
		"include_narration": cfg.IncludeNarration,
		"voice_style":       cfg.VoiceStyle,
	}
	for k, v := range cfg.Settings {
		reqCfg[k] = v
	}

	return Request{
		ScriptID: script.ID,
		Title:    script.Title,
		Scenes:   scenes,
		Config:   reqCfg,
		Metadata: Metadata{
			EstimatedDuration: script.EstimatedDuration,
			SceneCount:        script.SceneCount,
			Template:          string(script.Template),
		},
	}
}

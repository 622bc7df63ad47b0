// Package runway drives Runway's Gen-3 generation API.
package runway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/scene"
	"github.com/paperclip/video-orchestrator/video"
)

const (
	// Name identifies the Runway provider by name
	Name = "runway"

	minClipSeconds  = 4
	costPerSecond   = 0.05
	healthcheckWait = 10 * time.Second
)

func init() {
	err := provider.Register(Name, runwayFactory)
	if err != nil {
		fmt.Printf("registering runway factory: %v", err)
	}
}

type runway struct {
	cfg    *config.Runway
	client *http.Client
}

func runwayFactory(cfg *config.Config) (provider.Provider, error) {
	if cfg.Runway == nil || cfg.Runway.APIKey == "" {
		return nil, provider.InvalidConfigError("incomplete Runway config")
	}
	return &runway{
		cfg:    cfg.Runway,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type GenerationRequest struct {
	Model       string `json:"model"`
	TextPrompt  string `json:"text_prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"ratio"`
	Seed        *int   `json:"seed,omitempty"`
}

type NewGenerationResponse struct {
	ID string `json:"id"`
}

type GenerationResponse struct {
	ID            string               `json:"id"`
	Status        string               `json:"status"`
	FailureReason string               `json:"failure_reason,omitempty"`
	Artifacts     []GenerationArtifact `json:"artifacts,omitempty"`
	CreatedAt     string               `json:"createdAt,omitempty"`
	UpdatedAt     string               `json:"updatedAt,omitempty"`
}

type GenerationArtifact struct {
	URL string `json:"url"`
}

func (p *runway) Generate(ctx context.Context, script *video.Script, cfg video.Config) (*provider.Job, error) {
	req := scene.BuildRequest(script, cfg)
	if len(req.Scenes) == 0 {
		return nil, fmt.Errorf("no valid scenes found in script %s", script.ID)
	}

	// One clip per generation; the first scene drives the prompt.
	primary := req.Scenes[0]
	genReq := GenerationRequest{
		Model:       p.cfg.Model,
		TextPrompt:  buildTextPrompt(primary, cfg),
		Duration:    clampDuration(primary.DurationEstimate, p.cfg.MaxDuration),
		AspectRatio: mapAspectRatio(cfg.AspectRatio),
	}

	jsonValue, err := json.Marshal(genReq)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling generation request %+v to json", genReq)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/generations", p.cfg.Endpoint), bytes.NewBuffer(jsonValue))
	if err != nil {
		return nil, errors.Wrap(err, "creating generation request")
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(err, "submitting new generation")
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("submitting new generation, status: %d response: %s",
			resp.StatusCode, string(body))
	}

	var newGen NewGenerationResponse
	err = json.Unmarshal(body, &newGen)
	if err != nil {
		return nil, errors.Wrap(err, "parsing runway response")
	}

	return &provider.Job{
		ID:       newGen.ID,
		Provider: Name,
		State:    provider.StateQueued,
		Metadata: map[string]interface{}{
			"model":       genReq.Model,
			"duration":    genReq.Duration,
			"ratio":       genReq.AspectRatio,
			"scene_count": len(req.Scenes),
			"script_id":   script.ID,
		},
	}, nil
}

func (p *runway) Status(ctx context.Context, jobID string) (*provider.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/generations/%s", p.cfg.Endpoint, jobID), nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating status request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "querying for generation %s", jobID)
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "reading response body")
	}

	if resp.StatusCode == http.StatusNotFound {
		return nil, provider.JobNotFoundError{ID: jobID}
	} else if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("querying for generation %s, status: %d response: %s",
			jobID, resp.StatusCode, string(body))
	}

	var genResp GenerationResponse
	err = json.Unmarshal(body, &genResp)
	if err != nil {
		return nil, errors.Wrap(err, "parsing runway response")
	}

	return jobFrom(jobID, &genResp), nil
}

func jobFrom(jobID string, genResp *GenerationResponse) *provider.Job {
	state := stateFrom(genResp.Status)

	job := &provider.Job{
		ID:       jobID,
		Provider: Name,
		State:    state,
		Progress: progressFrom(state),
		Metadata: map[string]interface{}{
			"provider_status": genResp.Status,
			"created_at":      genResp.CreatedAt,
			"updated_at":      genResp.UpdatedAt,
		},
	}

	if state == provider.StateProcessing {
		eta := time.Now().UTC().Add(2 * time.Minute)
		job.EstimatedCompletion = &eta
	}
	if state == provider.StateCompleted && len(genResp.Artifacts) > 0 {
		job.ResultURL = genResp.Artifacts[0].URL
	}
	if state == provider.StateFailed {
		job.Message = genResp.FailureReason
		if job.Message == "" {
			job.Message = "Generation failed"
		}
	}

	return job
}

func stateFrom(status string) provider.State {
	switch status {
	case "PENDING":
		return provider.StateQueued
	case "RUNNING":
		return provider.StateProcessing
	case "SUCCEEDED":
		return provider.StateCompleted
	case "FAILED":
		return provider.StateFailed
	case "CANCELLED":
		return provider.StateCancelled
	}
	return provider.StateUnknown
}

func progressFrom(state provider.State) float64 {
	switch state {
	case provider.StateQueued:
		return 10
	case provider.StateProcessing:
		return 50
	case provider.StateCompleted:
		return 100
	}
	return 0
}

func (p *runway) Download(ctx context.Context, jobID, outputPath string) (*video.Artifact, error) {
	job, err := p.Status(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.State != provider.StateCompleted {
		return nil, fmt.Errorf("job %s is not completed (status: %s)", jobID, job.State)
	}
	if job.ResultURL == "" {
		return nil, fmt.Errorf("no result URL for completed job %s", jobID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, job.ResultURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "creating download request")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "downloading generation %s", jobID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading generation %s, status: %d", jobID, resp.StatusCode)
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return nil, err
	}
	out, err := os.Create(outputPath)
	if err != nil {
		return nil, errors.Wrapf(err, "creating output file %s", outputPath)
	}
	defer out.Close()

	size, err := io.Copy(out, resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "writing video to %s", outputPath)
	}

	return &video.Artifact{
		FilePath: outputPath,
		FileSize: size,
		Format:   "mp4",
	}, nil
}

func (p *runway) Cancel(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/generations/%s", p.cfg.Endpoint, jobID), nil)
	if err != nil {
		return errors.Wrap(err, "creating cancel request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "cancelling generation %s", jobID)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return nil
	case http.StatusNotFound:
		return provider.JobNotFoundError{ID: jobID}
	}

	body, _ := ioutil.ReadAll(resp.Body)
	return fmt.Errorf("cancelling generation %s, status: %d response: %s",
		jobID, resp.StatusCode, string(body))
}

func (p *runway) Healthcheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), healthcheckWait)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/generations?limit=1", p.cfg.Endpoint), nil)
	if err != nil {
		return errors.Wrap(err, "creating healthcheck request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "runway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("runway returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *runway) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Formats:      []string{"mp4"},
		Resolutions:  []string{"1280x768", "768x1280", "1024x1024"},
		AspectRatios: []string{"16:9", "9:16", "1:1"},
		MaxDuration:  float64(p.cfg.MaxDuration),
		MinDuration:  minClipSeconds,
		Styles:       []string{"documentary"},
	}
}

func (p *runway) EstimateCost(script *video.Script, cfg video.Config) (provider.CostEstimate, error) {
	scenes := scene.Parse(script.Content)
	generations := len(scenes)
	if generations < 1 {
		generations = 1
	}

	perClip := scene.TotalDuration(scenes) / float64(generations)
	if max := float64(p.cfg.MaxDuration); perClip > max {
		perClip = max
	}

	return provider.CostEstimate{
		EstimatedCost: float64(generations) * costPerSecond * perClip,
		Currency:      "USD",
		Factors:       []string{"duration", "number_of_scenes", "model_gen3a"},
	}, nil
}

// buildTextPrompt flattens one scene into a Gen-3 text prompt.
func buildTextPrompt(s scene.Scene, cfg video.Config) string {
	var parts []string
	if s.Title != "" {
		parts = append(parts, "Scene: "+s.Title)
	}
	if s.VisualDescription != "" {
		desc := strings.NewReplacer("[", "", "]", "").Replace(s.VisualDescription)
		parts = append(parts, desc)
	}
	if s.Narration != "" {
		narration := s.Narration
		if len(narration) > 200 {
			narration = narration[:200]
		}
		parts = append(parts, "Context: "+narration)
	}
	if cfg.Style != "" {
		parts = append(parts, "Style: "+cfg.Style)
	}
	parts = append(parts, "High quality", "Professional cinematography", "Smooth camera movement")
	return strings.Join(parts, ". ")
}

func clampDuration(estimate float64, max int) int {
	d := int(estimate)
	if d < minClipSeconds {
		d = minClipSeconds
	}
	if d > max {
		d = max
	}
	return d
}

func mapAspectRatio(ratio string) string {
	switch ratio {
	case "16:9":
		return "1280:768"
	case "9:16":
		return "768:1280"
	case "1:1":
		return "1024:1024"
	}
	return "1280:768"
}

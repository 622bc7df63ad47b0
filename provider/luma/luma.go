// Package luma drives the Luma Dream Machine generation API.
package luma

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
	// Name identifies the Luma provider by name
	Name = "luma"

	costPerGeneration = 0.20
)

func init() {
	err := provider.Register(Name, lumaFactory)
	if err != nil {
		fmt.Printf("registering luma factory: %v", err)
	}
}

type luma struct {
	cfg    *config.Luma
	client *http.Client
}

func lumaFactory(cfg *config.Config) (provider.Provider, error) {
	if cfg.Luma == nil || cfg.Luma.APIKey == "" {
		return nil, provider.InvalidConfigError("incomplete Luma config")
	}
	return &luma{
		cfg:    cfg.Luma,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type GenerationRequest struct {
	Prompt      string    `json:"prompt"`
	AspectRatio string    `json:"aspect_ratio"`
	Loop        bool      `json:"loop"`
	Keyframes   Keyframes `json:"keyframes"`
}

type Keyframes struct {
	Frame0 Keyframe `json:"frame0"`
}

type Keyframe struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

type GenerationResponse struct {
	ID            string           `json:"id"`
	State         string           `json:"state"`
	FailureReason string           `json:"failure_reason,omitempty"`
	Assets        *GenerationAsset `json:"assets,omitempty"`
	CreatedAt     string           `json:"created_at,omitempty"`
}

type GenerationAsset struct {
	Video string `json:"video"`
}

func (p *luma) Generate(ctx context.Context, script *video.Script, cfg video.Config) (*provider.Job, error) {
	req := scene.BuildRequest(script, cfg)
	if len(req.Scenes) == 0 {
		return nil, fmt.Errorf("no valid scenes found in script %s", script.ID)
	}

	primary := req.Scenes[0]
	genReq := GenerationRequest{
		Prompt:      buildTextPrompt(primary, cfg),
		AspectRatio: cfg.AspectRatio,
		Loop:        false,
		Keyframes: Keyframes{Frame0: Keyframe{
			Type:   "generation",
			Prompt: strings.NewReplacer("[", "", "]", "").Replace(primary.VisualDescription),
		}},
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

	var newGen GenerationResponse
	err = json.Unmarshal(body, &newGen)
	if err != nil {
		return nil, errors.Wrap(err, "parsing luma response")
	}

	return &provider.Job{
		ID:       newGen.ID,
		Provider: Name,
		State:    provider.StateQueued,
		Metadata: map[string]interface{}{
			"aspect_ratio": genReq.AspectRatio,
			"scene_count":  len(req.Scenes),
			"script_id":    script.ID,
		},
	}, nil
}

func (p *luma) Status(ctx context.Context, jobID string) (*provider.Job, error) {
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
		return nil, errors.Wrap(err, "parsing luma response")
	}

	state := stateFrom(genResp.State)
	job := &provider.Job{
		ID:       jobID,
		Provider: Name,
		State:    state,
		Progress: progressFrom(state),
		Metadata: map[string]interface{}{
			"provider_state": genResp.State,
			"created_at":     genResp.CreatedAt,
		},
	}
	if state == provider.StateProcessing {
		eta := time.Now().UTC().Add(3 * time.Minute)
		job.EstimatedCompletion = &eta
	}
	if state == provider.StateCompleted && genResp.Assets != nil {
		job.ResultURL = genResp.Assets.Video
	}
	if state == provider.StateFailed {
		job.Message = genResp.FailureReason
		if job.Message == "" {
			job.Message = "Generation failed"
		}
	}

	return job, nil
}

func stateFrom(state string) provider.State {
	switch state {
	case "queued":
		return provider.StateQueued
	case "dreaming", "processing":
		return provider.StateProcessing
	case "completed":
		return provider.StateCompleted
	case "failed":
		return provider.StateFailed
	case "cancelled":
		return provider.StateCancelled
	}
	return provider.StateUnknown
}

func progressFrom(state provider.State) float64 {
	switch state {
	case provider.StateQueued:
		return 5
	case provider.StateProcessing:
		return 50
	case provider.StateCompleted:
		return 100
	}
	return 0
}

func (p *luma) Download(ctx context.Context, jobID, outputPath string) (*video.Artifact, error) {
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
		Duration: float64(p.cfg.MaxDuration),
		Format:   "mp4",
	}, nil
}

func (p *luma) Cancel(ctx context.Context, jobID string) error {
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

func (p *luma) Healthcheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/generations?limit=1", p.cfg.Endpoint), nil)
	if err != nil {
		return errors.Wrap(err, "creating healthcheck request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "luma unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("luma returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *luma) Capabilities() provider.Capabilities {
	max := float64(p.cfg.MaxDuration)
	return provider.Capabilities{
		Formats:      []string{"mp4"},
		Resolutions:  []string{"1360x768", "768x1360", "1024x1024"},
		AspectRatios: []string{"16:9", "9:16", "1:1"},
		MaxDuration:  max,
		// Dream Machine generates fixed-length clips.
		MinDuration: max,
		Styles:      []string{"documentary"},
	}
}

func (p *luma) EstimateCost(script *video.Script, cfg video.Config) (provider.CostEstimate, error) {
	scenes := scene.Parse(script.Content)
	generations := len(scenes)
	if generations < 1 {
		generations = 1
	}

	return provider.CostEstimate{
		EstimatedCost: float64(generations) * costPerGeneration,
		Currency:      "USD",
		Factors:       []string{"number_of_scenes", "high_quality"},
	}, nil
}

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
	parts = append(parts, "Cinematic quality", "Smooth motion", "High detail")
	return strings.Join(parts, ". ")
}

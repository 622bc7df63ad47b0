// Package pika drives the Pika Labs generation API. Pika specializes
// in short clips, so it only ever handles scripts with brief scenes.
package pika

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
	// Name identifies the Pika provider by name
	Name = "pika"

	minClipSeconds    = 1
	costPerGeneration = 0.10
)

func init() {
	err := provider.Register(Name, pikaFactory)
	if err != nil {
		fmt.Printf("registering pika factory: %v", err)
	}
}

type pika struct {
	cfg    *config.Pika
	client *http.Client
}

func pikaFactory(cfg *config.Config) (provider.Provider, error) {
	if cfg.Pika == nil || cfg.Pika.APIKey == "" {
		return nil, provider.InvalidConfigError("incomplete Pika config")
	}
	return &pika{
		cfg:    cfg.Pika,
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

type GenerationRequest struct {
	Prompt      string `json:"prompt"`
	Duration    int    `json:"duration"`
	AspectRatio string `json:"aspect_ratio"`
	Style       string `json:"style,omitempty"`
}

type GenerationResponse struct {
	ID        string  `json:"id"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	VideoURL  string  `json:"video_url,omitempty"`
	Error     string  `json:"error,omitempty"`
	CreatedAt string  `json:"created_at,omitempty"`
}

func (p *pika) Generate(ctx context.Context, script *video.Script, cfg video.Config) (*provider.Job, error) {
	req := scene.BuildRequest(script, cfg)
	if len(req.Scenes) == 0 {
		return nil, fmt.Errorf("no valid scenes found in script %s", script.ID)
	}

	primary := req.Scenes[0]
	genReq := GenerationRequest{
		Prompt:      buildTextPrompt(primary, cfg),
		Duration:    clampDuration(primary.DurationEstimate, p.cfg.MaxDuration),
		AspectRatio: cfg.AspectRatio,
		Style:       cfg.Style,
	}

	jsonValue, err := json.Marshal(genReq)
	if err != nil {
		return nil, errors.Wrapf(err, "marshaling generation request %+v to json", genReq)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/generate", p.cfg.Endpoint), bytes.NewBuffer(jsonValue))
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
		return nil, errors.Wrap(err, "parsing pika response")
	}

	return &provider.Job{
		ID:       newGen.ID,
		Provider: Name,
		State:    provider.StateQueued,
		Metadata: map[string]interface{}{
			"duration":     genReq.Duration,
			"aspect_ratio": genReq.AspectRatio,
			"style":        genReq.Style,
			"scene_count":  len(req.Scenes),
			"script_id":    script.ID,
		},
	}, nil
}

func (p *pika) Status(ctx context.Context, jobID string) (*provider.Job, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s", p.cfg.Endpoint, jobID), nil)
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
		return nil, errors.Wrap(err, "parsing pika response")
	}

	state := stateFrom(genResp.Status)
	job := &provider.Job{
		ID:       jobID,
		Provider: Name,
		State:    state,
		Progress: genResp.Progress,
		Metadata: map[string]interface{}{
			"provider_status": genResp.Status,
			"created_at":      genResp.CreatedAt,
		},
	}
	if state == provider.StateProcessing {
		eta := time.Now().UTC().Add(time.Minute)
		job.EstimatedCompletion = &eta
	}
	if state == provider.StateCompleted {
		job.ResultURL = genResp.VideoURL
	}
	if state == provider.StateFailed {
		job.Message = genResp.Error
		if job.Message == "" {
			job.Message = "Generation failed"
		}
	}

	return job, nil
}

func stateFrom(status string) provider.State {
	switch status {
	case "queued", "pending":
		return provider.StateQueued
	case "generating", "processing":
		return provider.StateProcessing
	case "finished", "completed":
		return provider.StateCompleted
	case "failed":
		return provider.StateFailed
	case "cancelled":
		return provider.StateCancelled
	}
	return provider.StateUnknown
}

func (p *pika) Download(ctx context.Context, jobID, outputPath string) (*video.Artifact, error) {
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

func (p *pika) Cancel(ctx context.Context, jobID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		fmt.Sprintf("%s/jobs/%s", p.cfg.Endpoint, jobID), nil)
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

func (p *pika) Healthcheck() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs?limit=1", p.cfg.Endpoint), nil)
	if err != nil {
		return errors.Wrap(err, "creating healthcheck request")
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "pika unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pika returned status %d", resp.StatusCode)
	}
	return nil
}

func (p *pika) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Formats:      []string{"mp4"},
		Resolutions:  []string{"1024x576", "576x1024", "768x768"},
		AspectRatios: []string{"16:9", "9:16", "1:1"},
		MaxDuration:  float64(p.cfg.MaxDuration),
		MinDuration:  minClipSeconds,
	}
}

func (p *pika) EstimateCost(script *video.Script, cfg video.Config) (provider.CostEstimate, error) {
	scenes := scene.Parse(script.Content)
	generations := len(scenes)
	if generations < 1 {
		generations = 1
	}

	return provider.CostEstimate{
		EstimatedCost: float64(generations) * costPerGeneration,
		Currency:      "USD",
		Factors:       []string{"number_of_scenes"},
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
		if len(narration) > 150 {
			narration = narration[:150]
		}
		parts = append(parts, "About: "+narration)
	}
	if cfg.Style != "" {
		parts = append(parts, "Style: "+cfg.Style)
	}
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

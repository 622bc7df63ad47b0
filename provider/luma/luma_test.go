package luma

import (
	"context"
	"encoding/json"
	"errors"
	"io/ioutil"
	"net/http"
	"strings"
	"testing"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/video"
)

const sampleScript = `# Glacier Calving (5s)
[A massive ice wall collapses into the sea in slow motion]
Ice that formed over centuries returns to the ocean in seconds.`

func testScript(content string) *video.Script {
	return &video.Script{ID: "script-1", Title: "Glaciers", Content: content}
}

func TestLumaFactory(t *testing.T) {
	_, err := lumaFactory(&config.Config{})
	var invalidErr provider.InvalidConfigError
	if !errors.As(err, &invalidErr) {
		t.Errorf("lumaFactory() error = %v, want InvalidConfigError", err)
	}

	_, err = lumaFactory(&config.Config{Luma: &config.Luma{
		APIKey: "key", Endpoint: "http://luma.test", MaxDuration: 5,
	}})
	if err != nil {
		t.Errorf("lumaFactory() unexpected error: %v", err)
	}
}

func TestLumaGenerate(t *testing.T) {
	mockTransport := &mockRoundTripper{returnsResp: http.Response{
		StatusCode: http.StatusCreated,
		Body:       ioutil.NopCloser(strings.NewReader(`{"id": "luma-7", "state": "queued"}`)),
	}}
	p := &luma{
		cfg:    &config.Luma{APIKey: "some-key", Endpoint: "http://luma.test/v1", MaxDuration: 5},
		client: &http.Client{Transport: mockTransport},
	}

	job, err := p.Generate(context.Background(), testScript(sampleScript), video.DefaultConfig())
	if err != nil {
		t.Fatalf("Generate() unexpected error: %v", err)
	}

	if g, e := job.ID, "luma-7"; g != e {
		t.Errorf("Generate() job id = %q, want %q", g, e)
	}

	req := mockTransport.calledWithReq
	if g, e := req.URL.String(), "http://luma.test/v1/generations"; g != e {
		t.Errorf("Generate() wrong url requested, got %q, expected %q", g, e)
	}

	var sent GenerationRequest
	body, _ := ioutil.ReadAll(req.Body)
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("Generate() unparseable request body: %v", err)
	}
	if sent.Loop {
		t.Error("Generate() loop should be false")
	}
	if g, e := sent.Keyframes.Frame0.Type, "generation"; g != e {
		t.Errorf("Generate() keyframe type = %q, want %q", g, e)
	}
	if strings.ContainsAny(sent.Keyframes.Frame0.Prompt, "[]") {
		t.Errorf("Generate() keyframe prompt should not carry brackets: %q", sent.Keyframes.Frame0.Prompt)
	}
	if !strings.Contains(sent.Prompt, "Cinematic quality") {
		t.Errorf("Generate() prompt missing quality descriptors: %q", sent.Prompt)
	}
}

func TestLumaStatus(t *testing.T) {
	tests := []struct {
		name          string
		body          string
		statusCode    int
		wantState     provider.State
		wantResultURL string
		wantNotFound  bool
	}{
		{
			name:       "dreaming maps to processing",
			body:       `{"id": "l1", "state": "dreaming"}`,
			statusCode: http.StatusOK,
			wantState:  provider.StateProcessing,
		},
		{
			name:          "completed carries the video asset",
			body:          `{"id": "l1", "state": "completed", "assets": {"video": "http://cdn.test/l1.mp4"}}`,
			statusCode:    http.StatusOK,
			wantState:     provider.StateCompleted,
			wantResultURL: "http://cdn.test/l1.mp4",
		},
		{
			name:       "failed carries the failure reason",
			body:       `{"id": "l1", "state": "failed", "failure_reason": "nsfw"}`,
			statusCode: http.StatusOK,
			wantState:  provider.StateFailed,
		},
		{
			name:         "unknown generation",
			body:         `{}`,
			statusCode:   http.StatusNotFound,
			wantNotFound: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &luma{
				cfg: &config.Luma{APIKey: "k", Endpoint: "http://luma.test", MaxDuration: 5},
				client: &http.Client{Transport: &mockRoundTripper{returnsResp: http.Response{
					StatusCode: tt.statusCode,
					Body:       ioutil.NopCloser(strings.NewReader(tt.body)),
				}}},
			}

			job, err := p.Status(context.Background(), "l1")
			if tt.wantNotFound {
				var notFound provider.JobNotFoundError
				if !errors.As(err, &notFound) {
					t.Fatalf("Status() error = %v, want JobNotFoundError", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Status() unexpected error: %v", err)
			}
			if g, e := job.State, tt.wantState; g != e {
				t.Errorf("Status() state = %q, want %q", g, e)
			}
			if g, e := job.ResultURL, tt.wantResultURL; g != e {
				t.Errorf("Status() result url = %q, want %q", g, e)
			}
		})
	}
}

func TestLumaEstimateCost(t *testing.T) {
	p := &luma{cfg: &config.Luma{APIKey: "k", MaxDuration: 5}}

	estimate, err := p.EstimateCost(testScript(sampleScript), video.DefaultConfig())
	if err != nil {
		t.Fatalf("EstimateCost() unexpected error: %v", err)
	}

	// One scene at $0.20 per generation.
	if g, e := estimate.EstimatedCost, 0.20; g != e {
		t.Errorf("EstimateCost() cost = %v, want %v", g, e)
	}
}

func TestLumaCapabilitiesFixedDuration(t *testing.T) {
	p := &luma{cfg: &config.Luma{APIKey: "k", MaxDuration: 5}}

	caps := p.Capabilities()
	if !caps.SupportsDuration(5) {
		t.Error("Capabilities() should accept a 5s script")
	}
	if caps.SupportsDuration(6) {
		t.Error("Capabilities() should reject a 6s script")
	}
}

type mockRoundTripper struct {
	calledWithReq *http.Request
	returnsResp   http.Response
	returnsErr    error
}

func (rt *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	rt.calledWithReq = req

	if rt.returnsResp.Body == nil {
		rt.returnsResp.Body = ioutil.NopCloser(strings.NewReader(""))
	}

	return &rt.returnsResp, rt.returnsErr
}

package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/db"
	"github.com/paperclip/video-orchestrator/job"
	"github.com/paperclip/video-orchestrator/orchestrator"
	"github.com/paperclip/video-orchestrator/pipeline"
	"github.com/paperclip/video-orchestrator/service/exceptions"
	"github.com/paperclip/video-orchestrator/video"

	_ "github.com/paperclip/video-orchestrator/provider/template"
)

const sampleContent = `# Opening (4s)
[Slow pan over a city skyline]
Every system starts somewhere.

---

# The Point (6s)
[Whiteboard filling with boxes and arrows]
[CALLOUT: Keep it simple]
One box at a time, the design takes shape.`

func testServer(t *testing.T) (*Server, func()) {
	t.Helper()

	dir, err := ioutil.TempDir("", "service-test")
	if err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Pipeline: config.Pipeline{
			MaxConcurrentGenerations: 3,
			PollIntervalMS:           1,
			MaxCostUSD:               5,
			OutputDir:                filepath.Join(dir, "videos"),
		},
		Template: &config.Template{
			TemplatesDir: filepath.Join(dir, "templates"),
			OutputDir:    filepath.Join(dir, "compositions"),
		},
	}

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	repo := db.NewMemoryRepository()
	ledger := job.NewLedger(repo, logger)
	orch := orchestrator.New(cfg, repo, logger)

	s := &Server{
		Config:       cfg,
		Coordinator:  pipeline.NewCoordinator(cfg, ledger, orch, logger),
		Orchestrator: orch,
		Ledger:       ledger,
		Videos:       repo,
		Logger:       logger,
		ErrReporter:  &exceptions.NoopReporter{},
	}
	return s, func() { os.RemoveAll(dir) }
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, []byte) {
	t.Helper()

	var rd *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	} else {
		rd = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, rd)
	w := httptest.NewRecorder()
	s.ServeHTTP(w, r)
	return w, w.Body.Bytes()
}

func decode(t *testing.T, data []byte, into interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, into); err != nil {
		t.Fatalf("bad response %q: %v", data, err)
	}
}

func TestPipelineRoutes(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	w, body := do(t, s, "POST", "/pipelines/proj-1", nil)
	if w.Code != 200 {
		t.Fatalf("POST /pipelines = %d, body %s", w.Code, body)
	}
	var jobs []job.Job
	decode(t, body, &jobs)
	if len(jobs) != 4 {
		t.Fatalf("created %d jobs, want 4", len(jobs))
	}
	for i, stage := range job.Stages {
		if jobs[i].Stage != stage {
			t.Errorf("job %d stage = %s, want %s", i, jobs[i].Stage, stage)
		}
	}

	w, body = do(t, s, "GET", "/pipelines/proj-1", nil)
	if w.Code != 200 {
		t.Fatalf("GET /pipelines = %d", w.Code)
	}
	var status pipeline.Status
	decode(t, body, &status)
	if status.TotalJobs != 4 {
		t.Errorf("total jobs = %d, want 4", status.TotalJobs)
	}
	if status.NextStep == nil || *status.NextStep != "parsing_documents" {
		t.Errorf("next step = %v, want parsing_documents", status.NextStep)
	}

	if w, _ := do(t, s, "DELETE", "/pipelines/proj-1", nil); w.Code != 405 {
		t.Errorf("DELETE /pipelines = %d, want 405", w.Code)
	}
}

func TestJobRoutes(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	_, body := do(t, s, "POST", "/pipelines/proj-1", nil)
	var jobs []job.Job
	decode(t, body, &jobs)

	// Highest priority queued job is the parse stage.
	w, body := do(t, s, "GET", "/jobs/next", nil)
	if w.Code != 200 {
		t.Fatalf("GET /jobs/next = %d", w.Code)
	}
	var next job.Job
	decode(t, body, &next)
	if next.Stage != job.StageParseDocument {
		t.Errorf("next stage = %s, want %s", next.Stage, job.StageParseDocument)
	}

	// A later stage cannot start while its predecessor is queued.
	if w, _ := do(t, s, "POST", "/jobs/"+jobs[1].ID+"/start", nil); w.Code != 409 {
		t.Errorf("premature start = %d, want 409", w.Code)
	}

	if w, _ := do(t, s, "POST", "/jobs/"+next.ID+"/start", nil); w.Code != 200 {
		t.Errorf("start = %d, want 200", w.Code)
	}
	w, body = do(t, s, "PUT", "/jobs/"+next.ID+"/progress", map[string]int{"progress": 40})
	if w.Code != 200 {
		t.Fatalf("progress = %d", w.Code)
	}
	var updated job.Job
	decode(t, body, &updated)
	if updated.Progress != 40 {
		t.Errorf("progress = %d, want 40", updated.Progress)
	}

	w, body = do(t, s, "POST", "/jobs/"+next.ID+"/cancel", nil)
	if w.Code != 200 {
		t.Fatalf("cancel = %d", w.Code)
	}
	var cancelled job.Job
	decode(t, body, &cancelled)
	if cancelled.Status != job.StatusCancelled {
		t.Errorf("status = %s, want %s", cancelled.Status, job.StatusCancelled)
	}

	// Cancelling a cancelled job is an invalid transition.
	if w, _ := do(t, s, "POST", "/jobs/"+next.ID+"/cancel", nil); w.Code != 409 {
		t.Errorf("double cancel = %d, want 409", w.Code)
	}

	if w, _ := do(t, s, "GET", "/jobs/no-such-job", nil); w.Code != 404 {
		t.Errorf("missing job = %d, want 404", w.Code)
	}
}

func TestVideoRoutes(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	payload := GenerateVideoPayload{
		Script: video.Script{
			ID:        "script-1",
			ProjectID: "proj-1",
			Title:     "Design Basics",
			Content:   sampleContent,
		},
		Provider: "template",
	}
	w, body := do(t, s, "POST", "/videos", payload)
	if w.Code != 200 {
		t.Fatalf("POST /videos = %d, body %s", w.Code, body)
	}
	var handle orchestrator.Handle
	decode(t, body, &handle)
	if handle.Provider != "template" {
		t.Errorf("provider = %s, want template", handle.Provider)
	}
	if handle.VideoID == "" {
		t.Fatal("handle has no video id")
	}

	// The template back-end completes on the third status check.
	var state map[string]interface{}
	for i := 0; i < 3; i++ {
		w, body = do(t, s, "GET", "/videos/"+handle.VideoID+"/status", nil)
		if w.Code != 200 {
			t.Fatalf("status check %d = %d, body %s", i, w.Code, body)
		}
		state = map[string]interface{}{}
		decode(t, body, &state)
	}
	if state["status"] != "completed" {
		t.Fatalf("final status = %v, want completed", state["status"])
	}

	w, body = do(t, s, "GET", "/videos/"+handle.VideoID, nil)
	if w.Code != 200 {
		t.Fatalf("GET /videos/{id} = %d", w.Code)
	}
	var v video.Video
	decode(t, body, &v)
	if !v.Ready() {
		t.Errorf("video %s not ready after completion", v.ID)
	}

	if w, _ := do(t, s, "GET", "/videos/no-such-video/status", nil); w.Code != 404 {
		t.Errorf("missing handle = %d, want 404", w.Code)
	}
	if w, _ := do(t, s, "GET", "/videos/no-such-video", nil); w.Code != 404 {
		t.Errorf("missing video = %d, want 404", w.Code)
	}
}

func TestVideoCancelRoute(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	payload := GenerateVideoPayload{
		Script: video.Script{ID: "script-1", ProjectID: "proj-1", Title: "T", Content: sampleContent},
	}
	_, body := do(t, s, "POST", "/videos", payload)
	var handle orchestrator.Handle
	decode(t, body, &handle)

	w, body := do(t, s, "DELETE", "/videos/"+handle.VideoID, nil)
	if w.Code != 200 {
		t.Fatalf("DELETE /videos = %d, body %s", w.Code, body)
	}
	var resp map[string]bool
	decode(t, body, &resp)
	if !resp["cancelled"] {
		t.Error("cancel reported false")
	}

	w, body = do(t, s, "GET", "/videos/"+handle.VideoID, nil)
	if w.Code != 200 {
		t.Fatalf("GET after cancel = %d", w.Code)
	}
	var v video.Video
	decode(t, body, &v)
	if v.Status != video.StatusFailed {
		t.Errorf("video status = %s, want %s", v.Status, video.StatusFailed)
	}
}

func TestBatchRoute(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	payload := BatchPayload{Provider: "template"}
	for i := 0; i < 3; i++ {
		payload.Scripts = append(payload.Scripts, video.Script{
			ID:        fmt.Sprintf("script-%d", i),
			ProjectID: "proj-1",
			Title:     fmt.Sprintf("Part %d", i),
			Content:   sampleContent,
		})
	}
	w, body := do(t, s, "POST", "/videos/batch", payload)
	if w.Code != 200 {
		t.Fatalf("POST /videos/batch = %d, body %s", w.Code, body)
	}
	var results []BatchResultPayload
	decode(t, body, &results)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.Error != "" {
			t.Errorf("script %s failed: %s", r.ScriptID, r.Error)
		}
		if r.Handle == nil {
			t.Errorf("script %s has no handle", r.ScriptID)
		}
	}

	w, body = do(t, s, "GET", "/videos/active", nil)
	if w.Code != 200 {
		t.Fatalf("GET /videos/active = %d", w.Code)
	}
	var active []orchestrator.Handle
	decode(t, body, &active)
	if len(active) != 3 {
		t.Errorf("active = %d, want 3", len(active))
	}
}

func TestProviderAndCostRoutes(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	w, body := do(t, s, "GET", "/providers", nil)
	if w.Code != 200 {
		t.Fatalf("GET /providers = %d", w.Code)
	}
	var described map[string]json.RawMessage
	decode(t, body, &described)
	if _, ok := described["template"]; !ok {
		t.Errorf("providers = %v, want template entry", described)
	}

	payload := BatchPayload{
		Scripts: []video.Script{{ID: "script-1", Title: "T", Content: sampleContent}},
	}
	w, body = do(t, s, "POST", "/costs", payload)
	if w.Code != 200 {
		t.Fatalf("POST /costs = %d, body %s", w.Code, body)
	}
	var summaries map[string]orchestrator.CostSummary
	decode(t, body, &summaries)
	summary, ok := summaries["template"]
	if !ok {
		t.Fatalf("cost summaries = %v, want template entry", summaries)
	}
	if summary.VideoCount != 1 {
		t.Errorf("video count = %d, want 1", summary.VideoCount)
	}
}

func TestErrorResponses(t *testing.T) {
	s, cleanup := testServer(t)
	defer cleanup()

	w, body := do(t, s, "GET", "/nope", nil)
	if w.Code != 400 {
		t.Fatalf("bad path = %d, want 400", w.Code)
	}
	var perr PlatformError
	decode(t, body, &perr)
	if perr.Ok || perr.Status != 400 || perr.Rid == 0 {
		t.Errorf("platform error = %+v", perr)
	}

	if w, _ := do(t, s, "PATCH", "/providers", nil); w.Code != 405 {
		t.Errorf("bad method = %d, want 405", w.Code)
	}
	if w, _ := do(t, s, "POST", "/videos", "not json"); w.Code != 400 {
		t.Errorf("bad payload = %d, want 400", w.Code)
	}
}

func TestChop(t *testing.T) {
	for _, tt := range []struct {
		path, file, next string
	}{
		{"/pipelines/proj-1", "pipelines", "/proj-1"},
		{"/proj-1", "proj-1", "/"},
		{"/", "", "/"},
		{"//jobs///next", "jobs", "/next"},
	} {
		file, next := chop(tt.path)
		if file != tt.file || next != tt.next {
			t.Errorf("chop(%q) = %q, %q, want %q, %q", tt.path, file, next, tt.file, tt.next)
		}
	}
}

// Package service exposes the pipeline and orchestrator over HTTP.
package service

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/paperclip/video-orchestrator/config"
	"github.com/paperclip/video-orchestrator/db"
	"github.com/paperclip/video-orchestrator/job"
	"github.com/paperclip/video-orchestrator/orchestrator"
	"github.com/paperclip/video-orchestrator/pipeline"
	"github.com/paperclip/video-orchestrator/provider"
	"github.com/paperclip/video-orchestrator/service/exceptions"
	"github.com/paperclip/video-orchestrator/video"
)

type Server struct {
	Config       *config.Config
	Coordinator  *pipeline.Coordinator
	Orchestrator *orchestrator.Orchestrator
	Ledger       *job.Ledger
	Videos       video.Repository
	Logger       *logrus.Logger
	ErrReporter  exceptions.Reporter

	request
}

func (s Server) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	s.request = newRequest(rw, r, s.Logger)
	s.serve()
	defer s.request.finalize()
}

func (s *Server) serve() bool {
	switch s.chop() {
	case "pipelines":
		return s.servePipelines(s.chop())
	case "jobs":
		return s.serveJobs(s.chop())
	case "videos":
		return s.serveVideos(s.chop())
	case "providers":
		if s.method() != "GET" {
			return s.writeerror("method not allowed", 405, nil)
		}
		return s.writebody(s.Orchestrator.ProviderStatus())
	case "costs":
		return s.serveCosts()
	default:
		return s.writeerror("bad request path", 400, nil)
	}
}

func (s *Server) servePipelines(projectID string) bool {
	if projectID == "" {
		return s.writeerror("missing project id", 400, nil)
	}
	switch s.method() {
	case "POST":
		jobs, err := s.Coordinator.CreateJobs(projectID)
		if err != nil {
			return s.fail("create pipeline failed", err)
		}
		return s.writebody(jobs)
	case "GET":
		status, err := s.Coordinator.Status(projectID)
		if err != nil {
			return s.fail("get pipeline status failed", err)
		}
		return s.writebody(status)
	}
	return s.writeerror("method not allowed", 405, nil)
}

func (s *Server) serveJobs(id string) bool {
	if id == "next" {
		if s.method() != "GET" {
			return s.writeerror("method not allowed", 405, nil)
		}
		next, err := s.Ledger.NextQueued()
		if err != nil {
			return s.fail("get next job failed", err)
		}
		if next == nil {
			return s.writeerror("no queued jobs", 404, nil)
		}
		return s.writebody(next)
	}
	if id == "" {
		return s.writeerror("missing job id", 400, nil)
	}

	switch action := s.chop(); action {
	case "":
		if s.method() != "GET" {
			return s.writeerror("method not allowed", 405, nil)
		}
		j, err := s.Ledger.Get(id)
		if err != nil {
			return s.fail("get job failed", err)
		}
		return s.writebody(j)

	case "start":
		if s.method() != "POST" {
			return s.writeerror("method not allowed", 405, nil)
		}
		j, err := s.Coordinator.StartJob(id)
		if err != nil {
			return s.fail("start job failed", err)
		}
		return s.writebody(j)

	case "cancel":
		if s.method() != "POST" {
			return s.writeerror("method not allowed", 405, nil)
		}
		j, err := s.Ledger.Cancel(id)
		if err != nil {
			return s.fail("cancel job failed", err)
		}
		return s.writebody(j)

	case "progress":
		if s.method() != "PUT" {
			return s.writeerror("method not allowed", 405, nil)
		}
		var payload struct {
			Progress int `json:"progress"`
		}
		if !s.request.UnmarshalJSON(&payload) {
			return s.writeerror("bad progress payload", 400, s.err)
		}
		j, err := s.Ledger.UpdateProgress(id, payload.Progress)
		if err != nil {
			return s.fail("update progress failed", err)
		}
		return s.writebody(j)
	}
	return s.writeerror("bad request path", 400, nil)
}

// GenerateVideoPayload is the request body for starting a generation.
type GenerateVideoPayload struct {
	Script   video.Script  `json:"script"`
	Provider string        `json:"provider,omitempty"`
	Config   *video.Config `json:"config,omitempty"`
}

// BatchPayload is the request body for starting many generations.
type BatchPayload struct {
	Scripts  []video.Script `json:"scripts"`
	Provider string         `json:"provider,omitempty"`
	Config   *video.Config  `json:"config,omitempty"`
}

// BatchResultPayload reports the outcome for one script of a batch.
type BatchResultPayload struct {
	ScriptID string               `json:"script_id"`
	Handle   *orchestrator.Handle `json:"handle,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func (s *Server) serveVideos(id string) bool {
	switch id {
	case "":
		if s.method() != "POST" {
			return s.writeerror("method not allowed", 405, nil)
		}
		var payload GenerateVideoPayload
		if !s.request.UnmarshalJSON(&payload) {
			return s.writeerror("bad generate payload", 400, s.err)
		}
		handle, err := s.Orchestrator.Generate(s.ctx, &payload.Script, generationConfig(payload.Config), payload.Provider)
		if err != nil {
			return s.fail("generate video failed", err)
		}
		return s.writebody(handle)

	case "batch":
		if s.method() != "POST" {
			return s.writeerror("method not allowed", 405, nil)
		}
		var payload BatchPayload
		if !s.request.UnmarshalJSON(&payload) {
			return s.writeerror("bad batch payload", 400, s.err)
		}
		scripts := make([]*video.Script, len(payload.Scripts))
		for i := range payload.Scripts {
			scripts[i] = &payload.Scripts[i]
		}
		results := s.Orchestrator.GenerateBatch(s.ctx, scripts, generationConfig(payload.Config), payload.Provider)
		out := make([]BatchResultPayload, len(results))
		for i, r := range results {
			out[i] = BatchResultPayload{ScriptID: r.ScriptID, Handle: r.Handle}
			if r.Err != nil {
				out[i].Error = r.Err.Error()
			}
		}
		return s.writebody(out)

	case "active":
		if s.method() != "GET" {
			return s.writeerror("method not allowed", 405, nil)
		}
		return s.writebody(s.Orchestrator.ActiveJobs())
	}

	switch action := s.chop(); action {
	case "":
		switch s.method() {
		case "GET":
			v, err := s.Videos.GetVideo(id)
			if err != nil {
				return s.fail("get video failed", err)
			}
			return s.writebody(v)
		case "DELETE":
			cancelled, err := s.Orchestrator.Cancel(s.ctx, orchestrator.Handle{VideoID: id})
			if err != nil {
				return s.fail("cancel video failed", err)
			}
			return s.writebody(map[string]bool{"cancelled": cancelled})
		}
		return s.writeerror("method not allowed", 405, nil)

	case "status":
		if s.method() != "GET" {
			return s.writeerror("method not allowed", 405, nil)
		}
		state, err := s.Orchestrator.Poll(s.ctx, orchestrator.Handle{VideoID: id})
		if err != nil {
			return s.fail("get video status failed", err)
		}
		return s.writebody(state)
	}
	return s.writeerror("bad request path", 400, nil)
}

func (s *Server) serveCosts() bool {
	if s.method() != "POST" {
		return s.writeerror("method not allowed", 405, nil)
	}
	var payload BatchPayload
	if !s.request.UnmarshalJSON(&payload) {
		return s.writeerror("bad cost payload", 400, s.err)
	}
	scripts := make([]*video.Script, len(payload.Scripts))
	for i := range payload.Scripts {
		scripts[i] = &payload.Scripts[i]
	}
	summaries, err := s.Orchestrator.EstimateCost(scripts, generationConfig(payload.Config), payload.Provider)
	if err != nil {
		return s.fail("estimate cost failed", err)
	}
	return s.writebody(summaries)
}

func generationConfig(cfg *video.Config) video.Config {
	if cfg == nil {
		return video.DefaultConfig()
	}
	return *cfg
}

// fail maps domain errors onto http responses. Remote provider
// failures are additionally reported.
func (s *Server) fail(msg string, err error) bool {
	var invalid job.InvalidTransitionError
	var precondition pipeline.StagePreconditionError
	var incompatible provider.IncompatibleScriptError
	var callErr *orchestrator.ProviderCallError
	var downloadErr *orchestrator.ArtifactDownloadError

	code := 500
	switch {
	case errors.Is(err, db.ErrJobNotFound),
		errors.Is(err, db.ErrVideoNotFound),
		errors.Is(err, orchestrator.ErrUnknownHandle),
		errors.Is(err, provider.ErrNotFound):
		code = 404
	case errors.As(err, &invalid), errors.As(err, &precondition):
		code = 409
	case errors.As(err, &incompatible):
		code = 422
	case errors.Is(err, orchestrator.ErrNoProviderAvailable):
		code = 503
	case errors.As(err, &callErr), errors.As(err, &downloadErr):
		code = 502
		if s.ErrReporter != nil {
			s.ErrReporter.ReportException(err)
		}
	}
	return s.writeerror(msg, code, err)
}

func (s *Server) method() string {
	return s.request.r.Method
}

// PlatformError implements a well-known error response for http clients
// encountering an error when using the service.
type PlatformError struct {
	Ok     bool   `json:"ok"`
	Status int    `json:"status"`
	Rid    uint64 `json:"rid"`
	Msg    string `json:"msg,omitempty"`
}

// String returns the json-formatted platform response
func (p PlatformError) String() string {
	data, _ := json.Marshal(p)
	return string(data)
}

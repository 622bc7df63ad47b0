package video

import (
	"time"

	"github.com/gofrs/uuid"
)

// Status is the processing status of a video record.
type Status string

const (
	StatusPending    = Status("pending")
	StatusProcessing = Status("processing")
	StatusCompleted  = Status("completed")
	StatusFailed     = Status("failed")
)

// Template identifies the script template a video was generated from.
type Template string

const (
	TemplateEducational  = Template("educational")
	TemplateDocumentary  = Template("documentary")
	TemplatePresentation = Template("presentation")
	TemplateTutorial     = Template("tutorial")
	TemplateSummary      = Template("summary")
)

// Script is a generated video script with the metadata the render
// pipeline needs. Script text is produced upstream; this package only
// carries the result.
type Script struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Title     string `json:"title"`
	Content   string `json:"content"`

	Template Template `json:"template,omitempty"`

	// EstimatedDuration is the expected video length in seconds.
	EstimatedDuration float64 `json:"estimated_duration,omitempty"`
	SceneCount        int     `json:"scene_count,omitempty"`
}

// Config holds generation parameters shared by all providers.
type Config struct {
	Quality          string  `json:"quality,omitempty"`
	AspectRatio      string  `json:"aspect_ratio,omitempty"`
	Style            string  `json:"style,omitempty"`
	IncludeNarration bool    `json:"include_narration"`
	VoiceStyle       string  `json:"voice_style,omitempty"`
	MaxCost          float64 `json:"max_cost,omitempty"`

	// Settings carries provider-specific knobs merged verbatim into the
	// generation request.
	Settings map[string]interface{} `json:"settings,omitempty"`
}

// DefaultConfig returns the configuration used when callers pass none.
func DefaultConfig() Config {
	return Config{
		Quality:          "1080p",
		AspectRatio:      "16:9",
		Style:            "educational",
		IncludeNarration: true,
	}
}

// Artifact is the downloaded video file's metadata. Written once on
// first successful download, immutable after.
type Artifact struct {
	FilePath       string        `json:"file_path"`
	FileSize       int64         `json:"file_size"`
	Duration       float64       `json:"duration,omitempty"`
	Resolution     string        `json:"resolution,omitempty"`
	Format         string        `json:"format,omitempty"`
	GenerationTime time.Duration `json:"generation_time,omitempty"`
	Cost           float64       `json:"cost,omitempty"`
}

// Video is one generation attempt for a script.
type Video struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	ScriptID  string `json:"script_id"`
	Title     string `json:"title"`

	Provider      string `json:"provider"`
	ProviderJobID string `json:"provider_job_id,omitempty"`

	Config Config `json:"config"`

	Status       Status    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Artifact     *Artifact `json:"artifact,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New creates a pending video record for a script.
func New(script *Script, providerName string, cfg Config) *Video {
	now := time.Now().UTC()
	return &Video{
		ID:        uuid.Must(uuid.NewV4()).String(),
		ProjectID: script.ProjectID,
		ScriptID:  script.ID,
		Title:     "Video: " + script.Title,
		Provider:  providerName,
		Config:    cfg,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// MarkGenerating records the provider job handle and moves the video
// into processing.
func (v *Video) MarkGenerating(providerJobID string) {
	v.Status = StatusProcessing
	v.ProviderJobID = providerJobID
	v.UpdatedAt = time.Now().UTC()
}

// MarkCompleted stores the downloaded artifact. The first artifact
// sticks; later calls are ignored.
func (v *Video) MarkCompleted(a *Artifact) {
	if v.Artifact != nil {
		return
	}
	v.Status = StatusCompleted
	v.Artifact = a
	v.UpdatedAt = time.Now().UTC()
}

// MarkFailed records the terminal error for this attempt.
func (v *Video) MarkFailed(msg string) {
	v.Status = StatusFailed
	v.ErrorMessage = msg
	v.UpdatedAt = time.Now().UTC()
}

// Ready reports whether the video has a downloaded artifact.
func (v *Video) Ready() bool {
	return v.Status == StatusCompleted && v.Artifact != nil
}

// Repository persists video records.
type Repository interface {
	SaveVideo(v *Video) error
	GetVideo(id string) (*Video, error)
}

package db

import (
	"sync"

	"github.com/paperclip/video-orchestrator/job"
	"github.com/paperclip/video-orchestrator/video"
)

// MemoryRepository is a mutex-guarded in-memory store satisfying the
// same interfaces as the redis repository.
type MemoryRepository struct {
	mu     sync.RWMutex
	jobs   map[string]*job.Job
	videos map[string]*video.Video
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:   map[string]*job.Job{},
		videos: map[string]*video.Video{},
	}
}

func (r *MemoryRepository) CreateJob(j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetJob(id string) (*job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (r *MemoryRepository) UpdateJob(j *job.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; !ok {
		return ErrJobNotFound
	}
	cp := *j
	r.jobs[j.ID] = &cp
	return nil
}

func (r *MemoryRepository) JobsByProject(projectID string) ([]*job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*job.Job
	for _, j := range r.jobs {
		if j.ProjectID == projectID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) JobsByStatus(status job.Status) ([]*job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*job.Job
	for _, j := range r.jobs {
		if j.Status == status {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemoryRepository) SaveVideo(v *video.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.videos[v.ID] = &cp
	return nil
}

func (r *MemoryRepository) GetVideo(id string) (*video.Video, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

package db

import (
	"github.com/go-redis/redis"
	"github.com/paperclip/video-orchestrator/job"
	"github.com/paperclip/video-orchestrator/video"
)

const (
	jobKeyPrefix   = "job:"
	videoKeyPrefix = "video:"
	jobSet         = "jobs"
	projectSet     = "project:"
)

// RedisRepository implements job.Repository and video.Repository over
// a redis client.
type RedisRepository struct {
	c *Client
}

// NewRedisRepository wraps a client in the repository interfaces.
func NewRedisRepository(c *Client) *RedisRepository {
	return &RedisRepository{c: c}
}

func (r *RedisRepository) CreateJob(j *job.Job) error {
	if err := r.c.put(jobKeyPrefix+j.ID, j); err != nil {
		return err
	}
	if err := r.c.addMember(jobSet, j.ID); err != nil {
		return err
	}
	return r.c.addMember(projectSet+j.ProjectID+":jobs", j.ID)
}

func (r *RedisRepository) GetJob(id string) (*job.Job, error) {
	var j job.Job
	err := r.c.get(jobKeyPrefix+id, &j)
	if err == redis.Nil {
		return nil, ErrJobNotFound
	} else if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *RedisRepository) UpdateJob(j *job.Job) error {
	if _, err := r.GetJob(j.ID); err != nil {
		return err
	}
	return r.c.put(jobKeyPrefix+j.ID, j)
}

func (r *RedisRepository) JobsByProject(projectID string) ([]*job.Job, error) {
	ids, err := r.c.members(projectSet + projectID + ":jobs")
	if err != nil {
		return nil, err
	}
	return r.loadJobs(ids, func(*job.Job) bool { return true })
}

func (r *RedisRepository) JobsByStatus(status job.Status) ([]*job.Job, error) {
	ids, err := r.c.members(jobSet)
	if err != nil {
		return nil, err
	}
	return r.loadJobs(ids, func(j *job.Job) bool { return j.Status == status })
}

func (r *RedisRepository) loadJobs(ids []string, keep func(*job.Job) bool) ([]*job.Job, error) {
	var out []*job.Job
	for _, id := range ids {
		j, err := r.GetJob(id)
		if err == ErrJobNotFound {
			continue
		} else if err != nil {
			return nil, err
		}
		if keep(j) {
			out = append(out, j)
		}
	}
	return out, nil
}

func (r *RedisRepository) SaveVideo(v *video.Video) error {
	return r.c.put(videoKeyPrefix+v.ID, v)
}

func (r *RedisRepository) GetVideo(id string) (*video.Video, error) {
	var v video.Video
	err := r.c.get(videoKeyPrefix+id, &v)
	if err == redis.Nil {
		return nil, ErrVideoNotFound
	} else if err != nil {
		return nil, err
	}
	return &v, nil
}

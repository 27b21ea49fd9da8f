package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/motionforge/api/internal/model"
	"github.com/redis/go-redis/v9"
)

// ErrJobNotFound is returned when no record exists for a job id
var ErrJobNotFound = errors.New("job not found")

// jobRetention is how long finished job records stay readable
const jobRetention = 24 * time.Hour

// JobRepository is the durable store for render job records
type JobRepository interface {
	Save(ctx context.Context, job *model.RenderJob) error
	Get(ctx context.Context, jobID string) (*model.RenderJob, error)
}

// RedisJobRepository stores job records as JSON blobs in Redis
type RedisJobRepository struct {
	redis *redis.Client
}

func NewRedisJobRepository(redisClient *redis.Client) *RedisJobRepository {
	return &RedisJobRepository{redis: redisClient}
}

func (r *RedisJobRepository) Save(ctx context.Context, job *model.RenderJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.redis.Set(ctx, fmt.Sprintf("job:%s", job.ID), data, jobRetention).Err()
}

func (r *RedisJobRepository) Get(ctx context.Context, jobID string) (*model.RenderJob, error) {
	data, err := r.redis.Get(ctx, fmt.Sprintf("job:%s", jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrJobNotFound
		}
		return nil, err
	}

	var job model.RenderJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// MemoryJobRepository keeps job records in a map. Used in tests and when
// running without Redis in local development.
type MemoryJobRepository struct {
	mu   sync.RWMutex
	jobs map[string]*model.RenderJob
}

func NewMemoryJobRepository() *MemoryJobRepository {
	return &MemoryJobRepository{jobs: make(map[string]*model.RenderJob)}
}

func (r *MemoryJobRepository) Save(ctx context.Context, job *model.RenderJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *MemoryJobRepository) Get(ctx context.Context, jobID string) (*model.RenderJob, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	clone := *job
	return &clone, nil
}

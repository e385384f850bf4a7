package httpapi

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a pipeline/grouper run started through
// the HTTP boundary.
type JobStatus string

const (
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// JobEvent is one SSE message: a progress tick or the terminal outcome.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Current int    `json:"current,omitempty"`
	Total   int    `json:"total,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Job tracks one pipeline or grouper run so its progress can be polled or
// streamed over SSE after the HTTP handler that started it has returned.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    JobStatus `json:"status"`
	StartedAt time.Time `json:"startedAt"`
	Error     string    `json:"error,omitempty"`

	mu        sync.RWMutex
	listeners []chan JobEvent
}

func newJob(kind string) *Job {
	return &Job{ID: uuid.NewString(), Kind: kind, Status: JobStatusRunning, StartedAt: time.Now()}
}

// AddListener registers a new SSE subscriber.
func (j *Job) AddListener() chan JobEvent {
	j.mu.Lock()
	defer j.mu.Unlock()
	ch := make(chan JobEvent, 32)
	j.listeners = append(j.listeners, ch)
	return ch
}

// RemoveListener unregisters and closes an SSE subscriber's channel.
func (j *Job) RemoveListener(ch chan JobEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i, l := range j.listeners {
		if l == ch {
			j.listeners = append(j.listeners[:i], j.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

func (j *Job) emit(ev JobEvent) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, l := range j.listeners {
		select {
		case l <- ev:
		default:
		}
	}
}

func (j *Job) progress(current, total int, message string) {
	j.emit(JobEvent{Type: "progress", Current: current, Total: total, Message: message})
}

func (j *Job) finish(err error) {
	j.mu.Lock()
	if err != nil {
		j.Status = JobStatusFailed
		j.Error = err.Error()
	} else {
		j.Status = JobStatusCompleted
	}
	j.mu.Unlock()

	if err != nil {
		j.emit(JobEvent{Type: "failed", Error: err.Error()})
	} else {
		j.emit(JobEvent{Type: "completed"})
	}
}

func (j *Job) snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Job{ID: j.ID, Kind: j.Kind, Status: j.Status, StartedAt: j.StartedAt, Error: j.Error}
}

// jobManager tracks the in-flight and recently finished pipeline/grouper jobs
// started through the HTTP boundary. There is at most one of each kind
// running at a time; Pipeline/Grouper themselves enforce that with BusyError,
// the manager just gives each run an id to poll/stream.
type jobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

func newJobManager() *jobManager {
	return &jobManager{jobs: make(map[string]*Job)}
}

func (m *jobManager) create(kind string) *Job {
	j := newJob(kind)
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
	return j
}

func (m *jobManager) get(id string) *Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

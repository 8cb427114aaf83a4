package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

type memStore struct {
	mu      sync.Mutex
	jobs    map[string]*Job
	updates int

	failUpdateAfter int
	fetchErr        error
}

func newMemStore(jobs ...*Job) *memStore {
	s := &memStore{jobs: make(map[string]*Job), failUpdateAfter: -1}
	for _, j := range jobs {
		s.jobs[j.ID] = cloneJob(j)
	}
	return s
}

func cloneJob(j *Job) *Job {
	c := *j
	c.Content = append([]byte(nil), j.Content...)
	if j.LastAttemptAt != nil {
		t := *j.LastAttemptAt
		c.LastAttemptAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *memStore) job(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJob(s.jobs[id])
}

func (s *memStore) updateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates
}

func (s *memStore) FetchDueJobs(ctx context.Context, q DueQuery) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	var due []*Job
	for _, j := range s.jobs {
		switch {
		case j.Status == JobStatusPending:
			due = append(due, cloneJob(j))
		case j.Status == JobStatusFailed && j.RetryCount < q.MaxRetries &&
			(j.LastAttemptAt == nil || !j.LastAttemptAt.After(q.AttemptedBefore)):
			due = append(due, cloneJob(j))
		}
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if len(due) > q.Limit {
		due = due[:q.Limit]
	}
	return due, nil
}

func (s *memStore) UpdateStatus(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdateAfter >= 0 && s.updates >= s.failUpdateAfter {
		return MarkPersistence(errors.New("database is locked"))
	}
	s.updates++
	if cur, ok := s.jobs[job.ID]; ok && cur.Status == JobStatusSucceeded {
		return nil
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memStore) ReclaimStale(ctx context.Context, startedBefore time.Time, reason string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var reclaimed []*Job
	for _, j := range s.jobs {
		if j.Status == JobStatusProcessing && j.LastAttemptAt != nil && j.LastAttemptAt.Before(startedBefore) {
			j.Status = JobStatusFailed
			j.RetryCount++
			j.ErrorMessage = reason
			reclaimed = append(reclaimed, cloneJob(j))
		}
	}
	return reclaimed, nil
}

func (s *memStore) Enqueue(ctx context.Context, job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *memStore) GetJob(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return cloneJob(j), nil
}

func (s *memStore) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (s *memStore) Stats(ctx context.Context, maxRetries int) (*QueueStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &QueueStats{}
	for _, j := range s.jobs {
		st.Total++
		switch j.Status {
		case JobStatusPending:
			st.Pending++
		case JobStatusProcessing:
			st.Processing++
		case JobStatusSucceeded:
			st.Succeeded++
		case JobStatusFailed:
			st.Failed++
			if j.RetryCount >= maxRetries {
				st.Exhausted++
			}
		}
	}
	return st, nil
}

func (s *memStore) RetryJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	j.Status = JobStatusPending
	j.RetryCount = 0
	j.ErrorMessage = ""
	j.LastAttemptAt = nil
	j.CompletedAt = nil
	return nil
}

type brokenPrinters struct {
	err error
}

func (p brokenPrinters) GetPrinter(ctx context.Context, id string) (*Printer, error) {
	return nil, p.err
}

type staticPrinters map[string]*Printer

func (p staticPrinters) GetPrinter(ctx context.Context, id string) (*Printer, error) {
	pr, ok := p[id]
	if !ok {
		return nil, errors.Wrapf(ErrPrinterNotFound, "printer %s", id)
	}
	return pr, nil
}

type sendFunc func(ctx context.Context, printer *Printer, payload []byte) error

func (f sendFunc) Send(ctx context.Context, printer *Printer, payload []byte) error {
	return f(ctx, printer, payload)
}

type recordingSender struct {
	mu    sync.Mutex
	sent  []string
	err   error
	calls chan string
}

func (r *recordingSender) Send(ctx context.Context, printer *Printer, payload []byte) error {
	r.mu.Lock()
	r.sent = append(r.sent, string(payload))
	r.mu.Unlock()
	if r.calls != nil {
		select {
		case r.calls <- string(payload):
		default:
		}
	}
	return r.err
}

func (r *recordingSender) payloads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordedEvent struct {
	event JobEvent
	jobID string
}

type eventRecorder struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (e *eventRecorder) JobEvent(event JobEvent, job *Job) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, recordedEvent{event: event, jobID: job.ID})
}

func (e *eventRecorder) list() []recordedEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]recordedEvent(nil), e.events...)
}

type countingMetrics struct {
	mu        sync.Mutex
	exhausted int
	reclaimed int
}

func (m *countingMetrics) CycleCompleted(time.Duration, int)  {}
func (m *countingMetrics) JobSucceeded(JobType, time.Duration) {}
func (m *countingMetrics) JobFailed(ErrorKind)                 {}

func (m *countingMetrics) JobExhausted() {
	m.mu.Lock()
	m.exhausted++
	m.mu.Unlock()
}

func (m *countingMetrics) JobsReclaimed(n int) {
	m.mu.Lock()
	m.reclaimed += n
	m.mu.Unlock()
}

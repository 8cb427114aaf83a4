package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/core"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	EventHeader     = "X-Webhook-Event"
)

type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      JobData   `json:"data"`
}

type JobData struct {
	JobID        string `json:"job_id"`
	PrinterID    string `json:"printer_id"`
	Type         string `json:"type"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
}

type Options struct {
	RetryCount  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	WorkerCount int
	QueueSize   int
}

type endpoint struct {
	url    string
	secret string
	events map[string]bool
}

func (e *endpoint) wants(event string) bool {
	return len(e.events) == 0 || e.events[event]
}

type task struct {
	endpoint *endpoint
	event    string
	body     []byte
}

// errClientError marks 4xx responses, which are not retried.
var errClientError = errors.New("webhook rejected by receiver")

var (
	ErrUnknownEndpoint = errors.New("unknown webhook endpoint")
	ErrQueueFull       = errors.New("webhook queue full")
)

// EventTest is sent only on operator request to check an endpoint is reachable.
const EventTest = "test"

// Endpoint describes a configured receiver without its secret.
type Endpoint struct {
	Index  int      `json:"index"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Signed bool     `json:"signed"`
}

// Sender posts job events to the configured endpoints from a small worker pool.
// It implements core.EventSink; JobEvent never blocks the caller.
type Sender struct {
	endpoints  []*endpoint
	httpClient *http.Client
	retryCount int
	retryDelay time.Duration
	workers    int
	logger     *zap.SugaredLogger
	now        func() time.Time

	queue    chan *task
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewSender(hooks []config.WebhookConfig, opts Options, logger *zap.SugaredLogger) *Sender {
	if opts.RetryCount <= 0 {
		opts.RetryCount = 3
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = 3
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	endpoints := make([]*endpoint, 0, len(hooks))
	for _, h := range hooks {
		ep := &endpoint{url: h.URL, secret: h.Secret, events: make(map[string]bool, len(h.Events))}
		for _, ev := range h.Events {
			ep.events[ev] = true
		}
		endpoints = append(endpoints, ep)
	}

	return &Sender{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: opts.Timeout},
		retryCount: opts.RetryCount,
		retryDelay: opts.RetryDelay,
		workers:    opts.WorkerCount,
		logger:     logger.Named("webhook"),
		now:        time.Now,
		queue:      make(chan *task, opts.QueueSize),
		stopCh:     make(chan struct{}),
	}
}

func (s *Sender) Start() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.logger.Infow("Webhook sender started", "endpoints", len(s.endpoints), "workers", s.workers)
}

// Stop abandons queued deliveries and waits for in-flight ones to return.
func (s *Sender) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

func (s *Sender) JobEvent(event core.JobEvent, job *core.Job) {
	if len(s.endpoints) == 0 || job == nil {
		return
	}

	body, err := json.Marshal(&Payload{
		Event:     string(event),
		Timestamp: s.now().UTC(),
		Data: JobData{
			JobID:        job.ID,
			PrinterID:    job.PrinterID,
			Type:         string(job.Type),
			Status:       string(job.Status),
			RetryCount:   job.RetryCount,
			ErrorMessage: job.ErrorMessage,
		},
	})
	if err != nil {
		s.logger.Errorw("Failed to encode webhook payload", "event", event, "job_id", job.ID, "error", err)
		return
	}

	for _, ep := range s.endpoints {
		if !ep.wants(string(event)) {
			continue
		}
		select {
		case s.queue <- &task{endpoint: ep, event: string(event), body: body}:
		default:
			s.logger.Warnw("Webhook queue full, dropping event", "event", event, "job_id", job.ID, "url", ep.url)
		}
	}
}

func (s *Sender) Endpoints() []Endpoint {
	out := make([]Endpoint, 0, len(s.endpoints))
	for i, ep := range s.endpoints {
		events := make([]string, 0, len(ep.events))
		for ev := range ep.events {
			events = append(events, ev)
		}
		sort.Strings(events)
		out = append(out, Endpoint{Index: i, URL: ep.url, Events: events, Signed: ep.secret != ""})
	}
	return out
}

// SendTest queues a test event for one endpoint regardless of its event filter.
func (s *Sender) SendTest(index int) error {
	if index < 0 || index >= len(s.endpoints) {
		return errors.Wrapf(ErrUnknownEndpoint, "index %d", index)
	}
	body, err := json.Marshal(&Payload{
		Event:     EventTest,
		Timestamp: s.now().UTC(),
		Data:      JobData{Status: EventTest},
	})
	if err != nil {
		return errors.Wrap(err, "encode test payload")
	}

	select {
	case s.queue <- &task{endpoint: s.endpoints[index], event: EventTest, body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Sender) worker(id int) {
	defer s.wg.Done()

	for {
		select {
		case <-s.stopCh:
			return
		case t := <-s.queue:
			if err := s.sendWithRetry(t); err != nil {
				s.logger.Warnw("Webhook delivery failed", "worker", id, "event", t.event, "url", t.endpoint.url, "error", err)
			}
		}
	}
}

func (s *Sender) sendWithRetry(t *task) error {
	var lastErr error
	for attempt := 1; attempt <= s.retryCount; attempt++ {
		err := s.send(t)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, errClientError) {
			return err
		}

		if attempt < s.retryCount {
			backoff := s.retryDelay * time.Duration(1<<(attempt-1))
			s.logger.Debugw("Retrying webhook", "attempt", attempt, "max", s.retryCount, "backoff", backoff, "error", err)
			select {
			case <-s.stopCh:
				return errors.Wrap(lastErr, "shutdown requested")
			case <-time.After(backoff):
			}
		}
	}
	return errors.Wrapf(lastErr, "max retries exceeded")
}

func (s *Sender) send(t *task) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint.url, bytes.NewReader(t.body))
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventHeader, t.event)
	if t.endpoint.secret != "" {
		req.Header.Set(SignatureHeader, Sign(t.body, t.endpoint.secret))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return errors.Newf("http error: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return errors.Mark(errors.Newf("http error: %d", resp.StatusCode), errClientError)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of body under secret, as sent in SignatureHeader.
func Sign(body []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

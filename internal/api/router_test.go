package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/kitchenprint/internal/agent"
	"github.com/orrn/kitchenprint/internal/api/handlers"
	"github.com/orrn/kitchenprint/internal/api/middleware"
	"github.com/orrn/kitchenprint/internal/archive"
	"github.com/orrn/kitchenprint/internal/config"
	"github.com/orrn/kitchenprint/internal/core"
	"github.com/orrn/kitchenprint/internal/db"
	"github.com/orrn/kitchenprint/internal/metrics"
	"github.com/orrn/kitchenprint/internal/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	router   *gin.Engine
	jobs     *db.JobStore
	printers *db.PrinterStore
	signal   *core.Signal
}

func newTestEnv(t *testing.T, adminHash string) *testEnv {
	t.Helper()
	conn, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	jobs := db.NewJobStore(conn)
	printers := db.NewPrinterStore(conn)
	signal := core.NewSignal()
	queue := core.NewQueue(jobs, printers, signal, 5, nil)

	router := NewRouter(Deps{
		DB:         conn,
		Queue:      queue,
		Printers:   printers,
		Registry:   agent.NewRegistry(nil, nil),
		Metrics:    metrics.NewCollector().Handler(),
		AdminAuth:  middleware.NewAdminAuth(adminHash, nil),
		MaxRetries: 5,
	})
	return &testEnv{router: router, jobs: jobs, printers: printers, signal: signal}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) createPrinter(t *testing.T, name, typ, address string) handlers.PrinterResponse {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/printers", gin.H{"name": name, "type": typ, "address": address})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p handlers.PrinterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func decodeJob(t *testing.T, w *httptest.ResponseRecorder) handlers.JobResponse {
	t.Helper()
	var j handlers.JobResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &j))
	return j
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "printd_connected_agents")
}

func TestCreateJob_RawContent(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPrinter(t, "Kitchen", "network", "10.0.0.5:9100")

	w := env.do(t, http.MethodPost, "/api/jobs", gin.H{
		"printer_id": p.ID,
		"type":       "comanda",
		"content":    []byte("\x1b@hello\n"),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := decodeJob(t, w)
	assert.Equal(t, "pending", job.Status)
	assert.Equal(t, 8, job.Bytes)

	select {
	case <-env.signal.C():
	default:
		t.Fatal("enqueue did not raise the wake signal")
	}

	stored, err := env.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x1b@hello\n"), stored.Content)

	w = env.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateJob_Document(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPrinter(t, "Bar", "network", "10.0.0.6")

	w := env.do(t, http.MethodPost, "/api/jobs", gin.H{
		"printer_id": p.ID,
		"type":       "receipt",
		"document": gin.H{
			"cut":      true,
			"elements": []gin.H{{"type": "text", "content": "TOTAL 12.00", "bold": true}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	job := decodeJob(t, w)

	stored, err := env.jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, string(stored.Content), "TOTAL 12.00")
}

func TestCreateJob_Rejects(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPrinter(t, "Bar", "network", "10.0.0.6")

	tests := []struct {
		name string
		body gin.H
		want int
	}{
		{"missing printer", gin.H{"type": "receipt", "content": []byte("x")}, http.StatusBadRequest},
		{"unknown printer", gin.H{"printer_id": "nope", "type": "receipt", "content": []byte("x")}, http.StatusNotFound},
		{"bad type", gin.H{"printer_id": p.ID, "type": "invoice", "content": []byte("x")}, http.StatusBadRequest},
		{"no content", gin.H{"printer_id": p.ID, "type": "receipt"}, http.StatusBadRequest},
		{"bad base64", gin.H{"printer_id": p.ID, "type": "receipt", "content": "%%%"}, http.StatusBadRequest},
		{"bad document", gin.H{"printer_id": p.ID, "type": "receipt", "document": gin.H{"elements": []gin.H{{"type": "image"}}}}, http.StatusBadRequest},
		{"both", gin.H{"printer_id": p.ID, "type": "receipt", "content": []byte("x"), "document": gin.H{"elements": []gin.H{{"type": "feed"}}}}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/jobs", tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestRetryAndReprint(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	p := env.createPrinter(t, "Kitchen", "network", "10.0.0.5")

	w := env.do(t, http.MethodPost, "/api/jobs", gin.H{"printer_id": p.ID, "type": "comanda", "content": []byte("x")})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decodeJob(t, w)

	w = env.do(t, http.MethodPost, "/api/jobs/"+created.ID+"/retry", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "pending jobs cannot be retried")

	job, err := env.jobs.GetJob(ctx, created.ID)
	require.NoError(t, err)
	job.Status = core.JobStatusFailed
	job.RetryCount = 5
	job.ErrorMessage = "connection_refused: dial tcp"
	require.NoError(t, env.jobs.UpdateStatus(ctx, job))

	w = env.do(t, http.MethodGet, "/api/jobs/"+created.ID, nil)
	assert.True(t, decodeJob(t, w).Exhausted)

	w = env.do(t, http.MethodPost, "/api/jobs/"+created.ID+"/retry", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	retried := decodeJob(t, w)
	assert.Equal(t, "pending", retried.Status)
	assert.Zero(t, retried.RetryCount)
	assert.Empty(t, retried.ErrorMessage)

	w = env.do(t, http.MethodPost, "/api/jobs/"+created.ID+"/reprint", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.NotEqual(t, created.ID, decodeJob(t, w).ID)

	w = env.do(t, http.MethodPost, "/api/jobs/missing/retry", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, http.MethodGet, "/api/queue", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats core.QueueStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 2, stats.Total)

	w = env.do(t, http.MethodGet, "/api/jobs?status=pending&limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Jobs  []handlers.JobResponse `json:"jobs"`
		Count int                    `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	w = env.do(t, http.MethodGet, "/api/jobs?status=lost", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPrinterCRUD(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPrinter(t, "Pass", "agent", "agent-1")
	assert.True(t, p.Enabled)
	assert.Equal(t, "immediate", p.Mode)
	require.NotNil(t, p.Connected)
	assert.False(t, *p.Connected)

	w := env.do(t, http.MethodPost, "/api/printers", gin.H{"name": "Pass", "type": "network", "address": "10.0.0.9"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = env.do(t, http.MethodPost, "/api/printers", gin.H{"name": "Other", "type": "usb", "address": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPut, "/api/printers/"+p.ID, gin.H{"enabled": false, "mode": "on_demand"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated handlers.PrinterResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	assert.False(t, updated.Enabled)
	assert.Equal(t, "on_demand", updated.Mode)
	assert.Equal(t, "Pass", updated.Name)

	w = env.do(t, http.MethodGet, "/api/printers", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), p.ID)

	w = env.do(t, http.MethodDelete, "/api/printers/"+p.ID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodGet, "/api/printers/"+p.ID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPrinterTestPage(t *testing.T) {
	env := newTestEnv(t, "")
	p := env.createPrinter(t, "Kitchen", "network", "10.0.0.5")

	w := env.do(t, http.MethodPost, "/api/printers/"+p.ID+"/test", nil)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp struct {
		JobID string `json:"job_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	job, err := env.jobs.GetJob(context.Background(), resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, core.JobTypeTest, job.Type)
	assert.Contains(t, string(job.Content), "TEST PRINT")
}

func TestListAgents(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/agents", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"agents": [], "count": 0}`, w.Body.String())
}

func TestAdminKeyRequired(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("operator-key-123"), bcrypt.MinCost)
	require.NoError(t, err)
	env := newTestEnv(t, string(hash))

	w := env.do(t, http.MethodGet, "/api/queue", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer operator-key-123")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	w = env.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestArchiveRoutes(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(t, http.MethodGet, "/api/archives", nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "archive routes are off unless an archiver is configured")

	conn, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer conn.Close()
	jobs := db.NewJobStore(conn)
	archiver, err := archive.NewArchiver(jobs, config.ArchiveConfig{Path: t.TempDir(), RetentionDays: 30}, nil)
	require.NoError(t, err)

	router := NewRouter(Deps{
		DB:       conn,
		Queue:    core.NewQueue(jobs, db.NewPrinterStore(conn), core.NewSignal(), 5, nil),
		Printers: db.NewPrinterStore(conn),
		Registry: agent.NewRegistry(nil, nil),
		Archiver: archiver,
	})

	req := httptest.NewRequest(http.MethodPost, "/api/archives/run", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"archived": 0}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/archives", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"archives": []}`, rec.Body.String())
}

func TestSettingsAndWebhookRoutes(t *testing.T) {
	conn, err := db.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	defer conn.Close()

	cfg := config.Default()
	cfg.Auth.AgentTokenSecret = "do-not-leak-this-secret"
	cfg.Webhooks = []config.WebhookConfig{{URL: "http://127.0.0.1:1/hook", Secret: "hook-secret"}}
	hooks := webhook.NewSender(cfg.Webhooks, webhook.Options{}, nil)

	printers := db.NewPrinterStore(conn)
	router := NewRouter(Deps{
		DB:       conn,
		Queue:    core.NewQueue(db.NewJobStore(conn), printers, core.NewSignal(), 5, nil),
		Printers: printers,
		Registry: agent.NewRegistry(nil, nil),
		Webhooks: hooks,
		Config:   cfg,
	})
	get := func(method, path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
		return rec
	}

	rec := get(http.MethodGet, "/api/settings/server")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"batch_size":10`)
	assert.NotContains(t, rec.Body.String(), "do-not-leak-this-secret")

	rec = get(http.MethodGet, "/api/webhooks")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "127.0.0.1:1/hook")
	assert.NotContains(t, rec.Body.String(), "hook-secret")

	assert.Equal(t, http.StatusAccepted, get(http.MethodPost, "/api/webhooks/0/test").Code)
	assert.Equal(t, http.StatusNotFound, get(http.MethodPost, "/api/webhooks/4/test").Code)
	assert.Equal(t, http.StatusBadRequest, get(http.MethodPost, "/api/webhooks/x/test").Code)
}

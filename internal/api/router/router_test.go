package router_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-team-go/internal/api/handler"
	"agent-team-go/internal/api/router"
	"agent-team-go/internal/pipeline"
	"agent-team-go/internal/service"
	"agent-team-go/internal/storage"
	"agent-team-go/internal/storage/models"
)

type fakeScreening struct {
	jobs map[string]*models.ScreeningJob
}

func (f *fakeScreening) ScreenAll(_ context.Context, job service.JobSpec, candidates []service.Candidate) (*service.ScreeningReport, error) {
	if job.JobID == "" {
		job.JobID = "generated"
	}
	return &service.ScreeningReport{JobID: job.JobID, Total: len(candidates), Succeeded: len(candidates), CompletedAt: time.Now()}, nil
}

func (f *fakeScreening) GetJob(_ context.Context, jobID string) (*models.ScreeningJob, error) {
	if job, ok := f.jobs[jobID]; ok {
		return job, nil
	}
	return nil, storage.ErrNotFound
}

type fakeJobs struct{ created []*models.ScreeningJob }

func (f *fakeJobs) CreateScreeningJob(_ context.Context, job *models.ScreeningJob) error {
	f.created = append(f.created, job)
	return nil
}

type fakeSubmitter struct{ msgs []storage.ScreeningJobMessage }

func (f *fakeSubmitter) Submit(_ context.Context, msg storage.ScreeningJobMessage) error {
	f.msgs = append(f.msgs, msg)
	return nil
}

type fakeBuilder struct{}

func (fakeBuilder) Build(_ context.Context, request string) (*service.BuildResult, error) {
	if request == "fail" {
		return nil, &pipeline.RunError{
			RunID:    "run-1",
			Stage:    "code_generator",
			Attempts: 2,
			Missing:  []string{"main.py"},
			Err:      pipeline.ErrValidationExhausted,
		}
	}
	return &service.BuildResult{RunID: "run-2", PackageName: "weather_agent", Files: []string{"main.py"}}, nil
}

type fakeBlog struct{}

func (fakeBlog) Write(_ context.Context, topic, language string) (*service.BlogResult, error) {
	return &service.BlogResult{RunID: "run-3", Topic: topic, Content: "# " + topic + " " + language}, nil
}

type fakeRuns struct{}

func (fakeRuns) RunStatus(_ context.Context, runID string) (*storage.RunStatus, error) {
	if runID != "run-1" {
		return nil, storage.ErrNotFound
	}
	return &storage.RunStatus{RunID: runID, Status: storage.RunStatusRunning, Stage: "skills_matcher", Attempt: 1}, nil
}

func newTestServer(keys []string, async bool) (*server.Hertz, *fakeJobs, *fakeSubmitter) {
	screening := &fakeScreening{jobs: map[string]*models.ScreeningJob{
		"job-1": {JobID: "job-1", Status: models.JobStatusCompleted, CandidateCount: 1},
	}}
	hd := handler.NewHandler(screening, fakeBuilder{}, fakeBlog{}, fakeRuns{})
	jobs, sub := &fakeJobs{}, &fakeSubmitter{}
	if async {
		hd.WithAsync(jobs, sub)
	}
	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	router.RegisterRoutes(h, hd, keys)
	return h, jobs, sub
}

func doJSON(h *server.Hertz, method, path, body string, headers ...ut.Header) *ut.ResponseRecorder {
	headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	var b *ut.Body
	if body != "" {
		buf := bytes.NewBufferString(body)
		b = &ut.Body{Body: buf, Len: buf.Len()}
	}
	return ut.PerformRequest(h.Engine, method, path, b, headers...)
}

const validScreening = `{"job_id": "job-7", "job_description": "Go 后端工程师", "candidates": [{"name": "alice", "resume": "五年 Go 经验"}]}`

func TestHealth(t *testing.T) {
	h, _, _ := newTestServer(nil, false)
	resp := doJSON(h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "ok")
}

func TestScreenValidation(t *testing.T) {
	h, _, _ := newTestServer(nil, false)

	tests := []struct {
		name   string
		body   string
		status int
		field  string
	}{
		{"valid", validScreening, http.StatusOK, ""},
		{"malformed", `{"job_description":`, http.StatusBadRequest, ""},
		{"blank description", `{"job_description": "  ", "candidates": [{"resume": "x"}]}`, http.StatusBadRequest, "JobDescription"},
		{"no candidates", `{"job_description": "d", "candidates": []}`, http.StatusBadRequest, "Candidates"},
		{"empty resume", `{"job_description": "d", "candidates": [{"name": "a"}]}`, http.StatusBadRequest, "Resume"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(h, http.MethodPost, "/api/v1/screenings", tt.body)
			require.Equal(t, tt.status, resp.Code, resp.Body.String())
			if tt.field != "" {
				var body map[string]interface{}
				require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
				assert.Contains(t, body["field"], tt.field)
			}
		})
	}
}

func TestScreenReturnsReport(t *testing.T) {
	h, _, _ := newTestServer(nil, false)
	resp := doJSON(h, http.MethodPost, "/api/v1/screenings", validScreening)
	require.Equal(t, http.StatusOK, resp.Code)

	var report service.ScreeningReport
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &report))
	assert.Equal(t, "job-7", report.JobID)
	assert.Equal(t, 1, report.Total)
}

func TestSubmitScreening(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h, _, _ := newTestServer(nil, false)
		resp := doJSON(h, http.MethodPost, "/api/v1/screenings/async", validScreening)
		assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
	})

	t.Run("registers and publishes", func(t *testing.T) {
		h, jobs, sub := newTestServer(nil, true)
		body := `{"job_description": "d", "candidates": [{"resume": "r1"}, {"resume": "r2"}]}`
		resp := doJSON(h, http.MethodPost, "/api/v1/screenings/async", body)
		require.Equal(t, http.StatusAccepted, resp.Code, resp.Body.String())

		var ack handler.AsyncScreeningResponse
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &ack))
		assert.NotEmpty(t, ack.JobID)
		assert.Equal(t, models.JobStatusPending, ack.Status)

		require.Len(t, jobs.created, 1)
		assert.Equal(t, ack.JobID, jobs.created[0].JobID)
		assert.Equal(t, 2, jobs.created[0].CandidateCount)
		require.Len(t, sub.msgs, 1)
		assert.Equal(t, ack.JobID, sub.msgs[0].JobID)
		assert.Len(t, sub.msgs[0].Candidates, 2)
	})
}

func TestGetScreening(t *testing.T) {
	h, _, _ := newTestServer(nil, false)
	assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/api/v1/screenings/job-1", "").Code)
	assert.Equal(t, http.StatusNotFound, doJSON(h, http.MethodGet, "/api/v1/screenings/missing", "").Code)
}

func TestBuildFailureMapsToBadGateway(t *testing.T) {
	h, _, _ := newTestServer(nil, false)

	resp := doJSON(h, http.MethodPost, "/api/v1/builds", `{"request": "fail"}`)
	require.Equal(t, http.StatusBadGateway, resp.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.Equal(t, "code_generator", body["stage"])
	assert.Equal(t, []interface{}{"main.py"}, body["missing"])

	resp = doJSON(h, http.MethodPost, "/api/v1/builds", `{"request": "天气查询智能体"}`)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(h, http.MethodPost, "/api/v1/builds", `{"request": ""}`).Code)
}

func TestWriteBlogAndRuns(t *testing.T) {
	h, _, _ := newTestServer(nil, false)

	resp := doJSON(h, http.MethodPost, "/api/v1/blog-posts", `{"topic": "Go 泛型", "language": "go"}`)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "Go 泛型")

	resp = doJSON(h, http.MethodGet, "/api/v1/runs/run-1", "")
	require.Equal(t, http.StatusOK, resp.Code)
	var status storage.RunStatus
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &status))
	assert.Equal(t, "skills_matcher", status.Stage)
	assert.Equal(t, http.StatusNotFound, doJSON(h, http.MethodGet, "/api/v1/runs/nope", "").Code)
}

func TestAPIKeyAuth(t *testing.T) {
	h, _, _ := newTestServer([]string{"secret"}, false)

	assert.Equal(t, http.StatusUnauthorized, doJSON(h, http.MethodGet, "/api/v1/runs/run-1", "").Code)
	assert.Equal(t, http.StatusUnauthorized, doJSON(h, http.MethodGet, "/api/v1/runs/run-1", "",
		ut.Header{Key: "Authorization", Value: "Bearer wrong"}).Code)
	assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/api/v1/runs/run-1", "",
		ut.Header{Key: "Authorization", Value: "Bearer secret"}).Code)
	// 健康检查与指标不鉴权
	assert.Equal(t, http.StatusOK, doJSON(h, http.MethodGet, "/health", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestServer(nil, false)
	doJSON(h, http.MethodGet, "/api/v1/runs/run-1", "")

	resp := doJSON(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, strings.Contains(resp.Body.String(), `agent_team_http_requests_total{method="GET",route="/api/v1/runs/:id",status="200"}`))
}

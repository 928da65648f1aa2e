package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-team-go/internal/config"
	"agent-team-go/internal/service"
	"agent-team-go/internal/storage"
)

type fakeScreener struct {
	mu   sync.Mutex
	jobs []service.JobSpec
	err  error
}

func (f *fakeScreener) ScreenAll(_ context.Context, job service.JobSpec, candidates []service.Candidate) (*service.ScreeningReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, job)
	if f.err != nil {
		return nil, f.err
	}
	return &service.ScreeningReport{JobID: job.JobID, Total: len(candidates), Succeeded: len(candidates)}, nil
}

type capturePublisher struct {
	exchange, key string
	body          []byte
	persistent    bool
}

func (c *capturePublisher) PublishJSON(_ context.Context, exchange, key string, data interface{}, persistent bool) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.exchange, c.key, c.body, c.persistent = exchange, key, body, persistent
	return nil
}

// loopConsumer 把预置消息逐条交给 handler，记录返回值
type loopConsumer struct {
	mu      sync.Mutex
	bodies  [][]byte
	results []error
}

func (l *loopConsumer) Consume(ctx context.Context, _ string, _ int, handler storage.Handler) error {
	for {
		l.mu.Lock()
		if len(l.bodies) == 0 {
			l.mu.Unlock()
			return nil
		}
		body := l.bodies[0]
		l.bodies = l.bodies[1:]
		l.mu.Unlock()

		err := handler(ctx, body)
		l.mu.Lock()
		l.results = append(l.results, err)
		l.mu.Unlock()
	}
}

func TestSubmitAndHandleRoundTrip(t *testing.T) {
	cfg := config.Default().RabbitMQ
	pub := &capturePublisher{}
	require.NoError(t, NewPublisher(pub, &cfg).Submit(context.Background(), storage.ScreeningJobMessage{
		JobID:          "job-9",
		JobDescription: "Go 工程师",
		Candidates:     []storage.CandidateInput{{Name: "a", Resume: "..."}},
	}))
	assert.Equal(t, cfg.Exchange, pub.exchange)
	assert.Equal(t, cfg.ScreeningRoutingKey, pub.key)
	assert.True(t, pub.persistent)

	var msg storage.ScreeningJobMessage
	require.NoError(t, json.Unmarshal(pub.body, &msg))
	assert.False(t, msg.SubmittedAt.IsZero())

	screener := &fakeScreener{}
	w := NewWorker(&loopConsumer{}, screener, &cfg)
	require.NoError(t, w.Handle(context.Background(), pub.body))
	require.Len(t, screener.jobs, 1)
	assert.Equal(t, "job-9", screener.jobs[0].JobID)
	assert.Equal(t, "Go 工程师", screener.jobs[0].Description)
}

func TestHandleErrorClassification(t *testing.T) {
	cfg := config.Default().RabbitMQ
	body := []byte(`{"job_id": "j", "job_description": "d", "candidates": [{"resume": "r"}]}`)

	tests := []struct {
		name    string
		body    []byte
		err     error
		wantErr bool
	}{
		{"malformed json dropped", []byte("{"), nil, false},
		{"invalid job dropped", body, service.ErrEmptyJob, false},
		{"locked batch skipped", body, service.ErrBatchInProgress, false},
		{"storage failure requeued", body, errors.New("db down"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorker(&loopConsumer{}, &fakeScreener{err: tt.err}, &cfg)
			err := w.Handle(context.Background(), tt.body)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRunStartsConfiguredWorkers(t *testing.T) {
	cfg := config.Default().RabbitMQ
	cfg.ConsumerWorkers = map[string]int{"screening_workers": 3}
	consumer := &loopConsumer{bodies: [][]byte{
		[]byte(`{"job_id": "1", "job_description": "d"}`),
		[]byte(`{"job_id": "2", "job_description": "d"}`),
	}}
	screener := &fakeScreener{}
	w := NewWorker(consumer, screener, &cfg)
	assert.Equal(t, 3, w.workers)

	require.NoError(t, w.Run(context.Background()))
	assert.Len(t, screener.jobs, 2)
	assert.Len(t, consumer.results, 2)
}

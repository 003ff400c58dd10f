package inference

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/turtacn/abcflow/internal/domain/run"
	"github.com/turtacn/abcflow/internal/infrastructure/database/redis"
	"github.com/turtacn/abcflow/internal/infrastructure/messaging/kafka"
)

type mockRunRepo struct {
	mock.Mock
}

func (m *mockRunRepo) Create(ctx context.Context, r *run.Run) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRunRepo) Finish(ctx context.Context, r *run.Run) error {
	return m.Called(ctx, r).Error(0)
}

func (m *mockRunRepo) Get(ctx context.Context, id string) (*run.Run, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*run.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRunRepo) List(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error) {
	args := m.Called(ctx, run.ApplyListOptions(opts...))
	if r := args.Get(0); r != nil {
		return r.([]*run.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRunRepo) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

type mockArchive struct {
	mock.Mock
}

func (m *mockArchive) Save(ctx context.Context, runID string, doc interface{}) (string, error) {
	args := m.Called(ctx, runID, doc)
	return args.String(0), args.Error(1)
}

func (m *mockArchive) Load(ctx context.Context, runID string, dest interface{}) error {
	args := m.Called(ctx, runID, dest)
	if fill, ok := args.Get(0).(func(interface{})); ok {
		fill(dest)
		return args.Error(1)
	}
	return args.Error(0)
}

func (m *mockArchive) Exists(ctx context.Context, runID string) (bool, error) {
	args := m.Called(ctx, runID)
	return args.Bool(0), args.Error(1)
}

func (m *mockArchive) Delete(ctx context.Context, runID string) error {
	return m.Called(ctx, runID).Error(0)
}

func (m *mockArchive) List(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockArchive) PresignedURL(ctx context.Context, runID string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, runID, expiry)
	return args.String(0), args.Error(1)
}

// recordingPublisher keeps every published message.
type recordingPublisher struct {
	mu   sync.Mutex
	msgs []*kafka.ProducerMessage
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, msg *kafka.ProducerMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return p.err
}

func (p *recordingPublisher) envelopes(topic string) []*kafka.EventEnvelope {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*kafka.EventEnvelope
	for _, m := range p.msgs {
		if m.Topic != topic {
			continue
		}
		env, err := kafka.MessageToEventEnvelope(&kafka.Message{Topic: m.Topic, Value: m.Value})
		if err == nil {
			out = append(out, env)
		}
	}
	return out
}

type mockLocker struct {
	mock.Mock
}

func (m *mockLocker) ForRun(runID string, ttl time.Duration) redis.RunLease {
	return m.Called(runID, ttl).Get(0).(redis.RunLease)
}

type mockLease struct {
	mock.Mock
}

func (m *mockLease) Acquire(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *mockLease) Release(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockLease) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockLease) Remaining(ctx context.Context) (time.Duration, error) {
	args := m.Called(ctx)
	return args.Get(0).(time.Duration), args.Error(1)
}

// mockService lets handler tests script Service.Run.
type mockService struct {
	mock.Mock
}

func (m *mockService) Run(ctx context.Context, method run.Method, req RunRequest) (*run.Run, error) {
	args := m.Called(ctx, method, req)
	if r := args.Get(0); r != nil {
		return r.(*run.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) RunRejection(ctx context.Context, req RunRequest) (*run.Run, error) {
	return m.Run(ctx, run.MethodRejection, req)
}

func (m *mockService) RunSMC(ctx context.Context, req RunRequest) (*run.Run, error) {
	return m.Run(ctx, run.MethodSMC, req)
}

func (m *mockService) GetRun(ctx context.Context, id string) (*run.Run, error) {
	args := m.Called(ctx, id)
	if r := args.Get(0); r != nil {
		return r.(*run.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) ListRuns(ctx context.Context, opts ...run.ListOption) ([]*run.Run, error) {
	args := m.Called(ctx)
	if r := args.Get(0); r != nil {
		return r.([]*run.Run), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) DeleteRun(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockService) ArchivedRuns(ctx context.Context, limit int) ([]string, error) {
	args := m.Called(ctx, limit)
	if ids := args.Get(0); ids != nil {
		return ids.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockService) DownloadURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, id, expiry)
	return args.String(0), args.Error(1)
}

//Personal.AI order the ending

package relayworker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	jsmock "gitlab.com/timkado/api/crm-webhook-ingestor/internal/jetstream/mock"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
)

type fakeDelivery struct {
	data      []byte
	subject   string
	delivered uint64
	metaErr   error

	acked   bool
	termed  bool
	nakWith time.Duration
	naked   bool
}

func (f *fakeDelivery) Data() []byte { return f.data }

func (f *fakeDelivery) Subject() string { return f.subject }

func (f *fakeDelivery) NumDelivered() (uint64, error) { return f.delivered, f.metaErr }

func (f *fakeDelivery) Ack() error {
	f.acked = true
	return nil
}

func (f *fakeDelivery) NakWithDelay(d time.Duration) error {
	f.naked = true
	f.nakWith = d
	return nil
}

func (f *fakeDelivery) Term() error {
	f.termed = true
	return nil
}

type handlerMock struct {
	mock.Mock
}

func (m *handlerMock) RetryRelay(ctx context.Context, task model.RelayTask) error {
	return m.Called(ctx, task).Error(0)
}

func (m *handlerMock) ExhaustRelay(ctx context.Context, task model.RelayTask, subject string, attempts int, lastErr error) error {
	return m.Called(ctx, task, subject, attempts, lastErr).Error(0)
}

func testNATSConfig() config.NATSConfig {
	return config.NATSConfig{
		RelayStream:      "crm_media_relay",
		RelaySubject:     "v1.media.relay",
		RelayWorkers:     2,
		RelayBaseDelay:   30 * time.Second,
		RelayMaxDelay:    15 * time.Minute,
		RelayMaxAttempts: 3,
		RelayAckWait:     time.Minute,
		RelayMaxAckPend:  10,
	}
}

func newTestWorker(t *testing.T, h *handlerMock) *Worker {
	t.Helper()
	return &Worker{
		cfg:     testNATSConfig(),
		logger:  zaptest.NewLogger(t),
		handler: h,
	}
}

func taskDelivery(t *testing.T, task *model.RelayTask, delivered uint64) *fakeDelivery {
	t.Helper()
	data, err := json.Marshal(task)
	require.NoError(t, err)
	return &fakeDelivery{data: data, subject: "v1.media.relay." + task.CompanyID, delivered: delivered}
}

func TestHandleDelivery_SuccessAcks(t *testing.T) {
	h := &handlerMock{}
	w := newTestWorker(t, h)
	task := model.NewRelayTask()
	msg := taskDelivery(t, task, 1)

	h.On("RetryRelay", mock.MatchedBy(func(ctx context.Context) bool {
		companyID, err := tenant.FromContext(ctx)
		return err == nil && companyID == task.CompanyID
	}), mock.MatchedBy(func(got model.RelayTask) bool {
		return got.MessageID == task.MessageID
	})).Return(nil).Once()

	w.handleDelivery(context.Background(), msg)

	assert.True(t, msg.acked)
	assert.False(t, msg.naked)
	h.AssertExpectations(t)
}

func TestHandleDelivery_RetryableNaksWithBackoff(t *testing.T) {
	h := &handlerMock{}
	w := newTestWorker(t, h)
	task := model.NewRelayTask()
	msg := taskDelivery(t, task, 2)

	h.On("RetryRelay", mock.Anything, mock.Anything).
		Return(apperrors.NewRetryable(apperrors.ErrMediaUnavailable, "status 503")).Once()

	w.handleDelivery(context.Background(), msg)

	assert.True(t, msg.naked)
	assert.Equal(t, time.Minute, msg.nakWith)
	assert.False(t, msg.termed)
	h.AssertNotCalled(t, "ExhaustRelay", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleDelivery_LastAttemptIsExhausted(t *testing.T) {
	h := &handlerMock{}
	w := newTestWorker(t, h)
	task := model.NewRelayTask()
	msg := taskDelivery(t, task, 3)
	relayErr := apperrors.NewRetryable(apperrors.ErrMediaUnavailable, "status 503")

	h.On("RetryRelay", mock.Anything, mock.Anything).Return(relayErr).Once()
	h.On("ExhaustRelay", mock.Anything, mock.Anything, msg.subject, 3, relayErr).Return(nil).Once()

	w.handleDelivery(context.Background(), msg)

	assert.True(t, msg.termed)
	assert.False(t, msg.naked)
	h.AssertExpectations(t)
}

func TestHandleDelivery_FatalIsExhaustedImmediately(t *testing.T) {
	h := &handlerMock{}
	w := newTestWorker(t, h)
	task := model.NewRelayTask()
	msg := taskDelivery(t, task, 1)
	relayErr := apperrors.NewFatal(apperrors.ErrMediaUnavailable, "status 404")

	h.On("RetryRelay", mock.Anything, mock.Anything).Return(relayErr).Once()
	h.On("ExhaustRelay", mock.Anything, mock.Anything, msg.subject, 1, relayErr).
		Return(errors.New("db down")).Once()

	w.handleDelivery(context.Background(), msg)

	assert.True(t, msg.termed)
	h.AssertExpectations(t)
}

func TestHandleDelivery_UndecodableIsTerminated(t *testing.T) {
	testCases := []struct {
		name string
		msg  *fakeDelivery
	}{
		{name: "garbage", msg: &fakeDelivery{data: []byte("{oops"), delivered: 1}},
		{name: "missing ids", msg: &fakeDelivery{data: []byte(`{"task_id":"x"}`), delivered: 1}},
		{name: "no metadata", msg: &fakeDelivery{data: []byte(`{}`), metaErr: errors.New("not a jetstream message")}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := &handlerMock{}
			w := newTestWorker(t, h)

			w.handleDelivery(context.Background(), tc.msg)

			assert.True(t, tc.msg.termed)
			h.AssertNotCalled(t, "RetryRelay", mock.Anything, mock.Anything)
		})
	}
}

func TestCalculateBackoffDelay(t *testing.T) {
	base, maxDelay := 30*time.Second, 5*time.Minute
	testCases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{4, 4 * time.Minute},
		{5, 5 * time.Minute},
		{40, 5 * time.Minute},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, calculateBackoffDelay(tc.attempt, base, maxDelay), "attempt %d", tc.attempt)
	}
}

func TestRetryHorizon(t *testing.T) {
	cfg := config.NATSConfig{
		RelayMaxAttempts: 6,
		RelayBaseDelay:   30 * time.Second,
		RelayMaxDelay:    15 * time.Minute,
		RelayAckWait:     2 * time.Minute,
	}
	// 30s+1m+2m+4m+8m of NAK delays and six ack waits
	assert.Equal(t, 27*time.Minute+30*time.Second, RetryHorizon(cfg))

	cfg.RelayMaxAttempts = 0
	assert.Equal(t, 2*time.Minute, RetryHorizon(cfg))
}

func TestNewWorker_SetsUpTopology(t *testing.T) {
	js := &jsmock.ClientMock{}
	cfg := testNATSConfig()
	js.On("SetupStream", mock.Anything, mock.Anything).Return(nil).Once()
	js.On("SetupConsumer", mock.Anything, cfg.RelayStream, mock.Anything).Return(nil).Once()

	w, err := NewWorker(cfg, zaptest.NewLogger(t), js, &handlerMock{})
	require.NoError(t, err)
	defer w.pool.Release()

	assert.Equal(t, 2, w.pool.Cap())
	js.AssertExpectations(t)
}

func TestNewWorker_TopologyFailure(t *testing.T) {
	js := &jsmock.ClientMock{}
	js.On("SetupStream", mock.Anything, mock.Anything).Return(errors.New("no jetstream")).Once()

	_, err := NewWorker(testNATSConfig(), zaptest.NewLogger(t), js, &handlerMock{})
	assert.ErrorContains(t, err, "relay stream")
}

package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	jsmock "gitlab.com/timkado/api/crm-webhook-ingestor/internal/jetstream/mock"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	storagemock "gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage/mock"
)

var sweepNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestSweeper(t *testing.T) (*Sweeper, *storagemock.MessageRepoMock, *jsmock.RelayPublisherMock) {
	t.Helper()
	messages := &storagemock.MessageRepoMock{}
	publisher := &jsmock.RelayPublisherMock{}
	s := New(config.SweeperConfig{
		Schedule:    "@every 1m",
		MinAge:      10 * time.Minute,
		BatchSize:   50,
		Concurrency: 2,
	}, messages, publisher, zaptest.NewLogger(t))
	s.now = func() time.Time { return sweepNow }
	return s, messages, publisher
}

func staleMessage(companyID string) model.Message {
	msg := model.NewMessage(&model.Message{CompanyID: companyID})
	msg.Type = model.MessageTypeImage
	msg.MediaURL = "https://provider.example.com/" + msg.ID + ".jpg"
	msg.MediaStatus = model.MediaStatusOriginal
	return *msg
}

func TestRunOnce_EnqueuesStaleMedia(t *testing.T) {
	s, messages, publisher := newTestSweeper(t)
	stale := []model.Message{staleMessage("c1"), staleMessage("c1"), staleMessage("c2")}

	messages.On("FindPendingMedia", mock.Anything, sweepNow.Add(-10*time.Minute), 50).Return(stale, nil).Once()
	messages.On("ClaimPendingMedia", mock.Anything, mock.Anything, sweepNow.Add(-10*time.Minute)).Return(true, nil).Times(3)

	var mu sync.Mutex
	seen := map[string]model.RelayTask{}
	publisher.On("PublishRelayTask", mock.Anything, mock.AnythingOfType("model.RelayTask")).
		Run(func(args mock.Arguments) {
			task := args.Get(1).(model.RelayTask)
			mu.Lock()
			seen[task.MessageID] = task
			mu.Unlock()
		}).Return(nil).Times(3)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, msg := range stale {
		task, ok := seen[msg.ID]
		require.True(t, ok, "message %s not enqueued", msg.ID)
		assert.Equal(t, model.RelayOriginSweeper, task.Origin)
		assert.Equal(t, msg.CompanyID, task.CompanyID)
		assert.Equal(t, msg.MediaURL, task.SourceURL)
		assert.NotEmpty(t, task.TaskID)
	}
	messages.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRunOnce_PublishFailuresAreCounted(t *testing.T) {
	s, messages, publisher := newTestSweeper(t)
	stale := []model.Message{staleMessage("c1"), staleMessage("c1")}

	messages.On("FindPendingMedia", mock.Anything, mock.Anything, 50).Return(stale, nil).Once()
	messages.On("ClaimPendingMedia", mock.Anything, mock.Anything, mock.Anything).Return(true, nil)
	publisher.On("PublishRelayTask", mock.Anything, mock.MatchedBy(func(task model.RelayTask) bool {
		return task.MessageID == stale[0].ID
	})).Return(nil).Once()
	publisher.On("PublishRelayTask", mock.Anything, mock.MatchedBy(func(task model.RelayTask) bool {
		return task.MessageID == stale[1].ID
	})).Return(errors.New("nats down")).Once()

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunOnce_WaitsOutRetryHorizon(t *testing.T) {
	s, messages, publisher := newTestSweeper(t)
	s.WithRetryHorizon(27*time.Minute + 30*time.Second)
	cutoff := sweepNow.Add(-(27*time.Minute + 30*time.Second))

	// Relayed inline 12 minutes ago: older than MinAge but still inside the
	// relay stream's retry window, so the lookup must not reach it.
	messages.On("FindPendingMedia", mock.Anything, cutoff, 50).Return([]model.Message{}, nil).Once()

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	messages.AssertExpectations(t)
	publisher.AssertNotCalled(t, "PublishRelayTask", mock.Anything, mock.Anything)
}

func TestRunOnce_MinAgeWinsOverShortHorizon(t *testing.T) {
	s, messages, _ := newTestSweeper(t)
	s.WithRetryHorizon(time.Minute)
	messages.On("FindPendingMedia", mock.Anything, sweepNow.Add(-10*time.Minute), 50).Return([]model.Message{}, nil).Once()

	_, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	messages.AssertExpectations(t)
}

func TestRunOnce_SkipsRowsClaimedElsewhere(t *testing.T) {
	s, messages, publisher := newTestSweeper(t)
	inFlight := staleMessage("c1")
	idle := staleMessage("c1")
	broken := staleMessage("c2")

	messages.On("FindPendingMedia", mock.Anything, mock.Anything, 50).
		Return([]model.Message{inFlight, idle, broken}, nil).Once()
	messages.On("ClaimPendingMedia", mock.Anything, inFlight.ID, mock.Anything).Return(false, nil).Once()
	messages.On("ClaimPendingMedia", mock.Anything, idle.ID, mock.Anything).Return(true, nil).Once()
	messages.On("ClaimPendingMedia", mock.Anything, broken.ID, mock.Anything).Return(false, errors.New("db down")).Once()
	publisher.On("PublishRelayTask", mock.Anything, mock.MatchedBy(func(task model.RelayTask) bool {
		return task.MessageID == idle.ID
	})).Return(nil).Once()

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	messages.AssertExpectations(t)
	publisher.AssertExpectations(t)
}

func TestRunOnce_NothingToDo(t *testing.T) {
	s, messages, publisher := newTestSweeper(t)
	messages.On("FindPendingMedia", mock.Anything, mock.Anything, 50).Return([]model.Message{}, nil).Once()

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	publisher.AssertNotCalled(t, "PublishRelayTask", mock.Anything, mock.Anything)
}

func TestRunOnce_LookupError(t *testing.T) {
	s, messages, _ := newTestSweeper(t)
	messages.On("FindPendingMedia", mock.Anything, mock.Anything, 50).Return(nil, errors.New("db down")).Once()

	_, err := s.RunOnce(context.Background())
	assert.ErrorContains(t, err, "find pending media")
}

func TestRunOnce_SkipsOverlappingRun(t *testing.T) {
	s, messages, _ := newTestSweeper(t)
	s.running.Store(true)

	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	messages.AssertNotCalled(t, "FindPendingMedia", mock.Anything, mock.Anything, mock.Anything)
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	s, _, _ := newTestSweeper(t)
	s.cfg.Schedule = "every now and then"
	assert.Error(t, s.Start())
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestSweeper(t)
	require.NoError(t, s.Start())
	s.Stop()
}

package usecase

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	storagemock "gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage/mock"
)

func TestEngagementScore(t *testing.T) {
	testCases := []struct {
		name     string
		seconds  int
		device   string
		referrer string
		want     int
	}{
		{"base only", 0, "mobile", "https://google.com", 2},
		{"over 30s", 31, "mobile", "https://google.com", 4},
		{"exactly 30s", 30, "mobile", "https://google.com", 2},
		{"over 60s", 61, "tablet", "https://google.com", 6},
		{"over 120s desktop direct", 121, "desktop", "direct", 10},
		{"over 120s desktop empty referrer", 500, "Desktop", "", 10},
		{"desktop short session", 45, "desktop", "https://x.com", 5},
		{"negative duration", -5, "", "", 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, EngagementScore(tc.seconds, tc.device, tc.referrer))
		})
	}
}

func TestEngagementScore_AlwaysInRange(t *testing.T) {
	devices := []string{"", "desktop", "DESKTOP", "mobile", "tablet", "smart-tv"}
	referrers := []string{"", "direct", "Direct", "https://google.com", "  "}
	for seconds := -100; seconds <= 100000; seconds += 17 {
		for _, d := range devices {
			for _, r := range referrers {
				score := EngagementScore(seconds, d, r)
				require.GreaterOrEqual(t, score, 0)
				require.LessOrEqual(t, score, 10)
			}
		}
	}
}

func visitorAt(id string, age time.Duration) model.Visitor {
	return model.Visitor{ID: "row-" + id, VisitorID: strPtr(id), DeviceType: "mobile", Referrer: "https://ads.example.com", CreatedAt: fixedNow.Add(-age)}
}

func TestSelectVisitorCandidate(t *testing.T) {
	recent, max := 30*time.Minute, 2*time.Hour

	t.Run("prefers the recent window", func(t *testing.T) {
		visitors := []model.Visitor{visitorAt("v90", 90*time.Minute), visitorAt("v10", 10*time.Minute), visitorAt("v40", 40*time.Minute)}
		got := SelectVisitorCandidate(visitors, fixedNow, recent, max)
		require.NotNil(t, got)
		assert.Equal(t, "v10", *got.VisitorID)
	})

	t.Run("accepts up to the max window", func(t *testing.T) {
		got := SelectVisitorCandidate([]model.Visitor{visitorAt("v90", 90*time.Minute)}, fixedNow, recent, max)
		require.NotNil(t, got)
		assert.Equal(t, "v90", *got.VisitorID)
	})

	t.Run("nothing within two hours", func(t *testing.T) {
		got := SelectVisitorCandidate([]model.Visitor{visitorAt("old", 130*time.Minute)}, fixedNow, recent, max)
		assert.Nil(t, got)
		assert.Nil(t, SelectVisitorCandidate(nil, fixedNow, recent, max))
	})

	t.Run("rows without a visitor id are ignored", func(t *testing.T) {
		anonymous := visitorAt("anon", 5*time.Minute)
		anonymous.VisitorID = nil
		blank := visitorAt("blank", 6*time.Minute)
		blank.VisitorID = strPtr(" ")
		got := SelectVisitorCandidate([]model.Visitor{anonymous, blank, visitorAt("v40", 40*time.Minute)}, fixedNow, recent, max)
		require.NotNil(t, got)
		assert.Equal(t, "v40", *got.VisitorID)
	})

	t.Run("newest wins inside the recent window", func(t *testing.T) {
		got := SelectVisitorCandidate([]model.Visitor{visitorAt("v20", 20*time.Minute), visitorAt("v5", 5*time.Minute)}, fixedNow, recent, max)
		require.NotNil(t, got)
		assert.Equal(t, "v5", *got.VisitorID)
	})
}

func setupEngine() (*AttributionEngine, *storagemock.LeadRepoMock, *storagemock.VisitorRepoMock) {
	leads := new(storagemock.LeadRepoMock)
	visitors := new(storagemock.VisitorRepoMock)
	engine := NewAttributionEngine(leads, visitors, config.AttributionConfig{}).WithClock(func() time.Time { return fixedNow })
	return engine, leads, visitors
}

func TestCorrelate_ExplicitVisitor(t *testing.T) {
	engine, leads, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	v := model.Visitor{VisitorID: strPtr("v_1"), DeviceType: "desktop", Referrer: "", CreatedAt: fixedNow.Add(-90 * time.Second)}
	visitors.On("FindLatest", mock.Anything, "v_1").Return(&v, nil).Once()
	visitors.On("SaveConversion", mock.Anything, mock.MatchedBy(func(c model.Conversion) bool {
		return c.LeadID == "l1" && c.VisitorID == "v_1" && c.SessionDuration == 90 && c.EngagementScore == 8 && c.DeviceType == "desktop"
	})).Return(true, nil).Once()
	leads.On("UpdateAttribution", mock.Anything, "l1", "v_1", 8, 90).Return(true, nil).Once()

	corr, err := engine.Correlate(ctx, "l1", "v_1")
	require.NoError(t, err)
	require.NotNil(t, corr)
	assert.Equal(t, Correlation{VisitorID: "v_1", Score: 8, SessionSeconds: 90, Converted: true, LeadUpdated: true}, *corr)
	leads.AssertExpectations(t)
	visitors.AssertExpectations(t)
}

func TestCorrelate_ExplicitVisitorAlreadyConverted(t *testing.T) {
	engine, leads, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	v := model.Visitor{VisitorID: strPtr("v_1"), DeviceType: "mobile", Referrer: "direct", CreatedAt: fixedNow.Add(-10 * time.Second)}
	visitors.On("FindLatest", mock.Anything, "v_1").Return(&v, nil).Once()
	visitors.On("SaveConversion", mock.Anything, mock.Anything).Return(false, nil).Once()
	leads.On("UpdateAttribution", mock.Anything, "l1", "v_1", 3, 10).Return(true, nil).Once()

	corr, err := engine.Correlate(ctx, "l1", "v_1")
	require.NoError(t, err)
	assert.False(t, corr.Converted)
	assert.True(t, corr.LeadUpdated)
	leads.AssertExpectations(t)
}

func TestCorrelate_ExplicitVisitorUnknown(t *testing.T) {
	engine, leads, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	visitors.On("FindLatest", mock.Anything, "v_missing").Return(nil, apperrors.ErrNotFound).Once()

	corr, err := engine.Correlate(ctx, "l1", "v_missing")
	require.NoError(t, err)
	assert.Nil(t, corr)
	visitors.AssertNotCalled(t, "SaveConversion", mock.Anything, mock.Anything)
	leads.AssertNotCalled(t, "UpdateAttribution", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCorrelate_Retroactive(t *testing.T) {
	engine, leads, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	candidates := []model.Visitor{visitorAt("v90", 90*time.Minute), visitorAt("v10", 10*time.Minute), visitorAt("v40", 40*time.Minute)}
	visitors.On("FindRecent", mock.Anything, fixedNow.Add(-2*time.Hour), 50).Return(candidates, nil).Once()
	visitors.On("SaveConversion", mock.Anything, mock.MatchedBy(func(c model.Conversion) bool {
		return c.VisitorID == "v10" && c.SessionDuration == 600
	})).Return(true, nil).Once()
	// 600s, mobile, external referrer: 2 + 2 + 2 + 2
	leads.On("UpdateAttribution", mock.Anything, "l1", "v10", 8, 600).Return(true, nil).Once()

	corr, err := engine.Correlate(ctx, "l1", "")
	require.NoError(t, err)
	require.NotNil(t, corr)
	assert.True(t, corr.Retroactive)
	assert.Equal(t, "v10", corr.VisitorID)
	leads.AssertExpectations(t)
	visitors.AssertExpectations(t)
}

func TestCorrelate_RetroactiveNoCandidate(t *testing.T) {
	engine, leads, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	visitors.On("FindRecent", mock.Anything, mock.AnythingOfType("time.Time"), 50).Return([]model.Visitor{}, nil).Once()

	corr, err := engine.Correlate(ctx, "l1", "")
	require.NoError(t, err)
	assert.Nil(t, corr)
	leads.AssertNotCalled(t, "UpdateAttribution", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCorrelate_RetroactiveCandidateAlreadyConverted(t *testing.T) {
	engine, leads, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	visitors.On("FindRecent", mock.Anything, mock.AnythingOfType("time.Time"), 50).Return([]model.Visitor{visitorAt("v5", 5*time.Minute)}, nil).Once()
	visitors.On("SaveConversion", mock.Anything, mock.Anything).Return(false, nil).Once()

	corr, err := engine.Correlate(ctx, "l1", "")
	require.NoError(t, err)
	require.NotNil(t, corr)
	assert.False(t, corr.Converted)
	assert.False(t, corr.LeadUpdated)
	leads.AssertNotCalled(t, "UpdateAttribution", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCorrelate_LookupError(t *testing.T) {
	engine, _, visitors := setupEngine()
	ctx := tenantCtx(t, "c1")

	dbErr := errors.New("connection reset")
	visitors.On("FindRecent", mock.Anything, mock.Anything, 50).Return(nil, dbErr).Once()

	corr, err := engine.Correlate(ctx, "l1", "")
	assert.Nil(t, corr)
	assert.ErrorIs(t, err, dbErr)
}

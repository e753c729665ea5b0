package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/apperrors"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/utils"
)

const (
	maxEngagementScore     = 10
	baseEngagementScore    = 2
	defaultRecentWindow    = 30 * time.Minute
	defaultMaxWindow       = 2 * time.Hour
	defaultCandidateLimit  = 50
	directReferrer         = "direct"
	desktopDeviceType      = "desktop"
	sessionThresholdShort  = 30
	sessionThresholdMedium = 60
	sessionThresholdLong   = 120
)

// EngagementScore rates a visitor session in [0, 10].
func EngagementScore(sessionSeconds int, deviceType, referrer string) int {
	score := baseEngagementScore
	if sessionSeconds > sessionThresholdShort {
		score += 2
	}
	if sessionSeconds > sessionThresholdMedium {
		score += 2
	}
	if sessionSeconds > sessionThresholdLong {
		score += 2
	}
	if strings.EqualFold(strings.TrimSpace(deviceType), desktopDeviceType) {
		score++
	}
	if ref := strings.TrimSpace(referrer); ref == "" || strings.EqualFold(ref, directReferrer) {
		score++
	}
	if score > maxEngagementScore {
		score = maxEngagementScore
	}
	if score < 0 {
		score = 0
	}
	return score
}

// SelectVisitorCandidate picks the visitor a lead most likely came from: the newest
// row with a visitor id inside recent, else the newest inside max. Nil when none qualify.
func SelectVisitorCandidate(visitors []model.Visitor, now time.Time, recent, max time.Duration) *model.Visitor {
	candidates := make([]model.Visitor, 0, len(visitors))
	for _, v := range visitors {
		if v.VisitorID == nil || strings.TrimSpace(*v.VisitorID) == "" {
			continue
		}
		if now.Sub(v.CreatedAt) > max {
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.After(candidates[j].CreatedAt)
	})

	for i := range candidates {
		if now.Sub(candidates[i].CreatedAt) <= recent {
			return &candidates[i]
		}
	}
	return &candidates[0]
}

// Correlation is the outcome of matching a lead to a visitor.
type Correlation struct {
	VisitorID      string
	Score          int
	SessionSeconds int
	Retroactive    bool
	Converted      bool // a conversion row was written by this call
	LeadUpdated    bool
}

// AttributionEngine correlates leads to tracked visitors.
type AttributionEngine struct {
	leads    storage.LeadRepo
	visitors storage.VisitorRepo
	cfg      config.AttributionConfig
	now      func() time.Time
}

// NewAttributionEngine creates an engine; zero windows fall back to 30 minutes / 2 hours.
func NewAttributionEngine(leads storage.LeadRepo, visitors storage.VisitorRepo, cfg config.AttributionConfig) *AttributionEngine {
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = defaultRecentWindow
	}
	if cfg.MaxWindow <= 0 {
		cfg.MaxWindow = defaultMaxWindow
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = defaultCandidateLimit
	}
	return &AttributionEngine{leads: leads, visitors: visitors, cfg: cfg, now: utils.Now}
}

// WithClock overrides the engine's time source.
func (e *AttributionEngine) WithClock(now func() time.Time) *AttributionEngine {
	e.now = now
	return e
}

// Correlate links leadID to visitorID, or to the best recent visitor when visitorID
// is empty. A nil Correlation with a nil error means nothing qualified.
func (e *AttributionEngine) Correlate(ctx context.Context, leadID, visitorID string) (*Correlation, error) {
	log := logger.FromContext(ctx).With(zap.String("lead_id", leadID))
	now := e.now()

	var (
		visitor     *model.Visitor
		retroactive bool
	)
	if visitorID != "" {
		v, err := e.visitors.FindLatest(ctx, visitorID)
		if err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				log.Debug("No tracking row for visitor", zap.String("visitor_id", visitorID))
				return nil, nil
			}
			return nil, fmt.Errorf("find visitor %s: %w", visitorID, err)
		}
		visitor = v
	} else {
		retroactive = true
		recent, err := e.visitors.FindRecent(ctx, now.Add(-e.cfg.MaxWindow), e.cfg.CandidateLimit)
		if err != nil {
			return nil, fmt.Errorf("list recent visitors: %w", err)
		}
		visitor = SelectVisitorCandidate(recent, now, e.cfg.RecentWindow, e.cfg.MaxWindow)
		if visitor == nil {
			log.Debug("No visitor candidate for retroactive match", zap.Int("rows", len(recent)))
			return nil, nil
		}
		visitorID = *visitor.VisitorID
	}

	session := int(now.Sub(visitor.CreatedAt).Seconds())
	if session < 0 {
		session = 0
	}
	corr := &Correlation{
		VisitorID:      visitorID,
		Score:          EngagementScore(session, visitor.DeviceType, visitor.Referrer),
		SessionSeconds: session,
		Retroactive:    retroactive,
	}
	observer.ObserveEngagementScore(corr.Score)

	converted, err := e.visitors.SaveConversion(ctx, model.Conversion{
		LeadID:          leadID,
		VisitorID:       visitorID,
		SessionDuration: session,
		EngagementScore: corr.Score,
		DeviceType:      visitor.DeviceType,
		Referrer:        visitor.Referrer,
	})
	if err != nil {
		return corr, fmt.Errorf("save conversion: %w", err)
	}
	corr.Converted = converted

	// A guessed visitor that already converted belongs to another lead.
	if retroactive && !converted {
		log.Debug("Retroactive candidate already converted, lead left unattributed", zap.String("visitor_id", visitorID))
		return corr, nil
	}

	updated, err := e.leads.UpdateAttribution(ctx, leadID, visitorID, corr.Score, session)
	if err != nil {
		return corr, fmt.Errorf("update lead attribution: %w", err)
	}
	corr.LeadUpdated = updated
	log.Info("Lead correlated to visitor",
		zap.String("visitor_id", visitorID),
		zap.Int("engagement_score", corr.Score),
		zap.Int("session_seconds", session),
		zap.Bool("retroactive", retroactive),
	)
	return corr, nil
}

package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/config"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/model"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/observer"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/storage"
	"gitlab.com/timkado/api/crm-webhook-ingestor/internal/tenant"
	"gitlab.com/timkado/api/crm-webhook-ingestor/pkg/logger"
)

const (
	AttributionSourceForm    = "form"
	AttributionSourceMessage = "message"

	defaultAttributionTimeout = 30 * time.Second
)

// AttributionTask is the best-effort work queued after a lead or inbound message
// has been persisted.
type AttributionTask struct {
	Ctx       context.Context // detached from the inbound request
	CompanyID string
	Source    string

	// form submissions
	LeadID    string
	VisitorID string
	Fields    []FormField

	// inbound messages
	MessageID   string
	Phone       string
	ContactName string
}

// IAttributionWorker runs attribution tasks off the request path.
type IAttributionWorker interface {
	SubmitTask(task AttributionTask) error
	Stop()
}

// AttributionWorker manages the worker pool for lead attribution. Submitted
// tasks wait in a bounded queue that a single dispatcher drains into the pool.
type AttributionWorker struct {
	pool       *ants.PoolWithFunc
	queue      chan AttributionTask
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	leads      storage.LeadRepo
	engine     *AttributionEngine
	registry   *CustomFieldRegistry
	cfg        config.WorkerPoolConfig
	baseLogger *zap.Logger
}

var _ IAttributionWorker = (*AttributionWorker)(nil)

// NewAttributionWorker creates and initializes the attribution worker pool.
func NewAttributionWorker(
	cfg config.WorkerPoolConfig,
	leads storage.LeadRepo,
	engine *AttributionEngine,
	registry *CustomFieldRegistry,
	baseLogger *zap.Logger,
) (*AttributionWorker, error) {
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	worker := &AttributionWorker{
		queue:      make(chan AttributionTask, cfg.QueueSize),
		done:       make(chan struct{}),
		leads:      leads,
		engine:     engine,
		registry:   registry,
		cfg:        cfg,
		baseLogger: baseLogger.Named("attribution_worker"),
	}

	pool, err := ants.NewPoolWithFunc(cfg.PoolSize, func(i interface{}) {
		task, ok := i.(AttributionTask)
		if !ok {
			worker.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		worker.processTask(task)
	},
		ants.WithExpiryDuration(cfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(err interface{}) {
			worker.baseLogger.Error("Panic recovered in attribution worker", zap.Any("panic_error", err), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attribution worker pool: %w", err)
	}
	worker.pool = pool
	worker.wg.Add(1)
	go worker.dispatch()

	worker.baseLogger.Info("Attribution worker pool initialized",
		zap.Int("pool_size", cfg.PoolSize),
		zap.Int("queue_size", cfg.QueueSize),
		zap.Duration("max_block", cfg.MaxBlock),
		zap.Duration("expiry_time", cfg.ExpiryTime),
		zap.Duration("task_timeout", cfg.TaskTimeout),
	)
	return worker, nil
}

// SubmitTask queues a task. When the queue stays full for MaxBlock it gives up
// with ants.ErrPoolOverload, so callers on the request path never wait longer.
func (w *AttributionWorker) SubmitTask(task AttributionTask) error {
	start := time.Now()
	observer.IncAttributionSubmitted(task.CompanyID, task.Source)

	err := w.enqueue(task)
	observer.SetAttributionQueueLength(len(w.queue))
	if err != nil {
		w.baseLogger.Warn("Failed to submit attribution task to pool",
			zap.String("company_id", task.CompanyID),
			zap.String("source", task.Source),
			zap.Duration("submit_duration", time.Since(start)),
			zap.Error(err),
		)
		observer.IncAttributionProcessed(task.CompanyID, task.Source, "submit_error")
		return err
	}
	return nil
}

func (w *AttributionWorker) enqueue(task AttributionTask) error {
	select {
	case <-w.done:
		return fmt.Errorf("attribution worker stopped: %w", ants.ErrPoolClosed)
	default:
	}

	select {
	case w.queue <- task:
		return nil
	default:
	}
	if w.cfg.MaxBlock <= 0 {
		return fmt.Errorf("attribution pool overload: %w", ants.ErrPoolOverload)
	}

	timer := time.NewTimer(w.cfg.MaxBlock)
	defer timer.Stop()
	select {
	case <-w.done:
		return fmt.Errorf("attribution worker stopped: %w", ants.ErrPoolClosed)
	case w.queue <- task:
		return nil
	case <-timer.C:
		return fmt.Errorf("attribution pool overload after %s: %w", w.cfg.MaxBlock, ants.ErrPoolOverload)
	}
}

// dispatch feeds queued tasks into the pool, blocking while every worker is busy.
func (w *AttributionWorker) dispatch() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case task := <-w.queue:
			observer.SetAttributionQueueLength(len(w.queue))
			if err := w.pool.Invoke(task); err != nil {
				w.baseLogger.Warn("Dropping attribution task",
					zap.String("company_id", task.CompanyID),
					zap.String("source", task.Source),
					zap.Error(err),
				)
				observer.IncAttributionProcessed(task.CompanyID, task.Source, "submit_error")
			}
		}
	}
}

func (w *AttributionWorker) processTask(task AttributionTask) {
	start := time.Now()

	parent := task.Ctx
	if parent == nil {
		parent = context.Background()
	}
	ctx := logger.WithLogger(tenant.WithCompanyID(parent, task.CompanyID), logger.FromContextOr(parent, w.baseLogger))
	timeout := w.cfg.TaskTimeout
	if timeout <= 0 {
		timeout = defaultAttributionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	status := w.run(ctx, task)

	duration := time.Since(start)
	observer.ObserveAttributionDuration(task.Source, duration)
	observer.IncAttributionProcessed(task.CompanyID, task.Source, status)
	logger.FromContext(ctx).Debug("Finished attribution task",
		zap.String("source", task.Source),
		zap.Duration("duration", duration),
		zap.String("final_status", status),
	)
}

// run never returns an error: every failure is logged and folded into the status.
func (w *AttributionWorker) run(ctx context.Context, task AttributionTask) string {
	log := logger.FromContext(ctx)

	leadID := task.LeadID
	switch task.Source {
	case AttributionSourceMessage:
		name := task.ContactName
		if name == "" {
			name = task.Phone
		}
		lead, created, err := w.leads.FindOrCreateByPhone(ctx, &model.Lead{
			ID:     uuid.NewString(),
			Name:   name,
			Phone:  task.Phone,
			Origin: model.LeadOriginWhatsApp,
			Status: model.LeadStatusNew,
		})
		if err != nil {
			log.Warn("Failed to resolve lead for inbound message", zap.String("message_id", task.MessageID), zap.Error(err))
			return "failure_lead"
		}
		if !created {
			// An existing lead was already attributed when it was created.
			return "skipped_lead_exists"
		}
		leadID = lead.ID
	case AttributionSourceForm:
		if w.registry != nil && len(task.Fields) > 0 {
			if _, err := w.registry.Persist(ctx, leadID, task.Fields); err != nil {
				log.Warn("Some custom fields were not stored", zap.String("lead_id", leadID), zap.Error(err))
			}
		}
	default:
		log.Error("Unknown attribution source", zap.String("source", task.Source))
		return "skipped_unknown_source"
	}

	corr, err := w.engine.Correlate(ctx, leadID, task.VisitorID)
	if err != nil {
		log.Warn("Visitor correlation failed", zap.String("lead_id", leadID), zap.Error(err))
		return "failure_correlation"
	}
	if corr == nil {
		return "no_candidate"
	}
	return "success"
}

// Stop gracefully shuts down the worker pool. Tasks still queued are dropped.
func (w *AttributionWorker) Stop() {
	if w.pool == nil {
		return
	}
	w.stopOnce.Do(func() {
		w.baseLogger.Info("Releasing attribution worker pool", zap.Int("dropped_queued_tasks", len(w.queue)))
		start := time.Now()
		close(w.done)
		w.pool.Release()
		w.wg.Wait()
		w.baseLogger.Info("Attribution worker pool released", zap.Duration("duration", time.Since(start)))
	})
}

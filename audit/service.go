// Package audit records combat and effect mutations asynchronously.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kasuganosora/combatcore/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Actions recorded by the REST layer.
const (
	ActionCreate       = "character.create"
	ActionDelete       = "character.delete"
	ActionDamage       = "character.damage"
	ActionHeal         = "character.heal"
	ActionConsumeMP    = "character.mp_consume"
	ActionRestoreMP    = "character.mp_restore"
	ActionRevive       = "character.revive"
	ActionUpdateStats  = "character.stats"
	ActionExperience   = "character.experience"
	ActionMove         = "character.move"
	ActionEffectApply  = "effect.apply"
	ActionEffectRemove = "effect.remove"
	ActionEffectDispel = "effect.dispel_type"
	ActionSweep        = "effect.sweep"
)

// Entry holds one audit event to be logged.
type Entry struct {
	TraceID  string
	CharID   *int64
	Action   string
	Request  interface{}
	Response interface{}
	Err      error
	IP       string
	Duration time.Duration
}

// Config tunes batching. Zero values select the defaults.
type Config struct {
	QueueSize     int           // default 1024
	BatchSize     int           // default 100
	FlushInterval time.Duration // default 2s
}

// Service logs audit entries asynchronously in batches. Entries are dropped
// with a warning when the queue is full.
type Service struct {
	db     *gorm.DB
	ch     chan *model.AuditLog
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	logger *zap.Logger

	batchSize int
	interval  time.Duration
}

// New creates an audit Service with default batching and starts its worker.
func New(db *gorm.DB, logger *zap.Logger) *Service {
	return NewWithConfig(db, Config{}, logger)
}

// NewWithConfig creates an audit Service and starts its worker.
func NewWithConfig(db *gorm.DB, cfg Config, logger *zap.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	svc := &Service{
		db:        db,
		ch:        make(chan *model.AuditLog, cfg.QueueSize),
		stopCh:    make(chan struct{}),
		logger:    logger,
		batchSize: cfg.BatchSize,
		interval:  cfg.FlushInterval,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Log enqueues an audit entry for async DB write.
func (svc *Service) Log(entry Entry) {
	record := &model.AuditLog{
		TraceID:    entry.TraceID,
		CharID:     entry.CharID,
		Action:     entry.Action,
		Request:    toJSON(entry.Request),
		Response:   toJSON(entry.Response),
		IP:         entry.IP,
		DurationMs: int(entry.Duration / time.Millisecond),
	}
	if entry.Err != nil {
		record.Error = entry.Err.Error()
	}
	select {
	case svc.ch <- record:
	default:
		svc.logger.Warn("audit channel full, dropping entry",
			zap.String("action", entry.Action))
	}
}

func toJSON(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// Recent returns up to limit audit rows for charID, newest first.
func (svc *Service) Recent(ctx context.Context, charID int64, limit int) ([]model.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var logs []model.AuditLog
	err := svc.db.WithContext(ctx).
		Where("char_id = ?", charID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// Stop flushes remaining entries and shuts down the worker.
// It blocks until the worker goroutine has finished.
func (svc *Service) Stop(_ context.Context) {
	svc.once.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.interval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case entry := <-svc.ch:
			batch = append(batch, entry)
			if len(batch) >= svc.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case entry := <-svc.ch:
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/flybeeper/trajectory-backend/internal/collection"
	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/geo"
	"github.com/flybeeper/trajectory-backend/internal/metrics"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/internal/repository"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// Builder периодически перестраивает набор траекторий из исторического
// хранилища записей и публикует его читателям без блокировок через
// atomic.Value. Горячее хранилище и геоиндекс обновляются после каждой
// успешной перестройки.
type Builder struct {
	history repository.HistoryRepository
	store   repository.Repository
	index   *geo.Index
	logger  *utils.Logger
	config  *config.CollectionConfig

	current atomic.Value // *collection.Collection
}

// NewBuilder создает новый Builder. store может быть nil: тогда
// траектории живут только в памяти процесса.
func NewBuilder(history repository.HistoryRepository, store repository.Repository, index *geo.Index, logger *utils.Logger, cfg *config.CollectionConfig) *Builder {
	return &Builder{
		history: history,
		store:   store,
		index:   index,
		logger:  logger,
		config:  cfg,
	}
}

// Collection возвращает последний успешно построенный набор траекторий
// либо nil, если ни одна перестройка еще не завершилась
func (b *Builder) Collection() *collection.Collection {
	if v := b.current.Load(); v != nil {
		return v.(*collection.Collection)
	}
	return nil
}

// Rebuild загружает записи из исторического хранилища и строит новый
// набор траекторий. Пустой вход (ErrEmptyInput) не считается сбоем:
// текущий набор остается прежним.
func (b *Builder) Rebuild(ctx context.Context) error {
	start := time.Now()

	records, err := b.history.LoadRecords(ctx, time.Now().Add(-b.config.LoadWindow), b.config.LoadLimit)
	if err != nil {
		metrics.CollectionBuildErrors.Inc()
		return err
	}

	coll, err := collection.New(records, b.config.GroupKey, b.config.MinLength)
	if err != nil {
		if errors.Is(err, models.ErrEmptyInput) {
			b.logger.WithField("records", len(records)).Debug("No trajectory survived the rebuild")
			return nil
		}
		metrics.CollectionBuildErrors.Inc()
		return err
	}

	b.current.Store(coll)
	b.refreshIndex(coll)
	b.persist(ctx, coll)

	metrics.CollectionBuildDuration.Observe(time.Since(start).Seconds())
	metrics.CollectionTrajectories.Set(float64(coll.Len()))

	b.logger.WithFields(map[string]interface{}{
		"records":      len(records),
		"trajectories": coll.Len(),
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Trajectory collection rebuilt")

	return nil
}

// Run перестраивает набор по тикеру до отмены контекста
func (b *Builder) Run(ctx context.Context) {
	ticker := time.NewTicker(b.config.RebuildInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Rebuild(ctx); err != nil {
				b.logger.WithField("error", err).Error("Failed to rebuild trajectory collection")
			}
		}
	}
}

// refreshIndex заменяет содержимое геоиндекса траекториями нового набора.
// Индекс работает в координатах lon/lat, поэтому траектории в проекционных
// CRS в него не попадают и обслуживаются только по идентификатору.
func (b *Builder) refreshIndex(coll *collection.Collection) {
	if b.index == nil {
		return
	}

	b.index.Clear()
	for _, traj := range coll.Trajectories() {
		if !models.IsGeographicCRS(traj.CRS) {
			continue
		}
		b.index.Insert(traj.ID, traj.Bounds())
	}
}

// persist сохраняет траектории набора в горячее хранилище (best effort)
func (b *Builder) persist(ctx context.Context, coll *collection.Collection) {
	if b.store == nil {
		return
	}

	for _, traj := range coll.Trajectories() {
		if err := b.store.SaveTrajectory(ctx, traj); err != nil {
			b.logger.WithFields(map[string]interface{}{
				"trajectory_id": traj.ID,
				"error":         err,
			}).Warn("Failed to persist trajectory")
		}
	}
}

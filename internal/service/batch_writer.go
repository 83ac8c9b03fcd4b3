package service

import (
	"context"
	"sync"
	"time"

	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/metrics"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/internal/repository"
	"github.com/flybeeper/trajectory-backend/pkg/pool"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// BatchWriter асинхронный writer для батчевого сохранения записей точек
// в историческое хранилище
type BatchWriter struct {
	history repository.HistoryRepository
	logger  *utils.Logger
	config  *config.PerformanceConfig

	recordChan chan models.PointRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBatchWriter создает новый BatchWriter
func NewBatchWriter(history repository.HistoryRepository, logger *utils.Logger, cfg *config.PerformanceConfig) *BatchWriter {
	ctx, cancel := context.WithCancel(context.Background())

	return &BatchWriter{
		history:    history,
		logger:     logger,
		config:     cfg,
		recordChan: make(chan models.PointRecord, cfg.ChannelBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start запускает фоновый цикл батчинга
func (w *BatchWriter) Start() {
	w.wg.Add(1)
	go w.run()

	w.logger.WithFields(map[string]interface{}{
		"batch_size":     w.config.BatchSize,
		"flush_interval": w.config.FlushInterval,
	}).Info("Batch writer started")
}

// Stop останавливает writer, дописывая накопленный буфер
func (w *BatchWriter) Stop() {
	w.cancel()
	close(w.recordChan)
	w.wg.Wait()
	w.logger.Info("Batch writer stopped")
}

// Enqueue ставит запись в очередь на сохранение. При переполненной
// очереди запись отбрасывается: живой поток важнее бэкфила.
func (w *BatchWriter) Enqueue(record models.PointRecord) bool {
	select {
	case w.recordChan <- record:
		metrics.RecordsQueued.Inc()
		return true
	default:
		metrics.RecordsDropped.Inc()
		return false
	}
}

// run основной цикл: копит записи до размера батча либо до истечения
// интервала, затем сбрасывает в хранилище
func (w *BatchWriter) run() {
	defer w.wg.Done()

	buf := pool.GetRecordBuffer()
	defer pool.PutRecordBuffer(buf)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case record, ok := <-w.recordChan:
			if !ok {
				w.flush(buf)
				return
			}
			*buf = append(*buf, record)
			if len(*buf) >= w.config.BatchSize {
				w.flush(buf)
			}

		case <-ticker.C:
			w.flush(buf)
		}
	}
}

// flush записывает буфер в хранилище с повторами и очищает его
func (w *BatchWriter) flush(buf *[]models.PointRecord) {
	if len(*buf) == 0 {
		return
	}

	records := *buf
	var err error
	for attempt := 0; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.config.RetryDelay)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = w.history.SaveRecordsBatch(ctx, records)
		cancel()

		if err == nil {
			break
		}
	}

	if err != nil {
		metrics.FlushErrors.Inc()
		w.logger.WithFields(map[string]interface{}{
			"records": len(records),
			"error":   err,
		}).Error("Failed to flush point records")
	} else {
		metrics.RecordsFlushed.Add(float64(len(records)))
		w.logger.WithField("records", len(records)).Debug("Flushed point records")
	}

	*buf = (*buf)[:0]
}

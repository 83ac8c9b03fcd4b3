package repository

import (
	"context"
	"time"

	"github.com/flybeeper/trajectory-backend/internal/models"
)

// Repository интерфейс горячего хранилища построенных траекторий
type Repository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Операции с траекториями
	SaveTrajectory(ctx context.Context, traj *models.Trajectory) error
	GetTrajectory(ctx context.Context, id string) (*models.Trajectory, error)
	ListTrajectoryIDs(ctx context.Context) ([]string, error)
	GetTrajectoriesInRadius(ctx context.Context, lat, lon, radiusKM float64) ([]*models.Trajectory, error)
	DeleteTrajectory(ctx context.Context, id string) error

	// Статистика
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// HistoryRepository интерфейс исторического хранилища входных записей,
// из которого перестраивается набор траекторий
type HistoryRepository interface {
	// Проверка соединения
	Ping(ctx context.Context) error
	Close() error

	// Операции с записями
	SaveRecordsBatch(ctx context.Context, records []models.PointRecord) error
	LoadRecords(ctx context.Context, since time.Time, limit int) ([]models.PointRecord, error)

	// Обслуживание
	CleanupOldRecords(ctx context.Context, olderThan time.Duration) error
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

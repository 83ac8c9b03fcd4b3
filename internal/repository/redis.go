package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

const (
	// Ключи хранилища
	TrajectoryPrefix = "trajectory:"      // trajectory:{id} - JSON траектории
	TrajectoryIDsKey = "trajectories:ids" // SET всех идентификаторов
	TrajectoryGeoKey = "trajectories:geo" // GEO индекс центроидов (географические CRS)

	// TTL построенных траекторий: следующая перестройка набора запишет их заново
	TrajectoryTTL = 24 * time.Hour
)

// storedTrajectory сериализуемое представление траектории
type storedTrajectory struct {
	ID    string       `json:"id"`
	CRS   string       `json:"crs"`
	Fixes []models.Fix `json:"fixes"`
}

// RedisRepository горячее хранилище траекторий в Redis
type RedisRepository struct {
	client *redis.Client
	logger *utils.Logger
	config *config.RedisConfig
}

// NewRedisRepository создает новый Redis репозиторий
func NewRedisRepository(cfg *config.RedisConfig, logger *utils.Logger) (*RedisRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	opt, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.Password = cfg.Password
	opt.DB = cfg.DB
	opt.PoolSize = cfg.PoolSize
	opt.MinIdleConns = cfg.MinIdleConns
	opt.ConnMaxIdleTime = 30 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	return &RedisRepository{
		client: redis.NewClient(opt),
		logger: logger,
		config: cfg,
	}, nil
}

// Ping проверяет соединение с Redis
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close закрывает соединение с Redis
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// SaveTrajectory сохраняет траекторию: JSON по ключу, идентификатор в
// общий SET, центроид ограничивающего прямоугольника в GEO индекс
// (только для географических CRS)
func (r *RedisRepository) SaveTrajectory(ctx context.Context, traj *models.Trajectory) error {
	data, err := json.Marshal(storedTrajectory{
		ID:    traj.ID,
		CRS:   traj.CRS,
		Fixes: traj.Fixes(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal trajectory %q: %w", traj.ID, err)
	}

	pipe := r.client.Pipeline()
	pipe.Set(ctx, TrajectoryPrefix+traj.ID, data, TrajectoryTTL)
	pipe.SAdd(ctx, TrajectoryIDsKey, traj.ID)

	if models.IsGeographicCRS(traj.CRS) {
		b := traj.Bounds()
		pipe.GeoAdd(ctx, TrajectoryGeoKey, &redis.GeoLocation{
			Name:      traj.ID,
			Longitude: (b.Min.X + b.Max.X) / 2,
			Latitude:  (b.Min.Y + b.Max.Y) / 2,
		})
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save trajectory %q: %w", traj.ID, err)
	}
	return nil
}

// GetTrajectory загружает траекторию по идентификатору
func (r *RedisRepository) GetTrajectory(ctx context.Context, id string) (*models.Trajectory, error) {
	data, err := r.client.Get(ctx, TrajectoryPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("%w: %q", models.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trajectory %q: %w", id, err)
	}

	var stored storedTrajectory
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trajectory %q: %w", id, err)
	}

	return models.NewTrajectory(stored.ID, stored.CRS, stored.Fixes)
}

// ListTrajectoryIDs возвращает все сохраненные идентификаторы
func (r *RedisRepository) ListTrajectoryIDs(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, TrajectoryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list trajectory ids: %w", err)
	}
	return ids, nil
}

// GetTrajectoriesInRadius возвращает траектории, чьи центроиды попадают в
// радиус radiusKM от центра
func (r *RedisRepository) GetTrajectoriesInRadius(ctx context.Context, lat, lon, radiusKM float64) ([]*models.Trajectory, error) {
	locations, err := r.client.GeoSearchLocation(ctx, TrajectoryGeoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  lon,
			Latitude:   lat,
			Radius:     radiusKM,
			RadiusUnit: "km",
		},
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to geo search trajectories: %w", err)
	}

	trajectories := make([]*models.Trajectory, 0, len(locations))
	for _, loc := range locations {
		traj, err := r.GetTrajectory(ctx, loc.Name)
		if err != nil {
			// Блоб истек раньше GEO записи
			r.logger.WithFields(map[string]interface{}{
				"trajectory_id": loc.Name,
				"error":         err,
			}).Warn("Skipping trajectory missing from store")
			continue
		}
		trajectories = append(trajectories, traj)
	}

	return trajectories, nil
}

// DeleteTrajectory удаляет траекторию и ее индексные записи
func (r *RedisRepository) DeleteTrajectory(ctx context.Context, id string) error {
	pipe := r.client.Pipeline()
	pipe.Del(ctx, TrajectoryPrefix+id)
	pipe.SRem(ctx, TrajectoryIDsKey, id)
	pipe.ZRem(ctx, TrajectoryGeoKey, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete trajectory %q: %w", id, err)
	}
	return nil
}

// GetStats возвращает статистику хранилища
func (r *RedisRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	count, err := r.client.SCard(ctx, TrajectoryIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get trajectory count: %w", err)
	}

	return map[string]interface{}{
		"trajectories": count,
	}, nil
}

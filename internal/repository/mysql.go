package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ctessum/geom"
	_ "github.com/go-sql-driver/mysql"

	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/pkg/pool"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// MySQLRepository историческое хранилище входных записей точек
type MySQLRepository struct {
	db     *sql.DB
	logger *utils.Logger
	config *config.MySQLConfig
}

// NewMySQLRepository создает новый MySQL репозиторий
func NewMySQLRepository(cfg *config.MySQLConfig, logger *utils.Logger) (*MySQLRepository, error) {
	if cfg == nil {
		return nil, fmt.Errorf("mysql config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mysql DSN is required")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetConnMaxLifetime(1 * time.Hour)

	repo := &MySQLRepository{
		db:     db,
		logger: logger,
		config: cfg,
	}

	if err := repo.ensureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return repo, nil
}

// ensureSchema создает таблицу записей, если ее еще нет
func (r *MySQLRepository) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS point_record (
			id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
			datestamp DATETIME(3) NOT NULL,
			x DOUBLE NOT NULL,
			y DOUBLE NOT NULL,
			crs VARCHAR(64) NOT NULL,
			attributes JSON NULL,
			PRIMARY KEY (id),
			KEY idx_datestamp (datestamp)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure point_record schema: %w", err)
	}
	return nil
}

// Ping проверяет соединение с MySQL
func (r *MySQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close закрывает соединение с MySQL
func (r *MySQLRepository) Close() error {
	return r.db.Close()
}

// SaveRecordsBatch сохраняет записи одним multi-row INSERT
func (r *MySQLRepository) SaveRecordsBatch(ctx context.Context, records []models.PointRecord) error {
	if len(records) == 0 {
		return nil
	}

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)

	buf.WriteString("INSERT INTO point_record (datestamp, x, y, crs, attributes) VALUES ")

	args := make([]interface{}, 0, len(records)*5)
	for i, rec := range records {
		attrs, err := json.Marshal(rec.Attributes)
		if err != nil {
			return fmt.Errorf("failed to marshal record attributes: %w", err)
		}
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, rec.Timestamp.UTC(), rec.Point.X, rec.Point.Y, rec.CRS, attrs)
	}

	if _, err := r.db.ExecContext(ctx, buf.String(), args...); err != nil {
		return fmt.Errorf("failed to insert %d point records: %w", len(records), err)
	}

	return nil
}

// LoadRecords загружает записи не старше since, от новых к старым, не
// больше limit штук
func (r *MySQLRepository) LoadRecords(ctx context.Context, since time.Time, limit int) ([]models.PointRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT datestamp, x, y, crs, attributes
		FROM point_record
		WHERE datestamp >= ?
		ORDER BY datestamp DESC
		LIMIT ?
	`, since.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query point records: %w", err)
	}
	defer rows.Close()

	var records []models.PointRecord
	for rows.Next() {
		var (
			ts    time.Time
			x, y  float64
			crs   string
			attrs sql.NullString
		)
		if err := rows.Scan(&ts, &x, &y, &crs, &attrs); err != nil {
			return nil, fmt.Errorf("failed to scan point record: %w", err)
		}

		rec := models.PointRecord{
			Timestamp: ts,
			Point:     geom.Point{X: x, Y: y},
			CRS:       crs,
		}
		if attrs.Valid && attrs.String != "" {
			if err := json.Unmarshal([]byte(attrs.String), &rec.Attributes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal record attributes: %w", err)
			}
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate point records: %w", err)
	}

	return records, nil
}

// CleanupOldRecords удаляет записи старше olderThan
func (r *MySQLRepository) CleanupOldRecords(ctx context.Context, olderThan time.Duration) error {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM point_record WHERE datestamp < ?",
		time.Now().UTC().Add(-olderThan))
	if err != nil {
		return fmt.Errorf("failed to cleanup old records: %w", err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected > 0 {
		r.logger.WithField("deleted", affected).Info("Cleaned up old point records")
	}

	return nil
}

// GetStats возвращает статистику хранилища
func (r *MySQLRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	var count int64
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM point_record").Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to count point records: %w", err)
	}

	return map[string]interface{}{
		"point_records": count,
	}, nil
}

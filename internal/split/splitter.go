// Package split разрезает траекторию на подтраектории: по календарным
// границам (год/месяц/день) либо по порогам временного разрыва и скорости.
package split

import (
	"fmt"
	"time"

	"github.com/flybeeper/trajectory-backend/internal/models"
)

// Mode календарный период разрезания
type Mode string

const (
	ModeYear  Mode = "year"
	ModeMonth Mode = "month"
	ModeDay   Mode = "day"
)

// ParseMode разбирает строковое представление режима
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeYear, ModeMonth, ModeDay:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown split mode %q", s)
}

// PeriodLabel возвращает метку календарного периода для момента времени:
// "2010", "2010-09" или "2010-09-01"
func (m Mode) PeriodLabel(t time.Time) string {
	switch m {
	case ModeYear:
		return t.UTC().Format("2006")
	case ModeMonth:
		return t.UTC().Format("2006-01")
	default:
		return t.UTC().Format("2006-01-02")
	}
}

// Options параметры календарного разрезания
type Options struct {
	// DuplicateBoundary добавляет первую точку следующего периода в конец
	// предыдущего, сохраняя визуальную непрерывность отрисованного трека.
	// По умолчанию выключено: каждая точка принадлежит ровно одному периоду.
	DuplicateBoundary bool
}

// Option модификатор параметров разрезания
type Option func(*Options)

// WithDuplicateBoundary включает дублирование граничных точек в соседние
// периоды
func WithDuplicateBoundary() Option {
	return func(o *Options) { o.DuplicateBoundary = true }
}

// ByDate разрезает траекторию по календарным периодам timestamp'ов ее
// точек. Каждая группа с двумя и более точками становится подтраекторией
// с идентификатором {id}_{метка периода}; группы из одной точки молча
// отбрасываются. Подтраектории возвращаются в порядке времени.
func ByDate(t *models.Trajectory, mode Mode, opts ...Option) ([]*models.Trajectory, error) {
	var options Options
	for _, opt := range opts {
		opt(&options)
	}

	fixes := t.Fixes()

	type group struct {
		label string
		fixes []models.Fix
	}
	var groups []group

	for _, f := range fixes {
		label := mode.PeriodLabel(f.Timestamp)
		if len(groups) == 0 || groups[len(groups)-1].label != label {
			if options.DuplicateBoundary && len(groups) > 0 {
				prev := &groups[len(groups)-1]
				prev.fixes = append(prev.fixes, f)
			}
			groups = append(groups, group{label: label})
		}
		g := &groups[len(groups)-1]
		g.fixes = append(g.fixes, f)
	}

	var result []*models.Trajectory
	for _, g := range groups {
		if len(g.fixes) < 2 {
			continue
		}
		sub, err := models.NewTrajectory(fmt.Sprintf("%s_%s", t.ID, g.label), t.CRS, g.fixes)
		if err != nil {
			return nil, err
		}
		result = append(result, sub)
	}

	return result, nil
}

// ByGap разрезает траекторию на сегменты по временным разрывам: разрыв
// между соседними точками больше maxGap начинает новый сегмент. Сегменты
// из одной точки отбрасываются; идентификаторы — {id}_{номер сегмента}.
func ByGap(t *models.Trajectory, maxGap time.Duration) ([]*models.Trajectory, error) {
	if maxGap <= 0 {
		maxGap = 30 * time.Minute
	}

	fixes := t.Fixes()
	breakAfter := func(i int) bool {
		return fixes[i+1].Timestamp.Sub(fixes[i].Timestamp) > maxGap
	}

	return bySegments(t, breakAfter)
}

// BySpeed разрезает траекторию там, где скорость пары соседних точек
// превышает maxSpeed (единицы CRS либо м/с для географических координат).
// Пары с нулевой длительностью и ненулевой дистанцией тоже считаются
// нарушением и разрывают сегмент.
func BySpeed(t *models.Trajectory, maxSpeed float64) ([]*models.Trajectory, error) {
	if maxSpeed <= 0 {
		return nil, fmt.Errorf("max speed must be positive, got %f", maxSpeed)
	}

	fixes := t.Fixes()
	breakAfter := func(i int) bool {
		dist := models.Distance(t.CRS, fixes[i].Point, fixes[i+1].Point)
		dt := fixes[i+1].Timestamp.Sub(fixes[i].Timestamp).Seconds()
		if dt == 0 {
			return dist > 0
		}
		return dist/dt > maxSpeed
	}

	return bySegments(t, breakAfter)
}

// bySegments общий обход для пороговых разрезаний: breakAfter(i) сообщает,
// что между точками i и i+1 проходит граница сегментов
func bySegments(t *models.Trajectory, breakAfter func(i int) bool) ([]*models.Trajectory, error) {
	fixes := t.Fixes()

	var (
		result  []*models.Trajectory
		segment []models.Fix
	)

	flush := func() error {
		if len(segment) >= 2 {
			sub, err := models.NewTrajectory(fmt.Sprintf("%s_%d", t.ID, len(result)), t.CRS, segment)
			if err != nil {
				return err
			}
			result = append(result, sub)
		}
		segment = nil
		return nil
	}

	for i, f := range fixes {
		segment = append(segment, f)
		if i < len(fixes)-1 && breakAfter(i) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return result, nil
}

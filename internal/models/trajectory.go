package models

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ctessum/geom"
)

const earthRadiusM = 6371000.0 // метры

// Trajectory упорядоченная по времени последовательность точек одного
// движущегося объекта. После конструирования траектория неизменяема:
// каждая операция (клиппинг, разрезание, извлечение сегмента) возвращает
// новую траекторию и не трогает исходную, поэтому параллельные читатели
// не нуждаются в синхронизации.
type Trajectory struct {
	ID  string `json:"id"`
	CRS string `json:"crs"`

	fixes []Fix

	lengthOnce sync.Once
	length     float64
}

// NewTrajectory создает траекторию из готовых точек. Точки копируются и
// стабильно сортируются по времени; требуется минимум одна точка.
func NewTrajectory(id, crs string, fixes []Fix) (*Trajectory, error) {
	if len(fixes) == 0 {
		return nil, fmt.Errorf("%w: trajectory %q has no fixes", ErrEmptyTrajectory, id)
	}

	sorted := make([]Fix, len(fixes))
	copy(sorted, fixes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	return &Trajectory{
		ID:    id,
		CRS:   crs,
		fixes: sorted,
	}, nil
}

// NewTrajectoryFromRecords создает траекторию из входных записей.
// Все записи обязаны нести одинаковый CRS, иначе возвращается ErrMixedCRS.
func NewTrajectoryFromRecords(id string, records []PointRecord) (*Trajectory, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: trajectory %q has no records", ErrEmptyTrajectory, id)
	}

	crs := records[0].CRS
	fixes := make([]Fix, 0, len(records))
	for _, rec := range records {
		if rec.CRS != crs {
			return nil, fmt.Errorf("%w: trajectory %q has both %q and %q", ErrMixedCRS, id, crs, rec.CRS)
		}
		fixes = append(fixes, rec.Fix())
	}

	return NewTrajectory(id, crs, fixes)
}

// Fixes возвращает упорядоченную последовательность точек. Слайс
// принадлежит траектории и не должен модифицироваться вызывающим кодом.
func (t *Trajectory) Fixes() []Fix {
	return t.fixes
}

// NumFixes возвращает количество точек
func (t *Trajectory) NumFixes() int {
	return len(t.fixes)
}

// StartTime возвращает время первой точки
func (t *Trajectory) StartTime() time.Time {
	return t.fixes[0].Timestamp
}

// EndTime возвращает время последней точки
func (t *Trajectory) EndTime() time.Time {
	return t.fixes[len(t.fixes)-1].Timestamp
}

// Duration возвращает продолжительность траектории
func (t *Trajectory) Duration() time.Duration {
	return t.EndTime().Sub(t.StartTime())
}

// IsDegenerate сообщает, что траектория состоит из единственной точки:
// длина 0, интерполяция и скорость невозможны
func (t *Trajectory) IsDegenerate() bool {
	return len(t.fixes) < 2
}

// Length возвращает длину траектории: сумму расстояний между соседними
// точками. Вычисляется лениво и кэшируется; траектория после
// конструирования неизменяема, поэтому кэш защищен sync.Once.
func (t *Trajectory) Length() float64 {
	t.lengthOnce.Do(func() {
		total := 0.0
		for i := 1; i < len(t.fixes); i++ {
			total += Distance(t.CRS, t.fixes[i-1].Point, t.fixes[i].Point)
		}
		t.length = total
	})
	return t.length
}

// Bounds возвращает ограничивающий прямоугольник траектории
func (t *Trajectory) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, f := range t.fixes {
		b.Extend(f.Point.Bounds())
	}
	return b
}

// PositionAt возвращает позицию в произвольный момент времени внутри
// интервала траектории. Если момент совпадает со временем существующей
// точки, возвращается ее позиция без пересчета; иначе позиция линейно
// интерполируется между двумя охватывающими точками.
func (t *Trajectory) PositionAt(at time.Time) (geom.Point, error) {
	if at.Before(t.StartTime()) || at.After(t.EndTime()) {
		return geom.Point{}, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrOutOfRange, at.Format(time.RFC3339), t.StartTime().Format(time.RFC3339), t.EndTime().Format(time.RFC3339))
	}

	// Первая точка с Timestamp >= at
	i := sort.Search(len(t.fixes), func(i int) bool {
		return !t.fixes[i].Timestamp.Before(at)
	})

	if t.fixes[i].Timestamp.Equal(at) {
		return t.fixes[i].Point, nil
	}

	before := t.fixes[i-1]
	after := t.fixes[i]
	alpha := float64(at.Sub(before.Timestamp)) / float64(after.Timestamp.Sub(before.Timestamp))

	return geom.Point{
		X: before.Point.X + alpha*(after.Point.X-before.Point.X),
		Y: before.Point.Y + alpha*(after.Point.Y-before.Point.Y),
	}, nil
}

// interpolatedFixAt синтезирует граничную точку на момент at. Атрибуты
// наследуются от предшествующей точки (ведущая конвенция, как у скорости).
func (t *Trajectory) interpolatedFixAt(at time.Time) (Fix, error) {
	pt, err := t.PositionAt(at)
	if err != nil {
		return Fix{}, err
	}

	i := sort.Search(len(t.fixes), func(i int) bool {
		return !t.fixes[i].Timestamp.Before(at)
	})
	attrs := t.fixes[0].Attributes
	if i > 0 {
		attrs = t.fixes[i-1].Attributes
	}

	return Fix{Timestamp: at, Point: pt, Attributes: attrs}, nil
}

// SegmentBetween вырезает сегмент траектории на замкнутом интервале
// [from, to]. Берутся все точки внутри интервала; если граница интервала
// попадает строго внутрь траектории и не совпадает ни с одной точкой,
// на границе синтезируется интерполированная точка. Результат с менее чем
// двумя точками считается пустым.
func (t *Trajectory) SegmentBetween(from, to time.Time) (*Trajectory, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: segment start %s after end %s",
			ErrOutOfRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if to.Before(t.StartTime()) || from.After(t.EndTime()) {
		return nil, fmt.Errorf("%w: [%s, %s] does not overlap trajectory %q",
			ErrOutOfRange, from.Format(time.RFC3339), to.Format(time.RFC3339), t.ID)
	}

	lo := from
	if lo.Before(t.StartTime()) {
		lo = t.StartTime()
	}
	hi := to
	if hi.After(t.EndTime()) {
		hi = t.EndTime()
	}

	var fixes []Fix
	for _, f := range t.fixes {
		if f.Timestamp.Before(lo) || f.Timestamp.After(hi) {
			continue
		}
		fixes = append(fixes, f)
	}

	if len(fixes) == 0 || !fixes[0].Timestamp.Equal(lo) {
		boundary, err := t.interpolatedFixAt(lo)
		if err != nil {
			return nil, err
		}
		fixes = append([]Fix{boundary}, fixes...)
	}
	if !fixes[len(fixes)-1].Timestamp.Equal(hi) {
		boundary, err := t.interpolatedFixAt(hi)
		if err != nil {
			return nil, err
		}
		fixes = append(fixes, boundary)
	}

	if len(fixes) < 2 {
		return nil, fmt.Errorf("%w: segment of %q has %d fixes", ErrEmptyTrajectory, t.ID, len(fixes))
	}

	return NewTrajectory(t.ID, t.CRS, fixes)
}

// Speeds возвращает скорость на каждой паре соседних точек (ведущая
// конвенция: скорость i-й пары приписывается i-й точке). Пара с нулевой
// длительностью и нулевой дистанцией дает скорость 0; нулевая длительность
// при ненулевой дистанции — ошибка ErrZeroDuration.
func (t *Trajectory) Speeds() ([]float64, error) {
	if t.IsDegenerate() {
		return nil, fmt.Errorf("%w: trajectory %q has %d fixes", ErrEmptyTrajectory, t.ID, len(t.fixes))
	}

	speeds := make([]float64, len(t.fixes)-1)
	for i := 0; i < len(t.fixes)-1; i++ {
		cur := t.fixes[i]
		next := t.fixes[i+1]
		dist := Distance(t.CRS, cur.Point, next.Point)
		dt := next.Timestamp.Sub(cur.Timestamp).Seconds()

		if dt == 0 {
			if dist == 0 {
				speeds[i] = 0
				continue
			}
			return nil, fmt.Errorf("%w: fixes %d and %d of %q share timestamp %s",
				ErrZeroDuration, i, i+1, t.ID, cur.Timestamp.Format(time.RFC3339))
		}
		speeds[i] = dist / dt
	}

	return speeds, nil
}

// IsGeographicCRS сообщает, является ли CRS географической (градусы на
// сфере). Для географических систем расстояния считаются по формуле
// haversine в метрах, для проекционных — планарно в единицах CRS.
func IsGeographicCRS(crs string) bool {
	switch strings.ToUpper(strings.TrimSpace(crs)) {
	case "EPSG:4326", "WGS84", "WGS 84", "CRS84", "OGC:CRS84":
		return true
	}
	return false
}

// Distance возвращает расстояние между двумя точками с учетом CRS.
// Для географических координат точка трактуется как (X=lon, Y=lat).
func Distance(crs string, a, b geom.Point) float64 {
	if IsGeographicCRS(crs) {
		return haversine(a, b)
	}
	dx := b.X - a.X
	dy := b.Y - a.Y
	return math.Sqrt(dx*dx + dy*dy)
}

// haversine расстояние по большому кругу в метрах
func haversine(a, b geom.Point) float64 {
	lat1 := a.Y * math.Pi / 180
	lat2 := b.Y * math.Pi / 180
	dLat := (b.Y - a.Y) * math.Pi / 180
	dLon := (b.X - a.X) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// Package clip реализует пересечение траектории с полигоном: из трека
// вырезаются максимальные непрерывные участки, целиком лежащие внутри
// полигона, с привязкой точек входа/выхода к границе через интерполяцию.
package clip

import (
	"fmt"
	"sort"
	"time"

	"github.com/ctessum/geom"

	"github.com/flybeeper/trajectory-backend/internal/models"
)

// Clip возвращает подтраектории trajectory, лежащие внутри polygon.
// Граница полигона считается внутренней стороной. Участки из менее чем
// двух точек (вырожденные касания) отбрасываются. Траектория целиком
// внутри полигона дает ровно одну подтраекторию с исходными точками,
// целиком снаружи — пустой результат.
func Clip(trajectory *models.Trajectory, polygon geom.Polygon) ([]*models.Trajectory, error) {
	if err := validatePolygon(polygon); err != nil {
		return nil, err
	}

	fixes := trajectory.Fixes()
	inside := make([]bool, len(fixes))
	for i, f := range fixes {
		inside[i] = f.Point.Within(polygon) != geom.Outside
	}

	var (
		result []*models.Trajectory
		run    []models.Fix
	)

	closeRun := func() error {
		if len(run) >= 2 {
			sub, err := models.NewTrajectory(
				fmt.Sprintf("%s_%d", trajectory.ID, len(result)),
				trajectory.CRS, run)
			if err != nil {
				return err
			}
			result = append(result, sub)
		}
		run = nil
		return nil
	}

	if inside[0] {
		run = append(run, fixes[0])
	}

	for i := 0; i < len(fixes)-1; i++ {
		cur, next := fixes[i], fixes[i+1]

		switch {
		case inside[i] && inside[i+1]:
			run = append(run, next)

		case inside[i] && !inside[i+1]:
			// Выход из полигона: закрываем участок граничной точкой
			if alpha, pt, ok := exitCrossing(cur.Point, next.Point, polygon); ok {
				run = append(run, boundaryFix(cur, next, alpha, pt))
			}
			if err := closeRun(); err != nil {
				return nil, err
			}

		case !inside[i] && inside[i+1]:
			// Вход в полигон: открываем участок граничной точкой
			if alpha, pt, ok := entryCrossing(cur.Point, next.Point, polygon); ok {
				run = append(run, boundaryFix(cur, next, alpha, pt))
			}
			run = append(run, next)

		default:
			// Обе точки снаружи: пара не дает вклада
		}
	}

	if err := closeRun(); err != nil {
		return nil, err
	}

	return result, nil
}

// boundaryFix синтезирует точку на границе полигона: время линейно
// интерполируется в доле alpha между cur и next, атрибуты наследуются
// от предшествующей точки.
func boundaryFix(cur, next models.Fix, alpha float64, pt geom.Point) models.Fix {
	dt := next.Timestamp.Sub(cur.Timestamp)
	return models.Fix{
		Timestamp:  cur.Timestamp.Add(time.Duration(alpha * float64(dt))),
		Point:      pt,
		Attributes: cur.Attributes,
	}
}

// exitCrossing возвращает первое пересечение отрезка a->b с границей
// полигона (минимальная доля alpha): точка a внутри, b снаружи.
func exitCrossing(a, b geom.Point, polygon geom.Polygon) (float64, geom.Point, bool) {
	crossings := segmentCrossings(a, b, polygon)
	if len(crossings) == 0 {
		return 0, geom.Point{}, false
	}
	alpha := crossings[0]
	return alpha, pointAt(a, b, alpha), true
}

// entryCrossing возвращает последнее пересечение отрезка a->b с границей
// полигона перед внутренней точкой b: точка a снаружи, b внутри.
func entryCrossing(a, b geom.Point, polygon geom.Polygon) (float64, geom.Point, bool) {
	crossings := segmentCrossings(a, b, polygon)
	if len(crossings) == 0 {
		return 0, geom.Point{}, false
	}
	alpha := crossings[len(crossings)-1]
	return alpha, pointAt(a, b, alpha), true
}

func pointAt(a, b geom.Point, alpha float64) geom.Point {
	return geom.Point{
		X: a.X + alpha*(b.X-a.X),
		Y: a.Y + alpha*(b.Y-a.Y),
	}
}

// segmentCrossings возвращает отсортированные доли alpha в (0, 1), в
// которых отрезок a->b пересекает ребра всех колец полигона.
func segmentCrossings(a, b geom.Point, polygon geom.Polygon) []float64 {
	var crossings []float64
	for _, ring := range polygon {
		n := len(ring)
		for i := 0; i < n; i++ {
			p := ring[i]
			q := ring[(i+1)%n]
			if alpha, ok := segmentIntersection(a, b, p, q); ok {
				crossings = append(crossings, alpha)
			}
		}
	}
	sort.Float64s(crossings)
	return crossings
}

// segmentIntersection решает a + t(b-a) = p + u(q-p) и возвращает t,
// если отрезки пересекаются при 0 < t < 1 и 0 <= u <= 1. Коллинеарные
// отрезки пересечением не считаются: касание вдоль ребра не меняет
// сторону границы.
func segmentIntersection(a, b, p, q geom.Point) (float64, bool) {
	rx := b.X - a.X
	ry := b.Y - a.Y
	sx := q.X - p.X
	sy := q.Y - p.Y

	denom := rx*sy - ry*sx
	if denom == 0 {
		return 0, false
	}

	tNum := (p.X-a.X)*sy - (p.Y-a.Y)*sx
	uNum := (p.X-a.X)*ry - (p.Y-a.Y)*rx

	t := tNum / denom
	u := uNum / denom

	if t <= 0 || t >= 1 || u < 0 || u > 1 {
		return 0, false
	}
	return t, true
}

// validatePolygon отклоняет вырожденные и самопересекающиеся полигоны.
// Проверка самопересечения — попарный обход ребер кольца: пересечение
// несмежных ребер делает полигон невалидным.
func validatePolygon(polygon geom.Polygon) error {
	if len(polygon) == 0 {
		return fmt.Errorf("%w: polygon has no rings", models.ErrInvalidPolygon)
	}

	for ri, ring := range polygon {
		// Замыкающая точка, совпадающая с первой, не считается вершиной
		n := len(ring)
		if n > 1 && ring[0].Equals(ring[n-1]) {
			n--
		}
		if n < 3 {
			return fmt.Errorf("%w: ring %d has %d vertices", models.ErrInvalidPolygon, ri, n)
		}

		for i := 0; i < n; i++ {
			a := ring[i]
			b := ring[(i+1)%n]
			for j := i + 1; j < n; j++ {
				// Смежные ребра делят вершину и пересекаются в ней законно
				if j == i || (j+1)%n == i || (i+1)%n == j {
					continue
				}
				p := ring[j]
				q := ring[(j+1)%n]
				if properCrossing(a, b, p, q) {
					return fmt.Errorf("%w: ring %d edges %d and %d cross", models.ErrInvalidPolygon, ri, i, j)
				}
			}
		}
	}

	return nil
}

// properCrossing сообщает, пересекаются ли отрезки ab и pq во внутренних
// точках обоих
func properCrossing(a, b, p, q geom.Point) bool {
	rx := b.X - a.X
	ry := b.Y - a.Y
	sx := q.X - p.X
	sy := q.Y - p.Y

	denom := rx*sy - ry*sx
	if denom == 0 {
		return false
	}

	t := ((p.X-a.X)*sy - (p.Y-a.Y)*sx) / denom
	u := ((p.X-a.X)*ry - (p.Y-a.Y)*rx) / denom

	return t > 0 && t < 1 && u > 0 && u < 1
}

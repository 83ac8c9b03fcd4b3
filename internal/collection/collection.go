// Package collection группирует плоскую последовательность входных записей
// по идентифицирующему атрибуту и строит по одной траектории на объект с
// фильтром минимальной длины.
package collection

import (
	"fmt"
	"runtime"
	"sort"
	"sync"

	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/internal/split"
)

// Collection набор траекторий, по одной на значение группирующего
// атрибута, после фильтра минимальной длины. Инвариант: длина каждой
// траектории в наборе >= MinLength (включительно). Набор неизменяем:
// Filter и SplitByDate возвращают новые наборы.
type Collection struct {
	GroupKey  string
	MinLength float64

	byID  map[string]*models.Trajectory
	order []string // отсортированные идентификаторы: стабильный порядок обхода
}

// New строит набор траекторий из входных записей. Записи группируются по
// значению атрибута groupKey (записи без него пропускаются), каждая группа
// сортируется по времени и становится траекторией; группы с длиной меньше
// minLength отбрасываются. Построение групп идет параллельно: группы
// независимы, результат сливается в общую карту под мьютексом.
// Если ни одна группа не пережила фильтрацию, возвращается ErrEmptyInput.
func New(records []models.PointRecord, groupKey string, minLength float64) (*Collection, error) {
	grouped := make(map[string][]models.PointRecord)
	for _, rec := range records {
		val, ok := rec.Attributes[groupKey]
		if !ok {
			continue
		}
		id := fmt.Sprintf("%v", val)
		grouped[id] = append(grouped[id], rec)
	}

	byID := make(map[string]*models.Trajectory, len(grouped))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		firstErr error
	)
	sem := make(chan struct{}, runtime.NumCPU())

	for id, recs := range grouped {
		wg.Add(1)
		go func(id string, recs []models.PointRecord) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			traj, err := models.NewTrajectoryFromRecords(id, recs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			if traj.Length() >= minLength {
				byID[id] = traj
			}
		}(id, recs)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if len(byID) == 0 {
		return nil, fmt.Errorf("%w: no trajectory passed the min length filter %f", models.ErrEmptyInput, minLength)
	}

	return newFromMap(groupKey, minLength, byID), nil
}

// newFromMap собирает набор с отсортированным порядком обхода
func newFromMap(groupKey string, minLength float64, byID map[string]*models.Trajectory) *Collection {
	order := make([]string, 0, len(byID))
	for id := range byID {
		order = append(order, id)
	}
	sort.Strings(order)

	return &Collection{
		GroupKey:  groupKey,
		MinLength: minLength,
		byID:      byID,
		order:     order,
	}
}

// Len возвращает количество траекторий в наборе
func (c *Collection) Len() int {
	return len(c.order)
}

// IDs возвращает идентификаторы траекторий в стабильном порядке
func (c *Collection) IDs() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)
	return ids
}

// Trajectories возвращает траектории в стабильном порядке идентификаторов
func (c *Collection) Trajectories() []*models.Trajectory {
	result := make([]*models.Trajectory, 0, len(c.order))
	for _, id := range c.order {
		result = append(result, c.byID[id])
	}
	return result
}

// Get возвращает траекторию по точному идентификатору
func (c *Collection) Get(id string) (*models.Trajectory, error) {
	traj, ok := c.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrNotFound, id)
	}
	return traj, nil
}

// Filter возвращает новый набор только с траекториями, у которых атрибут
// attribute (константный внутри траектории, берется с первой точки) равен
// value. Пустой результат — не ошибка.
func (c *Collection) Filter(attribute string, value interface{}) *Collection {
	want := fmt.Sprintf("%v", value)

	byID := make(map[string]*models.Trajectory)
	for id, traj := range c.byID {
		got, ok := traj.Fixes()[0].Attr(attribute)
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", got) == want {
			byID[id] = traj
		}
	}

	return newFromMap(c.GroupKey, c.MinLength, byID)
}

// SplitByDate разрезает каждую траекторию набора по календарному периоду
// и сводит результаты в новый набор с идентификаторами
// {исходный id}_{метка периода}. Инвариант минимальной длины применяется
// к подтраекториям заново; пустой результат — не ошибка.
func (c *Collection) SplitByDate(mode split.Mode, opts ...split.Option) (*Collection, error) {
	byID := make(map[string]*models.Trajectory)
	for _, id := range c.order {
		subs, err := split.ByDate(c.byID[id], mode, opts...)
		if err != nil {
			return nil, err
		}
		for _, sub := range subs {
			if sub.Length() >= c.MinLength {
				byID[sub.ID] = sub
			}
		}
	}

	return newFromMap(c.GroupKey, c.MinLength, byID), nil
}

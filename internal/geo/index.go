// Package geo содержит геопространственный индекс траекторий: покрытие
// ограничивающего прямоугольника каждой траектории ячейками geohash с
// уточнением кандидатов по пересечению прямоугольников.
package geo

import (
	"math"
	"sync"

	"github.com/ctessum/geom"
	"github.com/mmcloughlin/geohash"
)

// maxCoverCells предел числа ячеек покрытия одного прямоугольника. Охваты
// шире предела (околополюсные запросы, почти глобальные рамки) обслуживаются
// полным перебором прямоугольников вместо перечисления ячеек.
const maxCoverCells = 4096

// cellSizeDeg приблизительный размер ячейки geohash в градусах по точности
var cellSizeDeg = map[uint]float64{
	1: 45.0,
	2: 11.25,
	3: 1.4,
	4: 0.35,
	5: 0.044,
	6: 0.011,
	7: 0.0014,
	8: 0.00034,
}

// Index потокобезопасный индекс ограничивающих прямоугольников траекторий
// по ячейкам geohash
type Index struct {
	mu        sync.RWMutex
	precision uint
	cells     map[string]map[string]struct{}
	bounds    map[string]*geom.Bounds
	large     map[string]struct{} // прямоугольники шире maxCoverCells, проверяются перебором
}

// NewIndex создает индекс с заданной точностью geohash (1..8)
func NewIndex(precision int) *Index {
	if precision < 1 || precision > 8 {
		precision = 5
	}
	return &Index{
		precision: uint(precision),
		cells:     make(map[string]map[string]struct{}),
		bounds:    make(map[string]*geom.Bounds),
		large:     make(map[string]struct{}),
	}
}

// Insert добавляет или обновляет траекторию в индексе. Прямоугольник
// трактуется как (X=lon, Y=lat).
func (idx *Index) Insert(id string, b *geom.Bounds) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	idx.removeLocked(id)
	idx.bounds[id] = b

	cells, ok := idx.cover(b)
	if !ok {
		idx.large[id] = struct{}{}
		return
	}
	for _, cell := range cells {
		ids, exists := idx.cells[cell]
		if !exists {
			ids = make(map[string]struct{})
			idx.cells[cell] = ids
		}
		ids[id] = struct{}{}
	}
}

// Remove удаляет траекторию из индекса
func (idx *Index) Remove(id string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.removeLocked(id)
}

func (idx *Index) removeLocked(id string) {
	b, ok := idx.bounds[id]
	if !ok {
		return
	}
	if _, big := idx.large[id]; big {
		delete(idx.large, id)
		delete(idx.bounds, id)
		return
	}
	cells, _ := idx.cover(b)
	for _, cell := range cells {
		delete(idx.cells[cell], id)
		if len(idx.cells[cell]) == 0 {
			delete(idx.cells, cell)
		}
	}
	delete(idx.bounds, id)
}

// Clear полностью очищает индекс
func (idx *Index) Clear() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.cells = make(map[string]map[string]struct{})
	idx.bounds = make(map[string]*geom.Bounds)
	idx.large = make(map[string]struct{})
}

// Len возвращает количество индексированных траекторий
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.bounds)
}

// QueryBounds возвращает идентификаторы траекторий, чьи ограничивающие
// прямоугольники пересекают запрошенный
func (idx *Index) QueryBounds(query *geom.Bounds) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	cells, ok := idx.cover(query)
	if !ok {
		// Вырожденный охват запроса: перебор дешевле перечисления ячеек
		var result []string
		for id, b := range idx.bounds {
			if b.Overlaps(query) {
				result = append(result, id)
			}
		}
		return result
	}

	seen := make(map[string]struct{})
	var result []string

	for _, cell := range cells {
		for id := range idx.cells[cell] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			if idx.bounds[id].Overlaps(query) {
				result = append(result, id)
			}
		}
	}

	for id := range idx.large {
		if _, dup := seen[id]; dup {
			continue
		}
		if idx.bounds[id].Overlaps(query) {
			result = append(result, id)
		}
	}

	return result
}

// QueryRadius возвращает идентификаторы траекторий в радиусе radiusKm от
// центра (географические координаты)
func (idx *Index) QueryRadius(lat, lon, radiusKm float64) []string {
	// Прямоугольник, описанный вокруг круга запроса. У полюсов косинус
	// вырождается, поэтому долготный размах ограничен полной окружностью.
	latDelta := radiusKm / 111.0
	lonDelta := 180.0
	if cosLat := math.Cos(lat * math.Pi / 180); cosLat > 1e-6 {
		lonDelta = math.Min(radiusKm/(111.0*cosLat), 180.0)
	}

	return idx.QueryBounds(&geom.Bounds{
		Min: geom.Point{X: lon - lonDelta, Y: lat - latDelta},
		Max: geom.Point{X: lon + lonDelta, Y: lat + latDelta},
	})
}

// cover возвращает ячейки geohash, покрывающие прямоугольник. Прямоугольник
// предварительно обрезается до допустимого диапазона широты и долготы.
// Второй результат false означает, что покрытие превысило бы maxCoverCells
// и вызывающий должен перейти к перебору.
func (idx *Index) cover(b *geom.Bounds) ([]string, bool) {
	step := cellSizeDeg[idx.precision]
	c := clampBounds(b)
	if c.Min.X > c.Max.X || c.Min.Y > c.Max.Y {
		// Прямоугольник целиком вне диапазона координат
		return nil, true
	}

	latCells := math.Floor((c.Max.Y-c.Min.Y)/step) + 1
	lonCells := math.Floor((c.Max.X-c.Min.X)/step) + 1
	if latCells*lonCells > maxCoverCells {
		return nil, false
	}

	seen := make(map[string]struct{})
	var cells []string
	for lat := c.Min.Y; ; lat += step {
		if lat > c.Max.Y {
			lat = c.Max.Y
		}
		for lon := c.Min.X; ; lon += step {
			if lon > c.Max.X {
				lon = c.Max.X
			}
			cell := geohash.EncodeWithPrecision(lat, lon, idx.precision)
			if _, dup := seen[cell]; !dup {
				seen[cell] = struct{}{}
				cells = append(cells, cell)
			}
			if lon >= c.Max.X {
				break
			}
		}
		if lat >= c.Max.Y {
			break
		}
	}

	return cells, true
}

// clampBounds обрезает прямоугольник до диапазона географических координат
func clampBounds(b *geom.Bounds) *geom.Bounds {
	return &geom.Bounds{
		Min: geom.Point{X: math.Max(b.Min.X, -180), Y: math.Max(b.Min.Y, -90)},
		Max: geom.Point{X: math.Min(b.Max.X, 180), Y: math.Min(b.Max.Y, 90)},
	}
}

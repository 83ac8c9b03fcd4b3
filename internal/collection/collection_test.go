package collection

import (
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/internal/split"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// deviceRecords записи устройства: прямолинейный трек заданной длины
func deviceRecords(device string, length float64, attrs map[string]interface{}) []models.PointRecord {
	all := map[string]interface{}{"device_id": device}
	for k, v := range attrs {
		all[k] = v
	}

	return []models.PointRecord{
		{
			Timestamp:  baseTime,
			Point:      geom.Point{X: 0, Y: 0},
			CRS:        "local",
			Attributes: all,
		},
		{
			Timestamp:  baseTime.Add(time.Minute),
			Point:      geom.Point{X: length, Y: 0},
			CRS:        "local",
			Attributes: all,
		},
	}
}

func TestNew_GroupsByAttribute(t *testing.T) {
	var records []models.PointRecord
	records = append(records, deviceRecords("b", 100, nil)...)
	records = append(records, deviceRecords("a", 50, nil)...)
	records = append(records, deviceRecords("c", 150, nil)...)

	coll, err := New(records, "device_id", 0)
	require.NoError(t, err)

	assert.Equal(t, 3, coll.Len())
	// Порядок обхода стабилен: отсортированные идентификаторы
	assert.Equal(t, []string{"a", "b", "c"}, coll.IDs())
}

func TestNew_MinLengthIsInclusive(t *testing.T) {
	var records []models.PointRecord
	records = append(records, deviceRecords("short", 50, nil)...)
	records = append(records, deviceRecords("exact", 100, nil)...)
	records = append(records, deviceRecords("long", 150, nil)...)

	coll, err := New(records, "device_id", 100)
	require.NoError(t, err)

	assert.Equal(t, []string{"exact", "long"}, coll.IDs())

	_, err = coll.Get("short")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNew_EmptyResult(t *testing.T) {
	tests := []struct {
		name    string
		records []models.PointRecord
	}{
		{
			name:    "No records",
			records: nil,
		},
		{
			name:    "All trajectories below min length",
			records: deviceRecords("a", 10, nil),
		},
		{
			name: "Records without group key",
			records: []models.PointRecord{
				{Timestamp: baseTime, Point: geom.Point{X: 0, Y: 0}, CRS: "local"},
				{Timestamp: baseTime.Add(time.Minute), Point: geom.Point{X: 500, Y: 0}, CRS: "local"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			coll, err := New(tt.records, "device_id", 100)
			assert.ErrorIs(t, err, models.ErrEmptyInput)
			assert.Nil(t, coll)
		})
	}
}

func TestNew_MixedCRSWithinGroup(t *testing.T) {
	records := []models.PointRecord{
		{
			Timestamp:  baseTime,
			Point:      geom.Point{X: 0, Y: 0},
			CRS:        "EPSG:4326",
			Attributes: map[string]interface{}{"device_id": "a"},
		},
		{
			Timestamp:  baseTime.Add(time.Minute),
			Point:      geom.Point{X: 1, Y: 1},
			CRS:        "EPSG:3857",
			Attributes: map[string]interface{}{"device_id": "a"},
		},
	}

	coll, err := New(records, "device_id", 0)
	assert.ErrorIs(t, err, models.ErrMixedCRS)
	assert.Nil(t, coll)
}

func TestCollection_Get(t *testing.T) {
	coll, err := New(deviceRecords("a", 100, nil), "device_id", 0)
	require.NoError(t, err)

	traj, err := coll.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "a", traj.ID)

	_, err = coll.Get("missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCollection_Filter(t *testing.T) {
	var records []models.PointRecord
	records = append(records, deviceRecords("a", 100, map[string]interface{}{"pilot": "anna"})...)
	records = append(records, deviceRecords("b", 100, map[string]interface{}{"pilot": "boris"})...)
	records = append(records, deviceRecords("c", 100, map[string]interface{}{"pilot": "anna"})...)

	coll, err := New(records, "device_id", 0)
	require.NoError(t, err)

	filtered := coll.Filter("pilot", "anna")
	assert.Equal(t, []string{"a", "c"}, filtered.IDs())

	// Пустой результат фильтра — не ошибка
	empty := coll.Filter("pilot", "nobody")
	assert.Equal(t, 0, empty.Len())

	// Исходный набор не изменился
	assert.Equal(t, 3, coll.Len())
}

func TestCollection_SplitByDate(t *testing.T) {
	day1 := time.Date(2010, 9, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2010, 9, 2, 10, 0, 0, 0, time.UTC)

	attrs := map[string]interface{}{"device_id": "a"}
	records := []models.PointRecord{
		{Timestamp: day1, Point: geom.Point{X: 0, Y: 0}, CRS: "local", Attributes: attrs},
		{Timestamp: day1.Add(time.Hour), Point: geom.Point{X: 10, Y: 0}, CRS: "local", Attributes: attrs},
		{Timestamp: day2, Point: geom.Point{X: 20, Y: 0}, CRS: "local", Attributes: attrs},
		{Timestamp: day2.Add(time.Hour), Point: geom.Point{X: 30, Y: 0}, CRS: "local", Attributes: attrs},
	}

	coll, err := New(records, "device_id", 0)
	require.NoError(t, err)

	byDay, err := coll.SplitByDate(split.ModeDay)
	require.NoError(t, err)

	assert.Equal(t, []string{"a_2010-09-01", "a_2010-09-02"}, byDay.IDs())
}

func TestCollection_SplitByDate_ReappliesMinLength(t *testing.T) {
	day1 := time.Date(2010, 9, 1, 10, 0, 0, 0, time.UTC)
	day2 := time.Date(2010, 9, 2, 10, 0, 0, 0, time.UTC)

	attrs := map[string]interface{}{"device_id": "a"}
	// Первый день дает 100 единиц, второй только 10
	records := []models.PointRecord{
		{Timestamp: day1, Point: geom.Point{X: 0, Y: 0}, CRS: "local", Attributes: attrs},
		{Timestamp: day1.Add(time.Hour), Point: geom.Point{X: 100, Y: 0}, CRS: "local", Attributes: attrs},
		{Timestamp: day2, Point: geom.Point{X: 100, Y: 0}, CRS: "local", Attributes: attrs},
		{Timestamp: day2.Add(time.Hour), Point: geom.Point{X: 110, Y: 0}, CRS: "local", Attributes: attrs},
	}

	coll, err := New(records, "device_id", 50)
	require.NoError(t, err)

	byDay, err := coll.SplitByDate(split.ModeDay)
	require.NoError(t, err)

	// Подтраектория второго дня не проходит фильтр минимальной длины
	assert.Equal(t, []string{"a_2010-09-01"}, byDay.IDs())
}

func TestCollection_Trajectories_StableOrder(t *testing.T) {
	var records []models.PointRecord
	for _, id := range []string{"z", "m", "a", "q"} {
		records = append(records, deviceRecords(id, 100, nil)...)
	}

	coll, err := New(records, "device_id", 0)
	require.NoError(t, err)

	trajectories := coll.Trajectories()
	require.Len(t, trajectories, 4)

	want := []string{"a", "m", "q", "z"}
	for i, traj := range trajectories {
		assert.Equal(t, want[i], traj.ID)
	}
}

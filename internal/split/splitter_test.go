package split

import (
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/trajectory-backend/internal/models"
)

func makeTrajectory(t *testing.T, id string, fixes []models.Fix) *models.Trajectory {
	t.Helper()
	traj, err := models.NewTrajectory(id, "local", fixes)
	require.NoError(t, err)
	return traj
}

func fixAt(ts time.Time, x, y float64) models.Fix {
	return models.NewFix(ts, geom.Point{X: x, Y: y}, nil)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		input       string
		want        Mode
		expectError bool
	}{
		{"year", ModeYear, false},
		{"month", ModeMonth, false},
		{"day", ModeDay, false},
		{"week", "", true},
		{"", "", true},
		{"YEAR", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			mode, err := ParseMode(tt.input)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tt.want, mode)
			}
		})
	}
}

func TestMode_PeriodLabel(t *testing.T) {
	ts := time.Date(2010, 9, 5, 13, 45, 0, 0, time.UTC)

	assert.Equal(t, "2010", ModeYear.PeriodLabel(ts))
	assert.Equal(t, "2010-09", ModeMonth.PeriodLabel(ts))
	assert.Equal(t, "2010-09-05", ModeDay.PeriodLabel(ts))
}

func TestByDate_YearBoundary(t *testing.T) {
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(time.Date(2010, 12, 31, 23, 0, 0, 0, time.UTC), 0, 0),
		fixAt(time.Date(2010, 12, 31, 23, 30, 0, 0, time.UTC), 1, 0),
		fixAt(time.Date(2011, 1, 1, 1, 0, 0, 0, time.UTC), 2, 0),
		fixAt(time.Date(2011, 1, 1, 2, 0, 0, 0, time.UTC), 3, 0),
	})

	parts, err := ByDate(traj, ModeYear)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "t_2010", parts[0].ID)
	assert.Equal(t, "t_2011", parts[1].ID)

	// Строгое разбиение: каждая точка ровно в одном периоде
	assert.Equal(t, 2, parts[0].NumFixes())
	assert.Equal(t, 2, parts[1].NumFixes())
	assert.Equal(t, traj.NumFixes(), parts[0].NumFixes()+parts[1].NumFixes())
}

func TestByDate_DuplicateBoundary(t *testing.T) {
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(time.Date(2010, 12, 31, 23, 0, 0, 0, time.UTC), 0, 0),
		fixAt(time.Date(2010, 12, 31, 23, 30, 0, 0, time.UTC), 1, 0),
		fixAt(time.Date(2011, 1, 1, 1, 0, 0, 0, time.UTC), 2, 0),
		fixAt(time.Date(2011, 1, 1, 2, 0, 0, 0, time.UTC), 3, 0),
	})

	parts, err := ByDate(traj, ModeYear, WithDuplicateBoundary())
	require.NoError(t, err)
	require.Len(t, parts, 2)

	// Первая точка 2011 года продублирована в конец 2010-го
	assert.Equal(t, 3, parts[0].NumFixes())
	assert.Equal(t, 2, parts[1].NumFixes())

	last2010 := parts[0].Fixes()[2]
	first2011 := parts[1].Fixes()[0]
	assert.Equal(t, first2011.Timestamp, last2010.Timestamp)
	assert.True(t, first2011.Point.Equals(last2010.Point))
}

func TestByDate_SingleFixGroupDropped(t *testing.T) {
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(time.Date(2010, 12, 31, 23, 0, 0, 0, time.UTC), 0, 0),
		fixAt(time.Date(2011, 1, 1, 1, 0, 0, 0, time.UTC), 1, 0),
		fixAt(time.Date(2011, 1, 1, 2, 0, 0, 0, time.UTC), 2, 0),
	})

	parts, err := ByDate(traj, ModeYear)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "t_2011", parts[0].ID)
}

func TestByDate_DayMode(t *testing.T) {
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(time.Date(2010, 9, 1, 10, 0, 0, 0, time.UTC), 0, 0),
		fixAt(time.Date(2010, 9, 1, 11, 0, 0, 0, time.UTC), 1, 0),
		fixAt(time.Date(2010, 9, 2, 10, 0, 0, 0, time.UTC), 2, 0),
		fixAt(time.Date(2010, 9, 2, 11, 0, 0, 0, time.UTC), 3, 0),
	})

	parts, err := ByDate(traj, ModeDay)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, "t_2010-09-01", parts[0].ID)
	assert.Equal(t, "t_2010-09-02", parts[1].ID)
}

func TestByGap(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(base, 0, 0),
		fixAt(base.Add(10*time.Second), 1, 0),
		fixAt(base.Add(time.Hour), 2, 0),
		fixAt(base.Add(time.Hour+10*time.Second), 3, 0),
	})

	parts, err := ByGap(traj, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, parts, 2)

	assert.Equal(t, "t_0", parts[0].ID)
	assert.Equal(t, "t_1", parts[1].ID)
	assert.Equal(t, 2, parts[0].NumFixes())
	assert.Equal(t, 2, parts[1].NumFixes())
}

func TestByGap_NoGaps(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(base, 0, 0),
		fixAt(base.Add(time.Minute), 1, 0),
		fixAt(base.Add(2*time.Minute), 2, 0),
	})

	parts, err := ByGap(traj, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, 3, parts[0].NumFixes())
}

func TestBySpeed(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Пара 1->2 имеет скорость 99 и рвет сегмент
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(base, 0, 0),
		fixAt(base.Add(10*time.Second), 10, 0),
		fixAt(base.Add(20*time.Second), 1000, 0),
		fixAt(base.Add(30*time.Second), 1010, 0),
	})

	parts, err := BySpeed(traj, 5)
	require.NoError(t, err)
	require.Len(t, parts, 2)
	assert.Equal(t, 2, parts[0].NumFixes())
	assert.Equal(t, 2, parts[1].NumFixes())
}

func TestBySpeed_ZeroDurationDisplacement(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	// Нулевая длительность при сдвиге — нарушение порога
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(base, 0, 0),
		fixAt(base.Add(10*time.Second), 1, 0),
		fixAt(base.Add(10*time.Second), 500, 0),
		fixAt(base.Add(20*time.Second), 501, 0),
	})

	parts, err := BySpeed(traj, 5)
	require.NoError(t, err)
	require.Len(t, parts, 2)
}

func TestBySpeed_InvalidThreshold(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	traj := makeTrajectory(t, "t", []models.Fix{
		fixAt(base, 0, 0),
		fixAt(base.Add(10*time.Second), 1, 0),
	})

	_, err := BySpeed(traj, 0)
	assert.Error(t, err)
	_, err = BySpeed(traj, -1)
	assert.Error(t, err)
}

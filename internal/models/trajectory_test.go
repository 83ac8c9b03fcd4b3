package models

import (
	"testing"
	"time"

	"github.com/ctessum/geom"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// planarTrajectory траектория (0,0) -> (10,0) -> (10,10) с шагом 10 секунд
func planarTrajectory(t *testing.T) *Trajectory {
	t.Helper()

	fixes := []Fix{
		NewFix(baseTime, geom.Point{X: 0, Y: 0}, map[string]interface{}{"pilot": "anna"}),
		NewFix(baseTime.Add(10*time.Second), geom.Point{X: 10, Y: 0}, map[string]interface{}{"pilot": "anna"}),
		NewFix(baseTime.Add(20*time.Second), geom.Point{X: 10, Y: 10}, map[string]interface{}{"pilot": "anna"}),
	}

	traj, err := NewTrajectory("t1", "local", fixes)
	require.NoError(t, err)
	return traj
}

func TestNewTrajectory_Validation(t *testing.T) {
	tests := []struct {
		name        string
		fixes       []Fix
		expectError error
	}{
		{
			name:        "No fixes",
			fixes:       nil,
			expectError: ErrEmptyTrajectory,
		},
		{
			name: "Single fix is allowed",
			fixes: []Fix{
				NewFix(baseTime, geom.Point{X: 1, Y: 2}, nil),
			},
			expectError: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traj, err := NewTrajectory("t1", "local", tt.fixes)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.Nil(t, traj)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, traj)
			}
		})
	}
}

func TestNewTrajectory_SortsFixesByTime(t *testing.T) {
	fixes := []Fix{
		NewFix(baseTime.Add(20*time.Second), geom.Point{X: 2, Y: 0}, nil),
		NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
		NewFix(baseTime.Add(10*time.Second), geom.Point{X: 1, Y: 0}, nil),
	}

	traj, err := NewTrajectory("t1", "local", fixes)
	require.NoError(t, err)

	got := traj.Fixes()
	assert.Equal(t, 0.0, got[0].Point.X)
	assert.Equal(t, 1.0, got[1].Point.X)
	assert.Equal(t, 2.0, got[2].Point.X)
	assert.Equal(t, baseTime, traj.StartTime())
	assert.Equal(t, baseTime.Add(20*time.Second), traj.EndTime())
}

func TestNewTrajectoryFromRecords_MixedCRS(t *testing.T) {
	records := []PointRecord{
		{Timestamp: baseTime, Point: geom.Point{X: 0, Y: 0}, CRS: "EPSG:4326"},
		{Timestamp: baseTime.Add(time.Second), Point: geom.Point{X: 1, Y: 1}, CRS: "EPSG:3857"},
	}

	traj, err := NewTrajectoryFromRecords("t1", records)
	assert.ErrorIs(t, err, ErrMixedCRS)
	assert.Nil(t, traj)
}

func TestTrajectory_Length(t *testing.T) {
	traj := planarTrajectory(t)

	// Два отрезка по 10 единиц каждый
	assert.Equal(t, 20.0, traj.Length())
	// Повторный вызов отдает кэшированное значение
	assert.Equal(t, 20.0, traj.Length())
}

func TestTrajectory_Length_Geographic(t *testing.T) {
	fixes := []Fix{
		NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
		NewFix(baseTime.Add(time.Hour), geom.Point{X: 0, Y: 1}, nil),
	}
	traj, err := NewTrajectory("t1", "EPSG:4326", fixes)
	require.NoError(t, err)

	// Один градус широты по большому кругу
	assert.InDelta(t, 111195, traj.Length(), 10)
}

func TestTrajectory_IsDegenerate(t *testing.T) {
	single, err := NewTrajectory("t1", "local", []Fix{
		NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
	})
	require.NoError(t, err)

	assert.True(t, single.IsDegenerate())
	assert.Equal(t, 0.0, single.Length())
	assert.False(t, planarTrajectory(t).IsDegenerate())
}

func TestTrajectory_PositionAt(t *testing.T) {
	traj := planarTrajectory(t)

	tests := []struct {
		name        string
		at          time.Time
		want        geom.Point
		expectError error
	}{
		{
			name: "Exact fix timestamp returns stored point",
			at:   baseTime.Add(10 * time.Second),
			want: geom.Point{X: 10, Y: 0},
		},
		{
			name: "Midpoint of first pair",
			at:   baseTime.Add(5 * time.Second),
			want: geom.Point{X: 5, Y: 0},
		},
		{
			name: "Midpoint of second pair",
			at:   baseTime.Add(15 * time.Second),
			want: geom.Point{X: 10, Y: 5},
		},
		{
			name: "Start of trajectory",
			at:   baseTime,
			want: geom.Point{X: 0, Y: 0},
		},
		{
			name:        "Before start",
			at:          baseTime.Add(-time.Second),
			expectError: ErrOutOfRange,
		},
		{
			name:        "After end",
			at:          baseTime.Add(21 * time.Second),
			expectError: ErrOutOfRange,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pt, err := traj.PositionAt(tt.at)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want.X, pt.X, 1e-9)
			assert.InDelta(t, tt.want.Y, pt.Y, 1e-9)
		})
	}
}

func TestTrajectory_SegmentBetween(t *testing.T) {
	traj := planarTrajectory(t)

	t.Run("Full range returns all fixes", func(t *testing.T) {
		segment, err := traj.SegmentBetween(traj.StartTime(), traj.EndTime())
		require.NoError(t, err)
		assert.Equal(t, traj.NumFixes(), segment.NumFixes())
		assert.Equal(t, traj.ID, segment.ID)
	})

	t.Run("Interior boundaries get interpolated fixes", func(t *testing.T) {
		segment, err := traj.SegmentBetween(baseTime.Add(2*time.Second), baseTime.Add(12*time.Second))
		require.NoError(t, err)
		require.Equal(t, 3, segment.NumFixes())

		fixes := segment.Fixes()
		assert.Equal(t, baseTime.Add(2*time.Second), fixes[0].Timestamp)
		assert.InDelta(t, 2.0, fixes[0].Point.X, 1e-9)
		assert.Equal(t, baseTime.Add(10*time.Second), fixes[1].Timestamp)
		assert.Equal(t, baseTime.Add(12*time.Second), fixes[2].Timestamp)
		assert.InDelta(t, 2.0, fixes[2].Point.Y, 1e-9)
	})

	t.Run("Interval wider than trajectory is clamped", func(t *testing.T) {
		segment, err := traj.SegmentBetween(baseTime.Add(-time.Hour), baseTime.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, traj.NumFixes(), segment.NumFixes())
	})

	t.Run("Reversed interval", func(t *testing.T) {
		_, err := traj.SegmentBetween(baseTime.Add(10*time.Second), baseTime)
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("Interval outside trajectory", func(t *testing.T) {
		_, err := traj.SegmentBetween(baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
		assert.ErrorIs(t, err, ErrOutOfRange)
	})

	t.Run("Original trajectory is untouched", func(t *testing.T) {
		_, err := traj.SegmentBetween(baseTime.Add(2*time.Second), baseTime.Add(12*time.Second))
		require.NoError(t, err)
		assert.Equal(t, 3, traj.NumFixes())
		assert.Equal(t, 20.0, traj.Length())
	})
}

func TestTrajectory_Speeds(t *testing.T) {
	t.Run("Leading convention", func(t *testing.T) {
		speeds, err := planarTrajectory(t).Speeds()
		require.NoError(t, err)
		assert.Equal(t, []float64{1.0, 1.0}, speeds)
	})

	t.Run("Stationary pair with zero duration", func(t *testing.T) {
		fixes := []Fix{
			NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
			NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
			NewFix(baseTime.Add(5*time.Second), geom.Point{X: 5, Y: 0}, nil),
		}
		traj, err := NewTrajectory("t1", "local", fixes)
		require.NoError(t, err)

		speeds, err := traj.Speeds()
		require.NoError(t, err)
		assert.Equal(t, []float64{0.0, 1.0}, speeds)
	})

	t.Run("Zero duration with displacement", func(t *testing.T) {
		fixes := []Fix{
			NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
			NewFix(baseTime, geom.Point{X: 5, Y: 0}, nil),
		}
		traj, err := NewTrajectory("t1", "local", fixes)
		require.NoError(t, err)

		_, err = traj.Speeds()
		assert.ErrorIs(t, err, ErrZeroDuration)
	})

	t.Run("Degenerate trajectory", func(t *testing.T) {
		traj, err := NewTrajectory("t1", "local", []Fix{
			NewFix(baseTime, geom.Point{X: 0, Y: 0}, nil),
		})
		require.NoError(t, err)

		_, err = traj.Speeds()
		assert.ErrorIs(t, err, ErrEmptyTrajectory)
	})
}

func TestIsGeographicCRS(t *testing.T) {
	tests := []struct {
		crs  string
		want bool
	}{
		{"EPSG:4326", true},
		{"epsg:4326", true},
		{"WGS84", true},
		{"wgs 84", true},
		{"OGC:CRS84", true},
		{"EPSG:3857", false},
		{"local", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.crs, func(t *testing.T) {
			assert.Equal(t, tt.want, IsGeographicCRS(tt.crs))
		})
	}
}

func TestDistance_Planar(t *testing.T) {
	d := Distance("local", geom.Point{X: 0, Y: 0}, geom.Point{X: 3, Y: 4})
	assert.Equal(t, 5.0, d)
}

func TestFix_Attr(t *testing.T) {
	f := NewFix(baseTime, geom.Point{X: 0, Y: 0}, map[string]interface{}{"pilot": "anna"})

	v, ok := f.Attr("pilot")
	assert.True(t, ok)
	assert.Equal(t, "anna", v)

	_, ok = f.Attr("missing")
	assert.False(t, ok)
}

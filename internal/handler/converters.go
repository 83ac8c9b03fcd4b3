package handler

import (
	"time"

	"github.com/flybeeper/trajectory-backend/internal/models"
)

// fixJSON точка траектории в JSON ответах
type fixJSON struct {
	Timestamp  time.Time              `json:"timestamp"`
	X          float64                `json:"x"`
	Y          float64                `json:"y"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// trajectorySummaryJSON сводка траектории без точек
type trajectorySummaryJSON struct {
	ID              string    `json:"id"`
	CRS             string    `json:"crs"`
	NumFixes        int       `json:"num_fixes"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationSeconds float64   `json:"duration_seconds"`
	Length          float64   `json:"length"`
}

// trajectoryJSON полное представление траектории
type trajectoryJSON struct {
	trajectorySummaryJSON
	Fixes []fixJSON `json:"fixes"`
}

func convertFixToJSON(f models.Fix) fixJSON {
	return fixJSON{
		Timestamp:  f.Timestamp,
		X:          f.Point.X,
		Y:          f.Point.Y,
		Attributes: f.Attributes,
	}
}

func convertTrajectoryToSummary(t *models.Trajectory) trajectorySummaryJSON {
	return trajectorySummaryJSON{
		ID:              t.ID,
		CRS:             t.CRS,
		NumFixes:        t.NumFixes(),
		StartTime:       t.StartTime(),
		EndTime:         t.EndTime(),
		DurationSeconds: t.Duration().Seconds(),
		Length:          t.Length(),
	}
}

func convertTrajectoryToJSON(t *models.Trajectory) trajectoryJSON {
	fixes := t.Fixes()
	out := trajectoryJSON{
		trajectorySummaryJSON: convertTrajectoryToSummary(t),
		Fixes:                 make([]fixJSON, 0, len(fixes)),
	}
	for _, f := range fixes {
		out.Fixes = append(out.Fixes, convertFixToJSON(f))
	}
	return out
}

func convertTrajectoriesToSummaries(trajectories []*models.Trajectory) []trajectorySummaryJSON {
	out := make([]trajectorySummaryJSON, 0, len(trajectories))
	for _, t := range trajectories {
		out = append(out, convertTrajectoryToSummary(t))
	}
	return out
}

func convertTrajectoriesToJSON(trajectories []*models.Trajectory) []trajectoryJSON {
	out := make([]trajectoryJSON, 0, len(trajectories))
	for _, t := range trajectories {
		out = append(out, convertTrajectoryToJSON(t))
	}
	return out
}

package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

func newTestParser() *Parser {
	logger := utils.NewLogger("info", "text")
	return NewParser(logger, "device_id", "EPSG:4326")
}

func TestFlexTime_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		want        time.Time
		expectError bool
	}{
		{
			name:  "RFC3339 string",
			input: `"2025-06-01T12:00:00Z"`,
			want:  time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			name:  "Unix seconds",
			input: `1748779200`,
			want:  time.Unix(1748779200, 0).UTC(),
		},
		{
			name:  "Unix seconds with fraction",
			input: `1748779200.5`,
			want:  time.Unix(1748779200, 500000000).UTC(),
		},
		{
			name:        "Null",
			input:       `null`,
			expectError: true,
		},
		{
			name:        "Empty string",
			input:       `""`,
			expectError: true,
		},
		{
			name:        "Garbage",
			input:       `"yesterday"`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ft FlexTime
			err := json.Unmarshal([]byte(tt.input), &ft)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(ft.Time))
		})
	}
}

func TestParser_Parse_LatLon(t *testing.T) {
	parser := newTestParser()

	payload := []byte(`{
		"timestamp": "2025-06-01T12:00:00Z",
		"lat": 46.05,
		"lon": 14.5,
		"device_id": "dev42",
		"attributes": {"pilot": "anna"}
	}`)

	record, err := parser.Parse("traj/records/dev42", payload)
	require.NoError(t, err)

	assert.Equal(t, 14.5, record.Point.X)
	assert.Equal(t, 46.05, record.Point.Y)
	assert.Equal(t, "EPSG:4326", record.CRS)
	assert.Equal(t, "dev42", record.Attributes["device_id"])
	assert.Equal(t, "anna", record.Attributes["pilot"])
}

func TestParser_Parse_ProjectedXY(t *testing.T) {
	parser := newTestParser()

	payload := []byte(`{
		"timestamp": 1748779200,
		"x": 461234.5,
		"y": 5103456.7,
		"crs": "EPSG:3857",
		"device_id": "dev42"
	}`)

	record, err := parser.Parse("traj/records/dev42", payload)
	require.NoError(t, err)

	assert.Equal(t, 461234.5, record.Point.X)
	assert.Equal(t, 5103456.7, record.Point.Y)
	assert.Equal(t, "EPSG:3857", record.CRS)
}

func TestParser_Parse_DeviceIDFromTopic(t *testing.T) {
	parser := newTestParser()

	payload := []byte(`{
		"timestamp": "2025-06-01T12:00:00Z",
		"lat": 46.05,
		"lon": 14.5
	}`)

	record, err := parser.Parse("traj/records/dev99", payload)
	require.NoError(t, err)
	assert.Equal(t, "dev99", record.Attributes["device_id"])
}

func TestParser_Parse_Errors(t *testing.T) {
	parser := newTestParser()

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{
			name:    "Invalid JSON",
			topic:   "traj/records/dev1",
			payload: `{not json`,
		},
		{
			name:    "Missing timestamp",
			topic:   "traj/records/dev1",
			payload: `{"lat": 46.05, "lon": 14.5}`,
		},
		{
			name:    "Missing coordinates",
			topic:   "traj/records/dev1",
			payload: `{"timestamp": "2025-06-01T12:00:00Z"}`,
		},
		{
			name:    "Only latitude",
			topic:   "traj/records/dev1",
			payload: `{"timestamp": "2025-06-01T12:00:00Z", "lat": 46.05}`,
		},
		{
			name:    "No device id anywhere",
			topic:   "traj/records/+",
			payload: `{"timestamp": "2025-06-01T12:00:00Z", "lat": 46.05, "lon": 14.5}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parser.Parse(tt.topic, []byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

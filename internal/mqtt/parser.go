package mqtt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"

	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// FlexTime время из JSON: принимает RFC3339 строку либо unix секунды
type FlexTime struct {
	time.Time
}

// UnmarshalJSON разбирает оба поддерживаемых представления времени
func (t *FlexTime) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" || s == `""` {
		return fmt.Errorf("timestamp is required")
	}

	if strings.HasPrefix(s, `"`) {
		parsed, err := time.Parse(time.RFC3339, strings.Trim(s, `"`))
		if err != nil {
			return fmt.Errorf("invalid RFC3339 timestamp %s: %w", s, err)
		}
		t.Time = parsed
		return nil
	}

	unix, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid unix timestamp %s: %w", s, err)
	}
	sec := int64(unix)
	nsec := int64((unix - float64(sec)) * float64(time.Second))
	t.Time = time.Unix(sec, nsec).UTC()
	return nil
}

// recordPayload JSON формат входящего сообщения с точкой трека
type recordPayload struct {
	Timestamp FlexTime               `json:"timestamp"`
	Lat       *float64               `json:"lat"`
	Lon       *float64               `json:"lon"`
	X         *float64               `json:"x"`
	Y         *float64               `json:"y"`
	CRS       string                 `json:"crs"`
	DeviceID  string                 `json:"device_id"`
	Attrs     map[string]interface{} `json:"attributes"`
}

// Parser разбирает MQTT payload'ы в нормализованные записи точек
type Parser struct {
	logger     *utils.Logger
	groupKey   string
	defaultCRS string
}

// NewParser создает новый парсер. groupKey — атрибут, в который кладется
// идентификатор устройства; defaultCRS используется для сообщений без
// явного тега CRS.
func NewParser(logger *utils.Logger, groupKey, defaultCRS string) *Parser {
	return &Parser{
		logger:     logger,
		groupKey:   groupKey,
		defaultCRS: defaultCRS,
	}
}

// Parse разбирает payload сообщения из топика topic. Координаты
// принимаются либо как lat/lon (географические), либо как x/y
// (проекционные). Идентификатор устройства берется из payload, а при его
// отсутствии — из последнего сегмента топика.
func (p *Parser) Parse(topic string, payload []byte) (models.PointRecord, error) {
	var msg recordPayload
	if err := json.Unmarshal(payload, &msg); err != nil {
		return models.PointRecord{}, fmt.Errorf("failed to unmarshal record payload: %w", err)
	}

	if msg.Timestamp.IsZero() {
		return models.PointRecord{}, fmt.Errorf("record payload has no timestamp")
	}

	var pt geom.Point
	switch {
	case msg.Lon != nil && msg.Lat != nil:
		pt = geom.Point{X: *msg.Lon, Y: *msg.Lat}
	case msg.X != nil && msg.Y != nil:
		pt = geom.Point{X: *msg.X, Y: *msg.Y}
	default:
		return models.PointRecord{}, fmt.Errorf("record payload has no coordinates")
	}

	deviceID := msg.DeviceID
	if deviceID == "" {
		segments := strings.Split(topic, "/")
		deviceID = segments[len(segments)-1]
	}
	if deviceID == "" || deviceID == "+" || deviceID == "#" {
		return models.PointRecord{}, fmt.Errorf("record payload has no device id")
	}

	crs := msg.CRS
	if crs == "" {
		crs = p.defaultCRS
	}

	attrs := make(map[string]interface{}, len(msg.Attrs)+1)
	for k, v := range msg.Attrs {
		attrs[k] = v
	}
	attrs[p.groupKey] = deviceID

	return models.PointRecord{
		Timestamp:  msg.Timestamp.Time,
		Point:      pt,
		CRS:        crs,
		Attributes: attrs,
	}, nil
}

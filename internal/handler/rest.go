package handler

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ctessum/geom"
	"github.com/gin-gonic/gin"
	"gonum.org/v1/gonum/stat"

	"github.com/flybeeper/trajectory-backend/internal/clip"
	"github.com/flybeeper/trajectory-backend/internal/collection"
	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/geo"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/internal/mqtt"
	"github.com/flybeeper/trajectory-backend/internal/split"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// CollectionProvider отдает последний построенный набор траекторий
type CollectionProvider interface {
	Collection() *collection.Collection
}

// RecordSink принимает записи точек для асинхронного сохранения
type RecordSink interface {
	Enqueue(record models.PointRecord) bool
}

// RESTHandler обработчик REST API endpoints
type RESTHandler struct {
	provider CollectionProvider
	index    *geo.Index
	sink     RecordSink
	hub      *Hub
	logger   *utils.Logger
	config   *config.Config
}

// NewRESTHandler создает новый REST handler. sink и hub опциональны:
// без них POST /records отвечает 503.
func NewRESTHandler(provider CollectionProvider, index *geo.Index, sink RecordSink, hub *Hub, cfg *config.Config, logger *utils.Logger) *RESTHandler {
	return &RESTHandler{
		provider: provider,
		index:    index,
		sink:     sink,
		hub:      hub,
		logger:   logger,
		config:   cfg,
	}
}

// currentCollection возвращает актуальный набор либо пишет 503
func (h *RESTHandler) currentCollection(c *gin.Context) (*collection.Collection, bool) {
	coll := h.provider.Collection()
	if coll == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "collection_unavailable",
			"message": "Trajectory collection has not been built yet",
		})
		return nil, false
	}
	return coll, true
}

// lookupTrajectory достает траекторию по id либо пишет ошибку
func (h *RESTHandler) lookupTrajectory(c *gin.Context) (*models.Trajectory, bool) {
	coll, ok := h.currentCollection(c)
	if !ok {
		return nil, false
	}

	traj, err := coll.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return traj, true
}

// writeError переводит доменные ошибки в HTTP статусы
func (h *RESTHandler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "not_found",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrOutOfRange):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "out_of_range",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrInvalidPolygon):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_polygon",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrZeroDuration):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "zero_duration",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrEmptyTrajectory):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "empty_trajectory",
			"message": err.Error(),
		})
	case errors.Is(err, models.ErrEmptyInput):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "empty_input",
			"message": err.Error(),
		})
	default:
		h.logger.WithField("error", err).Error("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "internal_error",
			"message": "Internal server error",
		})
	}
}

// ListTrajectories возвращает сводки траекторий набора
// GET /api/v1/trajectories?attr=pilot&value=anna
// GET /api/v1/trajectories?lat=46.5&lon=15.6&radius=50
// GET /api/v1/trajectories?bbox=14.0,45.5,15.0,46.5
func (h *RESTHandler) ListTrajectories(c *gin.Context) {
	coll, ok := h.currentCollection(c)
	if !ok {
		return
	}

	// Фильтр по атрибуту первой точки
	if attr := c.Query("attr"); attr != "" {
		coll = coll.Filter(attr, c.Query("value"))
	}

	var trajectories []*models.Trajectory

	switch {
	case c.Query("bbox") != "":
		bounds, err := parseBBox(c.Query("bbox"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_bbox",
				"message": "Bbox must be: min_lon,min_lat,max_lon,max_lat",
			})
			return
		}

		ids := h.index.QueryBounds(bounds)
		sort.Strings(ids)
		for _, id := range ids {
			if traj, err := coll.Get(id); err == nil {
				trajectories = append(trajectories, traj)
			}
		}

	case c.Query("lat") != "" || c.Query("lon") != "" || c.Query("radius") != "":
		lat, err := strconv.ParseFloat(c.Query("lat"), 64)
		if err != nil || lat < -90 || lat > 90 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_latitude",
				"message": "Latitude must be between -90 and 90",
			})
			return
		}

		lon, err := strconv.ParseFloat(c.Query("lon"), 64)
		if err != nil || lon < -180 || lon > 180 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_longitude",
				"message": "Longitude must be between -180 and 180",
			})
			return
		}

		radius, err := strconv.ParseFloat(c.Query("radius"), 64)
		if err != nil || radius <= 0 || radius > h.config.Geo.MaxRadiusKM {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_radius",
				"message": fmt.Sprintf("Radius must be between 0 and %.0f km", h.config.Geo.MaxRadiusKM),
			})
			return
		}

		ids := h.index.QueryRadius(lat, lon, radius)
		sort.Strings(ids)
		for _, id := range ids {
			if traj, err := coll.Get(id); err == nil {
				trajectories = append(trajectories, traj)
			}
		}

	default:
		trajectories = coll.Trajectories()
	}

	c.JSON(http.StatusOK, gin.H{
		"trajectories": convertTrajectoriesToSummaries(trajectories),
		"count":        len(trajectories),
	})
}

// GetTrajectory возвращает траекторию со всеми точками
// GET /api/v1/trajectories/:id
func (h *RESTHandler) GetTrajectory(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, convertTrajectoryToJSON(traj))
}

// GetPosition возвращает интерполированную позицию на момент времени
// GET /api/v1/trajectories/:id/position?time=2025-01-01T12:00:00Z
func (h *RESTHandler) GetPosition(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}

	at, err := time.Parse(time.RFC3339, c.Query("time"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_time",
			"message": "Time must be RFC3339",
		})
		return
	}

	pt, err := traj.PositionAt(at)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   traj.ID,
		"time": at,
		"x":    pt.X,
		"y":    pt.Y,
		"crs":  traj.CRS,
	})
}

// GetSegment возвращает отрезок траектории между двумя моментами
// GET /api/v1/trajectories/:id/segment?from=...&to=...
func (h *RESTHandler) GetSegment(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}

	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_time",
			"message": "Parameter from must be RFC3339",
		})
		return
	}

	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_time",
			"message": "Parameter to must be RFC3339",
		})
		return
	}

	segment, err := traj.SegmentBetween(from, to)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, convertTrajectoryToJSON(segment))
}

// GetSpeeds возвращает скорости по парам соседних точек
// GET /api/v1/trajectories/:id/speeds
func (h *RESTHandler) GetSpeeds(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}

	speeds, err := traj.Speeds()
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":     traj.ID,
		"speeds": speeds,
		"unit":   speedUnit(traj.CRS),
	})
}

// GetStats возвращает статистику скоростей траектории
// GET /api/v1/trajectories/:id/stats
func (h *RESTHandler) GetStats(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}

	speeds, err := traj.Speeds()
	if err != nil {
		h.writeError(c, err)
		return
	}

	sorted := append([]float64(nil), speeds...)
	sort.Float64s(sorted)

	// На единственной паре выборочное отклонение не определено
	stddev := 0.0
	if len(sorted) > 1 {
		stddev = stat.StdDev(sorted, nil)
	}

	c.JSON(http.StatusOK, gin.H{
		"id":               traj.ID,
		"num_fixes":        traj.NumFixes(),
		"length":           traj.Length(),
		"duration_seconds": traj.Duration().Seconds(),
		"speed": gin.H{
			"unit":   speedUnit(traj.CRS),
			"min":    sorted[0],
			"max":    sorted[len(sorted)-1],
			"mean":   stat.Mean(sorted, nil),
			"stddev": stddev,
			"median": stat.Quantile(0.5, stat.Empirical, sorted, nil),
			"p95":    stat.Quantile(0.95, stat.Empirical, sorted, nil),
		},
	})
}

// clipRequest тело запроса отсечения: внешнее кольцо и опциональные дыры
type clipRequest struct {
	Rings [][][2]float64 `json:"rings" binding:"required"`
}

// ClipTrajectory отсекает траекторию полигоном
// POST /api/v1/trajectories/:id/clip
func (h *RESTHandler) ClipTrajectory(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}

	var req clipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_body",
			"message": "Body must contain polygon rings",
		})
		return
	}

	polygon := make(geom.Polygon, 0, len(req.Rings))
	for _, ring := range req.Rings {
		pts := make([]geom.Point, 0, len(ring))
		for _, v := range ring {
			pts = append(pts, geom.Point{X: v[0], Y: v[1]})
		}
		polygon = append(polygon, pts)
	}

	parts, err := clip.Clip(traj, polygon)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           traj.ID,
		"trajectories": convertTrajectoriesToJSON(parts),
		"count":        len(parts),
	})
}

// SplitTrajectory разбивает траекторию по календарю, паузам или скорости.
// Принимается ровно один из параметров mode, gap, max_speed.
// GET /api/v1/trajectories/:id/split?mode=day
// GET /api/v1/trajectories/:id/split?gap=30m
// GET /api/v1/trajectories/:id/split?max_speed=42
func (h *RESTHandler) SplitTrajectory(c *gin.Context) {
	traj, ok := h.lookupTrajectory(c)
	if !ok {
		return
	}

	modeStr := c.Query("mode")
	gapStr := c.Query("gap")
	speedStr := c.Query("max_speed")

	given := 0
	for _, v := range []string{modeStr, gapStr, speedStr} {
		if v != "" {
			given++
		}
	}
	if given != 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_split",
			"message": "Exactly one of mode, gap, max_speed is required",
		})
		return
	}

	var (
		parts []*models.Trajectory
		err   error
	)

	switch {
	case modeStr != "":
		mode, perr := split.ParseMode(modeStr)
		if perr != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_mode",
				"message": "Mode must be year, month or day",
			})
			return
		}
		var opts []split.Option
		if c.Query("duplicate_boundary") == "true" {
			opts = append(opts, split.WithDuplicateBoundary())
		}
		parts, err = split.ByDate(traj, mode, opts...)

	case gapStr != "":
		gap, perr := time.ParseDuration(gapStr)
		if perr != nil || gap <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_gap",
				"message": "Gap must be a positive duration like 30m",
			})
			return
		}
		parts, err = split.ByGap(traj, gap)

	default:
		maxSpeed, perr := strconv.ParseFloat(speedStr, 64)
		if perr != nil || maxSpeed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_max_speed",
				"message": "Parameter max_speed must be a positive number",
			})
			return
		}
		parts, err = split.BySpeed(traj, maxSpeed)
	}

	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":           traj.ID,
		"trajectories": convertTrajectoriesToJSON(parts),
		"count":        len(parts),
	})
}

// GetCollection возвращает сводку текущего набора
// GET /api/v1/collection
func (h *RESTHandler) GetCollection(c *gin.Context) {
	coll, ok := h.currentCollection(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"group_key":  coll.GroupKey,
		"min_length": coll.MinLength,
		"count":      coll.Len(),
		"ids":        coll.IDs(),
	})
}

// SplitCollection разбивает каждую траекторию набора по календарю
// GET /api/v1/collection/split?mode=month
func (h *RESTHandler) SplitCollection(c *gin.Context) {
	coll, ok := h.currentCollection(c)
	if !ok {
		return
	}

	mode, err := split.ParseMode(c.Query("mode"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_mode",
			"message": "Mode must be year, month or day",
		})
		return
	}

	var opts []split.Option
	if c.Query("duplicate_boundary") == "true" {
		opts = append(opts, split.WithDuplicateBoundary())
	}

	result, err := coll.SplitByDate(mode, opts...)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"trajectories": convertTrajectoriesToSummaries(result.Trajectories()),
		"count":        result.Len(),
	})
}

// recordRequest JSON формат записи точки в POST /records
type recordRequest struct {
	Timestamp  mqtt.FlexTime          `json:"timestamp" binding:"required"`
	Lat        *float64               `json:"lat"`
	Lon        *float64               `json:"lon"`
	X          *float64               `json:"x"`
	Y          *float64               `json:"y"`
	CRS        string                 `json:"crs"`
	DeviceID   string                 `json:"device_id" binding:"required"`
	Attributes map[string]interface{} `json:"attributes"`
}

// PostRecords принимает пакет записей точек и ставит их в очередь
// батчера; подключенные WebSocket клиенты получают записи сразу.
// POST /api/v1/records
func (h *RESTHandler) PostRecords(c *gin.Context) {
	if h.sink == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"code":    "ingest_unavailable",
			"message": "Record ingestion is not configured",
		})
		return
	}

	var reqs []recordRequest
	if err := c.ShouldBindJSON(&reqs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "invalid_body",
			"message": "Body must be a JSON array of point records",
		})
		return
	}
	if len(reqs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "empty_body",
			"message": "At least one record is required",
		})
		return
	}

	accepted := 0
	for _, req := range reqs {
		record, err := h.recordFromRequest(req)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "invalid_record",
				"message": err.Error(),
			})
			return
		}

		if h.sink.Enqueue(record) {
			accepted++
		}
		if h.hub != nil {
			h.hub.BroadcastRecord(record)
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"accepted": accepted,
		"dropped":  len(reqs) - accepted,
	})
}

// recordFromRequest нормализует запись из HTTP тела
func (h *RESTHandler) recordFromRequest(req recordRequest) (models.PointRecord, error) {
	if req.Timestamp.IsZero() {
		return models.PointRecord{}, fmt.Errorf("record has no timestamp")
	}
	if req.DeviceID == "" {
		return models.PointRecord{}, fmt.Errorf("record has no device id")
	}

	var pt geom.Point
	switch {
	case req.Lon != nil && req.Lat != nil:
		pt = geom.Point{X: *req.Lon, Y: *req.Lat}
	case req.X != nil && req.Y != nil:
		pt = geom.Point{X: *req.X, Y: *req.Y}
	default:
		return models.PointRecord{}, fmt.Errorf("record has no coordinates")
	}

	crs := req.CRS
	if crs == "" {
		crs = h.config.Collection.DefaultCRS
	}

	attrs := make(map[string]interface{}, len(req.Attributes)+1)
	for k, v := range req.Attributes {
		attrs[k] = v
	}
	attrs[h.config.Collection.GroupKey] = req.DeviceID

	return models.PointRecord{
		Timestamp:  req.Timestamp.Time,
		Point:      pt,
		CRS:        crs,
		Attributes: attrs,
	}, nil
}

// parseBBox разбирает прямоугольник "min_lon,min_lat,max_lon,max_lat"
func parseBBox(s string) (*geom.Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bbox must have 4 components, got %d", len(parts))
	}

	vals := make([]float64, 4)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bbox component %q: %w", p, err)
		}
		vals[i] = v
	}

	if vals[0] >= vals[2] || vals[1] >= vals[3] {
		return nil, fmt.Errorf("bbox min must be less than max")
	}

	return &geom.Bounds{
		Min: geom.Point{X: vals[0], Y: vals[1]},
		Max: geom.Point{X: vals[2], Y: vals[3]},
	}, nil
}

// speedUnit единица скорости для данного CRS
func speedUnit(crs string) string {
	if models.IsGeographicCRS(crs) {
		return "m/s"
	}
	return "units/s"
}

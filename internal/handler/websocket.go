package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/flybeeper/trajectory-backend/internal/metrics"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 256
)

// Hub раздает живой поток записей точек WebSocket клиентам
type Hub struct {
	upgrader websocket.Upgrader
	logger   *utils.Logger

	mu      sync.RWMutex
	clients map[*wsClient]struct{}
}

// wsClient одно WebSocket соединение
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub
}

// NewHub создает новый Hub
func NewHub(logger *utils.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// TODO: проверять Origin по списку доменов в production
				return true
			},
		},
		logger:  logger,
		clients: make(map[*wsClient]struct{}),
	}
}

// HandleConnection апгрейдит HTTP запрос до WebSocket и регистрирует клиента
func (h *Hub) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to upgrade to WebSocket")
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, wsSendBuffer),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	metrics.WebSocketConnections.Inc()
	h.logger.WithField("client_ip", c.ClientIP()).Info("WebSocket client connected")

	go client.writePump()
	go client.readPump()
}

// BroadcastRecord рассылает запись всем подключенным клиентам.
// Клиенты с переполненным буфером отправки пропускаются.
func (h *Hub) BroadcastRecord(record models.PointRecord) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.clients) == 0 {
		return
	}

	data, err := json.Marshal(gin.H{
		"type":   "record",
		"record": recordToJSON(record),
	})
	if err != nil {
		h.logger.WithField("error", err).Error("Failed to marshal record for broadcast")
		return
	}

	for client := range h.clients {
		select {
		case client.send <- data:
			metrics.WebSocketMessagesOut.Inc()
		default:
		}
	}
}

// NumClients количество подключенных клиентов
func (h *Hub) NumClients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close закрывает все соединения
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}

// unregister убирает клиента из hub'а и закрывает соединение
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()

	client.conn.Close()
	metrics.WebSocketConnections.Dec()
}

// readPump читает входящие сообщения только ради контроля соединения
func (c *wsClient) readPump() {
	defer c.hub.unregister(c)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump пишет исходящие сообщения и периодические ping'и
func (c *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// recordToJSON представление записи точки в broadcast сообщениях
func recordToJSON(record models.PointRecord) map[string]interface{} {
	return map[string]interface{}{
		"timestamp":  record.Timestamp,
		"x":          record.Point.X,
		"y":          record.Point.Y,
		"crs":        record.CRS,
		"attributes": record.Attributes,
	}
}

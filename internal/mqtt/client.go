package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/flybeeper/trajectory-backend/internal/config"
	"github.com/flybeeper/trajectory-backend/internal/metrics"
	"github.com/flybeeper/trajectory-backend/internal/models"
	"github.com/flybeeper/trajectory-backend/pkg/utils"
)

// RecordHandler функция обработки входящих записей точек
type RecordHandler func(record models.PointRecord) error

// Client MQTT клиент для приема живого потока записей точек
type Client struct {
	client    mqtt.Client
	config    *config.MQTTConfig
	logger    *utils.Logger
	parser    *Parser
	handler   RecordHandler
	ctx       context.Context
	cancel    context.CancelFunc
	connected bool
	mu        sync.RWMutex
}

// NewClient создает новый MQTT клиент
func NewClient(cfg *config.MQTTConfig, logger *utils.Logger, parser *Parser, handler RecordHandler) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if parser == nil {
		return nil, fmt.Errorf("parser cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config:  cfg,
		logger:  logger,
		parser:  parser,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.URL)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(60 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		c.mu.Lock()
		c.connected = true
		c.mu.Unlock()

		c.logger.WithField("broker", cfg.URL).Info("Connected to MQTT broker")
		metrics.MQTTConnectionStatus.Set(1)

		// Подписка после (пере)подключения
		if token := client.Subscribe(cfg.TopicPrefix, 1, c.messageHandler()); token.Wait() && token.Error() != nil {
			c.logger.WithFields(map[string]interface{}{
				"topic": cfg.TopicPrefix,
				"error": token.Error(),
			}).Error("Failed to subscribe to topic")
		} else {
			c.logger.WithField("topic", cfg.TopicPrefix).Info("Subscribed to MQTT topic")
		}
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()

		c.logger.WithField("error", err).Warn("Lost connection to MQTT broker")
		metrics.MQTTConnectionStatus.Set(0)
	})

	c.client = mqtt.NewClient(opts)

	return c, nil
}

// Connect подключается к MQTT брокеру
func (c *Client) Connect() error {
	c.logger.WithField("broker", c.config.URL).Info("Connecting to MQTT broker")

	token := c.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return nil
}

// Disconnect отключается от брокера
func (c *Client) Disconnect() {
	c.cancel()
	c.client.Disconnect(250)
	c.logger.Info("Disconnected from MQTT broker")
}

// IsConnected сообщает статус соединения
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// messageHandler возвращает callback обработки входящих сообщений.
// Неразборчивые payload'ы считаются и пропускаются, конвейер не
// останавливается.
func (c *Client) messageHandler() mqtt.MessageHandler {
	return func(client mqtt.Client, msg mqtt.Message) {
		metrics.MQTTMessagesReceived.Inc()

		record, err := c.parser.Parse(msg.Topic(), msg.Payload())
		if err != nil {
			metrics.MQTTParseErrors.Inc()
			c.logger.WithFields(map[string]interface{}{
				"topic": msg.Topic(),
				"error": err,
			}).Debug("Skipping unparseable MQTT message")
			return
		}

		if c.handler == nil {
			return
		}
		if err := c.handler(record); err != nil {
			c.logger.WithFields(map[string]interface{}{
				"topic": msg.Topic(),
				"error": err,
			}).Error("Failed to handle point record")
		}
	}
}

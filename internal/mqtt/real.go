package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sweeney/pulse-sensor/internal/logic"
	"github.com/sweeney/pulse-sensor/internal/sensor"
)

const publishTimeout = 5 * time.Second

// errPublishTimeout is returned when the broker does not acknowledge in time.
var errPublishTimeout = errors.New("publish timeout")

// ReadHandler produces a reading on demand. It is called for every message
// received on the read topic, and the result is published on the readings
// topic.
type ReadHandler func() sensor.Reading

// Options configures a RealPublisher.
type Options struct {
	Broker   string
	ClientID string
	Topics   Topics
	// BufferSize is how many messages are kept for replay while offline.
	BufferSize int
	// ConnectTimeout bounds the wait for the first connection. The client
	// keeps retrying in the background after it expires.
	ConnectTimeout time.Duration
	// OnRead, if set, serves read requests.
	OnRead ReadHandler
	Logger zerolog.Logger
	Now    func() time.Time
}

// RealPublisher publishes to an actual MQTT broker.
//
// Messages published while the connection is down are kept in a ring buffer
// and replayed, oldest first, when the connection comes back. The broker
// publishes a retained OFFLINE system event if the connection drops without
// a clean disconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    zerolog.Logger
	now    func() time.Time
	onRead ReadHandler

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	connects  int
}

// NewRealPublisher creates a publisher for the given broker and starts
// connecting. A broker that is unreachable within ConnectTimeout is not an
// error; messages are buffered until it appears.
func NewRealPublisher(o Options) (*RealPublisher, error) {
	if o.Topics == (Topics{}) {
		o.Topics = NewTopics(DefaultTopicPrefix)
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.ClientID == "" {
		o.ClientID = "pulse-sensor-" + uuid.NewString()[:8]
	}

	p := &RealPublisher{
		topics: o.Topics,
		log:    o.Logger,
		now:    o.Now,
		onRead: o.OnRead,
		buf:    newRingBuffer(o.BufferSize, o.Logger),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: o.Now(),
		Event:     "OFFLINE",
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	opts := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetOrderMatters(false).
		SetBinaryWill(o.Topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(o.ConnectTimeout) {
		p.log.Warn().Str("broker", o.Broker).Msg("mqtt: broker not reachable yet, buffering until connected")
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	p.connects++
	reconnect := p.connects > 1
	pending := p.buf.drainAll()
	p.mu.Unlock()

	p.log.Info().Int("buffered", len(pending)).Bool("reconnect", reconnect).Msg("mqtt: connected")

	if p.onRead != nil {
		c.Subscribe(p.topics.Read, 1, p.handleRead)
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: p.now(), Event: "RECONNECTED"})
		if err := p.send(p.topics.System, 1, false, payload); err != nil {
			p.log.Warn().Err(err).Msg("mqtt: failed to publish RECONNECTED")
		}
	}

	for i, m := range pending {
		if err := p.send(m.topic, m.qos, m.retained, m.payload); err != nil {
			p.log.Warn().Err(err).Int("remaining", len(pending)-i).Msg("mqtt: replay interrupted")
			p.mu.Lock()
			for _, rest := range pending[i:] {
				p.buf.push(rest)
			}
			p.mu.Unlock()
			return
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn().Err(err).Msg("mqtt: connection lost")
}

func (p *RealPublisher) handleRead(_ paho.Client, _ paho.Message) {
	r := p.onRead()
	if err := p.PublishReading(r); err != nil {
		p.log.Warn().Err(err).Msg("mqtt: failed to answer read request")
	}
}

// publish sends a message now or buffers it while disconnected. A message
// that fails to send is buffered too, and the error is returned.
func (p *RealPublisher) publish(topic string, qos byte, retained bool, payload []byte) error {
	p.mu.Lock()
	if !p.connected {
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.send(topic, qos, retained, payload); err != nil {
		p.mu.Lock()
		p.buf.push(bufferedMsg{topic: topic, payload: payload, qos: qos, retained: retained})
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *RealPublisher) send(topic string, qos byte, retained bool, payload []byte) error {
	token := p.client.Publish(topic, qos, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errPublishTimeout
	}
	return token.Error()
}

// PublishReading sends a reading on the readings topic.
func (p *RealPublisher) PublishReading(r sensor.Reading) error {
	payload, err := FormatReadingPayload(r)
	if err != nil {
		return fmt.Errorf("format reading payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	if err := p.publish(p.topics.Readings, 0, false, payload); err != nil {
		return fmt.Errorf("publish reading: %w", err)
	}
	return nil
}

// Publish sends a transition event on the events topic.
func (p *RealPublisher) Publish(event logic.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	if err := p.publish(p.topics.Events, 1, false, payload); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// PublishSystem sends a system lifecycle event on the system topic.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	// QoS 1 (at-least-once) for lifecycle events
	if err := p.publish(p.topics.System, 1, event.Retained, payload); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return nil
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
	_ Publisher        = (*FakePublisher)(nil)
	_ ConnectionStatus = (*FakePublisher)(nil)
)

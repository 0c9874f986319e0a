// Package forward publishes daemon signals to an MQTT broker.
package forward

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"k8s.io/klog/v2"

	"github.com/ydb-platform/fwupd-client/internal/fwupd"
)

const (
	DefaultTopic    = "fwupd"
	DefaultClientID = "fwupd-client"

	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds
	keepAlive         = 60 * time.Second
	maxQoS            = 2
	defaultQueueSize  = 64
)

var (
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
)

type Config struct {
	// Broker is a URL such as tcp://localhost:1883 or ssl://broker:8883.
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Topic is the prefix signals are published under.
	Topic string `yaml:"topic"`
	QoS   byte   `yaml:"qos"`
}

func (c *Config) Validate() error {
	var errs []error
	if c.Broker == "" {
		errs = append(errs, errors.New("broker is required"))
	} else if u, err := url.Parse(c.Broker); err != nil {
		errs = append(errs, fmt.Errorf("invalid broker url: %w", err))
	} else {
		switch u.Scheme {
		case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
		default:
			errs = append(errs, fmt.Errorf("unsupported broker scheme %q", u.Scheme))
		}
	}
	if strings.ContainsAny(c.Topic, "+#") {
		errs = append(errs, fmt.Errorf("topic %q must not contain wildcards", c.Topic))
	}
	if c.QoS > maxQoS {
		errs = append(errs, fmt.Errorf("qos must be 0, 1 or 2, got %d", c.QoS))
	}
	return errors.Join(errs...)
}

// Publisher is the part of a paho client the forwarder uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Forwarder is a sink that publishes every signal as JSON to
// <topic>/<signal kind>. Submit only queues the message; a single goroutine
// publishes it and waits for the broker. Closing it disconnects from the
// broker.
type Forwarder struct {
	pub     Publisher
	topic   string
	qos     byte
	onError func(error)

	queue     chan publication
	quit      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

type publication struct {
	topic   string
	payload []byte
}

type Option interface {
	apply(*Forwarder)
}

type errorHandler func(error)

func (h errorHandler) apply(f *Forwarder) {
	if h != nil {
		f.onError = h
	}
}

// WithErrorHandler replaces logging of failed publishes.
func WithErrorHandler(h func(error)) Option {
	return errorHandler(h)
}

type queueSize int

func (q queueSize) apply(f *Forwarder) {
	if q > 0 {
		f.queue = make(chan publication, int(q))
	}
}

// WithQueueSize sets how many messages may wait for the broker before new
// signals are refused.
func WithQueueSize(n int) Option {
	return queueSize(n)
}

func New(pub Publisher, topic string, qos byte, opts ...Option) *Forwarder {
	if topic == "" {
		topic = DefaultTopic
	}
	f := &Forwarder{
		pub:   pub,
		topic: strings.TrimSuffix(topic, "/"),
		qos:   qos,
		onError: func(err error) {
			klog.Errorf("%v", err)
		},
		queue: make(chan publication, defaultQueueSize),
		quit:  make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt.apply(f)
	}

	f.wg.Add(1)
	go f.run()

	return f
}

// Connect dials the broker described by cfg.
func Connect(cfg Config, opts ...Option) (*Forwarder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client := pahomqtt.NewClient(clientOptions(cfg))
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	klog.V(2).Infof("connected to mqtt broker %s", cfg.Broker)

	return New(client, cfg.Topic, cfg.QoS, opts...), nil
}

func clientOptions(cfg Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = DefaultClientID
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		klog.Errorf("lost connection to mqtt broker: %v", err)
	})
	opts.SetReconnectingHandler(func(pahomqtt.Client, *pahomqtt.ClientOptions) {
		klog.V(2).Info("reconnecting to mqtt broker")
	})

	return opts
}

// Topic returns the topic a signal of the given kind is published to.
func (f *Forwarder) Topic(kind string) string {
	return f.topic + "/" + kind
}

// Submit queues sig for publishing. It fails when the forwarder is closed or
// the queue is full.
func (f *Forwarder) Submit(sig fwupd.Signal) error {
	payload, err := Encode(sig)
	if err != nil {
		return err
	}

	p := publication{topic: f.Topic(sig.Kind()), payload: payload}
	select {
	case <-f.quit:
		return fmt.Errorf("%w: %s: forwarder is closed", ErrPublishFailed, p.topic)
	default:
	}
	select {
	case f.queue <- p:
		return nil
	default:
		return fmt.Errorf("%w: %s: %d messages already waiting for the broker", ErrPublishFailed, p.topic, cap(f.queue))
	}
}

func (f *Forwarder) run() {
	defer f.wg.Done()
	for {
		select {
		case <-f.quit:
			if n := len(f.queue); n > 0 {
				klog.V(2).Infof("dropping %d unpublished signals", n)
			}
			return
		case p := <-f.queue:
			if err := f.publish(p); err != nil {
				f.onError(err)
			}
		}
	}
}

func (f *Forwarder) publish(p publication) error {
	token := f.pub.Publish(p.topic, f.qos, false, p.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s: timeout after %v", ErrPublishFailed, p.topic, publishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, p.topic, err)
	}
	return nil
}

// Close stops publishing and disconnects. It is safe to call more than once.
func (f *Forwarder) Close() {
	f.closeOnce.Do(func() {
		close(f.quit)
		f.wg.Wait()
		f.pub.Disconnect(disconnectQuiesce)
	})
}

type message struct {
	Kind        string                 `json:"kind"`
	Device      *fwupd.Device          `json:"device,omitempty"`
	Interface   string                 `json:"interface,omitempty"`
	Changed     map[string]interface{} `json:"changed,omitempty"`
	Invalidated []string               `json:"invalidated,omitempty"`
}

// Encode renders a signal as the JSON document published for it.
func Encode(sig fwupd.Signal) ([]byte, error) {
	msg := message{Kind: sig.Kind()}
	switch s := sig.(type) {
	case fwupd.DeviceAdded:
		msg.Device = &s.Device
	case fwupd.DeviceChanged:
		msg.Device = &s.Device
	case fwupd.DeviceRemoved:
		msg.Device = &s.Device
	case fwupd.PropertiesChanged:
		msg.Interface = s.Interface
		msg.Invalidated = s.Invalidated
		if len(s.Changed) > 0 {
			msg.Changed = make(map[string]interface{}, len(s.Changed))
			for name, v := range s.Changed {
				msg.Changed[name] = v.Value()
			}
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s signal: %w", sig.Kind(), err)
	}
	return payload, nil
}

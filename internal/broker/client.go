// Copyright (C) 2026 The MerkleKV Authors.
// All rights reserved. This file is part of merklekv.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/merklekv/merklekv/pkg/log"
)

// errGenSuperseded is returned internally when a reconnect attempt's
// generation has been invalidated by a concurrent Connect or Disconnect.
var errGenSuperseded = errors.New("broker: reconnect generation superseded")

// Handler processes an inbound message on a subscribed topic.
type Handler func(topic string, payload []byte)

// Config carries the values Client needs from internal/config without
// importing that package directly: state is injected at construction
// rather than read from a package-level singleton.
type Config struct {
	BrokerURL         string
	ClientID          string
	Username          string
	Password          string
	KeepAlive         time.Duration
	ConnectionTimeout time.Duration
	LWTTopic          string
	LWTPayload        []byte
}

// Client wraps an MQTT connection with an explicit state machine, jittered
// reconnect backoff, and LWT handling.
type Client struct {
	cfg Config

	mu            sync.Mutex
	inner         mqtt.Client
	state         State
	subscriptions map[string]Handler
	suppressLWT   bool

	stateSubs   []chan StateEvent
	stateSubsMu sync.Mutex

	backoffGen func(attempt int) time.Duration
	cancelConn context.CancelFunc

	// reconnectGen is bumped on every explicit Connect or Disconnect call.
	// A running reconnectLoop captures its generation at spawn time and
	// checks it after each backoff sleep, so a Disconnect (or a fresh
	// Connect) issued while the loop is sleeping aborts it instead of
	// letting it race a later, unrelated connection attempt.
	reconnectGen uint64
}

// New constructs a Client in the Disconnected state.
func New(cfg Config) *Client {
	return &Client{
		cfg:           cfg,
		state:         Disconnected,
		subscriptions: make(map[string]Handler),
		backoffGen:    backoffDelay,
	}
}

// State returns the client's current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Healthy reports whether the client is currently connected to the
// broker. Satisfies adminhttp.HealthChecker.
func (c *Client) Healthy() bool {
	return c.State() == Connected
}

// Subscribe registers a handler for topic, called for every inbound
// message delivered while connected. Subscriptions are replayed on
// reconnect.
func (c *Client) Subscribe(topic string, handler Handler) {
	c.mu.Lock()
	c.subscriptions[topic] = handler
	inner := c.inner
	c.mu.Unlock()

	if inner != nil && inner.IsConnected() {
		c.subscribeOne(inner, topic, handler)
	}
}

// Unsubscribe removes a topic's handler.
func (c *Client) Unsubscribe(topic string) {
	c.mu.Lock()
	delete(c.subscriptions, topic)
	inner := c.inner
	c.mu.Unlock()

	if inner != nil && inner.IsConnected() {
		inner.Unsubscribe(topic)
	}
}

// Publish sends payload to topic at QoS 1 with retain forced false.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	inner := c.inner
	c.mu.Unlock()

	if inner == nil || !inner.IsConnected() {
		return fmt.Errorf("broker: publish to %q while not connected", topic)
	}

	token := inner.Publish(topic, 1, false, payload)
	return c.waitToken(ctx, token)
}

// Connect transitions Disconnected -> Connecting -> Connected (or back to
// Disconnected on failure/timeout).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelConn != nil {
		c.cancelConn()
	}
	c.reconnectGen++
	connCtx, cancel := context.WithCancel(ctx)
	c.cancelConn = cancel
	c.setStateLocked(Connecting, nil)
	c.mu.Unlock()

	return c.connectOnce(connCtx)
}

func (c *Client) connectOnce(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetKeepAlive(c.cfg.KeepAlive).
		SetConnectTimeout(c.cfg.ConnectionTimeout).
		SetAutoReconnect(false).
		SetCleanSession(false)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}
	if c.cfg.LWTTopic != "" {
		opts.SetWill(c.cfg.LWTTopic, string(c.cfg.LWTPayload), 1, false)
	}

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.onConnectionLost(err)
	})
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		c.onConnected(cl)
	})

	inner := mqtt.NewClient(opts)
	token := inner.Connect()

	if err := c.waitToken(ctx, token); err != nil {
		c.mu.Lock()
		c.setStateLocked(Disconnected, err)
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	c.inner = inner
	c.mu.Unlock()
	return nil
}

// onConnected runs on paho's connect callback, which may fire before
// connectOnce has stored the new client in c.inner, so it records the
// connected client itself before replaying subscriptions on it.
func (c *Client) onConnected(inner mqtt.Client) {
	c.mu.Lock()
	c.inner = inner
	c.setStateLocked(Connected, nil)
	subs := make(map[string]Handler, len(c.subscriptions))
	for topic, h := range c.subscriptions {
		subs[topic] = h
	}
	c.mu.Unlock()

	if inner == nil {
		return
	}
	for topic, handler := range subs {
		c.subscribeOne(inner, topic, handler)
	}
}

func (c *Client) subscribeOne(inner mqtt.Client, topic string, handler Handler) {
	token := inner.Subscribe(topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	if err := token.Error(); err != nil {
		log.Warnf("broker: subscribe to %q failed: %v", topic, err)
	}
}

// onConnectionLost handles external transport loss, triggering reconnect
// with jittered backoff.
func (c *Client) onConnectionLost(err error) {
	c.mu.Lock()
	c.setStateLocked(Disconnected, err)
	suppress := c.suppressLWT
	c.suppressLWT = false
	c.reconnectGen++
	gen := c.reconnectGen
	c.mu.Unlock()

	if suppress {
		return
	}
	go c.reconnectLoop(gen)
}

// reconnectLoop retries connectAsOf with backoff until it succeeds or gen is
// superseded by a later Connect/Disconnect call. The generation check runs
// both before and after the backoff sleep so an explicit Disconnect issued
// mid-sleep (which otherwise ends back in the same Disconnected state that
// triggered this loop) still aborts it.
func (c *Client) reconnectLoop(gen uint64) {
	for attempt := 0; ; attempt++ {
		c.mu.Lock()
		if c.reconnectGen != gen {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		delay := c.backoffGen(attempt)
		time.Sleep(delay)

		c.mu.Lock()
		if c.reconnectGen != gen || c.state == Connected || c.state == Disconnecting {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectionTimeout)
		err := c.connectAsOf(ctx, gen)
		cancel()
		if err == nil {
			return
		}
		log.Warnf("broker: reconnect attempt %d failed: %v", attempt, err)
	}
}

// connectAsOf performs one connect attempt belonging to reconnect
// generation gen, without itself bumping reconnectGen (a self-issued
// retry must not invalidate the loop that issued it). It reports
// errGenSuperseded if gen no longer matches the client's current
// generation, e.g. because Connect or Disconnect ran concurrently.
func (c *Client) connectAsOf(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.reconnectGen != gen {
		c.mu.Unlock()
		return errGenSuperseded
	}
	if c.cancelConn != nil {
		c.cancelConn()
	}
	connCtx, cancel := context.WithCancel(ctx)
	c.cancelConn = cancel
	c.setStateLocked(Connecting, nil)
	c.mu.Unlock()

	return c.connectOnce(connCtx)
}

// Disconnect transitions Connected -> Disconnecting -> Disconnected. When
// suppressLWT is true, the broker is instructed not to deliver the Last
// Will Testament. Credentials are cleared from Config once the client is
// disconnected so they don't linger in memory past the connection's life.
func (c *Client) Disconnect(suppressLWT bool) {
	c.mu.Lock()
	if c.cancelConn != nil {
		c.cancelConn()
	}
	c.reconnectGen++
	c.setStateLocked(Disconnecting, nil)
	c.suppressLWT = suppressLWT
	inner := c.inner
	c.mu.Unlock()

	if inner != nil {
		inner.Disconnect(250)
	}

	c.mu.Lock()
	c.setStateLocked(Disconnected, nil)
	c.inner = nil
	c.cfg.Username = ""
	c.cfg.Password = ""
	c.mu.Unlock()
}

// StateEvents returns a channel broadcasting every state transition. The
// channel drops on backpressure: slow subscribers miss intermediate events
// rather than blocking the client.
func (c *Client) StateEvents() <-chan StateEvent {
	ch := make(chan StateEvent, 8)
	c.stateSubsMu.Lock()
	c.stateSubs = append(c.stateSubs, ch)
	c.stateSubsMu.Unlock()
	return ch
}

func (c *Client) setStateLocked(s State, err error) {
	c.state = s
	c.stateSubsMu.Lock()
	for _, ch := range c.stateSubs {
		select {
		case ch <- StateEvent{State: s, Err: err}:
		default:
		}
	}
	c.stateSubsMu.Unlock()
}

func (c *Client) waitToken(ctx context.Context, token mqtt.Token) error {
	done := make(chan struct{})
	go func() {
		token.Wait()
		close(done)
	}()

	select {
	case <-done:
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

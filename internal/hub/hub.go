// Package hub coordinates connection membership and message distribution.
// It composes the broker bridge with the per-process connection registry and
// is the single authority over both.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/spk364/procomp/internal/domain"
	"github.com/spk364/procomp/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

// --- Command types ---

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type connectCmd struct {
	baseHubCmd
	channel      string
	connection   *websocket.Conn
	identity     domain.Identity
	role         domain.Role
	errorChannel chan error
}

type disconnectCmd struct {
	baseHubCmd
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseHubCmd
	channel string
	payload []byte
}

type sendCmd struct {
	baseHubCmd
	connection *websocket.Conn
	payload    []byte
}

type markActivityCmd struct {
	baseHubCmd
	connection *websocket.Conn
}

type clientCountCmd struct {
	baseHubCmd
	channel      string
	replyChannel chan int
}

type subscribedCmd struct {
	baseHubCmd
	channel string
	err     error
}

type unsubscribedCmd struct {
	baseHubCmd
	channel string
}

type stopCmd struct {
	baseHubCmd
}

// client is a registered connection with its metadata. Owned exclusively by
// the hub goroutine once accepted.
type client struct {
	writer       *clientWriter
	channel      string
	identity     domain.Identity
	role         domain.Role
	lastActivity time.Time
}

// Options tune connection limits and the heartbeat sweep.
type Options struct {
	MaxClientsPerChannel int
	PingInterval         time.Duration
	IdleTimeout          time.Duration
}

// Hub is the single coordination point for connect/disconnect/publish and
// the heartbeat sweep. All shared state is confined to the run goroutine;
// the public API communicates through the command channel.
type Hub struct {
	cmdCh  chan hubCmd
	clock  clockwork.Clock
	broker domain.Broker
	opts   Options

	channels      map[string]map[*websocket.Conn]*client
	conns         map[*websocket.Conn]*client
	pending       map[string][]connectCmd
	unsubscribing map[string]bool

	done chan struct{}
}

func NewHub(broker domain.Broker, clock clockwork.Clock, opts Options) *Hub {
	h := &Hub{
		cmdCh:    make(chan hubCmd, 256),
		clock:    clock,
		broker:   broker,
		opts:     opts,
		channels:      make(map[string]map[*websocket.Conn]*client),
		conns:         make(map[*websocket.Conn]*client),
		pending:       make(map[string][]connectCmd),
		unsubscribing: make(map[string]bool),
		done:          make(chan struct{}),
	}
	go h.run()
	go h.forwardBrokerMessages()
	return h
}

// --- Public API ---

// Connect registers a connection under a channel. For the first local
// subscriber of a channel the broker subscribe completes before Connect
// returns, so no publish can slip between registration and subscription.
func (h *Hub) Connect(conn *websocket.Conn, channel string, identity domain.Identity, role domain.Role) error {
	errCh := make(chan error, 1)
	h.cmdCh <- connectCmd{channel: channel, connection: conn, identity: identity, role: role, errorChannel: errCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("connect command timed out after %v", commandTimeout)
	}
}

// Disconnect removes a connection. Idempotent: disconnecting an unknown or
// already-removed connection is a no-op.
func (h *Hub) Disconnect(conn *websocket.Conn) {
	h.cmdCh <- disconnectCmd{connection: conn}
}

// Publish sends a message to every subscriber of a channel: through the
// broker for remote processes, and directly to local sockets without waiting
// for the broker round-trip. Sockets local to this process may see the
// message twice when the broker echoes it back; payloads are full snapshots,
// so duplicate delivery is safe.
func (h *Hub) Publish(ctx context.Context, channel string, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if err := h.broker.Publish(ctx, channel, payload); err != nil {
		// Fire-and-forget: remote subscribers miss this message, local
		// delivery still happens.
		slog.Warn("Broker publish failed", "channel", channel, "error", err)
	} else {
		metrics.HubMessagesPublishedTotal.Inc()
	}

	h.cmdCh <- broadcastCmd{channel: channel, payload: payload}
	return nil
}

// Send delivers a message to a single connection only. Used for replies
// (PONG, ERROR) that must never reach other subscribers.
func (h *Hub) Send(conn *websocket.Conn, msg *domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.cmdCh <- sendCmd{connection: conn, payload: payload}
	return nil
}

// MarkActivity refreshes a connection's last-activity timestamp. Called on
// every inbound frame including heartbeats.
func (h *Hub) MarkActivity(conn *websocket.Conn) {
	h.cmdCh <- markActivityCmd{connection: conn}
}

// ClientCount returns the number of local connections on a channel, or -1 on
// timeout.
func (h *Hub) ClientCount(channel string) int {
	replyCh := make(chan int, 1)
	h.cmdCh <- clientCountCmd{channel: channel, replyChannel: replyCh}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts down the hub, closing all client connections. Pending sends are
// abandoned; blocks until the hub goroutine exits or the timeout is reached.
func (h *Hub) Stop() {
	h.cmdCh <- stopCmd{}

	timer := h.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-h.done:
		slog.Info("Hub stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Hub stop timeout exceeded", "timeout", stopTimeout)
	}
}

// --- Run loop ---

func (h *Hub) run() {
	defer close(h.done)

	sweepTicker := h.clock.NewTicker(h.opts.PingInterval)
	defer sweepTicker.Stop()

	depthTicker := h.clock.NewTicker(1 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-depthTicker.Chan():
			metrics.HubCommandChannelDepth.Set(float64(len(h.cmdCh)))

		case <-sweepTicker.Chan():
			h.handleSweep()

		case cmd := <-h.cmdCh:
			switch c := cmd.(type) {
			case connectCmd:
				h.handleConnect(c)
			case disconnectCmd:
				h.handleDisconnect(c.connection)
			case broadcastCmd:
				h.handleBroadcast(c.channel, c.payload)
			case sendCmd:
				if cl, ok := h.conns[c.connection]; ok {
					if !cl.writer.trySend(c.payload) {
						metrics.HubSlowClientsEvicted.Inc()
						h.handleDisconnect(c.connection)
					}
				}
			case markActivityCmd:
				if cl, ok := h.conns[c.connection]; ok {
					cl.lastActivity = h.clock.Now()
				}
			case clientCountCmd:
				c.replyChannel <- len(h.channels[c.channel])
			case subscribedCmd:
				h.handleSubscribed(c)
			case unsubscribedCmd:
				h.handleUnsubscribed(c)
			case stopCmd:
				h.handleStop()
				return
			}
		}
	}
}

// forwardBrokerMessages fans broker messages into the local broadcast path.
// This is how publishes from other processes reach this process's sockets.
func (h *Hub) forwardBrokerMessages() {
	for msg := range h.broker.Messages() {
		select {
		case h.cmdCh <- broadcastCmd{channel: msg.Channel, payload: msg.Payload}:
		case <-h.done:
			return
		}
	}
}

func (h *Hub) handleConnect(c connectCmd) {
	// Channel already active on this process.
	if clients, exists := h.channels[c.channel]; exists {
		h.register(clients, c)
		return
	}

	// A broker subscribe for this channel is in flight: queue behind it.
	if _, exists := h.pending[c.channel]; exists {
		h.pending[c.channel] = append(h.pending[c.channel], c)
		return
	}

	// First local subscriber: subscribe at the broker before registering.
	h.pending[c.channel] = []connectCmd{c}

	// The last subscriber's broker unsubscribe is still in flight. Issuing
	// a subscribe now could be overtaken by it, leaving this client on a
	// channel the broker no longer delivers. The subscribe starts once the
	// unsubscribe has settled.
	if h.unsubscribing[c.channel] {
		return
	}
	h.startSubscribe(c.channel)
}

func (h *Hub) startSubscribe(channel string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		err := h.broker.Subscribe(ctx, channel)
		select {
		case h.cmdCh <- subscribedCmd{channel: channel, err: err}:
		case <-h.done:
		}
	}()
}

func (h *Hub) handleUnsubscribed(c unsubscribedCmd) {
	delete(h.unsubscribing, c.channel)
	if _, exists := h.pending[c.channel]; exists {
		h.startSubscribe(c.channel)
	}
}

func (h *Hub) handleSubscribed(c subscribedCmd) {
	pending, exists := h.pending[c.channel]
	if !exists {
		return
	}
	delete(h.pending, c.channel)

	if c.err != nil {
		slog.Error("Broker subscribe failed, rejecting pending clients",
			"channel", c.channel, "pending", len(pending), "error", c.err)
		for _, p := range pending {
			_ = p.connection.Close()
			p.errorChannel <- c.err
		}
		return
	}

	clients := make(map[*websocket.Conn]*client)
	h.channels[c.channel] = clients
	metrics.HubActiveChannels.Set(float64(len(h.channels)))
	for _, p := range pending {
		h.register(clients, p)
	}
}

func (h *Hub) register(clients map[*websocket.Conn]*client, c connectCmd) {
	if h.opts.MaxClientsPerChannel > 0 && len(clients) >= h.opts.MaxClientsPerChannel {
		slog.Warn("Rejecting client: max clients reached",
			"channel", c.channel, "max_clients", h.opts.MaxClientsPerChannel)
		_ = c.connection.Close()
		c.errorChannel <- fmt.Errorf("max clients per channel (%d) reached", h.opts.MaxClientsPerChannel)
		return
	}

	cl := &client{
		writer:       newClientWriter(c.connection, h.clock),
		channel:      c.channel,
		identity:     c.identity,
		role:         c.role,
		lastActivity: h.clock.Now(),
	}
	clients[c.connection] = cl
	h.conns[c.connection] = cl

	metrics.HubConnectedClients.Inc()
	slog.Debug("Client connected",
		"channel", c.channel, "user_id", c.identity.UserID, "role", string(c.role),
		"total_clients", len(clients))

	c.errorChannel <- nil
	h.broadcastConnectionStatus(c.channel)
}

func (h *Hub) handleDisconnect(conn *websocket.Conn) {
	cl, exists := h.conns[conn]
	if !exists {
		return
	}
	delete(h.conns, conn)

	clients := h.channels[cl.channel]
	delete(clients, conn)
	cl.writer.stop()

	metrics.HubConnectedClients.Dec()

	if len(clients) == 0 {
		delete(h.channels, cl.channel)
		metrics.HubActiveChannels.Set(float64(len(h.channels)))
		channel := cl.channel
		h.unsubscribing[channel] = true
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			if err := h.broker.Unsubscribe(ctx, channel); err != nil {
				slog.Warn("Broker unsubscribe failed", "channel", channel, "error", err)
			}
			select {
			case h.cmdCh <- unsubscribedCmd{channel: channel}:
			case <-h.done:
			}
		}()
		slog.Info("Last client disconnected", "channel", cl.channel)
	} else {
		slog.Debug("Client disconnected", "channel", cl.channel, "remaining_clients", len(clients))
		h.broadcastConnectionStatus(cl.channel)
	}
}

func (h *Hub) handleBroadcast(channel string, payload []byte) {
	clients, exists := h.channels[channel]
	if !exists {
		return
	}

	start := h.clock.Now()

	var slow []*websocket.Conn
	for conn, cl := range clients {
		if cl.writer.trySend(payload) {
			metrics.HubMessagesBroadcastTotal.Inc()
		} else {
			slow = append(slow, conn)
		}
	}

	// Evict slow clients only after delivery to everyone else completed.
	for _, conn := range slow {
		slog.Warn("Disconnecting slow client", "channel", channel)
		metrics.HubSlowClientsEvicted.Inc()
		h.handleDisconnect(conn)
	}

	metrics.HubBroadcastDuration.Observe(h.clock.Since(start).Seconds())
}

// handleSweep pings every connection and evicts the ones idle beyond the
// timeout. A full send buffer counts as an idle timeout: both mean the
// client has stopped responding.
func (h *Hub) handleSweep() {
	now := h.clock.Now()

	ping, err := json.Marshal(&domain.Message{
		Type:      domain.MessagePing,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		slog.Error("Failed to marshal ping", "error", err)
		return
	}

	var evict []*websocket.Conn
	for conn, cl := range h.conns {
		if now.Sub(cl.lastActivity) > h.opts.IdleTimeout {
			metrics.HubIdleDisconnects.Inc()
			evict = append(evict, conn)
			continue
		}
		if !cl.writer.trySend(ping) {
			metrics.WebSocketPingFailures.Inc()
			evict = append(evict, conn)
		}
	}

	for _, conn := range evict {
		slog.Info("Evicting idle client", "channel", h.conns[conn].channel)
		h.handleDisconnect(conn)
	}
}

func (h *Hub) broadcastConnectionStatus(channel string) {
	clients := h.channels[channel]
	msg, err := domain.NewChannelMessage(domain.MessageConnectionStatus, channel,
		domain.ConnectionStatusData{Connected: true, ClientCount: len(clients)}, h.clock.Now())
	if err != nil {
		slog.Error("Failed to build connection status", "error", err)
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal connection status", "error", err)
		return
	}
	h.handleBroadcast(channel, payload)
}

func (h *Hub) handleStop() {
	totalClients := len(h.conns)
	slog.Info("Hub shutting down", "channels", len(h.channels), "total_clients", totalClients)

	for channel, clients := range h.channels {
		for conn, cl := range clients {
			cl.writer.stopGraceful("Server shutting down")
			delete(h.conns, conn)
		}
		delete(h.channels, channel)
	}
	for channel, pending := range h.pending {
		for _, p := range pending {
			_ = p.connection.Close()
			p.errorChannel <- fmt.Errorf("hub stopped")
		}
		delete(h.pending, channel)
	}

	metrics.HubConnectedClients.Sub(float64(totalClients))
	metrics.HubActiveChannels.Set(0)
	slog.Info("Hub shutdown complete", "disconnected_clients", totalClients)
}

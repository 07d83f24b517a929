package hub

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/spk364/procomp/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Fake broker ---

type fakeBroker struct {
	mu           sync.Mutex
	subs         map[string]bool
	published    map[string][][]byte
	messages     chan domain.BrokerMessage
	subscribeErr error

	// Set before the hub starts. unsubscribeBegan receives the channel name
	// as an Unsubscribe call enters; unsubscribeGate stalls it until closed.
	unsubscribeBegan chan string
	unsubscribeGate  chan struct{}
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:      make(map[string]bool),
		published: make(map[string][][]byte),
		messages:  make(chan domain.BrokerMessage, 64),
	}
}

func (b *fakeBroker) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published[channel] = append(b.published[channel], payload)
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribeErr != nil {
		return b.subscribeErr
	}
	b.subs[channel] = true
	return nil
}

func (b *fakeBroker) Unsubscribe(_ context.Context, channel string) error {
	if b.unsubscribeBegan != nil {
		b.unsubscribeBegan <- channel
	}
	if b.unsubscribeGate != nil {
		<-b.unsubscribeGate
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, channel)
	return nil
}

func (b *fakeBroker) Messages() <-chan domain.BrokerMessage { return b.messages }

func (b *fakeBroker) Close() error {
	close(b.messages)
	return nil
}

func (b *fakeBroker) subscribed(channel string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[channel]
}

func (b *fakeBroker) publishCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published[channel])
}

// --- Connection harness ---

// newTestConnPair returns the two ends of a live WebSocket connection.
func newTestConnPair(t *testing.T) (server, client *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	serverCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		serverCh <- conn
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	server = <-serverCh
	return server, client
}

func defaultOptions() Options {
	return Options{
		MaxClientsPerChannel: 50,
		PingInterval:         30 * time.Millisecond,
		IdleTimeout:          10 * time.Second,
	}
}

func newTestHub(t *testing.T, broker domain.Broker, opts Options) *Hub {
	t.Helper()
	h := NewHub(broker, clockwork.NewRealClock(), opts)
	t.Cleanup(h.Stop)
	return h
}

func testIdentity(role domain.Role) domain.Identity {
	return domain.Identity{UserID: uuid.NewString(), Name: "tester", Role: role}
}

func readMessage(t *testing.T, conn *websocket.Conn) domain.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg domain.Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

// readUntil skips frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) domain.Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msg := readMessage(t, conn)
		if msg.Type == msgType {
			return msg
		}
	}
	t.Fatalf("no %s message received", msgType)
	return domain.Message{}
}

// --- Tests ---

func TestHub_ConnectSubscribesBeforeReturning(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	channel := domain.MatchChannel(uuid.New())

	server, client := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	// The broker subscription must be in place by the time Connect returns.
	assert.True(t, broker.subscribed(channel))

	status := readUntil(t, client, domain.MessageConnectionStatus)
	var data domain.ConnectionStatusData
	require.NoError(t, json.Unmarshal(status.Data, &data))
	assert.True(t, data.Connected)
	assert.Equal(t, 1, data.ClientCount)
}

func TestHub_ConnectFailsWhenSubscribeFails(t *testing.T) {
	broker := newFakeBroker()
	broker.subscribeErr = assert.AnError
	h := newTestHub(t, broker, defaultOptions())

	server, client := newTestConnPair(t)
	err := h.Connect(server, domain.MatchChannel(uuid.New()), testIdentity(domain.RoleViewer), domain.RoleViewer)
	require.Error(t, err)

	// The rejected socket is closed.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, readErr := client.ReadMessage()
	assert.Error(t, readErr)
}

func TestHub_MaxClientsPerChannel(t *testing.T) {
	broker := newFakeBroker()
	opts := defaultOptions()
	opts.MaxClientsPerChannel = 1
	h := newTestHub(t, broker, opts)
	channel := domain.MatchChannel(uuid.New())

	first, _ := newTestConnPair(t)
	require.NoError(t, h.Connect(first, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	second, _ := newTestConnPair(t)
	err := h.Connect(second, channel, testIdentity(domain.RoleViewer), domain.RoleViewer)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max clients")
	assert.Equal(t, 1, h.ClientCount(channel))
}

func TestHub_PublishReachesLocalAndBroker(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	matchID := uuid.New()
	channel := domain.MatchChannel(matchID)

	server1, client1 := newTestConnPair(t)
	server2, client2 := newTestConnPair(t)
	require.NoError(t, h.Connect(server1, channel, testIdentity(domain.RoleReferee), domain.RoleReferee))
	require.NoError(t, h.Connect(server2, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	msg, err := domain.NewMatchMessage(domain.MessageMatchUpdate, matchID, map[string]string{"state": "IN_PROGRESS"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.Publish(context.Background(), channel, msg))

	// Both local subscribers get the message without a broker round-trip.
	for _, client := range []*websocket.Conn{client1, client2} {
		got := readUntil(t, client, domain.MessageMatchUpdate)
		assert.Equal(t, matchID.String(), got.MatchID)
	}

	assert.Equal(t, 1, broker.publishCount(channel))
}

func TestHub_BrokerMessagesFanOutLocally(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	matchID := uuid.New()
	channel := domain.MatchChannel(matchID)

	server, client := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	remote, err := domain.NewMatchMessage(domain.MessageMatchUpdate, matchID, map[string]int{"timeRemaining": 90}, time.Now())
	require.NoError(t, err)
	payload, err := json.Marshal(remote)
	require.NoError(t, err)

	// Simulate a publish from another process arriving via the broker.
	broker.messages <- domain.BrokerMessage{Channel: channel, Payload: payload}

	got := readUntil(t, client, domain.MessageMatchUpdate)
	assert.Equal(t, matchID.String(), got.MatchID)
}

func TestHub_DisconnectIsIdempotent(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	channel := domain.MatchChannel(uuid.New())

	server1, _ := newTestConnPair(t)
	server2, client2 := newTestConnPair(t)
	require.NoError(t, h.Connect(server1, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))
	require.NoError(t, h.Connect(server2, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	h.Disconnect(server1)
	h.Disconnect(server1)

	// No double-decrement: exactly one client remains.
	require.Eventually(t, func() bool { return h.ClientCount(channel) == 1 },
		2*time.Second, 10*time.Millisecond)

	status := readUntil(t, client2, domain.MessageConnectionStatus)
	var data domain.ConnectionStatusData
	for {
		require.NoError(t, json.Unmarshal(status.Data, &data))
		if data.ClientCount == 1 {
			break
		}
		status = readUntil(t, client2, domain.MessageConnectionStatus)
	}
	assert.Equal(t, 1, data.ClientCount)
}

func TestHub_LastDisconnectUnsubscribes(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	channel := domain.MatchChannel(uuid.New())

	server, _ := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))
	require.True(t, broker.subscribed(channel))

	h.Disconnect(server)

	require.Eventually(t, func() bool {
		return !broker.subscribed(channel) && h.ClientCount(channel) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

// TestHub_ConnectDuringUnsubscribeWaitsForResubscribe covers the window
// where a channel's last subscriber left, the broker unsubscribe is still in
// flight, and a new first subscriber arrives. The new subscribe must not be
// overtaken by the stalled unsubscribe.
func TestHub_ConnectDuringUnsubscribeWaitsForResubscribe(t *testing.T) {
	broker := newFakeBroker()
	broker.unsubscribeBegan = make(chan string, 1)
	broker.unsubscribeGate = make(chan struct{})
	h := newTestHub(t, broker, defaultOptions())
	channel := domain.MatchChannel(uuid.New())

	serverA, _ := newTestConnPair(t)
	require.NoError(t, h.Connect(serverA, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	h.Disconnect(serverA)
	select {
	case ch := <-broker.unsubscribeBegan:
		require.Equal(t, channel, ch)
	case <-time.After(2 * time.Second):
		t.Fatal("broker unsubscribe never started")
	}

	serverB, clientB := newTestConnPair(t)
	connectErr := make(chan error, 1)
	go func() {
		connectErr <- h.Connect(serverB, channel, testIdentity(domain.RoleViewer), domain.RoleViewer)
	}()

	// The connect is held until the unsubscribe settles.
	select {
	case err := <-connectErr:
		t.Fatalf("connect completed while unsubscribe was in flight: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	close(broker.unsubscribeGate)
	require.NoError(t, <-connectErr)

	assert.Equal(t, 1, h.ClientCount(channel))
	assert.True(t, broker.subscribed(channel))

	// Remote publishes reach the new subscriber.
	payload, err := json.Marshal(&domain.Message{
		Type:      domain.MessageMatchUpdate,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	require.NoError(t, err)
	broker.messages <- domain.BrokerMessage{Channel: channel, Payload: payload}
	msg := readUntil(t, clientB, domain.MessageMatchUpdate)
	assert.Equal(t, domain.MessageMatchUpdate, msg.Type)
}

// TestHub_SubscriptionInvariantUnderChurn drives random connect/disconnect
// sequences and checks after every step that a channel is subscribed at the
// broker exactly when it has local subscribers.
func TestHub_SubscriptionInvariantUnderChurn(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())

	channels := []string{
		domain.MatchChannel(uuid.New()),
		domain.MatchChannel(uuid.New()),
		domain.TournamentChannel(uuid.New()),
	}

	rng := rand.New(rand.NewSource(42))
	live := make(map[string][]*websocket.Conn)

	for step := 0; step < 40; step++ {
		channel := channels[rng.Intn(len(channels))]

		if len(live[channel]) > 0 && rng.Intn(2) == 0 {
			conn := live[channel][0]
			live[channel] = live[channel][1:]
			h.Disconnect(conn)
		} else {
			server, _ := newTestConnPair(t)
			require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))
			live[channel] = append(live[channel], server)
		}

		for _, ch := range channels {
			want := len(live[ch])
			require.Eventually(t, func() bool {
				return h.ClientCount(ch) == want && broker.subscribed(ch) == (want > 0)
			}, 2*time.Second, 5*time.Millisecond, "step %d channel %s want %d", step, ch, want)
		}
	}
}

func TestHub_SweepSendsPings(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	channel := domain.MatchChannel(uuid.New())

	server, client := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	ping := readUntil(t, client, domain.MessagePing)
	assert.Equal(t, domain.MessagePing, ping.Type)
	assert.Equal(t, 1, h.ClientCount(channel))
}

func TestHub_IdleClientsEvicted(t *testing.T) {
	broker := newFakeBroker()
	opts := defaultOptions()
	opts.PingInterval = 20 * time.Millisecond
	opts.IdleTimeout = 50 * time.Millisecond
	h := newTestHub(t, broker, opts)
	channel := domain.MatchChannel(uuid.New())

	server, client := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	// The client sends nothing, so no activity is ever marked.
	require.Eventually(t, func() bool { return h.ClientCount(channel) == 0 },
		2*time.Second, 10*time.Millisecond)
	assert.False(t, broker.subscribed(channel))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := client.ReadMessage(); err != nil {
			break
		}
	}
}

func TestHub_MarkActivityKeepsConnectionAlive(t *testing.T) {
	broker := newFakeBroker()
	opts := defaultOptions()
	opts.PingInterval = 20 * time.Millisecond
	opts.IdleTimeout = 250 * time.Millisecond
	h := newTestHub(t, broker, opts)
	channel := domain.MatchChannel(uuid.New())

	server, _ := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	// Refresh activity for several idle-timeout windows.
	for i := 0; i < 10; i++ {
		h.MarkActivity(server)
		time.Sleep(50 * time.Millisecond)
	}

	assert.Equal(t, 1, h.ClientCount(channel))
}

func TestHub_SendFailureDoesNotAffectOtherClients(t *testing.T) {
	broker := newFakeBroker()
	h := newTestHub(t, broker, defaultOptions())
	matchID := uuid.New()
	channel := domain.MatchChannel(matchID)

	server1, client1 := newTestConnPair(t)
	server2, client2 := newTestConnPair(t)
	require.NoError(t, h.Connect(server1, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))
	require.NoError(t, h.Connect(server2, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	// Kill one client's socket from the client side.
	require.NoError(t, client1.Close())

	msg, err := domain.NewMatchMessage(domain.MessageMatchUpdate, matchID, map[string]string{"state": "PAUSED"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.Publish(context.Background(), channel, msg))

	// The healthy client still receives the broadcast.
	got := readUntil(t, client2, domain.MessageMatchUpdate)
	assert.Equal(t, matchID.String(), got.MatchID)
}

func TestHub_StopClosesClientsGracefully(t *testing.T) {
	broker := newFakeBroker()
	h := NewHub(broker, clockwork.NewRealClock(), defaultOptions())
	channel := domain.MatchChannel(uuid.New())

	server, client := newTestConnPair(t)
	require.NoError(t, h.Connect(server, channel, testIdentity(domain.RoleViewer), domain.RoleViewer))

	h.Stop()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	var closeErr error
	for {
		_, _, err := client.ReadMessage()
		if err != nil {
			closeErr = err
			break
		}
	}
	if ce, ok := closeErr.(*websocket.CloseError); ok {
		assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
		assert.Contains(t, ce.Text, "shutting down")
	}
}

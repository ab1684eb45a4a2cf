package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"

	"pulse/cmd/internal/session"
	v1 "pulse/shared/contracts/realtime/v1"
)

func zeroTime() time.Time { return time.Time{} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubConfirmer satisfies the controller's dependency; the realtime tests
// drive the session with SetAuth/Logout, so it is never reached.
type stubConfirmer struct{}

func (stubConfirmer) Whoami(context.Context, string) (session.UserProfile, error) {
	return session.UserProfile{}, errors.New("whoami not expected in realtime tests")
}

// serverConn is one accepted connection on the scripted test server.
type serverConn struct {
	conn   *websocket.Conn
	token  string
	inbox  chan []byte
	closed chan struct{}
}

func (c *serverConn) send(t *testing.T, frame string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
		t.Fatalf("server write: %v", err)
	}
}

func (c *serverConn) expectFrame(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.inbox:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for client frame")
		return nil
	}
}

func (c *serverConn) drop() {
	_ = c.conn.CloseNow()
}

// wsServer accepts connections and exposes them to the test in order.
type wsServer struct {
	srv   *httptest.Server
	conns chan *serverConn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()

	s := &wsServer{conns: make(chan *serverConn, 8)}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}

		sc := &serverConn{
			conn:   conn,
			token:  r.URL.Query().Get("token"),
			inbox:  make(chan []byte, 32),
			closed: make(chan struct{}),
		}

		go func() {
			defer close(sc.closed)
			for {
				_, data, err := conn.Read(context.Background())
				if err != nil {
					return
				}
				select {
				case sc.inbox <- data:
				default:
				}
			}
		}()

		s.conns <- sc
		<-sc.closed
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *wsServer) expectConn(t *testing.T) *serverConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for client connection")
		return nil
	}
}

func (s *wsServer) expectNoConn(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case <-s.conns:
		t.Fatal("unexpected client connection")
	case <-time.After(wait):
	}
}

type fixture struct {
	ctrl *session.Controller
	mgr  *Manager
	srv  *wsServer
}

func testUser() session.UserProfile {
	return session.UserProfile{ID: "u1", Email: "u1@example.com", Name: "User One", Role: "member"}
}

// newFixture wires a real controller (empty store) to a manager with a fast
// reconnect delay, and starts managing against the scripted server.
func newFixture(t *testing.T, delay time.Duration) *fixture {
	t.Helper()

	srv := newWSServer(t)
	ctrl := session.NewController(testLogger(), session.NewMemStore(), stubConfirmer{})
	ctrl.Start(context.Background())
	<-ctrl.Hydrated()

	mgr := NewManager(testLogger(), ctrl, Config{ReconnectDelay: delay}, nil)
	t.Cleanup(mgr.Disconnect)

	if err := mgr.Connect(srv.srv.URL); err != nil {
		t.Fatalf("Connect err=%v", err)
	}
	return &fixture{ctrl: ctrl, mgr: mgr, srv: srv}
}

func waitForConnState(t *testing.T, m *Manager, want ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if m.ConnectionState() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("connection state=%s want=%s", m.ConnectionState(), want)
}

func TestConnectWaitsForCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)

	// No token yet: managing, but nothing to dial.
	f.srv.expectNoConn(t, 150*time.Millisecond)
	if got := f.mgr.ConnectionState(); got != Closed {
		t.Fatalf("state=%s want=%s before login", got, Closed)
	}

	// Login: absent->present opens a connection keyed by the new token.
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	if sc.token != "t1" {
		t.Fatalf("connection token=%q want=t1", sc.token)
	}
	waitForConnState(t, f.mgr, Open)
}

func TestPingAnsweredWithPongAndFiltered(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	msgs := make(chan v1.Message, 8)
	f.mgr.OnMessage(func(m v1.Message) { msgs <- m })

	sc.send(t, `{"type":"ping"}`)

	// Exactly one pong comes back on the same connection.
	var pong struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(sc.expectFrame(t), &pong); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if pong.Type != v1.TypePong {
		t.Fatalf("reply type=%q want=%q", pong.Type, v1.TypePong)
	}

	// The ping itself never reaches subscribers; the next real message does.
	sc.send(t, `{"type":"service_update","service_id":"svc-1","status":"up"}`)
	select {
	case m := <-msgs:
		if m.Type != v1.TypeServiceUpdate || m.ServiceUpdate == nil {
			t.Fatalf("message=%+v want service_update", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for service_update")
	}
	select {
	case m := <-msgs:
		t.Fatalf("unexpected extra message: %+v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMalformedFramesAreDroppedNotFatal(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	msgs := make(chan v1.Message, 8)
	f.mgr.OnMessage(func(m v1.Message) { msgs <- m })

	sc.send(t, `this is not json`)
	sc.send(t, `{"message":"no type field"}`)
	sc.send(t, `{"type":"service_update","response_time_ms":"not a number"}`)
	sc.send(t, `{"type":"alert","id":"a1","service_id":"svc-1","message":"down"}`)

	select {
	case m := <-msgs:
		if m.Type != v1.TypeAlert || m.Alert == nil || m.Alert.Message != "down" {
			t.Fatalf("message=%+v want the alert", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout: bad frames must not stop later messages")
	}

	if got := f.mgr.ConnectionState(); got != Open {
		t.Fatalf("state=%s want=%s after dropped frames", got, Open)
	}
}

func TestReconnectAfterDropUsesFixedDelay(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	f := newFixture(t, delay)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	dropped := time.Now()
	sc.drop()

	waitForConnState(t, f.mgr, Reconnecting)

	sc2 := f.srv.expectConn(t)
	elapsed := time.Since(dropped)
	if elapsed < delay {
		t.Fatalf("reconnected after %v want >= %v", elapsed, delay)
	}
	if sc2.token != "t1" {
		t.Fatalf("reconnect token=%q want=t1", sc2.token)
	}
	waitForConnState(t, f.mgr, Open)
}

func TestDisconnectCancelsPendingReconnect(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	f := newFixture(t, delay)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	sc.drop()
	waitForConnState(t, f.mgr, Reconnecting)

	f.mgr.Disconnect()
	if got := f.mgr.ConnectionState(); got != Closed {
		t.Fatalf("state=%s want=%s after Disconnect", got, Closed)
	}

	// The pending timer must not fire a new attempt.
	f.srv.expectNoConn(t, delay*3)
}

func TestLogoutWhileReconnectPendingCancelsIt(t *testing.T) {
	t.Parallel()

	const delay = 200 * time.Millisecond
	f := newFixture(t, delay)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	sc.drop()
	waitForConnState(t, f.mgr, Reconnecting)

	// Session change invalidates the token before the timer fires.
	if err := f.ctrl.Logout(); err != nil {
		t.Fatalf("Logout err=%v", err)
	}
	waitForConnState(t, f.mgr, Closed)
	f.srv.expectNoConn(t, delay*3)
}

func TestTokenChangeRebindsConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc1 := f.srv.expectConn(t)
	if sc1.token != "t1" {
		t.Fatalf("first token=%q want=t1", sc1.token)
	}
	waitForConnState(t, f.mgr, Open)

	// A different present credential: old connection closes, a new one is
	// keyed by the new token.
	other := testUser()
	other.ID = "u2"
	if err := f.ctrl.SetAuth("t2", other); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}

	select {
	case <-sc1.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("old connection not closed after token change")
	}

	sc2 := f.srv.expectConn(t)
	if sc2.token != "t2" {
		t.Fatalf("second token=%q want=t2", sc2.token)
	}
	waitForConnState(t, f.mgr, Open)
}

func TestLogoutClosesConnection(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	if err := f.ctrl.Logout(); err != nil {
		t.Fatalf("Logout err=%v", err)
	}

	select {
	case <-sc.closed:
	case <-time.After(3 * time.Second):
		t.Fatal("connection not closed on logout")
	}
	waitForConnState(t, f.mgr, Closed)
	f.srv.expectNoConn(t, 400*time.Millisecond)
}

func TestConnectIsIdempotentForSameTokenAndBase(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	if err := f.mgr.Connect(f.srv.srv.URL); err != nil {
		t.Fatalf("second Connect err=%v", err)
	}
	f.srv.expectNoConn(t, 300*time.Millisecond)
	if got := f.mgr.ConnectionState(); got != Open {
		t.Fatalf("state=%s want=%s", got, Open)
	}
}

func TestConnectRejectsBadBase(t *testing.T) {
	t.Parallel()

	ctrl := session.NewController(testLogger(), session.NewMemStore(), stubConfirmer{})
	ctrl.Start(context.Background())
	mgr := NewManager(testLogger(), ctrl, Config{}, nil)

	if err := mgr.Connect("ftp://nope"); err == nil {
		t.Fatal("Connect(ftp) err=nil want error")
	}
	if err := mgr.Connect(""); err == nil {
		t.Fatal("Connect(empty) err=nil want error")
	}
}

func TestSendStampsEnvelopeID(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)

	// Sending on a closed channel fails cleanly.
	err := f.mgr.Send(context.Background(), v1.Outbound{Type: "subscribe"})
	if err == nil {
		t.Fatal("Send on closed channel err=nil want error")
	}

	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	if err := f.mgr.Send(context.Background(), v1.Outbound{Type: "subscribe"}); err != nil {
		t.Fatalf("Send err=%v", err)
	}

	var out v1.Outbound
	if err := json.Unmarshal(sc.expectFrame(t), &out); err != nil {
		t.Fatalf("decode outbound: %v", err)
	}
	if out.Type != "subscribe" {
		t.Fatalf("type=%q want=subscribe", out.Type)
	}
	if len(out.ID) != 26 {
		t.Fatalf("id=%q want a 26-char ulid", out.ID)
	}
	if out.TS.IsZero() {
		t.Fatal("ts not stamped")
	}

	// Pings cannot be originated by the client.
	if err := f.mgr.Send(context.Background(), v1.Outbound{Type: v1.TypePing}); err == nil {
		t.Fatal("Send(ping) err=nil want error")
	}
}

func TestMessagesDeliveredInArrivalOrder(t *testing.T) {
	t.Parallel()

	f := newFixture(t, 100*time.Millisecond)
	if err := f.ctrl.SetAuth("t1", testUser()); err != nil {
		t.Fatalf("SetAuth err=%v", err)
	}
	sc := f.srv.expectConn(t)
	waitForConnState(t, f.mgr, Open)

	var mu sync.Mutex
	var got []string
	done := make(chan struct{}, 1)
	f.mgr.OnMessage(func(m v1.Message) {
		mu.Lock()
		got = append(got, m.Type)
		n := len(got)
		mu.Unlock()
		if n == 3 {
			done <- struct{}{}
		}
	})

	sc.send(t, `{"type":"connected","message":"hi","time":1}`)
	sc.send(t, `{"type":"service_update","service_id":"s","status":"up"}`)
	sc.send(t, `{"type":"alert","id":"a","service_id":"s","message":"m"}`)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for 3 messages")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{v1.TypeConnected, v1.TypeServiceUpdate, v1.TypeAlert}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order=%v want=%v", got, want)
		}
	}
}

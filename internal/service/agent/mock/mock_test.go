package mock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"voice-companion-client/internal/models"
	"voice-companion-client/internal/service/agent"
	agentws "voice-companion-client/internal/service/agent/websocket"
	"voice-companion-client/internal/service/pcm"
)

type testCallback struct {
	mu       sync.Mutex
	messages []models.Inbound
	errs     []error
	closes   []int
	gotDone  chan struct{}
	doneOnce sync.Once
}

func newTestCallback() *testCallback {
	return &testCallback{gotDone: make(chan struct{})}
}

func (c *testCallback) OnMessage(msg models.Inbound) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	if msg.Type == models.TypeResponseDone {
		c.doneOnce.Do(func() { close(c.gotDone) })
	}
}

func (c *testCallback) OnError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *testCallback) OnClose(code int, _ string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes = append(c.closes, code)
}

func (c *testCallback) snapshot() ([]models.Inbound, []error, []int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Inbound{}, c.messages...), append([]error{}, c.errs...), append([]int{}, c.closes...)
}

func (c *testCallback) waitDone(t *testing.T) {
	t.Helper()
	select {
	case <-c.gotDone:
	case <-time.After(3 * time.Second):
		t.Fatal("expected the scripted turn to finish")
	}
}

func TestTurn_Messages(t *testing.T) {
	turn := Turn{
		UserText:     "hello",
		AgentDeltas:  []string{"a", "b"},
		ToneHz:       440,
		AudioChunks:  3,
		ChunkSamples: 240,
	}

	msgs := turn.Messages()

	want := []string{
		models.TypeSpeechStarted, models.TypeSpeechStopped, models.TypeUserTranscript, models.TypeResponseCreated,
		models.TypeTranscript, models.TypeAudio, models.TypeTranscript, models.TypeAudio, models.TypeAudio,
		models.TypeTranscriptDone, models.TypeResponseDone,
	}
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, m := range msgs {
		if m.Type != want[i] {
			t.Errorf("message %d: expected %s, got %s", i, want[i], m.Type)
		}
	}
	if msgs[2].Text != "hello" {
		t.Errorf("expected user transcript 'hello', got %q", msgs[2].Text)
	}

	samples, err := pcm.DecodeBase64(msgs[5].Data)
	if err != nil {
		t.Fatalf("decode audio: %v", err)
	}
	if len(samples) != 240 {
		t.Errorf("expected 240 samples per chunk, got %d", len(samples))
	}
}

func TestDefaultTurns(t *testing.T) {
	if len(DefaultTurns) == 0 {
		t.Fatal("expected default turns")
	}
	for i, turn := range DefaultTurns {
		if turn.UserText == "" || len(turn.AgentDeltas) == 0 {
			t.Errorf("turn %d is incomplete", i)
		}
		if turn.AudioChunks <= 0 || turn.ChunkSamples <= 0 {
			t.Errorf("turn %d has no audio", i)
		}
	}
}

func TestConn_PlaysTurnAfterFrames(t *testing.T) {
	conn := New(Config{FramesPerTurn: 3, Turns: DefaultTurns[:1]})
	cb := newTestCallback()
	if err := conn.Open(context.Background(), cb); err != nil {
		t.Fatalf("open: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := conn.SendAudio(context.Background(), models.NewOutboundAudio("AAA=")); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	cb.waitDone(t)

	msgs, _, _ := cb.snapshot()
	if len(msgs) != len(DefaultTurns[0].Messages()) {
		t.Errorf("expected full turn, got %d messages", len(msgs))
	}
	if len(conn.Received()) != 3 {
		t.Errorf("expected 3 frames recorded, got %d", len(conn.Received()))
	}
}

func TestConn_CloseStopsScriptAndReportsOnce(t *testing.T) {
	conn := New(Config{FramesPerTurn: 1, MessageDelay: 50 * time.Millisecond})
	cb := newTestCallback()
	if err := conn.Open(context.Background(), cb); err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = conn.SendAudio(context.Background(), models.NewOutboundAudio("AAA="))

	if err := conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected); err != nil {
		t.Fatalf("second close: %v", err)
	}

	_, _, closes := cb.snapshot()
	if len(closes) != 1 || closes[0] != agent.CloseNormal {
		t.Errorf("expected one normal close, got %v", closes)
	}
	if conn.State() != agent.ConnClosed {
		t.Errorf("expected closed, got %s", conn.State())
	}
	if err := conn.SendAudio(context.Background(), models.NewOutboundAudio("")); !errors.Is(err, agent.ErrNotOpen) {
		t.Errorf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestConn_InjectFailAndDrop(t *testing.T) {
	conn := New(DefaultConfig())
	cb := newTestCallback()
	_ = conn.Open(context.Background(), cb)

	conn.Inject(models.Inbound{Type: models.TypeSpeechStarted})
	conn.BeginClosing()
	conn.Inject(models.Inbound{Type: models.TypeError, Message: "Session disconnected"})
	conn.Fail(errors.New("reset by peer"))
	conn.Drop(agent.CloseGoingAway, "")

	msgs, errs, closes := cb.snapshot()
	if len(msgs) != 2 {
		t.Errorf("expected messages delivered while open and closing, got %d", len(msgs))
	}
	if len(errs) != 1 {
		t.Errorf("expected one error, got %d", len(errs))
	}
	if len(closes) != 1 || closes[0] != agent.CloseAbnormal {
		t.Errorf("expected a single abnormal close, got %v", closes)
	}
}

func TestConn_OpenTwice(t *testing.T) {
	conn := New(DefaultConfig())
	_ = conn.Open(context.Background(), newTestCallback())
	if err := conn.Open(context.Background(), newTestCallback()); !errors.Is(err, agent.ErrAlreadyOpened) {
		t.Errorf("expected ErrAlreadyOpened, got %v", err)
	}
}

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, string) {
	t.Helper()
	srv := NewServer(cfg)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

func createSession(t *testing.T, base, wallet string) (*http.Response, map[string]any) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"walletAddress": wallet, "voice": "Eve"})
	resp, err := http.Post(base+"/api/voice/session", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestServer_SessionLifecycle(t *testing.T) {
	srv, base := newTestServer(t, DefaultServerConfig())

	resp, out := createSession(t, base, "wallet-1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	id, _ := out["sessionId"].(string)
	if id == "" || out["wsUrl"] != "/api/voice/ws/"+id {
		t.Fatalf("unexpected create response %v", out)
	}
	if srv.ActiveSessions() != 1 {
		t.Errorf("expected 1 active session, got %d", srv.ActiveSessions())
	}

	get, err := http.Get(base + "/api/voice/session/" + id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusOK {
		t.Errorf("expected 200 on get, got %d", get.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, base+"/api/voice/session/"+id, strings.NewReader(`{"walletAddress":"wallet-1"}`))
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	del.Body.Close()
	if del.StatusCode != http.StatusOK {
		t.Errorf("expected 200 on delete, got %d", del.StatusCode)
	}
	if srv.ActiveSessions() != 0 {
		t.Errorf("expected no active sessions, got %d", srv.ActiveSessions())
	}
}

func TestServer_Rejections(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.InsufficientWallets = []string{"broke"}
	_, base := newTestServer(t, cfg)

	resp, out := createSession(t, base, "broke")
	if resp.StatusCode != http.StatusPaymentRequired || out["error"] != "Insufficient tokens" {
		t.Errorf("expected 402 Insufficient tokens, got %d %v", resp.StatusCode, out)
	}

	resp, _ = createSession(t, base, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without wallet, got %d", resp.StatusCode)
	}

	ws, err := http.Get(base + "/api/voice/ws/unknown")
	if err != nil {
		t.Fatalf("get ws: %v", err)
	}
	ws.Body.Close()
	if ws.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", ws.StatusCode)
	}
}

func TestServer_ScriptedTurnOverWebSocket(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Agent.FramesPerTurn = 2
	cfg.Agent.MessageDelay = time.Millisecond
	_, base := newTestServer(t, cfg)

	_, out := createSession(t, base, "wallet-1")
	wsURL := "ws" + strings.TrimPrefix(base, "http") + out["wsUrl"].(string)

	conn := agentws.New(wsURL, agentws.DefaultConfig())
	cb := newTestCallback()
	if err := conn.Open(context.Background(), cb); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close(agent.CloseNormal, agent.ReasonUserDisconnected)

	for i := 0; i < 2; i++ {
		if err := conn.SendAudio(context.Background(), models.NewOutboundAudio("AAA=")); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	cb.waitDone(t)

	msgs, _, _ := cb.snapshot()
	if msgs[0].Type != models.TypeSpeechStarted {
		t.Errorf("expected turn to begin with speech_started, got %s", msgs[0].Type)
	}
}

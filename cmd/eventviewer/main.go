// Event Viewer - tails voice session events from Kafka and relays them to
// WebSocket clients.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"voice-companion-client/internal/events"
	"voice-companion-client/internal/observability/logging"
)

// hub fans records out to every connected WebSocket client.
type hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	logger  zerolog.Logger
}

func newHub(logger zerolog.Logger) *hub {
	return &hub{clients: make(map[*websocket.Conn]struct{}), logger: logger}
}

func (h *hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	h.clients[conn] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", n).Msg("Client connected")
}

func (h *hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Info().Int("clients", n).Msg("Client disconnected")
}

func (h *hub) broadcast(rec events.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(rec); err != nil {
			h.logger.Debug().Err(err).Msg("Write failed, dropping client")
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.add(conn)

	go func() {
		defer h.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func logRecord(logger zerolog.Logger, rec events.Record) {
	ev := logger.Info().Str("topic", rec.Topic).Str("clientId", rec.Key).Str("eventType", rec.EventType)
	switch {
	case rec.State != nil:
		ev = ev.Str("from", rec.State.From).Str("to", rec.State.To).Uint64("generation", rec.State.Generation)
	case rec.Lifecycle != nil:
		ev = ev.Str("sessionId", rec.Lifecycle.SessionID).Str("reason", rec.Lifecycle.Reason)
	}
	ev.Msg("Session event")
}

func main() {
	addr := flag.String("addr", ":8081", "HTTP listen address")
	brokers := flag.String("brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	topicLifecycle := flag.String("topic-lifecycle", "voice.session.lifecycle", "Lifecycle topic")
	topicState := flag.String("topic-state", "voice.session.state", "State topic")
	since := flag.Duration("since", time.Hour, "Replay events this far back")
	flag.Parse()

	logging.Init(logging.Config{Level: "info", Format: "console"})
	logger := logging.WithComponent("eventviewer")

	h := newHub(logger)
	consumer := events.NewConsumer(events.ConsumerConfig{
		Brokers: strings.Split(*brokers, ","),
		Topics:  []string{*topicLifecycle, *topicState},
		Since:   *since,
	})

	r := chi.NewRouter()
	r.Get("/ws", h.serveWS)
	srv := &http.Server{Addr: *addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return consumer.Tail(gctx, func(rec events.Record) {
			logRecord(logger, rec)
			h.broadcast(rec)
		})
	})
	g.Go(func() error {
		logger.Info().Str("addr", *addr).Str("brokers", *brokers).Msg("Event viewer listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("Event viewer stopped")
	}
}

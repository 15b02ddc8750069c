package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/shadowtrade/internal/events"
	"github.com/aristath/shadowtrade/internal/httpapi"
	"github.com/aristath/shadowtrade/internal/metrics"
)

const defaultHeartbeat = 30 * time.Second

// EventsHandler serves the audit log to observers: as pages, as a
// Server-Sent Events stream and over a websocket. Streams replay from the
// log and then follow the bus.
type EventsHandler struct {
	journal   *events.Log
	bus       *events.Bus
	metrics   *metrics.Metrics
	log       zerolog.Logger
	heartbeat time.Duration

	closing   chan struct{}
	closeOnce sync.Once
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(journal *events.Log, bus *events.Bus, m *metrics.Metrics, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		journal:   journal,
		bus:       bus,
		metrics:   m,
		log:       log.With().Str("component", "events_stream").Logger(),
		heartbeat: defaultHeartbeat,
		closing:   make(chan struct{}),
	}
}

// Close ends every open stream.
func (h *EventsHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// HandleList handles GET /api/events?after=N&limit=M
func (h *EventsHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	after, err := parseAfter(r)
	if err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}
	if after < 0 {
		after = 0
	}
	limit := events.DefaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			httpapi.BadRequest(w, h.log, "invalid limit")
			return
		}
	}

	page, err := h.journal.Page(r.Context(), after, limit)
	if err != nil {
		httpapi.WriteError(w, h.log, err)
		return
	}
	httpapi.WriteJSON(w, h.log, http.StatusOK, page)
}

// subscription follows the log from cursor. The bus only wakes it up; events
// are always read back from the log, so a slow observer never loses or
// reorders events.
type subscription struct {
	journal *events.Log
	cursor  int64
	allowed map[events.EventType]bool
	wake    chan struct{}
	unsub   func()
}

// subscribe parses after and types from r. Without after the stream starts
// at the current end of the log.
func (h *EventsHandler) subscribe(r *http.Request) (*subscription, error) {
	after, err := parseAfter(r)
	if err != nil {
		return nil, err
	}

	var allowed map[events.EventType]bool
	if typesFilter := r.URL.Query().Get("types"); typesFilter != "" {
		allowed = make(map[events.EventType]bool)
		for _, t := range strings.Split(typesFilter, ",") {
			et := events.EventType(strings.TrimSpace(t))
			if !et.Valid() {
				return nil, fmt.Errorf("unknown event type %q", et)
			}
			allowed[et] = true
		}
	}

	sub := &subscription{
		journal: h.journal,
		allowed: allowed,
		wake:    make(chan struct{}, 1),
	}
	// Subscribe before reading the cursor so no commit falls between them.
	sub.unsub = h.bus.SubscribeAll(func(*events.Event) {
		select {
		case sub.wake <- struct{}{}:
		default:
		}
	})

	if after < 0 {
		if after, err = h.journal.LastSequence(r.Context()); err != nil {
			sub.unsub()
			return nil, err
		}
	}
	sub.cursor = after
	return sub, nil
}

// drain returns every event after the cursor that passes the filter.
func (s *subscription) drain(ctx context.Context) ([]*events.Event, error) {
	var out []*events.Event
	for {
		batch, err := s.journal.Since(ctx, s.cursor, events.MaxPageSize)
		if err != nil {
			return nil, err
		}
		for _, e := range batch {
			s.cursor = e.Sequence
			if s.allowed == nil || s.allowed[e.Type] {
				out = append(out, e)
			}
		}
		if len(batch) < events.MaxPageSize {
			return out, nil
		}
	}
}

// follow calls send for the backlog and then for every new event, and beat
// on every heartbeat, until ctx ends or the handler closes.
func (h *EventsHandler) follow(ctx context.Context, sub *subscription, send func(*events.Event) error, beat func() error) error {
	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		batch, err := sub.drain(ctx)
		if err != nil {
			return err
		}
		for _, e := range batch {
			if err := send(e); err != nil {
				return err
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-h.closing:
			return nil
		case <-sub.wake:
		case <-heartbeat.C:
			if err := beat(); err != nil {
				return err
			}
		}
	}
}

// HandleStream handles GET /api/events/stream (SSE). The Last-Event-ID
// header resumes a dropped stream.
func (h *EventsHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	sub, err := h.subscribe(r)
	if err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}
	defer sub.unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()
	h.log.Info().Int64("cursor", sub.cursor).Msg("Client connected to event stream")

	fmt.Fprintf(w, "event: connected\ndata: {\"cursor\":%d}\n\n", sub.cursor)
	flusher.Flush()

	err = h.follow(r.Context(), sub,
		func(e *events.Event) error {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to encode event %d: %w", e.Sequence, err)
			}
			if _, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", e.Sequence, e.Type, data); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
		func() error {
			if _, err := fmt.Fprintf(w, ": heartbeat %d\n\n", time.Now().Unix()); err != nil {
				return err
			}
			flusher.Flush()
			return nil
		},
	)
	if err != nil {
		h.log.Warn().Err(err).Msg("Event stream ended with error")
		return
	}
	h.log.Info().Msg("Client disconnected from event stream")
}

// HandleWebSocket handles GET /api/events/ws. Each event is sent as one JSON
// text message.
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	sub, err := h.subscribe(r)
	if err != nil {
		httpapi.BadRequest(w, h.log, err.Error())
		return
	}
	defer sub.unsub()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()
	h.log.Info().Int64("cursor", sub.cursor).Msg("Client connected to event websocket")

	// Observers never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	err = h.follow(ctx, sub,
		func(e *events.Event) error {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to encode event %d: %w", e.Sequence, err)
			}
			writeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return conn.Write(writeCtx, websocket.MessageText, data)
		},
		func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return conn.Ping(pingCtx)
		},
	)
	if err != nil && ctx.Err() == nil {
		h.log.Warn().Err(err).Msg("Event websocket ended with error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
	h.log.Info().Msg("Client disconnected from event websocket")
}

// parseAfter reads ?after=N, falling back to Last-Event-ID. It returns -1,
// meaning live events only, when neither is present or after=-1 is given.
func parseAfter(r *http.Request) (int64, error) {
	v := r.URL.Query().Get("after")
	if v == "" {
		v = r.Header.Get("Last-Event-ID")
	}
	if v == "" {
		return -1, nil
	}
	after, err := strconv.ParseInt(v, 10, 64)
	if err != nil || after < -1 {
		return 0, fmt.Errorf("invalid after %q", v)
	}
	return after, nil
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/screwyprof/fundme/action"
	"github.com/screwyprof/fundme/notify"
	"github.com/screwyprof/fundme/pkg/httpkit"
	"github.com/screwyprof/fundme/pkg/logger"
	"github.com/screwyprof/fundme/roster"
	"github.com/screwyprof/fundme/session"
	"github.com/screwyprof/fundme/web/api"
	"github.com/screwyprof/fundme/web/handler/bind"
)

const GetStreamRoute = http.MethodGet + " " + "/ws"

// Connection keepalive settings
const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	readLimit    = 512
	bufferSize   = 16
)

// StreamOption configures the Stream handler
type StreamOption func(*Stream)

// WithCheckOrigin sets the origin policy for upgrades; gorilla's default
// accepts same-origin requests only
func WithCheckOrigin(fn func(*http.Request) bool) StreamOption {
	return func(s *Stream) { s.upgrader.CheckOrigin = fn }
}

// WithStreamLogger sets the parent logger
func WithStreamLogger(l *slog.Logger) StreamOption {
	return func(s *Stream) { s.log = logger.Component(l, "stream") }
}

// Stream pushes notices, session changes, roster results and action
// updates to WebSocket clients
type Stream struct {
	session  SessionService
	roster   RosterReader
	actions  ActionTracker
	notices  NoticeLog
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewStream(s SessionService, r RosterReader, a ActionTracker, n NoticeLog, opts ...StreamOption) *Stream {
	st := &Stream{
		session: s,
		roster:  r,
		actions: a,
		notices: n,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		log: logger.Component(slog.Default(), "stream"),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

func (h *Stream) AddRoutes(m *http.ServeMux) {
	m.Handle(GetStreamRoute, httpkit.HandlerFunc(h.Serve))
}

// Serve upgrades the connection and pushes until either side goes away.
// It returns nil because the connection is hijacked.
func (h *Stream) Serve(w http.ResponseWriter, r *http.Request) http.HandlerFunc {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		httpkit.SetError(r.Context(), err)
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go h.readUntilClosed(conn, cancel)

	h.push(ctx, conn)
	return nil
}

func (h *Stream) push(ctx context.Context, conn *websocket.Conn) {
	notices := make(chan notify.Notice, bufferSize)
	states := make(chan session.State, bufferSize)
	results := make(chan roster.Result, bufferSize)
	actions := make(chan action.Pending, bufferSize)

	noticeSub := h.notices.Subscribe(notices)
	defer noticeSub.Unsubscribe()
	stateSub := h.session.Subscribe(states)
	defer stateSub.Unsubscribe()
	resultSub := h.roster.SubscribeResults(results)
	defer resultSub.Unsubscribe()
	actionSub := h.actions.Subscribe(actions)
	defer actionSub.Unsubscribe()

	outbox := make(chan api.Message, bufferSize)
	fwdCtx, stopForward := context.WithCancel(ctx)
	defer stopForward()
	go h.forward(fwdCtx, outbox, notices, states, results, actions)

	// Current state first so the client can render without polling
	if !h.write(conn, api.Message{Type: api.MessageSession, Data: bind.SessionResponse(h.session.State())}) {
		return
	}
	if !h.write(conn, api.Message{Type: api.MessageRoster, Data: bind.FundersResponse(h.roster.Latest())}) {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg := <-outbox:
			if !h.write(conn, msg) {
				return
			}
		}
	}
}

// forward drains the subscriptions into outbox without ever blocking, so a
// slow client cannot hold up the publishers. Messages that do not fit are
// dropped.
func (h *Stream) forward(
	ctx context.Context,
	outbox chan<- api.Message,
	notices <-chan notify.Notice,
	states <-chan session.State,
	results <-chan roster.Result,
	actions <-chan action.Pending,
) {
	for {
		var msg api.Message
		select {
		case <-ctx.Done():
			return
		case n := <-notices:
			msg = api.Message{Type: api.MessageNotice, Data: n}
		case s := <-states:
			msg = api.Message{Type: api.MessageSession, Data: bind.SessionResponse(s)}
		case r := <-results:
			msg = api.Message{Type: api.MessageRoster, Data: bind.FundersResponse(r)}
		case p := <-actions:
			msg = api.Message{Type: api.MessageAction, Data: bind.ActionResponse(p)}
		}

		select {
		case outbox <- msg:
		default:
			h.log.Debug("Dropped message for slow client", slog.String("type", msg.Type))
		}
	}
}

func (h *Stream) write(conn *websocket.Conn, msg api.Message) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug("WebSocket write failed", slog.String("type", msg.Type), slog.Any("error", err))
		return false
	}
	return true
}

// readUntilClosed discards client frames and cancels once the peer is gone
func (h *Stream) readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

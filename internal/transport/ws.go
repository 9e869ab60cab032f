package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vitaliisemenov/mhconf/internal/apierr"
	"github.com/vitaliisemenov/mhconf/internal/nsconfig"
	"github.com/vitaliisemenov/mhconf/internal/tracebus"
	"github.com/vitaliisemenov/mhconf/internal/watchbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPongWait     = 60 * time.Second
	wsPingPeriod   = 54 * time.Second
)

// wsConn serializes writes to a *websocket.Conn (the library forbids
// concurrent writers); watcherSink wraps it as an nsconfig.OutputSink
// and traceSink as a tracebus.Sink for internal/service.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}

// pingLoop keeps the connection alive until stop fires.
func pingLoop(sock *wsConn, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if sock.ping() != nil {
				return
			}
		case <-stop:
			return
		}
	}
}

// watchRegisterMsg is a client->server frame on the /v1/watch stream (§6
// Watch: "Client sends Register(...) or Remove(uid)").
type watchRegisterMsg struct {
	Action       string            `json:"action"` // "register" | "remove"
	UID          string            `json:"uid"`
	RootPath     string            `json:"root_path"`
	Document     string            `json:"document"`
	Labels       map[string]string `json:"labels"`
	LogLevel     string            `json:"log_level"`
	WithPosition bool              `json:"with_position"`
}

type watchEventMsg struct {
	UID         string       `json:"uid"`
	Status      string       `json:"status"`
	NamespaceID string       `json:"namespace_id,omitempty"`
	Version     uint64       `json:"version,omitempty"`
	Element     []wireNode   `json:"element,omitempty"`
	Checksum    string       `json:"checksum,omitempty"`
	Sources     []wireSource `json:"sources,omitempty"`
	Error       string       `json:"error,omitempty"`
}

// watcherSink adapts wsConn into an nsconfig.OutputSink that tags every
// fire with the watcher's uid, matching the Event(uid, status, ...)
// shape §6 describes. withPosition mirrors the registering watcher's
// with_position flag (§8): set, every fired node carries its position.
type watcherSink struct {
	uid          string
	withPosition bool
	sock         *wsConn
}

func (w watcherSink) Send(event any) error {
	ev, ok := event.(watchbus.WatchEvent)
	if !ok {
		return w.sock.Send(watchEventMsg{UID: w.uid, Status: string(apierr.StatusOK)})
	}
	return w.sock.Send(watchEventMsg{
		UID:         w.uid,
		Status:      string(apierr.StatusOK),
		NamespaceID: ev.NamespaceID,
		Version:     ev.Version,
		Element:     encodeElement(ev.Value, w.withPosition, ev.Sources),
		Checksum:    checksumHex(ev.Checksum),
		Sources:     encodeSources(ev.Sources),
	})
}

// handleWatch implements the Watch(stream) bidirectional RPC of §6: the
// client registers and removes standing subscriptions over the same
// connection that later carries their fires.
func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("watch upgrade failed", "error", err)
		return
	}
	sock := &wsConn{conn: conn}
	token := bearerToken(r)
	ctx := r.Context()

	var mu sync.Mutex
	registered := make(map[string]string) // uid -> root_path

	stop := make(chan struct{})
	go pingLoop(sock, stop)
	defer close(stop)
	defer func() {
		mu.Lock()
		for uid, rootPath := range registered {
			_ = s.svc.RemoveWatch(ctx, rootPath, "", uid, token)
		}
		mu.Unlock()
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })

	for {
		var msg watchRegisterMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		if msg.Action == "remove" {
			err := s.svc.RemoveWatch(ctx, msg.RootPath, msg.Document, msg.UID, token)
			if err != nil {
				_ = sock.Send(watchEventMsg{UID: msg.UID, Status: string(apierr.ToStatus(err)), Error: err.Error()})
				continue
			}
			mu.Lock()
			delete(registered, msg.UID)
			mu.Unlock()
			_ = sock.Send(watchEventMsg{UID: msg.UID, Status: string(apierr.StatusRemoved)})
			continue
		}

		pairs := make([]nsconfig.Label, 0, len(msg.Labels))
		for k, v := range msg.Labels {
			pairs = append(pairs, nsconfig.Label{Key: k, Value: v})
		}
		watcher := &nsconfig.Watcher{
			UID:          msg.UID,
			RootPath:     msg.RootPath,
			Document:     msg.Document,
			Labels:       nsconfig.NewLabels(pairs),
			LogLevel:     msg.LogLevel,
			WithPosition: msg.WithPosition,
			Sink:         watcherSink{uid: msg.UID, withPosition: msg.WithPosition, sock: sock},
		}
		err := s.svc.RegisterWatch(ctx, msg.RootPath, msg.Document, watcher, token)
		if err != nil {
			_ = sock.Send(watchEventMsg{UID: msg.UID, Status: string(apierr.ToStatus(err)), Error: err.Error()})
			continue
		}
		mu.Lock()
		registered[msg.UID] = msg.RootPath
		mu.Unlock()
		_ = sock.Send(watchEventMsg{UID: msg.UID, Status: string(apierr.StatusOK)})
	}
}

type traceSink struct {
	sock *wsConn
}

func (t traceSink) Send(ev tracebus.Event) error {
	return t.sock.Send(ev)
}

// handleTrace implements the server-streamed Trace(stream, selector) RPC
// of §6: the selector comes from the initial query string, then every
// matching event (including replayed history) streams until the peer
// disconnects.
func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("trace upgrade failed", "error", err)
		return
	}
	sock := &wsConn{conn: conn}

	q := r.URL.Query()
	selector := tracebus.Selector{
		Document: q.Get("document"),
		Flavor:   q.Get("flavor"),
		Labels:   labelsFromQuery(map[string][]string(q)),
	}

	tok, err := s.svc.SubscribeTrace(r.Context(), q.Get("root_path"), selector, traceSink{sock: sock}, bearerToken(r))
	if err != nil {
		_ = sock.Send(map[string]string{"status": string(apierr.ToStatus(err)), "error": err.Error()})
		_ = conn.Close()
		return
	}

	stop := make(chan struct{})
	go pingLoop(sock, stop)
	defer close(stop)
	defer func() {
		s.svc.UnsubscribeTrace(q.Get("root_path"), tok)
		_ = conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error { return conn.SetReadDeadline(time.Now().Add(wsPongWait)) })
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

package transport

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lockpick/tracker/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	wsBuffer   = 64
	maxMsgSize = 4 << 20 // rule packs ride inside loadRules frames
)

// wsTransport adapts a websocket connection to the Transport interface.
// One reader and one writer goroutine per connection; gorilla/websocket
// allows at most one concurrent writer.
type wsTransport struct {
	conn *websocket.Conn
	log  *slog.Logger

	out    chan []byte
	in     chan protocol.Message
	closed chan struct{}
	once   sync.Once
}

func newWSTransport(conn *websocket.Conn, log *slog.Logger) *wsTransport {
	t := &wsTransport{
		conn:   conn,
		log:    log,
		out:    make(chan []byte, wsBuffer),
		in:     make(chan protocol.Message, wsBuffer),
		closed: make(chan struct{}),
	}
	go t.readPump()
	go t.writePump()
	return t
}

// Dial connects to a tracker engine served at url (ws://host:port/session).
func Dial(url string, log *slog.Logger) (Transport, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return newWSTransport(conn, log), nil
}

// Handler returns an http.Handler that upgrades requests and hands the
// resulting transport to accept. The engine daemon mounts this on its mux.
func Handler(log *slog.Logger, accept func(Transport)) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		log.Info("session connected", "remote", r.RemoteAddr)
		accept(newWSTransport(conn, log))
	})
}

func (t *wsTransport) Send(m protocol.Message) error {
	data, err := protocol.Encode(m)
	if err != nil {
		return err
	}
	select {
	case <-t.closed:
		return ErrClosed
	case t.out <- data:
		return nil
	}
}

func (t *wsTransport) Receive() <-chan protocol.Message { return t.in }

func (t *wsTransport) Close() error {
	t.once.Do(func() {
		close(t.closed)
		_ = t.conn.Close()
	})
	return nil
}

func (t *wsTransport) readPump() {
	defer func() {
		_ = t.Close()
		close(t.in)
	}()
	t.conn.SetReadLimit(maxMsgSize)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Warn("websocket read failed", "error", err)
			}
			return
		}
		m, err := protocol.Decode(data)
		if err != nil {
			t.log.Warn("dropping undecodable frame", "error", err)
			continue
		}
		select {
		case t.in <- m:
		case <-t.closed:
			return
		}
	}
}

func (t *wsTransport) writePump() {
	for {
		select {
		case <-t.closed:
			return
		case data := <-t.out:
			_ = t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				t.log.Warn("websocket write failed", "error", err)
				_ = t.Close()
				return
			}
		}
	}
}

package broadcast

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	writeWait    = 5 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second
	viewerQueue  = 2
)

// viewer is one WebSocket connection. Frames queue on send; when the queue
// is full the frame is dropped for this viewer only.
type viewer struct {
	conn *websocket.Conn
	log  *log.Logger
	send chan []byte

	once sync.Once
	quit chan struct{}
}

func newViewer(conn *websocket.Conn, logger *log.Logger) *viewer {
	return &viewer{
		conn: conn,
		log:  logger,
		send: make(chan []byte, viewerQueue),
		quit: make(chan struct{}),
	}
}

// offer queues a frame without blocking and reports whether it was taken.
func (v *viewer) offer(data []byte) bool {
	select {
	case <-v.quit:
		return false
	default:
	}
	select {
	case v.send <- data:
		return true
	default:
		return false
	}
}

func (v *viewer) stop() {
	v.once.Do(func() { close(v.quit) })
}

// writePump owns all writes on the connection.
func (v *viewer) writePump(onExit func()) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		v.conn.Close()
		onExit()
	}()

	for {
		select {
		case <-v.quit:
			v.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait),
			)
			return
		case data := <-v.send:
			v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := v.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				v.log.Debug("write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				v.log.Debug("ping failed", "error", err)
				return
			}
		}
	}
}

// readPump discards anything the viewer sends and notices when it leaves.
func (v *viewer) readPump() {
	defer v.stop()

	v.conn.SetReadLimit(512)
	v.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	v.conn.SetPongHandler(func(string) error {
		v.conn.SetReadDeadline(time.Now().Add(pongTimeout))
		return nil
	})

	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.log.Debug("viewer read", "error", err)
			}
			return
		}
	}
}

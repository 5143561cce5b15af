package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/seojin-dev/classroom/internal/app"
	"github.com/seojin-dev/classroom/internal/config"
	"github.com/seojin-dev/classroom/internal/core"
	"github.com/seojin-dev/classroom/internal/domain"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Orch *app.Orchestrator
	Cfg  *config.Config

	chatLimiter *RateLimiter
	drawLimiter *RateLimiter
}

func NewController(orch *app.Orchestrator, cfg *config.Config) *Controller {
	return &Controller{
		Orch: orch,
		Cfg:  cfg,
		// Chat is human-paced; strokes arrive at pointer-move rate
		// while the pen is down.
		chatLimiter: NewRateLimiter(10, 5*time.Second),
		drawLimiter: NewRateLimiter(240, time.Second),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the connection until the
// peer goes away. The connection id minted here is the routing key for
// everything that follows; it dies with the physical connection.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	id := domain.NewConnID()
	log.Info().Str("module", "signal").Str("conn", string(id)).Msg("new WS connection")

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}
	if ctl.Cfg.ReadLimit > 0 {
		ws.SetReadLimit(ctl.Cfg.ReadLimit)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctl.sendJSON(conn, struct {
		Type string        `json:"type"`
		ID   domain.ConnID `json:"id"`
	}{"welcome", id})

	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, id, conn)

	// Synchronous with transport teardown: after this returns no frame
	// can be routed to the dead connection id.
	ctl.disconnect(id)
}

func (ctl *Controller) disconnect(id domain.ConnID) {
	ctl.chatLimiter.Forget(id)
	ctl.drawLimiter.Forget(id)
	key, p, ok := ctl.Orch.Disconnect(id)
	if !ok {
		return
	}
	ctl.Orch.BroadcastRoom(key, id, mustJSON(struct {
		Type string        `json:"type"`
		ID   domain.ConnID `json:"id"`
		Name string        `json:"name"`
	}{"participant-left", p.ID, p.Name}))
}

package jsonrpc

import (
	"net/http"
	"time"

	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	pingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// events streams status transitions. Makers only receive the transitions of
// their own orders, "order" narrows the stream to a single order.
func (r *rpc) events(ctx *gin.Context) {
	caller := callerOf(ctx)
	only := ctx.Query("order")

	events, unsubscribe := r.coreConfig.Coordinator.Subscribe()
	defer unsubscribe()

	ws, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		r.logger.Debug("failed to upgrade to websocket", zap.Error(err))
		return
	}
	defer ws.Close()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	visible := map[string]bool{}
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event stream closed"),
					time.Now().Add(writeWait))
				return
			}
			if only != "" && event.OrderID != only {
				continue
			}
			if !r.visible(ctx, caller, event, visible) {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(event); err != nil {
				r.logger.Debug("failed to write message", zap.Error(err))
				return
			}
		}
	}
}

func (r *rpc) visible(ctx *gin.Context, caller types.Caller, event coordinator.Event, seen map[string]bool) bool {
	if caller.Operator {
		return true
	}
	if owned, ok := seen[event.OrderID]; ok {
		return owned
	}
	order, err := r.coreConfig.Store.Order(ctx.Request.Context(), event.OrderID)
	if err != nil {
		return false
	}
	seen[event.OrderID] = caller.Owns(order)
	return seen[event.OrderID]
}

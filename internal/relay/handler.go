package relay

import (
	"log/slog"
	"net/http"

	"github.com/gobwas/ws"
)

// Dispatcher receives lifecycle and message callbacks for UI connections.
type Dispatcher interface {
	ConnOpened(c *Conn)
	ConnMessage(c *Conn, data []byte)
	ConnClosed(c *Conn)
}

// WSHandler upgrades the request to a websocket, registers the connection
// with broker and hands inbound frames to d until the peer disconnects.
func WSHandler(broker *Broker, d Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		netConn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Warn("relay: websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		c := broker.Open(r.RemoteAddr)
		slog.Info("relay: ui connected", "conn_id", c.ID(), "remote", r.RemoteAddr)
		d.ConnOpened(c)

		go func() {
			Serve(netConn, c, func(data []byte) {
				d.ConnMessage(c, data)
			})
			broker.Unregister(c.ID())
			d.ConnClosed(c)
			slog.Info("relay: ui disconnected", "conn_id", c.ID())
		}()
	}
}

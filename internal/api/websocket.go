package api

import (
	"github.com/gofiber/contrib/v3/websocket"
	"github.com/gofiber/fiber/v3"

	"github.com/roombus/roombus-server/internal/config"
	"github.com/roombus/roombus-server/internal/credential"
	"github.com/roombus/roombus-server/internal/httputil"
	"github.com/roombus/roombus-server/internal/room"
	"github.com/roombus/roombus-server/internal/wire"
)

// wsTransport adapts a gofiber/contrib websocket connection to the room.Transport interface the Room routing
// engine depends on, so that routing logic never touches the socket library directly.
type wsTransport struct {
	conn *websocket.Conn
}

func (t wsTransport) Send(payload []byte) error {
	return t.conn.Conn.WriteMessage(websocket.TextMessage, payload)
}

func (t wsTransport) Close(code int, reason string) error {
	_ = t.conn.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	return t.conn.Conn.Close()
}

// WebSocketHandler serves GET /websocket, the Front Router's only socket-upgrading route: it validates projectId,
// type, and apiKey ahead of the protocol upgrade, then hands the admitted socket to the resolved Room.
type WebSocketHandler struct {
	registry    *room.Registry
	credentials *credential.Service
	cfg         *config.Config
}

// NewWebSocketHandler returns a WebSocketHandler wired to registry and credentials.
func NewWebSocketHandler(registry *room.Registry, credentials *credential.Service, cfg *config.Config) *WebSocketHandler {
	return &WebSocketHandler{registry: registry, credentials: credentials, cfg: cfg}
}

// Upgrade handles GET /websocket?projectId=P&type=T&apiKey=K.
func (h *WebSocketHandler) Upgrade(c fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return httputil.Fail(c, fiber.StatusUpgradeRequired, httputil.CodeUpgradeRequired, wire.ErrUpgradeRequired.Error())
	}

	roleParam := c.Query("type")

	projectID, err := requireProject(c, h.cfg, h.credentials)
	if err != nil {
		return err
	}
	if !wire.ValidRole(roleParam) {
		return httputil.Fail(c, fiber.StatusBadRequest, httputil.CodeBadRequest, wire.ErrInvalidRole.Error())
	}

	rm := h.registry.GetOrCreate(projectID)
	if wire.Role(roleParam) == wire.RoleRuntime && rm.WouldRejectRuntime() {
		return httputil.Fail(c, fiber.StatusConflict, httputil.CodeConflict, wire.ErrRuntimeSingleton.Error())
	}

	meta := room.Metadata{
		UserAgent: c.Get("User-Agent"),
		Origin:    c.Get("Origin"),
	}

	return websocket.New(func(conn *websocket.Conn) {
		connection, err := rm.Register(roleParam, wsTransport{conn: conn}, meta)
		if err != nil {
			code := wire.CloseNormal
			if err == wire.ErrRuntimeSingleton || err == wire.ErrInvalidRole {
				code = wire.ClosePolicyViolation
			}
			_ = conn.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, err.Error()))
			_ = conn.Conn.Close()
			return
		}

		defer rm.HandleClose(connection)

		for {
			_, raw, err := conn.Conn.ReadMessage()
			if err != nil {
				return
			}
			rm.HandleMessage(connection, raw)
		}
	})(c)
}

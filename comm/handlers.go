package comm

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"backend/actors"
	"backend/entities"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Origins are filtered by the CORS middleware.
	},
}

// ChatSocketHandler upgrades a client directly into one conversation's
// RoomCoordinator. All four identifiers are required (401 otherwise, 426
// when the request is not an upgrade request).
func ChatSocketHandler(directory *actors.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) {
			log.Printf("ChatSocketHandler: non-upgrade request to chat socket endpoint from %s", c.ClientIP())
			c.JSON(http.StatusUpgradeRequired, gin.H{
				"status":  "nok",
				"message": entities.ErrProtocol.Error(),
			})
			return
		}

		userId, err := uuid.Parse(c.Query("userId"))
		userName := c.Query("userName")
		connectionId := c.Query("connectionId")
		conversationId, convErr := uuid.Parse(c.Query("conversationId"))
		if err != nil || convErr != nil || userName == "" || connectionId == "" {
			log.Printf("ChatSocketHandler: upgrade rejected, missing identifiers (userId=%q userName=%q connectionId=%q conversationId=%q)",
				c.Query("userId"), userName, connectionId, c.Query("conversationId"))
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "nok",
				"message": entities.ErrAuthentication.Error(),
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("ChatSocketHandler: error upgrading connection %s: %v", connectionId, err)
			return
		}

		socket := NewSocket(conn)
		room := directory.Room(conversationId)
		room.Register(&entities.Connection{
			Socket:       socket,
			UserId:       userId,
			UserName:     userName,
			ConnectionId: connectionId,
		})

		readLoop(conn, socket, func(raw []byte) {
			room.HandleFrame(connectionId, raw)
		}, func(code int, reason string) {
			room.HandleClose(connectionId, code, reason)
		})
	}
}

// UserSocketHandler upgrades a client into its ConnectionRegistry, the
// single real-time endpoint covering all of the user's conversations.
func UserSocketHandler(directory *actors.Directory) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !websocket.IsWebSocketUpgrade(c.Request) {
			c.JSON(http.StatusUpgradeRequired, gin.H{
				"status":  "nok",
				"message": entities.ErrProtocol.Error(),
			})
			return
		}

		userId, err := uuid.Parse(c.Query("userId"))
		userName := c.Query("userName")
		if err != nil || userName == "" {
			log.Printf("UserSocketHandler: upgrade rejected, missing identifiers (userId=%q userName=%q)", c.Query("userId"), userName)
			c.JSON(http.StatusUnauthorized, gin.H{
				"status":  "nok",
				"message": entities.ErrAuthentication.Error(),
			})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Printf("UserSocketHandler: error upgrading connection for user %s: %v", userId, err)
			return
		}

		socket := NewSocket(conn)
		registry := directory.Registry(userId)
		registry.Register(c.Request.Context(), socket, userName)
		go KeepAlivePing(socket, 30*time.Second)

		readLoop(conn, socket, func(raw []byte) {
			registry.HandleFrame(raw)
		}, func(code int, reason string) {
			registry.HandleClose(socket)
		})
	}
}

// readLoop pumps inbound frames into the actor until the peer goes away,
// then reports the close. Pong control frames refresh the read deadline
// alongside application-level pings.
func readLoop(conn *websocket.Conn, socket *Socket, onFrame func([]byte), onClose func(code int, reason string)) {
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			reason := err.Error()
			if closeErr, ok := err.(*websocket.CloseError); ok {
				code = closeErr.Code
				reason = closeErr.Text
			}
			socket.markClosed()
			onClose(code, reason)
			return
		}
		if len(raw) == 0 {
			continue
		}
		onFrame(raw)
	}
}

// KeepAlivePing writes a periodic liveness ping frame to the socket until
// it closes. Run in its own goroutine per connection.
func KeepAlivePing(socket *Socket, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for range ticker.C {
		if !socket.IsOpen() {
			return
		}
		if err := socket.SendFrame(&entities.Frame{Type: entities.FramePing}); err != nil {
			return
		}
	}
}

package client

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"smack-remind/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8 * 1024

	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// runStream keeps the live WebSocket up for the life of the client,
// reconnecting with backoff.
func (c *Client) runStream() {
	backoff := reconnectMin
	for {
		select {
		case <-c.closed:
			return
		default:
		}

		wsURL, err := c.wsURL()
		if err != nil {
			log.Printf("[WS] bad server url: %v", err)
			return
		}

		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			log.Printf("[WS] connect failed, retrying in %v: %v", backoff, err)
			select {
			case <-time.After(backoff):
			case <-c.closed:
				return
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}

		log.Printf("[WS] connected as %s", c.userID)
		backoff = reconnectMin
		c.readLoop(conn)
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			case <-c.closed:
				conn.Close()
				return
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[WS] read error: %v", err)
			}
			return
		}

		var frame models.WSMessage
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[WS] bad frame: %v", err)
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame models.WSMessage) {
	switch frame.Type {
	case models.WSTypeNewMessage:
		var msg models.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			log.Printf("[WS] bad new_message payload: %v", err)
			return
		}
		c.mu.Lock()
		c.appendTimelineLocked(msg.ChannelID, msg)
		c.mu.Unlock()
		ev := models.Event{
			Message: msg,
			RoomID:  msg.ChannelID,
			Live:    true,
		}
		c.resolveUnsealed(ev)
		c.emitEvent(ev)

	case models.WSTypeSealedMessage:
		// Envelope only: id, room, author. Content arrives later as a
		// regular new_message once the server can release it.
		var msg models.Message
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			log.Printf("[WS] bad sealed_message payload: %v", err)
			return
		}
		c.emitEvent(models.Event{
			Message: msg,
			RoomID:  msg.ChannelID,
			Live:    true,
			Sealed:  true,
		})

	case models.WSTypeMessageDeleted:
		var payload models.MessageDeletedPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			log.Printf("[WS] bad message_deleted payload: %v", err)
			return
		}
		c.mu.Lock()
		c.removeTimelineLocked(payload.ChannelID, payload.MessageID)
		c.mu.Unlock()
		c.emitEvent(models.Event{
			Message: models.Message{ID: payload.MessageID, ChannelID: payload.ChannelID},
			RoomID:  payload.ChannelID,
			Removed: true,
			Live:    true,
		})

	case models.WSTypeWelcome, models.WSTypeTyping, models.WSTypeReminder:
		// Nothing for the agent to do.

	default:
		// Unknown frame kinds are expected as the server grows.
	}
}

// Package chat is a websocket chat room, scanned after the context resolved.
package chat

import (
	"time"

	"go.uber.org/zap"

	"github.com/km-arc/go-dsi/framework/scan"
	"github.com/km-arc/go-dsi/framework/websocket"
)

func init() {
	scan.Component[Room]("chat-room")
}

// Room serves /ws/chat. Every message is broadcast to the room; a message
// with a "to" field only reaches that user.
type Room struct {
	Manager *websocket.Manager `inject:""`
	Idle    time.Duration      `config:"${demo.chat.heartbeat}"`
}

func (r *Room) Endpoint() string { return "/ws/chat" }

func (r *Room) Heartbeat() time.Duration {
	if r.Idle == 0 {
		return websocket.DefaultHeartbeat
	}
	return r.Idle
}

func (r *Room) NewSocket() websocket.Socket { return &member{} }

type member struct {
	websocket.JSON

	Manager *websocket.Manager `inject:""`
	Logger  *zap.Logger        `inject:",optional"`

	name string
}

func (m *member) Connected(c *websocket.Conn) {
	m.name = c.Query().Get("name")
	if m.name == "" {
		m.name = c.ID
	}
	_ = c.Send(map[string]string{"action": "welcome", "name": m.name})
}

func (m *member) Disconnected(c *websocket.Conn, err error) {
	if m.Logger != nil {
		m.Logger.Debug("member left", zap.String("name", m.name), zap.Error(err))
	}
}

func (m *member) Matches(id string, _ any) bool { return id == m.name }

func (m *member) HandleMessage(c *websocket.Conn, msg any) {
	in, _ := msg.(map[string]any)
	text, _ := in["text"].(string)
	out := map[string]string{"action": "message", "from": m.name, "text": text}
	to, _ := in["to"].(string)
	if err := m.Manager.Update(c.Endpoint, to, out); err != nil && m.Logger != nil {
		m.Logger.Warn("message not delivered", zap.Error(err))
	}
}

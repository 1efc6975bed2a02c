package server

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/morezero/livequery/pkg/protocol"
)

const defaultWriteTimeout = 5 * time.Second

// session is one accepted websocket connection. It satisfies events.Sender.
type session struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	limiter      *rate.Limiter
}

func (s *session) ID() string { return s.id }

// Send writes one frame. Concurrent calls are safe.
func (s *session) Send(ctx context.Context, data []byte) error {
	timeout := s.writeTimeout
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return s.conn.Write(ctx, websocket.MessageText, data)
}

func (s *session) sendMessage(ctx context.Context, msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return s.Send(ctx, data)
}

package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/morezero/livequery/pkg/protocol"
)

// fakeServer accepts websocket connections and answers each request with respond. Returning nil
// sends nothing.
type fakeServer struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(*protocol.Message) *protocol.Message

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []*protocol.Message
	headers  []http.Header
	accepted chan struct{}
}

func newFakeServer(t *testing.T, respond func(*protocol.Message) *protocol.Message) *fakeServer {
	t.Helper()
	fs := &fakeServer{t: t, respond: respond, accepted: make(chan struct{}, 16)}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	fs.mu.Lock()
	fs.conns = append(fs.conns, conn)
	fs.headers = append(fs.headers, r.Header.Clone())
	fs.mu.Unlock()
	fs.accepted <- struct{}{}

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			continue
		}
		fs.mu.Lock()
		fs.received = append(fs.received, msg)
		fs.mu.Unlock()

		if fs.respond == nil {
			continue
		}
		if resp := fs.respond(msg); resp != nil {
			out, _ := protocol.Encode(resp)
			_ = conn.Write(ctx, websocket.MessageText, out)
		}
	}
}

// broadcast sends msg to every open connection.
func (fs *fakeServer) broadcast(msg *protocol.Message) {
	out, _ := protocol.Encode(msg)
	fs.mu.Lock()
	conns := append([]*websocket.Conn(nil), fs.conns...)
	fs.mu.Unlock()
	for _, c := range conns {
		_ = c.Write(context.Background(), websocket.MessageText, out)
	}
}

// dropAll closes every server-side connection.
func (fs *fakeServer) dropAll() {
	fs.mu.Lock()
	conns := fs.conns
	fs.conns = nil
	fs.mu.Unlock()
	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "test drop")
	}
}

func (fs *fakeServer) requests() []*protocol.Message {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return append([]*protocol.Message(nil), fs.received...)
}

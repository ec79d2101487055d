package transport

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var wsDialer = websocket.Dialer{
	HandshakeTimeout: 5 * time.Second,
}

// DialWebSocket connects to a serving peer at wsURL (ws:// or wss://)
// and adapts the message connection to a byte stream pair.
func DialWebSocket(ctx context.Context, wsURL string, logger *slog.Logger) (Pair, error) {
	conn, resp, err := wsDialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("websocket upgrade failed (%d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket dial %s: %w", wsURL, err)
	}
	logger.Debug("websocket connection established", "url", wsURL)
	return newWSPair(conn), nil
}

// WSListener accepts direct peer connections over WebSocket.
type WSListener struct {
	netLn    net.Listener
	srv      *http.Server
	accepted chan *websocket.Conn
}

// ListenWebSocket binds addr for direct-mode serving.
func ListenWebSocket(addr string) (*WSListener, error) {
	netLn, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("websocket listen %s: %w", addr, err)
	}
	l := &WSListener{
		netLn:    netLn,
		accepted: make(chan *websocket.Conn, 1),
	}
	upgrader := websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 64 * 1024,
	}
	l.srv = &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			select {
			case l.accepted <- conn:
			default:
				conn.Close()
			}
		}),
	}
	go l.srv.Serve(netLn)
	return l, nil
}

// Addr returns the bound address.
func (l *WSListener) Addr() net.Addr { return l.netLn.Addr() }

// Close stops accepting.
func (l *WSListener) Close() error { return l.srv.Close() }

// AcceptPair waits for one upgraded peer and returns its stream pair.
func (l *WSListener) AcceptPair(ctx context.Context, logger *slog.Logger) (Pair, error) {
	select {
	case conn := <-l.accepted:
		logger.Debug("websocket connection accepted", "remote_addr", conn.RemoteAddr())
		return newWSPair(conn), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// wsStream adapts a message-oriented websocket connection to the
// ordered byte stream the copy protocol needs: writes become binary
// messages, reads drain messages through an internal remainder.
type wsStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	rd      io.Reader // remainder of the current inbound message
}

func newWSPair(conn *websocket.Conn) Pair {
	s := &wsStream{conn: conn}
	return NewPair(s, s,
		func() error {
			s.writeMu.Lock()
			defer s.writeMu.Unlock()
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return s.conn.Close()
		},
		func() error { return nil })
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.rd != nil {
			n, err := s.rd.Read(p)
			if err == io.EOF {
				s.rd = nil
				if n == 0 {
					continue
				}
				err = nil
			}
			return n, err
		}
		msgType, rd, err := s.conn.NextReader()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return 0, io.EOF
			}
			return 0, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		s.rd = rd
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stockgame/internal/protocol"
)

const (
	writeWait   = 5 * time.Second
	dialTimeout = 10 * time.Second
)

// Link is a participant's websocket connection to one relay room.
type Link struct {
	conn *websocket.Conn
	log  *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
}

// WSURL turns the relay's http(s) base URL into the room's websocket URL.
func WSURL(base, room string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	q := url.Values{}
	if room != "" {
		q.Set("room", room)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func Dial(ctx context.Context, base, room string, logger *slog.Logger) (*Link, error) {
	if logger == nil {
		logger = slog.Default()
	}
	target, err := WSURL(base, room)
	if err != nil {
		return nil, err
	}
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", target, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	return &Link{conn: conn, log: logger}, nil
}

// Send writes one event. Safe for concurrent use.
func (l *Link) Send(msgType string, payload any) error {
	b, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(websocket.TextMessage, b)
}

// ReadLoop hands every decoded envelope to handle until the connection fails
// or ctx is cancelled. Malformed frames are logged and skipped.
func (l *Link) ReadLoop(ctx context.Context, handle func(protocol.Envelope)) error {
	stop := context.AfterFunc(ctx, func() { _ = l.Close() })
	defer stop()
	for {
		_, raw, err := l.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		env, err := protocol.DecodeEnvelope(raw)
		if err != nil {
			l.log.Warn("dropping relay frame", "err", err)
			continue
		}
		handle(env)
	}
}

func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.writeMu.Lock()
		_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}

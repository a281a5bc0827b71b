package testevents

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/okian/wddbridge/internal/adapters/wdd"
	"github.com/okian/wddbridge/internal/domain/types"
	"github.com/okian/wddbridge/pkg/logger"
)

// Session is a decoder connection to the bridge.
type Session struct {
	conn   *websocket.Conn
	format wdd.Format
}

// Dial opens a decoder session. The auth key travels in the same header a
// real decoder uses.
func Dial(ctx context.Context, url, authKey string, format wdd.Format, timeout time.Duration) (*Session, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	header := http.Header{}
	header.Set(wdd.AuthHeader, authKey)

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Session{conn: conn, format: format}, nil
}

// Send writes one waggle record.
func (s *Session) Send(r wdd.Record) error {
	data, err := wdd.Encode(s.format, r)
	if err != nil {
		return err
	}
	return s.conn.WriteMessage(s.messageType(), data)
}

// Close sends the close command and waits briefly for the bridge to end the
// session.
func (s *Session) Close() error {
	data, err := wdd.EncodeClose(s.format)
	if err == nil {
		err = s.conn.WriteMessage(s.messageType(), data)
	}
	if err == nil {
		_ = s.conn.SetReadDeadline(time.Now().Add(settleDelay))
		for {
			if _, _, rerr := s.conn.ReadMessage(); rerr != nil {
				break
			}
		}
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Session) messageType() int {
	if s.format == wdd.FormatCBOR {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// fetchStats reads the bridge state from the admin API.
func fetchStats(ctx context.Context, baseURL string, timeout time.Duration) (types.BridgeStats, error) {
	var out types.BridgeStats
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/stats", nil)
	if err != nil {
		return out, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return out, fmt.Errorf("failed to connect to admin API: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Get().Error(context.Background(), "failed to close response body", logger.Error(err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("stats request failed with status: %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode stats: %w", err)
	}
	return out, nil
}

package wdd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/okian/wddbridge/pkg/logger"
)

// NATS connection defaults.
const (
	natsClientName     = "wdd-bridge"
	natsReconnectWait  = 2 * time.Second
	natsConnectTimeout = 5 * time.Second
)

// Subscriber receives waggle records published on a NATS subject. JSON
// payloads are the default; payloads that do not start like JSON are decoded
// as CBOR.
type Subscriber struct {
	in      *intake
	url     string
	subject string

	mu   sync.Mutex
	conn *nats.Conn
	sub  *nats.Subscription
	ctx  context.Context
}

// NewSubscriber creates a subscriber for subject on the server at url.
func NewSubscriber(sink Sink, url, subject string, opts ...Option) (*Subscriber, error) {
	if subject == "" {
		return nil, ErrNoSubject
	}
	return &Subscriber{
		in:      newIntake(sink, "nats", opts),
		url:     url,
		subject: subject,
		ctx:     context.Background(),
	}, nil
}

// Start connects and subscribes. The connection reconnects on its own.
func (s *Subscriber) Start(ctx context.Context) error {
	conn, err := nats.Connect(s.url,
		nats.Name(natsClientName),
		nats.ReconnectWait(natsReconnectWait),
		nats.MaxReconnects(-1),
		nats.Timeout(natsConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.in.log.Warn(ctx, "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.in.log.Info(ctx, "nats reconnected", logger.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s.mu.Lock()
	s.ctx = ctx
	s.conn = conn
	s.mu.Unlock()

	sub, err := conn.Subscribe(s.subject, s.handle)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	s.mu.Lock()
	s.sub = sub
	s.mu.Unlock()

	s.in.log.Info(ctx, "subscribed to waggle subject",
		logger.String("url", s.url), logger.String("subject", s.subject))
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.in.accept(ctx, sniff(msg.Data), msg.Data, "nats:"+msg.Subject)
}

// sniff picks the decoder for a payload.
func sniff(data []byte) Format {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		case '{', '"':
			return FormatJSON
		}
		break
	}
	if len(data) > 0 && data[0] == 'c' {
		// bare "close"
		return FormatJSON
	}
	return FormatCBOR
}

// Close unsubscribes and drains the connection.
func (s *Subscriber) Close() error {
	s.mu.Lock()
	conn, sub := s.conn, s.sub
	s.conn, s.sub = nil, nil
	s.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
	if conn != nil {
		if err := conn.Drain(); err != nil {
			conn.Close()
			return err
		}
	}
	return nil
}

package wdd

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/wddbridge/internal/adapters/mq/queue"
	"github.com/okian/wddbridge/internal/domain/dedupe"
	"github.com/okian/wddbridge/internal/domain/model"
	"github.com/okian/wddbridge/pkg/logger"
)

type fakeSink struct {
	mu     sync.Mutex
	events []model.WaggleEvent
	err    error
}

func (s *fakeSink) Enqueue(_ context.Context, ev model.WaggleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) received() []model.WaggleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WaggleEvent(nil), s.events...)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func record(cam, id string) []byte {
	return []byte(`{"x":1,"y":2,"waggle_angle":0.5,"waggle_duration":1,` +
		`"timestamp_waggle":"2026-05-01T10:00:00Z","cam_id":"` + cam + `","waggle_id":"` + id + `"}`)
}

func dial(srv *httptest.Server, query string, header http.Header) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + Path + query
	return websocket.DefaultDialer.Dial(url, header)
}

func TestListener(t *testing.T) {
	_ = logger.Init()

	Convey("Given a listener behind a test server", t, func() {
		sink := &fakeSink{}
		l := NewListener(sink, "secret", WithDeduper(dedupe.NewInMemoryDeduper()))
		srv := httptest.NewServer(l.Handler())
		Reset(func() {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = l.Close(ctx)
			srv.Close()
		})

		Convey("When a session has no auth key", func() {
			_, resp, err := dial(srv, "", nil)

			Convey("Then the upgrade is refused", func() {
				So(err, ShouldNotBeNil)
				So(resp, ShouldNotBeNil)
				So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When a session uses the wrong key", func() {
			_, resp, err := dial(srv, "?authkey=nope", nil)
			So(err, ShouldNotBeNil)
			So(resp.StatusCode, ShouldEqual, http.StatusUnauthorized)
		})

		Convey("When an authenticated session sends JSON and CBOR records", func() {
			header := http.Header{}
			header.Set(AuthHeader, "secret")
			conn, _, err := dial(srv, "", header)
			So(err, ShouldBeNil)
			defer conn.Close()

			So(conn.WriteMessage(websocket.TextMessage, record("cam0", "a")), ShouldBeNil)
			So(conn.WriteMessage(websocket.TextMessage, []byte(`{"broken":`)), ShouldBeNil)
			So(conn.WriteMessage(websocket.TextMessage, record("cam0", "a")), ShouldBeNil)

			bin, err := Encode(FormatCBOR, NewRecord(model.WaggleEvent{
				X: 5, Y: 6, Timestamp: time.Now().UTC(), CameraID: "cam1", EventID: "b",
			}))
			So(err, ShouldBeNil)
			So(conn.WriteMessage(websocket.BinaryMessage, bin), ShouldBeNil)

			Convey("Then valid, unique records reach the sink in order", func() {
				So(eventually(func() bool { return len(sink.received()) == 2 }), ShouldBeTrue)
				got := sink.received()
				So(got[0].CameraID, ShouldEqual, "cam0")
				So(got[1].CameraID, ShouldEqual, "cam1")
				So(got[1].X, ShouldEqual, 5)
			})
		})

		Convey("When a session sends the close command", func() {
			conn, _, err := dial(srv, "?authkey=secret", nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			So(eventually(func() bool { return l.Sessions() == 1 }), ShouldBeTrue)

			So(conn.WriteMessage(websocket.TextMessage, []byte(`"close"`)), ShouldBeNil)

			Convey("Then the server ends the session", func() {
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				_, _, err := conn.ReadMessage()
				So(websocket.IsCloseError(err, websocket.CloseNormalClosure), ShouldBeTrue)
				So(eventually(func() bool { return l.Sessions() == 0 }), ShouldBeTrue)
			})
		})

		Convey("When one of two sessions disconnects", func() {
			a, _, err := dial(srv, "?authkey=secret", nil)
			So(err, ShouldBeNil)
			b, _, err := dial(srv, "?authkey=secret", nil)
			So(err, ShouldBeNil)
			defer b.Close()

			_ = a.Close()
			So(b.WriteMessage(websocket.TextMessage, record("cam0", "x")), ShouldBeNil)

			Convey("Then the other keeps delivering", func() {
				So(eventually(func() bool { return len(sink.received()) == 1 }), ShouldBeTrue)
			})
		})

		Convey("When the listener is closed", func() {
			conn, _, err := dial(srv, "?authkey=secret", nil)
			So(err, ShouldBeNil)
			defer conn.Close()
			So(eventually(func() bool { return l.Sessions() == 1 }), ShouldBeTrue)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			So(l.Close(ctx), ShouldBeNil)

			Convey("Then open sessions are dropped", func() {
				So(l.Sessions(), ShouldEqual, 0)
				_ = conn.SetReadDeadline(time.Now().Add(time.Second))
				_, _, err := conn.ReadMessage()
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestIntakeBackpressure(t *testing.T) {
	_ = logger.Init()

	Convey("Given a full inbound queue", t, func() {
		q := queue.NewInMemoryQueue[model.WaggleEvent](queue.WithCapacity(1), queue.WithName("test_inbound"))
		d := dedupe.NewInMemoryDeduper()
		in := newIntake(q, "test", []Option{WithDeduper(d)})
		ctx := context.Background()

		So(in.accept(ctx, FormatJSON, record("cam0", "1"), "peer"), ShouldBeFalse)
		So(q.Len(), ShouldEqual, 1)

		Convey("When another record arrives", func() {
			in.accept(ctx, FormatJSON, record("cam0", "2"), "peer")

			Convey("Then it is dropped and forgotten so a resend can pass", func() {
				So(q.Len(), ShouldEqual, 1)
				So(d.Size(), ShouldEqual, 1)
				<-q.Dequeue()
				in.accept(ctx, FormatJSON, record("cam0", "2"), "peer")
				So(q.Len(), ShouldEqual, 1)
			})
		})
	})
}

package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/getmockd/netlens/pkg/netevent"
	"github.com/getmockd/netlens/pkg/query"
)

// writeTimeout bounds a single websocket write.
const writeTimeout = 5 * time.Second

// StreamMessage is pushed to stream clients on connect and after every
// view change.
type StreamMessage struct {
	Type       string                  `json:"type"`
	Stream     string                  `json:"stream"`
	Events     []netevent.NetworkEvent `json:"events"`
	Stats      query.Stats             `json:"stats"`
	TotalStats query.Stats             `json:"totalStats"`
	Hosts      []string                `json:"hosts"`
	Methods    []string                `json:"methods"`
}

// stream is one websocket client.
type stream struct {
	id     string
	conn   *websocket.Conn
	dirty  chan struct{}
	cancel context.CancelFunc
	once   sync.Once
}

// markDirty tells the writer the view changed. It never blocks the
// pipeline that produced the change; bursts collapse into one send of the
// latest snapshot.
func (st *stream) markDirty(query.Snapshot) {
	select {
	case st.dirty <- struct{}{}:
	default:
	}
}

func (st *stream) close(code websocket.StatusCode, reason string) {
	st.once.Do(func() {
		st.cancel()
		_ = st.conn.Close(code, reason)
	})
}

// handleStream handles GET /events/stream.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &s.accept)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx when they go away.
	ctx, cancel := context.WithCancel(conn.CloseRead(context.Background()))
	st := &stream{
		id:     uuid.NewString(),
		conn:   conn,
		dirty:  make(chan struct{}, 1),
		cancel: cancel,
	}

	s.mu.Lock()
	s.streams[st.id] = st
	s.mu.Unlock()
	s.log.Debug("stream connected", "stream", st.id, "remote", r.RemoteAddr)

	unsubscribe := s.mon.SubscribeView(st.markDirty)
	defer func() {
		unsubscribe()
		s.mu.Lock()
		delete(s.streams, st.id)
		s.mu.Unlock()
		st.close(websocket.StatusNormalClosure, "")
		s.log.Debug("stream closed", "stream", st.id)
	}()

	st.markDirty(query.Snapshot{})
	for {
		select {
		case <-ctx.Done():
			return
		case <-st.dirty:
			if err := s.send(ctx, st, s.mon.Snapshot()); err != nil {
				s.log.Debug("stream write failed", "stream", st.id, "error", err)
				return
			}
		}
	}
}

func (s *Server) send(ctx context.Context, st *stream, snap query.Snapshot) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, st.conn, StreamMessage{
		Type:       "snapshot",
		Stream:     st.id,
		Events:     snap.Events,
		Stats:      snap.Stats,
		TotalStats: snap.TotalStats,
		Hosts:      snap.Hosts,
		Methods:    snap.Methods,
	})
}

package webstream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"

	"github.com/alifzidanr/findmyjowa-render/internal/hub"
	"github.com/alifzidanr/findmyjowa-render/internal/ingest"
	"github.com/alifzidanr/findmyjowa-render/internal/util"
)

const (
	CJoinGlobal     = "join_global"
	CJoinUser       = "join_user"
	CSubmitLocation = "submit_location"
	CSubmitStatus   = "submit_status"
)

// outbound queue per session; overflow drops the frame rather than stall
// the broadcaster
const sessionQueueLen = 64

type Config struct {
	ListenAddr string
}

type WebstreamServer struct {
	server *http.Server
	logger zerolog.Logger
	hub    *hub.Hub
	ingest *ingest.Ingest
	config Config
}

func NewWebstream(h *hub.Hub, in *ingest.Ingest, config Config) *WebstreamServer {
	ws := &WebstreamServer{hub: h, ingest: in, config: config}
	ws.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(ws.serve_http),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	ws.logger = log.With().Str("module", "webstream").Logger()
	return ws
}

func (ws *WebstreamServer) Run() {
	ws.logger.Info().Msgf("starting webstream server on %s", ws.config.ListenAddr)
	err := ws.server.ListenAndServe()
	if err != nil {
		panic(err)
	}
}

func (ws *WebstreamServer) serve_http(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.logger.Err(err).Msg("error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	s := newSession(ws, c)
	// every viewer sees the whole fleet; per-user rooms are opt-in
	ws.hub.Join(s, hub.GlobalGroup)
	ws.logger.Info().Str("session", s.id).Msg("viewer connected")

	go s.writeLoop()
	s.readLoop()

	ws.hub.DropSession(s)
	ws.logger.Info().Str("session", s.id).Uint64("dropped_frames", atomic.LoadUint64(&s.dropped)).Msg("viewer disconnected")
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Session is one connected viewer. It implements hub.Subscriber; Push never
// blocks and frames beyond the queue capacity are dropped and counted.
// Frames that do fit are written in push order by the single writer
// goroutine, so one session's stream preserves submission order.
type Session struct {
	id      string
	srv     *WebstreamServer
	c       *websocket.Conn
	wch     chan []byte
	done    chan struct{}
	closed  uint32
	dropped uint64
	joined  string // per-user group currently joined, "" if none
	logger  zerolog.Logger
}

func newSession(srv *WebstreamServer, c *websocket.Conn) *Session {
	s := &Session{srv: srv, c: c}
	s.id = util.GenRandomString(nil, 12)
	s.wch = make(chan []byte, sessionQueueLen)
	s.done = make(chan struct{})
	s.logger = srv.logger.With().Str("session", s.id).Logger()
	return s
}

func (s *Session) Push(group string, data []byte) error {
	if atomic.LoadUint32(&s.closed) == 1 {
		return context.Canceled
	}
	select {
	case s.wch <- data:
	default:
		atomic.AddUint64(&s.dropped, 1)
		s.logger.Debug().Str("group", group).Msg("session queue full, dropping frame")
	}
	return nil
}

func (s *Session) Closed() bool {
	return atomic.LoadUint32(&s.closed) == 1
}

func (s *Session) Name() string {
	return s.id
}

func (s *Session) close() {
	if atomic.CompareAndSwapUint32(&s.closed, 0, 1) {
		close(s.done)
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.wch:
			err := s.c.Write(context.Background(), websocket.MessageText, data)
			if err != nil {
				s.logger.Err(err).Msg("error while writing to connection")
				s.close()
				return
			}
		}
	}
}

func (s *Session) readLoop() {
	for {
		_, data, err := s.c.Read(context.Background())
		if err != nil {
			s.close()
			return
		}
		msg := inboundMessage{}
		err = json.Unmarshal(data, &msg)
		if err != nil {
			s.reject("malformed message")
			continue
		}
		s.dispatch(&msg)
	}
}

func (s *Session) dispatch(msg *inboundMessage) {
	switch msg.Type {
	case CJoinGlobal:
		s.srv.hub.Join(s, hub.GlobalGroup)
	case CJoinUser:
		req := struct {
			OwnerID string `json:"owner_id"`
		}{}
		if err := json.Unmarshal(msg.Data, &req); err != nil || req.OwnerID == "" {
			s.reject("join_user needs owner_id")
			return
		}
		// at most one per-user room per session
		if s.joined != "" && s.joined != hub.UserGroup(req.OwnerID) {
			s.srv.hub.Leave(s, s.joined)
		}
		s.joined = hub.UserGroup(req.OwnerID)
		s.srv.hub.Join(s, s.joined)
	case CSubmitLocation:
		ev := ingest.LocationEvent{}
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.reject("malformed location event")
			return
		}
		if err := s.srv.ingest.SubmitLocation(context.Background(), &ev); err != nil {
			s.logger.Debug().Err(err).Msg("location event rejected")
			s.reject(err.Error())
		}
	case CSubmitStatus:
		ev := ingest.StatusEvent{}
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			s.reject("malformed status event")
			return
		}
		if err := s.srv.ingest.SubmitStatus(context.Background(), &ev); err != nil {
			s.logger.Debug().Err(err).Msg("status event rejected")
			s.reject(err.Error())
		}
	default:
		s.reject("unknown message type")
	}
}

// reject reports a per-event failure back to this session only; the
// connection stays up.
func (s *Session) reject(reason string) {
	data, _ := json.Marshal(struct {
		Type string       `json:"type"`
		Data errorPayload `json:"data"`
	}{Type: "error", Data: errorPayload{Error: reason}})
	_ = s.Push("", data)
}

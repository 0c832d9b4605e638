package devsocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"

	"github.com/alifzidanr/findmyjowa-render/internal/ingest"
	"github.com/alifzidanr/findmyjowa-render/internal/store"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
)

var errNotLogin = errors.New("first message not login message")

type ServerConfig struct {
	ListenerAddr string
}

// Server accepts device clients speaking a newline-delimited JSON protocol:
// a login frame carrying the owner/install-token pair, then location and
// status frames which feed the ingest handler. The listener understands the
// PROXY protocol so it can sit behind a TCP load balancer.
type Server struct {
	log         log.Logger
	ingest      *ingest.Ingest
	config      *ServerConfig
	cid_counter uint64
}

func NewServer(in *ingest.Ingest, config *ServerConfig) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "devsocket").Value()
	s.ingest = in
	s.config = config
	return s
}

func (s *Server) Run() {
	s.log.Info().Msgf("starting device socket server on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return
	}
	pln := proxyproto.Listener{Listener: ln}
	for {
		_c, err := pln.Accept()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to accept new connection")
			pln.Close()
			return
		}
		c := NewConn(_c, atomic.AddUint64(&s.cid_counter, 1))
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
		dc := &deviceClient{s: s, c: c}
		dc.log = s.log
		dc.log.Context = log.NewContext(nil).Str("module", "devsocket").Uint64("cid", c.Cid()).Value()
		go dc.run()
	}
}

type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type loginAck struct {
	Type string `json:"type"`
	Data struct {
		DeviceID string `json:"device_id"`
	} `json:"data"`
}

type deviceClient struct {
	s   *Server
	c   *Conn
	dev *store.Device
	log log.Logger
}

func (dc *deviceClient) readParse() (*message, error) {
	d, err := dc.c.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	m := message{}
	err = json.Unmarshal(d, &m)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (dc *deviceClient) run() {
	defer func() {
		dc.c.Close()
		byteIn, byteOut := dc.c.Stat()
		dc.log.Info().Uint64("byte_in", byteIn).Uint64("byte_out", byteOut).
			Dur("uptime", time.Since(dc.c.Created())).Msg("connection closed")
	}()

	_ = dc.c.SetReadDeadline(time.Now().Add(10 * time.Second))
	msg, err := dc.readParse()
	if err != nil {
		dc.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).Msg("error reading login message")
		return
	}
	if msg.Type != "login" {
		dc.log.Error().Err(errNotLogin).Str("event", LOGIN_MESSAGE_ERROR).Msgf("message type is not login, type: %s", msg.Type)
		return
	}
	req := ingest.RegisterRequest{}
	err = json.Unmarshal(msg.Data, &req)
	if err != nil {
		dc.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).Msg("error parsing login message")
		return
	}
	dev, err := dc.s.ingest.RegisterDevice(context.Background(), &req)
	if err != nil {
		dc.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).Msg("device registration rejected")
		return
	}
	dc.dev = dev
	_ = dc.c.SetReadDeadline(time.Time{})
	dc.log.Info().Str("event", LOGIN_MESSAGE).Str("device_id", dev.ID).Str("owner_id", dev.OwnerID).Msg("")

	ack := loginAck{Type: "login_ok"}
	ack.Data.DeviceID = dev.ID
	err = dc.writeJSON(ack)
	if err != nil {
		dc.log.Error().Err(err).Msg("error sending login acknowledge")
		return
	}

	dc.loop()
}

// loop handles post-login frames. A rejected event is logged and skipped;
// only a read failure ends the connection.
func (dc *deviceClient) loop() {
	for {
		msg, err := dc.readParse()
		if err != nil {
			dc.log.Error().Err(err).Msg("error while reading message")
			return
		}
		switch msg.Type {
		case "location":
			ev := ingest.LocationEvent{}
			err = json.Unmarshal(msg.Data, &ev)
			if err != nil {
				dc.log.Error().Err(err).Msg("error parsing location data")
				continue
			}
			ev.DeviceID = dc.dev.ID
			err = dc.s.ingest.SubmitLocation(context.Background(), &ev)
			if err != nil {
				dc.log.Error().Err(err).Msg("location event rejected")
			}
		case "status":
			ev := ingest.StatusEvent{}
			err = json.Unmarshal(msg.Data, &ev)
			if err != nil {
				dc.log.Error().Err(err).Msg("error parsing status data")
				continue
			}
			ev.DeviceID = dc.dev.ID
			err = dc.s.ingest.SubmitStatus(context.Background(), &ev)
			if err != nil {
				dc.log.Error().Err(err).Msg("status event rejected")
			}
		default:
			dc.log.Warn().Msgf("unknown message type: %s", msg.Type)
		}
	}
}

func (dc *deviceClient) writeJSON(v interface{}) error {
	d, err := json.Marshal(v)
	if err != nil {
		return err
	}
	d = append(d, '\n')
	_, err = dc.c.Write(d)
	if err != nil {
		return fmt.Errorf("writing to device connection: %w", err)
	}
	return nil
}

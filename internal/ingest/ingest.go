package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"github.com/alifzidanr/findmyjowa-render/internal/hub"
	"github.com/alifzidanr/findmyjowa-render/internal/store"
)

const (
	MsgLocationUpdated = "location_updated"
	MsgStatusUpdated   = "status_updated"
)

var ErrUnknownDevice = errors.New("unknown device")

// Broadcaster fans an encoded event out to a named group. Satisfied by
// *hub.Hub; tests substitute a recorder.
type Broadcaster interface {
	Broadcast(group string, data []byte)
}

// LocationEvent is one incoming GPS fix. Latitude and longitude are
// pointers so a missing field and a zero coordinate stay distinguishable
// under validation.
type LocationEvent struct {
	DeviceID  string     `json:"device_id" validate:"required"`
	Latitude  *float64   `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64   `json:"longitude" validate:"required,gte=-180,lte=180"`
	Accuracy  *float32   `json:"accuracy" validate:"omitempty,gte=0"`
	SpeedKph  *float32   `json:"speed_kph" validate:"omitempty,gte=0"`
	Heading   *float32   `json:"heading" validate:"omitempty,gte=0,lte=360"`
	Altitude  *float32   `json:"altitude"`
	Timestamp *time.Time `json:"timestamp"`
}

type StatusEvent struct {
	DeviceID string `json:"device_id" validate:"required"`
	Online   *bool  `json:"is_online" validate:"required"`
	Battery  *int   `json:"battery_level" validate:"omitempty,gte=0,lte=100"`
}

type RegisterRequest struct {
	OwnerID      string `json:"owner_id" validate:"required"`
	InstallToken string `json:"install_token" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Class        string `json:"class" validate:"omitempty,oneof=mobile fixed"`
}

type envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type locationPayload struct {
	DeviceID   string    `json:"device_id"`
	OwnerID    string    `json:"owner_id"`
	Name       string    `json:"name"`
	Class      string    `json:"class"`
	OwnerName  string    `json:"owner_name"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   *float32  `json:"accuracy,omitempty"`
	SpeedKph   *float32  `json:"speed_kph,omitempty"`
	Heading    *float32  `json:"heading,omitempty"`
	Altitude   *float32  `json:"altitude,omitempty"`
	GpsTime    time.Time `json:"gps_time"`
	ServerTime time.Time `json:"server_time"`
}

type statusPayload struct {
	DeviceID string    `json:"device_id"`
	OwnerID  string    `json:"owner_id"`
	Name     string    `json:"name"`
	Online   bool      `json:"is_online"`
	Battery  *int      `json:"battery_level,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Ingest validates incoming device events, persists them, and only then
// fans the enriched event out. Nothing is ever broadcast that the store
// did not accept.
type Ingest struct {
	store    store.Store
	bus      Broadcaster
	validate *validator.Validate
	log      log.Logger
}

func New(st store.Store, bus Broadcaster) *Ingest {
	in := &Ingest{store: st, bus: bus}
	in.validate = validator.New()
	in.log = log.DefaultLogger
	in.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	return in
}

func (in *Ingest) SubmitLocation(ctx context.Context, ev *LocationEvent) error {
	err := in.validate.Struct(ev)
	if err != nil {
		return err
	}
	meta, err := in.store.GetDeviceWithOwner(ctx, ev.DeviceID)
	if err != nil {
		return err
	}
	if meta == nil {
		return ErrUnknownDevice
	}

	srvt := time.Now().UTC()
	gpst := srvt
	if ev.Timestamp != nil {
		gpst = ev.Timestamp.UTC()
	}
	sample := &store.LocationSample{
		DeviceID:   ev.DeviceID,
		Latitude:   *ev.Latitude,
		Longitude:  *ev.Longitude,
		Accuracy:   ev.Accuracy,
		SpeedKph:   ev.SpeedKph,
		Heading:    ev.Heading,
		Altitude:   ev.Altitude,
		GpsTime:    gpst,
		ServerTime: srvt,
	}
	err = in.store.InsertLocationSample(ctx, sample)
	if err != nil {
		return fmt.Errorf("persisting location sample: %w", err)
	}
	online := true
	err = in.store.UpdateDevice(ctx, ev.DeviceID, store.DeviceUpdate{Online: &online, LastSeen: &gpst})
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}

	data := marshal(MsgLocationUpdated, locationPayload{
		DeviceID:   meta.ID,
		OwnerID:    meta.OwnerID,
		Name:       meta.Name,
		Class:      meta.Class,
		OwnerName:  meta.OwnerName,
		Latitude:   *ev.Latitude,
		Longitude:  *ev.Longitude,
		Accuracy:   ev.Accuracy,
		SpeedKph:   ev.SpeedKph,
		Heading:    ev.Heading,
		Altitude:   ev.Altitude,
		GpsTime:    gpst,
		ServerTime: srvt,
	})
	in.log.Debug().Str("device_id", meta.ID).Float64("lat", *ev.Latitude).Float64("lon", *ev.Longitude).Msg("location accepted")
	in.bus.Broadcast(hub.GlobalGroup, data)
	in.bus.Broadcast(hub.UserGroup(meta.OwnerID), data)
	return nil
}

func (in *Ingest) SubmitStatus(ctx context.Context, ev *StatusEvent) error {
	err := in.validate.Struct(ev)
	if err != nil {
		return err
	}
	meta, err := in.store.GetDeviceWithOwner(ctx, ev.DeviceID)
	if err != nil {
		return err
	}
	if meta == nil {
		return ErrUnknownDevice
	}

	now := time.Now().UTC()
	err = in.store.UpdateDevice(ctx, ev.DeviceID, store.DeviceUpdate{Online: ev.Online, Battery: ev.Battery, LastSeen: &now})
	if err != nil {
		return fmt.Errorf("updating device state: %w", err)
	}

	data := marshal(MsgStatusUpdated, statusPayload{
		DeviceID: meta.ID,
		OwnerID:  meta.OwnerID,
		Name:     meta.Name,
		Online:   *ev.Online,
		Battery:  ev.Battery,
		LastSeen: now,
	})
	in.log.Debug().Str("device_id", meta.ID).Bool("is_online", *ev.Online).Msg("status accepted")
	in.bus.Broadcast(hub.GlobalGroup, data)
	return nil
}

// RegisterDevice resolves (owner, install token) to a device, creating one
// on first contact. Re-running the client setup flow returns the existing
// device; a device is never duplicated for the same install.
func (in *Ingest) RegisterDevice(ctx context.Context, req *RegisterRequest) (*store.Device, error) {
	err := in.validate.Struct(req)
	if err != nil {
		return nil, err
	}
	dev, err := in.store.FindDevice(ctx, req.OwnerID, req.InstallToken)
	if err != nil {
		return nil, err
	}
	if dev != nil {
		return dev, nil
	}
	class := req.Class
	if class == "" {
		class = "mobile"
	}
	dev, err = in.store.UpsertDevice(ctx, req.OwnerID, req.InstallToken, store.DeviceFields{Name: req.Name, Class: class})
	if err != nil {
		return nil, err
	}
	in.log.Info().Str("event", "new_device_created").Str("device_id", dev.ID).Str("owner_id", dev.OwnerID).Msg("")
	return dev, nil
}

func marshal(typ string, data interface{}) []byte {
	b, _ := json.Marshal(envelope{Type: typ, Data: data})
	return b
}

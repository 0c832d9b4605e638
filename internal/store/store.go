package store

import (
	"context"
	"time"
)

// Device is one tracked unit, identified by its owner plus the install
// token the client generated during setup. The token alone is not unique
// across owners; the pair is the identity key.
type Device struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	InstallToken string     `json:"install_token"`
	Name         string     `json:"name"`
	Class        string     `json:"class"`
	Online       bool       `json:"online"`
	LastSeen     *time.Time `json:"last_seen"`
	Battery      *int       `json:"battery"`
}

type DeviceWithOwner struct {
	Device
	OwnerName string `json:"owner_name"`
}

// LocationSample is one immutable GPS fix. Speed is km/h end to end.
type LocationSample struct {
	DeviceID   string
	Latitude   float64
	Longitude  float64
	Accuracy   *float32
	SpeedKph   *float32
	Heading    *float32
	Altitude   *float32
	GpsTime    time.Time
	ServerTime time.Time
}

type DeviceFields struct {
	Name  string
	Class string
}

// DeviceUpdate carries a partial device mutation; nil fields are untouched.
type DeviceUpdate struct {
	Online   *bool
	Battery  *int
	LastSeen *time.Time
}

// Store is the storage collaborator. Lookups return (nil, nil) on a miss so
// a missing row and a failing store stay distinguishable at the call site.
type Store interface {
	InsertLocationSample(ctx context.Context, s *LocationSample) error
	UpsertDevice(ctx context.Context, ownerID, installToken string, f DeviceFields) (*Device, error)
	UpdateDevice(ctx context.Context, deviceID string, f DeviceUpdate) error
	FindDevice(ctx context.Context, ownerID, installToken string) (*Device, error)
	QueryStaleOnlineDevices(ctx context.Context, threshold time.Time) ([]Device, error)
	GetDeviceWithOwner(ctx context.Context, deviceID string) (*DeviceWithOwner, error)
}

// Package logstore is a store.Store for local runs without Postgres:
// devices live in memory and every location sample is logged instead of
// persisted.
package logstore

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/alifzidanr/findmyjowa-render/internal/store"
	"github.com/alifzidanr/findmyjowa-render/internal/util"
)

type LogStore struct {
	mu      sync.Mutex
	devices map[string]*store.Device // keyed by device id
	logger  zerolog.Logger
}

func NewStore() *LogStore {
	l := &LogStore{}
	l.devices = make(map[string]*store.Device)
	l.logger = log.With().Str("module", "logstore").Logger()
	return l
}

func (l *LogStore) InsertLocationSample(ctx context.Context, s *store.LocationSample) error {
	ev := l.logger.Info().
		Str("device_id", s.DeviceID).
		Float64("lat", s.Latitude).
		Float64("lon", s.Longitude).
		Time("gps_time", s.GpsTime).
		Time("server_time", s.ServerTime)
	if s.SpeedKph != nil {
		ev = ev.Float32("speed_kph", *s.SpeedKph)
	}
	if s.Altitude != nil {
		ev = ev.Float32("alt", *s.Altitude)
	}
	ev.Msg("location sample")
	return nil
}

func (l *LogStore) UpsertDevice(ctx context.Context, ownerID, installToken string, f store.DeviceFields) (*store.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, dev := range l.devices {
		if dev.OwnerID == ownerID && dev.InstallToken == installToken {
			dev.Name = f.Name
			dev.Class = f.Class
			cp := *dev
			return &cp, nil
		}
	}
	dev := &store.Device{
		ID:           util.GenUUID(),
		OwnerID:      ownerID,
		InstallToken: installToken,
		Name:         f.Name,
		Class:        f.Class,
	}
	l.devices[dev.ID] = dev
	l.logger.Info().Str("device_id", dev.ID).Str("owner_id", ownerID).Msg("device registered")
	cp := *dev
	return &cp, nil
}

func (l *LogStore) UpdateDevice(ctx context.Context, deviceID string, f store.DeviceUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	dev, ok := l.devices[deviceID]
	if !ok {
		return nil
	}
	if f.Online != nil {
		dev.Online = *f.Online
	}
	if f.Battery != nil {
		dev.Battery = f.Battery
	}
	if f.LastSeen != nil {
		dev.LastSeen = f.LastSeen
	}
	return nil
}

func (l *LogStore) FindDevice(ctx context.Context, ownerID, installToken string) (*store.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, dev := range l.devices {
		if dev.OwnerID == ownerID && dev.InstallToken == installToken {
			cp := *dev
			return &cp, nil
		}
	}
	return nil, nil
}

func (l *LogStore) QueryStaleOnlineDevices(ctx context.Context, threshold time.Time) ([]store.Device, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	devs := make([]store.Device, 0)
	for _, dev := range l.devices {
		if dev.Online && dev.LastSeen != nil && dev.LastSeen.Before(threshold) {
			devs = append(devs, *dev)
		}
	}
	return devs, nil
}

func (l *LogStore) GetDeviceWithOwner(ctx context.Context, deviceID string) (*store.DeviceWithOwner, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	dev, ok := l.devices[deviceID]
	if !ok {
		return nil, nil
	}
	// no user table locally; the owner id stands in for the display name
	return &store.DeviceWithOwner{Device: *dev, OwnerName: dev.OwnerID}, nil
}

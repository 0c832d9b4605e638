package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"github.com/alifzidanr/findmyjowa-render/internal/geo"
	"github.com/alifzidanr/findmyjowa-render/internal/ingest"
	"github.com/alifzidanr/findmyjowa-render/internal/presence"
	"github.com/alifzidanr/findmyjowa-render/internal/store"
)

type DeviceModel struct {
	Id       string         `json:"id"`
	Name     string         `json:"name"`
	Class    string         `json:"class"`
	Online   bool           `json:"online"`
	LastSeen *time.Time     `json:"last_seen"`
	Battery  *int           `json:"battery"`
	Presence presence.Class `json:"presence"`
}

type Device struct {
	db  *pgxpool.Pool
	reg *ServiceRegistry
}

type RegisterDeviceResponse struct {
	BasicResponse
	Device *store.Device `json:"device"`
}

func (d *Device) RegisterDevice(ctx context.Context, req *ingest.RegisterRequest, res *RegisterDeviceResponse) {
	dev, err := d.reg.ingest.RegisterDevice(ctx, req)
	if err != nil {
		d.reg.log.Error().Err(err).Msg("device registration failed")
		res.Status = -1
		return
	}
	res.Status = 0
	res.Device = dev
}

type GetDevicesRequest struct {
	OwnerID string `json:"owner_id" validate:"required"`
}

func (d *Device) GetDevices(ctx context.Context, req *GetDevicesRequest, res *[]*DeviceModel) {
	sqlStmt := `SELECT id,name,class,online,last_seen,battery FROM device WHERE owner_id = $1`
	rows, err := d.db.Query(ctx, sqlStmt, req.OwnerID)
	if err != nil {
		panic(err)
	}
	defer rows.Close()
	now := time.Now().UTC()
	devices := make([]*DeviceModel, 0)
	for rows.Next() {
		dev := &DeviceModel{}
		err := rows.Scan(&dev.Id, &dev.Name, &dev.Class, &dev.Online, &dev.LastSeen, &dev.Battery)
		if err != nil {
			panic(err)
		}
		dev.Presence = d.reg.presence.Classify(dev.Online, dev.LastSeen, now)
		devices = append(devices, dev)
	}
	*res = devices
}

type PairViewRequest struct {
	DeviceA string `json:"device_a" validate:"required"`
	DeviceB string `json:"device_b" validate:"required"`
}

type PairViewResponse struct {
	BasicResponse
	DistanceMeters float64       `json:"distance_meters"`
	Viewport       *geo.Viewport `json:"viewport"`
}

// GetPairView frames two devices together: the distance between their last
// known fixes plus the viewport-fit parameters a map client needs to show
// both at once.
func (d *Device) GetPairView(ctx context.Context, req *PairViewRequest, res *PairViewResponse) {
	a, ok := d.lastFix(ctx, req.DeviceA)
	if !ok {
		res.Status = -1
		return
	}
	b, ok := d.lastFix(ctx, req.DeviceB)
	if !ok {
		res.Status = -1
		return
	}
	res.DistanceMeters = geo.Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
	v, _ := geo.ViewportFor([]geo.Point{a, b})
	res.Viewport = &v
	res.Status = 0
}

func (d *Device) lastFix(ctx context.Context, deviceID string) (geo.Point, bool) {
	sqlStmt := `SELECT latitude,longitude FROM location WHERE device_id = $1 ORDER BY server_time DESC LIMIT 1`
	p := geo.Point{}
	err := d.db.QueryRow(ctx, sqlStmt, deviceID).Scan(&p.Latitude, &p.Longitude)
	if err != nil {
		if err == pgx.ErrNoRows {
			return p, false
		}
		panic(err)
	}
	return p, true
}

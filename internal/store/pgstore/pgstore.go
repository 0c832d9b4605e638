package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"

	"github.com/alifzidanr/findmyjowa-render/internal/store"
	"github.com/alifzidanr/findmyjowa-render/internal/util"
)

// Store implements store.Store on Postgres. Conflicting writes to the same
// device row are serialized by the database; no retry logic lives here.
type Store struct {
	db  *pgxpool.Pool
	log log.Logger
}

func NewStore(db *pgxpool.Pool) *Store {
	st := &Store{}
	st.db = db
	st.log = log.DefaultLogger
	st.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return st
}

const deviceColumns = `id, owner_id, install_token, name, class, online, last_seen, battery`

func (st *Store) InsertLocationSample(ctx context.Context, s *store.LocationSample) error {
	insertSql := `INSERT INTO location (device_id, latitude, longitude, accuracy, speed_kph, heading, altitude, gps_time, server_time)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`
	_, err := st.db.Exec(ctx, insertSql,
		s.DeviceID, s.Latitude, s.Longitude, s.Accuracy, s.SpeedKph, s.Heading, s.Altitude, s.GpsTime, s.ServerTime)
	if err != nil {
		st.log.Error().Err(err).Str("device_id", s.DeviceID).Msg("error inserting location sample")
	}
	return err
}

func (st *Store) UpsertDevice(ctx context.Context, ownerID, installToken string, f store.DeviceFields) (*store.Device, error) {
	upsertSql := `INSERT INTO device (id, owner_id, install_token, name, class, online, created_at)
	VALUES ($1,$2,$3,$4,$5,false,now())
	ON CONFLICT (owner_id, install_token)
	DO UPDATE SET name = EXCLUDED.name, class = EXCLUDED.class, updated_at = now()
	RETURNING ` + deviceColumns
	row := st.db.QueryRow(ctx, upsertSql, util.GenUUID(), ownerID, installToken, f.Name, f.Class)
	dev, err := scanDevice(row)
	if err != nil {
		st.log.Error().Err(err).Str("owner_id", ownerID).Msg("error upserting device")
		return nil, err
	}
	return dev, nil
}

func (st *Store) UpdateDevice(ctx context.Context, deviceID string, f store.DeviceUpdate) error {
	updateSql := `UPDATE device SET
	online = COALESCE($2, online),
	battery = COALESCE($3, battery),
	last_seen = COALESCE($4, last_seen),
	updated_at = now()
	WHERE id = $1`
	_, err := st.db.Exec(ctx, updateSql, deviceID, f.Online, f.Battery, f.LastSeen)
	if err != nil {
		st.log.Error().Err(err).Str("device_id", deviceID).Msg("error updating device")
	}
	return err
}

func (st *Store) FindDevice(ctx context.Context, ownerID, installToken string) (*store.Device, error) {
	selectSql := `SELECT ` + deviceColumns + ` FROM device WHERE owner_id = $1 AND install_token = $2`
	row := st.db.QueryRow(ctx, selectSql, ownerID, installToken)
	dev, err := scanDevice(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		st.log.Error().Err(err).Str("owner_id", ownerID).Msg("error querying device by install token")
		return nil, err
	}
	return dev, nil
}

func (st *Store) QueryStaleOnlineDevices(ctx context.Context, threshold time.Time) ([]store.Device, error) {
	selectSql := `SELECT ` + deviceColumns + ` FROM device WHERE online = true AND last_seen < $1`
	rows, err := st.db.Query(ctx, selectSql, threshold)
	if err != nil {
		st.log.Error().Err(err).Msg("error querying stale online devices")
		return nil, err
	}
	defer rows.Close()
	devs := make([]store.Device, 0)
	for rows.Next() {
		dev := store.Device{}
		err := rows.Scan(&dev.ID, &dev.OwnerID, &dev.InstallToken, &dev.Name, &dev.Class, &dev.Online, &dev.LastSeen, &dev.Battery)
		if err != nil {
			return nil, err
		}
		devs = append(devs, dev)
	}
	return devs, rows.Err()
}

func (st *Store) GetDeviceWithOwner(ctx context.Context, deviceID string) (*store.DeviceWithOwner, error) {
	selectSql := `SELECT device.id, device.owner_id, device.install_token, device.name, device.class,
	device.online, device.last_seen, device.battery, "user".display_name
	FROM device INNER JOIN "user" ON "user".id = device.owner_id
	WHERE device.id = $1`
	dev := store.DeviceWithOwner{}
	row := st.db.QueryRow(ctx, selectSql, deviceID)
	err := row.Scan(&dev.ID, &dev.OwnerID, &dev.InstallToken, &dev.Name, &dev.Class, &dev.Online, &dev.LastSeen, &dev.Battery, &dev.OwnerName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		st.log.Error().Err(err).Str("device_id", deviceID).Msg("error querying device with owner")
		return nil, err
	}
	return &dev, nil
}

func scanDevice(row pgx.Row) (*store.Device, error) {
	dev := store.Device{}
	err := row.Scan(&dev.ID, &dev.OwnerID, &dev.InstallToken, &dev.Name, &dev.Class, &dev.Online, &dev.LastSeen, &dev.Battery)
	if err != nil {
		return nil, err
	}
	return &dev, nil
}

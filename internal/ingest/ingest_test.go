package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alifzidanr/findmyjowa-render/internal/hub"
	"github.com/alifzidanr/findmyjowa-render/internal/store"
)

type mockStore struct {
	devices  map[string]*store.DeviceWithOwner // by device id
	byToken  map[string]*store.Device          // by owner|token
	inserted []*store.LocationSample
	updated  []store.DeviceUpdate
	upserts  int
	failPut  bool
	failUpd  bool
}

func newMockStore() *mockStore {
	return &mockStore{
		devices: make(map[string]*store.DeviceWithOwner),
		byToken: make(map[string]*store.Device),
	}
}

func (m *mockStore) addDevice(id, ownerID, token, name string) {
	dev := store.Device{ID: id, OwnerID: ownerID, InstallToken: token, Name: name, Class: "mobile"}
	m.devices[id] = &store.DeviceWithOwner{Device: dev, OwnerName: "owner-" + ownerID}
	m.byToken[ownerID+"|"+token] = &dev
}

func (m *mockStore) InsertLocationSample(ctx context.Context, s *store.LocationSample) error {
	if m.failPut {
		return errors.New("store down")
	}
	m.inserted = append(m.inserted, s)
	return nil
}

func (m *mockStore) UpsertDevice(ctx context.Context, ownerID, token string, f store.DeviceFields) (*store.Device, error) {
	m.upserts++
	key := ownerID + "|" + token
	if dev, ok := m.byToken[key]; ok {
		return dev, nil
	}
	dev := &store.Device{ID: "dev-" + ownerID + "-" + token, OwnerID: ownerID, InstallToken: token, Name: f.Name, Class: f.Class}
	m.byToken[key] = dev
	m.devices[dev.ID] = &store.DeviceWithOwner{Device: *dev}
	return dev, nil
}

func (m *mockStore) UpdateDevice(ctx context.Context, deviceID string, f store.DeviceUpdate) error {
	if m.failUpd {
		return errors.New("store down")
	}
	m.updated = append(m.updated, f)
	return nil
}

func (m *mockStore) FindDevice(ctx context.Context, ownerID, token string) (*store.Device, error) {
	dev, ok := m.byToken[ownerID+"|"+token]
	if !ok {
		return nil, nil
	}
	return dev, nil
}

func (m *mockStore) QueryStaleOnlineDevices(ctx context.Context, threshold time.Time) ([]store.Device, error) {
	return nil, nil
}

func (m *mockStore) GetDeviceWithOwner(ctx context.Context, deviceID string) (*store.DeviceWithOwner, error) {
	dev, ok := m.devices[deviceID]
	if !ok {
		return nil, nil
	}
	return dev, nil
}

type sent struct {
	group string
	data  []byte
}

type recorder struct {
	msgs []sent
}

func (r *recorder) Broadcast(group string, data []byte) {
	r.msgs = append(r.msgs, sent{group, data})
}

func f64(v float64) *float64 { return &v }

func TestSubmitLocationBroadcastsBothGroups(t *testing.T) {
	st := newMockStore()
	st.addDevice("d1", "u1", "tok", "phone")
	bus := &recorder{}
	in := New(st, bus)

	err := in.SubmitLocation(context.Background(), &LocationEvent{
		DeviceID: "d1", Latitude: f64(-6.2), Longitude: f64(106.8),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(st.inserted) != 1 {
		t.Fatalf("inserted %d samples, want 1", len(st.inserted))
	}
	if len(st.updated) != 1 || st.updated[0].Online == nil || !*st.updated[0].Online {
		t.Error("device not promoted to online")
	}
	if len(bus.msgs) != 2 {
		t.Fatalf("broadcast to %d groups, want 2", len(bus.msgs))
	}
	if bus.msgs[0].group != hub.GlobalGroup || bus.msgs[1].group != hub.UserGroup("u1") {
		t.Errorf("broadcast groups = %s,%s", bus.msgs[0].group, bus.msgs[1].group)
	}

	var env struct {
		Type string          `json:"type"`
		Data locationPayload `json:"data"`
	}
	if err := json.Unmarshal(bus.msgs[0].data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Type != MsgLocationUpdated {
		t.Errorf("type = %s", env.Type)
	}
	if env.Data.OwnerName != "owner-u1" || env.Data.Name != "phone" {
		t.Error("payload missing device metadata")
	}
}

func TestSubmitLocationStorageFailureNoBroadcast(t *testing.T) {
	st := newMockStore()
	st.addDevice("d1", "u1", "tok", "phone")
	st.failPut = true
	bus := &recorder{}
	in := New(st, bus)

	err := in.SubmitLocation(context.Background(), &LocationEvent{
		DeviceID: "d1", Latitude: f64(1), Longitude: f64(2),
	})
	if err == nil {
		t.Fatal("expected storage error")
	}
	if len(bus.msgs) != 0 {
		t.Error("broadcast state that was not persisted")
	}
}

func TestSubmitLocationUpdateFailureNoBroadcast(t *testing.T) {
	st := newMockStore()
	st.addDevice("d1", "u1", "tok", "phone")
	st.failUpd = true
	bus := &recorder{}
	in := New(st, bus)

	err := in.SubmitLocation(context.Background(), &LocationEvent{
		DeviceID: "d1", Latitude: f64(1), Longitude: f64(2),
	})
	if err == nil {
		t.Fatal("expected storage error")
	}
	if len(bus.msgs) != 0 {
		t.Error("broadcast state that was not persisted")
	}
}

func TestSubmitLocationValidation(t *testing.T) {
	st := newMockStore()
	st.addDevice("d1", "u1", "tok", "phone")
	bus := &recorder{}
	in := New(st, bus)

	cases := []*LocationEvent{
		{DeviceID: "d1", Longitude: f64(106.8)},              // missing latitude
		{DeviceID: "d1", Latitude: f64(-6.2)},                // missing longitude
		{Latitude: f64(-6.2), Longitude: f64(106.8)},         // missing device
		{DeviceID: "d1", Latitude: f64(95), Longitude: f64(0)},  // latitude out of range
		{DeviceID: "d1", Latitude: f64(0), Longitude: f64(181)}, // longitude out of range
	}
	for i, ev := range cases {
		if err := in.SubmitLocation(context.Background(), ev); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if len(st.inserted) != 0 || len(bus.msgs) != 0 {
		t.Error("rejected event produced state change or broadcast")
	}
}

func TestSubmitLocationUnknownDevice(t *testing.T) {
	in := New(newMockStore(), &recorder{})
	err := in.SubmitLocation(context.Background(), &LocationEvent{
		DeviceID: "ghost", Latitude: f64(1), Longitude: f64(2),
	})
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("err = %v, want ErrUnknownDevice", err)
	}
}

func TestSubmitLocationZeroCoordinatesValid(t *testing.T) {
	st := newMockStore()
	st.addDevice("d1", "u1", "tok", "phone")
	in := New(st, &recorder{})
	err := in.SubmitLocation(context.Background(), &LocationEvent{
		DeviceID: "d1", Latitude: f64(0), Longitude: f64(0),
	})
	if err != nil {
		t.Errorf("0,0 rejected: %v", err)
	}
}

func TestSubmitStatusGlobalOnly(t *testing.T) {
	st := newMockStore()
	st.addDevice("d1", "u1", "tok", "phone")
	bus := &recorder{}
	in := New(st, bus)

	online := false
	batt := 40
	err := in.SubmitStatus(context.Background(), &StatusEvent{DeviceID: "d1", Online: &online, Battery: &batt})
	if err != nil {
		t.Fatal(err)
	}
	if len(st.updated) != 1 {
		t.Fatalf("updated %d times, want 1", len(st.updated))
	}
	u := st.updated[0]
	if u.Online == nil || *u.Online || u.Battery == nil || *u.Battery != 40 || u.LastSeen == nil {
		t.Error("status update fields not applied")
	}
	if len(bus.msgs) != 1 || bus.msgs[0].group != hub.GlobalGroup {
		t.Error("status must broadcast to global only")
	}
}

func TestRegisterDeviceIdempotent(t *testing.T) {
	st := newMockStore()
	in := New(st, &recorder{})
	req := &RegisterRequest{OwnerID: "u1", InstallToken: "tok", Name: "phone"}

	d1, err := in.RegisterDevice(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	d2, err := in.RegisterDevice(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if d1.ID != d2.ID {
		t.Errorf("re-registration created a new device: %s != %s", d1.ID, d2.ID)
	}
	if st.upserts != 1 {
		t.Errorf("upserts = %d, want 1", st.upserts)
	}
}

func TestRegisterDeviceTokenScopedToOwner(t *testing.T) {
	st := newMockStore()
	in := New(st, &recorder{})
	d1, _ := in.RegisterDevice(context.Background(), &RegisterRequest{OwnerID: "u1", InstallToken: "tok", Name: "a"})
	d2, _ := in.RegisterDevice(context.Background(), &RegisterRequest{OwnerID: "u2", InstallToken: "tok", Name: "b"})
	if d1.ID == d2.ID {
		t.Error("same install token for two owners must be two devices")
	}
}

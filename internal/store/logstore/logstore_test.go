package logstore

import (
	"context"
	"testing"
	"time"

	"github.com/alifzidanr/findmyjowa-render/internal/store"
)

var _ store.Store = (*LogStore)(nil)

func TestUpsertIdempotentPerOwnerToken(t *testing.T) {
	l := NewStore()
	ctx := context.Background()

	d1, err := l.UpsertDevice(ctx, "owner-1", "tok-a", store.DeviceFields{Name: "phone", Class: "mobile"})
	if err != nil {
		t.Fatal(err)
	}
	d2, err := l.UpsertDevice(ctx, "owner-1", "tok-a", store.DeviceFields{Name: "renamed", Class: "mobile"})
	if err != nil {
		t.Fatal(err)
	}
	if d1.ID != d2.ID {
		t.Errorf("same owner/token produced two devices: %s, %s", d1.ID, d2.ID)
	}
	if d2.Name != "renamed" {
		t.Errorf("upsert did not apply new name, got %q", d2.Name)
	}

	d3, err := l.UpsertDevice(ctx, "owner-2", "tok-a", store.DeviceFields{Name: "other", Class: "fixed"})
	if err != nil {
		t.Fatal(err)
	}
	if d3.ID == d1.ID {
		t.Error("token reuse across owners must create a distinct device")
	}
}

func TestFindDeviceMiss(t *testing.T) {
	l := NewStore()
	dev, err := l.FindDevice(context.Background(), "owner-1", "nope")
	if err != nil {
		t.Fatal(err)
	}
	if dev != nil {
		t.Errorf("expected nil device on miss, got %+v", dev)
	}
}

func TestUpdateAndStaleQuery(t *testing.T) {
	l := NewStore()
	ctx := context.Background()
	now := time.Now()

	fresh, _ := l.UpsertDevice(ctx, "owner-1", "tok-a", store.DeviceFields{Name: "a", Class: "mobile"})
	stale, _ := l.UpsertDevice(ctx, "owner-1", "tok-b", store.DeviceFields{Name: "b", Class: "mobile"})

	on := true
	freshSeen := now.Add(-time.Minute)
	staleSeen := now.Add(-time.Hour)
	if err := l.UpdateDevice(ctx, fresh.ID, store.DeviceUpdate{Online: &on, LastSeen: &freshSeen}); err != nil {
		t.Fatal(err)
	}
	if err := l.UpdateDevice(ctx, stale.ID, store.DeviceUpdate{Online: &on, LastSeen: &staleSeen}); err != nil {
		t.Fatal(err)
	}

	devs, err := l.QueryStaleOnlineDevices(ctx, now.Add(-30*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 || devs[0].ID != stale.ID {
		t.Fatalf("expected only the stale device, got %+v", devs)
	}
}

func TestGetDeviceWithOwner(t *testing.T) {
	l := NewStore()
	ctx := context.Background()

	dev, _ := l.UpsertDevice(ctx, "owner-1", "tok-a", store.DeviceFields{Name: "a", Class: "mobile"})
	got, err := l.GetDeviceWithOwner(ctx, dev.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != dev.ID || got.OwnerName != "owner-1" {
		t.Fatalf("unexpected lookup result: %+v", got)
	}

	miss, err := l.GetDeviceWithOwner(ctx, "no-such-id")
	if err != nil {
		t.Fatal(err)
	}
	if miss != nil {
		t.Errorf("expected nil on unknown id, got %+v", miss)
	}
}

func TestInsertLocationSample(t *testing.T) {
	l := NewStore()
	kph := float32(42)
	s := &store.LocationSample{
		DeviceID:   "dev-1",
		Latitude:   -6.2,
		Longitude:  106.8,
		SpeedKph:   &kph,
		GpsTime:    time.Now(),
		ServerTime: time.Now(),
	}
	if err := l.InsertLocationSample(context.Background(), s); err != nil {
		t.Fatal(err)
	}
}

package feed

import (
	"testing"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitlk/internal/registry"
)

func TestBuild(t *testing.T) {
	now := time.Unix(1714550400, 0)
	buses := map[string]registry.LocationRecord{
		"177": {Lat: 6.9, Lng: 79.85, Driver: "Kamal", Timestamp: 1714550390123, Speed: 8.5},
		"138": {Lat: 6.93, Lng: 79.86, Driver: "Unknown Driver", Timestamp: 1714550399000},
	}
	msg := Build(buses, now)

	if msg.GetHeader().GetGtfsRealtimeVersion() != "2.0" {
		t.Errorf("unexpected version %q", msg.GetHeader().GetGtfsRealtimeVersion())
	}
	if msg.GetHeader().GetIncrementality() != gtfs.FeedHeader_FULL_DATASET {
		t.Errorf("expected full dataset")
	}
	if msg.GetHeader().GetTimestamp() != 1714550400 {
		t.Errorf("unexpected header timestamp %d", msg.GetHeader().GetTimestamp())
	}
	if len(msg.GetEntity()) != 2 {
		t.Fatalf("expected 2 entities, got %d", len(msg.GetEntity()))
	}
	if msg.GetEntity()[0].GetId() != "138" || msg.GetEntity()[1].GetId() != "177" {
		t.Errorf("entities should be sorted by route")
	}
	vp := msg.GetEntity()[1].GetVehicle()
	if vp.GetTrip().GetRouteId() != "177" || vp.GetVehicle().GetLabel() != "Kamal" {
		t.Errorf("unexpected descriptors: %v", vp)
	}
	if vp.GetTimestamp() != 1714550390 {
		t.Errorf("timestamp should be in seconds, got %d", vp.GetTimestamp())
	}
	if vp.GetPosition().GetSpeed() != 8.5 {
		t.Errorf("unexpected speed %v", vp.GetPosition().GetSpeed())
	}
}

func TestMarshal(t *testing.T) {
	now := time.Unix(1714550400, 0)
	b, err := Marshal(map[string]registry.LocationRecord{
		"138": {Lat: 6.93, Lng: 79.86, Timestamp: 1714550399000},
	}, now)
	if err != nil {
		t.Fatal(err)
	}
	var msg gtfs.FeedMessage
	if err := proto.Unmarshal(b, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(msg.GetEntity()) != 1 || msg.GetEntity()[0].GetId() != "138" {
		t.Errorf("unexpected entities %v", msg.GetEntity())
	}
	if msg.GetHeader().GetTimestamp() != 1714550400 {
		t.Errorf("unexpected header timestamp %d", msg.GetHeader().GetTimestamp())
	}
}

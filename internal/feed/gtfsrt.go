// Package feed exports the active buses as a GTFS-Realtime VehiclePositions feed.
package feed

import (
	"sort"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"

	"transitlk/internal/registry"
)

const ContentType = "application/x-protobuf"

// Build converts a registry snapshot into a full-dataset feed message.
// Entities are ordered by route so consecutive feeds diff cleanly.
func Build(buses map[string]registry.LocationRecord, now time.Time) *gtfs.FeedMessage {
	routes := make([]string, 0, len(buses))
	for r := range buses {
		routes = append(routes, r)
	}
	sort.Strings(routes)

	msg := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(now.Unix())),
		},
		Entity: make([]*gtfs.FeedEntity, 0, len(routes)),
	}
	for _, route := range routes {
		rec := buses[route]
		msg.Entity = append(msg.Entity, &gtfs.FeedEntity{
			Id: proto.String(route),
			Vehicle: &gtfs.VehiclePosition{
				Trip: &gtfs.TripDescriptor{RouteId: proto.String(route)},
				Vehicle: &gtfs.VehicleDescriptor{
					Id:    proto.String(route),
					Label: proto.String(rec.Driver),
				},
				Position: &gtfs.Position{
					Latitude:  proto.Float32(float32(rec.Lat)),
					Longitude: proto.Float32(float32(rec.Lng)),
					Speed:     proto.Float32(float32(rec.Speed)),
				},
				Timestamp: proto.Uint64(uint64(rec.Timestamp / 1000)),
			},
		})
	}
	return msg
}

// Marshal encodes the feed for buses in protobuf wire format.
func Marshal(buses map[string]registry.LocationRecord, now time.Time) ([]byte, error) {
	return proto.Marshal(Build(buses, now))
}

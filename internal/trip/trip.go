// Package trip holds recorded driver trips: the per-fix frames, the trip
// history store and the CSV log format.
package trip

import (
	"math"
	"time"
)

// DateLayout formats a trip's start time for display.
const DateLayout = "Jan 02, 2006 15:04"

// Frame is one logged sample: the fix plus the sensor readings at that moment.
type Frame struct {
	Timestamp  time.Time `json:"ts"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Altitude   float64   `json:"alt"`
	Speed      float64   `json:"spd"` // filtered, m/s
	Accuracy   float64   `json:"acc"`
	Satellites int       `json:"sats"`
	AX         float64   `json:"ax"`
	AY         float64   `json:"ay"`
	AZ         float64   `json:"az"`
	GX         float64   `json:"gx"`
	GY         float64   `json:"gy"`
	GZ         float64   `json:"gz"`
}

type Trip struct {
	ID       int64   `json:"id"` // start time, epoch ms
	Date     string  `json:"date"`
	StartLat float64 `json:"startLat"`
	StartLng float64 `json:"startLng"`
	MaxSpeed float64 `json:"maxSpeed"`
	Frames   []Frame `json:"frames"`
}

// New builds a trip started at start from the recorded frames.
func New(start time.Time, frames []Frame, maxSpeed float64) Trip {
	t := Trip{
		ID:       start.UnixMilli(),
		Date:     start.Format(DateLayout),
		MaxSpeed: maxSpeed,
		Frames:   append([]Frame(nil), frames...),
	}
	if len(frames) > 0 {
		t.StartLat, t.StartLng = frames[0].Lat, frames[0].Lng
	}
	return t
}

// Summary is the listing view of a trip.
type Summary struct {
	ID         int64   `json:"id"`
	Date       string  `json:"date"`
	FrameCount int     `json:"frameCount"`
	StartLat   float64 `json:"startLat"`
	StartLng   float64 `json:"startLng"`
	MaxSpeed   float64 `json:"maxSpeed"`
	Distance   float64 `json:"distanceMeters"`
}

func (t Trip) Summary() Summary {
	return Summary{
		ID:         t.ID,
		Date:       t.Date,
		FrameCount: len(t.Frames),
		StartLat:   t.StartLat,
		StartLng:   t.StartLng,
		MaxSpeed:   t.MaxSpeed,
		Distance:   Distance(t.Frames),
	}
}

// Distance sums the great-circle legs between consecutive frames, in meters.
func Distance(frames []Frame) float64 {
	sum := 0.0
	for i := 1; i < len(frames); i++ {
		sum += Haversine(frames[i-1].Lat, frames[i-1].Lng, frames[i].Lat, frames[i].Lng)
	}
	return sum
}

// Haversine returns the distance in meters between two coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	toRad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

package models

import (
	"time"
)

// GeoPoint is stored as a GeoJSON point so MongoDB geospatial indexes can be
// added later without a migration. Coordinates are [lng, lat].
type GeoPoint struct {
	Type        string    `json:"type" bson:"type" default:"Point"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates" validate:"required,len=2"`
	Accuracy    float64   `json:"accuracy,omitempty" bson:"accuracy,omitempty"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
}

func NewGeoPoint(lat, lng float64) GeoPoint {
	return GeoPoint{
		Type:        "Point",
		Coordinates: []float64{lng, lat},
		Timestamp:   time.Now(),
	}
}

func (p GeoPoint) Latitude() float64 {
	if len(p.Coordinates) >= 2 {
		return p.Coordinates[1]
	}
	return 0
}

func (p GeoPoint) Longitude() float64 {
	if len(p.Coordinates) >= 1 {
		return p.Coordinates[0]
	}
	return 0
}

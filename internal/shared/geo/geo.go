package geo

import (
	"math"
	"strconv"
)

const earthRadiusKm = 6371.0

// Coordinate is a WGS84 latitude/longitude pair in decimal degrees.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between two coordinates in kilometres.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := toRadians(lat1)
	phi2 := toRadians(lat2)
	dPhi := toRadians(lat2 - lat1)
	dLambda := toRadians(lng2 - lng1)

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// DistanceM returns the great-circle distance between a and b in metres.
func DistanceM(a, b Coordinate) float64 {
	return HaversineKm(a.Lat, a.Lng, b.Lat, b.Lng) * 1000
}

// MapLink returns a shareable map URL pinned at c.
func MapLink(c Coordinate) string {
	return "https://maps.google.com/?q=" +
		strconv.FormatFloat(c.Lat, 'f', 6, 64) + "," +
		strconv.FormatFloat(c.Lng, 'f', 6, 64)
}

func toRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

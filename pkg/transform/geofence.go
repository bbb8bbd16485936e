package transform

import (
	"math"

	"github.com/canlake/canlake/pkg/manifest"
)

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between
// two lat/lon points.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad, lon1Rad := lat1*math.Pi/180, lon1*math.Pi/180
	lat2Rad, lon2Rad := lat2*math.Pi/180, lon2*math.Pi/180
	dlat := lat2Rad - lat1Rad
	dlon := lon2Rad - lon1Rad

	a := math.Sin(dlat/2)*math.Sin(dlat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// CheckGeofence returns the id of the first geofence whose radius (km)
// contains the point, or 0 when no fence matches.
func CheckGeofence(lat, lon float64, fences []manifest.Geofence) float64 {
	for _, f := range fences {
		if Haversine(lat, lon, f.Latitude, f.Longitude) <= f.Radius {
			return f.ID
		}
	}
	return 0
}

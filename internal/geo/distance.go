package geo

import "math"

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// ValidCoords reports whether the pair is a finite, in-range WGS-84
// coordinate.
func ValidCoords(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || math.IsNaN(lon) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// DistanceKm returns the great-circle distance in kilometers between two
// points given in decimal degrees. Malformed coordinates yield +Inf so a
// bad record can never win a nearest-rider comparison.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	if !ValidCoords(lat1, lon1) || !ValidCoords(lat2, lon2) {
		return math.Inf(1)
	}
	dLat := toRadians(lat2 - lat1)
	dLon := toRadians(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRadians(lat1))*math.Cos(toRadians(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusKm * c
}

func toRadians(deg float64) float64 { return deg * math.Pi / 180 }

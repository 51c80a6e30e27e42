// Package geo provides the spherical math shared by the query surface and the
// in-memory store: great-circle distance, polygon containment and a coarse
// grid cell key used as the derived geo-index on each track.
package geo

import (
	"fmt"
	"math"
)

const earthRadiusM = 6371000.0

// cellSizeDeg is the grid cell edge in degrees, roughly 11 km at the equator.
const cellSizeDeg = 0.1

// Point is a geographic coordinate in (lon, lat) order, matching GeoJSON.
type Point struct {
	Lon float64
	Lat float64
}

// Distance returns the haversine great-circle distance in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	lat1Rad := lat1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	deltaLat := (lat2 - lat1) * math.Pi / 180
	deltaLon := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusM * c
}

// BoxRing builds the closed five-point ring for a bounding box, corners in
// (lon, lat) winding order. The first and last points coincide.
func BoxRing(minLat, minLon, maxLat, maxLon float64) []Point {
	return []Point{
		{Lon: minLon, Lat: minLat},
		{Lon: maxLon, Lat: minLat},
		{Lon: maxLon, Lat: maxLat},
		{Lon: minLon, Lat: maxLat},
		{Lon: minLon, Lat: minLat},
	}
}

// PointInPolygon reports whether the point lies inside the closed ring using
// ray casting. Points exactly on an edge count as inside.
func PointInPolygon(lat, lon float64, ring []Point) bool {
	if len(ring) < 4 {
		return false
	}
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i].Lon, ring[i].Lat
		xj, yj := ring[j].Lon, ring[j].Lat

		// Edge containment check before the crossing test.
		if onSegment(lon, lat, xi, yi, xj, yj) {
			return true
		}

		if (yi > lat) != (yj > lat) {
			xCross := (xj-xi)*(lat-yi)/(yj-yi) + xi
			if lon < xCross {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

func onSegment(px, py, x1, y1, x2, y2 float64) bool {
	const eps = 1e-12
	cross := (x2-x1)*(py-y1) - (y2-y1)*(px-x1)
	if math.Abs(cross) > eps {
		return false
	}
	return px >= math.Min(x1, x2)-eps && px <= math.Max(x1, x2)+eps &&
		py >= math.Min(y1, y2)-eps && py <= math.Max(y1, y2)+eps
}

// CellKey maps a coordinate onto the coarse grid used as the track's
// secondary geo-index key.
func CellKey(lat, lon float64) string {
	for lon > 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	x := int(math.Floor(lon / cellSizeDeg))
	y := int(math.Floor(lat / cellSizeDeg))
	return fmt.Sprintf("%d:%d", x, y)
}

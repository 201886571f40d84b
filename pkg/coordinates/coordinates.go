// Package coordinates provides the small amount of spherical geometry the
// tracker needs: great-circle distance and bearing between fixes, and
// latitude/longitude bounding boxes for fitting a map view to markers.
package coordinates

import "math"

// Constants for coordinate calculations
const (
	// DegreesToRadians converts degrees to radians
	DegreesToRadians = math.Pi / 180.0

	// RadiansToDegrees converts radians to degrees
	RadiansToDegrees = 180.0 / math.Pi

	// EarthRadiusKm is the Earth's radius in kilometers (WGS84 mean radius)
	EarthRadiusKm = 6371.0

	// KmPerNauticalMile is the length of one nautical mile in kilometers
	KmPerNauticalMile = 1.852
)

// Geographic represents a position on Earth's surface (WGS84).
type Geographic struct {
	// Latitude in decimal degrees (-90 to +90)
	// Positive = North, Negative = South
	Latitude float64 `json:"lat"`

	// Longitude in decimal degrees (-180 to +180)
	// Positive = East, Negative = West
	Longitude float64 `json:"lon"`
}

// NormalizeAzimuth ensures azimuth is in the range [0, 360).
func NormalizeAzimuth(azimuth float64) float64 {
	az := math.Mod(azimuth, 360.0)
	if az < 0 {
		az += 360.0
	}
	return az
}

// Bearing calculates the initial bearing (forward azimuth) from one point to another.
// Returns bearing in degrees (0-360), where 0/360 = North, 90 = East, 180 = South, 270 = West.
func Bearing(from, to Geographic) float64 {
	lat1 := from.Latitude * DegreesToRadians
	lon1 := from.Longitude * DegreesToRadians
	lat2 := to.Latitude * DegreesToRadians
	lon2 := to.Longitude * DegreesToRadians

	dLon := lon2 - lon1
	y := math.Sin(dLon) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLon)

	return NormalizeAzimuth(math.Atan2(y, x) * RadiansToDegrees)
}

// DistanceKm calculates the great-circle distance between two points
// using the Haversine formula.
func DistanceKm(from, to Geographic) float64 {
	lat1Rad := from.Latitude * DegreesToRadians
	lon1Rad := from.Longitude * DegreesToRadians
	lat2Rad := to.Latitude * DegreesToRadians
	lon2Rad := to.Longitude * DegreesToRadians

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1Rad)*math.Cos(lat2Rad)*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusKm * c
}

// DistanceNauticalMiles is DistanceKm in nautical miles.
func DistanceNauticalMiles(from, to Geographic) float64 {
	return DistanceKm(from, to) / KmPerNauticalMile
}

// PathLengthKm sums the great-circle legs between consecutive points.
func PathLengthKm(points []Geographic) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += DistanceKm(points[i-1], points[i])
	}
	return total
}

// Bounds is a latitude/longitude box. It does not handle boxes that cross
// the antimeridian.
type Bounds struct {
	South float64 `json:"south"`
	West  float64 `json:"west"`
	North float64 `json:"north"`
	East  float64 `json:"east"`
}

// BoundsOf returns the smallest box containing every point.
// The second return value is false when points is empty.
func BoundsOf(points []Geographic) (Bounds, bool) {
	if len(points) == 0 {
		return Bounds{}, false
	}

	b := Bounds{
		South: points[0].Latitude,
		North: points[0].Latitude,
		West:  points[0].Longitude,
		East:  points[0].Longitude,
	}
	for _, p := range points[1:] {
		b.South = math.Min(b.South, p.Latitude)
		b.North = math.Max(b.North, p.Latitude)
		b.West = math.Min(b.West, p.Longitude)
		b.East = math.Max(b.East, p.Longitude)
	}
	return b, true
}

// Pad grows the box by ratio of its height and width on every side
// (0.1 adds 10% above, below, left and right).
func (b Bounds) Pad(ratio float64) Bounds {
	dLat := (b.North - b.South) * ratio
	dLon := (b.East - b.West) * ratio
	return Bounds{
		South: math.Max(b.South-dLat, -90),
		North: math.Min(b.North+dLat, 90),
		West:  b.West - dLon,
		East:  b.East + dLon,
	}
}

// Center is the midpoint of the box.
func (b Bounds) Center() Geographic {
	return Geographic{
		Latitude:  (b.South + b.North) / 2,
		Longitude: (b.West + b.East) / 2,
	}
}

// Contains reports whether p lies inside the box, edges included.
func (b Bounds) Contains(p Geographic) bool {
	return p.Latitude >= b.South && p.Latitude <= b.North &&
		p.Longitude >= b.West && p.Longitude <= b.East
}

// Around returns a box centered on c spanning the given extent in degrees.
func Around(c Geographic, latSpan, lonSpan float64) Bounds {
	return Bounds{
		South: c.Latitude - latSpan/2,
		North: c.Latitude + latSpan/2,
		West:  c.Longitude - lonSpan/2,
		East:  c.Longitude + lonSpan/2,
	}
}

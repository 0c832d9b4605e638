package geo

import "math"

const earthRadius = 6371000.0

// Distance returns the great-circle distance between two coordinates in meters.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dphi := (lat2 - lat1) * math.Pi / 180
	dlam := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dphi/2)*math.Sin(dphi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dlam/2)*math.Sin(dlam/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}

type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Viewport holds the parameters a map renderer needs to frame a set of
// points: where to center, how far in it may zoom, and how much padding to
// keep around the fitted bounds. The renderer owns the actual fitting.
type Viewport struct {
	CenterLat   float64 `json:"center_lat"`
	CenterLon   float64 `json:"center_lon"`
	ZoomCeiling int     `json:"zoom_ceiling"`
	Padding     int     `json:"padding"`
}

const singlePointZoom = 16

// ViewportFor computes viewport-fit parameters for a set of coordinates.
// With no points it reports ok=false and the caller keeps its current view.
// With two or more points the zoom ceiling and padding step with the
// distance between the first two points, so two markers stay legible
// together whether they are across the room or across the city.
func ViewportFor(points []Point) (Viewport, bool) {
	switch len(points) {
	case 0:
		return Viewport{}, false
	case 1:
		return Viewport{
			CenterLat:   points[0].Latitude,
			CenterLon:   points[0].Longitude,
			ZoomCeiling: singlePointZoom,
		}, true
	}

	minLat, maxLat := points[0].Latitude, points[0].Latitude
	minLon, maxLon := points[0].Longitude, points[0].Longitude
	for _, p := range points[1:] {
		if p.Latitude < minLat {
			minLat = p.Latitude
		}
		if p.Latitude > maxLat {
			maxLat = p.Latitude
		}
		if p.Longitude < minLon {
			minLon = p.Longitude
		}
		if p.Longitude > maxLon {
			maxLon = p.Longitude
		}
	}

	d := Distance(points[0].Latitude, points[0].Longitude, points[1].Latitude, points[1].Longitude)
	zoom, padding := fitStep(d)
	return Viewport{
		CenterLat:   (minLat + maxLat) / 2,
		CenterLon:   (minLon + maxLon) / 2,
		ZoomCeiling: zoom,
		Padding:     padding,
	}, true
}

func fitStep(meters float64) (zoom int, padding int) {
	switch {
	case meters < 50:
		return 18, 10
	case meters < 200:
		return 17, 15
	case meters < 1000:
		return 15, 20
	case meters < 5000:
		return 13, 30
	case meters < 25000:
		return 11, 40
	default:
		return 9, 50
	}
}

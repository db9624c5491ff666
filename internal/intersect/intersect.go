// Package intersect matches location samples against sick records.
//
// The orchestrator only depends on the GeoChecker and BLEChecker
// contracts; Geo and Bucket are the implementations wired by default.
package intersect

import (
	"math"
	"strings"

	"github.com/mmcloughlin/geohash"

	"github.com/runnerr0/exposure/internal/storage"
)

const earthRadiusMeters = 6371000.0

// Match pairs a sample with a sick record whose windows overlap and whose
// locations are close enough.
type Match struct {
	Sample         storage.Sample
	Sick           storage.SickRecord
	DistanceMeters float64
	OverlapMillis  int64
}

// GeoChecker computes spatial-temporal intersections.
type GeoChecker interface {
	ComputeGeoIntersections(samples []storage.Sample, sick []storage.SickRecord) []Match
}

// BLEChecker computes proximity-bucket intersections.
type BLEChecker interface {
	ComputeBLEIntersections(samples []storage.Sample, sick []storage.SickRecord) []Match
}

// Geo matches by great-circle distance. Open samples are treated as
// lasting until Now.
type Geo struct {
	RadiusMeters float64
	Now          func() int64
}

// ComputeGeoIntersections returns every (sample, sick) pair within
// RadiusMeters whose time windows overlap.
func (g Geo) ComputeGeoIntersections(samples []storage.Sample, sick []storage.SickRecord) []Match {
	var matches []Match
	for _, s := range samples {
		end := sampleEnd(s, g.Now)
		for _, rec := range sick {
			overlap := Overlap(s.StartTime, end, rec.FromTime, rec.ToTime)
			if overlap < 0 {
				continue
			}
			d := HaversineMeters(s.Lat, s.Long, rec.Lat, rec.Long)
			if d > g.RadiusMeters {
				continue
			}
			matches = append(matches, Match{Sample: s, Sick: rec, DistanceMeters: d, OverlapMillis: overlap})
		}
	}
	return matches
}

// Bucket matches a sample to a sick record when the record falls in the
// same geohash cell at Precision characters and the windows overlap.
type Bucket struct {
	Precision uint
	Now       func() int64
}

// ComputeBLEIntersections implements BLEChecker.
func (b Bucket) ComputeBLEIntersections(samples []storage.Sample, sick []storage.SickRecord) []Match {
	cells := make([]string, len(sick))
	for i, rec := range sick {
		cells[i] = geohash.EncodeWithPrecision(rec.Lat, rec.Long, b.Precision)
	}

	var matches []Match
	for _, s := range samples {
		cell := s.GeoHash
		if uint(len(cell)) < b.Precision {
			cell = geohash.EncodeWithPrecision(s.Lat, s.Long, b.Precision)
		}
		cell = cell[:b.Precision]

		end := sampleEnd(s, b.Now)
		for i, rec := range sick {
			if !strings.EqualFold(cells[i], cell) {
				continue
			}
			overlap := Overlap(s.StartTime, end, rec.FromTime, rec.ToTime)
			if overlap < 0 {
				continue
			}
			matches = append(matches, Match{
				Sample:         s,
				Sick:           rec,
				DistanceMeters: HaversineMeters(s.Lat, s.Long, rec.Lat, rec.Long),
				OverlapMillis:  overlap,
			})
		}
	}
	return matches
}

// Overlap returns the length of the intersection of [aStart, aEnd] and
// [bStart, bEnd], or -1 when they are disjoint. Touching windows overlap by 0.
func Overlap(aStart, aEnd, bStart, bEnd int64) int64 {
	lo := max(aStart, bStart)
	hi := min(aEnd, bEnd)
	if hi < lo {
		return -1
	}
	return hi - lo
}

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180
	lat1 *= degToRad
	lon1 *= degToRad
	lat2 *= degToRad
	lon2 *= degToRad
	dlat := lat2 - lat1
	dlon := lon2 - lon1
	a := math.Sin(dlat/2)*math.Sin(dlat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dlon/2)*math.Sin(dlon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

func sampleEnd(s storage.Sample, now func() int64) int64 {
	if s.EndTime != nil {
		return *s.EndTime
	}
	if now != nil {
		return now()
	}
	return math.MaxInt64
}

package tracker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"

	"github.com/mmcloughlin/geohash"

	"github.com/runnerr0/exposure/internal/storage"
)

// DefaultGeohashPrecision is the geohash length stored on new samples.
// Eight characters is a cell of roughly 38m x 19m.
const DefaultGeohashPrecision uint = 8

// Fix is one location event from the background geolocation provider.
type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
	Timestamp int64   `json:"timestamp"` // epoch millis
	IsMoving  bool    `json:"is_moving"`
	WifiHash  string  `json:"wifi_hash,omitempty"`
}

// Validate checks that the fix describes a real position and time.
func (f Fix) Validate() error {
	for name, v := range map[string]float64{
		"latitude":  f.Latitude,
		"longitude": f.Longitude,
		"accuracy":  f.Accuracy,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("invalid fix: %s is not finite", name)
		}
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return fmt.Errorf("invalid fix: latitude %v out of range", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return fmt.Errorf("invalid fix: longitude %v out of range", f.Longitude)
	}
	if f.Accuracy < 0 {
		return fmt.Errorf("invalid fix: negative accuracy %v", f.Accuracy)
	}
	if f.Timestamp <= 0 {
		return fmt.Errorf("invalid fix: timestamp %d", f.Timestamp)
	}
	return nil
}

// GeoHash returns the fix's geohash cell at precision characters.
func (f Fix) GeoHash(precision uint) string {
	return geohash.EncodeWithPrecision(f.Latitude, f.Longitude, precision)
}

// Sample converts the fix into an open sample starting at the fix time.
func (f Fix) Sample(precision uint) *storage.Sample {
	s := &storage.Sample{
		Lat:       f.Latitude,
		Long:      f.Longitude,
		Accuracy:  f.Accuracy,
		StartTime: f.Timestamp,
		GeoHash:   f.GeoHash(precision),
		WifiHash:  f.WifiHash,
	}
	s.Hash = Fingerprint(s)
	return s
}

// Fingerprint is the content hash stored with a sample: the first 16 bytes
// of the SHA-256 of its position, start time and buckets.
func Fingerprint(s *storage.Sample) string {
	h := sha256.New()
	h.Write([]byte(strconv.FormatFloat(s.Lat, 'f', -1, 64)))
	h.Write([]byte{','})
	h.Write([]byte(strconv.FormatFloat(s.Long, 'f', -1, 64)))
	h.Write([]byte{','})
	h.Write([]byte(strconv.FormatInt(s.StartTime, 10)))
	h.Write([]byte{','})
	h.Write([]byte(s.GeoHash))
	h.Write([]byte{','})
	h.Write([]byte(s.WifiHash))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

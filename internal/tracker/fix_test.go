package tracker

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFix_Validate(t *testing.T) {
	good := Fix{Latitude: 32.1, Longitude: 34.8, Accuracy: 10, Timestamp: 1000}
	require.NoError(t, good.Validate())

	tests := []struct {
		name string
		mut  func(*Fix)
		want string
	}{
		{"latitude range", func(f *Fix) { f.Latitude = 91 }, "latitude"},
		{"longitude range", func(f *Fix) { f.Longitude = -181 }, "longitude"},
		{"nan", func(f *Fix) { f.Latitude = math.NaN() }, "not finite"},
		{"negative accuracy", func(f *Fix) { f.Accuracy = -1 }, "accuracy"},
		{"zero timestamp", func(f *Fix) { f.Timestamp = 0 }, "timestamp"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := good
			tt.mut(&f)
			err := f.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFix_Sample(t *testing.T) {
	f := Fix{Latitude: 32.1, Longitude: 34.8, Accuracy: 10, Timestamp: 1000, WifiHash: "w1"}
	s := f.Sample(DefaultGeohashPrecision)

	assert.True(t, s.IsOpen())
	assert.Equal(t, int64(1000), s.StartTime)
	assert.Len(t, s.GeoHash, int(DefaultGeohashPrecision))
	assert.Equal(t, "w1", s.WifiHash)
	assert.Len(t, s.Hash, 32)
	assert.Equal(t, s.Hash, f.Sample(DefaultGeohashPrecision).Hash)

	f.Timestamp = 1001
	assert.NotEqual(t, s.Hash, f.Sample(DefaultGeohashPrecision).Hash)
}

func TestFix_GeoHashPrefixes(t *testing.T) {
	f := Fix{Latitude: 32.1, Longitude: 34.8, Timestamp: 1}
	assert.Equal(t, f.GeoHash(5), f.GeoHash(8)[:5])
}

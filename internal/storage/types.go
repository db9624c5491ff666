package storage

// Sample is a time-boxed location observation. EndTime is nil while the
// sample is open.
type Sample struct {
	ID        int64
	Lat       float64
	Long      float64
	Accuracy  float64 // meters
	StartTime int64   // epoch millis
	EndTime   *int64  // epoch millis, nil while open
	GeoHash   string
	WifiHash  string
	Hash      string
}

// IsOpen reports whether the sample has not been closed yet.
func (s *Sample) IsOpen() bool {
	return s.EndTime == nil
}

// SickRecord is an externally published possible-exposure site.
type SickRecord struct {
	ObjectID string
	Name     string
	Place    string
	Comments string
	FromTime int64 // epoch millis
	ToTime   int64 // epoch millis
	Long     float64
	Lat      float64
}

// Stats holds aggregate statistics about the sample store.
type Stats struct {
	TotalSamples  int64
	OpenSamples   int64
	SickRecords   int64
	OldestStart   int64
	NewestEnd     int64
	UTCMigrated   bool
	LastSampleID  int64
	DatabaseBytes int64
	SchemaVersion int
}

// Millis returns a pointer to v, for filling Sample.EndTime.
func Millis(v int64) *int64 {
	return &v
}

package model

import "time"

// RetentionPolicy bounds the stored data by age and size. Caps may be
// exceeded temporarily between sweep cycles but never in steady state.
type RetentionPolicy struct {
	MaxAge           time.Duration
	MaxRowsPerSymbol int
	MaxTotalBytes    int64
	SweepInterval    time.Duration
}

// EstimatedBarBytes is the rough on-disk footprint of one bar row,
// used to translate MaxTotalBytes into a row cap.
const EstimatedBarBytes = 256

// MaxTotalRows converts the byte cap into a row cap. Zero means uncapped.
func (p RetentionPolicy) MaxTotalRows() int {
	if p.MaxTotalBytes <= 0 {
		return 0
	}
	return int(p.MaxTotalBytes / EstimatedBarBytes)
}

package ingest

import (
	"time"

	"github.com/fjordops/growthd/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagOxygenOutOfRange   = "oxygen_out_of_range"
	FlagSalinityOutOfRange = "salinity_out_of_range"
	FlagTimestampInFuture  = "timestamp_in_future"
)

// ValidateReading returns quality flags for implausible telemetry.
// Flagged readings are dropped before insert; one stuck thermistor would
// otherwise skew the day's mean temperature that assimilation consumes.
func ValidateReading(r *models.SensorReading, now time.Time) []string {
	var flags []string

	if r.TempC < -2 || r.TempC > 35 {
		flags = append(flags, FlagTempOutOfRange)
	}

	if r.OxygenMgL.Valid {
		if r.OxygenMgL.Float64 < 0 || r.OxygenMgL.Float64 > 20 {
			flags = append(flags, FlagOxygenOutOfRange)
		}
	}

	if r.SalinityPPT.Valid {
		if r.SalinityPPT.Float64 < 0 || r.SalinityPPT.Float64 > 40 {
			flags = append(flags, FlagSalinityOutOfRange)
		}
	}

	if r.ReadAt.After(now.Add(time.Hour)) {
		flags = append(flags, FlagTimestampInFuture)
	}

	return flags
}

package backup

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout     = "20060102"
	dateTimeLayout = "20060102_150405"
	artifactSuffix = ".sql.gz"
)

// ArtifactName returns the object name for a dump of schema taken at ts,
// "<schema>_<YYYYMMDD>.sql.gz". With withTime set the stamp gains an
// _HHMMSS component so several runs on the same day produce distinct
// names instead of overwriting each other.
func ArtifactName(schema string, ts time.Time, withTime bool) string {
	layout := dateLayout
	if withTime {
		layout = dateTimeLayout
	}
	return fmt.Sprintf("%s_%s%s", schema, ts.UTC().Format(layout), artifactSuffix)
}

// ParseArtifactTime extracts the timestamp embedded in an artifact name.
// Names that do not follow the ArtifactName scheme return ok=false; the
// sweeper uses that to leave foreign objects untouched.
func ParseArtifactTime(name string) (time.Time, bool) {
	base, found := strings.CutSuffix(name, artifactSuffix)
	if !found {
		return time.Time{}, false
	}

	// The schema itself may contain underscores, so scan from the right.
	parts := strings.Split(base, "_")
	if len(parts) < 2 {
		return time.Time{}, false
	}

	last := parts[len(parts)-1]
	if len(parts) >= 3 && len(last) == 6 {
		stamp := parts[len(parts)-2] + "_" + last
		if ts, err := time.ParseInLocation(dateTimeLayout, stamp, time.UTC); err == nil {
			return ts, true
		}
	}

	if len(last) == 8 {
		if ts, err := time.ParseInLocation(dateLayout, last, time.UTC); err == nil {
			return ts, true
		}
	}

	return time.Time{}, false
}

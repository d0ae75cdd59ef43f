package track

import (
	"math"
	"strings"

	"github.com/vkdesk/presenced/internal/domain"
)

const (
	// MaxTrackDuration caps reported track length at two hours; anything
	// longer is almost certainly a broken player reporting garbage
	MaxTrackDuration = 7200

	// maxRawField bounds raw string fields before normalization so a
	// misbehaving source cannot push unbounded data through the pipeline
	maxRawField = 512
	maxRawURL   = 2048
)

// Sanitize coerces a raw payload from an uncontrolled source into safe
// ranges: non-finite or negative numbers become zero, the duration is
// capped, and oversized strings are trimmed. A payload whose title is
// empty after trimming is the idle signal and is passed through as such.
func Sanitize(p domain.TrackPayload) domain.TrackPayload {
	p.Duration = clampSeconds(p.Duration, MaxTrackDuration)
	p.Progress = clampSeconds(p.Progress, math.MaxFloat64)

	p.Title = strings.TrimSpace(Truncate(p.Title, maxRawField))
	p.Artist = strings.TrimSpace(Truncate(p.Artist, maxRawField))
	p.Album = strings.TrimSpace(Truncate(p.Album, maxRawField))
	p.Cover = strings.TrimSpace(Truncate(p.Cover, maxRawURL))
	p.URL = strings.TrimSpace(Truncate(p.URL, maxRawURL))

	return p
}

func clampSeconds(v, max float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

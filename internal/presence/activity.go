package presence

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/vkdesk/presenced/internal/domain"
	"github.com/vkdesk/presenced/internal/track"
)

const (
	// activityTypeListening renders "Listening to ..." instead of "Playing ..."
	activityTypeListening = 2

	maxAlbumLength   = 100
	defaultLargeText = "VK Music"
	defaultButtonURL = "https://vk.com/audio"
	buttonLabel      = "Слушать в VK"
	logoImageKey     = "logo"
	pauseImageKey    = "pause"
)

// genericAlbums are placeholder album names not worth displaying
var genericAlbums = map[string]bool{
	"Музыка":        true,
	"Audio":         true,
	"Unknown Album": true,
}

// buildActivity assembles the outbound activity record. startMs is the
// reconciled start anchor in epoch milliseconds; timestamps are attached
// only while the track is playing so a paused track never shows a stale
// countdown.
func buildActivity(tr domain.Track, p domain.TrackPayload, startMs int64) domain.Activity {
	// The presence service rejects fields shorter than two characters
	title := padMin(tr.Title, 2)
	artist := padMin(tr.Artist, 2)

	largeText := defaultLargeText
	if len(p.Album) > 2 && !genericAlbums[p.Album] {
		largeText = "Album: " + track.Truncate(p.Album, maxAlbumLength)
	}

	buttonURL := p.URL
	if !strings.HasPrefix(buttonURL, "http") {
		buttonURL = defaultButtonURL
	}

	activity := domain.Activity{
		Type:    activityTypeListening,
		Details: title,
		State:   "by " + artist,
		Assets: &domain.Assets{
			LargeImage: logoImageKey,
			LargeText:  largeText,
		},
		Buttons: []domain.Button{{Label: buttonLabel, URL: buttonURL}},
	}

	if validCoverURL(p.Cover) {
		activity.Assets.LargeImage = p.Cover
		if p.IsPlaying {
			activity.Assets.SmallImage = logoImageKey
			activity.Assets.SmallText = defaultLargeText
		} else {
			activity.Assets.SmallImage = pauseImageKey
			activity.Assets.SmallText = "Paused"
		}
	} else if !p.IsPlaying {
		activity.Assets.SmallImage = pauseImageKey
		activity.Assets.SmallText = "Paused"
	}

	if p.IsPlaying && p.Duration > 0 {
		activity.Timestamps = &domain.Timestamps{
			Start: startMs,
			End:   startMs + int64(p.Duration*1000),
		}
	}

	return activity
}

// fingerprint serializes an activity for the consecutive-duplicate guard
func fingerprint(a domain.Activity) string {
	raw, err := json.Marshal(a)
	if err != nil {
		return ""
	}
	return string(raw)
}

func validCoverURL(cover string) bool {
	if !strings.HasPrefix(cover, "http") {
		return false
	}
	u, err := url.Parse(cover)
	return err == nil && u.Host != ""
}

func padMin(s string, n int) string {
	for len([]rune(s)) < n {
		s += " "
	}
	return s
}

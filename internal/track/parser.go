package track

import (
	"regexp"
	"strings"

	"github.com/vkdesk/presenced/internal/domain"
)

const (
	// UnknownTitle is substituted when cleanup leaves the title empty
	UnknownTitle = "Unknown Track"
	// UnknownArtist is substituted when the player reports no artist
	UnknownArtist = "Unknown Artist"

	// maxFieldLength is the presence service limit for title/artist fields
	maxFieldLength = 128
)

// junkRegex strips bracketed annotations that carry no track identity,
// e.g. "(Official Video)" or "[lyrics]". Only fully bracketed phrases
// are removed; "(Live at Wembley)" stays because it names a place.
var junkRegex = func() *regexp.Regexp {
	phrases := []string{
		"official video", "music video", "official audio", "lyrics",
		"lyric video", "official music video", "full hd", "4k",
		"hq", "hd", "live performance", "live at", "live session",
		"free download", "original mix", "extended mix",
	}
	for i, p := range phrases {
		phrases[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile(`(?i)[(\[](?:` + strings.Join(phrases, "|") + `)[)\]]`)
}()

var (
	extensionRegex   = regexp.MustCompile(`(?i)\.(mp3|flac|wav|m4a|ogg)$`)
	separatorRegex   = regexp.MustCompile(`\s+[-—]\s+`)
	emptyParensRegex = regexp.MustCompile(`\(\s*\)`)
	emptyBracksRegex = regexp.MustCompile(`\[\s*\]`)
)

// entityReplacer decodes the HTML entities players commonly leave in titles
var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#039;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

// Parse cleans raw title/artist metadata into a presentable Track.
// It decodes HTML entities, strips file extensions and junk annotations,
// splits "Artist - Title" strings when the artist field is generic, and
// guarantees both output fields are non-empty and at most 128 characters.
// Pure and deterministic; safe to call on every payload.
func Parse(rawTitle, rawArtist string) domain.Track {
	title := entityReplacer.Replace(rawTitle)
	artist := entityReplacer.Replace(rawArtist)
	if artist == "" {
		artist = UnknownArtist
	}

	title = extensionRegex.ReplaceAllString(title, "")
	title = junkRegex.ReplaceAllString(title, "")

	// Players often report "Artist - Title" in the title field while the
	// artist field is empty or duplicated inside the title.
	if loc := separatorRegex.FindStringIndex(title); loc != nil &&
		(artist == UnknownArtist || strings.Contains(title, artist)) {
		parts := separatorRegex.Split(title, -1)
		if len(parts) >= 2 {
			artist = strings.TrimSpace(parts[0])
			title = strings.TrimSpace(strings.Join(parts[1:], " "))
		}
	}

	// Drop a leading "Artist - " from the title to avoid duplication
	for _, sep := range []string{" - ", " — "} {
		prefix := artist + sep
		if len(title) >= len(prefix) && strings.EqualFold(title[:len(prefix)], prefix) {
			title = title[len(prefix):]
			break
		}
	}

	title = emptyParensRegex.ReplaceAllString(title, "")
	title = emptyBracksRegex.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)
	artist = strings.TrimSpace(artist)

	title = Truncate(title, maxFieldLength)
	artist = Truncate(artist, maxFieldLength)
	if title == "" {
		title = UnknownTitle
	}
	if artist == "" {
		artist = UnknownArtist
	}

	return domain.Track{Title: title, Artist: artist}
}

// Truncate limits s to at most n characters (runes, not bytes)
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

package domain

// TrackPayload is a raw now-playing snapshot emitted by a track source.
// It is ephemeral and carries no identity beyond its content; an empty
// Title means the player is idle or stopped.
type TrackPayload struct {
	// Title of the track as reported by the player (may contain junk)
	Title string
	// Artist as reported by the player (may be empty or generic)
	Artist string
	// Album name, optional
	Album string
	// Cover is the URL of the track artwork, optional
	Cover string
	// Duration of the track in seconds
	Duration float64
	// Progress is the current playback position in seconds
	Progress float64
	// IsPlaying reports whether playback is active
	IsPlaying bool
	// URL is a link to the track, optional
	URL string
}

// Track is the normalized {title, artist} pair derived from a TrackPayload.
// Both fields are guaranteed non-empty and at most 128 characters.
type Track struct {
	Title  string
	Artist string
}

// Config is the persisted application settings record.
// It is stored as a single JSON document on disk.
type Config struct {
	Profile        string      `json:"profile"`
	Domain         string      `json:"domain"`
	MinimizeToTray bool        `json:"minimizeToTray"`
	EnableDiscord  bool        `json:"enableDiscord"`
	EnableVKNext   bool        `json:"enableVKNext"`
	WindowState    WindowState `json:"windowState"`
}

// WindowState remembers the last window geometry of the desktop client.
type WindowState struct {
	Width       int  `json:"width,omitempty"`
	Height      int  `json:"height,omitempty"`
	X           int  `json:"x,omitempty"`
	Y           int  `json:"y,omitempty"`
	IsMaximized bool `json:"isMaximized,omitempty"`
}

// Activity is the rich-presence record sent to the presence service.
// Field names follow the Discord IPC wire format.
type Activity struct {
	Type       int         `json:"type"`
	Details    string      `json:"details,omitempty"`
	State      string      `json:"state,omitempty"`
	Timestamps *Timestamps `json:"timestamps,omitempty"`
	Assets     *Assets     `json:"assets,omitempty"`
	Buttons    []Button    `json:"buttons,omitempty"`
	Instance   bool        `json:"instance"`
}

// Timestamps holds the elapsed/remaining time anchors in epoch milliseconds.
type Timestamps struct {
	Start int64 `json:"start,omitempty"`
	End   int64 `json:"end,omitempty"`
}

// Assets selects the large and small images shown next to the activity.
type Assets struct {
	LargeImage string `json:"large_image,omitempty"`
	LargeText  string `json:"large_text,omitempty"`
	SmallImage string `json:"small_image,omitempty"`
	SmallText  string `json:"small_text,omitempty"`
}

// Button is a clickable link rendered under the activity.
type Button struct {
	Label string `json:"label"`
	URL   string `json:"url"`
}

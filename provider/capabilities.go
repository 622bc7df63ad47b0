package provider

// Capabilities describes what a generation back-end can produce.
type Capabilities struct {
	Formats      []string `json:"formats"`
	Resolutions  []string `json:"resolutions"`
	AspectRatios []string `json:"aspect_ratios"`

	// MaxDuration and MinDuration bound the output length in seconds.
	MaxDuration float64 `json:"max_duration"`
	MinDuration float64 `json:"min_duration,omitempty"`

	Styles []string `json:"styles,omitempty"`
}

// SupportsDuration reports whether a video of the given length fits
// this provider's bounds.
func (c Capabilities) SupportsDuration(seconds float64) bool {
	if c.MaxDuration > 0 && seconds > c.MaxDuration {
		return false
	}
	if c.MinDuration > 0 && seconds < c.MinDuration {
		return false
	}
	return true
}

// SupportsResolution reports whether the provider can output the named
// resolution, matching loosely on the vertical line count.
func (c Capabilities) SupportsResolution(quality string) bool {
	for _, r := range c.Resolutions {
		if r == quality || matchesLines(r, quality) {
			return true
		}
	}
	return false
}

// matchesLines maps "1920x1080" style resolutions onto "1080p" style
// quality names.
func matchesLines(resolution, quality string) bool {
	switch quality {
	case "4k":
		return resolution == "3840x2160" || resolution == "4096x2160"
	case "1080p":
		return resolution == "1920x1080"
	case "720p":
		return resolution == "1280x720"
	case "480p":
		return resolution == "854x480"
	}
	return false
}

package probe

import (
	"encoding/json"
	"fmt"
)

// Supported player technologies. Each has a page named <technology>.html.
const (
	TechnologyHTML5   = "html5"
	TechnologyYouTube = "youtube"
)

// ValidTechnology reports whether a page exists for technology.
func ValidTechnology(technology string) bool {
	switch technology {
	case TechnologyHTML5, TechnologyYouTube:
		return true
	}
	return false
}

// PlayerScript returns the expression that configures the in-page probe with
// the video URL and initializes the player for technology.
func PlayerScript(videoURL, technology string) string {
	settings, _ := json.Marshal(map[string]string{"videoUrl": videoURL})
	return fmt.Sprintf(
		"document.probe.setPlayerSettings(%s);\ndocument.probe.initializePlayer(%s);",
		settings, jsString(technology),
	)
}

func jsString(v string) string {
	b, _ := json.Marshal(v)
	return string(b)
}

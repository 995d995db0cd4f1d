package process

import (
	"regexp"
	"strings"

	"github.com/smazurov/detectnode/internal/events"
)

// benignStderr are substrings of diagnostics that workers print to stderr
// during normal operation (model downloads, progress bars).
var benignStderr = []string{
	"Downloading...",
	"will be downloaded",
	"%|",
	"From:",
	"To:",
}

var percentBar = regexp.MustCompile(`^\d+%\|`)

// ClassifyStderr turns one stderr chunk into an event. Benign diagnostics
// become trimmed info events, everything else becomes an error event carrying
// the chunk as is. Whitespace-only chunks yield no event.
func ClassifyStderr(chunk string) (events.Analysis, bool) {
	trimmed := strings.TrimSpace(chunk)
	if trimmed == "" {
		return events.Analysis{}, false
	}
	if isBenignStderr(chunk, trimmed) {
		return events.Info(trimmed), true
	}
	return events.Failure(chunk), true
}

func isBenignStderr(chunk, trimmed string) bool {
	for _, s := range benignStderr {
		if strings.Contains(chunk, s) {
			return true
		}
	}
	return percentBar.MatchString(trimmed)
}

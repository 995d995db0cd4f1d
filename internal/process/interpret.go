package process

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/smazurov/detectnode/internal/events"
)

// Markers printed by detection workers.
const (
	// FatalMarker makes the session terminate its worker once.
	FatalMarker = "Exiting process due to"

	nightMotionMarker     = "WARNING: Motion detected in night scene!"
	dangerousObjectMarker = "WARNING: Dangerous objects detected"
	motionMarker          = "Motion detected"
	nightModeMarker       = "Night mode detected"
)

// Early-exit triggers carried by danger events.
const (
	TriggerNightMotion     = "night_motion"
	TriggerDangerousObject = "dangerous_object"
	TriggerDanger          = "danger"
)

// Parser names accepted by NewInterpreter.
const (
	ParserDetect  = "detect"
	ParserEmotion = "emotion"
	ParserAudio   = "audio"
	ParserRaw     = "raw"
)

var (
	detectedObjects = regexp.MustCompile(`detected (\d+) objects: (.+)`)
	detectedCount   = regexp.MustCompile(`detected (\d+) objects`)
	videoProgress   = regexp.MustCompile(`video 1/1 \(frame (\d+)/(\d+)\)`)
	savedFrame      = regexp.MustCompile(`Successfully saved .*frame to:`)
)

// LineInterpreter turns one plain text line of worker stdout into events.
// Returning nil suppresses the line.
type LineInterpreter interface {
	Interpret(line string) []events.Analysis
}

// ParserSpec selects and configures a LineInterpreter.
type ParserSpec struct {
	Name   string // detect, emotion, audio or raw
	Model  string // model label attached to progress events
	Marker string // emotion or audio line marker
}

// NewInterpreter builds the interpreter named by spec.
func NewInterpreter(spec ParserSpec) (LineInterpreter, error) {
	switch spec.Name {
	case ParserDetect:
		return DetectInterpreter{Model: spec.Model}, nil
	case ParserEmotion:
		return EmotionInterpreter{Marker: spec.Marker}, nil
	case ParserAudio:
		return AudioInterpreter{Marker: spec.Marker}, nil
	case ParserRaw, "":
		return RawInterpreter{}, nil
	default:
		return nil, fmt.Errorf("unknown parser %q", spec.Name)
	}
}

// RawInterpreter relays every non-blank line as an info event.
type RawInterpreter struct{}

// Interpret implements LineInterpreter.
func (RawInterpreter) Interpret(line string) []events.Analysis {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	return []events.Analysis{events.Info(line)}
}

// DetectInterpreter understands the text log of the object and violence
// detection workers.
type DetectInterpreter struct {
	Model string
}

// Interpret implements LineInterpreter.
func (d DetectInterpreter) Interpret(line string) []events.Analysis {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	// The night scene warning also contains the plain motion marker,
	// so it is matched first.
	switch {
	case strings.Contains(line, nightMotionMarker):
		ev := events.Danger("Motion detected in night scene")
		ev.Trigger = TriggerNightMotion
		return []events.Analysis{ev}
	case strings.Contains(line, dangerousObjectMarker):
		ev := events.Danger(line)
		ev.Trigger = TriggerDangerousObject
		return []events.Analysis{ev}
	case strings.Contains(line, motionMarker):
		return []events.Analysis{events.Info("Motion detected: " + line)}
	case strings.Contains(line, nightModeMarker):
		return []events.Analysis{events.Info("Night mode detected: " + line)}
	case savedFrame.MatchString(line):
		return []events.Analysis{events.Info("Results saved")}
	case strings.Contains(line, FatalMarker):
		return nil
	}

	var out []events.Analysis
	if m := detectedObjects.FindStringSubmatch(line); m != nil {
		classes := splitClasses(m[2])
		ev := events.Info(fmt.Sprintf("Detected %s objects: %s", m[1], strings.Join(classes, ", ")))
		ev.Classes = classes
		out = append(out, ev)
	} else {
		out = append(out, events.Info(line))
	}

	if m := videoProgress.FindStringSubmatch(line); m != nil {
		current, _ := strconv.Atoi(m[1])
		total, _ := strconv.Atoi(m[2])
		detected := 0
		if c := detectedCount.FindStringSubmatch(line); c != nil {
			detected, _ = strconv.Atoi(c[1])
		}
		out = append(out, events.Analysis{
			Status:          events.StatusProgress,
			Progress:        percent(current, total),
			CurrentFrame:    current,
			ProgressTotal:   total,
			DetectedObjects: detected,
			Model:           d.Model,
		})
	}

	if strings.Contains(line, "image 1/1") {
		out = append(out, events.Analysis{
			Status:        events.StatusProgress,
			Progress:      100,
			CurrentFrame:  1,
			ProgressTotal: 1,
			Model:         d.Model,
		})
	}
	return out
}

// EmotionInterpreter extracts the dominant emotion from lines carrying Marker.
type EmotionInterpreter struct {
	Marker string
}

// Interpret implements LineInterpreter.
func (e EmotionInterpreter) Interpret(line string) []events.Analysis {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if e.Marker != "" {
		if i := strings.Index(line, e.Marker); i >= 0 {
			emotion := strings.TrimSpace(line[i+len(e.Marker):])
			ev := events.Info(e.Marker + " " + emotion)
			ev.Emotion = emotion
			return []events.Analysis{ev}
		}
	}
	return []events.Analysis{events.Info(line)}
}

// AudioInterpreter relays only the lines carrying Marker.
type AudioInterpreter struct {
	Marker string
}

// Interpret implements LineInterpreter.
func (a AudioInterpreter) Interpret(line string) []events.Analysis {
	line = strings.TrimSpace(line)
	if line == "" || !strings.Contains(line, a.Marker) {
		return nil
	}
	return []events.Analysis{events.Info(line)}
}

func splitClasses(s string) []string {
	parts := strings.Split(s, ",")
	classes := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			classes = append(classes, p)
		}
	}
	return classes
}

func percent(current, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(current) / float64(total) * 100))
}

// TriggerOf returns the early-exit trigger of a danger event.
func TriggerOf(ev events.Analysis) string {
	if ev.Status != events.StatusDanger {
		return ""
	}
	if ev.Trigger != "" {
		return ev.Trigger
	}
	return TriggerDanger
}

package process

import (
	"reflect"
	"testing"

	"github.com/smazurov/detectnode/internal/events"
)

func TestClassifyStderr(t *testing.T) {
	tests := []struct {
		name    string
		chunk   string
		want    events.Status
		message string
		ok      bool
	}{
		{"download", "Downloading... yolo11n.pt\n", events.StatusInfo, "Downloading... yolo11n.pt", true},
		{"will download", "  model will be downloaded  ", events.StatusInfo, "model will be downloaded", true},
		{"progress bar", " 45%|████      | 2/4\n", events.StatusInfo, "45%|████      | 2/4", true},
		{"from", "From: https://example.com/w.pt\n", events.StatusInfo, "From: https://example.com/w.pt", true},
		{"to", "To: /tmp/w.pt", events.StatusInfo, "To: /tmp/w.pt", true},
		{"real error", "Traceback (most recent call last)\n", events.StatusError, "Traceback (most recent call last)\n", true},
		{"blank", " \n\t", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := ClassifyStderr(tt.chunk)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if ev.Status != tt.want || ev.Message != tt.message {
				t.Errorf("got %s %q, want %s %q", ev.Status, ev.Message, tt.want, tt.message)
			}
		})
	}
}

func TestDetectInterpreter(t *testing.T) {
	d := DetectInterpreter{Model: "all.pt"}

	tests := []struct {
		name string
		line string
		want []events.Analysis
	}{
		{"blank", "   ", nil},
		{"fatal", "Exiting process due to dangerous object detection", nil},
		{
			"night motion",
			"WARNING: Motion detected in night scene!",
			[]events.Analysis{{Status: events.StatusDanger, Message: "Motion detected in night scene", Trigger: TriggerNightMotion}},
		},
		{
			"dangerous",
			"WARNING: Dangerous objects detected: gun, knife",
			[]events.Analysis{{Status: events.StatusDanger, Message: "WARNING: Dangerous objects detected: gun, knife", Trigger: TriggerDangerousObject}},
		},
		{
			"motion",
			"Motion detected",
			[]events.Analysis{events.Info("Motion detected: Motion detected")},
		},
		{
			"night mode",
			"Night mode detected: Day scene",
			[]events.Analysis{events.Info("Night mode detected: Night mode detected: Day scene")},
		},
		{
			"saved",
			"Successfully saved dangerous frame to: runs/detect/predict/f.jpg",
			[]events.Analysis{events.Info("Results saved")},
		},
		{
			"classes",
			"detected 2 objects: gun, knife",
			[]events.Analysis{{Status: events.StatusInfo, Message: "Detected 2 objects: gun, knife", Classes: []string{"gun", "knife"}}},
		},
		{
			"video progress",
			"video 1/1 (frame 25/100) clip.mp4: detected 1 objects: car",
			[]events.Analysis{
				{Status: events.StatusInfo, Message: "Detected 1 objects: car", Classes: []string{"car"}},
				{Status: events.StatusProgress, Progress: 25, CurrentFrame: 25, ProgressTotal: 100, DetectedObjects: 1, Model: "all.pt"},
			},
		},
		{
			"image progress",
			"image 1/1 /tmp/a.jpg: 640x480 1 gun",
			[]events.Analysis{
				events.Info("image 1/1 /tmp/a.jpg: 640x480 1 gun"),
				{Status: events.StatusProgress, Progress: 100, CurrentFrame: 1, ProgressTotal: 1, Model: "all.pt"},
			},
		},
		{"plain", "Loaded model: all.pt", []events.Analysis{events.Info("Loaded model: all.pt")}},
		{"invalid json", "{not valid json}", []events.Analysis{events.Info("{not valid json}")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := d.Interpret(tt.line)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Interpret(%q)\n got  %+v\n want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestEmotionInterpreter(t *testing.T) {
	e := EmotionInterpreter{Marker: "Dominant emotion:"}

	got := e.Interpret("Dominant emotion: happy")
	if len(got) != 1 || got[0].Emotion != "happy" || got[0].Message != "Dominant emotion: happy" {
		t.Errorf("unexpected %+v", got)
	}
	got = e.Interpret("Processing frame 3/10")
	if len(got) != 1 || got[0].Emotion != "" || got[0].Message != "Processing frame 3/10" {
		t.Errorf("unexpected %+v", got)
	}
}

func TestAudioInterpreter(t *testing.T) {
	a := AudioInterpreter{Marker: "Paralinguistic feature"}

	if got := a.Interpret("loading weights"); got != nil {
		t.Errorf("expected line suppressed, got %+v", got)
	}
	got := a.Interpret("Paralinguistic feature: shouting ")
	if len(got) != 1 || got[0].Message != "Paralinguistic feature: shouting" {
		t.Errorf("unexpected %+v", got)
	}
}

func TestNewInterpreter(t *testing.T) {
	tests := []struct {
		spec ParserSpec
		want LineInterpreter
	}{
		{ParserSpec{Name: ParserDetect, Model: "all.pt"}, DetectInterpreter{Model: "all.pt"}},
		{ParserSpec{Name: ParserEmotion, Marker: "m"}, EmotionInterpreter{Marker: "m"}},
		{ParserSpec{Name: ParserAudio, Marker: "a"}, AudioInterpreter{Marker: "a"}},
		{ParserSpec{Name: ParserRaw}, RawInterpreter{}},
		{ParserSpec{}, RawInterpreter{}},
	}
	for _, tt := range tests {
		got, err := NewInterpreter(tt.spec)
		if err != nil {
			t.Fatalf("NewInterpreter(%+v) failed: %v", tt.spec, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("NewInterpreter(%+v) = %#v", tt.spec, got)
		}
	}

	if _, err := NewInterpreter(ParserSpec{Name: "yaml"}); err == nil {
		t.Error("expected error for unknown parser")
	}
}

func TestTriggerOf(t *testing.T) {
	if got := TriggerOf(events.Info("x")); got != "" {
		t.Errorf("info has trigger %q", got)
	}
	if got := TriggerOf(events.Danger("x")); got != TriggerDanger {
		t.Errorf("bare danger trigger = %q", got)
	}
	ev := events.Danger("x")
	ev.Trigger = TriggerNightMotion
	if got := TriggerOf(ev); got != TriggerNightMotion {
		t.Errorf("trigger = %q", got)
	}
}

func TestSplitCommand(t *testing.T) {
	tests := []struct {
		in      string
		want    []string
		wantErr bool
	}{
		{"python3", []string{"python3"}, false},
		{"python3 -u", []string{"python3", "-u"}, false},
		{`env "A B" c`, []string{"env", "A B", "c"}, false},
		{`echo hello\ world`, []string{"echo", "hello world"}, false},
		{`echo "unclosed`, nil, true},
		{"   ", nil, true},
	}
	for _, tt := range tests {
		got, err := SplitCommand(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("SplitCommand(%q) error = %v", tt.in, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitCommand(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

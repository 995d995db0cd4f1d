package relay

import (
	"context"
	"fmt"

	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/metrics"
	"github.com/smazurov/detectnode/internal/process"
)

// Relay channel names used in metrics and bus events.
const (
	ChannelFile     = "file"
	ChannelAudio    = "audio"
	ChannelCamera   = "camera"
	ChannelIPCamera = "ip_camera"
	ChannelSocket   = "ws_camera"
)

// Sink receives events for one client connection. Send is never called
// concurrently for the same sink.
type Sink interface {
	Send(ev events.Analysis) error
}

// SSESink writes events as `data: <json>` records through a huma sender.
type SSESink struct {
	send      sse.Sender
	channel   string
	bus       *events.Bus
	sessionID string
}

// NewSSESink wraps send. Bus may be nil.
func NewSSESink(send sse.Sender, channel string, bus *events.Bus) *SSESink {
	return &SSESink{send: send, channel: channel, bus: bus}
}

// WithSession tags mirrored bus events with a worker session id.
func (s *SSESink) WithSession(id string) *SSESink {
	c := *s
	c.sessionID = id
	return &c
}

// Send implements Sink.
func (s *SSESink) Send(ev events.Analysis) error {
	if err := s.send.Data(ev); err != nil {
		metrics.EventRelayed(s.channel, "dropped")
		return fmt.Errorf("sse write: %w", err)
	}
	record(s.bus, s.channel, s.sessionID, ev)
	return nil
}

// record counts ev and mirrors it on the bus without its image payload.
func record(bus *events.Bus, channel, sessionID string, ev events.Analysis) {
	metrics.EventRelayed(channel, string(ev.Status))
	if ev.Status == events.StatusFrame || ev.Status == events.StatusProgress {
		return
	}
	msg := ev.Message
	if msg == "" {
		msg = ev.Error
	}
	bus.Publish(events.AnalysisRelayedEvent{
		Channel:   channel,
		SessionID: sessionID,
		Status:    ev.Status,
		Message:   msg,
	})
}

// Follow relays every event of sess to sink until the worker exits or ctx is
// cancelled, in which case the worker is stopped. A failed send also stops
// the worker. A worker that exits nonzero on its own produces a final error
// event "<label> exited with code N".
func Follow(ctx context.Context, sess *process.Session, sink Sink, label string) (process.Result, error) {
	var failed bool
	sess.Subscribe(func(ev events.Analysis) {
		if failed {
			return
		}
		if err := sink.Send(ev); err != nil {
			failed = true
			sess.Stop()
		}
	})
	if err := sess.Start(); err != nil {
		<-sess.Done()
		return sess.Wait(), err
	}

	stopped := false
	select {
	case <-sess.Done():
	case <-ctx.Done():
		stopped = true
		sess.Stop()
	}
	res := sess.Wait()

	if stopped || failed || res.Success() {
		return res, nil
	}
	var msg string
	switch {
	case res.Err != nil:
		msg = fmt.Sprintf("%s failed to run: %v", label, res.Err)
	case res.Signaled():
		// Stopped from elsewhere, e.g. the slot was replaced or an admin stop.
		return res, nil
	default:
		msg = fmt.Sprintf("%s exited with code %d", label, res.ExitCode)
	}
	_ = sink.Send(events.Failure(msg))
	return res, nil
}

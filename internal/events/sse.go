package events

import "github.com/kelindar/event"

// SubscribeToChannel bridges kelindar/event callback-based subscriptions to channels
// This is needed for SSE integration where Huma expects a channel-based select loop.
func SubscribeToChannel[T Event](bus *Bus, ch chan<- any) func() {
	return event.Subscribe(bus.dispatcher, func(e T) {
		select {
		case ch <- e:
		default:
			// Drop event if channel is full (non-blocking)
		}
	})
}

// SubscribeMonitor forwards every operational event to ch.
// Log entries are excluded.
func SubscribeMonitor(bus *Bus, ch chan<- any) func() {
	unsubs := []func(){
		SubscribeToChannel[SessionStateChangedEvent](bus, ch),
		SubscribeToChannel[PipelineFinishedEvent](bus, ch),
		SubscribeToChannel[RegistryStoppedEvent](bus, ch),
		SubscribeToChannel[AnalysisRelayedEvent](bus, ch),
		SubscribeToChannel[WorkerStatsEvent](bus, ch),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Package process supervises analysis workers.
//
// The package offers two levels of abstraction:
//
// Session wraps os/exec for one worker:
//   - Lifecycle starting -> running -> stopping -> exited
//   - Stdout framed into structured records and interpreted text lines
//   - Stderr classified into info and error events
//   - Optional stdin for bidirectional workers
//   - Graceful shutdown with SIGTERM, SIGKILL after a grace period
//
// Registry tracks every live session:
//   - Register/Unregister on spawn and exit
//   - StopAll for a global stop that also gates new spawns
//   - Reset to re-arm after a global stop
//   - State change callback for events and metrics
//
// Example usage:
//
//	reg := process.NewRegistry(&process.RegistryOptions{
//	    OnStateChange: func(info process.Info, old process.State) {
//	        log.Printf("worker %s: %s -> %s", info.Name, old, info.State)
//	    },
//	})
//	s := process.NewSession(process.Options{
//	    Name:        "objects",
//	    Program:     "python3",
//	    Args:        []string{"detect.py", "--source", path},
//	    Interpreter: process.DetectInterpreter{Model: "all.pt"},
//	}, reg)
//	s.Subscribe(func(ev events.Analysis) { relay(ev) })
//	if err := s.Start(); err != nil {
//	    return err
//	}
//	result := s.Wait()
package process

package process

import (
	"sort"
	"sync"

	"github.com/smazurov/detectnode/internal/logging"
)

// StateChangeCallback is called on every session transition.
// Used for domain-specific reactions (events, metrics).
type StateChangeCallback func(info Info, old State)

// RegistryOptions configures a new Registry.
type RegistryOptions struct {
	// OnStateChange is called when a session changes state (optional).
	OnStateChange StateChangeCallback

	// Logger for registry operations. If nil, uses the "process" module logger.
	Logger logging.Logger
}

// Registry tracks every live worker session of the process and gates new
// spawns during shutdown. It is passed explicitly to every component that
// spawns workers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	stopping bool

	onStateChange StateChangeCallback
	logger        logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(opts *RegistryOptions) *Registry {
	r := &Registry{sessions: make(map[string]*Session)}
	if opts != nil {
		r.onStateChange = opts.OnStateChange
		r.logger = opts.Logger
	}
	if r.logger == nil {
		r.logger = logging.GetLogger("process")
	}
	return r
}

// Register adds s to the live set. During shutdown the session is stopped
// immediately and ErrShuttingDown is returned.
func (r *Registry) Register(s *Session) error {
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		r.logger.Warn("Refusing worker during shutdown", "session_id", s.ID(), "name", s.Name())
		s.Stop()
		return ErrShuttingDown
	}
	r.sessions[s.ID()] = s
	r.mu.Unlock()
	return nil
}

// Unregister removes s. Calling it again is a no-op.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	delete(r.sessions, s.ID())
	r.mu.Unlock()
}

// StopAll sets the shutdown flag, signals every live session and clears the
// table. It does not wait for the workers to exit.
func (r *Registry) StopAll() int {
	r.mu.Lock()
	r.stopping = true
	victims := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		victims = append(victims, s)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	r.logger.Info("Stopping all workers", "count", len(victims))
	for _, s := range victims {
		s.Stop()
	}
	return len(victims)
}

// Stopping reports whether StopAll has been called since the last Reset.
func (r *Registry) Stopping() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopping
}

// Reset clears the shutdown flag so new workers may start again.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.stopping = false
	r.mu.Unlock()
	r.logger.Info("Worker registry re-armed")
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// List returns a snapshot of live sessions ordered by start time.
func (r *Registry) List() []Info {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos
}

func (r *Registry) notify(info Info, old State) {
	if r.onStateChange != nil {
		r.onStateChange(info, old)
	}
}

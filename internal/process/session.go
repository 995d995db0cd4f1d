package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/framing"
	"github.com/smazurov/detectnode/internal/logging"
)

const (
	defaultGracePeriod = 5 * time.Second
	eventQueueSize     = 256
	stderrChunkSize    = 32 * 1024
	// pipeDrainTimeout bounds reading output after the worker exits. A
	// background child that inherited stdout can hold the pipe open.
	pipeDrainTimeout = 2 * time.Second
)

// Handler receives session events in the order the worker produced them.
type Handler func(events.Analysis)

// Options describes one worker invocation.
type Options struct {
	// Name labels the worker in logs, metrics and the admin API.
	Name    string
	Program string
	Args    []string
	// Dir is the working directory; empty inherits ours.
	Dir string
	// Env holds KEY=VALUE overrides on top of the inherited environment.
	Env []string
	// Stdin opens a writable stdin pipe for bidirectional sessions.
	Stdin bool
	// Interpreter handles plain text stdout lines. Nil relays them raw.
	Interpreter LineInterpreter
	// GracePeriod is how long a worker may take to exit after SIGTERM
	// before the process group is killed.
	GracePeriod time.Duration
	// Logger for session operations. Nil uses the "process" module logger.
	Logger logging.Logger
	// OutputLogger receives worker output lines. Nil uses the "worker" module logger.
	OutputLogger logging.Logger
}

// Session supervises one spawned worker process.
type Session struct {
	id        string
	opts      Options
	registry  *Registry
	logger    logging.Logger
	outLogger logging.Logger

	mu            sync.Mutex
	state         State
	cmd           *exec.Cmd
	pid           int
	startedAt     time.Time
	stdin         io.WriteCloser
	writable      bool
	stopRequested bool
	handler       Handler
	result        Result

	writeMu sync.Mutex

	queue  chan events.Analysis
	exited chan struct{} // closed once the OS reports termination
	done   chan struct{} // closed once every event is delivered
}

// NewSession creates a session bound to registry. The worker is not spawned
// until Start. A nil registry leaves the session unsupervised.
func NewSession(opts Options, registry *Registry) *Session {
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = defaultGracePeriod
	}
	if opts.Interpreter == nil {
		opts.Interpreter = RawInterpreter{}
	}
	if opts.Name == "" {
		opts.Name = opts.Program
	}

	s := &Session{
		id:       uuid.NewString(),
		opts:     opts,
		registry: registry,
		logger:   opts.Logger,
		queue:    make(chan events.Analysis, eventQueueSize),
		exited:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if s.logger == nil {
		s.logger = logging.GetLogger("process")
	}
	s.outLogger = opts.OutputLogger
	if s.outLogger == nil {
		s.outLogger = logging.GetLogger("worker")
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Name returns the worker name.
func (s *Session) Name() string { return s.opts.Name }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.infoLocked()
}

func (s *Session) infoLocked() Info {
	return Info{
		ID:        s.id,
		Name:      s.opts.Name,
		State:     s.state,
		PID:       s.pid,
		Program:   s.opts.Program,
		Args:      s.opts.Args,
		StartedAt: s.startedAt,
		ExitCode:  s.result.ExitCode,
		Signal:    s.result.Signal,
	}
}

// Subscribe attaches the single event handler, replacing any previous one.
// Events produced while no handler is attached are dropped, so subscribe
// before Start.
func (s *Session) Subscribe(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Done is closed once the worker has exited and every event was delivered.
func (s *Session) Done() <-chan struct{} { return s.done }

// Wait blocks until Done and returns the exit result.
func (s *Session) Wait() Result {
	<-s.done
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Start registers the session and spawns the worker.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.state != "" {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateStarting
	s.mu.Unlock()
	s.notify("", StateStarting)

	go s.dispatch()

	if s.registry != nil {
		if err := s.registry.Register(s); err != nil {
			s.abort(err)
			return err
		}
	}

	cmd := exec.Command(s.opts.Program, s.opts.Args...)
	cmd.Dir = s.opts.Dir
	if len(s.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), s.opts.Env...)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	// Own the read ends so they can be closed once the worker is gone,
	// even while an inherited descriptor keeps the pipe open.
	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		s.abort(err)
		return fmt.Errorf("stdout pipe for %s: %w", s.opts.Name, err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		closeAll(stdout, stdoutW)
		s.abort(err)
		return fmt.Errorf("stderr pipe for %s: %w", s.opts.Name, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	var stdin io.WriteCloser
	if s.opts.Stdin {
		if stdin, err = cmd.StdinPipe(); err != nil {
			closeAll(stdout, stdoutW, stderr, stderrW)
			s.abort(err)
			return fmt.Errorf("stdin pipe for %s: %w", s.opts.Name, err)
		}
	}

	err = cmd.Start()
	// The child holds its own copies of the write ends.
	closeAll(stdoutW, stderrW)
	if err != nil {
		closeAll(stdout, stderr)
		s.logger.Error("Failed to start worker", "session_id", s.id, "name", s.opts.Name, "program", s.opts.Program, "error", err)
		s.abort(err)
		return fmt.Errorf("start %s: %w", s.opts.Name, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.startedAt = time.Now()
	s.stdin = stdin
	s.writable = stdin != nil
	stopNow := s.stopRequested
	next := StateRunning
	if stopNow {
		next = StateStopping
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Info("Worker started", "session_id", s.id, "name", s.opts.Name, "pid", cmd.Process.Pid, "args", s.opts.Args)
	s.notify(StateStarting, next)

	if stopNow {
		s.terminate()
	}

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		s.readStdout(stdout)
	}()
	go func() {
		defer readers.Done()
		s.readStderr(stderr)
	}()
	go s.wait(&readers, stdout, stderr)

	return nil
}

// Stop asks the worker to terminate. It is idempotent: the first call sends
// SIGTERM to the process group and schedules SIGKILL after the grace period.
func (s *Session) Stop() {
	s.mu.Lock()
	switch s.state {
	case "", StateStarting:
		s.stopRequested = true
		s.mu.Unlock()
		return
	case StateStopping, StateExited:
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	s.mu.Unlock()

	s.notify(StateRunning, StateStopping)
	s.terminate()
}

// WriteLine writes line plus a newline to the worker stdin. The first failed
// write marks the worker unwritable and is swallowed; later writes return
// ErrNotWritable without touching the pipe.
func (s *Session) WriteLine(line []byte) error {
	s.mu.Lock()
	w := s.stdin
	ok := s.writable && w != nil
	s.mu.Unlock()
	if !ok {
		return ErrNotWritable
	}

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		buf = append(buf, '\n')
	}

	s.writeMu.Lock()
	_, err := w.Write(buf)
	s.writeMu.Unlock()
	if err != nil {
		s.mu.Lock()
		s.writable = false
		s.mu.Unlock()
		s.logger.Debug("Worker stdin closed", "session_id", s.id, "name", s.opts.Name, "error", err)
	}
	return nil
}

// Writable reports whether stdin still accepts writes.
func (s *Session) Writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writable
}

func (s *Session) terminate() {
	s.mu.Lock()
	pid := s.pid
	stdin := s.stdin
	s.writable = false
	s.mu.Unlock()

	if stdin != nil {
		_ = stdin.Close()
	}
	if pid == 0 {
		return
	}

	s.logger.Info("Sending SIGTERM to worker", "session_id", s.id, "name", s.opts.Name, "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("Failed to send SIGTERM", "session_id", s.id, "error", err)
	}

	go func() {
		timer := time.NewTimer(s.opts.GracePeriod)
		defer timer.Stop()
		select {
		case <-s.exited:
		case <-timer.C:
			s.logger.Warn("Graceful shutdown timeout, forcing kill", "session_id", s.id, "timeout", s.opts.GracePeriod)
			if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
				s.logger.Error("Failed to kill worker", "session_id", s.id, "error", err)
			}
		}
	}()
}

// abort finishes a session that never spawned.
func (s *Session) abort(err error) {
	s.mu.Lock()
	old := s.state
	s.state = StateExited
	s.result = Result{ExitCode: -1, Err: err}
	s.mu.Unlock()

	s.notify(old, StateExited)
	if s.registry != nil {
		s.registry.Unregister(s)
	}
	close(s.exited)
	close(s.queue)
}

func (s *Session) wait(readers *sync.WaitGroup, stdout, stderr *os.File) {
	err := s.cmd.Wait()
	result := resultFromError(err)

	s.mu.Lock()
	old := s.state
	s.state = StateExited
	s.writable = false
	s.result = result
	s.mu.Unlock()

	s.logger.Info("Worker exited", "session_id", s.id, "name", s.opts.Name, "exit_code", result.ExitCode, "signal", result.Signal)
	s.notify(old, StateExited)
	close(s.exited)
	if s.registry != nil {
		s.registry.Unregister(s)
	}

	s.drain(readers, stdout, stderr)
	close(s.queue)
}

// drain waits for the readers to consume output written before exit, then
// closes the read ends.
func (s *Session) drain(readers *sync.WaitGroup, stdout, stderr *os.File) {
	finished := make(chan struct{})
	go func() {
		readers.Wait()
		close(finished)
	}()

	timer := time.NewTimer(pipeDrainTimeout)
	defer timer.Stop()
	select {
	case <-finished:
	case <-timer.C:
		s.logger.Warn("Worker output still open after exit, closing pipes", "session_id", s.id, "name", s.opts.Name)
	}
	closeAll(stdout, stderr)
	<-finished
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func (s *Session) dispatch() {
	defer close(s.done)
	for ev := range s.queue {
		s.mu.Lock()
		h := s.handler
		s.mu.Unlock()
		if h != nil {
			h(ev)
		}
	}
}

func (s *Session) emit(ev events.Analysis) {
	s.queue <- ev
}

func (s *Session) readStdout(r io.Reader) {
	err := framing.Scan(r, func(line framing.Line) error {
		s.handleLine(line)
		return nil
	})
	if err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Warn("Error reading worker stdout", "session_id", s.id, "error", err)
	}
}

func (s *Session) handleLine(line framing.Line) {
	if line.Kind == framing.KindRecord {
		var ev events.Analysis
		if err := line.Decode(&ev); err == nil && ev.Status.Valid() {
			s.outLogger.Debug("Worker record", "session_id", s.id, "name", s.opts.Name, "status", ev.Status)
			s.emit(ev)
			return
		}
	}

	s.outLogger.Info(strings.TrimRight(line.Text, "\r"), "session_id", s.id, "name", s.opts.Name)
	if strings.Contains(line.Text, FatalMarker) {
		s.Stop()
	}
	for _, ev := range s.opts.Interpreter.Interpret(line.Text) {
		s.emit(ev)
	}
}

func (s *Session) readStderr(r io.Reader) {
	buf := make([]byte, stderrChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if ev, ok := ClassifyStderr(chunk); ok {
				if ev.Status == events.StatusError {
					s.outLogger.Warn(strings.TrimSpace(chunk), "session_id", s.id, "name", s.opts.Name, "stream", "stderr")
				} else {
					s.outLogger.Debug(ev.Message, "session_id", s.id, "name", s.opts.Name, "stream", "stderr")
				}
				s.emit(ev)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("Error reading worker stderr", "session_id", s.id, "error", err)
			}
			return
		}
	}
}

func (s *Session) notify(old, next State) {
	if s.registry == nil {
		return
	}
	s.mu.Lock()
	info := s.infoLocked()
	s.mu.Unlock()
	info.State = next
	s.registry.notify(info, old)
}

// resultFromError converts the error returned by exec.Cmd.Wait.
func resultFromError(err error) Result {
	if err == nil {
		return Result{}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return Result{ExitCode: -1, Signal: ws.Signal().String()}
		}
		return Result{ExitCode: exitErr.ExitCode()}
	}
	return Result{ExitCode: -1, Err: err}
}

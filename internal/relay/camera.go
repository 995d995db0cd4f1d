package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/logging"
	"github.com/smazurov/detectnode/internal/metrics"
	"github.com/smazurov/detectnode/internal/process"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	closeWait      = time.Second
	outQueueSize   = 64
	maxMessageSize = 16 << 20
)

// Control message types sent by the browser.
const (
	MessageInit  = "init"
	MessageFrame = "frame"
	MessageStop  = "stop"
)

var (
	errClientStop = errors.New("client requested stop")
	errClientGone = errors.New("client disconnected")
)

// ControlMessage is one client message on the camera socket.
type ControlMessage struct {
	Type  string `json:"type"`
	Model string `json:"model,omitempty"`
	Image string `json:"image,omitempty"`
}

type frameLine struct {
	Image string `json:"image"`
}

// StripDataURL returns the payload of a data URL such as
// "data:image/jpeg;base64,AAA". Other input is returned unchanged.
func StripDataURL(s string) string {
	if !strings.HasPrefix(s, "data:") {
		return s
	}
	if i := strings.IndexByte(s, ','); i >= 0 {
		return s[i+1:]
	}
	return s
}

// CameraOptions configures a CameraRelay.
type CameraOptions struct {
	Registry *process.Registry
	Bus      *events.Bus
	// Workers returns the current worker definitions.
	Workers func() config.Workers
	// WriteTimeout bounds each write to the client. Zero uses 10s.
	WriteTimeout time.Duration
	Logger       logging.Logger
}

// CameraRelay serves the bidirectional browser camera socket.
type CameraRelay struct {
	registry *process.Registry
	bus      *events.Bus
	workers  func() config.Workers
	logger   logging.Logger
	upgrader websocket.Upgrader

	writeTimeout time.Duration
}

// NewCameraRelay creates the relay.
func NewCameraRelay(opts CameraOptions) *CameraRelay {
	c := &CameraRelay{
		registry: opts.Registry,
		bus:      opts.Bus,
		workers:  opts.Workers,
		logger:   opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		writeTimeout: opts.WriteTimeout,
	}
	if c.writeTimeout <= 0 {
		c.writeTimeout = writeWait
	}
	if c.logger == nil {
		c.logger = logging.GetLogger("relay")
	}
	if c.workers == nil {
		c.workers = config.DefaultWorkers
	}
	return c
}

// ServeHTTP upgrades the request and relays until either side closes.
func (c *CameraRelay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.Warn("WebSocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxMessageSize)

	c.logger.Info("Camera socket connected", "remote_addr", r.RemoteAddr)
	err = c.serve(r.Context(), conn)
	c.logger.Info("Camera socket closed", "remote_addr", r.RemoteAddr, "reason", err)
}

type queuedEvent struct {
	ev      events.Analysis
	session string
}

// cameraConn is the state of one socket. sess, model and startErr are owned
// by the reading flow.
type cameraConn struct {
	relay *CameraRelay
	conn  *websocket.Conn
	ctx   context.Context
	out   chan queuedEvent

	model    string
	sess     *process.Session
	startErr error
	// limiter is nil when frames are not throttled.
	limiter *rate.Limiter
}

// serve runs the client-to-worker and worker-to-client flows under one
// context. Whichever ends first cancels the other, then the worker is stopped.
func (c *CameraRelay) serve(ctx context.Context, conn *websocket.Conn) error {
	g, gctx := errgroup.WithContext(ctx)
	camera := c.workers().Camera
	cc := &cameraConn{
		relay: c,
		conn:  conn,
		ctx:   gctx,
		out:   make(chan queuedEvent, outQueueSize),
		model: camera.DefaultModel,
	}
	if camera.MaxFPS > 0 {
		cc.limiter = rate.NewLimiter(rate.Limit(camera.MaxFPS), 1)
	}
	g.Go(cc.readClient)
	g.Go(cc.writeClient)
	err := g.Wait()

	cc.stopSession()
	if errors.Is(err, errClientStop) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stopped")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWait))
	}
	return err
}

func (cc *cameraConn) readClient() error {
	for {
		_, data, err := cc.conn.ReadMessage()
		if err != nil {
			if cc.ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cc.relay.logger.Debug("Camera socket read failed", "error", err)
			}
			return errClientGone
		}
		if err := cc.handle(data); err != nil {
			return err
		}
	}
}

func (cc *cameraConn) handle(data []byte) error {
	var msg ControlMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		cc.push(events.Failure("Invalid JSON message"), "")
		return nil
	}

	switch msg.Type {
	case MessageInit:
		cc.startErr = nil
		if err := cc.ensureSession(msg.Model); err != nil {
			cc.startErr = err
			cc.push(events.Failure(err.Error()), "")
			return nil
		}
		cc.push(events.Info(fmt.Sprintf("Camera session started (model=%s)", cc.model)), cc.sess.ID())
	case MessageFrame:
		// A failed start is reported once; frames wait for the next init.
		if cc.startErr != nil {
			return nil
		}
		if err := cc.ensureSession(""); err != nil {
			cc.startErr = err
			cc.push(events.Failure(err.Error()), "")
			return nil
		}
		if cc.limiter != nil && !cc.limiter.Allow() {
			metrics.FrameDropped(metrics.DropThrottled)
			return nil
		}
		cc.forward(msg.Image)
	case MessageStop:
		return errClientStop
	default:
		cc.relay.logger.Debug("Ignoring camera message", "type", msg.Type)
	}
	return nil
}

// ensureSession starts the camera worker unless one is alive. A worker that
// exited on its own is replaced.
func (cc *cameraConn) ensureSession(model string) error {
	if cc.sess != nil {
		select {
		case <-cc.sess.Done():
			cc.sess = nil
		default:
			return nil
		}
	}
	if model != "" {
		cc.model = model
	}

	opts, err := CameraWorker(cc.relay.workers(), cc.model, true)
	if err != nil {
		return fmt.Errorf("camera worker: %w", err)
	}
	sess := process.NewSession(opts, cc.relay.registry)
	id := sess.ID()
	sess.Subscribe(func(ev events.Analysis) { cc.push(ev, id) })
	if err := sess.Start(); err != nil {
		return fmt.Errorf("camera worker: %w", err)
	}
	cc.sess = sess
	return nil
}

func (cc *cameraConn) forward(image string) {
	line, err := sonic.Marshal(frameLine{Image: StripDataURL(image)})
	if err != nil {
		cc.relay.logger.Warn("Failed to encode frame", "error", err)
		return
	}
	if err := cc.sess.WriteLine(line); err != nil {
		metrics.FrameDropped(metrics.DropNotWritable)
		cc.relay.logger.Debug("Frame dropped", "session_id", cc.sess.ID(), "error", err)
	}
}

func (cc *cameraConn) stopSession() {
	if cc.sess == nil {
		return
	}
	cc.sess.Stop()
	<-cc.sess.Done()
	cc.sess = nil
}

// push queues ev for the client. It gives up once the connection is closing.
func (cc *cameraConn) push(ev events.Analysis, session string) {
	select {
	case cc.out <- queuedEvent{ev: ev, session: session}:
	case <-cc.ctx.Done():
	}
}

func (cc *cameraConn) writeClient() error {
	for {
		select {
		case <-cc.ctx.Done():
			// Unblock the reader.
			_ = cc.conn.SetReadDeadline(time.Now())
			return nil
		case o := <-cc.out:
			data, err := sonic.Marshal(o.ev)
			if err != nil {
				cc.relay.logger.Warn("Failed to encode event", "error", err)
				continue
			}
			_ = cc.conn.SetWriteDeadline(time.Now().Add(cc.relay.writeTimeout))
			if err := cc.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				metrics.EventRelayed(ChannelSocket, "dropped")
				// The reader may be blocked on a client that never sends again.
				_ = cc.conn.SetReadDeadline(time.Now())
				return fmt.Errorf("websocket write: %w", err)
			}
			record(cc.relay.bus, ChannelSocket, o.session, o.ev)
		}
	}
}

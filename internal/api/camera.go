package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/detectnode/internal/api/models"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/logging"
	"github.com/smazurov/detectnode/internal/process"
	"github.com/smazurov/detectnode/internal/relay"
)

// followSlot runs sess in slot, relaying its events until it exits or the
// client goes away.
func (s *Server) followSlot(ctx context.Context, slot *relay.Slot, sess *process.Session, sink *relay.SSESink, label string) {
	slot.Replace(sess)
	defer slot.Release(sess)

	res, err := relay.Follow(ctx, sess, sink.WithSession(sess.ID()), label)
	if err != nil {
		_ = sink.Send(events.Failure(err.Error()))
		return
	}
	s.logger.Info("Camera worker finished", "name", sess.Name(), "session_id", sess.ID(), "exit_code", res.ExitCode, "signal", res.Signal)
}

func (s *Server) registerCameraRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "camera-start",
		Method:      http.MethodGet,
		Path:        "/api/camera/start",
		Summary:     "Start Camera Analysis",
		Description: "Start the server-side camera worker and stream its events. A running camera worker is replaced.",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, analysisEvents, func(ctx context.Context, input *models.CameraRequest, send sse.Sender) {
		sink := relay.NewSSESink(send, relay.ChannelCamera, s.eventBus)
		w := s.options.Workers()

		if err := relay.CheckModel(w, input.Model); err != nil {
			_ = sink.Send(events.Failure("Model not found: " + input.Model))
			return
		}
		opts, err := relay.CameraWorker(w, input.Model, false)
		if err != nil {
			_ = sink.Send(events.Failure(err.Error()))
			return
		}
		s.logger.Info("Starting camera analysis", "model", input.Model, "camera_id", input.CameraID)
		s.followSlot(ctx, &s.camera, process.NewSession(opts, s.registry), sink, "Camera process")
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "camera-stop",
		Method:      http.MethodPost,
		Path:        "/api/camera/stop",
		Summary:     "Stop Camera Analysis",
		Description: "Stop the server-side camera worker",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.MessageResponse, error) {
		msg := "No camera analysis running"
		if s.camera.Stop() {
			msg = "Camera analysis stopped"
		}
		return &models.MessageResponse{Body: models.MessageData{Message: msg}}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "ip-camera-start",
		Method:      http.MethodGet,
		Path:        "/api/ip-camera/start",
		Summary:     "Start IP Camera Analysis",
		Description: "Start the IP camera worker on an RTSP stream and stream its events. A running IP camera worker is replaced.",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, analysisEvents, func(ctx context.Context, input *models.IPCameraRequest, send sse.Sender) {
		sink := relay.NewSSESink(send, relay.ChannelIPCamera, s.eventBus)

		opts, err := relay.IPCameraWorker(s.options.Workers(), relay.IPCameraRequest{
			Model:           input.Model,
			RTSPURL:         input.RTSPURL,
			MotionDetection: input.MotionDetection,
			NightMode:       input.NightMode,
		})
		switch {
		case errors.Is(err, relay.ErrScriptNotFound):
			_ = sink.Send(events.Failure("Script not found"))
			return
		case errors.Is(err, relay.ErrModelNotFound):
			_ = sink.Send(events.Failure("Model not found"))
			return
		case err != nil:
			_ = sink.Send(events.Failure(err.Error()))
			return
		}
		s.logger.Info("Starting IP camera analysis", "model", input.Model, "motion_detection", input.MotionDetection, "night_mode", input.NightMode)
		s.followSlot(ctx, &s.ipCamera, process.NewSession(opts, s.registry), sink, "IP camera process")
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "ip-camera-stop",
		Method:      http.MethodPost,
		Path:        "/api/ip-camera/stop",
		Summary:     "Stop IP Camera Analysis",
		Description: "Stop the IP camera worker",
		Tags:        []string{"camera"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.MessageResponse, error) {
		msg := "No IP camera analysis running"
		if s.ipCamera.Stop() {
			msg = "IP camera analysis stopped"
		}
		return &models.MessageResponse{Body: models.MessageData{Message: msg}}, nil
	})

	// The browser camera socket lives outside huma, which has no WebSocket support.
	s.mux.Handle("GET /ws/camera", s.requireAuth(relay.NewCameraRelay(relay.CameraOptions{
		Registry: s.registry,
		Bus:      s.eventBus,
		Workers:  s.options.Workers,
		Logger:   logging.GetLogger("relay"),
	})))
}

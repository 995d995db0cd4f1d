package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/detectnode/internal/api/models"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
)

func (s *Server) registerAdminRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "admin-stop",
		Method:      http.MethodPost,
		Path:        "/api/admin/stop",
		Summary:     "Stop All Workers",
		Description: "Signal every live worker and refuse new ones. When configured, the service then exits so its supervisor restarts it.",
		Tags:        []string{"admin"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.AdminStopResponse, error) {
		n := s.registry.StopAll()
		s.eventBus.Publish(events.RegistryStoppedEvent{
			Stopped:   n,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})

		exiting := s.options.Shutdown != nil
		if exiting {
			s.logger.Warn("Exiting after admin stop", "delay", s.options.ShutdownDelay)
			time.AfterFunc(s.options.ShutdownDelay, s.options.Shutdown)
		}
		return &models.AdminStopResponse{
			Body: models.AdminStopData{
				Stopped: n,
				Message: "All workers stopped",
				Exiting: exiting,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "admin-reset",
		Method:      http.MethodPost,
		Path:        "/api/admin/reset",
		Summary:     "Re-arm Workers",
		Description: "Clear the stop flag so new workers may start",
		Tags:        []string{"admin"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.MessageResponse, error) {
		s.registry.Reset()
		return &models.MessageResponse{Body: models.MessageData{Message: "Workers re-armed"}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/api/workers",
		Summary:     "List Workers",
		Description: "List live worker sessions",
		Tags:        []string{"workers"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.WorkerListResponse, error) {
		infos := s.registry.List()
		workers := make([]models.WorkerData, 0, len(infos))
		for _, info := range infos {
			workers = append(workers, models.WorkerData{
				ID:        info.ID,
				Name:      info.Name,
				State:     string(info.State),
				PID:       info.PID,
				Program:   info.Program,
				Args:      info.Args,
				StartedAt: info.StartedAt,
			})
		}
		return &models.WorkerListResponse{
			Body: models.WorkerListData{
				Workers:  workers,
				Count:    len(workers),
				Stopping: s.registry.Stopping(),
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-worker-config",
		Method:      http.MethodGet,
		Path:        "/api/workers/config",
		Summary:     "Worker Definitions",
		Description: "Get the worker definitions currently in effect",
		Tags:        []string{"workers"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.WorkerConfigResponse, error) {
		return &models.WorkerConfigResponse{Body: s.options.Workers()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "check-workers",
		Method:      http.MethodGet,
		Path:        "/api/workers/check",
		Summary:     "Check Workers",
		Description: "Verify that the interpreter, worker scripts and models exist",
		Tags:        []string{"workers"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(ctx context.Context, input *struct{}) (*models.WorkerCheckResponse, error) {
		problems := append([]config.Problem{}, s.options.Workers().Check()...)
		return &models.WorkerCheckResponse{
			Body: models.WorkerCheckData{OK: len(problems) == 0, Problems: problems},
		}, nil
	})
}

package api

import (
	"context"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/detectnode/internal/api/models"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/pipeline"
	"github.com/smazurov/detectnode/internal/process"
	"github.com/smazurov/detectnode/internal/relay"
)

// analysisEvents is the SSE event map shared by every analysis stream.
// Analysis events use the default "message" type so browsers can read them
// with EventSource.onmessage.
var analysisEvents = map[string]any{
	"message": events.Analysis{},
}

// optionalStages lists the optional stages using parser.
func optionalStages(w config.Workers, parser string) []string {
	var names []string
	for _, s := range w.Stages {
		if s.Optional && s.Parser == parser {
			names = append(names, s.Name)
		}
	}
	return names
}

func (s *Server) registerAnalyzeRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "analyze-file",
		Method:      http.MethodGet,
		Path:        "/api/analyze",
		Summary:     "Analyze File",
		Description: "Run the staged detection pipeline on an uploaded file and stream its events. The stream ends after one complete or error event.",
		Tags:        []string{"analysis"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, analysisEvents, func(ctx context.Context, input *models.AnalyzeRequest, send sse.Sender) {
		sink := relay.NewSSESink(send, relay.ChannelFile, s.eventBus)
		emit := func(ev events.Analysis) { _ = sink.Send(ev) }

		if _, err := os.Stat(input.FilePath); err != nil {
			emit(events.Failure("File not found: " + input.FilePath))
			return
		}

		w := s.options.Workers()
		req := pipeline.FileRequest{
			Source:          input.FilePath,
			Quick:           input.QuickSearch,
			MotionDetection: input.MotionDetection,
			NightMode:       input.NightMode,
			Only:            input.Stages,
		}
		if input.EmotionDetection {
			req.Enable = optionalStages(w, process.ParserEmotion)
		}
		run, err := s.planner.File(req)
		if err != nil {
			emit(events.Failure(err.Error()))
			return
		}

		removed, err := pipeline.PrepareResults(w.ResultsRoot)
		if err != nil {
			s.logger.Warn("Failed to clean results", "root", w.ResultsRoot, "error", err)
		} else if len(removed) > 0 {
			s.logger.Debug("Removed stale results", "root", w.ResultsRoot, "dirs", removed)
		}

		s.orchestrator.Run(ctx, run, emit)
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "analyze-audio",
		Method:      http.MethodGet,
		Path:        "/api/audio/analyze",
		Summary:     "Analyze Audio",
		Description: "Run the audio worker on an uploaded file and stream its events.",
		Tags:        []string{"analysis"},
		Security:    withAuth(),
		Errors:      []int{400, 401},
	}, analysisEvents, func(ctx context.Context, input *models.AudioRequest, send sse.Sender) {
		sink := relay.NewSSESink(send, relay.ChannelAudio, s.eventBus)
		emit := func(ev events.Analysis) { _ = sink.Send(ev) }

		if _, err := os.Stat(input.FilePath); err != nil {
			emit(events.Failure("File not found: " + input.FilePath))
			return
		}
		run, err := s.planner.Audio(input.FilePath)
		if err != nil {
			emit(events.Failure(err.Error()))
			return
		}
		s.orchestrator.Run(ctx, run, emit)
	})
}

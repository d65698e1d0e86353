package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/signmatch/internal/model"
	"github.com/sells-group/signmatch/internal/monitoring"
	"github.com/sells-group/signmatch/internal/pipeline"
	"github.com/sells-group/signmatch/internal/resilience"
	"github.com/sells-group/signmatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for document intake and review",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store, env.Guard),
				monitoring.NewAlerter(cfg.Monitoring),
				env.Metrics,
				cfg.Monitoring,
			)
			go checker.Run(ctx)
		}

		srv := &server{
			docs:     env.Pipeline,
			store:    env.Store,
			metrics:  env.Metrics.Handler(),
			maxBytes: int64(cfg.Server.MaxUploadMB) << 20,
		}
		if env.Notifier != nil {
			srv.marker = env.Notifier
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		httpSrv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           srv.routes(cfg.Server.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// documentProcessor runs one document; *pipeline.Pipeline satisfies it.
type documentProcessor interface {
	Process(ctx context.Context, doc model.Document) (*pipeline.Result, error)
}

// serverStore is the store surface the API reads and writes directly.
type serverStore interface {
	Ping(ctx context.Context) error
	ListReviewItems(ctx context.Context, filter store.ReviewFilter) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, workspaceID, id, manualWorkOrderNumber string) error
	ClearResolved(ctx context.Context, workspaceID string) (int, error)
	ListDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
}

type server struct {
	docs    documentProcessor
	store   serverStore
	marker  resolvedMarker // may be nil
	metrics http.Handler
	// maxBytes bounds the uploaded file; zero disables the request limit.
	maxBytes int64
}

// multipart boundaries and form fields on top of the file itself.
const formOverhead = 1 << 20

func (s *server) routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/v1/workspaces/{workspace}", func(r chi.Router) {
		r.Post("/documents", s.handleDocument)
		r.Get("/review", s.handleListReview)
		r.Post("/review/clear-resolved", s.handleClearResolved)
		r.Post("/review/{id}/resolve", s.handleResolve)
		r.Get("/dlq", s.handleListDLQ)
	})
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleDocument(w http.ResponseWriter, r *http.Request) {
	if s.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBytes+formOverhead)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "document too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close() //nolint:errcheck

	content, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}

	doc := model.Document{
		WorkspaceID: chi.URLParam(r, "workspace"),
		Filename:    header.Filename,
		Content:     content,
		FmKey:       r.FormValue("fm_key"),
	}
	if doc.Crop, err = parseCrop(r.FormValue("crop")); err != nil {
		writeError(w, http.StatusBadRequest, "crop must be a JSON object")
		return
	}
	if id := r.FormValue("message_id"); id != "" {
		doc.Source = &model.MessageSource{
			MessageID:        id,
			QueueLabelID:     r.FormValue("queue_label_id"),
			ProcessedLabelID: r.FormValue("processed_label_id"),
		}
	}

	res, err := s.docs.Process(r.Context(), doc)
	if err != nil {
		writeProcessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func writeProcessError(w http.ResponseWriter, err error) {
	var verr *pipeline.ValidationError
	var cerr *pipeline.CollaboratorError
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Field == "content" && verr.Message != "is empty" {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, status, verr.Error())
	case errors.As(err, &cerr):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error": cerr.Error(),
			"stage": cerr.Stage,
		})
	default:
		zap.L().Error("process document failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *server) handleListReview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resolved, err := parseResolvedState(q.Get("state"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	offset, err := queryInt(q.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer")
		return
	}

	items, err := s.store.ListReviewItems(r.Context(), store.ReviewFilter{
		WorkspaceID: chi.URLParam(r, "workspace"),
		Resolved:    resolved,
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		zap.L().Error("list review items failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if items == nil {
		items = []model.ReviewItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkOrderNumber string `json:"work_order_number"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	workspace := chi.URLParam(r, "workspace")
	id := chi.URLParam(r, "id")
	if err := resolveReview(r.Context(), s.store, s.marker, workspace, id, req.WorkOrderNumber); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "review item not found")
			return
		}
		zap.L().Error("resolve review item failed", zap.String("review_item_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "resolved": true})
}

func (s *server) handleClearResolved(w http.ResponseWriter, r *http.Request) {
	workspace := chi.URLParam(r, "workspace")
	n, err := s.store.ClearResolved(r.Context(), workspace)
	if err != nil {
		zap.L().Error("clear resolved failed", zap.String("workspace_id", workspace), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (s *server) handleListDLQ(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := queryInt(q.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	entries, err := s.store.ListDLQ(r.Context(), resilience.DLQFilter{
		WorkspaceID: chi.URLParam(r, "workspace"),
		ErrorType:   q.Get("error_type"),
		Limit:       limit,
	})
	if err != nil {
		zap.L().Error("list dlq failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []resilience.DLQEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

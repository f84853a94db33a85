package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"xrayd/internal/cam"
	"xrayd/internal/pipeline"
	"xrayd/internal/store"
	"xrayd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Predict(ctx context.Context, req pipeline.Request) (*types.PredictResponse, error)
	OpenImage(name string) (io.ReadCloser, error)
	Status() types.StatusResponse
	Ready() bool
}

// defaultCAMMethod applies when the form omits cam_method.
const defaultCAMMethod = "gradcam"

// NewMux builds the router: the prediction API under /api/v1, liveness and
// readiness probes, /status, /metrics and the optional swagger mount.
func NewMux(svc Service) http.Handler {
	s := &server{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(corsOptions()))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/predict", s.predict)
		r.Get("/images/{name}", s.image)
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

type server struct {
	svc Service
}

// predict godoc
// @Summary      Explain one chest radiograph
// @Description  Classifies the uploaded image across all findings and renders
// @Description  a saliency heatmap plus overlay for the strongest finding.
// @Tags         predict
// @Accept       multipart/form-data
// @Produce      json
// @Param        file        formData  file    true   "Radiograph (png, jpg or jpeg)"
// @Param        cam_method  formData  string  false  "CAM algorithm: gradcam, gradcam++ or scorecam"  default(gradcam)
// @Success      200  {object}  types.PredictResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      413  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Router       /api/v1/predict [post]
func (s *server) predict(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	lvl := requestLogLevel(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "No file provided")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "upload exceeds size limit")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "unreadable upload")
		return
	}

	// Method names are matched exactly downstream; fold case here so clients
	// sending "GradCAM" are not rejected.
	method := strings.ToLower(r.FormValue("cam_method"))
	if method == "" {
		method = defaultCAMMethod
	}

	if lvl >= LevelInfo {
		lg := reqLog(r)
		lg.Info().
			Str("file", header.Filename).
			Str("cam_method", method).
			Int("bytes", len(content)).
			Msg("predict start")
	}

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()
	resp, err := s.svc.Predict(ctx, pipeline.Request{
		Filename: header.Filename,
		Content:  content,
		Method:   method,
	})
	if err != nil {
		// Client disconnect or shutdown: nothing useful to write.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := predictErrorStatus(err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("predict")
		}
		writeJSONError(w, status, err.Error())
		if lvl >= LevelInfo {
			lg := reqLog(r)
			lg.Info().Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("predict end")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	if lvl >= LevelInfo {
		lg := reqLog(r)
		lg.Info().
			Int("status", http.StatusOK).
			Dur("dur", time.Since(start)).
			Str("heatmap", resp.HeatmapPath).
			Msg("predict end")
	}
}

// image godoc
// @Summary      Fetch a rendered result image
// @Tags         predict
// @Produce      png
// @Param        name  path  string  true  "Image name from a predict response"
// @Success      200  {file}    file
// @Failure      404  {object}  types.ErrorResponse
// @Router       /api/v1/images/{name} [get]
func (s *server) image(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := store.ValidateName(name); err != nil {
		writeJSONError(w, http.StatusNotFound, "Image not found: "+name)
		return
	}
	f, err := s.svc.OpenImage(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			writeJSONError(w, http.StatusNotFound, "Image not found: "+name)
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/png")
	if _, err := io.Copy(w, f); err != nil {
		lg := reqLog(r)
		lg.Warn().Err(err).Msg("image copy aborted")
	}
}

// isBodyTooLarge detects the MaxBytesReader limit error.
func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// predictErrorStatus maps pipeline errors to HTTP status codes.
func predictErrorStatus(err error) int {
	switch {
	case cam.IsUnsupportedMethod(err), pipeline.IsInvalidInput(err):
		return http.StatusBadRequest
	case pipeline.IsTooBusy(err):
		return http.StatusTooManyRequests
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

// corsOptions translates the configured CORS values, defaulting the method
// and header lists for a browser upload client.
func corsOptions() cors.Options {
	methods := corsAllowedMethods
	if len(methods) == 0 {
		methods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	headers := corsAllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Accept", "Content-Type", "X-Log-Level"}
	}
	return cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   methods,
		AllowedHeaders:   headers,
		AllowCredentials: true,
		MaxAge:           300,
	}
}

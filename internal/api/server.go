package api

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/perceptionlab/assignd/internal/archive"
	"github.com/perceptionlab/assignd/internal/engine"
	"github.com/perceptionlab/assignd/internal/imagelib"
	"github.com/perceptionlab/assignd/internal/telemetry"
)

// maxRequestBody caps assignment/completion payloads. Submission CSVs run a
// few hundred KB at most.
const maxRequestBody = 4 << 20

// Server wires the assignment coordinator, the submission archive and the
// image library into the HTTP surface.
type Server struct {
	coord          *engine.Coordinator
	archive        *archive.Archive
	images         *imagelib.Library
	staticDir      string
	adminAPIKey    string
	rateLimitPerIP int
	log            zerolog.Logger
}

// NewServer creates an API server with its dependencies.
func NewServer(coord *engine.Coordinator, ar *archive.Archive, images *imagelib.Library,
	staticDir, adminKey string, rateLimitPerIP int, log zerolog.Logger) *Server {
	return &Server{
		coord:          coord,
		archive:        ar,
		images:         images,
		staticDir:      staticDir,
		adminAPIKey:    adminKey,
		rateLimitPerIP: rateLimitPerIP,
		log:            log,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(telemetry.Middleware)

	// health
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// participant-facing
	r.Group(func(r chi.Router) {
		if s.rateLimitPerIP > 0 {
			r.Use(httprate.LimitByIP(s.rateLimitPerIP, time.Minute))
		}
		r.Post("/api/assign", s.handleAssign)
	})
	r.Post("/api/complete", s.handleComplete)
	r.Post("/api/save_data", s.handleSaveData)
	r.Get("/api/list_images", s.handleListImages)

	// admin (protected)
	r.Get("/api/status", s.authAdmin(s.handleStatus))
	r.Get("/api/export", s.authAdmin(s.handleExport))
	r.Get("/api/list_data", s.authAdmin(s.handleListData))
	r.Get("/api/get_data/{filename}", s.authAdmin(s.handleGetData))

	// experiment assets
	if s.images != nil {
		r.Handle("/images/*", http.StripPrefix("/images/",
			http.FileServer(http.Dir(s.images.Dir()))))
	}
	if s.staticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.staticDir)))
	}

	return r
}

// ---- handlers ----

type assignRequest struct {
	ParticipantID string `json:"participantId"`
}

type assignResponse struct {
	Condition string `json:"condition"`
	Status    string `json:"status"` // "new" or "existing"
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}

	dec, err := s.coord.Assign(r.Context(), strings.TrimSpace(req.ParticipantID))
	if err != nil {
		if errors.Is(err, engine.ErrMissingParticipant) {
			BadRequestError(w, r, ErrCodeMissingParticipant, "missing participantId")
			return
		}
		s.log.Error().Err(err).Msg("assignment failed")
		InternalError(w, r, "assignment failed")
		return
	}

	status := "new"
	if dec.Existing {
		status = "existing"
	}
	telemetry.Assignments.WithLabelValues(string(dec.Condition), status).Inc()
	if dec.Swept > 0 {
		telemetry.SweptRecords.Add(float64(dec.Swept))
	}

	writeJSON(w, http.StatusOK, assignResponse{
		Condition: string(dec.Condition),
		Status:    status,
	})
}

type completeRequest struct {
	ParticipantID string `json:"participantId"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}

	pid := strings.TrimSpace(req.ParticipantID)
	if err := s.complete(r, pid); err != nil {
		if errors.Is(err, engine.ErrMissingParticipant) {
			BadRequestError(w, r, ErrCodeMissingParticipant, "missing participantId")
			return
		}
		s.log.Error().Err(err).Msg("completion failed")
		InternalError(w, r, "completion failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type saveDataRequest struct {
	ParticipantID string `json:"participantId"`
	CSVData       string `json:"csvData"`
}

type saveDataResponse struct {
	Status   string `json:"status"`
	Filename string `json:"filename"`
}

// handleSaveData archives the submission CSV and then marks the
// participant's assignment completed. The archive write comes first: the
// submitted data has value even when the assignment record already expired.
func (s *Server) handleSaveData(w http.ResponseWriter, r *http.Request) {
	var req saveDataRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		BadRequestError(w, r, ErrCodeInvalidJSON, "invalid JSON")
		return
	}

	pid := strings.TrimSpace(req.ParticipantID)
	if pid == "" {
		BadRequestError(w, r, ErrCodeMissingParticipant, "missing participantId")
		return
	}
	if req.CSVData == "" {
		BadRequestError(w, r, ErrCodeMissingCSVData, "no CSV data provided")
		return
	}

	filename, err := s.archive.Save(pid, time.Now().Unix(), []byte(req.CSVData))
	if err != nil {
		s.log.Error().Err(err).Str("participant", pid).Msg("archive write failed")
		InternalError(w, r, "failed to store submission")
		return
	}
	telemetry.ArchivedSubmissions.Inc()

	if err := s.complete(r, pid); err != nil {
		// Data is safely archived; log the accounting failure but do not
		// make the participant resubmit.
		s.log.Warn().Err(err).Str("participant", pid).Msg("completion accounting failed after archive")
	}

	writeJSON(w, http.StatusOK, saveDataResponse{Status: "success", Filename: filename})
}

func (s *Server) complete(r *http.Request, pid string) error {
	cond, found, err := s.coord.Complete(r.Context(), pid)
	if err != nil {
		return err
	}
	if found {
		telemetry.Completions.WithLabelValues(string(cond)).Inc()
	}
	return nil
}

type statusResponse struct {
	Policy     string                 `json:"policy"`
	Conditions []engine.ConditionLoad `json:"conditions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	loads, err := s.coord.Loads(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("status computation failed")
		InternalError(w, r, "failed to compute status")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Policy:     string(s.coord.Space().Policy()),
		Conditions: loads,
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	state, err := s.coord.Export(r.Context())
	if err != nil {
		s.log.Error().Err(err).Msg("state export failed")
		InternalError(w, r, "failed to export state")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListData(w http.ResponseWriter, r *http.Request) {
	names, err := s.archive.List()
	if err != nil {
		s.log.Error().Err(err).Msg("archive listing failed")
		InternalError(w, r, "failed to list archived data")
		return
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleGetData(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "filename")
	f, err := s.archive.Open(name)
	if err != nil {
		switch {
		case errors.Is(err, archive.ErrInvalidFilename):
			BadRequestError(w, r, ErrCodeInvalidFilename, "invalid filename")
		case errors.Is(err, os.ErrNotExist):
			NotFoundError(w, r, "no such data file")
		default:
			s.log.Error().Err(err).Str("file", name).Msg("archive read failed")
			InternalError(w, r, "failed to read data file")
		}
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "text/csv")
	_, _ = io.Copy(w, f)
}

type listImagesResponse struct {
	Images []imagelib.Entry `json:"images"`
	Count  int              `json:"count"`
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	entries, err := s.images.List()
	if err != nil {
		s.log.Error().Err(err).Msg("image library listing failed")
		InternalError(w, r, "failed to list images")
		return
	}
	if entries == nil {
		entries = []imagelib.Entry{}
	}
	writeJSON(w, http.StatusOK, listImagesResponse{Images: entries, Count: len(entries)})
}

// ---- middleware & helpers ----

func (s *Server) authAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer"))
		if got == "" {
			UnauthorizedError(w, r, "missing bearer token")
			return
		}
		// constant-time compare
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.adminAPIKey)) != 1 {
			ForbiddenError(w, r, "invalid token")
			return
		}
		next.ServeHTTP(w, r)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

package httpserver

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	appai "github.com/Jingik/S.F.D/internal/application/ai"
	"github.com/Jingik/S.F.D/internal/application/live"
	"github.com/Jingik/S.F.D/internal/application/records"
	scannerapp "github.com/Jingik/S.F.D/internal/application/scanner"
	"github.com/Jingik/S.F.D/internal/application/trigger"
	domai "github.com/Jingik/S.F.D/internal/domain/ai"
	"github.com/Jingik/S.F.D/internal/domain/detection"
	scandomain "github.com/Jingik/S.F.D/internal/domain/scanner"
	"github.com/Jingik/S.F.D/internal/middleware"
)

// Options carry the deployment knobs the handlers need.
type Options struct {
	SerialNumber int64
	IdleTimeout  time.Duration
}

type Router struct {
	live     *live.Registry
	scanners *scannerapp.Manager
	trigger  *trigger.Service
	records  *records.Service
	aiSvc    *appai.Service
	opts     Options
	log      zerolog.Logger
}

func NewRouter(reg *live.Registry, scanners *scannerapp.Manager, triggerSvc *trigger.Service, recordsSvc *records.Service, aiSvc *appai.Service, opts Options, log zerolog.Logger) http.Handler {
	r := &Router{
		live:     reg,
		scanners: scanners,
		trigger:  triggerSvc,
		records:  recordsSvc,
		aiSvc:    aiSvc,
		opts:     opts,
		log:      log.With().Str("component", "httpserver").Logger(),
	}
	mux := chi.NewRouter()

	mux.Route("/session", func(rt chi.Router) {
		rt.Get("/connect/{userID}", r.handleConnect)
		rt.Get("/stream/{userID}", r.handleStream)
		rt.Get("/disconnect", r.wrap(r.handleDisconnectAll))
		rt.Get("/trigger", r.wrap(r.handleTrigger))
	})

	mux.Route("/scanners", func(rt chi.Router) {
		rt.Get("/", r.wrap(r.handleListScanners))
		rt.Post("/start/{serial}", r.wrap(r.handleStart))
		rt.Post("/stop/{serial}", r.wrap(r.handleStop))
		rt.Get("/defect/{serial}", r.wrap(r.handleScannerDefects))
	})

	mux.Route("/records", func(rt chi.Router) {
		rt.Get("/latest/{userID}", r.wrap(r.handleLatestRecord))
		rt.Get("/week/{userID}", r.wrap(r.handleWeekRecords))
		rt.Get("/today-defects/{userID}", r.wrap(r.handleTodayDefects))
	})

	mux.Post("/captures/{serial}", r.wrap(r.handleCapture))
	mux.Post("/ai/defect-summary", r.wrap(r.handleDefectSummary))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// errBadRequest marks client-side input failures such as unparseable bodies.
var errBadRequest = errors.New("bad request")

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			switch {
			case errors.Is(err, errBadRequest):
				http.Error(w, err.Error(), http.StatusBadRequest)
			case errors.Is(err, scandomain.ErrNoActiveScanner):
				http.Error(w, "no scanner is currently in use", http.StatusConflict)
			case errors.Is(err, scandomain.ErrNotFound),
				errors.Is(err, detection.ErrNoRecord),
				errors.Is(err, sql.ErrNoRows):
				http.Error(w, "not found", http.StatusNotFound)
			case errors.Is(err, domai.ErrQuotaExceeded):
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
			default:
				r.log.Error().Err(err).Str("path", req.URL.Path).Msg("request failed")
				http.Error(w, err.Error(), http.StatusInternalServerError)
			}
		}
	}
}

// GET /session/trigger
// Fire-and-forget hardware callback: delivery happens before the response,
// but its outcome never changes the status returned to the device.
func (r *Router) handleTrigger(w http.ResponseWriter, req *http.Request) error {
	if _, err := r.trigger.Handle(req.Context()); err != nil {
		return err
	}
	middleware.IncrementTriggers()
	w.Write([]byte("trigger processed"))
	return nil
}

// GET /session/disconnect
func (r *Router) handleDisconnectAll(w http.ResponseWriter, req *http.Request) error {
	n := r.live.UnsubscribeAll()
	if err := r.scanners.DetachAll(req.Context()); err != nil {
		return err
	}
	fmt.Fprintf(w, "closed %d connections", n)
	return nil
}

// GET /scanners
func (r *Router) handleListScanners(w http.ResponseWriter, req *http.Request) error {
	list, err := r.scanners.List(req.Context())
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(list)
}

// POST /scanners/start/{serial}
// Body: {"user_id": <id>}
func (r *Router) handleStart(w http.ResponseWriter, req *http.Request) error {
	serial, err := urlInt64(req, "serial")
	if err != nil {
		return err
	}
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding body: %v: %w", err, errBadRequest)
	}
	if _, err := r.scanners.Attach(req.Context(), body.UserID, serial); err != nil {
		return err
	}
	w.Write([]byte("recording started"))
	return nil
}

// POST /scanners/stop/{serial}
func (r *Router) handleStop(w http.ResponseWriter, req *http.Request) error {
	serial, err := urlInt64(req, "serial")
	if err != nil {
		return err
	}
	s, err := r.scanners.BySerial(req.Context(), serial)
	if err != nil {
		return err
	}
	if err := r.scanners.Detach(req.Context(), s.UserID); err != nil {
		return err
	}
	w.Write([]byte("recording stopped"))
	return nil
}

// GET /scanners/defect/{serial}
func (r *Router) handleScannerDefects(w http.ResponseWriter, req *http.Request) error {
	serial, err := urlInt64(req, "serial")
	if err != nil {
		return err
	}
	s, err := r.scanners.BySerial(req.Context(), serial)
	if err != nil {
		return err
	}
	defects, err := r.records.DefectsByScanner(req.Context(), s.ID)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(defects)
}

// GET /records/latest/{userID}
func (r *Router) handleLatestRecord(w http.ResponseWriter, req *http.Request) error {
	userID, err := urlInt64(req, "userID")
	if err != nil {
		return err
	}
	rec, err := r.records.Latest(req.Context(), userID)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(rec)
}

// GET /records/week/{userID}
func (r *Router) handleWeekRecords(w http.ResponseWriter, req *http.Request) error {
	userID, err := urlInt64(req, "userID")
	if err != nil {
		return err
	}
	recs, err := r.records.Week(req.Context(), userID)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(recs)
}

// GET /records/today-defects/{userID}
func (r *Router) handleTodayDefects(w http.ResponseWriter, req *http.Request) error {
	userID, err := urlInt64(req, "userID")
	if err != nil {
		return err
	}
	recs, err := r.records.TodayDefects(req.Context(), userID)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(recs)
}

// POST /captures/{serial}
// multipart form: field "image"; query defective=true|false
func (r *Router) handleCapture(w http.ResponseWriter, req *http.Request) error {
	serial, err := urlInt64(req, "serial")
	if err != nil {
		return err
	}
	file, header, err := req.FormFile("image")
	if err != nil {
		return fmt.Errorf("reading image field: %w", err)
	}
	defer file.Close()

	defective := req.URL.Query().Get("defective") == "true"
	d, err := r.records.Ingest(req.Context(), serial, header.Filename, file, header.Size,
		header.Header.Get("Content-Type"), defective)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(d)
}

// POST /ai/defect-summary
// Body: {"user_id": <id>}
func (r *Router) handleDefectSummary(w http.ResponseWriter, req *http.Request) error {
	if r.aiSvc == nil {
		http.Error(w, "ai summaries are not configured", http.StatusNotImplemented)
		return nil
	}
	var body struct {
		UserID int64 `json:"user_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return fmt.Errorf("decoding body: %v: %w", err, errBadRequest)
	}
	recs, err := r.records.Week(req.Context(), body.UserID)
	if err != nil {
		return err
	}
	summary, err := r.aiSvc.SummarizeDefects(req.Context(), recs)
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(map[string]string{"summary": summary})
}

func urlInt64(req *http.Request, key string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(req, key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, scandomain.ErrNotFound)
	}
	return v, nil
}

package httpserver

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"github.com/Jingik/S.F.D/internal/application"
	"github.com/Jingik/S.F.D/internal/application/live"
	"github.com/Jingik/S.F.D/internal/application/records"
	scannerapp "github.com/Jingik/S.F.D/internal/application/scanner"
	"github.com/Jingik/S.F.D/internal/application/trigger"
	"github.com/Jingik/S.F.D/internal/domain/detection"
	scandomain "github.com/Jingik/S.F.D/internal/domain/scanner"
)

type memScannerRepo struct {
	scanners map[int64]*scandomain.Scanner
	nextID   int64
}

func newMemScannerRepo() *memScannerRepo {
	return &memScannerRepo{scanners: map[int64]*scandomain.Scanner{}}
}

func (m *memScannerRepo) Save(_ context.Context, s *scandomain.Scanner) (int64, error) {
	if s.ID == 0 {
		m.nextID++
		s.ID = m.nextID
	}
	cp := *s
	m.scanners[s.ID] = &cp
	return s.ID, nil
}

func (m *memScannerRepo) Get(_ context.Context, id int64) (*scandomain.Scanner, error) {
	s, ok := m.scanners[id]
	if !ok {
		return nil, scandomain.ErrNotFound
	}
	return s, nil
}

func (m *memScannerRepo) List(_ context.Context) ([]*scandomain.Scanner, error) {
	out := make([]*scandomain.Scanner, 0, len(m.scanners))
	for _, s := range m.scanners {
		out = append(out, s)
	}
	return out, nil
}

func (m *memScannerRepo) BySerial(_ context.Context, serial int64) (*scandomain.Scanner, error) {
	var latest *scandomain.Scanner
	for _, s := range m.scanners {
		if s.SerialNumber != serial {
			continue
		}
		if latest == nil || s.ID > latest.ID {
			latest = s
		}
	}
	if latest == nil {
		return nil, scandomain.ErrNotFound
	}
	return latest, nil
}

func (m *memScannerRepo) ActiveSessions(_ context.Context) ([]*scandomain.Scanner, error) {
	var out []*scandomain.Scanner
	for _, s := range m.scanners {
		if s.IsUsing {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memScannerRepo) SetUsage(_ context.Context, id int64, inUse bool, completedAt time.Time) error {
	s, ok := m.scanners[id]
	if !ok {
		return scandomain.ErrNotFound
	}
	s.IsUsing = inUse
	if !inUse {
		t := completedAt
		s.CompletedAt = &t
	}
	return nil
}

type memDetectionRepo struct {
	detections []*detection.Detection
	nextID     detection.DetectionID
}

func (m *memDetectionRepo) Save(_ context.Context, d *detection.Detection) (detection.DetectionID, error) {
	m.nextID++
	d.ID = m.nextID
	m.detections = append(m.detections, d)
	return d.ID, nil
}

func (m *memDetectionRepo) Get(_ context.Context, id detection.DetectionID) (*detection.Detection, error) {
	for _, d := range m.detections {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, detection.ErrNoRecord
}

func (m *memDetectionRepo) Latest(_ context.Context) (*detection.Detection, error) {
	if len(m.detections) == 0 {
		return nil, detection.ErrNoRecord
	}
	return m.detections[len(m.detections)-1], nil
}

func (m *memDetectionRepo) LatestByUser(_ context.Context, _ int64) (*detection.Detection, error) {
	return m.Latest(context.Background())
}

func (m *memDetectionRepo) SetScanner(_ context.Context, id detection.DetectionID, scannerID int64) error {
	for _, d := range m.detections {
		if d.ID == id {
			d.ScannerID = scannerID
			return nil
		}
	}
	return detection.ErrNoRecord
}

func (m *memDetectionRepo) ByUserSince(_ context.Context, _ int64, since time.Time) ([]*detection.Detection, error) {
	var out []*detection.Detection
	for _, d := range m.detections {
		if !d.CompletedAt.Before(since) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDetectionRepo) DefectiveByUserSince(ctx context.Context, userID int64, since time.Time) ([]*detection.Detection, error) {
	ds, _ := m.ByUserSince(ctx, userID, since)
	var out []*detection.Detection
	for _, d := range ds {
		if d.Defective() {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *memDetectionRepo) ByScanner(_ context.Context, scannerID int64) ([]*detection.Detection, error) {
	var out []*detection.Detection
	for _, d := range m.detections {
		if d.ScannerID == scannerID {
			out = append(out, d)
		}
	}
	return out, nil
}

type memAnalysisRepo struct {
	byDetection map[detection.DetectionID]*detection.Analysis
}

func (m *memAnalysisRepo) Save(_ context.Context, a *detection.Analysis) error {
	m.byDetection[a.DetectionID] = a
	return nil
}

func (m *memAnalysisRepo) ByDetection(_ context.Context, id detection.DetectionID) (*detection.Analysis, error) {
	return m.byDetection[id], nil
}

func (m *memAnalysisRepo) DefectiveByDetections(_ context.Context, ids []detection.DetectionID) ([]*detection.Analysis, error) {
	var out []*detection.Analysis
	for _, id := range ids {
		if a, ok := m.byDetection[id]; ok && a.Class != detection.ClassNormal {
			out = append(out, a)
		}
	}
	return out, nil
}

type memStore struct {
	keys []string
}

func (m *memStore) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) (string, error) {
	io.Copy(io.Discard, r)
	m.keys = append(m.keys, key)
	return "http://store.local/" + key, nil
}

type testEnv struct {
	handler    http.Handler
	reg        *live.Registry
	scanners   *memScannerRepo
	detections *memDetectionRepo
	analyses   *memAnalysisRepo
	store      *memStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zerolog.Nop()

	scannerRepo := newMemScannerRepo()
	detectionRepo := &memDetectionRepo{}
	analysisRepo := &memAnalysisRepo{byDetection: map[detection.DetectionID]*detection.Analysis{}}

	reg := live.NewRegistry(16, log)
	mgr := scannerapp.NewManager(scannerRepo, application.SystemClock{}, log)
	store := &memStore{}

	recordsSvc := &records.Service{
		Detections: detectionRepo,
		Analyses:   analysisRepo,
		Scanners:   scannerRepo,
		Store:      store,
		Clock:      application.SystemClock{},
		Log:        log,
	}
	triggerSvc := &trigger.Service{
		Scanners:   mgr,
		Detections: detectionRepo,
		Analyses:   analysisRepo,
		Live:       reg,
		Log:        log,
	}

	h := NewRouter(reg, mgr, triggerSvc, recordsSvc, nil, Options{
		SerialNumber: 1,
		IdleTimeout:  30 * time.Second,
	}, log)

	return &testEnv{handler: h, reg: reg, scanners: scannerRepo, detections: detectionRepo, analyses: analysisRepo, store: store}
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func TestTriggerNoActiveScanner(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodGet, "/session/trigger", "")
	assert.Equal(t, http.StatusConflict, res.Code)
}

func TestTriggerDeliversToOwner(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodPost, "/scanners/start/1", `{"user_id":7}`)
	assert.Equal(t, http.StatusOK, res.Code)

	env.detections.Save(context.Background(), &detection.Detection{
		ObjectURL:   "http://store.local/x.jpg",
		CompletedAt: time.Now(),
		Type:        detection.TypeDefective,
	})
	env.analyses.byDetection[1] = &detection.Analysis{
		DetectionID: 1, Class: detection.ClassScratches, Confidence: 0.93,
	}

	conn := env.reg.Subscribe(7)

	res = env.do(http.MethodGet, "/session/trigger", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "trigger processed", res.Body.String())

	select {
	case rec := <-conn.Events():
		assert.Equal(t, "http://store.local/x.jpg", rec.ObjectURL)
		assert.Equal(t, int64(1), rec.SerialNumber)
		assert.Equal(t, detection.ClassScratches, rec.DefectType)
	default:
		t.Fatal("owner received no event")
	}
}

func TestTriggerNoDetectionIs404(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/scanners/start/1", `{"user_id":7}`)

	res := env.do(http.MethodGet, "/session/trigger", "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestStartForcesPriorSessionIdle(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, "/scanners/start/1", `{"user_id":7}`)
	env.do(http.MethodPost, "/scanners/start/1", `{"user_id":8}`)

	active, err := env.scanners.ActiveSessions(context.Background())
	assert.NoError(t, err)
	assert.Len(t, active, 1)
	assert.Equal(t, int64(8), active[0].UserID)
}

func TestStartInvalidUser(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodPost, "/scanners/start/1", `{"user_id":0}`)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestStopIdlesSession(t *testing.T) {
	env := newTestEnv(t)

	env.do(http.MethodPost, "/scanners/start/1", `{"user_id":7}`)
	res := env.do(http.MethodPost, "/scanners/stop/1", "")
	assert.Equal(t, http.StatusOK, res.Code)

	active, _ := env.scanners.ActiveSessions(context.Background())
	assert.Len(t, active, 0)
}

func TestStopUnknownSerial(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodPost, "/scanners/stop/99", "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestLatestRecordNotFound(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodGet, "/records/latest/7", "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestLatestRecordPayloadShape(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/scanners/start/1", `{"user_id":7}`)

	env.detections.Save(context.Background(), &detection.Detection{
		ScannerID:   1,
		ObjectURL:   "http://store.local/y.jpg",
		CompletedAt: time.Now(),
		Type:        detection.TypeDefective,
	})

	res := env.do(http.MethodGet, "/records/latest/7", "")
	assert.Equal(t, http.StatusOK, res.Code)
	body := res.Body.String()
	assert.Contains(t, body, `"object_url":"http://store.local/y.jpg"`)
	assert.Contains(t, body, `"defect_type":"pending"`)
	assert.Contains(t, body, `"is_defective":true`)
}

func TestDisconnectClosesAllConnections(t *testing.T) {
	env := newTestEnv(t)

	env.reg.Subscribe(7)
	env.reg.Subscribe(8)

	res := env.do(http.MethodGet, "/session/disconnect", "")
	assert.Equal(t, http.StatusOK, res.Code)
	assert.Equal(t, "closed 2 connections", res.Body.String())
	assert.Equal(t, 0, env.reg.Len())
}

func TestDefectSummaryNotConfigured(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodPost, "/ai/defect-summary", `{"user_id":7}`)
	assert.Equal(t, http.StatusNotImplemented, res.Code)
}

func TestStartMalformedBodyIsBadRequest(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodPost, "/scanners/start/1", `{"user_id":`)
	assert.Equal(t, http.StatusBadRequest, res.Code)

	active, _ := env.scanners.ActiveSessions(context.Background())
	assert.Len(t, active, 0)
}

func TestInvalidUserIDPathParam(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodGet, "/records/latest/abc", "")
	assert.Equal(t, http.StatusNotFound, res.Code)
}

// End-to-end over a real server: an SSE subscriber receives broadcast events
// and its scanner session goes idle when the stream closes.
func TestSSEStreamDeliversAndReleases(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/session/connect/7")
	assert.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	waitFor(t, func() bool { return env.reg.Len() == 1 })

	active, _ := env.scanners.ActiveSessions(context.Background())
	assert.Len(t, active, 1)
	assert.Equal(t, int64(7), active[0].UserID)

	env.reg.BroadcastAll(detection.Record{
		ObjectURL:  "http://store.local/z.jpg",
		Defective:  true,
		DefectType: detection.ClassFracture,
		Confidence: 0.88,
	})

	lines := make(chan string, 8)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	var event, data string
	deadline := time.After(5 * time.Second)
	for event == "" || data == "" {
		select {
		case line := <-lines:
			if strings.HasPrefix(line, "event: ") {
				event = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				data = strings.TrimPrefix(line, "data: ")
			}
		case <-deadline:
			t.Fatal("no sse event before deadline")
		}
	}
	assert.Equal(t, "object-detected", event)
	assert.Contains(t, data, `"object_url":"http://store.local/z.jpg"`)
	assert.Contains(t, data, `"defect_type":"fracture"`)

	resp.Body.Close()

	waitFor(t, func() bool { return env.reg.Len() == 0 })
	waitFor(t, func() bool {
		active, _ := env.scanners.ActiveSessions(context.Background())
		return len(active) == 0
	})
}

func TestStreamFailedUpgradeActivatesNothing(t *testing.T) {
	env := newTestEnv(t)

	res := env.do(http.MethodGet, "/session/stream/7", "")
	assert.Equal(t, http.StatusBadRequest, res.Code)

	assert.Equal(t, 0, env.reg.Len())
	active, err := env.scanners.ActiveSessions(context.Background())
	assert.NoError(t, err)
	assert.Len(t, active, 0)
}

func TestCaptureStoresImageAndCreatesDetection(t *testing.T) {
	env := newTestEnv(t)
	env.do(http.MethodPost, "/scanners/start/1", `{"user_id":7}`)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", "frame.jpg")
	assert.NoError(t, err)
	fw.Write([]byte("jpeg-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/captures/1?defective=true", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.store.keys, 1)
	assert.Len(t, env.detections.detections, 1)
	assert.Equal(t, detection.TypeDefective, env.detections.detections[0].Type)
}

func TestCaptureUnknownSerial(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("image", "frame.jpg")
	fw.Write([]byte("jpeg-bytes"))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/captures/99", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

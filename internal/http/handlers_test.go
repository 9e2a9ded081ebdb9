package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Jeremytpk/quicktrash-sub002/internal/dispatch"
	"github.com/Jeremytpk/quicktrash-sub002/internal/geo"
	"github.com/Jeremytpk/quicktrash-sub002/internal/models"
	"github.com/Jeremytpk/quicktrash-sub002/internal/proximity"
	"github.com/Jeremytpk/quicktrash-sub002/internal/store"
)

type signalNotifier struct {
	offers chan string
}

func (n *signalNotifier) Notify(workerID string, offer models.Offer) {
	select {
	case n.offers <- workerID:
	default:
	}
}

type nullPayer struct{}

func (nullPayer) Payout(ctx context.Context, job *models.Job, account string) error { return nil }

func newTestServer(t *testing.T) (*Server, *store.MemoryStore, *geo.Index, *signalNotifier) {
	t.Helper()
	ms := store.NewMemoryStore()
	reg := geo.NewIndex()
	notifier := &signalNotifier{offers: make(chan string, 16)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := dispatch.Config{
		RadiusMiles:      5,
		OfferTTL:         time.Minute,
		MaxLocationAge:   time.Hour,
		ArrivalThreshold: proximity.ThresholdMeters,
		MaxFixAge:        time.Hour,
	}
	eng := dispatch.NewEngine(ms, reg, notifier, nullPayer{}, cfg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go eng.Run(ctx)
	// let Run subscribe to the change feed before any test publishes a job;
	// on a single-CPU scheduler the create event would otherwise be dropped
	time.Sleep(10 * time.Millisecond)
	t.Cleanup(cancel)
	return NewServer(ms, reg, eng, nil, dispatch.NewWSRegistry(logger), logger), ms, reg, notifier
}

func awaitOffer(t *testing.T, n *signalNotifier) {
	t.Helper()
	select {
	case <-n.offers:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an offer")
	}
}

func postJSON(t *testing.T, srv http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	return rr
}

func decodeJob(t *testing.T, rr *httptest.ResponseRecorder) *models.Job {
	t.Helper()
	var resp struct {
		Job *models.Job `json:"job"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v (body %s)", err, rr.Body.String())
	}
	if resp.Job == nil {
		t.Fatalf("no job in response: %s", rr.Body.String())
	}
	return resp.Job
}

func TestCreateJobASAP(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := postJSON(t, srv, "/api/v1/jobs", map[string]any{
		"customerId":     "cust1",
		"wasteType":      "household",
		"volumeOptionId": "pickup_load",
		"bagSizeId":      "M",
		"isASAP":         true,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	job := decodeJob(t, rr)
	if job.ID == "" {
		t.Fatal("job must get a generated id")
	}
	if job.Status != models.StatusAvailable {
		t.Fatalf("asap job status = %s, want available", job.Status)
	}
	if job.Pricing == nil || job.Pricing.Total != 67.50 || job.Pricing.WorkerPayout != 54.00 {
		t.Fatalf("pricing = %+v", job.Pricing)
	}
}

func TestCreateJobScheduledRequiresTime(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := postJSON(t, srv, "/api/v1/jobs", map[string]any{
		"customerId":     "cust1",
		"wasteType":      "yard",
		"volumeOptionId": "1-5_bags",
		"bagSizeId":      "S",
		"isASAP":         false,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestCreateJobScheduledStaysPending(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	at := time.Now().Add(2 * time.Hour).UTC()
	rr := postJSON(t, srv, "/api/v1/jobs", map[string]any{
		"customerId":     "cust1",
		"wasteType":      "bulk",
		"volumeOptionId": "trailer_load",
		"bagSizeId":      "XL",
		"isASAP":         false,
		"scheduledAt":    at,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	job := decodeJob(t, rr)
	if job.Status != models.StatusPending {
		t.Fatalf("scheduled job status = %s, want pending", job.Status)
	}
	if job.ScheduledAt == nil {
		t.Fatal("scheduledAt must round-trip")
	}
}

func TestCreateJobRejectsUnknownWasteType(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := postJSON(t, srv, "/api/v1/jobs", map[string]any{
		"customerId":     "cust1",
		"wasteType":      "plutonium",
		"volumeOptionId": "pickup_load",
		"bagSizeId":      "M",
		"isASAP":         true,
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetJobNotFound(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/api/v1/jobs/nope", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestAcceptConflictMapsTo409(t *testing.T) {
	srv, ms, reg, notifier := newTestServer(t)
	reg.Upsert(models.Worker{ID: "w1", Online: true, Updated: time.Now()})
	reg.Upsert(models.Worker{ID: "w2", Online: true, Updated: time.Now()})

	rr := postJSON(t, srv, "/api/v1/jobs", map[string]any{
		"customerId":     "cust1",
		"wasteType":      "household",
		"volumeOptionId": "pickup_load",
		"bagSizeId":      "M",
		"isASAP":         true,
	})
	job := decodeJob(t, rr)
	awaitOffer(t, notifier)
	awaitOffer(t, notifier)

	rr = postJSON(t, srv, "/api/v1/jobs/"+job.ID+"/accept", map[string]any{"workerId": "w1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("first accept: %d, body %s", rr.Code, rr.Body.String())
	}
	rr = postJSON(t, srv, "/api/v1/jobs/"+job.ID+"/accept", map[string]any{"workerId": "w2"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("losing accept = %d, want 409", rr.Code)
	}

	got, err := ms.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusAccepted || got.WorkerID != "w1" {
		t.Fatalf("job = %+v", got)
	}
}

func TestArriveOutOfRangeMapsTo422(t *testing.T) {
	srv, _, reg, notifier := newTestServer(t)
	// worker is roughly 1 km north of the pickup point
	reg.Upsert(models.Worker{ID: "w1", Online: true, Loc: models.Coord{Lat: 0.009}, Updated: time.Now()})

	rr := postJSON(t, srv, "/api/v1/jobs", map[string]any{
		"customerId":     "cust1",
		"wasteType":      "household",
		"volumeOptionId": "pickup_load",
		"bagSizeId":      "M",
		"isASAP":         true,
	})
	job := decodeJob(t, rr)
	awaitOffer(t, notifier)

	rr = postJSON(t, srv, "/api/v1/jobs/"+job.ID+"/accept", map[string]any{"workerId": "w1"})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: %d, body %s", rr.Code, rr.Body.String())
	}
	rr = postJSON(t, srv, "/api/v1/jobs/"+job.ID+"/arrive", map[string]any{"workerId": "w1"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("arrive = %d, want 422, body %s", rr.Code, rr.Body.String())
	}
}

func TestWorkerLocationFeedsEngine(t *testing.T) {
	srv, _, reg, _ := newTestServer(t)
	rr := postJSON(t, srv, "/internal/worker/locations", map[string]any{
		"worker_id": "w9",
		"loc":       map[string]float64{"lat": 1.0, "lon": 2.0},
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rr.Code, rr.Body.String())
	}
	w, ok := reg.Get("w9")
	if !ok || w.Loc.Lat != 1.0 || w.Loc.Lon != 2.0 {
		t.Fatalf("registry entry = %+v ok=%v", w, ok)
	}
}

func TestWorkerLocationRequiresID(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	rr := postJSON(t, srv, "/internal/worker/locations", map[string]any{
		"loc": map[string]float64{"lat": 1.0, "lon": 2.0},
	})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestRequestIDEchoedOnResponses(t *testing.T) {
	srv, _, _, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/v1/jobs/nope", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Request-ID"); got != "req-abc" {
		t.Fatalf("caller-supplied id not echoed, got %q", got)
	}

	req = httptest.NewRequest("GET", "/healthz", nil)
	rr = httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatal("server must assign an id when the caller sends none")
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _, _ := newTestServer(t)
	req := httptest.NewRequest("GET", "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

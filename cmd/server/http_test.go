package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lifeline.ai/internal/config"
	"lifeline.ai/internal/ledger"
	"lifeline.ai/internal/protocol"
	"lifeline.ai/internal/sim/roster"
	"lifeline.ai/internal/sim/terrain"
	"lifeline.ai/internal/transport/ws"
)

type nopLife struct{ l *ledger.Ledger }

func (nopLife) OnJoin(uuid.UUID)                 {}
func (nopLife) OnDeath(uuid.UUID) ledger.Death   { return ledger.Death{} }
func (n nopLife) Ledger() *ledger.Ledger         { return n.l }
func (nopLife) Dispatch(uuid.UUID, string) error { return nil }
func (nopLife) Names() []string                  { return nil }

func newRuntime(t *testing.T) *runtime {
	t.Helper()
	cfg := config.Defaults()
	cfg.DataDir = t.TempDir()
	led := ledger.New(ledger.Options{Path: filepath.Join(cfg.DataDir, "livedata.yaml"), DefaultLives: 3})
	led.Touch(uuid.New())
	land := terrain.New(terrain.Config{Seed: 1})
	r := roster.New(land, nil)
	life := nopLife{l: led}
	return &runtime{
		cfg:    cfg,
		ledger: led,
		index:  noIndex{},
		ws:     ws.NewServer(r, life, life, protocol.WorldParams{}, nil),
		land:   land,
		roster: r,
	}
}

func TestMetrics_ReportsLedgerGauges(t *testing.T) {
	rt := newRuntime(t)
	rec := httptest.NewRecorder()
	rt.mux(zap.NewNop()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, want := range []string{
		`lifeline_participants{world="world"} 1`,
		`lifeline_locked{world="world"} 0`,
		`lifeline_index_dropped_total{world="world",table="events"} 0`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}
}

func TestAdminState_LoopbackOnly(t *testing.T) {
	rt := newRuntime(t)
	mux := rt.mux(zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "10.0.0.5:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status=%d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	var st stateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Participants != 1 || st.World != "world" {
		t.Fatalf("state=%+v", st)
	}
}

func TestAdminSave_WritesLedger(t *testing.T) {
	rt := newRuntime(t)
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/save", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	rt.mux(zap.NewNop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"ok":true`) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestAdminDisabled(t *testing.T) {
	rt := newRuntime(t)
	rt.cfg.AdminHTTP = false
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec := httptest.NewRecorder()
	rt.mux(zap.NewNop()).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestOpenIndex_None(t *testing.T) {
	cfg := config.Defaults()
	cfg.IndexBackend = "none"
	idx, err := openIndex(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, ok := idx.(noIndex); !ok {
		t.Fatalf("backend=%T", idx)
	}
}

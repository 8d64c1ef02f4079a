package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"go.uber.org/zap"
)

func (rt *runtime) mux(logger *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", rt.metrics)

	if rt.cfg.AdminHTTP {
		// Local-only admin endpoints.
		mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(rt.state())
		})
		mux.HandleFunc("/admin/v1/save", func(rw http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				rw.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			if !isLoopbackRemote(r.RemoteAddr) {
				http.Error(rw, "forbidden", http.StatusForbidden)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			if err := rt.ledger.Save(); err != nil {
				rw.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
				return
			}
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "path": rt.ledger.Path()})
		})
	} else {
		logger.Info("admin endpoints disabled (admin_http=false)")
	}
	if rt.cfg.PprofHTTP {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", rt.ws.Handler())
	return mux
}

type stateResponse struct {
	World        string    `json:"world"`
	Participants int       `json:"participants"`
	Locked       int       `json:"locked"`
	Online       int       `json:"online"`
	NextReset    time.Time `json:"next_reset"`
	Sessions     int64     `json:"sessions"`
}

func (rt *runtime) state() stateResponse {
	st := rt.ledger.Stats()
	return stateResponse{
		World:        rt.cfg.HomeWorld,
		Participants: st.Participants,
		Locked:       st.Locked,
		Online:       len(rt.roster.Online()),
		NextReset:    st.NextReset,
		Sessions:     rt.ws.Stats().Sessions,
	}
}

func (rt *runtime) metrics(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
	world := rt.cfg.HomeWorld
	st := rt.ledger.Stats()

	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP lifeline_participants Participants known to the ledger.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_participants gauge\n")
	fmt.Fprintf(rw, "lifeline_participants{world=%q} %d\n", world, st.Participants)

	fmt.Fprintf(rw, "# HELP lifeline_locked Participants with a pending observation lock.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_locked gauge\n")
	fmt.Fprintf(rw, "lifeline_locked{world=%q} %d\n", world, st.Locked)

	fmt.Fprintf(rw, "# HELP lifeline_next_reset_seconds Seconds until the weekly reset.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_next_reset_seconds gauge\n")
	fmt.Fprintf(rw, "lifeline_next_reset_seconds{world=%q} %.0f\n", world, time.Until(st.NextReset).Seconds())

	fmt.Fprintf(rw, "# HELP lifeline_online Participants currently connected.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_online gauge\n")
	fmt.Fprintf(rw, "lifeline_online{world=%q} %d\n", world, len(rt.roster.Online()))

	ws := rt.ws.Stats()
	fmt.Fprintf(rw, "# HELP lifeline_ws_sessions Open websocket sessions.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_ws_sessions gauge\n")
	fmt.Fprintf(rw, "lifeline_ws_sessions{world=%q} %d\n", world, ws.Sessions)
	fmt.Fprintf(rw, "# HELP lifeline_ws_dropped_events_total Events dropped on full session queues.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_ws_dropped_events_total counter\n")
	fmt.Fprintf(rw, "lifeline_ws_dropped_events_total{world=%q} %d\n", world, ws.DroppedEvents)

	fmt.Fprintf(rw, "# HELP lifeline_chunk_loads_total Terrain chunks generated.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_chunk_loads_total counter\n")
	fmt.Fprintf(rw, "lifeline_chunk_loads_total{world=%q} %d\n", world, rt.land.Loads())

	is := rt.index.Stats()
	fmt.Fprintf(rw, "# HELP lifeline_index_queue_depth Index writer backlog.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_index_queue_depth gauge\n")
	fmt.Fprintf(rw, "lifeline_index_queue_depth{world=%q} %d\n", world, is.QueueDepth)
	fmt.Fprintf(rw, "# HELP lifeline_index_written_total Events written to the index.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_index_written_total counter\n")
	fmt.Fprintf(rw, "lifeline_index_written_total{world=%q} %d\n", world, is.Written)
	fmt.Fprintf(rw, "# HELP lifeline_index_dropped_total Rows dropped because the index queue was full.\n")
	fmt.Fprintf(rw, "# TYPE lifeline_index_dropped_total counter\n")
	fmt.Fprintf(rw, "lifeline_index_dropped_total{world=%q,table=%q} %d\n", world, "events", is.DropEvents)
	fmt.Fprintf(rw, "lifeline_index_dropped_total{world=%q,table=%q} %d\n", world, "weeks", is.DropWeeks)
}

func isLoopbackRemote(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

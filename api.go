package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof" // register handlers
	"regexp"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zephyrtronium/warden/invites"
	"github.com/zephyrtronium/warden/modlog"
	"github.com/zephyrtronium/warden/voice"
)

func (robo *Robot) api(ctx context.Context, listen string, mux *http.ServeMux, metrics []prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(
			collectors.GoRuntimeMetricsRule{
				Matcher: regexp.MustCompile(`^(/gc/gogc:percent|/gc/gomemlimit:bytes|/gc/heap/allocs:bytes|/gc/heap/allocs:objects|/gc/heap/goal:bytes|/memory/classes/heap/released:bytes|/memory/classes/heap/stacks:bytes|/memory/classes/total:bytes|/sched/gomaxprocs:threads|/sched/goroutines:goroutines|/sched/latencies:seconds)$`),
			},
		),
	))
	reg.MustRegister(metrics...)
	opts := promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, opts))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
	routes(mux, robo.voice, robo.ledger, robo.history)
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := http.Server{
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
		BaseContext: func(l net.Listener) context.Context { return ctx },
	}
	go func() {
		slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
		err := srv.Serve(l)
		if err == http.ErrServerClosed {
			return
		}
		slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
	}()
	<-ctx.Done()
	// The context is now done, so it is obviously the wrong choice for
	// managing the shutdown.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

// routes registers the JSON API.
func routes(mux *http.ServeMux, vm *voice.Manager, lb *invites.Ledger, hist *modlog.History) {
	mux.HandleFunc("GET /api/voice", func(w http.ResponseWriter, r *http.Request) {
		apiVoice(w, r, vm)
	})
	mux.HandleFunc("GET /api/invites/{guild}", func(w http.ResponseWriter, r *http.Request) {
		apiInvites(w, r, lb)
	})
	mux.HandleFunc("GET /api/history/{guild}/{user}", func(w http.ResponseWriter, r *http.Request) {
		apiHistory(w, r, hist)
	})
}

func jsonerror(w http.ResponseWriter, status int, msg string) {
	v := struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}{
		Error:  msg,
		Status: status,
	}
	b, err := json.Marshal(&v)
	if err != nil {
		panic(err)
	}
	w.WriteHeader(status)
	w.Write(b)
}

func jsondata[T any](ctx context.Context, log *slog.Logger, w http.ResponseWriter, data T) {
	u := struct {
		Data   T   `json:"data"`
		Status int `json:"status"`
	}{
		Data:   data,
		Status: http.StatusOK,
	}
	b, err := json.Marshal(&u)
	if err != nil {
		panic(err)
	}
	if _, err := w.Write(b); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
}

func apilog(ctx context.Context, r *http.Request, name string) *slog.Logger {
	log := slog.With(slog.String("api", name), slog.Any("trace", uuid.New()))
	log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
	return log
}

// count parses the n query parameter.
func count(r *http.Request, def int) (int, bool) {
	s := r.FormValue("n")
	if s == "" {
		return def, true
	}
	n, err := strconv.Atoi(s)
	return n, err == nil && n > 0
}

func apiVoice(w http.ResponseWriter, r *http.Request, vm *voice.Manager) {
	ctx := r.Context()
	log := apilog(ctx, r, "voice")
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	chs := vm.Channels()
	if guild := r.FormValue("guild"); guild != "" {
		k := 0
		for _, ch := range chs {
			if ch.Guild == guild {
				chs[k] = ch
				k++
			}
		}
		chs = chs[:k]
	}
	if chs == nil {
		chs = []voice.Channel{}
	}
	jsondata(ctx, log, w, chs)
}

type apiInviter struct {
	Inviter string `json:"inviter"`
	Count   int    `json:"count"`
}

func apiInvites(w http.ResponseWriter, r *http.Request, lb *invites.Ledger) {
	ctx := r.Context()
	log := apilog(ctx, r, "invites")
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	guild := r.PathValue("guild")
	n, ok := count(r, 10)
	if !ok {
		log.WarnContext(ctx, "bad request", slog.String("n", r.FormValue("n")))
		jsonerror(w, http.StatusBadRequest, "invalid count")
		return
	}
	es, err := lb.Leaderboard(ctx, guild, n)
	if err != nil {
		log.ErrorContext(ctx, "couldn't get leaderboard", slog.String("guild", guild), slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	data := make([]apiInviter, len(es))
	for i, e := range es {
		data[i] = apiInviter{Inviter: e.Inviter, Count: e.Count}
	}
	jsondata(ctx, log, w, data)
}

type apiAction struct {
	Kind      string `json:"kind"`
	Channel   string `json:"channel,omitzero"`
	Moderator string `json:"moderator,omitzero"`
	Reason    string `json:"reason,omitzero"`
	Count     int    `json:"count,omitzero"`
	Time      string `json:"time"`
}

func apiHistory(w http.ResponseWriter, r *http.Request, hist *modlog.History) {
	ctx := r.Context()
	log := apilog(ctx, r, "history")
	defer log.InfoContext(ctx, "done")
	w.Header().Set("Content-Type", "application/json")
	guild, user := r.PathValue("guild"), r.PathValue("user")
	n, ok := count(r, 25)
	if !ok {
		log.WarnContext(ctx, "bad request", slog.String("n", r.FormValue("n")))
		jsonerror(w, http.StatusBadRequest, "invalid count")
		return
	}
	es, err := hist.Recent(ctx, guild, user, n)
	if err != nil {
		log.ErrorContext(ctx, "couldn't get history", slog.String("guild", guild), slog.String("user", user), slog.Any("err", err))
		jsonerror(w, http.StatusInternalServerError, err.Error())
		return
	}
	data := make([]apiAction, len(es))
	for i, e := range es {
		data[i] = apiAction{
			Kind:      string(e.Kind),
			Channel:   e.Channel,
			Moderator: e.Moderator,
			Reason:    e.Reason,
			Count:     e.Count,
			Time:      e.Time.Format(time.RFC3339),
		}
	}
	jsondata(ctx, log, w, data)
}

package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"pmicvib/internal/vibrator"
)

// Controller is the part of vibrator.Device the HTTP API drives.
type Controller interface {
	Enable(d time.Duration)
	SetLevel(mv int)
	Level() int
	Snapshot() vibrator.Snapshot
	Suspend(ctx context.Context) error
	Resume(ctx context.Context) error
}

type enableRequest struct {
	MS int64 `json:"ms"`
}

type levelBody struct {
	MV int `json:"mv"`
}

type aboutResponse struct {
	Service   string `json:"service"`
	NowUTC    string `json:"now_utc"`
	GoVersion string `json:"go_version"`
	Version   string `json:"version,omitempty"`
	Commit    string `json:"commit,omitempty"`
}

const (
	maxBodyBytes = 4 << 10
	maxEnableMS  = int64(math.MaxInt64 / time.Millisecond)
)

// Handler serves the vibrator API. history, logs and metrics are optional.
func Handler(ctl Controller, history *History, logs *LogBuffer, metrics http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/vibrator", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("/api/vibrator/enable", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		var req enableRequest
		if err := decodeBody(r, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.MS < 0 {
			http.Error(w, "ms must be >= 0", http.StatusBadRequest)
			return
		}
		// Larger values overflow time.Duration; the device clamps to its maximum anyway.
		if req.MS > maxEnableMS {
			req.MS = maxEnableMS
		}
		ctl.Enable(time.Duration(req.MS) * time.Millisecond)
		writeJSON(w, http.StatusAccepted, ctl.Snapshot())
	})

	mux.HandleFunc("/api/vibrator/level", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet, http.MethodPost) {
			return
		}
		if r.Method == http.MethodPost {
			var req levelBody
			if err := decodeBody(r, &req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ctl.SetLevel(req.MV)
		}
		writeJSON(w, http.StatusOK, levelBody{MV: ctl.Level()})
	})

	mux.HandleFunc("/api/vibrator/suspend", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		lifecycleResult(w, ctl.Suspend(ctx))
	})

	mux.HandleFunc("/api/vibrator/resume", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodPost) {
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		lifecycleResult(w, ctl.Resume(ctx))
	})

	if history != nil {
		mux.HandleFunc("/api/vibrator/history", func(w http.ResponseWriter, r *http.Request) {
			if !allowMethods(w, r, http.MethodGet) {
				return
			}
			n, err := queryTail(r, 50)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, struct {
				Entries []HistoryEntry `json:"entries"`
			}{Entries: history.Recent(n)})
		})
	}

	if logs != nil {
		mux.Handle("/api/logs", logs.Handler())
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	mux.HandleFunc("/api/about", func(w http.ResponseWriter, r *http.Request) {
		if !allowMethods(w, r, http.MethodGet) {
			return
		}
		resp := aboutResponse{
			Service:   "pmicvib",
			NowUTC:    time.Now().UTC().Format(time.RFC3339Nano),
			GoVersion: runtime.Version(),
		}
		if bi, ok := debug.ReadBuildInfo(); ok && bi != nil {
			resp.Version = bi.Main.Version
			for _, s := range bi.Settings {
				if s.Key == "vcs.revision" {
					resp.Commit = s.Value
				}
			}
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return mux
}

func allowMethods(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func lifecycleResult(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("{\"ok\":true}\n"))
	case errors.Is(err, vibrator.ErrClosed):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

// Serve runs the API on listenAddr until ctx is cancelled.
func Serve(ctx context.Context, listenAddr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

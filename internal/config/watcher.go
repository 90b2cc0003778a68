package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher reloads the config file after it changes and hands the fresh
// Config to every registered handler. Bad files are logged and skipped.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *zap.Logger

	mu       sync.Mutex
	handlers map[int]func(Config)
	nextID   int

	fsw      *fsnotify.Watcher
	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

type WatcherOption func(*Watcher)

func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

func NewWatcher(path string, log *zap.Logger, opts ...WatcherOption) *Watcher {
	if log == nil {
		log = zap.NewNop()
	}
	w := &Watcher{
		path:     path,
		debounce: defaultDebounce,
		log:      log.Named("config"),
		handlers: make(map[int]func(Config)),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// OnReload registers h and returns a function that removes it.
func (w *Watcher) OnReload(h func(Config)) func() {
	w.mu.Lock()
	id := w.nextID
	w.nextID++
	w.handlers[id] = h
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.handlers, id)
		w.mu.Unlock()
	}
}

// Start watches the directory holding the file so editors that replace the
// file with a rename are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	w.log.Info("config watcher started", zap.String("path", w.path), zap.Duration("debounce", w.debounce))
	return nil
}

func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		if w.fsw != nil {
			err = w.fsw.Close()
		}
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	target := filepath.Clean(w.path)
	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed", zap.Error(err))
		return
	}
	w.mu.Lock()
	handlers := make([]func(Config), 0, len(w.handlers))
	for _, h := range w.handlers {
		handlers = append(handlers, h)
	}
	w.mu.Unlock()

	w.log.Info("config reloaded", zap.Int("handlers", len(handlers)))
	for _, h := range handlers {
		h(cfg)
	}
}

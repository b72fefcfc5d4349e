package sweph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"

	"github.com/mshafiee/sweph/bytesource"
	"github.com/mshafiee/sweph/internal/logging"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	// Paths is the search path, see Resolver. PathsFromEnv is used when it
	// is empty, and the working directory when that is empty too.
	Paths []string

	// Watch enables change notifications for the local directories of the
	// search path. A changed file is reopened on its next use.
	Watch bool

	// HTTPClient, HTTPRetries and HTTPBackoff configure remote sources.
	HTTPClient  *http.Client
	HTTPRetries int
	HTTPBackoff time.Duration

	Logger *slog.Logger
}

// Store serves coefficient segments from the ephemeris files found along a
// search path. It keeps one open file per FileKind and switches files when a
// request needs another one. All files share one Session.
//
// A Store is safe for concurrent use. Requests for the same kind of file
// are serialized.
type Store struct {
	resolver *Resolver
	opener   sourceOpener
	session  *Session
	logger   *slog.Logger

	// ctx bounds remote sources; it ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	slots [4]kindSlot

	probes   singleflight.Group
	rangesMu sync.Mutex
	ranges   map[string]fileRange

	watcher   *fsnotify.Watcher
	watchDone chan struct{}

	closeOnce sync.Once
	closed    atomic.Bool
}

// sourceOpener turns a file name into a source. *Resolver implements it.
type sourceOpener interface {
	Open(ctx context.Context, name string) (bytesource.ByteSource, error)
}

type kindSlot struct {
	mu    sync.Mutex
	file  *File
	stale atomic.Bool
}

type fileRange struct {
	start, end float64
}

// NewStore returns a store over cfg.Paths.
func NewStore(cfg StoreConfig) (*Store, error) {
	logger := logging.Default(cfg.Logger).With("component", "store")
	paths := cfg.Paths
	if len(paths) == 0 {
		paths = PathsFromEnv()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		session: NewSession(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		ranges:  make(map[string]fileRange),
	}
	httpCfg := bytesource.HTTPConfig{
		Client:     cfg.HTTPClient,
		MaxRetries: cfg.HTTPRetries,
		Backoff:    cfg.HTTPBackoff,
		OnRetry: func(url string, attempt int, err error) {
			httpRetries.Inc()
			logger.Debug("retrying range request", "url", url, "attempt", attempt, "error", err)
		},
	}
	s.resolver = NewResolver(paths, httpCfg, cfg.Logger)
	s.opener = s.resolver

	if cfg.Watch {
		if err := s.watch(); err != nil {
			cancel()
			return nil, err
		}
	}
	return s, nil
}

// Session returns the session shared by the store's files.
func (s *Store) Session() *Session { return s.session }

// Resolver returns the store's resolver.
func (s *Store) Resolver() *Resolver { return s.resolver }

// Segment returns the coefficients of body at tjd. The result is a copy the
// caller owns.
func (s *Store) Segment(ctx context.Context, body int, tjd float64) (*Segment, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	kind, err := KindOf(body)
	if err != nil {
		return nil, err
	}
	name, err := FileName(body, tjd)
	if err != nil {
		return nil, err
	}

	slot := &s.slots[kind]
	slot.mu.Lock()
	defer slot.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := s.current(slot, kind, name)
	if err != nil {
		return nil, err
	}
	if !f.Covers(tjd) {
		return nil, fmt.Errorf("%w: %f not in %s (%f to %f)", ErrOutOfRange, tjd, name, f.TStart, f.TEnd)
	}
	b, ok := f.Body(body)
	if !ok {
		return nil, fmt.Errorf("%w: body %d in %s", ErrNoBody, body, name)
	}
	seg, err := f.DecodeSegment(b, tjd)
	if err != nil {
		return nil, err
	}
	return seg.Clone(), nil
}

// current returns the open file of the slot, switching to name when the
// slot holds another file or its file changed on disk. slot.mu is held.
func (s *Store) current(slot *kindSlot, kind FileKind, name string) (*File, error) {
	if f := slot.file; f != nil && f.Name() == name && !slot.stale.Load() {
		return f, nil
	}
	if old := slot.file; old != nil {
		slot.file = nil
		if err := old.Close(); err != nil {
			s.logger.Warn("closing ephemeris file", "file", old.Name(), "error", err)
		}
	}

	src, err := s.opener.Open(s.ctx, name)
	if err != nil {
		return nil, err
	}
	f, err := Open(src, name, WithKind(kind), WithSession(s.session), WithLogger(s.logger))
	if err != nil {
		return nil, err
	}
	slot.file = f
	slot.stale.Store(false)
	s.logger.Info("switched ephemeris file", "kind", kind, "file", name, "source", src.Name())
	return f, nil
}

// Probe returns the validity range of the file name without parsing it.
// Results are cached until the file changes, and concurrent probes of one
// file share a single read.
func (s *Store) Probe(ctx context.Context, name string) (start, end float64, err error) {
	if s.closed.Load() {
		return 0, 0, ErrClosed
	}
	s.rangesMu.Lock()
	r, ok := s.ranges[name]
	s.rangesMu.Unlock()
	if ok {
		return r.start, r.end, nil
	}

	ch := s.probes.DoChan(name, func() (any, error) {
		src, err := s.opener.Open(s.ctx, name)
		if err != nil {
			return nil, err
		}
		defer src.Close()
		start, end, err := FileTimeRange(src, KindOfFile(name))
		if err != nil {
			return nil, err
		}
		r := fileRange{start: start, end: end}
		s.rangesMu.Lock()
		s.ranges[name] = r
		s.rangesMu.Unlock()
		return r, nil
	})
	select {
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return 0, 0, res.Err
		}
		r := res.Val.(fileRange)
		return r.start, r.end, nil
	}
}

func (s *Store) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	added := 0
	for _, dir := range s.resolver.watchDirs() {
		if err := w.Add(dir); err != nil {
			s.logger.Warn("cannot watch ephemeris directory", "dir", dir, "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		_ = w.Close()
		return errors.New("watch: no ephemeris directory could be watched")
	}
	s.watcher = w
	s.watchDone = make(chan struct{})
	go s.watchLoop(w, s.watchDone)
	return nil
}

func (s *Store) watchLoop(w *fsnotify.Watcher, done chan struct{}) {
	defer close(done)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.invalidate(filepath.Base(ev.Name))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			s.logger.Warn("watch error", "error", err)
		}
	}
}

// invalidate forgets everything known about the file with base name base.
func (s *Store) invalidate(base string) {
	base = strings.ToLower(strings.TrimSuffix(base, zstdSuffix))

	s.rangesMu.Lock()
	for name := range s.ranges {
		if baseName(name) == base {
			delete(s.ranges, name)
		}
	}
	s.rangesMu.Unlock()

	for i := range s.slots {
		slot := &s.slots[i]
		slot.mu.Lock()
		if slot.file != nil && baseName(slot.file.Name()) == base {
			slot.stale.Store(true)
			s.logger.Info("ephemeris file changed", "file", slot.file.Name())
		}
		slot.mu.Unlock()
	}
}

// Close stops the watcher and closes all open files. It is safe to call more
// than once.
func (s *Store) Close() error {
	var errs []error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.cancel()
		if s.watcher != nil {
			errs = append(errs, s.watcher.Close())
			<-s.watchDone
		}
		for i := range s.slots {
			slot := &s.slots[i]
			slot.mu.Lock()
			if slot.file != nil {
				errs = append(errs, slot.file.Close())
				slot.file = nil
			}
			slot.mu.Unlock()
		}
		s.logger.Debug("store closed")
	})
	return errors.Join(errs...)
}

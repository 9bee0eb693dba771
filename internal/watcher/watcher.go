// Package watcher provides batched filesystem watching via fsnotify
package watcher

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/packmule/packmule/pkg/interfaces"
	"github.com/packmule/packmule/pkg/logger"
	"github.com/packmule/packmule/pkg/types"
)

// DefaultSettlingDelay is how long events are collected before a batch
// is delivered
const DefaultSettlingDelay = 100 * time.Millisecond

// FSWatcher creates recursive directory subscriptions backed by fsnotify
type FSWatcher struct {
	logger   logger.Logger
	settling time.Duration
}

// New creates a watcher factory
func New(log logger.Logger) *FSWatcher {
	return &FSWatcher{
		logger:   log,
		settling: DefaultSettlingDelay,
	}
}

// SetSettlingDelay overrides the batching window
func (w *FSWatcher) SetSettlingDelay(delay time.Duration) {
	w.settling = delay
}

// Subscribe watches root recursively, excluding the given ignore paths,
// and delivers settled batches of events to callback. Each subscription
// owns its own fsnotify watcher and event loop.
func (w *FSWatcher) Subscribe(root string, ignorePaths []string, callback interfaces.BatchCallback) (interfaces.Subscription, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to resolve watch root: %w", err)
	}

	ignore := make([]string, 0, len(ignorePaths))
	for _, p := range ignorePaths {
		if !filepath.IsAbs(p) {
			p = filepath.Join(absRoot, p)
		}
		ignore = append(ignore, filepath.Clean(p))
	}

	s := &subscription{
		id:       uuid.New().String(),
		fsw:      fsw,
		root:     absRoot,
		ignore:   ignore,
		callback: callback,
		logger:   w.logger,
		settling: w.settling,
		done:     make(chan struct{}),
	}

	if err := s.addTree(absRoot); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", absRoot, err)
	}

	go s.run()

	w.logger.Debug("Watch subscription created",
		logger.WithField("id", s.id),
		logger.WithField("root", absRoot))

	return s, nil
}

type subscription struct {
	id       string
	fsw      *fsnotify.Watcher
	root     string
	ignore   []string
	callback interfaces.BatchCallback
	logger   logger.Logger
	settling time.Duration

	mu      sync.Mutex
	pending []types.FileEvent
	timer   *time.Timer

	done      chan struct{}
	closeOnce sync.Once
}

// Unsubscribe stops the event loop and releases the fsnotify watcher
func (s *subscription) Unsubscribe() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.mu.Lock()
		if s.timer != nil {
			s.timer.Stop()
		}
		s.mu.Unlock()
		err = s.fsw.Close()
	})
	return err
}

func (s *subscription) run() {
	for {
		select {
		case <-s.done:
			return

		case event, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			if s.isIgnored(event.Name) {
				continue
			}

			// New directories must join the watch before their
			// contents produce events
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := s.addTree(event.Name); err != nil {
						s.logger.Warn(fmt.Sprintf("Failed to watch new directory %s: %v", event.Name, err))
					}
					continue
				}
			}

			if fe, ok := convertEvent(event); ok {
				s.appendEvent(fe)
			}

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			s.logger.Error(fmt.Sprintf("Watch subscription error: %v", err))
		}
	}
}

func (s *subscription) appendEvent(event types.FileEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pending = append(s.pending, event)

	// Restart the settling window on every event so rapid bursts
	// arrive as one batch
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.settling, s.flush)
}

func (s *subscription) flush() {
	s.mu.Lock()
	events := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(events) == 0 {
		return
	}

	select {
	case <-s.done:
		return
	default:
	}

	s.callback(types.InvalidationBatch{
		Events: events,
		Time:   time.Now(),
	})
}

func (s *subscription) addTree(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if s.isIgnored(path) {
			return filepath.SkipDir
		}
		if err := s.fsw.Add(path); err != nil {
			s.logger.Warn(fmt.Sprintf("Failed to watch directory %s: %v", path, err))
		}
		return nil
	})
}

func (s *subscription) isIgnored(path string) bool {
	path = filepath.Clean(path)
	for _, prefix := range s.ignore {
		if path == prefix || strings.HasPrefix(path, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func convertEvent(event fsnotify.Event) (types.FileEvent, bool) {
	fe := types.FileEvent{Path: event.Name}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		fe.Kind = types.EventCreated
	case event.Op&fsnotify.Write == fsnotify.Write:
		fe.Kind = types.EventModified
	case event.Op&fsnotify.Remove == fsnotify.Remove,
		event.Op&fsnotify.Rename == fsnotify.Rename:
		fe.Kind = types.EventDeleted
	default:
		// Chmod-only events carry no content change
		return types.FileEvent{}, false
	}

	return fe, true
}

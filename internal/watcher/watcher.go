// Package watcher turns filesystem changes into a stream of debounced change
// batches that views can bind to.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/projector"
)

// FileWatcher watches for file changes with debouncing and delivers each
// batch to its subscribers. It implements projector.Stream[[]ChangeEvent].
type FileWatcher struct {
	watcher *fsnotify.Watcher
	batches *batcher
	filters []FileFilter
	root    string
	logger  logging.Logger

	// failOnError terminates the stream on the first fsnotify error instead
	// of logging it and continuing.
	failOnError bool

	mutex       sync.RWMutex
	subscribers map[uint64]projector.Observer[[]ChangeEvent]
	nextID      uint64
	stopped     bool
	started     bool
	stopOnce    sync.Once

	// failed hands a fatal fsnotify error to processEvents, which delivers
	// every signal so no batch can follow the terminal one.
	failed chan error
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ChangeEvent represents a file change event
type ChangeEvent struct {
	Type    EventType
	Path    string
	ModTime time.Time
	Size    int64
}

// EventType represents the type of file change
type EventType int

const (
	EventTypeCreated EventType = iota
	EventTypeModified
	EventTypeDeleted
	EventTypeRenamed
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeCreated:
		return "created"
	case EventTypeModified:
		return "modified"
	case EventTypeDeleted:
		return "deleted"
	case EventTypeRenamed:
		return "renamed"
	default:
		return "unknown"
	}
}

// FileFilter determines if a file should be watched
type FileFilter func(path string) bool

// batcher coalesces changes arriving within delay of each other into one
// batch, keeping the latest event per path.
type batcher struct {
	delay  time.Duration
	in     chan ChangeEvent
	out    chan []ChangeEvent
	mutex  sync.Mutex
	timer  *time.Timer
	latest map[string]ChangeEvent
}

func newBatcher(delay time.Duration) *batcher {
	return &batcher{
		delay:  delay,
		in:     make(chan ChangeEvent, 100),
		out:    make(chan []ChangeEvent, 10),
		latest: make(map[string]ChangeEvent),
	}
}

// Option configures a FileWatcher.
type Option func(*FileWatcher)

// WithRoot confines watched paths to root.
func WithRoot(root string) Option {
	return func(fw *FileWatcher) { fw.root = root }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(fw *FileWatcher) {
		if l != nil {
			fw.logger = l
		}
	}
}

// WithFailOnError makes fsnotify errors terminate the stream.
func WithFailOnError(fail bool) Option {
	return func(fw *FileWatcher) { fw.failOnError = fail }
}

// NewFileWatcher creates a new file watcher
func NewFileWatcher(debounceDelay time.Duration, opts ...Option) (*FileWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	fw := &FileWatcher{
		watcher:     watcher,
		batches:     newBatcher(debounceDelay),
		filters:     make([]FileFilter, 0),
		logger:      logging.NewNop(),
		subscribers: make(map[uint64]projector.Observer[[]ChangeEvent]),
		failed:      make(chan error, 1),
	}
	for _, opt := range opts {
		opt(fw)
	}
	fw.logger = fw.logger.WithComponent("watcher")

	return fw, nil
}

// AddFilter adds a file filter
func (fw *FileWatcher) AddFilter(filter FileFilter) {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	fw.filters = append(fw.filters, filter)
}

// Subscribe registers o for change batches. Releasing the handle removes it;
// Stop completes every remaining subscriber.
func (fw *FileWatcher) Subscribe(o projector.Observer[[]ChangeEvent]) projector.Subscription {
	fw.mutex.Lock()
	if fw.stopped {
		fw.mutex.Unlock()
		if o.Complete != nil {
			o.Complete()
		}
		return projector.SubscriptionFunc(nil)
	}
	fw.nextID++
	id := fw.nextID
	fw.subscribers[id] = o
	fw.mutex.Unlock()

	var once sync.Once
	return projector.SubscriptionFunc(func() {
		once.Do(func() {
			fw.mutex.Lock()
			delete(fw.subscribers, id)
			fw.mutex.Unlock()
		})
	})
}

// Subscribers returns the number of live subscriptions.
func (fw *FileWatcher) Subscribers() int {
	fw.mutex.RLock()
	defer fw.mutex.RUnlock()
	return len(fw.subscribers)
}

// AddPath adds a path to watch
func (fw *FileWatcher) AddPath(path string) error {
	cleanPath, err := fw.validatePath(path)
	if err != nil {
		return fmt.Errorf("invalid path: %w", err)
	}
	return fw.watcher.Add(cleanPath)
}

// AddRecursive adds a directory and all subdirectories to watch
func (fw *FileWatcher) AddRecursive(root string) error {
	cleanRoot, err := fw.validatePath(root)
	if err != nil {
		return fmt.Errorf("invalid root path: %w", err)
	}

	return filepath.Walk(cleanRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if !NoGitFilter(path) || !NoVendorFilter(path) {
				return filepath.SkipDir
			}
			cleanPath, err := fw.validatePath(path)
			if err != nil {
				fw.logger.Debug(context.Background(), "skipping invalid directory", "path", path)
				return nil
			}
			return fw.watcher.Add(cleanPath)
		}

		return nil
	})
}

// validatePath cleans path and, when a root is configured, rejects paths
// outside it.
func (fw *FileWatcher) validatePath(path string) (string, error) {
	if strings.Contains(filepath.ToSlash(path), "../") || path == ".." {
		return "", fmt.Errorf("path contains directory traversal: %s", path)
	}

	cleanPath := filepath.Clean(path)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}

	if fw.root != "" {
		absRoot, err := filepath.Abs(fw.root)
		if err != nil {
			return "", fmt.Errorf("getting absolute root: %w", err)
		}
		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("path %s is outside %s", path, fw.root)
		}
	}

	return cleanPath, nil
}

// Start starts the file watcher goroutines. They exit when Stop is called
// or ctx ends.
func (fw *FileWatcher) Start(ctx context.Context) error {
	fw.mutex.Lock()
	defer fw.mutex.Unlock()
	if fw.stopped {
		return fmt.Errorf("watcher is stopped")
	}
	if fw.started {
		return fmt.Errorf("watcher is already started")
	}
	fw.started = true

	ctx, fw.cancel = context.WithCancel(ctx)
	fw.wg.Add(3)
	go fw.batches.run(ctx, &fw.wg)
	go fw.processEvents(ctx)
	go fw.watchLoop(ctx)

	return nil
}

// Stop closes the watcher, waits for its goroutines and completes all
// subscribers. It must not be called from a subscriber callback.
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		fw.mutex.Lock()
		cancel := fw.cancel
		fw.mutex.Unlock()

		if cancel != nil {
			cancel()
		}
		err = fw.watcher.Close()
		fw.wg.Wait()
		fw.batches.stop()
		fw.terminate(nil)
	})
	return err
}

// terminate ends the stream for every subscriber, with err if non-nil.
func (fw *FileWatcher) terminate(err error) {
	fw.mutex.Lock()
	fw.stopped = true
	subs := make([]projector.Observer[[]ChangeEvent], 0, len(fw.subscribers))
	for _, id := range fw.sortedIDs() {
		subs = append(subs, fw.subscribers[id])
	}
	fw.subscribers = make(map[uint64]projector.Observer[[]ChangeEvent])
	fw.mutex.Unlock()

	for _, o := range subs {
		if err != nil {
			if o.Error != nil {
				o.Error(err)
			}
		} else if o.Complete != nil {
			o.Complete()
		}
	}
}

func (fw *FileWatcher) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(fw.subscribers))
	for id := range fw.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer fw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			fw.handleFsnotifyEvent(event)
		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			if fw.failOnError {
				fw.logger.Error(ctx, err, "file watcher failed, terminating stream")
				select {
				case fw.failed <- err:
				default:
				}
				return
			}
			fw.logger.Warn(ctx, err, "file watcher error")
		}
	}
}

func (fw *FileWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	fw.mutex.RLock()
	filters := fw.filters
	fw.mutex.RUnlock()

	for _, filter := range filters {
		if !filter(event.Name) {
			return
		}
	}

	change := ChangeEvent{Type: classify(event.Op), Path: event.Name}
	if info, err := os.Stat(event.Name); err == nil {
		change.ModTime = info.ModTime()
		change.Size = info.Size()
	}

	select {
	case fw.batches.in <- change:
	default:
		fw.logger.Debug(context.Background(), "change buffer full, dropping event", "path", event.Name)
	}
}

// classify maps an fsnotify op to an EventType. Create wins over write, and
// chmod-only changes count as modifications.
func classify(op fsnotify.Op) EventType {
	switch {
	case op.Has(fsnotify.Create):
		return EventTypeCreated
	case op.Has(fsnotify.Write):
		return EventTypeModified
	case op.Has(fsnotify.Remove):
		return EventTypeDeleted
	case op.Has(fsnotify.Rename):
		return EventTypeRenamed
	default:
		return EventTypeModified
	}
}

// processEvents is the only goroutine delivering to subscribers while the
// watcher runs.
func (fw *FileWatcher) processEvents(ctx context.Context) {
	defer fw.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-fw.failed:
			fw.terminate(err)
			fw.cancel()
			return
		case events := <-fw.batches.out:
			fw.publish(events)
		}
	}
}

// publish delivers a batch to every subscriber in subscription order.
func (fw *FileWatcher) publish(events []ChangeEvent) {
	fw.mutex.RLock()
	if fw.stopped {
		fw.mutex.RUnlock()
		return
	}
	ids := fw.sortedIDs()
	subs := make([]projector.Observer[[]ChangeEvent], 0, len(ids))
	for _, id := range ids {
		subs = append(subs, fw.subscribers[id])
	}
	fw.mutex.RUnlock()

	for _, o := range subs {
		if o.Next != nil {
			o.Next(events)
		}
	}
}

func (b *batcher) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			b.stop()
			return
		case event := <-b.in:
			b.add(event)
		}
	}
}

func (b *batcher) stop() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if b.timer != nil {
		b.timer.Stop()
	}
}

// add records event and restarts the quiet period.
func (b *batcher) add(event ChangeEvent) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.latest[event.Path] = event
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, b.flush)
}

// flush emits the pending batch sorted by path. A batch that does not fit
// in the output buffer is dropped.
func (b *batcher) flush() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if len(b.latest) == 0 {
		return
	}

	batch := make([]ChangeEvent, 0, len(b.latest))
	for _, event := range b.latest {
		batch = append(batch, event)
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Path < batch[j].Path })
	b.latest = make(map[string]ChangeEvent)

	select {
	case b.out <- batch:
	default:
	}
}

// Common file filters

// ExtensionFilter accepts files with one of the given extensions.
func ExtensionFilter(exts ...string) FileFilter {
	return func(path string) bool {
		ext := filepath.Ext(path)
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}
}

// GlobFilter accepts files whose base name matches any of patterns.
func GlobFilter(patterns ...string) FileFilter {
	return func(path string) bool {
		base := filepath.Base(path)
		for _, pattern := range patterns {
			if matched, err := filepath.Match(pattern, base); err == nil && matched {
				return true
			}
		}
		return false
	}
}

func NoTempFilter(path string) bool {
	base := filepath.Base(path)
	return !strings.HasSuffix(base, "~") && !strings.HasSuffix(base, ".swp") && !strings.HasPrefix(base, ".#")
}

func NoVendorFilter(path string) bool {
	return !strings.HasPrefix(filepath.ToSlash(path), "vendor/") && !strings.Contains(filepath.ToSlash(path), "/vendor/")
}

func NoGitFilter(path string) bool {
	p := filepath.ToSlash(path)
	return !strings.HasPrefix(p, ".git/") && !strings.Contains(p, "/.git/") && filepath.Base(p) != ".git"
}

package registry

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/conneroisu/asyncview/internal/config"
	"github.com/conneroisu/asyncview/internal/errors"
	"github.com/conneroisu/asyncview/internal/logging"
	"github.com/conneroisu/asyncview/internal/producer"
	"github.com/conneroisu/asyncview/internal/projector"
	"github.com/conneroisu/asyncview/internal/view"
	"github.com/conneroisu/asyncview/internal/watcher"
)

// Builder turns declarative view configs into attached views.
type Builder struct {
	Config     *config.Config
	Sink       view.Sink
	Collector  *errors.ErrorCollector
	Logger     logging.Logger
	Dispatcher projector.Dispatcher
}

// BuildAll builds every view in the config and registers it. On failure the
// views registered so far stay registered; callers detach them with
// DetachAll.
func (b *Builder) BuildAll(ctx context.Context, reg *ViewRegistry) error {
	for _, vc := range b.Config.Views {
		h, cleanup, err := b.Build(ctx, vc)
		if err != nil {
			return err
		}
		if err := reg.Register(h, vc.Source, cleanup...); err != nil {
			h.Detach()
			if cerr := runCleanup(cleanup); cerr != nil {
				return stderrors.Join(err, cerr)
			}
			return err
		}
	}
	return nil
}

// Build creates one view, already attached to its producer.
func (b *Builder) Build(ctx context.Context, vc config.ViewConfig) (view.Handle, []func() error, error) {
	switch vc.Source {
	case config.SourceTicker:
		return b.ticker(vc)
	case config.SourceWatch:
		return b.watch(ctx, vc)
	case config.SourceStatic:
		return b.static(vc)
	case config.SourcePromise:
		return b.promise(ctx, vc)
	default:
		return nil, nil, errors.RegistryError(errors.ErrCodeUnknownSource, vc.Name,
			fmt.Sprintf("unknown source %q", vc.Source))
	}
}

func (b *Builder) options(vc config.ViewConfig) []view.Option {
	opts := []view.Option{
		view.WithSink(b.Sink),
		view.WithCollector(b.Collector),
		view.WithLogger(b.logger()),
		view.WithDispatcher(b.Dispatcher),
	}
	if vc.Title != "" {
		opts = append(opts, view.WithTitle(vc.Title))
	}
	return opts
}

func (b *Builder) logger() logging.Logger {
	if b.Logger == nil {
		return logging.NewNop()
	}
	return b.Logger
}

func (b *Builder) ticker(vc config.ViewConfig) (view.Handle, []func() error, error) {
	interval, err := durationParam(vc, "interval", b.Config.Ticker.Interval)
	if err != nil {
		return nil, nil, err
	}
	count := b.Config.Ticker.Count
	if raw := vc.Param("count", ""); raw != "" {
		if count, err = strconv.Atoi(raw); err != nil || count < 0 {
			return nil, nil, errors.RegistryError(errors.ErrCodeInvalidConfig, vc.Name, "count must be a non-negative integer")
		}
	}

	ticks := producer.Map(producer.Interval(interval, count), func(n int) string {
		return fmt.Sprintf("tick %d", n)
	})
	v := view.New[string](vc.Name, view.Default[string](nil), b.options(vc)...)
	if err := v.AttachStream(ticks); err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

func (b *Builder) watch(ctx context.Context, vc config.ViewConfig) (view.Handle, []func() error, error) {
	wc := b.Config.Watch
	fw, err := watcher.NewFileWatcher(wc.Debounce,
		watcher.WithLogger(b.logger()),
		watcher.WithFailOnError(wc.FailOnError),
		watcher.WithRoot(wc.Root),
	)
	if err != nil {
		return nil, nil, err
	}

	fw.AddFilter(watcher.NoTempFilter)
	fw.AddFilter(watcher.NoGitFilter)
	fw.AddFilter(watcher.NoVendorFilter)
	if len(wc.Extensions) > 0 {
		fw.AddFilter(watcher.ExtensionFilter(wc.Extensions...))
	}
	if len(wc.Patterns) > 0 {
		fw.AddFilter(watcher.GlobFilter(wc.Patterns...))
	}

	paths := wc.Paths
	if p := vc.Param("path", ""); p != "" {
		paths = []string{p}
	}
	for _, p := range paths {
		if err := addWatchPath(fw, p); err != nil {
			_ = fw.Stop()
			return nil, nil, fmt.Errorf("watching %s: %w", p, err)
		}
	}

	if err := fw.Start(ctx); err != nil {
		_ = fw.Stop()
		return nil, nil, err
	}

	v := view.New[[]watcher.ChangeEvent](vc.Name, view.List(DescribeChanges), b.options(vc)...)
	if err := v.AttachStream(fw); err != nil {
		_ = fw.Stop()
		return nil, nil, err
	}
	return v, []func() error{fw.Stop}, nil
}

// addWatchPath watches a single file directly and a directory recursively.
func addWatchPath(fw *watcher.FileWatcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fw.AddRecursive(path)
	}
	return fw.AddPath(path)
}

func (b *Builder) static(vc config.ViewConfig) (view.Handle, []func() error, error) {
	v := view.New[string](vc.Name, view.Default[string](nil), b.options(vc)...)
	if err := v.AttachFuture(producer.Resolved(vc.Param("value", ""))); err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

// promise resolves to the "value" param after "delay", or rejects with the
// "fail" param when one is given.
func (b *Builder) promise(ctx context.Context, vc config.ViewConfig) (view.Handle, []func() error, error) {
	delay, err := durationParam(vc, "delay", 0)
	if err != nil {
		return nil, nil, err
	}
	value := vc.Param("value", "")
	failure := vc.Param("fail", "")

	future := producer.Go(ctx, func(ctx context.Context) (string, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
		if failure != "" {
			return "", stderrors.New(failure)
		}
		return value, nil
	})

	v := view.New[string](vc.Name, view.Default[string](nil), b.options(vc)...)
	if err := v.AttachFuture(future); err != nil {
		return nil, nil, err
	}
	return v, nil, nil
}

func durationParam(vc config.ViewConfig, key string, def time.Duration) (time.Duration, error) {
	raw := vc.Param(key, "")
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, errors.RegistryError(errors.ErrCodeInvalidConfig, vc.Name,
			fmt.Sprintf("%s must be a non-negative duration", key))
	}
	return d, nil
}

// DescribeChanges renders a change batch as one line per file.
func DescribeChanges(events []watcher.ChangeEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, fmt.Sprintf("%s %s", filepath.Base(ev.Path), ev.Type))
	}
	return out
}

func runCleanup(cleanup []func() error) error {
	var errs []error
	for _, fn := range cleanup {
		if err := fn(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

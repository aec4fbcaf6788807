package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/janekbaraniewski/costledger/internal/ingest"
)

// Processor handles one triggered file.
type Processor interface {
	ProcessFile(ctx context.Context, path string) (ingest.Result, error)
}

// Forgetter drops per-file state for a deleted file.
type Forgetter interface {
	Forget(path string)
}

type DispatcherOptions struct {
	Dir         string
	Extension   string
	SettleDelay time.Duration
	Logger      *slog.Logger
}

// Dispatcher is the Handler that feeds a single processing worker. Added
// files wait SettleDelay before they are queued; changed files are queued
// at once unless they are still settling. A path already queued is not
// queued twice.
type Dispatcher struct {
	dir    string
	ext    string
	settle time.Duration
	proc   Processor
	logger *slog.Logger

	mu       sync.Mutex
	stopped  bool
	queue    []string
	queued   map[string]struct{}
	settling map[string]*time.Timer
	wake     chan struct{}
	done     chan struct{}
}

func NewDispatcher(proc Processor, opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		dir:      opts.Dir,
		ext:      opts.Extension,
		settle:   opts.SettleDelay,
		proc:     proc,
		logger:   logger.With("component", "dispatcher"),
		queued:   make(map[string]struct{}),
		settling: make(map[string]*time.Timer),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// Run replays existing session files, then processes activity reported by
// src until ctx is done. The file being processed when ctx ends is finished;
// queued files are dropped.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	files, err := ingest.ListSessionFiles(d.dir, d.ext)
	if err != nil {
		d.logger.Warn("replay_list_failed", "dir", d.dir, "error", err)
	}
	for _, path := range files {
		d.enqueue(path)
	}
	d.logger.Info("replay_queued", "dir", d.dir, "files", len(files))

	srcCtx, cancelSrc := context.WithCancel(ctx)
	defer cancelSrc()
	srcErr := make(chan error, 1)
	go func() {
		srcErr <- src.Run(srcCtx, d.dir, d)
	}()

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		d.work(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srcErr:
		if runErr == nil && ctx.Err() == nil {
			runErr = errors.New("watcher: source stopped")
		}
	}

	d.stop()
	cancelSrc()
	<-workerDone
	return runErr
}

func (d *Dispatcher) OnAdded(path string) {
	if !ingest.IsSessionFile(path, d.ext) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if _, ok := d.settling[path]; ok {
		return
	}
	if d.settle <= 0 {
		d.enqueueLocked(path)
		return
	}
	d.settling[path] = time.AfterFunc(d.settle, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.settling, path)
		if !d.stopped {
			d.enqueueLocked(path)
		}
	})
}

func (d *Dispatcher) OnChanged(path string) {
	if !ingest.IsSessionFile(path, d.ext) {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	// A settling file is read when its delay ends.
	if _, ok := d.settling[path]; ok || d.stopped {
		return
	}
	d.enqueueLocked(path)
}

func (d *Dispatcher) OnRemoved(path string) {
	if !ingest.IsSessionFile(path, d.ext) {
		return
	}
	d.mu.Lock()
	if t, ok := d.settling[path]; ok {
		t.Stop()
		delete(d.settling, path)
	}
	d.mu.Unlock()
	if f, ok := d.proc.(Forgetter); ok {
		f.Forget(path)
	}
}

// Pending reports how many files are queued or settling.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue) + len(d.settling)
}

func (d *Dispatcher) enqueue(path string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.enqueueLocked(path)
}

func (d *Dispatcher) enqueueLocked(path string) {
	if _, ok := d.queued[path]; ok {
		return
	}
	d.queued[path] = struct{}{}
	d.queue = append(d.queue, path)
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) next() (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped || len(d.queue) == 0 {
		return "", false
	}
	path := d.queue[0]
	d.queue = d.queue[1:]
	delete(d.queued, path)
	return path, true
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.stopped = true
	close(d.done)
	for path, t := range d.settling {
		t.Stop()
		delete(d.settling, path)
	}
	if dropped := len(d.queue); dropped > 0 {
		d.logger.Info("queue_dropped", "files", dropped)
	}
	d.queue = nil
	clear(d.queued)
}

func (d *Dispatcher) work(ctx context.Context) {
	for {
		for {
			path, ok := d.next()
			if !ok {
				break
			}
			d.process(ctx, path)
			if ctx.Err() != nil {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-d.wake:
		}
	}
}

// process runs detached from ctx cancellation so an in-flight file is
// written completely.
func (d *Dispatcher) process(ctx context.Context, path string) {
	res, err := d.proc.ProcessFile(context.WithoutCancel(ctx), path)
	if err != nil {
		d.logger.Warn("file_process_failed", "path", path, "error", err)
		return
	}
	if res.Ingested > 0 || res.Failed > 0 {
		d.logger.Info("file_processed",
			"path", path,
			"ingested", res.Ingested,
			"deduped", res.Deduped,
			"failed", res.Failed,
			"unpriced", res.Unpriced,
		)
	}
}

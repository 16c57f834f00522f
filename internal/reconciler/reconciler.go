package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"digwatch/internal/log"
	"digwatch/internal/objectstore"
	"digwatch/internal/taskstatus"
	"digwatch/internal/tile"
)

var (
	ErrNilReconciler = errors.New("reconciler is nil")
	ErrInvalidTaskID = errors.New("invalid task id")
)

const (
	defaultPollInterval      = 15 * time.Second
	defaultLiveTileInterval  = 5 * time.Second
	defaultActivityWindow    = 30 * time.Minute
	defaultMinProbesPerCycle = 50
	defaultGridSize          = 5
	defaultProgressCacheSize = 1024
	defaultInitialZoom       = 8
)

// Config configures a Reconciler. Only Store is required.
type Config struct {
	Store          objectstore.Store
	StatusProvider taskstatus.Provider
	Grids          GridProvider

	Renderer Renderer
	Activity ActivityRecorder
	Notifier Notifier
	Metrics  Metrics
	Logger   log.Logger

	// Ramp colors tiles that only carry an elevation.
	Ramp tile.Ramp
	// ObjectURL maps a snapshot image key to something a browser can load.
	ObjectURL func(key string) string

	PollInterval      time.Duration
	LiveTileInterval  time.Duration
	ActivityWindow    time.Duration
	MinProbesPerCycle int
	DefaultGridRows   int
	DefaultGridCols   int
	ProgressCacheSize int
	InitialZoom       int

	Clock func() time.Time
}

func (c *Config) defaults() error {
	if c.Store == nil {
		return fmt.Errorf("object store is required")
	}
	if c.Renderer == nil {
		c.Renderer = noopCollaborator{}
	}
	if c.Activity == nil {
		c.Activity = noopCollaborator{}
	}
	if c.Notifier == nil {
		c.Notifier = noopCollaborator{}
	}
	if c.Metrics == nil {
		c.Metrics = noopCollaborator{}
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	if c.Ramp == (tile.Ramp{}) {
		c.Ramp = tile.DefaultRamp
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.LiveTileInterval <= 0 {
		c.LiveTileInterval = defaultLiveTileInterval
	}
	if c.ActivityWindow <= 0 {
		c.ActivityWindow = defaultActivityWindow
	}
	if c.MinProbesPerCycle <= 0 {
		c.MinProbesPerCycle = defaultMinProbesPerCycle
	}
	if c.DefaultGridRows <= 0 {
		c.DefaultGridRows = defaultGridSize
	}
	if c.DefaultGridCols <= 0 {
		c.DefaultGridCols = defaultGridSize
	}
	if c.ProgressCacheSize <= 0 {
		c.ProgressCacheSize = defaultProgressCacheSize
	}
	if c.InitialZoom <= 0 {
		c.InitialZoom = defaultInitialZoom
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	return nil
}

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *loop) stop() {
	l.cancel()
	<-l.done
}

type probeCursor struct {
	startLevel int
	pos        int
}

// Reconciler mirrors remote progress of processing tasks. Each polled task
// owns one snapshot loop and, while running, one live tile loop.
type Reconciler struct {
	cfg        Config
	normalizer *tile.Normalizer
	logger     log.Logger

	baseCtx   context.Context
	cancelAll context.CancelFunc
	wg        sync.WaitGroup

	progress *lru.Cache[string, *Progress]

	mu             sync.Mutex
	closed         bool
	zoom           int
	active         map[string]*loop
	live           map[string]*loop
	lastCheck      map[string]time.Time
	snapshotLoaded map[snapshotCacheKey]bool // false while the overlay is loading
	shownLevel     map[string]int
	known          knownTiles
	cursors        map[string]probeCursor
}

func New(cfg Config) (*Reconciler, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	progress, err := lru.New[string, *Progress](cfg.ProgressCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create progress cache: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconciler{
		cfg:            cfg,
		normalizer:     tile.NewNormalizer(cfg.Ramp),
		logger:         cfg.Logger.WithValues(log.Kv{"component": "reconciler"}),
		baseCtx:        ctx,
		cancelAll:      cancel,
		progress:       progress,
		zoom:           cfg.InitialZoom,
		active:         make(map[string]*loop),
		live:           make(map[string]*loop),
		lastCheck:      make(map[string]time.Time),
		snapshotLoaded: make(map[snapshotCacheKey]bool),
		shownLevel:     make(map[string]int),
		known:          make(knownTiles),
		cursors:        make(map[string]probeCursor),
	}, nil
}

// StartPolling begins the snapshot loop for taskID. Starting a task that is
// already polled is a no-op.
func (r *Reconciler) StartPolling(taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return ErrNilReconciler
	}
	if !objectstore.ValidTaskID(taskID) {
		return fmt.Errorf("%w: %q", ErrInvalidTaskID, taskID)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("reconciler is closed")
	}
	if _, ok := r.active[taskID]; ok {
		r.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	lp := &loop{cancel: cancel, done: make(chan struct{})}
	r.active[taskID] = lp
	active := len(r.active)
	r.wg.Add(1)
	r.mu.Unlock()

	r.cfg.Metrics.SetActiveTasks(active)
	r.cfg.Notifier.PollingChanged(taskID, true)
	r.logger.WithValues(log.Kv{"task_id": taskID}).Infof("polling started")

	go r.runSnapshotLoop(ctx, taskID, lp)
	return nil
}

// StopPolling stops both loops of taskID and drops its caches. It waits for
// the loops to exit, so no probe for the task happens after it returns.
func (r *Reconciler) StopPolling(taskID string) error {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return ErrNilReconciler
	}

	r.mu.Lock()
	snapshot, wasActive := r.active[taskID]
	delete(r.active, taskID)
	live := r.live[taskID]
	delete(r.live, taskID)
	r.mu.Unlock()

	if snapshot != nil {
		snapshot.stop()
	}
	if live != nil {
		live.stop()
	}

	r.mu.Lock()
	if _, restarted := r.active[taskID]; !restarted {
		r.forgetTaskLocked(taskID)
	}
	active, liveCount := len(r.active), len(r.live)
	r.mu.Unlock()

	r.cfg.Metrics.SetActiveTasks(active)
	r.cfg.Metrics.SetLiveTasks(liveCount)
	if wasActive {
		r.cfg.Notifier.PollingChanged(taskID, false)
		r.logger.WithValues(log.Kv{"task_id": taskID}).Infof("polling stopped")
	}
	return nil
}

// StopAllPolling stops every task and clears all caches.
func (r *Reconciler) StopAllPolling() error {
	if r == nil {
		return ErrNilReconciler
	}

	r.mu.Lock()
	loops := make([]*loop, 0, len(r.active)+len(r.live))
	stopped := sortedKeys(r.active)
	for _, lp := range r.active {
		loops = append(loops, lp)
	}
	for _, lp := range r.live {
		loops = append(loops, lp)
	}
	r.active = make(map[string]*loop)
	r.live = make(map[string]*loop)
	r.mu.Unlock()

	for _, lp := range loops {
		lp.cancel()
	}
	for _, lp := range loops {
		<-lp.done
	}

	r.mu.Lock()
	r.pruneInactiveLocked()
	active, liveCount := len(r.active), len(r.live)
	r.mu.Unlock()

	r.cfg.Metrics.SetActiveTasks(active)
	r.cfg.Metrics.SetLiveTasks(liveCount)
	for _, id := range stopped {
		r.cfg.Notifier.PollingChanged(id, false)
	}
	if len(stopped) > 0 {
		r.logger.Infof("polling stopped for %d task(s)", len(stopped))
	}
	return nil
}

// Close stops all polling and refuses further starts.
func (r *Reconciler) Close() error {
	if r == nil {
		return ErrNilReconciler
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	err := r.StopAllPolling()
	r.cancelAll()
	r.wg.Wait()
	return err
}

// ActiveTasks returns the ids being polled, sorted.
func (r *Reconciler) ActiveTasks() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.active)
}

// LiveTasks returns the ids with an active live tile loop, sorted.
func (r *Reconciler) LiveTasks() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return sortedKeys(r.live)
}

// IsPolling reports whether taskID has a snapshot loop.
func (r *Reconciler) IsPolling(taskID string) bool {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[taskID]
	return ok
}

// LatestProgress returns the most recent discovery result for taskID.
func (r *Reconciler) LatestProgress(taskID string) (*Progress, bool) {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return nil, false
	}
	return r.progress.Get(taskID)
}

// CurrentSnapshotLevel returns the level of the overview currently shown.
func (r *Reconciler) CurrentSnapshotLevel(taskID string) (int, bool) {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	level, ok := r.shownLevel[taskID]
	return level, ok
}

// Zoom returns the viewport zoom used to pick overview levels.
func (r *Reconciler) Zoom() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.zoom
}

func (r *Reconciler) forgetTaskLocked(taskID string) {
	delete(r.lastCheck, taskID)
	delete(r.shownLevel, taskID)
	delete(r.cursors, taskID)
	for level := objectstore.MinLevel; level <= objectstore.MaxLevel; level++ {
		delete(r.snapshotLoaded, snapshotCacheKey{taskID: taskID, level: level})
	}
	r.known.forgetTask(taskID)
}

// pruneInactiveLocked drops cached state of every task without a snapshot
// loop.
func (r *Reconciler) pruneInactiveLocked() {
	stale := make(map[string]struct{})
	for id := range r.lastCheck {
		stale[id] = struct{}{}
	}
	for id := range r.shownLevel {
		stale[id] = struct{}{}
	}
	for id := range r.cursors {
		stale[id] = struct{}{}
	}
	for key := range r.snapshotLoaded {
		stale[key.taskID] = struct{}{}
	}
	for id := range r.known {
		stale[id] = struct{}{}
	}
	for id := range stale {
		if _, ok := r.active[id]; !ok {
			r.forgetTaskLocked(id)
		}
	}
}

func (r *Reconciler) runSnapshotLoop(ctx context.Context, taskID string, lp *loop) {
	defer r.wg.Done()
	defer close(lp.done)

	logger := r.logger.WithValues(log.Kv{"task_id": taskID, "loop": "snapshot"})
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := r.Poll(ctx, taskID); err != nil && ctx.Err() == nil {
			r.cfg.Metrics.IncPollFailure("snapshot")
			logger.Warningf("poll failed: %v", err)
		}
		timer.Reset(r.cfg.PollInterval)
	}
}

func (r *Reconciler) runLiveLoop(ctx context.Context, taskID string, lp *loop) {
	defer r.wg.Done()
	defer close(lp.done)

	logger := r.logger.WithValues(log.Kv{"task_id": taskID, "loop": "live"})
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		res, err := r.DiscoverTiles(ctx, taskID)
		if err != nil && ctx.Err() == nil {
			r.cfg.Metrics.IncPollFailure("live")
			logger.Warningf("tile discovery failed: %v", err)
		} else if res.Rendered > 0 || res.Rejected > 0 {
			logger.Debugf("levels %d-%d: %d probes, %d rendered, %d rejected",
				res.StartLevel, res.EndLevel, res.Probes, res.Rendered, res.Rejected)
		}
		timer.Reset(r.cfg.LiveTileInterval)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

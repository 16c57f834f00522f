package reconciler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"digwatch/internal/log"
	"digwatch/internal/objectstore"
	"digwatch/internal/tile"
)

// Tile outcomes reported to Metrics.
const (
	TileRendered = "rendered"
	TileRejected = "rejected"
	TileFailed   = "failed"
)

// liveLevelSpan is how many levels one live cycle covers.
const liveLevelSpan = 2

// TileCycleResult summarizes one live tile discovery cycle.
type TileCycleResult struct {
	StartLevel int
	EndLevel   int
	Budget     int
	Probes     int
	Rendered   int
	Rejected   int
	Failures   int
}

// candidateSpace enumerates every tile of a level range without
// materializing them: cells row-major, then sub-tiles row-major, per level.
type candidateSpace struct {
	levels []int
	sizes  []int
	cols   int
	total  int
}

func newCandidateSpace(startLevel, endLevel, rows, cols int) candidateSpace {
	var s candidateSpace
	s.cols = cols
	for level := startLevel; level <= endLevel; level++ {
		f := tile.SubdivisionsPerAxis(level)
		size := rows * cols * f * f
		s.levels = append(s.levels, level)
		s.sizes = append(s.sizes, size)
		s.total += size
	}
	return s
}

func (s candidateSpace) at(i int) tile.Key {
	for li, level := range s.levels {
		if i < s.sizes[li] {
			f := tile.SubdivisionsPerAxis(level)
			cell, sub := i/(f*f), i%(f*f)
			return tile.Key{
				Level:  level,
				Row:    cell / s.cols,
				Col:    cell % s.cols,
				SubRow: sub / f,
				SubCol: sub % f,
			}
		}
		i -= s.sizes[li]
	}
	return tile.Key{}
}

// liveStartLevel is the first level worth probing: nothing coarser than
// the finest completed level or the overview already on screen.
func liveStartLevel(progress *Progress, shown int, hasShown bool) int {
	start := 0
	if progress != nil {
		start = progress.HighestLevelCompleted
	}
	if hasShown && shown+1 > start {
		start = shown + 1
	}
	return start
}

// ProbeBudget is the per-cycle probe cap for a rows x cols grid.
func (r *Reconciler) ProbeBudget(rows, cols int) int {
	if r == nil {
		return 0
	}
	return max(r.cfg.MinProbesPerCycle, 2*rows*cols)
}

func (r *Reconciler) startLiveTilePolling(taskID string) {
	r.mu.Lock()
	if _, ok := r.active[taskID]; !ok || r.closed {
		r.mu.Unlock()
		return
	}
	if _, ok := r.live[taskID]; ok {
		r.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	lp := &loop{cancel: cancel, done: make(chan struct{})}
	r.live[taskID] = lp
	liveCount := len(r.live)
	r.wg.Add(1)
	r.mu.Unlock()

	r.cfg.Metrics.SetLiveTasks(liveCount)
	r.logger.WithValues(log.Kv{"task_id": taskID}).Infof("live tile polling started")
	go r.runLiveLoop(ctx, taskID, lp)
}

func (r *Reconciler) stopLiveTilePolling(taskID string) {
	r.mu.Lock()
	lp, ok := r.live[taskID]
	delete(r.live, taskID)
	liveCount := len(r.live)
	r.mu.Unlock()
	if !ok {
		return
	}
	lp.stop()
	r.cfg.Metrics.SetLiveTasks(liveCount)
	r.logger.WithValues(log.Kv{"task_id": taskID}).Infof("live tile polling stopped")
}

// DiscoverTiles runs one live tile cycle for taskID. Tiles already known are
// skipped without a probe, and at most ProbeBudget probes are issued; the
// next cycle resumes after the last candidate probed.
func (r *Reconciler) DiscoverTiles(ctx context.Context, taskID string) (TileCycleResult, error) {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return TileCycleResult{}, ErrNilReconciler
	}

	progress, _ := r.progress.Get(taskID)
	r.mu.Lock()
	shown, hasShown := r.shownLevel[taskID]
	r.mu.Unlock()

	start := liveStartLevel(progress, shown, hasShown)
	res := TileCycleResult{StartLevel: start, EndLevel: start - 1}
	if start > objectstore.MaxLevel {
		return res, nil
	}
	res.EndLevel = min(start+liveLevelSpan-1, objectstore.MaxLevel)

	rows, cols := r.grid(ctx, taskID)
	res.Budget = r.ProbeBudget(rows, cols)
	space := newCandidateSpace(res.StartLevel, res.EndLevel, rows, cols)

	r.mu.Lock()
	cursor := r.cursors[taskID]
	r.mu.Unlock()
	pos := 0
	if cursor.startLevel == start && cursor.pos < space.total {
		pos = cursor.pos
	}

	logger := r.logger.WithValues(log.Kv{"task_id": taskID})
	next := 0
	var errs []error
	for i := 0; i < space.total; i++ {
		idx := (pos + i) % space.total
		key := space.at(idx)

		r.mu.Lock()
		known := r.known.has(taskID, key)
		r.mu.Unlock()
		if known {
			continue
		}
		if res.Probes >= res.Budget {
			next = idx
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		res.Probes++
		outcome, err := r.probeTile(ctx, taskID, key)
		switch outcome {
		case TileRendered:
			res.Rendered++
		case TileRejected:
			res.Rejected++
			logger.Warningf("rejected tile %s: %v", key, err)
		case TileFailed:
			res.Failures++
			errs = append(errs, err)
		}
	}

	r.mu.Lock()
	r.cursors[taskID] = probeCursor{startLevel: start, pos: next}
	r.mu.Unlock()

	if res.Failures > 0 && res.Rendered == 0 && res.Failures == res.Probes {
		return res, fmt.Errorf("all %d tile probes failed: %w", res.Failures, errors.Join(errs...))
	}
	for _, err := range errs {
		logger.Debugf("tile probe failed: %v", err)
	}
	return res, nil
}

// probeTile checks one candidate. It returns "" when the tile does not exist
// yet. Fetch errors leave the tile unknown so the next cycle retries it;
// invalid payloads are remembered because the object will not change.
func (r *Reconciler) probeTile(ctx context.Context, taskID string, key tile.Key) (string, error) {
	objectKey := key.ObjectKey(taskID)
	if _, err := r.cfg.Store.Stat(ctx, objectKey); err != nil {
		if objectstore.IsNotFound(err) {
			return "", nil
		}
		r.cfg.Metrics.IncTile(TileFailed)
		return TileFailed, fmt.Errorf("probe %s: %w", objectKey, err)
	}
	data, err := r.cfg.Store.Get(ctx, objectKey)
	if err != nil {
		r.cfg.Metrics.IncTile(TileFailed)
		return TileFailed, fmt.Errorf("fetch %s: %w", objectKey, err)
	}

	t, err := r.normalizer.Normalize(taskID, key, data)
	r.mu.Lock()
	r.known.add(taskID, key)
	r.mu.Unlock()
	if err != nil {
		r.cfg.Metrics.IncTile(TileRejected)
		return TileRejected, err
	}

	r.cfg.Renderer.RenderTile(ctx, t)
	r.cfg.Activity.RecordActivity(taskID, r.cfg.Clock().UTC())
	r.cfg.Metrics.IncTile(TileRendered)
	return TileRendered, nil
}

// KnownTiles returns how many tiles of level are known for taskID.
func (r *Reconciler) KnownTiles(taskID string, level int) int {
	taskID = strings.TrimSpace(taskID)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.known.count(taskID, level)
}

func (r *Reconciler) grid(ctx context.Context, taskID string) (rows, cols int) {
	rows, cols = r.cfg.DefaultGridRows, r.cfg.DefaultGridCols
	if r.cfg.Grids == nil {
		return rows, cols
	}
	gr, gc, ok, err := r.cfg.Grids.Grid(ctx, taskID)
	if err != nil {
		r.logger.Debugf("grid lookup failed for %s: %v", taskID, err)
		return rows, cols
	}
	if ok && gr > 0 && gc > 0 {
		return gr, gc
	}
	return rows, cols
}

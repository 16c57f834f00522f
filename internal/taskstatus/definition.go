package taskstatus

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"digwatch/internal/cache/memory"
	"digwatch/internal/objectstore"
)

// Definition is the subset of tasks/<id>.json the reconciler uses.
type Definition struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	GridRows int    `json:"grid_rows"`
	GridCols int    `json:"grid_cols"`
}

type cachedDefinition struct {
	def   Definition
	found bool
}

// DefinitionLoader reads task definitions from the object store. Results,
// including "not published yet", are cached for a short TTL.
type DefinitionLoader struct {
	store objectstore.Store
	cache *memory.LRUTTL[string, cachedDefinition]
}

func NewDefinitionLoader(store objectstore.Store, ttl time.Duration) (*DefinitionLoader, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &DefinitionLoader{
		store: store,
		cache: memory.NewLRUTTL[string, cachedDefinition](1024, ttl),
	}, nil
}

// Load returns the definition, found=false when it does not exist yet.
func (l *DefinitionLoader) Load(ctx context.Context, taskID string) (Definition, bool, error) {
	taskID = strings.TrimSpace(taskID)
	if cached, ok := l.cache.Get(taskID); ok {
		return cached.def, cached.found, nil
	}

	raw, err := l.store.Get(ctx, objectstore.TaskDefinitionKey(taskID))
	if objectstore.IsNotFound(err) {
		l.cache.Set(taskID, cachedDefinition{})
		return Definition{}, false, nil
	}
	if err != nil {
		return Definition{}, false, fmt.Errorf("load task definition: %w", err)
	}

	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return Definition{}, false, fmt.Errorf("decode task definition %s: %w", taskID, err)
	}
	if def.ID == "" {
		def.ID = taskID
	}
	l.cache.Set(taskID, cachedDefinition{def: def, found: true})
	return def, true, nil
}

// Status implements Provider from the definition's status field.
func (l *DefinitionLoader) Status(ctx context.Context, taskID string) (Status, bool, error) {
	def, found, err := l.Load(ctx, taskID)
	if err != nil || !found || strings.TrimSpace(def.Status) == "" {
		return "", false, err
	}
	return Normalize(def.Status), true, nil
}

// Grid returns the declared grid dimensions, ok=false when unknown.
func (l *DefinitionLoader) Grid(ctx context.Context, taskID string) (rows, cols int, ok bool, err error) {
	def, found, err := l.Load(ctx, taskID)
	if err != nil || !found || def.GridRows <= 0 || def.GridCols <= 0 {
		return 0, 0, false, err
	}
	return def.GridRows, def.GridCols, true, nil
}

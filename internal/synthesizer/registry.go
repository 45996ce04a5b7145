package synthesizer

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/takejohn/voicevox-core/internal/observe"
	"github.com/takejohn/voicevox-core/internal/voicemodel"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// Registry maps loaded voice models by id and routes each style id to the
// model that declares it. It is safe for concurrent use: resolutions share a
// read lock, loads and unloads take the write lock and apply in one step.
type Registry struct {
	mu     sync.RWMutex
	models map[types.VoiceModelID]*voicemodel.Model
	order  []types.VoiceModelID
	routes map[types.StyleID]types.VoiceModelID

	metrics *observe.Metrics
}

// NewRegistry returns an empty Registry reporting to m. A nil m uses
// [observe.DefaultMetrics].
func NewRegistry(m *observe.Metrics) *Registry {
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Registry{
		models:  make(map[types.VoiceModelID]*voicemodel.Model),
		routes:  make(map[types.StyleID]types.VoiceModelID),
		metrics: m,
	}
}

// Load registers model and routes every style it declares to it. It fails with
// [types.ErrAlreadyLoaded] when the model id is present and with
// [types.ErrStyleConflict] when any of its styles is already routed; in both
// cases the registry is left unchanged.
func (r *Registry) Load(ctx context.Context, model *voicemodel.Model) (err error) {
	defer func() { r.metrics.RecordModelLoad(ctx, err) }()

	if model == nil {
		return fmt.Errorf("synthesizer: load: %w: nil voice model", types.ErrValidation)
	}
	id := model.ID()
	styles := model.StyleIDs()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.models[id]; ok {
		return fmt.Errorf("synthesizer: load %q: %w", id, types.ErrAlreadyLoaded)
	}
	for _, s := range styles {
		if owner, ok := r.routes[s]; ok {
			return fmt.Errorf("synthesizer: load %q: style %d is served by %q: %w", id, s, owner, types.ErrStyleConflict)
		}
	}

	r.models[id] = model
	r.order = append(r.order, id)
	for _, s := range styles {
		r.routes[s] = id
	}
	slog.Info("voice model loaded", "model_id", id, "styles", len(styles))
	return nil
}

// Unload removes the model with id and every style route it owns. It fails
// with [types.ErrNotFound] when no such model is loaded.
func (r *Registry) Unload(ctx context.Context, id types.VoiceModelID) (err error) {
	defer func() { r.metrics.RecordModelUnload(ctx, err) }()

	r.mu.Lock()
	defer r.mu.Unlock()

	model, ok := r.models[id]
	if !ok {
		return fmt.Errorf("synthesizer: unload %q: %w: voice model is not loaded", id, types.ErrNotFound)
	}
	for _, s := range model.StyleIDs() {
		if r.routes[s] == id {
			delete(r.routes, s)
		}
	}
	delete(r.models, id)
	r.order = slices.DeleteFunc(r.order, func(v types.VoiceModelID) bool { return v == id })
	slog.Info("voice model unloaded", "model_id", id)
	return nil
}

// Resolve returns the model serving style. It fails with [types.ErrNotFound]
// when no loaded model declares the style.
func (r *Registry) Resolve(style types.StyleID) (*voicemodel.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.routes[style]
	if !ok {
		return nil, fmt.Errorf("synthesizer: %w: style %d is not loaded", types.ErrNotFound, style)
	}
	return r.models[id], nil
}

// Get returns the loaded model with id, or [types.ErrNotFound].
func (r *Registry) Get(id types.VoiceModelID) (*voicemodel.Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("synthesizer: %w: voice model %q is not loaded", types.ErrNotFound, id)
	}
	return m, nil
}

// IsLoaded reports whether a model with id is loaded.
func (r *Registry) IsLoaded(id types.VoiceModelID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.models[id]
	return ok
}

// Len returns the number of loaded models.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.models)
}

// Models returns the ids of the loaded models in load order.
func (r *Registry) Models() []types.VoiceModelID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Metas returns the speaker metadata of every loaded model in load order.
func (r *Registry) Metas() []types.SpeakerMeta {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []types.SpeakerMeta
	for _, id := range r.order {
		out = append(out, r.models[id].Metas()...)
	}
	return out
}

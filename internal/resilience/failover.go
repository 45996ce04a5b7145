package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/takejohn/voicevox-core/pkg/provider/inference"
	"github.com/takejohn/voicevox-core/pkg/types"
)

// ErrAllFailed is returned when every backend in a [Failover] faulted or had
// an open breaker.
var ErrAllFailed = errors.New("resilience: all backends failed")

// Backend is a named inference backend.
type Backend struct {
	Name     string
	Provider inference.Provider
}

type guarded struct {
	Backend
	breaker *Breaker
}

// Failover is an [inference.Provider] that tries its backends in order. A
// call moves to the next backend only on a fault; caller errors are returned
// from the first backend that produced them.
type Failover struct {
	backends []guarded
}

var _ inference.Provider = (*Failover)(nil)

// NewFailover chains primary and fallbacks. Each backend gets its own
// breaker configured from cfg; cfg.Name is replaced by the backend name.
func NewFailover(cfg BreakerConfig, primary Backend, fallbacks ...Backend) *Failover {
	f := &Failover{}
	for _, b := range append([]Backend{primary}, fallbacks...) {
		bc := cfg
		bc.Name = b.Name
		f.backends = append(f.backends, guarded{Backend: b, breaker: NewBreaker(bc)})
	}
	return f
}

// States reports the breaker state of each backend by name.
func (f *Failover) States() map[string]State {
	out := make(map[string]State, len(f.backends))
	for _, g := range f.backends {
		out[g.Name] = g.breaker.State()
	}
	return out
}

// Ping fails when no backend would currently accept a call.
func (f *Failover) Ping(context.Context) error {
	for _, g := range f.backends {
		if g.breaker.State() != StateOpen {
			return nil
		}
	}
	return fmt.Errorf("%w: every breaker is open", ErrAllFailed)
}

// PredictDuration implements [inference.Provider].
func (f *Failover) PredictDuration(ctx context.Context, w inference.Weights, style types.StyleID, phonemes []int64) ([]float32, error) {
	return call(f, func(p inference.Provider) ([]float32, error) {
		return p.PredictDuration(ctx, w, style, phonemes)
	})
}

// PredictIntonation implements [inference.Provider].
func (f *Failover) PredictIntonation(ctx context.Context, w inference.Weights, style types.StyleID, in inference.IntonationInput) ([]float32, error) {
	return call(f, func(p inference.Provider) ([]float32, error) {
		return p.PredictIntonation(ctx, w, style, in)
	})
}

// Decode implements [inference.Provider].
func (f *Failover) Decode(ctx context.Context, w inference.Weights, style types.StyleID, in inference.DecodeInput) ([]float32, error) {
	return call(f, func(p inference.Provider) ([]float32, error) {
		return p.Decode(ctx, w, style, in)
	})
}

// SupportedDevices implements [inference.Provider]. A device counts as
// supported when any backend supports it.
func (f *Failover) SupportedDevices(ctx context.Context) (inference.Devices, error) {
	var (
		out  inference.Devices
		errs []error
	)
	for _, g := range f.backends {
		d, err := g.Provider.SupportedDevices(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", g.Name, err))
			continue
		}
		out.CPU = out.CPU || d.CPU
		out.CUDA = out.CUDA || d.CUDA
		out.DML = out.DML || d.DML
	}
	if len(errs) == len(f.backends) {
		return inference.Devices{}, errors.Join(errs...)
	}
	return out, nil
}

// call runs fn against each backend until one succeeds or returns a caller
// error.
func call[R any](f *Failover, fn func(inference.Provider) (R, error)) (R, error) {
	var (
		zero    R
		lastErr error
	)
	for _, g := range f.backends {
		var out R
		err := g.breaker.Execute(func() error {
			var err error
			out, err = fn(g.Provider)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping backend; circuit open", "backend", g.Name)
		case !IsFault(err):
			return zero, err
		default:
			slog.Warn("backend failed; trying next", "backend", g.Name, "err", err)
		}
		lastErr = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

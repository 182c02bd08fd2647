package continuation

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/sinapsi/sinapsi-core/internal/engine"
)

// Logger defines the logging interface used by the continuation package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Continuer resumes handed-off runs. *engine.MacroEngine implements it.
type Continuer interface {
	ContinueMacro(ctx context.Context, d engine.RemoteExecutionDescriptor) error
}

// Syncer refreshes the local macro catalog. *catalog.Catalog implements it.
type Syncer interface {
	Sync(ctx context.Context) error
}

// Dispatcher routes inbound envelopes to the engine and the catalog.
//
// A descriptor for a macro the engine does not know triggers one catalog
// sync and one retry. Concurrent syncs collapse into a single call.
//
// Thread Safety: all methods are safe for concurrent use.
type Dispatcher struct {
	engine   Continuer
	syncer   Syncer
	recorder engine.Recorder
	logger   Logger

	syncs singleflight.Group
}

// NewDispatcher creates a dispatcher. recorder and logger may be nil.
func NewDispatcher(eng Continuer, syncer Syncer, recorder engine.Recorder, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{engine: eng, syncer: syncer, recorder: recorder, logger: logger}
}

// HandleMessage decodes one envelope and routes it by msgType.
func (d *Dispatcher) HandleMessage(ctx context.Context, raw []byte) error {
	env, err := DecodeEnvelope(raw)
	if err != nil {
		return err
	}

	switch env.MsgType {
	case MsgRemoteExecutionDescriptor:
		desc, err := engine.DecodeDescriptor(env.Data)
		if err != nil {
			return err
		}
		return d.OnContinuationReceived(ctx, desc)
	case MsgModelUpdatedNotification:
		return d.OnCatalogInvalidated(ctx)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, env.MsgType)
	}
}

// OnContinuationReceived resumes a handed-off run.
//
// Returns:
//   - nil when the run resumed, or when the descriptor was a duplicate
//   - wrapped engine.ErrMissingMacro when the macro is still unknown after a sync
//   - the run's own failure otherwise
func (d *Dispatcher) OnContinuationReceived(ctx context.Context, desc engine.RemoteExecutionDescriptor) error {
	err := d.continueOnce(ctx, desc)
	if !errors.Is(err, engine.ErrMissingMacro) {
		return err
	}

	d.logger.Info("continuation for unknown macro, syncing catalog", "macro_id", desc.MacroID)
	if syncErr := d.sync(ctx); syncErr != nil {
		d.record(desc.MacroID, engine.ContinuationDropped)
		return fmt.Errorf("syncing catalog for macro %d: %w", desc.MacroID, syncErr)
	}
	d.record(desc.MacroID, engine.ContinuationResynced)

	err = d.continueOnce(ctx, desc)
	if errors.Is(err, engine.ErrMissingMacro) {
		d.record(desc.MacroID, engine.ContinuationDropped)
		d.logger.Error("dropping continuation for missing macro", "macro_id", desc.MacroID, "error", err)
	}
	return err
}

func (d *Dispatcher) continueOnce(ctx context.Context, desc engine.RemoteExecutionDescriptor) error {
	err := d.engine.ContinueMacro(ctx, desc)
	if errors.Is(err, engine.ErrDuplicateContinuation) {
		d.logger.Warn("dropping duplicate continuation", "macro_id", desc.MacroID, "key", desc.IdempotencyKey())
		return nil
	}
	return err
}

// OnCatalogInvalidated reloads the catalog after a peer changed it.
func (d *Dispatcher) OnCatalogInvalidated(ctx context.Context) error {
	d.logger.Info("macro catalog invalidated by peer")
	return d.sync(ctx)
}

// sync collapses concurrent catalog syncs into one call.
func (d *Dispatcher) sync(ctx context.Context) error {
	if d.syncer == nil {
		return errors.New("no catalog syncer configured")
	}
	_, err, _ := d.syncs.Do("catalog", func() (any, error) {
		return nil, d.syncer.Sync(ctx)
	})
	return err
}

func (d *Dispatcher) record(macroID int, outcome string) {
	if d.recorder != nil {
		d.recorder.RecordContinuation(macroID, outcome)
	}
}

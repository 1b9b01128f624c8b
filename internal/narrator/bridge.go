package narrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Bridge renders the phase-specific prompt for an adjudication bundle,
// invokes the narrator backend, and returns the validated structured reply.
// Applying the reply's effects is the engine's job; the bridge guarantees
// only that a returned Response conforms to the contract.
type Bridge struct {
	completer ChatCompleter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewBridge builds a bridge over the given backend. timeout bounds each
// adjudication round trip; zero means no bound beyond the caller's context.
func NewBridge(completer ChatCompleter, timeout time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{completer: completer, timeout: timeout, logger: logger}
}

// Adjudicate runs one narrator round trip for the bundle. The returned
// response has passed schema validation; a failed or malformed reply leaves
// nothing applied anywhere.
func (b *Bridge) Adjudicate(ctx context.Context, bundle *Bundle) (*Response, error) {
	prompt, err := RenderPrompt(bundle)
	if err != nil {
		return nil, err
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	started := time.Now()
	raw, err := b.completer.Complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, fmt.Errorf("adjudicate %s for %s: %w", bundle.ActionType, bundle.ActorID, err)
	}

	resp, err := ParseResponse([]byte(raw))
	if err != nil {
		b.logger.Warn("narrator reply rejected",
			zap.String("session_id", bundle.SessionID),
			zap.String("actor_id", bundle.ActorID),
			zap.Error(err),
		)
		return nil, err
	}

	b.logger.Debug("adjudication complete",
		zap.String("session_id", bundle.SessionID),
		zap.String("kind", string(bundle.Kind)),
		zap.Duration("latency", time.Since(started)),
		zap.Int("outcomes", len(resp.MechanicalOutcome)),
		zap.Int("required_rolls", len(resp.RequiredRolls)),
	)
	return resp, nil
}

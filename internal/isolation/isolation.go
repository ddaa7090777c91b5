// Package isolation keeps the QA engine's server-side conversational memory
// from bleeding across chat boundaries. The engine scopes its memory to "the
// current conversation" implicitly, so whenever the active chat changes to a
// different chat, or a chat is cleared or deleted, the Manager tells the
// engine to forget.
//
// Reset failures are deliberately non-fatal: they are logged and counted but
// never propagated, and they never block the switch/clear/delete that
// triggered them. Stale engine memory degrades answer quality; a blocked chat
// switch breaks the product.
package isolation

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// MemoryResetter is the slice of the QA engine contract the Manager needs.
type MemoryResetter interface {
	ClearMemory(ctx context.Context) error
}

var (
	// resets counts context-reset requests by outcome.
	resets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_context_resets_total",
			Help: "Total number of QA engine context resets issued.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(resets)
}

// Manager issues context resets to the QA engine at chat boundaries.
// Safe for concurrent use; the reset call itself is idempotent engine-side.
type Manager struct {
	engine MemoryResetter
	log    zerolog.Logger
}

// NewManager builds a Manager around the given engine client.
func NewManager(engine MemoryResetter, log zerolog.Logger) *Manager {
	return &Manager{
		engine: engine,
		log:    log.With().Str("component", "isolation").Logger(),
	}
}

// ResetContext asks the engine to discard its conversational memory.
// Failures are logged only; callers never observe them.
func (m *Manager) ResetContext(ctx context.Context) {
	if m == nil || m.engine == nil {
		return
	}
	if err := m.engine.ClearMemory(ctx); err != nil {
		resets.WithLabelValues("error").Inc()
		m.log.Warn().Err(err).Msg("context reset failed")
		return
	}
	resets.WithLabelValues("ok").Inc()
	m.log.Debug().Msg("context reset")
}

// ResetForSwitch issues a reset when moving from one chat to a different one.
// Switching to the same id is a no-op: the engine's memory already belongs to
// that conversation. The reset request is sent before the caller updates its
// active chat id.
func (m *Manager) ResetForSwitch(ctx context.Context, from, to string) {
	if from == to {
		return
	}
	m.ResetContext(ctx)
}

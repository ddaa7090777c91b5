// Package docstatus tracks the asynchronous ingestion status of an uploaded
// document. A document starts out "processing" while the ingestion pipeline
// chunks and indexes it; the Poller watches the status endpoint on a fixed
// interval until the document reaches a terminal state.
//
// State machine:
//
//	processing --poll:ready--> ready   (terminal; triggers one full refetch)
//	processing --poll:error--> error   (terminal; carries the backend message)
//
// A poll call that itself fails (transport) does not change state; the next
// tick retries. There is intentionally no backoff and no retry cap - the
// status endpoint is cheap and the interval already bounds the request rate.
//
// The poller is advisory: it never blocks question submission itself. The
// HTTP facade consults Status() to gate asking.
package docstatus

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 3 * time.Second

// genericErrorMessage is shown when the backend reports an error without a
// message of its own.
const genericErrorMessage = "Document processing failed"

// Client is the slice of the document service contract the poller needs.
type Client interface {
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)
	GetDocumentStatus(ctx context.Context, documentID string) (domain.DocStatus, string, error)
}

var (
	// pollTicks counts status checks by outcome.
	pollTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docchat_status_polls_total",
			Help: "Total number of document status poll attempts.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(pollTicks)
}

// Poller watches one document's ingestion status.
//
// Construct with New, then Start. Stop cancels the loop; it is also called
// internally on a terminal transition. Safe for concurrent use.
type Poller struct {
	client   Client
	docID    string
	interval time.Duration
	log      zerolog.Logger

	// OnReady receives the refetched document after a ready transition.
	OnReady func(*domain.Document)
	// OnError receives the terminal error message.
	OnError func(string)

	mu      sync.Mutex
	status  domain.DocStatus
	errMsg  string
	stop    chan struct{}
	stopped bool
	done    chan struct{}
}

// New builds a Poller for documentID. interval <= 0 selects DefaultInterval.
func New(client Client, documentID string, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		client:   client,
		docID:    documentID,
		interval: interval,
		log:      log.With().Str("component", "docstatus").Str("document_id", documentID).Logger(),
		status:   domain.DocProcessing,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start seeds the state from initial and begins polling when the document is
// still processing. If initial is already terminal, no polling loop runs (an
// error state still fires OnError).
func (p *Poller) Start(ctx context.Context, initial domain.DocStatus, initialErr string) {
	p.mu.Lock()
	p.status = initial
	p.errMsg = initialErr
	p.mu.Unlock()

	if initial.Terminal() {
		close(p.done)
		if initial == domain.DocError {
			p.fireError(initialErr)
		}
		return
	}
	go p.loop(ctx)
}

// Stop cancels the polling loop. Idempotent; used on teardown and chat-level
// document switches.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.stop)
	}
	p.mu.Unlock()
}

// Status returns the current state and, when in the error state, the message
// to surface.
func (p *Poller) Status() (domain.DocStatus, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, p.errMsg
}

// Done is closed when the polling loop has exited (terminal state, Stop, or
// context cancellation). Mainly for tests and graceful shutdown.
func (p *Poller) Done() <-chan struct{} { return p.done }

func (p *Poller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			if p.tick(ctx) {
				return
			}
		}
	}
}

// tick performs one status check; it reports whether the loop should end.
func (p *Poller) tick(ctx context.Context) (terminal bool) {
	status, msg, err := p.client.GetDocumentStatus(ctx, p.docID)
	if err != nil {
		// Transport failure: state unchanged, retry on the next tick.
		pollTicks.WithLabelValues("transport_error").Inc()
		p.log.Warn().Err(err).Msg("status poll failed")
		return false
	}

	switch status {
	case domain.DocReady:
		pollTicks.WithLabelValues("ready").Inc()
		p.setStatus(domain.DocReady, "")
		p.refetch(ctx)
		return true

	case domain.DocError:
		pollTicks.WithLabelValues("error").Inc()
		if msg == "" {
			msg = genericErrorMessage
		}
		p.setStatus(domain.DocError, msg)
		p.fireError(msg)
		return true

	default:
		pollTicks.WithLabelValues("processing").Inc()
		return false
	}
}

// refetch pulls the full document record after a ready transition so
// downstream consumers see final content and metadata.
func (p *Poller) refetch(ctx context.Context) {
	doc, err := p.client.GetDocument(ctx, p.docID)
	if err != nil {
		// Ready stands even when the refetch fails; the record can be
		// fetched again on demand.
		p.log.Warn().Err(err).Msg("document refetch failed")
		return
	}
	if p.OnReady != nil {
		p.OnReady(doc)
	}
	p.log.Info().Msg("document ready")
}

func (p *Poller) fireError(msg string) {
	if msg == "" {
		msg = genericErrorMessage
	}
	if p.OnError != nil {
		p.OnError(msg)
	}
	p.log.Error().Str("error_message", msg).Msg("document processing failed")
}

func (p *Poller) setStatus(s domain.DocStatus, msg string) {
	p.mu.Lock()
	p.status = s
	p.errMsg = msg
	p.mu.Unlock()
}

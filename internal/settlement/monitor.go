// Package settlement tracks submitted bridge transfers until they settle on
// the destination chain.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/ggonzalez94/xbridge/internal/cache"
	"github.com/ggonzalez94/xbridge/internal/chain"
	"github.com/ggonzalez94/xbridge/internal/id"
	"github.com/ggonzalez94/xbridge/internal/model"
	"github.com/ggonzalez94/xbridge/internal/registry"
)

type Config struct {
	PollInterval time.Duration
	// SearchWindow is how many destination blocks back from head are searched.
	SearchWindow uint64
	// MaxFailures consecutive RPC failures move a record to unknown.
	MaxFailures int
	// RPCRate caps RPC calls per second across all trackers. Zero disables it.
	RPCRate float64
}

func DefaultConfig() Config {
	return Config{
		PollInterval: 15 * time.Second,
		SearchWindow: 1000,
		MaxFailures:  3,
	}
}

// Sink receives a record after every tick that changed its status. changes
// holds only the transitions made in that tick.
type Sink interface {
	Publish(ctx context.Context, rec model.BridgeRecord, changes []model.StatusChange) error
}

// Progress is what an off-chain status source knows about a transfer.
type Progress struct {
	Completed         bool
	Failed            bool
	DestinationTxHash string
	Detail            string
}

// StatusProbe answers destination progress for providers whose completion
// cannot be matched from a single destination log.
type StatusProbe interface {
	Status(ctx context.Context, rec model.BridgeRecord) (Progress, error)
}

type Monitor struct {
	backends chain.Backends
	logs     cache.Backend
	probes   map[string]StatusProbe
	sinks    []Sink
	limiter  *rate.Limiter
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

func New(backends chain.Backends, cfg Config, log zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.SearchWindow == 0 {
		cfg.SearchWindow = def.SearchWindow
	}
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	m := &Monitor{
		backends: backends,
		logs:     cache.NewMemory(),
		probes:   map[string]StatusProbe{},
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "settlement").Logger(),
	}
	if cfg.RPCRate > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RPCRate), 1)
	}
	return m
}

// WithLogCache replaces the in-memory destination log cache.
func (m *Monitor) WithLogCache(c cache.Backend) *Monitor {
	if c != nil {
		m.logs = c
	}
	return m
}

func (m *Monitor) WithProbe(provider string, p StatusProbe) *Monitor {
	m.probes[strings.ToLower(provider)] = p
	return m
}

func (m *Monitor) WithSinks(sinks ...Sink) *Monitor {
	m.sinks = append(m.sinks, sinks...)
	return m
}

func (m *Monitor) Config() Config { return m.cfg }

func (m *Monitor) wait(ctx context.Context) error {
	if m.limiter == nil {
		return nil
	}
	return m.limiter.Wait(ctx)
}

// Tracker owns the polling state of one record.
type Tracker struct {
	m        *Monitor
	mu       sync.Mutex
	rec      model.BridgeRecord
	failures int
	log      zerolog.Logger
}

func (m *Monitor) Track(rec model.BridgeRecord) *Tracker {
	return &Tracker{
		m:   m,
		rec: rec,
		log: m.log.With().Str("record", rec.ID).Str("provider", rec.Provider).Logger(),
	}
}

func (t *Tracker) Record() model.BridgeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec
}

// Tick runs one source receipt check (while pending) and, once the source is
// confirmed, one destination search. Terminal records are returned unchanged.
func (t *Tracker) Tick(ctx context.Context) model.BridgeRecord {
	rec := t.Record()
	if rec.Status.Terminal() {
		return rec
	}
	before := len(rec.History)

	if rec.Status == model.StatusPending {
		t.checkSource(ctx, &rec)
	}
	if rec.Status == model.StatusSourceConfirmed {
		rec.Advance(model.StatusDestinationPending, "awaiting destination evidence", t.m.now())
	}
	if rec.Status == model.StatusDestinationPending {
		t.checkDestination(ctx, &rec)
	}

	t.mu.Lock()
	t.rec = rec
	t.mu.Unlock()

	if changes := rec.History[before:]; len(changes) > 0 {
		for _, c := range changes {
			t.log.Info().Str("from", string(c.From)).Str("to", string(c.To)).Str("detail", c.Detail).Msg("settlement transition")
		}
		for _, sink := range t.m.sinks {
			if err := sink.Publish(ctx, rec, changes); err != nil {
				t.log.Warn().Err(err).Msg("settlement sink failed")
			}
		}
	}
	return rec
}

// Run ticks immediately and then on every poll interval until the record is
// terminal or ctx is cancelled. Cancellation leaves the last status intact.
func (t *Tracker) Run(ctx context.Context) model.BridgeRecord {
	rec := t.Tick(ctx)
	if rec.Status.Terminal() {
		return rec
	}
	ticker := time.NewTicker(t.m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			t.log.Debug().Msg("settlement tracking cancelled")
			return t.Record()
		case <-ticker.C:
			if rec = t.Tick(ctx); rec.Status.Terminal() {
				return rec
			}
		}
	}
}

// Handle is a running tracker owned by the caller.
type Handle struct {
	tracker *Tracker
	cancel  context.CancelFunc
	done    chan struct{}
}

// Start tracks rec in the background until it is terminal or the handle is
// cancelled.
func (m *Monitor) Start(ctx context.Context, rec model.BridgeRecord) *Handle {
	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{tracker: m.Track(rec), cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer cancel()
		h.tracker.Run(runCtx)
	}()
	return h
}

func (h *Handle) Cancel() { h.cancel() }

func (h *Handle) Done() <-chan struct{} { return h.done }

func (h *Handle) Record() model.BridgeRecord { return h.tracker.Record() }

func (t *Tracker) checkSource(ctx context.Context, rec *model.BridgeRecord) {
	source, err := id.ParseChain(rec.SourceChain)
	if err != nil {
		t.unknown(rec, "unknown source chain "+rec.SourceChain)
		return
	}
	backend, err := t.m.backends.Backend(ctx, source)
	if err != nil {
		t.unknown(rec, fmt.Sprintf("source chain %s unreachable: %v", source.Slug, err))
		return
	}
	if err := t.m.wait(ctx); err != nil {
		return
	}
	receipt, err := backend.TransactionReceipt(ctx, common.HexToHash(rec.SourceTxHash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		t.failures = 0
		return
	}
	if err != nil {
		t.fail(rec, "source receipt", err)
		return
	}
	t.failures = 0
	if receipt.Status != types.ReceiptStatusSuccessful {
		rec.Advance(model.StatusFailed, "source transaction reverted", t.m.now())
		return
	}
	if receipt.BlockNumber != nil {
		rec.SourceBlock = receipt.BlockNumber.Uint64()
	}
	t.recordTransferID(rec, receipt)
	rec.Advance(model.StatusSourceConfirmed, fmt.Sprintf("source confirmed in block %d", rec.SourceBlock), t.m.now())
}

// recordTransferID keeps the transfer id for protocols whose completion event
// is keyed by one. A missing id leaves the record to be marked unknown on the
// destination side.
func (t *Tracker) recordTransferID(rec *model.BridgeRecord, receipt *types.Receipt) {
	desc, ok := registry.Lookup(rec.Provider)
	if !ok || desc.Kind != registry.KindOnchain {
		return
	}
	ev, ok := desc.CompletionFor(rec.SourceChain)
	if !ok || ev.SourceEvent == "" {
		return
	}
	contracts, ok := desc.ContractsFor(rec.Token, rec.SourceChain)
	if !ok || !common.IsHexAddress(contracts.Receiver) {
		return
	}
	v, found, err := transferID(ev, common.HexToAddress(contracts.Receiver), receipt)
	if err != nil {
		t.log.Warn().Err(err).Msg("read transfer id from source receipt")
		return
	}
	if found {
		rec.TransferID = v
	}
}

func (t *Tracker) checkDestination(ctx context.Context, rec *model.BridgeRecord) {
	if probe, ok := t.m.probes[strings.ToLower(rec.Provider)]; ok {
		progress, err := probe.Status(ctx, *rec)
		if err != nil {
			t.fail(rec, "status probe", err)
			return
		}
		t.failures = 0
		switch {
		case progress.Completed:
			rec.DestinationTxHash = progress.DestinationTxHash
			rec.Advance(model.StatusCompleted, firstNonEmpty(progress.Detail, "destination settled"), t.m.now())
		case progress.Failed:
			rec.Advance(model.StatusFailed, firstNonEmpty(progress.Detail, "provider reported failure"), t.m.now())
		}
		return
	}

	desc, ok := registry.Lookup(rec.Provider)
	if !ok || desc.Kind != registry.KindOnchain {
		t.unknown(rec, "no settlement source for provider "+rec.Provider)
		return
	}
	ev, ok := desc.CompletionFor(rec.SourceChain)
	if !ok {
		t.unknown(rec, fmt.Sprintf("%s has no completion event for transfers from %s", desc.Name, rec.SourceChain))
		return
	}
	contracts, ok := desc.ContractsFor(rec.Token, rec.DestinationChain)
	if !ok || strings.TrimSpace(contracts.Receiver) == "" {
		t.unknown(rec, fmt.Sprintf("%s has no completion receiver on %s", desc.Name, rec.DestinationChain))
		return
	}
	destination, err := id.ParseChain(rec.DestinationChain)
	if err != nil {
		t.unknown(rec, "unknown destination chain "+rec.DestinationChain)
		return
	}
	backend, err := t.m.backends.Backend(ctx, destination)
	if err != nil {
		t.unknown(rec, fmt.Sprintf("destination chain %s unreachable: %v", destination.Slug, err))
		return
	}

	match, found, err := t.m.findCompletion(ctx, backend, destination.Slug, desc, ev, contracts, *rec)
	if errors.Is(err, errUntrackable) {
		t.unknown(rec, err.Error())
		return
	}
	if err != nil {
		t.fail(rec, "destination log search", err)
		return
	}
	t.failures = 0
	if found {
		rec.DestinationTxHash = match.TxHash.Hex()
		rec.Advance(model.StatusCompleted, fmt.Sprintf("%s at block %d", ev.Name, match.BlockNumber), t.m.now())
	}
}

func (t *Tracker) fail(rec *model.BridgeRecord, step string, err error) {
	t.failures++
	t.log.Warn().Err(err).Str("step", step).Int("failures", t.failures).Msg("settlement check failed")
	if t.failures >= t.m.cfg.MaxFailures {
		t.unknown(rec, fmt.Sprintf("%s failed %d times: %v", step, t.failures, err))
	}
}

func (t *Tracker) unknown(rec *model.BridgeRecord, detail string) {
	rec.Advance(model.StatusUnknown, "cannot auto-track, check manually: "+detail, t.m.now())
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

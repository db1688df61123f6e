package watcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/membriq/chainpay/internal/chain"
	"github.com/membriq/chainpay/pkg/config"
	"github.com/membriq/chainpay/pkg/logging"
)

// ChainReader reads transfer events and head state from the chain
type ChainReader interface {
	HeadBlock(ctx context.Context) (int64, error)
	GetTransferLogs(ctx context.Context, from, to int64) ([]*chain.TransferEvent, error)
}

// Watcher runs the live subscription and the periodic reconciliation sweep.
// A stream goroutine polls the chain for transfer logs and feeds a channel; a
// processing task drains the channel through the acceptance funnel. The two
// are decoupled so slow acceptance backpressures the stream instead of
// dropping events.
type Watcher struct {
	chain      ChainReader
	acceptor   *Acceptor
	reconciler *Reconciler
	cfg        *config.WatcherConfig
	logger     *zap.Logger
}

// New creates a new watcher
func New(chainReader ChainReader, acceptor *Acceptor, reconciler *Reconciler, cfg *config.WatcherConfig) *Watcher {
	return &Watcher{
		chain:      chainReader,
		acceptor:   acceptor,
		reconciler: reconciler,
		cfg:        cfg,
		logger:     logging.WithComponent("watcher"),
	}
}

// Run starts the watcher and blocks until the context is cancelled. On
// cancellation the stream stops, in-flight acceptance runs finish, and Run
// returns.
func (w *Watcher) Run(ctx context.Context) error {
	w.logger.Info("Starting chain watcher")

	// Startup reconciliation covers events missed while down
	if err := w.reconciler.Sweep(ctx); err != nil {
		w.logger.Error("Startup reconciliation failed", zap.Error(err))
	}

	events := make(chan *chain.TransferEvent, 64)

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		defer close(events)
		w.stream(ctx, events)
	}()

	go func() {
		defer wg.Done()
		w.sweepLoop(ctx)
	}()

	// Processing task: drain the channel through the acceptance funnel.
	// Shutdown stops the stream, not in-flight acceptance and commission
	// runs, so the drain path is detached from the cancel.
	procCtx := context.WithoutCancel(ctx)
	for ev := range events {
		if ev.TxHash == "" || !ev.Value.IsPositive() {
			w.logger.Warn("Dropping malformed transfer event",
				zap.String("tx_hash", ev.TxHash),
				zap.String("value", ev.Value.String()))
			continue
		}

		result, err := w.acceptor.AcceptTransfer(procCtx, ev)
		if err != nil {
			// Transient failure: the event is re-observed on a later poll
			// or picked up by the reconciliation sweep
			w.logger.Error("Transfer acceptance failed",
				zap.String("tx_hash", ev.TxHash),
				zap.Error(err))
			continue
		}
		w.logger.Debug("Transfer processed",
			zap.String("tx_hash", ev.TxHash),
			zap.String("result", result.String()))
	}

	wg.Wait()
	w.logger.Info("Chain watcher stopped")
	return ctx.Err()
}

// stream polls for transfer logs and pushes them into the events channel
func (w *Watcher) stream(ctx context.Context, events chan<- *chain.TransferEvent) {
	cursor := int64(0)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		head, err := w.chain.HeadBlock(ctx)
		if err != nil {
			w.logger.Error("Failed to get head block", zap.Error(err))
			w.wait(ctx, w.cfg.PollInterval)
			continue
		}

		if cursor == 0 {
			cursor = head - w.cfg.LookbackBlocks
			if cursor < 1 {
				cursor = 1
			}
			w.logger.Info("Scan cursor initialized",
				zap.Int64("from_block", cursor),
				zap.Int64("head", head))
		}

		if head >= cursor {
			logs, err := w.chain.GetTransferLogs(ctx, cursor, head)
			if err != nil {
				w.logger.Error("Failed to fetch transfer logs",
					zap.Int64("from", cursor),
					zap.Int64("to", head),
					zap.Error(err))
				w.wait(ctx, w.cfg.PollInterval)
				continue
			}

			for _, ev := range logs {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}

			cursor = head + 1
		}

		w.wait(ctx, w.cfg.PollInterval)
	}
}

// sweepLoop runs the reconciliation sweep periodically
func (w *Watcher) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.reconciler.Sweep(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("Reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}

// wait waits for the given duration or until the context is cancelled
func (w *Watcher) wait(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

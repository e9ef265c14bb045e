package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

const (
	DefaultPollMaxAttempts = 20
	DefaultPollInterval    = 3 * time.Second
)

// PollOutcome is the terminal result of settlement polling
type PollOutcome string

const (
	PollConfirmed PollOutcome = "confirmed"
	PollFailed    PollOutcome = "failed"
	PollTimedOut  PollOutcome = "timed_out"
)

// PollResult reports how polling ended
type PollResult struct {
	Outcome         PollOutcome
	Status          SettlementStatus
	TransactionHash string
	Attempts        int
}

// StatusFetcher returns the current settlement record
type StatusFetcher func(ctx context.Context, settlementID string) (*SettlementRecord, error)

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// PollerOption configures a SettlementPoller
type PollerOption func(*SettlementPoller)

// WithSleep overrides how the poller waits between attempts
func WithSleep(sleep SleepFunc) PollerOption {
	return func(p *SettlementPoller) {
		p.sleep = sleep
	}
}

// WithUpdateHook is called after every successful status fetch
func WithUpdateHook(hook func(record SettlementRecord, attempt int)) PollerOption {
	return func(p *SettlementPoller) {
		p.onUpdate = hook
	}
}

// SettlementPoller polls settlement status at a fixed interval with a bounded attempt budget
type SettlementPoller struct {
	fetch    StatusFetcher
	sleep    SleepFunc
	onUpdate func(record SettlementRecord, attempt int)
	logger   *utils.LogsManager
}

// NewSettlementPoller creates a poller over fetch
func NewSettlementPoller(fetch StatusFetcher, logger *utils.LogsManager, opts ...PollerOption) *SettlementPoller {
	p := &SettlementPoller{
		fetch:  fetch,
		sleep:  sleepContext,
		logger: logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll checks the settlement until it is confirmed with a transaction hash, fails, or the
// attempt budget is spent. Fetch errors count as attempts. Poll never returns an error;
// a cancelled context ends polling as TimedOut.
func (p *SettlementPoller) Poll(ctx context.Context, settlementID string, maxAttempts int, interval time.Duration) PollResult {
	result := PollResult{
		Outcome: PollTimedOut,
		Status:  SettlementPending,
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if ctx.Err() != nil {
			p.logger.Warn(fmt.Sprintf("Polling for settlement %s cancelled after %d attempts", settlementID, result.Attempts), "poller")
			return result
		}

		result.Attempts = attempt
		record, err := p.fetch(ctx, settlementID)
		if err != nil {
			p.logger.Debug(fmt.Sprintf("Settlement %s status check %d/%d failed: %v", settlementID, attempt, maxAttempts, err), "poller")
		} else {
			result.Status = record.Status
			if record.TransactionHash != "" {
				result.TransactionHash = record.TransactionHash
			}
			if p.onUpdate != nil {
				p.onUpdate(*record, attempt)
			}

			switch {
			case record.Status == SettlementSettled && record.TransactionHash != "":
				result.Outcome = PollConfirmed
				p.logger.Info(fmt.Sprintf("Settlement %s confirmed after %d attempts: tx=%s", settlementID, attempt, record.TransactionHash), "poller")
				return result
			case record.Status == SettlementFailed:
				result.Outcome = PollFailed
				p.logger.Warn(fmt.Sprintf("Settlement %s failed on chain after %d attempts", settlementID, attempt), "poller")
				return result
			}
		}

		if attempt == maxAttempts {
			break
		}
		if err := p.sleep(ctx, interval); err != nil {
			p.logger.Warn(fmt.Sprintf("Polling for settlement %s interrupted after %d attempts: %v", settlementID, attempt, err), "poller")
			return result
		}
	}

	p.logger.Warn(fmt.Sprintf("Settlement %s not confirmed after %d attempts", settlementID, result.Attempts), "poller")
	return result
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/0xmetaHQ/merchant-demo/internal/payment"
	"github.com/0xmetaHQ/merchant-demo/internal/session"
	"github.com/0xmetaHQ/merchant-demo/internal/utils"
)

// PaymentState is the controller's position in the payment lifecycle
type PaymentState string

const (
	StateIdle              PaymentState = "idle"
	StateAuthorizing       PaymentState = "authorizing"
	StateVerifying         PaymentState = "verifying"
	StateSettling          PaymentState = "settling"
	StateSettledPending    PaymentState = "settled_pending"
	StateConfirmed         PaymentState = "confirmed"
	StateTimedOut          PaymentState = "timed_out"
	StateFailedOnChain     PaymentState = "failed_on_chain"
	StateFailed            PaymentState = "failed"
	StateReconnectRequired PaymentState = "reconnect_required"
)

// Terminal reports whether the state ends a payment attempt
func (s PaymentState) Terminal() bool {
	switch s {
	case StateConfirmed, StateTimedOut, StateFailedOnChain, StateFailed:
		return true
	}
	return false
}

var (
	ErrPaymentInFlight    = errors.New("payment already in progress")
	ErrWalletNotConnected = errors.New("wallet not connected")
	ErrSessionInvalidated = errors.New("payment session invalidated by wallet change")
)

// Facilitator verifies and settles signed authorizations
type Facilitator interface {
	Verify(ctx context.Context, in payment.VerifyInput) (*payment.VerificationRecord, error)
	Settle(ctx context.Context, verificationID string, destination string) (*payment.SettlementRecord, error)
	SettlementStatus(ctx context.Context, settlementID string) (*payment.SettlementRecord, error)
}

// ConfigProvider returns the normalized payment configuration
type ConfigProvider interface {
	Get(ctx context.Context) (*payment.PaymentConfig, error)
}

// Authorizer builds and signs a fresh authorization
type Authorizer interface {
	Build(ctx context.Context, cfg *payment.PaymentConfig, payer string, signer payment.Signer) (*payment.SignedAuthorization, error)
}

// Outcome describes a finished payment
type Outcome struct {
	State           PaymentState `json:"state" yaml:"state"`
	Payer           string       `json:"payer" yaml:"payer"`
	Nonce           string       `json:"nonce" yaml:"nonce"`
	AmountUSDC      string       `json:"amount_usdc" yaml:"amount_usdc"`
	AmountWei       string       `json:"amount_wei" yaml:"amount_wei"`
	VerificationID  string       `json:"verification_id" yaml:"verification_id"`
	SettlementID    string       `json:"settlement_id" yaml:"settlement_id"`
	TransactionHash string       `json:"transaction_hash,omitempty" yaml:"transaction_hash,omitempty"`
	ExplorerURL     string       `json:"explorer_url,omitempty" yaml:"explorer_url,omitempty"`
	PollAttempts    int          `json:"poll_attempts" yaml:"poll_attempts"`
}

// ControllerOption configures a PaymentController
type ControllerOption func(*PaymentController)

// WithObserver sets the rendering callbacks
func WithObserver(observer PaymentObserver) ControllerOption {
	return func(c *PaymentController) {
		if observer != nil {
			c.observer = observer
		}
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(metrics *Metrics) ControllerOption {
	return func(c *PaymentController) {
		c.metrics = metrics
	}
}

// WithPolling sets the settlement polling budget
func WithPolling(maxAttempts int, interval time.Duration) ControllerOption {
	return func(c *PaymentController) {
		c.pollMaxAttempts = maxAttempts
		c.pollInterval = interval
	}
}

// WithPollSleep overrides how the poller waits between attempts
func WithPollSleep(sleep payment.SleepFunc) ControllerOption {
	return func(c *PaymentController) {
		c.pollSleep = sleep
	}
}

// WithResource sets the resource path reported in verify metadata
func WithResource(resource string) ControllerOption {
	return func(c *PaymentController) {
		c.resource = resource
	}
}

// PaymentController owns one payment session and drives the
// authorize, verify, settle and poll sequence for it.
type PaymentController struct {
	mu         sync.Mutex
	state      PaymentState
	session    session.State
	generation uint64
	lastConfig *payment.PaymentConfig

	signer      payment.Signer
	configs     ConfigProvider
	builder     Authorizer
	facilitator Facilitator
	store       session.Store
	logger      *utils.LogsManager
	observer    PaymentObserver
	metrics     *Metrics

	resource        string
	pollMaxAttempts int
	pollInterval    time.Duration
	pollSleep       payment.SleepFunc

	events chan WalletEvent
}

// NewPaymentController wires a controller. Call Restore before the first Pay.
func NewPaymentController(
	signer payment.Signer,
	configs ConfigProvider,
	builder Authorizer,
	facilitator Facilitator,
	store session.Store,
	logger *utils.LogsManager,
	opts ...ControllerOption,
) *PaymentController {
	c := &PaymentController{
		state:           StateIdle,
		signer:          signer,
		configs:         configs,
		builder:         builder,
		facilitator:     facilitator,
		store:           store,
		logger:          logger,
		observer:        NopObserver{},
		resource:        "/api/premium-data",
		pollMaxAttempts: payment.DefaultPollMaxAttempts,
		pollInterval:    payment.DefaultPollInterval,
		events:          make(chan WalletEvent, 16),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state
func (c *PaymentController) State() PaymentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the session state
func (c *PaymentController) Session() session.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Restore loads the session from the store. A payment left in flight by a
// previous process can never complete, so its flag and nonce are dropped.
func (c *PaymentController) Restore(ctx context.Context) error {
	state, err := session.Load(ctx, c.store)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = state
	c.state = StateIdle
	if state.PaymentInProgress {
		c.logger.Warn(fmt.Sprintf("Clearing stale in-flight payment (nonce %s)", state.CurrentNonce), "controller")
		c.session.PaymentInProgress = false
		c.session.CurrentNonce = ""
		c.persistLocked(ctx)
	}

	return nil
}

// Connect requests accounts from the signer and binds the first one to the session
func (c *PaymentController) Connect(ctx context.Context) (string, error) {
	accounts, err := c.signer.Accounts(ctx)
	if err != nil {
		return "", &payment.SignerError{Kind: payment.ErrSignerUnavailable, Cause: err}
	}
	if len(accounts) == 0 {
		return "", &payment.SignerError{Kind: payment.ErrSignerUnavailable, Cause: errors.New("wallet exposed no accounts")}
	}

	address := accounts[0]
	c.bindAccount(ctx, address)
	c.logger.Info(fmt.Sprintf("Wallet connected: %s", address), "controller")
	return address, nil
}

// Pay runs one payment attempt to a terminal state. A second call while a
// payment is in flight returns ErrPaymentInFlight without any network call.
func (c *PaymentController) Pay(ctx context.Context) (*Outcome, error) {
	c.mu.Lock()
	if c.session.PaymentInProgress {
		c.mu.Unlock()
		c.logger.Info("Payment already in progress, ignoring request", "controller")
		c.metrics.incAttempt(AttemptInFlight)
		return nil, ErrPaymentInFlight
	}
	if !c.session.WalletConnected || c.session.WalletAddress == "" {
		c.mu.Unlock()
		return nil, ErrWalletNotConnected
	}

	c.generation++
	gen := c.generation
	payer := c.session.WalletAddress
	c.session.BeginAttempt()
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.metrics.incAttempt(AttemptStarted)
	started := time.Now()

	outcome, err := c.run(ctx, gen, payer)
	if err != nil {
		if errors.Is(err, ErrSessionInvalidated) {
			c.logger.Warn(fmt.Sprintf("Discarding payment result for %s: session changed", payer), "controller")
			c.metrics.observeOutcome(StateReconnectRequired, time.Since(started).Seconds())
			return nil, err
		}
		c.fail(ctx, gen, err)
		c.metrics.observeOutcome(StateFailed, time.Since(started).Seconds())
		return nil, err
	}

	c.metrics.observeOutcome(outcome.State, time.Since(started).Seconds())
	return outcome, nil
}

func (c *PaymentController) run(ctx context.Context, gen uint64, payer string) (*Outcome, error) {
	if err := c.transition(gen, StateAuthorizing, "Preparing payment authorization..."); err != nil {
		return nil, err
	}

	cfg, err := c.configs.Get(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.lastConfig = cfg
	c.mu.Unlock()

	if err := c.ensureNetwork(ctx, cfg); err != nil {
		return nil, err
	}

	signed, err := c.builder.Build(ctx, cfg, payer, c.signer)
	if err != nil {
		return nil, err
	}

	if err := c.update(ctx, gen, func(s *session.State) {
		s.CurrentNonce = signed.Authorization.Nonce
	}); err != nil {
		return nil, err
	}

	if err := c.transition(gen, StateVerifying, fmt.Sprintf("Verifying payment of %s USDC...", cfg.TotalPriceUSDC)); err != nil {
		return nil, err
	}

	verification, err := c.facilitator.Verify(ctx, payment.VerifyInput{
		Authorization: signed,
		Config:        cfg,
		Resource:      c.resource,
	})
	if err != nil {
		c.clearAfterVerifyFailure(ctx, gen)
		return nil, err
	}

	if err := c.update(ctx, gen, func(s *session.State) {
		s.LastVerificationID = verification.VerificationID
	}); err != nil {
		return nil, err
	}

	if err := c.transition(gen, StateSettling, "Payment verified, settling..."); err != nil {
		return nil, err
	}

	settlement, err := c.facilitator.Settle(ctx, verification.VerificationID, cfg.MerchantAddress)
	if err != nil {
		return nil, err
	}
	if !c.current(gen) {
		return nil, ErrSessionInvalidated
	}

	outcome := &Outcome{
		Payer:           payer,
		Nonce:           signed.Authorization.Nonce,
		AmountUSDC:      cfg.TotalPriceUSDC,
		AmountWei:       cfg.TotalPriceUSDCWei,
		VerificationID:  verification.VerificationID,
		SettlementID:    settlement.SettlementID,
		TransactionHash: settlement.TransactionHash,
	}

	switch {
	case settlement.Status == payment.SettlementFailed:
		outcome.State = StateFailedOnChain
	case settlement.TransactionHash != "":
		outcome.State = StateConfirmed
	default:
		if err := c.update(ctx, gen, func(s *session.State) {
			s.LastSettlementID = settlement.SettlementID
		}); err != nil {
			return nil, err
		}
		if err := c.transition(gen, StateSettledPending, "Settlement submitted, waiting for confirmation..."); err != nil {
			return nil, err
		}

		result := c.poll(ctx, settlement.SettlementID)
		if !c.current(gen) {
			return nil, ErrSessionInvalidated
		}

		outcome.PollAttempts = result.Attempts
		outcome.TransactionHash = result.TransactionHash
		switch result.Outcome {
		case payment.PollConfirmed:
			outcome.State = StateConfirmed
		case payment.PollFailed:
			outcome.State = StateFailedOnChain
		default:
			outcome.State = StateTimedOut
		}
	}

	if outcome.TransactionHash != "" {
		outcome.ExplorerURL = cfg.ExplorerTxURL(outcome.TransactionHash)
	}

	if err := c.finish(ctx, gen, outcome, signed); err != nil {
		return nil, err
	}
	return outcome, nil
}

// ensureNetwork asks the wallet to switch when it is on another chain
func (c *PaymentController) ensureNetwork(ctx context.Context, cfg *payment.PaymentConfig) error {
	current, err := c.signer.ChainID(ctx)
	if err != nil {
		return &payment.SignerError{Kind: payment.ErrSignerUnavailable, Cause: err}
	}
	if current == cfg.ChainID {
		return nil
	}

	c.logger.Info(fmt.Sprintf("Wallet on chain %d, switching to %d (%s)", current, cfg.ChainID, cfg.Network), "controller")
	if err := c.signer.SwitchChain(ctx, cfg.ChainID); err != nil {
		return &payment.SignerError{Kind: payment.ErrSignerRejected, Cause: fmt.Errorf("switch to chain %d: %w", cfg.ChainID, err)}
	}
	return nil
}

func (c *PaymentController) poll(ctx context.Context, settlementID string) payment.PollResult {
	opts := []payment.PollerOption{
		payment.WithUpdateHook(func(record payment.SettlementRecord, attempt int) {
			c.metrics.incPoll(string(record.Status))
			c.observer.OnSettlementUpdate(record, attempt)
		}),
	}
	if c.pollSleep != nil {
		opts = append(opts, payment.WithSleep(c.pollSleep))
	}

	poller := payment.NewSettlementPoller(c.facilitator.SettlementStatus, c.logger, opts...)
	return poller.Poll(ctx, settlementID, c.pollMaxAttempts, c.pollInterval)
}

// finish records a terminal outcome and releases the in-progress flag
func (c *PaymentController) finish(ctx context.Context, gen uint64, outcome *Outcome, signed *payment.SignedAuthorization) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrSessionInvalidated
	}

	c.state = outcome.State
	s := &c.session
	s.PaymentInProgress = false
	s.LastVerificationID = outcome.VerificationID
	s.LastSettlementID = outcome.SettlementID
	s.LastTransactionHash = outcome.TransactionHash

	// a timed out settlement may still confirm later, so its authorization stays
	s.CurrentNonce = signed.Authorization.Nonce
	s.LastSignature = signed.Signature
	s.LastValidBefore = signed.Authorization.ValidBefore
	s.LastAuthorizedTo = signed.Authorization.To
	s.PaymentVerified = outcome.State == StateConfirmed || outcome.State == StateFailedOnChain
	c.persistLocked(ctx)
	c.mu.Unlock()

	switch outcome.State {
	case StateConfirmed:
		c.logger.Info(fmt.Sprintf("Payment confirmed: settlement=%s tx=%s", outcome.SettlementID, outcome.TransactionHash), "controller")
		c.observer.OnStatus(StatusUpdate{State: StateConfirmed, Message: "Payment confirmed."})
		c.observer.OnSuccess(*outcome)
	case StateFailedOnChain:
		c.logger.Warn(fmt.Sprintf("Settlement failed on chain: settlement=%s", outcome.SettlementID), "controller")
		c.observer.OnStatus(StatusUpdate{State: StateFailedOnChain, Message: "Settlement failed on chain.", Classification: ClassSettlement})
	case StateTimedOut:
		c.logger.Warn(fmt.Sprintf("Settlement %s still pending after %d polls", outcome.SettlementID, outcome.PollAttempts), "controller")
		_, message := ClassifyError(payment.ErrPollTimeout)
		c.observer.OnStatus(StatusUpdate{State: StateTimedOut, Message: message, Classification: ClassTimeout})
	}
	return nil
}

// fail moves a current attempt to Failed and releases it
func (c *PaymentController) fail(ctx context.Context, gen uint64, err error) {
	class, message := ClassifyError(err)

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.state = StateFailed
	c.session.PaymentInProgress = false
	c.session.CurrentNonce = ""
	c.persistLocked(ctx)
	c.mu.Unlock()

	c.logger.Error(fmt.Sprintf("Payment failed (%s): %v", class, err), "controller")
	c.observer.OnStatus(StatusUpdate{State: StateFailed, Message: message, Classification: class})
}

// clearAfterVerifyFailure drops everything but the wallet connection and
// forgets the merchant configuration the rejected authorization was built
// from. The in-progress flag stays set until fail releases it.
func (c *PaymentController) clearAfterVerifyFailure(ctx context.Context, gen uint64) {
	if cache, ok := c.configs.(interface{ Invalidate() }); ok {
		cache.Invalidate()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.session.ClearPayment()
	c.session.PaymentInProgress = true
	c.persistLocked(ctx)
}

// transition moves a current attempt to state and notifies the observer
func (c *PaymentController) transition(gen uint64, state PaymentState, message string) error {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return ErrSessionInvalidated
	}
	c.state = state
	c.mu.Unlock()

	c.logger.Debug(fmt.Sprintf("Payment state -> %s", state), "controller")
	c.observer.OnStatus(StatusUpdate{State: state, Message: message})
	return nil
}

// update mutates and persists the session if gen is still current
func (c *PaymentController) update(ctx context.Context, gen uint64, mutate func(s *session.State)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return ErrSessionInvalidated
	}
	mutate(&c.session)
	c.persistLocked(ctx)
	return nil
}

func (c *PaymentController) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.generation
}

// persistLocked writes the session even when the payment context was cancelled
func (c *PaymentController) persistLocked(ctx context.Context) {
	if err := session.Save(context.WithoutCancel(ctx), c.store, c.session); err != nil {
		c.logger.Error(fmt.Sprintf("Failed to persist session: %v", err), "session")
	}
}

// Events returns the channel wallet events are delivered on. Run consumes it.
func (c *PaymentController) Events() chan<- WalletEvent {
	return c.events
}

// Run handles wallet events until ctx is done
func (c *PaymentController) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.events:
			c.HandleEvent(ctx, event)
		}
	}
}

// HandleEvent applies a single wallet event
func (c *PaymentController) HandleEvent(ctx context.Context, event WalletEvent) {
	c.logger.Debug(fmt.Sprintf("Wallet event: %s", event), "controller")

	switch e := event.(type) {
	case AccountChanged:
		c.metrics.incWalletEvent("accounts_changed")
		c.bindAccount(ctx, e.Address)
	case ChainChanged:
		c.metrics.incWalletEvent("chain_changed")
		c.mu.Lock()
		cfg := c.lastConfig
		c.mu.Unlock()
		if cfg != nil && cfg.ChainID != e.ChainID {
			c.observer.OnWarning(fmt.Sprintf("Wallet switched to chain %d; payments use %s (chain %d).", e.ChainID, cfg.Network, cfg.ChainID))
		} else if cfg == nil {
			c.observer.OnWarning(fmt.Sprintf("Wallet switched to chain %d.", e.ChainID))
		}
	case Disconnected:
		c.metrics.incWalletEvent("disconnect")
		c.disconnect(ctx)
	}
}

// bindAccount switches the session to address. Any attempt in progress is
// abandoned and its result will be discarded.
func (c *PaymentController) bindAccount(ctx context.Context, address string) {
	c.mu.Lock()

	if c.session.WalletConnected && strings.EqualFold(c.session.WalletAddress, address) {
		c.mu.Unlock()
		return
	}

	previous := c.session.WalletAddress
	interrupted := c.state != StateIdle && previous != ""

	c.session.WalletConnected = true
	c.session.WalletAddress = address
	if interrupted {
		c.generation++
		c.state = StateReconnectRequired
		c.session.PaymentInProgress = false
		c.session.CurrentNonce = ""
		c.session.LastSignature = ""
		c.session.LastValidBefore = ""
		c.session.LastAuthorizedTo = ""
	}
	c.persistLocked(ctx)
	c.mu.Unlock()

	if interrupted {
		c.logger.Warn(fmt.Sprintf("Account changed from %s to %s, payment session reset", previous, address), "controller")
		c.observer.OnStatus(StatusUpdate{
			State:          StateReconnectRequired,
			Message:        "Wallet account changed. Please start the payment again.",
			Classification: ClassInvalidated,
		})
	}
}

func (c *PaymentController) disconnect(ctx context.Context) {
	c.mu.Lock()
	c.generation++
	c.state = StateIdle
	c.session = session.State{}
	if err := c.store.Clear(context.WithoutCancel(ctx)); err != nil {
		c.logger.Error(fmt.Sprintf("Failed to clear session: %v", err), "session")
	}
	c.mu.Unlock()

	c.logger.Info("Wallet disconnected, session cleared", "controller")
	c.observer.OnWarning("Wallet disconnected.")
}

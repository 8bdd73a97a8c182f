// Package orchestrator runs the mint and update workflows against the
// registry, one sequential step at a time.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"pns/internal/network"
	"pns/internal/notify"
	"pns/internal/pnserr"
	"pns/internal/pricing"
	"pns/internal/registry"
)

const (
	WorkflowMint   = "mint"
	WorkflowUpdate = "update"
)

// AccountSource yields the connected account. The guard satisfies it.
type AccountSource interface {
	Account() string
}

// Refresher is the slice of the registry cache the workflows drive.
type Refresher interface {
	ScheduleRefresh(delay time.Duration)
}

// Observer is told how every workflow ended.
type Observer interface {
	ObserveWorkflow(workflow string, outcome Outcome)
}

// Orchestrator owns the pending transaction slots and the form state.
type Orchestrator struct {
	accounts     AccountSource
	chain        registry.Transactor
	cache        Refresher
	target       network.Descriptor
	refreshDelay time.Duration
	notifier     notify.Sink
	observer     Observer
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]PendingTransaction
	form    Form
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithNotifier(sink notify.Sink) Option {
	return func(o *Orchestrator) { o.notifier = sink }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithRefreshDelay sets how long after a mint the cache refresh runs.
func WithRefreshDelay(d time.Duration) Option {
	return func(o *Orchestrator) { o.refreshDelay = d }
}

func New(accounts AccountSource, chain registry.Transactor, cache Refresher, target network.Descriptor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		accounts:     accounts,
		chain:        chain,
		cache:        cache,
		target:       target,
		refreshDelay: 2 * time.Second,
		notifier:     notify.Discard,
		logger:       slog.Default(),
		pending:      make(map[string]PendingTransaction),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Mint registers domain and then sets its record. Callers must have passed
// the connection guard first.
func (o *Orchestrator) Mint(ctx context.Context, domain, record string) (Result, error) {
	res := Result{ID: uuid.NewString(), Workflow: WorkflowMint, Domain: domain, Record: record}
	logger := o.logger.With("workflow", res.Workflow, "id", res.ID, "domain", domain)

	if !pricing.ValidLength(domain) {
		res.fail(StepValidate, "", OutcomeInvalid, pnserr.ErrInvalidDomainLength)
		o.notify(ctx, notify.Event{
			Kind:    notify.DomainLengthError,
			Title:   "Invalid Domain",
			Message: fmt.Sprintf("Domain must be between %d and %d characters long.", pricing.MinDomainLength, pricing.MaxDomainLength),
			Domain:  domain,
			Err:     res.Err,
		})
		return o.finish(res)
	}
	res.step(StepValidate, "")

	account := o.accounts.Account()
	if account == "" {
		res.fail(StepValidate, "", OutcomeAborted, pnserr.ErrNotConnected)
		return o.finish(res)
	}

	release, err := o.acquire(domain)
	if err != nil {
		res.fail(StepValidate, "", OutcomeBusy, err)
		return o.finish(res)
	}
	defer release()
	// The form belongs to the workflow holding the slot.
	o.SetInputs(domain, record)

	res.Price = pricing.PriceFor(pricing.DomainLength(domain))
	payment, err := pricing.ToWei(res.Price)
	if err != nil {
		res.fail(StepPrice, "", OutcomeAborted, err)
		return o.finish(res)
	}
	res.step(StepPrice, "")
	logger.Info("minting domain", "price", res.Price)

	o.notify(ctx, notify.Event{
		Kind:    notify.AwaitingWallet,
		Message: fmt.Sprintf("Approve the registration of %s for %s %s in your wallet", domain, res.Price, o.target.NativeCurrency.Symbol),
		Domain:  domain,
	})
	h, err := o.chain.Register(ctx, account, domain, payment)
	if err != nil {
		res.fail(StepRegister, "", OutcomeAborted, err)
		o.notifyError(ctx, domain, err)
		return o.finish(res)
	}
	res.step(StepRegister, h.Hash)

	receipt, err := o.await(ctx, registry.KindRegister, domain, h)
	if err != nil {
		res.fail(StepConfirmRegister, h.Hash, OutcomeAborted, err)
		o.notifyError(ctx, domain, err)
		return o.finish(res)
	}
	if !receipt.Succeeded() {
		err := fmt.Errorf("%w: tx %s", pnserr.ErrRegistrationReverted, h.Hash)
		res.fail(StepConfirmRegister, h.Hash, OutcomeRegistrationFailed, err)
		o.notify(ctx, notify.Event{
			Kind:    notify.RegistrationFailure,
			Title:   "Registration Failed",
			Message: "Transaction failed! Please try again.",
			Domain:  domain,
			Link:    o.target.TxURL(h.Hash),
			Err:     err,
		})
		return o.finish(res)
	}
	res.step(StepConfirmRegister, h.Hash)
	logger.Info("domain registered", "tx", h.Hash, "block", receipt.BlockNumber)
	o.notify(ctx, notify.Event{
		Kind:    notify.RegistrationSuccess,
		Title:   "Domain Minted",
		Message: fmt.Sprintf("Domain %s has been registered.", displayName(domain)),
		Domain:  domain,
		Link:    o.target.TxURL(h.Hash),
	})

	o.notify(ctx, notify.Event{
		Kind:    notify.AwaitingWallet,
		Message: fmt.Sprintf("Approve setting the record of %s in your wallet", domain),
		Domain:  domain,
	})
	h, err = o.chain.SetRecord(ctx, account, domain, record)
	if err != nil {
		o.recordFailed(ctx, &res, StepSetRecord, "", err)
		return o.finish(res)
	}
	res.step(StepSetRecord, h.Hash)

	receipt, err = o.await(ctx, registry.KindSetRecord, domain, h)
	if err == nil && !receipt.Succeeded() {
		err = fmt.Errorf("tx %s reverted", h.Hash)
	}
	if err != nil {
		o.recordFailed(ctx, &res, StepConfirmRecord, h.Hash, err)
		return o.finish(res)
	}
	res.step(StepConfirmRecord, h.Hash)
	res.Outcome = OutcomeSucceeded
	logger.Info("record set", "tx", h.Hash)
	o.notify(ctx, notify.Event{
		Kind:    notify.RecordSetSuccess,
		Title:   "Record Set",
		Message: fmt.Sprintf("Record set for %s.", displayName(domain)),
		Domain:  domain,
		Link:    o.target.TxURL(h.Hash),
	})

	o.clearForm()
	o.cache.ScheduleRefresh(o.refreshDelay)
	return o.finish(res)
}

// Update replaces the record of a domain the account owns. Empty inputs make
// it a quiet no-op.
func (o *Orchestrator) Update(ctx context.Context, domain, record string) (Result, error) {
	res := Result{ID: uuid.NewString(), Workflow: WorkflowUpdate, Domain: domain, Record: record}
	if domain == "" || record == "" {
		return res, nil
	}

	account := o.accounts.Account()
	if account == "" {
		res.fail(StepValidate, "", OutcomeAborted, pnserr.ErrNotConnected)
		return o.finish(res)
	}

	release, err := o.acquire(domain)
	if err != nil {
		res.fail(StepValidate, "", OutcomeBusy, err)
		return o.finish(res)
	}
	defer release()
	o.SetInputs(domain, record)
	res.step(StepValidate, "")
	o.logger.Info("updating record", "workflow", res.Workflow, "id", res.ID, "domain", domain)

	o.notify(ctx, notify.Event{
		Kind:    notify.AwaitingWallet,
		Message: fmt.Sprintf("Approve the record update of %s in your wallet", domain),
		Domain:  domain,
	})
	h, err := o.chain.SetRecord(ctx, account, domain, record)
	if err != nil {
		res.fail(StepSetRecord, "", OutcomeAborted, err)
		o.notifyError(ctx, domain, err)
		return o.finish(res)
	}
	res.step(StepSetRecord, h.Hash)

	receipt, err := o.await(ctx, registry.KindSetRecord, domain, h)
	if err != nil {
		res.fail(StepConfirmRecord, h.Hash, OutcomeAborted, err)
		o.notifyError(ctx, domain, err)
		return o.finish(res)
	}
	if !receipt.Succeeded() {
		err := fmt.Errorf("%w: tx %s", pnserr.ErrRecordSetFailed, h.Hash)
		res.fail(StepConfirmRecord, h.Hash, OutcomeRecordFailed, err)
		o.notify(ctx, notify.Event{
			Kind:    notify.RecordSetFailure,
			Title:   "Update Failed",
			Message: "Record update failed! Please try again.",
			Domain:  domain,
			Link:    o.target.TxURL(h.Hash),
			Err:     err,
		})
		return o.finish(res)
	}
	res.step(StepConfirmRecord, h.Hash)
	res.Outcome = OutcomeSucceeded
	o.notify(ctx, notify.Event{
		Kind:    notify.RecordUpdated,
		Title:   "Record Updated",
		Message: fmt.Sprintf("Record for %s has been updated.", displayName(domain)),
		Domain:  domain,
		Link:    o.target.TxURL(h.Hash),
	})

	o.clearForm()
	o.cache.ScheduleRefresh(0)
	return o.finish(res)
}

// Pending returns the transaction awaiting confirmation for domain, if any.
func (o *Orchestrator) Pending(domain string) (PendingTransaction, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	p, ok := o.pending[slotKey(domain)]
	return p, ok && p.Tx.Hash != ""
}

func (o *Orchestrator) Form() Form {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.form
}

func (o *Orchestrator) SetInputs(domain, record string) {
	o.mu.Lock()
	o.form.Domain = domain
	o.form.Record = record
	o.mu.Unlock()
}

// BeginEdit switches the form to editing an existing domain.
func (o *Orchestrator) BeginEdit(domain string) {
	o.mu.Lock()
	o.form = Form{Domain: domain, Editing: true}
	o.mu.Unlock()
}

func (o *Orchestrator) CancelEdit() {
	o.mu.Lock()
	o.form.Editing = false
	o.mu.Unlock()
}

func (o *Orchestrator) clearForm() {
	o.mu.Lock()
	o.form = Form{}
	o.mu.Unlock()
}

// acquire claims the slot for domain; the returned func frees it.
func (o *Orchestrator) acquire(domain string) (func(), error) {
	key := slotKey(domain)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.pending[key]; busy {
		return nil, fmt.Errorf("%w: %s", pnserr.ErrWorkflowBusy, domain)
	}
	o.pending[key] = PendingTransaction{Domain: domain}
	return func() {
		o.mu.Lock()
		delete(o.pending, key)
		o.mu.Unlock()
	}, nil
}

// await records the pending transaction and blocks until it is mined.
func (o *Orchestrator) await(ctx context.Context, kind registry.TxKind, domain string, h registry.TxHandle) (registry.Receipt, error) {
	o.mu.Lock()
	o.pending[slotKey(domain)] = PendingTransaction{Kind: kind, Domain: domain, Tx: h}
	o.mu.Unlock()

	o.notify(ctx, notify.Event{
		Kind:    notify.AwaitingConfirmation,
		Message: fmt.Sprintf("Waiting for %s of %s to be mined", kind, domain),
		Domain:  domain,
		Link:    o.target.TxURL(h.Hash),
	})
	receipt, err := o.chain.WaitConfirmation(ctx, h)
	if err != nil {
		return registry.Receipt{}, fmt.Errorf("await %s confirmation: %w", kind, err)
	}
	return receipt, nil
}

func (o *Orchestrator) recordFailed(ctx context.Context, res *Result, step Step, hash string, cause error) {
	err := fmt.Errorf("%w: %w", pnserr.ErrRecordSetFailed, cause)
	res.fail(step, hash, OutcomeRecordFailed, err)
	e := notify.Event{
		Kind:    notify.RecordSetFailure,
		Title:   "Record Not Set",
		Message: fmt.Sprintf("%s is registered but its record could not be set. Update it from your domain list.", displayName(res.Domain)),
		Domain:  res.Domain,
		Err:     err,
	}
	if hash != "" {
		e.Link = o.target.TxURL(hash)
	}
	o.notify(ctx, e)
}

func (o *Orchestrator) notifyError(ctx context.Context, domain string, err error) {
	kind := notify.GenericError
	if errors.Is(err, pnserr.ErrProviderMissing) {
		kind = notify.ProviderMissing
	}
	o.notify(ctx, notify.Event{Kind: kind, Title: "App Error", Message: err.Error(), Domain: domain, Err: err})
}

func (o *Orchestrator) notify(ctx context.Context, e notify.Event) {
	o.notifier.Notify(ctx, e)
}

func (o *Orchestrator) finish(res Result) (Result, error) {
	if res.Err != nil {
		o.logger.Warn("workflow failed",
			"workflow", res.Workflow,
			"id", res.ID,
			"domain", res.Domain,
			"outcome", res.Outcome.String(),
			"kind", string(pnserr.KindOf(res.Err)),
			"error", res.Err,
		)
	}
	if o.observer != nil {
		o.observer.ObserveWorkflow(res.Workflow, res.Outcome)
	}
	return res, res.Err
}

func (r *Result) step(s Step, hash string) {
	r.Steps = append(r.Steps, StepResult{Step: s, TxHash: hash})
}

func (r *Result) fail(s Step, hash string, outcome Outcome, err error) {
	r.Steps = append(r.Steps, StepResult{Step: s, TxHash: hash, Err: err})
	r.Outcome = outcome
	r.Err = err
}

func slotKey(domain string) string {
	return strings.ToLower(domain)
}

func displayName(domain string) string {
	return domain + ".potato"
}

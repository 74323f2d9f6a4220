// Package flow is the top-level coordinator for one natural-language query:
// resume a pending confirmation, or classify, resolve, branch on intent, and
// for transfers run the risk/confirmation/idempotency pipeline.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sagebank/orchestrator/internal/cache"
	"github.com/sagebank/orchestrator/internal/clients"
	"github.com/sagebank/orchestrator/internal/confirm"
	"github.com/sagebank/orchestrator/internal/contacts"
	"github.com/sagebank/orchestrator/internal/currency"
	"github.com/sagebank/orchestrator/internal/executor"
	"github.com/sagebank/orchestrator/internal/idempotency"
	"github.com/sagebank/orchestrator/internal/idgen"
	"github.com/sagebank/orchestrator/internal/intent"
	"github.com/sagebank/orchestrator/internal/logging"
	"github.com/sagebank/orchestrator/internal/metrics"
	"github.com/sagebank/orchestrator/internal/realtime"
	"github.com/sagebank/orchestrator/internal/resolver"
	"github.com/sagebank/orchestrator/internal/risk"
	"github.com/sagebank/orchestrator/internal/session"
	"github.com/sagebank/orchestrator/internal/syncutil"
	"github.com/sagebank/orchestrator/internal/traces"
)

// RequestContext carries the authenticated caller's identity through the
// flow. Built once at the HTTP boundary; no ambient lookups.
type RequestContext struct {
	AccountID      string
	Username       string
	Token          string
	IdempotencyKey string
}

// QueryRequest is one inbound chat query.
type QueryRequest struct {
	Query     string `json:"query" binding:"required"`
	SessionID string `json:"session_id"`
}

// Status tags the flow result. Every branch is an explicit value; nothing is
// signalled by error here except internal faults already sanitized into
// StatusFailure.
type Status string

const (
	StatusSuccess              Status = "success"
	StatusClarify              Status = "clarify"
	StatusBlocked              Status = "blocked"
	StatusConfirmationRequired Status = "confirmation_required"
	StatusCancelled            Status = "cancelled"
	StatusProcessing           Status = "processing"
	StatusFailure              Status = "failure"
)

// Result is the tagged outcome of one processed query.
type Result struct {
	Status          Status               `json:"status"`
	Message         string               `json:"message,omitempty"`
	SessionID       string               `json:"session_id"`
	TransactionID   string               `json:"transaction_id,omitempty"`
	ConfirmationID  string               `json:"confirmation_id,omitempty"`
	ConfirmationTTL int                  `json:"confirmation_ttl,omitempty"`
	MissingFields   []string             `json:"missing_fields,omitempty"`
	Candidates      []contacts.Candidate `json:"contact_candidates,omitempty"`
	Data            json.RawMessage      `json:"data,omitempty"`
}

// Messages shown to the caller. Raw downstream errors never leak.
const (
	msgTryAgain     = "Something went wrong talking to the bank. Please try again."
	msgUnderstand   = "I didn't quite understand that. Could you rephrase?"
	msgCapabilities = "I can transfer money, check balances, show history and spending, and manage contacts and budgets."
	msgBlocked      = "This transaction was blocked by fraud protection. Contact support if you believe this is a mistake."
	msgCancelled    = "Okay, I've cancelled that transaction."
	msgProcessing   = "That request is still being processed. Please wait a moment."
	msgKeyRequired  = "An Idempotency-Key header is required for transfers."
)

// historyCacheTTL bounds how long the frequency input may lag behind the
// durable history store.
const historyCacheTTL = 30 * time.Second

// Flow wires the pipeline together.
type Flow struct {
	classifier    *intent.Classifier
	resolver      *resolver.Resolver
	normalizer    *currency.Normalizer
	risk          *risk.Evaluator
	confirmations *confirm.Manager
	guard         *idempotency.Guard
	executor      *executor.Service
	money         *clients.Money
	contacts      *contacts.Client
	sessions      session.Store
	hub           *realtime.Hub
	history       *cache.Cache[[]clients.Transaction]
	sessionLocks  *syncutil.ContextShardedMutex
	now           func() time.Time
}

// Config collects the flow's collaborators.
type Config struct {
	Classifier    *intent.Classifier
	Resolver      *resolver.Resolver
	Normalizer    *currency.Normalizer
	Risk          *risk.Evaluator
	Confirmations *confirm.Manager
	Guard         *idempotency.Guard
	Executor      *executor.Service
	Money         *clients.Money
	Contacts      *contacts.Client
	Sessions      session.Store
	Hub           *realtime.Hub
}

// New creates the orchestration flow.
func New(cfg Config) *Flow {
	return &Flow{
		classifier:    cfg.Classifier,
		resolver:      cfg.Resolver,
		normalizer:    cfg.Normalizer,
		risk:          cfg.Risk,
		confirmations: cfg.Confirmations,
		guard:         cfg.Guard,
		executor:      cfg.Executor,
		money:         cfg.Money,
		contacts:      cfg.Contacts,
		sessions:      cfg.Sessions,
		hub:           cfg.Hub,
		history:       cache.New[[]clients.Transaction](1024, historyCacheTTL),
		sessionLocks:  syncutil.NewContextShardedMutex(),
		now:           time.Now,
	}
}

// ProcessQuery runs one query through the pipeline. Messages within a
// session are serialized so a confirmation reply always observes the
// confirmation created by the preceding message.
func (f *Flow) ProcessQuery(ctx context.Context, rc RequestContext, req QueryRequest) *Result {
	sessionID := req.SessionID
	inSession := sessionID != ""
	if !inSession {
		sessionID = idgen.WithPrefix("sess_")
	}

	ctx, span := traces.StartSpan(ctx, "flow.process_query",
		traces.AccountID(rc.AccountID), traces.SessionID(sessionID))
	defer span.End()

	unlock, err := f.sessionLocks.LockContext(ctx, sessionID)
	if err != nil {
		return f.finish(ctx, rc, sessionID, req.Query, &Result{Status: StatusFailure, Message: msgTryAgain})
	}
	defer unlock()

	res := f.process(ctx, rc, sessionID, inSession, req.Query)
	return f.finish(ctx, rc, sessionID, req.Query, res)
}

// finish stamps the session id, records the turn, and counts the outcome.
func (f *Flow) finish(ctx context.Context, rc RequestContext, sessionID, query string, res *Result) *Result {
	res.SessionID = sessionID
	metrics.QueriesTotal.WithLabelValues(string(res.Status)).Inc()

	if f.sessions != nil {
		now := f.now()
		err := f.sessions.Touch(ctx, sessionID, rc.AccountID,
			session.Message{Role: session.RoleUser, Content: query, CreatedAt: now},
			session.Message{Role: session.RoleAssistant, Content: res.Message, CreatedAt: now})
		if err != nil {
			logging.L(ctx).Warn("record session turn failed", "sessionId", sessionID, "error", err)
		}
	}
	return res
}

func (f *Flow) process(ctx context.Context, rc RequestContext, sessionID string, inSession bool, query string) *Result {
	// A pending chat confirmation consumes the message before any
	// classification happens.
	if res := f.resumePending(ctx, rc, sessionID, query); res != nil {
		return res
	}

	env, err := f.classifier.Classify(ctx, query, sessionID)
	if err != nil {
		if errors.Is(err, intent.ErrUnusable) {
			return &Result{Status: StatusClarify, Message: msgUnderstand}
		}
		logging.L(ctx).Error("classifier unavailable", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}

	env, clar := f.resolver.Resolve(ctx, rc.Token, rc.Username, env)
	if clar != nil {
		return &Result{Status: StatusClarify, Message: clar.Message, Candidates: clar.Candidates}
	}

	switch {
	case env.Intent == intent.IntentTransfer:
		return f.handleTransfer(ctx, rc, sessionID, inSession, env)
	case env.Intent.ReadOnly():
		return f.handleReadOnly(ctx, rc, env)
	case env.Intent == intent.IntentAddContact:
		return f.handleAddContact(ctx, rc, env)
	case env.Intent == intent.IntentCreateBudget:
		return f.handleCreateBudget(ctx, rc, env)
	}
	return &Result{Status: StatusClarify, Message: msgCapabilities}
}

// resumePending feeds the message to the session's pending chat
// confirmation, if any. A nil result means nothing was pending (or it had
// already expired) and the message should be classified normally.
func (f *Flow) resumePending(ctx context.Context, rc RequestContext, sessionID, query string) *Result {
	out, err := f.confirmations.Resume(ctx, sessionID, query)
	if err != nil {
		logging.L(ctx).Error("resume confirmation failed", "sessionId", sessionID, "error", err)
		if errors.Is(err, executor.ErrLedgerRejected) {
			return &Result{Status: StatusFailure, Message: "The bank rejected this transaction."}
		}
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}
	if out == nil {
		return nil
	}

	switch out.Status {
	case confirm.StatusConfirmed:
		f.broadcast(rc.AccountID, realtime.EventTransactionExecuted, map[string]any{
			"transactionId":  out.TransactionID,
			"confirmationId": out.Confirmation.ID,
		})
		return &Result{
			Status:        StatusSuccess,
			Message:       "Confirmed. Your transfer has been executed.",
			TransactionID: out.TransactionID,
		}
	case confirm.StatusCancelled:
		return &Result{Status: StatusCancelled, Message: msgCancelled}
	}
	// Expired while waiting for the reply: treat the message as a new query.
	return nil
}

func (f *Flow) handleTransfer(ctx context.Context, rc RequestContext, sessionID string, inSession bool, env *intent.Envelope) *Result {
	var missing []string
	if env.Entities.Amount == nil {
		missing = append(missing, "amount")
	}
	if env.Entities.RecipientAccountID == "" {
		missing = append(missing, "recipient")
	}
	if len(missing) > 0 {
		return &Result{
			Status:        StatusClarify,
			Message:       "I need a bit more to make that transfer.",
			MissingFields: missing,
		}
	}

	amountCents, err := f.normalizer.NormalizeToCents(ctx, env.Entities.Amount.Value, env.Entities.Amount.Currency)
	if err != nil {
		logging.L(ctx).Error("currency normalization failed",
			"currency", env.Entities.Amount.Currency, "error", err)
		return &Result{Status: StatusFailure, Message: "I couldn't convert that currency right now. Please try again."}
	}

	ctx, span := traces.StartSpan(ctx, "flow.transfer",
		traces.Intent(string(env.Intent)), traces.AmountCents(amountCents))
	defer span.End()

	assessment, err := f.risk.Evaluate(ctx, f.riskInput(ctx, rc, env, amountCents))
	if err != nil {
		logging.L(ctx).Error("risk evaluation failed", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}
	span.SetAttributes(traces.Verdict(string(assessment.Verdict)))

	switch assessment.Verdict {
	case risk.VerdictFraud:
		f.broadcast(rc.AccountID, realtime.EventTransferBlocked, map[string]any{
			"amountCents": amountCents,
			"reasons":     assessment.Reasons,
		})
		return &Result{Status: StatusBlocked, Message: msgBlocked}

	case risk.VerdictSuspicious:
		return f.createConfirmation(ctx, rc, sessionID, inSession, env, amountCents)
	}

	return f.execute(ctx, rc, env, amountCents)
}

// riskInput gathers the evaluator's inputs. Balance, history and contact
// lookups are best-effort: a missing signal weakens the evaluation, it does
// not fail the transfer.
func (f *Flow) riskInput(ctx context.Context, rc RequestContext, env *intent.Envelope, amountCents int64) risk.Input {
	in := risk.Input{
		AccountID:   rc.AccountID,
		AmountCents: amountCents,
		Hour:        f.now().Hour(),
	}

	if balance, err := f.money.GetBalance(ctx, rc.Token, rc.AccountID); err == nil {
		in.BalanceCents = balance.BalanceCents
	} else {
		logging.L(ctx).Warn("balance lookup for risk failed", "error", err)
	}

	txns, ok := f.history.Get(rc.AccountID)
	if !ok {
		var err error
		txns, err = f.money.GetHistory(ctx, rc.Token, rc.AccountID)
		if err != nil {
			logging.L(ctx).Warn("history lookup for risk failed", "error", err)
		} else {
			f.history.Set(rc.AccountID, txns)
		}
	}
	in.TxnCountToday = clients.CountToday(txns, rc.AccountID, f.now())

	if list, err := f.contacts.List(ctx, rc.Token, rc.Username); err == nil {
		for _, c := range list {
			if c.AccountNum == env.Entities.RecipientAccountID {
				in.KnownRecipient = true
				break
			}
		}
	} else {
		logging.L(ctx).Warn("contact lookup for risk failed", "error", err)
	}

	return in
}

func (f *Flow) createConfirmation(ctx context.Context, rc RequestContext, sessionID string, inSession bool, env *intent.Envelope, amountCents int64) *Result {
	payload, err := json.Marshal(executor.Request{
		AccountID:          rc.AccountID,
		RecipientAccountID: env.Entities.RecipientAccountID,
		AmountCents:        amountCents,
		Description:        env.Entities.Description,
		Token:              rc.Token,
	})
	if err != nil {
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}

	// In-session queries confirm with a chat reply; first-contact callers
	// get an OTP delivered out-of-band.
	method := confirm.MethodChat
	if !inSession {
		method = confirm.MethodOTP
	}

	c, err := f.confirmations.Create(ctx, method, rc.AccountID, sessionID, payload)
	if err != nil {
		logging.L(ctx).Error("create confirmation failed", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}

	f.broadcast(rc.AccountID, realtime.EventConfirmationRequired, map[string]any{
		"confirmationId": c.ID,
		"method":         string(method),
	})
	return &Result{
		Status:          StatusConfirmationRequired,
		Message:         "This transfer looks unusual. Reply \"yes\" to confirm or anything else to cancel.",
		ConfirmationID:  c.ID,
		ConfirmationTTL: f.confirmations.TTL(c),
	}
}

func (f *Flow) execute(ctx context.Context, rc RequestContext, env *intent.Envelope, amountCents int64) *Result {
	if rc.IdempotencyKey == "" {
		return &Result{Status: StatusFailure, Message: msgKeyRequired}
	}

	resp, replayed, err := f.guard.Do(ctx, rc.IdempotencyKey, rc.AccountID, func(ctx context.Context) (json.RawMessage, error) {
		res, err := f.executor.Execute(ctx, executor.Request{
			AccountID:          rc.AccountID,
			RecipientAccountID: env.Entities.RecipientAccountID,
			AmountCents:        amountCents,
			Description:        env.Entities.Description,
			Token:              rc.Token,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(res)
	})
	switch {
	case errors.Is(err, idempotency.ErrInProgress):
		return &Result{Status: StatusProcessing, Message: msgProcessing}
	case errors.Is(err, executor.ErrLedgerRejected):
		return &Result{Status: StatusFailure, Message: "The bank rejected this transaction."}
	case errors.Is(err, executor.ErrInvalidRequest):
		return &Result{Status: StatusClarify, Message: msgUnderstand}
	case err != nil:
		logging.L(ctx).Error("transfer execution failed", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}

	var execRes executor.Result
	if err := json.Unmarshal(resp, &execRes); err != nil {
		logging.L(ctx).Error("decode execution result failed", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}

	if !replayed {
		f.broadcast(rc.AccountID, realtime.EventTransactionExecuted, map[string]any{
			"transactionId": execRes.TransactionID,
			"amountCents":   amountCents,
		})
	}
	return &Result{
		Status:        StatusSuccess,
		Message:       fmt.Sprintf("Transfer complete. Transaction %s.", execRes.TransactionID),
		TransactionID: execRes.TransactionID,
		Data:          resp,
	}
}

func (f *Flow) handleReadOnly(ctx context.Context, rc RequestContext, env *intent.Envelope) *Result {
	var (
		data any
		err  error
		msg  string
	)
	switch env.Intent {
	case intent.IntentBalance:
		data, err = f.money.GetBalance(ctx, rc.Token, rc.AccountID)
		msg = "Here's your current balance."
	case intent.IntentTransactionHistory:
		data, err = f.money.GetHistory(ctx, rc.Token, rc.AccountID)
		msg = "Here are your recent transactions."
	case intent.IntentSpendingSummary:
		data, err = f.money.GetSummary(ctx, rc.Token, rc.AccountID, env.Entities.TimePeriod)
		msg = "Here's your spending summary."
	case intent.IntentViewContacts:
		data, err = f.contacts.List(ctx, rc.Token, rc.Username)
		msg = "Here are your saved contacts."
	case intent.IntentViewBudgets:
		data, err = f.money.ListBudgets(ctx, rc.Token, rc.AccountID)
		msg = "Here are your budgets."
	}
	if err != nil {
		logging.L(ctx).Error("read-only lookup failed", "intent", string(env.Intent), "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}
	return &Result{Status: StatusSuccess, Message: msg, Data: clients.RawJSON(data)}
}

func (f *Flow) handleAddContact(ctx context.Context, rc RequestContext, env *intent.Envelope) *Result {
	var missing []string
	if env.Entities.RecipientName == "" {
		missing = append(missing, "contact_name")
	}
	if env.Entities.RecipientAccountID == "" {
		missing = append(missing, "account_id")
	}
	if len(missing) > 0 {
		return &Result{
			Status:        StatusClarify,
			Message:       "I need a name and an account number to save a contact.",
			MissingFields: missing,
		}
	}

	err := f.contacts.Add(ctx, rc.Token, rc.Username, contacts.Contact{
		Label:      env.Entities.RecipientName,
		AccountNum: env.Entities.RecipientAccountID,
	})
	if err != nil {
		logging.L(ctx).Error("add contact failed", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}
	return &Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Saved %s to your contacts.", env.Entities.RecipientName),
	}
}

func (f *Flow) handleCreateBudget(ctx context.Context, rc RequestContext, env *intent.Envelope) *Result {
	var missing []string
	if env.Entities.BudgetCategory == "" {
		missing = append(missing, "budget_category")
	}
	if env.Entities.Amount == nil {
		missing = append(missing, "amount")
	}
	if len(missing) > 0 {
		return &Result{
			Status:        StatusClarify,
			Message:       "I need a category and a limit to create a budget.",
			MissingFields: missing,
		}
	}

	limitCents, err := f.normalizer.NormalizeToCents(ctx, env.Entities.Amount.Value, env.Entities.Amount.Currency)
	if err != nil {
		return &Result{Status: StatusFailure, Message: "I couldn't convert that currency right now. Please try again."}
	}

	created, err := f.money.CreateBudget(ctx, rc.Token, rc.AccountID, clients.BudgetView{
		Category:   env.Entities.BudgetCategory,
		LimitCents: limitCents,
		Period:     env.Entities.TimePeriod,
	})
	if err != nil {
		logging.L(ctx).Error("create budget failed", "error", err)
		return &Result{Status: StatusFailure, Message: msgTryAgain}
	}
	return &Result{
		Status:  StatusSuccess,
		Message: fmt.Sprintf("Created a %s budget.", created.Category),
		Data:    clients.RawJSON(created),
	}
}

func (f *Flow) broadcast(accountID string, et realtime.EventType, data map[string]any) {
	if f.hub == nil {
		return
	}
	f.hub.Broadcast(&realtime.Event{Type: et, AccountID: accountID, Data: data})
}

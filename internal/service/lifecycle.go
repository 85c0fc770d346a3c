package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/indiguild/offramp-service/internal/auth"
	"github.com/indiguild/offramp-service/internal/config"
	"github.com/indiguild/offramp-service/internal/gate"
	"github.com/indiguild/offramp-service/internal/ledger"
	"github.com/indiguild/offramp-service/internal/model"
	"github.com/indiguild/offramp-service/internal/provider"
)

// ProviderAPI is the slice of the provider client the lifecycle needs.
type ProviderAPI interface {
	WithdrawalBalance(ctx context.Context, userID string) (provider.WalletBalance, error)
	UserDetails(ctx context.Context, userID string) (provider.UserDetails, error)
	FiatSell(ctx context.Context, userID, sourceID string, params provider.SellParams) (provider.SellResult, error)
}

// EligibilityGate decides whether a withdrawal may proceed.
type EligibilityGate interface {
	CheckEligibility(ctx context.Context, userID string, amount decimal.Decimal) (gate.Eligibility, error)
}

// Publisher sends sell requests onto the queue.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// WebhookHeaders are the authentication headers of an inbound webhook.
type WebhookHeaders struct {
	Timestamp string
	UserID    string
	Signature string
}

// SellOutcome is the result of the queue-driven sell path. Code uses the
// provider error space (6086/6094/9999/200).
type SellOutcome struct {
	Success bool
	Code    int
	Text    string
	Sell    *provider.SellResult
}

// Lifecycle advances off-ramp transactions through their state machine.
// All coordination between concurrent invocations happens through the
// ledger; conditional appends serialize per-transaction updates.
type Lifecycle struct {
	ledger    *ledger.Store
	provider  ProviderAPI
	gate      EligibilityGate
	verifier  *auth.Verifier
	publisher Publisher
	sell      config.SellConfig
	fiatRate  decimal.Decimal
	log       *zap.SugaredLogger
}

func NewLifecycle(
	store *ledger.Store,
	p ProviderAPI,
	g EligibilityGate,
	v *auth.Verifier,
	pub Publisher,
	sellCfg config.SellConfig,
	logger *zap.SugaredLogger,
) *Lifecycle {
	rate, err := decimal.NewFromString(sellCfg.FiatRate)
	if err != nil || rate.IsZero() {
		rate = decimal.NewFromInt(1)
		logger.Warnf("bad sell fiat_rate %q, defaulting to 1", sellCfg.FiatRate)
	}
	return &Lifecycle{
		ledger:    store,
		provider:  p,
		gate:      g,
		verifier:  v,
		publisher: pub,
		sell:      sellCfg,
		fiatRate:  rate,
		log:       logger,
	}
}

// HandleWebhook authenticates an inbound webhook and dispatches it on the
// event name: deposit/withdraw to the crypto leg, sell/buy to the fiat leg.
func (l *Lifecycle) HandleWebhook(ctx context.Context, hdr WebhookHeaders, body []byte) model.WebhookResponse {
	if !l.verifier.Valid(hdr.Timestamp, hdr.UserID, hdr.Signature) {
		return model.WebhookResponse{Success: false, Code: model.CodeUnauthorised, Text: "UNAUTHORISED_REQUEST"}
	}
	var probe struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return invalidPayload(err)
	}
	switch model.FamilyOf(probe.Event) {
	case model.EventCrypto:
		var ev model.InboundCryptoEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return invalidPayload(err)
		}
		if err := ev.Validate(); err != nil {
			return invalidPayload(err)
		}
		return l.HandleCryptoEvent(ctx, ev)
	case model.EventFiat:
		var ev model.InboundFiatEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return invalidPayload(err)
		}
		if err := ev.Validate(); err != nil {
			return invalidPayload(err)
		}
		return l.HandleFiatEvent(ctx, ev)
	default:
		return model.WebhookResponse{Success: false, Code: model.CodeUnauthorised, Text: "UNAUTHORISED_REQUEST"}
	}
}

// HandleCryptoEvent processes a deposit/withdraw webhook. Only transactions
// currently in CRYPTO_COMPLETED advance: a failed custody status records
// AML_FAILED; a completed one re-checks the balance and initiates the fiat
// sell, recording FIAT_INIT with the provider's bank transaction id.
func (l *Lifecycle) HandleCryptoEvent(ctx context.Context, ev model.InboundCryptoEvent) model.WebhookResponse {
	latest, err := l.ledger.FindLatestByTxnHash(ctx, ev.TxnHash)
	if errors.Is(err, ledger.ErrNotFound) {
		l.log.Infow("no transaction for txn_hash", "txn_hash", ev.TxnHash)
		return model.WebhookResponse{Success: false, Code: model.CodeTxnNotFound, Text: "TXN_HASH_NOT_FOUND"}
	}
	if err != nil {
		return internalError(err)
	}
	if latest.Status != model.StatusCryptoCompleted {
		l.log.Infow("transaction not in CRYPTO_COMPLETED, ignoring webhook",
			"txn_hash", ev.TxnHash, "status", latest.Status)
		return echoStatus(latest.Status)
	}

	switch {
	case model.IsProviderFailure(ev.Status):
		rec := latest.Successor(model.StatusAMLFailed)
		if resp, ok := l.appendAfter(ctx, &rec, latest.CreatedAt); !ok {
			return resp
		}
		return model.WebhookResponse{Success: true, Code: model.CodeAMLFailed, Text: model.StatusAMLFailed}

	case model.IsProviderSuccess(ev.Status):
		amount, _ := decimal.NewFromString(ev.Amount)
		elig, err := l.gate.CheckEligibility(ctx, ev.UserID, amount)
		if err != nil {
			return providerError(err)
		}
		if !elig.Eligible {
			if errors.Is(elig.Reason, gate.ErrKYCNotVerified) {
				l.log.Warnw("kyc not verified on crypto leg", "user_id", ev.UserID, "txn_hash", ev.TxnHash)
				return model.WebhookResponse{Success: false, Code: model.CodeKYCNotVerified, Text: "User Not Verified"}
			}
			// No state change: the transaction stays in CRYPTO_COMPLETED
			// until balance becomes available.
			l.log.Warnw("insufficient balance on crypto leg, leaving transaction as-is",
				"user_id", ev.UserID, "txn_hash", ev.TxnHash, "amount", ev.Amount)
			return model.WebhookResponse{Success: false, Code: model.CodeInsufficientBalance, Text: "User doesn't have sufficient balance"}
		}

		params := provider.SellParams{
			FiatSymbol:    l.sell.FiatSymbol,
			CryptoSymbol:  l.sell.CryptoSymbol,
			FiatAmount:    amount.Mul(l.fiatRate),
			CryptoAmount:  amount,
			PaymentMethod: l.sell.PaymentMethod,
		}
		sell, err := l.provider.FiatSell(ctx, ev.UserID, elig.BankAccount.BankID, params)
		if err != nil {
			// no ledger write: the prior state stands and the attempt failed
			return providerError(err)
		}

		rec := latest.Successor(model.StatusFiatInit)
		rec.BankTransactionID = sell.ID
		rec.SourceID = elig.BankAccount.BankID
		rec.AccountNo = elig.BankAccount.AccountNumber
		rec.FiatAmount = params.FiatAmount
		rec.CryptoAmount = amount
		rec.ExchangeRate = sell.ExchangeRate
		rec.FiatSymbol = params.FiatSymbol
		rec.CryptoSymbol = params.CryptoSymbol
		rec.Address = ev.Address
		rec.Network = ev.Network
		if resp, ok := l.appendAfter(ctx, &rec, latest.CreatedAt); !ok {
			return resp
		}
		return model.WebhookResponse{Success: true, Code: model.CodeFiatInit, Text: model.StatusFiatInit}

	default:
		return echoStatus(latest.Status)
	}
}

// HandleFiatEvent processes a sell/buy settlement webhook. Transactions
// advance only out of FIAT_INIT; redelivery for an already-settled
// transaction echoes its status without a write.
func (l *Lifecycle) HandleFiatEvent(ctx context.Context, ev model.InboundFiatEvent) model.WebhookResponse {
	latest, err := l.ledger.FindLatestByBankTransactionID(ctx, ev.TransactionID)
	if errors.Is(err, ledger.ErrNotFound) {
		l.log.Infow("no transaction for bank transaction id", "transaction_id", ev.TransactionID)
		return model.WebhookResponse{Success: false, Code: model.CodeTxnNotFound, Text: "TXN_NOT_FOUND"}
	}
	if err != nil {
		return internalError(err)
	}
	if latest.Status != model.StatusFiatInit {
		return echoStatus(latest.Status)
	}

	var status string
	var code int
	switch {
	case model.IsProviderSuccess(ev.TransactionStatus):
		status, code = model.StatusFiatCompleted, model.CodeFiatCompleted
	case model.IsProviderFailure(ev.TransactionStatus):
		status, code = model.StatusFiatFailed, model.CodeFiatFailed
	default:
		return echoStatus(latest.Status)
	}

	rec := latest.Successor(status)
	rec.TransactionType = ev.Event
	if v, err := decimal.NewFromString(ev.FiatAmount); err == nil {
		rec.FiatAmount = v
	}
	if v, err := decimal.NewFromString(ev.USDAmount); err == nil {
		rec.CryptoAmount = v
	}
	if resp, ok := l.appendAfter(ctx, &rec, latest.CreatedAt); !ok {
		return resp
	}
	return model.WebhookResponse{Success: true, Code: code, Text: status}
}

// HandleSellMessage runs the queue-driven sell path: eligibility gate, then
// the fiat sell call. A non-nil error means an unexpected failure the
// caller must record as critical; business outcomes come back as a
// SellOutcome.
func (l *Lifecycle) HandleSellMessage(ctx context.Context, msg model.TXInboundMessage) (SellOutcome, error) {
	elig, err := l.gate.CheckEligibility(ctx, msg.UserID, decimal.Zero)
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) {
			return SellOutcome{Code: model.CodeProviderError, Text: perr.Text}, nil
		}
		return SellOutcome{}, err
	}
	if !elig.Eligible {
		if errors.Is(elig.Reason, gate.ErrKYCNotVerified) {
			return SellOutcome{Code: model.CodeKYCNotVerified, Text: "User Not Verified"}, nil
		}
		return SellOutcome{Code: model.CodeInsufficientBalance, Text: "User doesn't have sufficient balance"}, nil
	}

	sell, err := l.provider.FiatSell(ctx, msg.UserID, elig.BankAccount.BankID, provider.SellParams{
		FiatSymbol:    msg.FiatSymbol,
		CryptoSymbol:  msg.CryptoSymbol,
		FiatAmount:    msg.FiatAmount,
		CryptoAmount:  msg.CryptoAmount,
		PaymentMethod: msg.PaymentMethod,
	})
	if err != nil {
		var perr *provider.Error
		if errors.As(err, &perr) {
			return SellOutcome{Code: model.CodeProviderError, Text: perr.Text}, nil
		}
		return SellOutcome{}, err
	}
	if sell.FailureCode != nil {
		return SellOutcome{
			Code: model.CodeProviderError,
			Text: fmt.Sprintf("failure_code: %s and failure_desc: %s", *sell.FailureCode, sell.FailureDesc),
		}, nil
	}
	return SellOutcome{Success: true, Code: model.CodeAllOK, Text: "Transaction processed", Sell: &sell}, nil
}

// InitiateSell records the crypto leg as completed and hands the sell
// request to the queue for asynchronous processing.
func (l *Lifecycle) InitiateSell(ctx context.Context, req model.SellCryptoRequest) (model.WebhookResponse, error) {
	if l.publisher == nil {
		return model.WebhookResponse{}, errors.New("sell publisher not configured")
	}
	rec := model.TransactionRecord{
		TxID:            req.TxID,
		UserID:          req.UserID,
		Status:          model.StatusCryptoCompleted,
		TxnHash:         req.TxnHash,
		TransactionType: "DEPOSIT",
		FiatAmount:      req.FiatAmount,
		CryptoAmount:    req.CryptoAmount,
		FiatSymbol:      req.FiatSymbol,
		CryptoSymbol:    req.CryptoSymbol,
		Network:         l.sell.Network,
		Address:         req.WalletAddress,
		InitTime:        req.InitTime,
	}
	if err := l.ledger.Append(ctx, &rec); err != nil {
		return model.WebhookResponse{}, err
	}
	payload, err := json.Marshal(model.QueueEnvelope{Detail: req.TXInboundMessage})
	if err != nil {
		return model.WebhookResponse{}, err
	}
	if err := l.publisher.Publish(ctx, req.TxID, payload); err != nil {
		// The appended record stays; there is no outbox, so the caller
		// must retry the whole request.
		l.log.Errorw("sell publish failed after ledger append",
			"tx_id", req.TxID, "error", err)
		return model.WebhookResponse{}, fmt.Errorf("publish sell request: %w", err)
	}
	return model.WebhookResponse{Success: true, Code: model.CodeCryptoCompleted, Text: model.StatusCryptoCompleted}, nil
}

// Ledger exposes the underlying store for transaction lookups.
func (l *Lifecycle) Ledger() *ledger.Store { return l.ledger }

// appendAfter serializes the state transition against concurrent webhook
// deliveries. On a lost race the current status is echoed instead.
func (l *Lifecycle) appendAfter(ctx context.Context, rec *model.TransactionRecord, prev int64) (model.WebhookResponse, bool) {
	err := l.ledger.AppendAfter(ctx, rec, prev)
	if errors.Is(err, ledger.ErrStaleState) {
		l.log.Warnw("lost append race", "tx_id", rec.TxID, "status", rec.Status)
		cur, lerr := l.ledger.FindLatestByTxID(ctx, rec.TxID)
		if lerr != nil {
			return internalError(lerr), false
		}
		return echoStatus(cur.Status), false
	}
	if err != nil {
		return internalError(err), false
	}
	return model.WebhookResponse{}, true
}

func echoStatus(status string) model.WebhookResponse {
	return model.WebhookResponse{Success: false, Code: model.StatusCode(status), Text: status}
}

func invalidPayload(err error) model.WebhookResponse {
	return model.WebhookResponse{Success: false, Code: 400, Text: fmt.Sprintf("invalid payload: %v", err)}
}

func internalError(err error) model.WebhookResponse {
	return model.WebhookResponse{Success: false, Code: 500, Text: err.Error()}
}

func providerError(err error) model.WebhookResponse {
	var perr *provider.Error
	if errors.As(err, &perr) {
		return model.WebhookResponse{Success: false, Code: model.CodeProviderError, Text: perr.Text}
	}
	return model.WebhookResponse{Success: false, Code: model.CodeProviderError, Text: err.Error()}
}

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/indiguild/offramp-service/internal/auth"
)

// Error is a business-level rejection returned by the provider API,
// distinct from transport failures which surface as wrapped errors.
type Error struct {
	Code int
	Text string
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Text)
}

// WalletBalance is the SPOT account balance of a user.
type WalletBalance struct {
	AvailableBalance decimal.Decimal     `json:"available_balance"`
	TotalBalance     decimal.Decimal     `json:"total_balance"`
	CoinInfo         map[string]CoinInfo `json:"coin_info"`
}

type CoinInfo struct {
	Coin                string          `json:"coin"`
	Name                string          `json:"name"`
	AvailableBalance    decimal.Decimal `json:"available_balance"`
	AvailableBalanceUSD decimal.Decimal `json:"available_balance_usd"`
	TotalBalance        decimal.Decimal `json:"total_balance"`
	TotalBalanceUSD     decimal.Decimal `json:"total_balance_usd"`
	WithdrawEnable      bool            `json:"withdraw_enable"`
	DepositEnable       bool            `json:"deposit_enable"`
}

// BankAccount is one linked payout account.
type BankAccount struct {
	AccountHolderName string `json:"account_holder_name"`
	IFSCCode          string `json:"ifsc_code"`
	Status            string `json:"status"`
	AccountNumber     string `json:"account_number"`
	BankID            string `json:"bank_id"`
}

// UserDetails is the provider's KYC record for a user.
type UserDetails struct {
	UserUUID     string        `json:"user_uuid"`
	ClientUserID string        `json:"client_user_id"`
	KYCStatus    string        `json:"kyc_status"`
	BankAccounts []BankAccount `json:"bank_accounts"`
}

// KYCVerified is the only kyc_status value that clears the gate.
const KYCVerified = "Verified"

// SellParams is the body of the fiat sell call.
type SellParams struct {
	FiatSymbol    string          `json:"fiat_symbol"`
	CryptoSymbol  string          `json:"crypto_symbol"`
	FiatAmount    decimal.Decimal `json:"fiat_amount"`
	CryptoAmount  decimal.Decimal `json:"crypto_amount"`
	PaymentMethod string          `json:"payment_method"`
	SourceID      string          `json:"source_id"`
}

// SellResult is the provider's response to a fiat sell. A nil FailureCode
// means the sell was accepted.
type SellResult struct {
	ID                string          `json:"id"`
	Status            string          `json:"status"`
	TransactionType   string          `json:"transaction_type"`
	FiatAmount        decimal.Decimal `json:"fiat_amount"`
	CryptoAmount      decimal.Decimal `json:"crypto_amount"`
	FiatSymbol        string          `json:"fiat_symbol"`
	CryptoSymbol      string          `json:"crypto_symbol"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
	BankTransactionID string          `json:"bank_transaction_id"`
	SourceID          string          `json:"source_id"`
	FailureCode       *string         `json:"failure_code"`
	FailureDesc       string          `json:"failure_desc"`
	CreatedAt         string          `json:"created_at"`
}

// TokenPrice is the current sell-side conversion rate for a token.
type TokenPrice struct {
	Price     decimal.Decimal `json:"price"`
	BaseRate  decimal.Decimal `json:"base_rate"`
	FeeFactor decimal.Decimal `json:"mudrex_fee_factor"`
	TaxFactor decimal.Decimal `json:"tax_factor"`
}

// RegisteredUser echoes the identifiers of a newly registered user.
type RegisteredUser struct {
	UserUUID     string `json:"user_uuid"`
	ClientUserID string `json:"client_user_id"`
}

// Client calls the custody/off-ramp provider. Every request carries the
// HMAC header set produced by the signer.
type Client struct {
	baseURL string
	hc      *http.Client
	signer  *auth.Signer
	log     *zap.SugaredLogger
}

func NewClient(baseURL string, signer *auth.Signer, logger *zap.SugaredLogger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 15 * time.Second},
		signer:  signer,
		log:     logger,
	}
}

// WithdrawalBalance fetches the user's SPOT wallet balance.
func (c *Client) WithdrawalBalance(ctx context.Context, userID string) (WalletBalance, error) {
	var out WalletBalance
	err := c.get(ctx, userID, "/api/v1/wallet/balance?account=SPOT", &out)
	return out, err
}

// UserDetails fetches the user's KYC record and linked bank accounts.
func (c *Client) UserDetails(ctx context.Context, userID string) (UserDetails, error) {
	var out UserDetails
	path := "/api/v1/user/client_user?user_uuid=" + url.QueryEscape(userID)
	err := c.get(ctx, userID, path, &out)
	return out, err
}

// FiatSell initiates the fiat leg: sell crypto, pay out to sourceID.
func (c *Client) FiatSell(ctx context.Context, userID, sourceID string, params SellParams) (SellResult, error) {
	params.SourceID = sourceID
	var out SellResult
	err := c.post(ctx, userID, "/api/v1/wallet/conversion/fiat/sell", params, &out)
	return out, err
}

// TokenPrice fetches the sell-side conversion price of token into fiat.
func (c *Client) TokenPrice(ctx context.Context, fiat, token string) (TokenPrice, error) {
	var out TokenPrice
	path := fmt.Sprintf("/api/v1/wallet/conversion/fiat/price?fiat=%s&crypto=%s&type=sell",
		url.QueryEscape(fiat), url.QueryEscape(token))
	err := c.get(ctx, "", path, &out)
	return out, err
}

// RegisterUser creates the provider-side account for a platform user.
// Registration requests are signed without the user binding.
func (c *Client) RegisterUser(ctx context.Context, userUUID, clientUserID string) (RegisteredUser, error) {
	body := map[string]string{"user_uuid": userUUID, "client_user_id": clientUserID}
	var out RegisteredUser
	err := c.post(ctx, "", "/api/v1/user/client_user", body, &out)
	return out, err
}

func (c *Client) get(ctx context.Context, userID, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, userID, out)
}

func (c *Client) post(ctx context.Context, userID, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, userID, out)
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Errors  []apiError      `json:"errors"`
}

type apiError struct {
	Code int    `json:"code"`
	Text string `json:"text"`
}

func (c *Client) do(req *http.Request, userID string, out interface{}) error {
	for k, v := range c.signer.Headers(userID) {
		req.Header.Set(k, v)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("provider request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provider response %s: %w", req.URL.Path, err)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("provider response %s: %w", req.URL.Path, err)
	}
	if !env.Success {
		if len(env.Errors) > 0 {
			return &Error{Code: env.Errors[0].Code, Text: env.Errors[0].Text}
		}
		return fmt.Errorf("provider request %s failed with status %d", req.URL.Path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

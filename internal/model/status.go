package model

import "strings"

// Lifecycle statuses of the webhook-driven chain.
const (
	StatusCryptoInit      = "CRYPTO_INIT"
	StatusCryptoFailed    = "CRYPTO_FAILED"
	StatusCryptoCompleted = "CRYPTO_COMPLETED"
	StatusAMLFailed       = "AML_FAILED"
	StatusFiatInit        = "FIAT_INIT"
	StatusFiatFailed      = "FIAT_FAILED"
	StatusFiatCompleted   = "FIAT_COMPLETED"
)

// Terminal-for-that-attempt outcomes of the queue-driven sell path.
const (
	StatusPending       = "PENDING"
	StatusKYCError      = "KYC_ERROR"
	StatusCriticalError = "CRITICAL_ERROR"
	StatusUnknownError  = "UNKNOWN_ERROR"
	StatusAllOK         = "ALL_OK"
)

// Response codes of the webhook surface.
const (
	CodeCryptoInit      = 301
	CodeCryptoFailed    = 302
	CodeCryptoCompleted = 303
	CodeAMLFailed       = 304
	CodeFiatInit        = 305
	CodeFiatFailed      = 306
	CodeFiatCompleted   = 307
	CodeUnauthorised    = 308
	CodeTxnNotFound     = 404
)

// Provider-side error codes surfaced by the sell path.
const (
	CodeInsufficientBalance = 6086
	CodeKYCNotVerified      = 6094
	CodeProviderError       = 9999
	CodeAllOK               = 200
)

// Provider webhook status strings. The providers are not consistent:
// custody webhooks say "success"/"failure", settlement webhooks say
// "completed"/"failed". Both vocabularies are accepted.
const (
	ProviderCompleted = "completed"
	ProviderFailed    = "failed"
)

func IsProviderSuccess(status string) bool {
	switch strings.ToLower(status) {
	case ProviderCompleted, "success":
		return true
	}
	return false
}

func IsProviderFailure(status string) bool {
	switch strings.ToLower(status) {
	case ProviderFailed, "failure":
		return true
	}
	return false
}

var statusCodes = map[string]int{
	StatusCryptoInit:      CodeCryptoInit,
	StatusCryptoFailed:    CodeCryptoFailed,
	StatusCryptoCompleted: CodeCryptoCompleted,
	StatusAMLFailed:       CodeAMLFailed,
	StatusFiatInit:        CodeFiatInit,
	StatusFiatFailed:      CodeFiatFailed,
	StatusFiatCompleted:   CodeFiatCompleted,
	StatusPending:         CodeInsufficientBalance,
	StatusKYCError:        CodeKYCNotVerified,
	StatusCriticalError:   CodeProviderError,
	StatusUnknownError:    CodeProviderError,
	StatusAllOK:           CodeAllOK,
}

// StatusCode maps a status to its response code. A status with no
// dedicated code reports CodeProviderError; responses never carry zero.
func StatusCode(status string) int {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return CodeProviderError
}

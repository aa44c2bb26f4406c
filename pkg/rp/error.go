package rp

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	// ErrorCodeInvalidProvider means the caller asked for a provider that is
	// not a valid URL or is not in the configured identity provider list.
	ErrorCodeInvalidProvider ErrorCode = "invalid_provider"
	// ErrorCodeProviderUntrusted means no trust chain could be resolved for
	// the provider under any configured trust anchor.
	ErrorCodeProviderUntrusted       ErrorCode = "provider_untrusted"
	ErrorCodeTrustChainUnresolved    ErrorCode = "trust_chain_unresolved"
	ErrorCodeFetchFailed             ErrorCode = "fetch_failed"
	ErrorCodeMalformedEntityConfig   ErrorCode = "malformed_entity_configuration"
	ErrorCodeTokenExchangeFailed     ErrorCode = "token_exchange_failed"
	ErrorCodeInvalidTokenResponse    ErrorCode = "invalid_token_response"
	ErrorCodeRevocationFailed        ErrorCode = "revocation_failed"
	ErrorCodeInvalidUserInfo         ErrorCode = "invalid_user_info"
	ErrorCodeUserInfoRequestFailed   ErrorCode = "user_info_request_failed"
	ErrorCodeAuthnRequestNotFound    ErrorCode = "authentication_request_not_found"
	ErrorCodeInvalidConfiguration    ErrorCode = "invalid_configuration"
	ErrorCodeInvalidCallbackRequest  ErrorCode = "invalid_callback_request"
	ErrorCodeEntityStatementRejected ErrorCode = "entity_statement_rejected"
	ErrorCodeInternalError           ErrorCode = "internal_error"
)

type Error struct {
	Code        ErrorCode `json:"error,omitempty"`
	Description string    `json:"error_description,omitempty"`
	wrapped     error
}

func NewError(code ErrorCode, desc string) Error {
	return Error{
		Code:        code,
		Description: desc,
	}
}

func WrapError(code ErrorCode, desc string, err error) Error {
	return Error{
		Code:        code,
		Description: desc,
		wrapped:     err,
	}
}

func (err Error) Error() string {
	if err.wrapped == nil {
		return fmt.Sprintf("%s %s", err.Code, err.Description)
	}

	return fmt.Sprintf("%s %s: %v", err.Code, err.Description, err.wrapped)
}

func (err Error) Unwrap() error {
	return err.wrapped
}

// CodeOf extracts the relying party error code from err, or
// [ErrorCodeInternalError] if err does not carry one.
func CodeOf(err error) ErrorCode {
	var rpErr Error
	if errors.As(err, &rpErr) {
		return rpErr.Code
	}
	return ErrorCodeInternalError
}

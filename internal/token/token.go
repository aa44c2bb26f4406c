// Package token exchanges authorization codes for tokens and revokes them.
// Both operations authenticate the relying party with a private_key_jwt
// client assertion instead of a shared secret.
package token

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/timeutil"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.uber.org/zap"
)

const clientAssertionType = "urn:ietf:params:oauth:client-assertion-type:jwt-bearer"

// Client assertions are short lived; this matches the lifetime the Italian
// federation test suite accepts.
const clientAssertionLifetimeSecs = 33 * 60

// newClientAssertion signs a JWT the relying party presents to authenticate
// itself to the endpoint named by audience.
func newClientAssertion(ctx oidc.Context, audience string) (string, error) {
	now := timeutil.TimestampNow()
	return jwtutil.Sign(map[string]any{
		"iss": ctx.Config.ClientID,
		"sub": ctx.Config.ClientID,
		"aud": []string{audience},
		"iat": now,
		"exp": now + clientAssertionLifetimeSecs,
		"jti": uuid.NewString(),
	}, ctx.SignerJWK())
}

// Exchange posts the authorization code to the provider's token endpoint and
// returns the resulting tokens. The token material is handed to the audit
// logger before anything else can fail, retention is a compliance
// requirement of the federation.
func Exchange(ctx oidc.Context, pending rp.AuthnRequest, code string) (rp.Tokens, error) {
	assertion, err := newClientAssertion(ctx, pending.TokenEndpoint)
	if err != nil {
		return rp.Tokens{}, rp.WrapError(rp.ErrorCodeInternalError,
			"could not sign the client assertion", err)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", pending.RedirectURI)
	form.Set("client_id", ctx.Config.ClientID)
	form.Set("state", pending.State)
	form.Set("code", code)
	form.Set("code_verifier", pending.CodeVerifier)
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	ctx.Logger().Info("access token request", zap.String("token_endpoint", pending.TokenEndpoint))

	body, err := postForm(ctx, pending.TokenEndpoint, form)
	if err != nil {
		ctx.Logger().Error("access token request failed",
			zap.String("token_endpoint", pending.TokenEndpoint), zap.Error(err))
		return rp.Tokens{}, rp.WrapError(rp.ErrorCodeTokenExchangeFailed,
			"access token request failed", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return rp.Tokens{}, rp.WrapError(rp.ErrorCodeInvalidTokenResponse,
			"invalid response from token endpoint", err)
	}

	var tokens rp.Tokens
	if err := json.Unmarshal(body, &tokens); err != nil ||
		tokens.AccessToken == "" || tokens.IDToken == "" || !isStringOrAbsent(raw, "refresh_token") {
		return rp.Tokens{}, rp.NewError(rp.ErrorCodeInvalidTokenResponse,
			"invalid response from token endpoint: "+string(body))
	}
	tokens.RevocationEndpoint = pending.RevocationEndpoint

	// Audit before any post-processing that could fail.
	ctx.AuditLog(tokens)
	ctx.Logger().Info("access token request succeeded",
		zap.String("token_endpoint", pending.TokenEndpoint))
	return tokens, nil
}

// Revoke revokes the access token. Best effort from the relying party's
// perspective: a failure is reported but never retried, the provider owns
// token validity afterward.
func Revoke(ctx oidc.Context, tokens rp.Tokens) error {
	assertion, err := newClientAssertion(ctx, tokens.RevocationEndpoint)
	if err != nil {
		return rp.WrapError(rp.ErrorCodeInternalError,
			"could not sign the client assertion", err)
	}

	form := url.Values{}
	form.Set("token", tokens.AccessToken)
	form.Set("client_id", ctx.Config.ClientID)
	form.Set("client_assertion_type", clientAssertionType)
	form.Set("client_assertion", assertion)

	ctx.Logger().Info("revocation request", zap.String("revocation_endpoint", tokens.RevocationEndpoint))

	if _, err := postForm(ctx, tokens.RevocationEndpoint, form); err != nil {
		ctx.Logger().Warn("revocation request failed",
			zap.String("revocation_endpoint", tokens.RevocationEndpoint), zap.Error(err))
		return rp.WrapError(rp.ErrorCodeRevocationFailed, "revocation request failed", err)
	}

	ctx.Logger().Info("revocation request succeeded",
		zap.String("revocation_endpoint", tokens.RevocationEndpoint))
	return nil
}

func postForm(ctx oidc.Context, endpoint string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := ctx.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{status: resp.StatusCode, body: string(body)}
	}
	return body, nil
}

func isStringOrAbsent(raw map[string]json.RawMessage, field string) bool {
	value, ok := raw[field]
	if !ok {
		return true
	}
	var s string
	return json.Unmarshal(value, &s) == nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

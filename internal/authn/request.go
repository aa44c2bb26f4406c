// Package authn builds the signed authorization requests that start an
// authentication flow against a trusted identity provider.
package authn

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/italia/spid-cie-oidc-go/internal/federation"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/strutil"
	"github.com/italia/spid-cie-oidc-go/internal/timeutil"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.uber.org/zap"
)

type pkce struct {
	codeVerifier        string
	codeChallenge       string
	codeChallengeMethod string
}

// newPKCE generates an S256 proof key pair. The verifier is 64 random bytes
// hex encoded, the challenge its SHA-256 digest base64url encoded.
func newPKCE() pkce {
	verifier := strutil.Random(64)
	digest := sha256.Sum256([]byte(verifier))
	return pkce{
		codeVerifier:        verifier,
		codeChallenge:       base64.RawURLEncoding.EncodeToString(digest[:]),
		codeChallengeMethod: "S256",
	}
}

// AuthorizationURL resolves the provider's trust chain, builds the signed
// authorization request, persists the pending authentication request keyed
// by state and returns the URL to redirect the user browser to.
func AuthorizationURL(ctx oidc.Context, resolver *federation.Resolver, providerID string) (string, error) {
	cfg := ctx.Config

	if _, err := url.ParseRequestURI(providerID); err != nil {
		return "", rp.WrapError(rp.ErrorCodeInvalidProvider,
			"provider is not a valid url "+providerID, err)
	}
	profile, ok := ctx.ProviderProfileFor(providerID)
	if !ok {
		return "", rp.NewError(rp.ErrorCodeInvalidProvider,
			"provider is not supported "+providerID)
	}

	chain, ok := resolver.TrustChain(ctx, providerID)
	if !ok {
		return "", rp.NewError(rp.ErrorCodeProviderUntrusted,
			"unable to find trust chain for identity provider "+providerID)
	}
	provider, err := chain.EntityConfiguration.OpenIDProvider()
	if err != nil {
		return "", err
	}

	var (
		scope        = "openid"
		redirectURI  = cfg.RedirectURIs[0]
		acrValues    = cfg.Providers[profile].ACRValues
		prompt       = "consent login"
		nonce        = strutil.Random(32)
		state        = strutil.Random(32)
		proofKey     = newPKCE()
		responseType = cfg.ResponseTypes[0]
		iat          = timeutil.TimestampNow()
		aud          = []string{providerID, provider.AuthorizationEndpoint}
		claims       = cfg.Providers[profile].RequestedClaims
	)

	requestObject, err := jwtutil.Sign(map[string]any{
		"scope":                 scope,
		"redirect_uri":          redirectURI,
		"response_type":         responseType,
		"nonce":                 nonce,
		"state":                 state,
		"client_id":             cfg.ClientID,
		"endpoint":              provider.AuthorizationEndpoint,
		"acr_values":            acrValues,
		"iat":                   iat,
		"aud":                   aud,
		"claims":                claims,
		"prompt":                prompt,
		"code_challenge":        proofKey.codeChallenge,
		"code_challenge_method": proofKey.codeChallengeMethod,
		"iss":                   cfg.ClientID,
		"sub":                   cfg.ClientID,
	}, ctx.SignerJWK())
	if err != nil {
		return "", rp.WrapError(rp.ErrorCodeInternalError,
			"could not sign the authorization request object", err)
	}

	audJSON, err := json.Marshal(aud)
	if err != nil {
		return "", err
	}
	claimsJSON, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}

	// The federation profile wants the request object and the plaintext
	// duplicates of its parameters in the same query string.
	params := url.Values{}
	params.Set("scope", scope)
	params.Set("redirect_uri", redirectURI)
	params.Set("nonce", nonce)
	params.Set("state", state)
	params.Set("response_type", responseType)
	params.Set("client_id", cfg.ClientID)
	params.Set("endpoint", provider.AuthorizationEndpoint)
	params.Set("acr_values", string(acrValues))
	params.Set("iat", strconv.Itoa(iat))
	params.Set("aud", string(audJSON))
	params.Set("claims", string(claimsJSON))
	params.Set("code_challenge", proofKey.codeChallenge)
	params.Set("code_challenge_method", proofKey.codeChallengeMethod)
	params.Set("prompt", prompt)
	params.Set("request", requestObject)

	if err := ctx.Storage().Write(ctx, rp.AuthnRequest{
		State:              state,
		CodeVerifier:       proofKey.codeVerifier,
		RedirectURI:        redirectURI,
		TokenEndpoint:      provider.TokenEndpoint,
		UserInfoEndpoint:   provider.UserInfoEndpoint,
		RevocationEndpoint: provider.RevocationEndpoint,
		ProviderJWKS:       provider.JWKS,
		CreatedAt:          iat,
	}); err != nil {
		return "", rp.WrapError(rp.ErrorCodeInternalError,
			"could not persist the authentication request", err)
	}

	redirectURL := provider.AuthorizationEndpoint + "?" + params.Encode()
	ctx.Logger().Info("authentication request created",
		zap.String("identity_provider", providerID),
		zap.String("url", redirectURL),
	)
	return redirectURL, nil
}

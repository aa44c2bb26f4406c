// Package relyingparty implements an OpenID Connect Federation relying party
// for the Italian SPID and CIE identity federations. It resolves and verifies
// provider trust chains, builds signed authentication requests and completes
// the authorization code flow with PKCE.
package relyingparty

import (
	"context"
	"errors"
	"net/url"

	"github.com/italia/spid-cie-oidc-go/internal/authn"
	"github.com/italia/spid-cie-oidc-go/internal/federation"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/storage/mongodb"
	"github.com/italia/spid-cie-oidc-go/internal/token"
	"github.com/italia/spid-cie-oidc-go/internal/userinfo"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EntityStatementContentType is the media type the entity configuration
// response must be served with.
const EntityStatementContentType = federation.ContentType

type RelyingParty struct {
	config   rp.Configuration
	resolver *federation.Resolver
}

// New creates a relying party from config. Missing optional fields receive
// defaults and the result is validated; the returned relying party is safe
// for concurrent use.
func New(config rp.Configuration) (RelyingParty, error) {
	setDefaults(&config)
	if err := validate(config); err != nil {
		return RelyingParty{}, err
	}

	return RelyingParty{
		config:   config,
		resolver: federation.NewResolver(),
	}, nil
}

// EntityConfiguration returns the relying party's signed entity configuration,
// to be served at /.well-known/openid-federation with
// EntityStatementContentType.
func (r RelyingParty) EntityConfiguration(ctx context.Context) (string, error) {
	return federation.NewRelyingPartyStatement(r.oidcContext(ctx))
}

// AvailableProviders returns the identity providers a trust chain could
// currently be established for, grouped by federation profile.
func (r RelyingParty) AvailableProviders(ctx context.Context) map[rp.Profile][]rp.ProviderInfo {
	return r.resolver.AvailableProviders(r.oidcContext(ctx))
}

// AuthorizationURL starts an authentication flow against provider and returns
// the URL to redirect the user browser to.
func (r RelyingParty) AuthorizationURL(ctx context.Context, provider string) (string, error) {
	return authn.AuthorizationURL(r.oidcContext(ctx), r.resolver, provider)
}

// CallbackResult is the outcome of a provider callback. Exactly one of
// UserInfo and ProviderError is set.
type CallbackResult struct {
	// UserInfo holds the verified claims on success.
	UserInfo rp.UserInfo
	// UserIdentifier is the stable local identifier derived from UserInfo.
	UserIdentifier string
	// Tokens must be kept to later revoke the authentication.
	Tokens rp.Tokens
	// ProviderError is set when the provider reported an error instead of an
	// authorization code, e.g. because the user denied consent.
	ProviderError            string
	ProviderErrorDescription string
}

// Callback completes an authentication flow with the query parameters the
// provider redirected the user browser back with. The pending authentication
// request is deleted on success; replaying the same callback fails.
func (r RelyingParty) Callback(ctx context.Context, query url.Values) (CallbackResult, error) {
	octx := r.oidcContext(ctx)

	if providerError := query.Get("error"); providerError != "" {
		octx.Logger().Info("callback with provider error",
			zap.String("error", providerError),
			zap.String("error_description", query.Get("error_description")),
		)
		return CallbackResult{
			ProviderError:            providerError,
			ProviderErrorDescription: query.Get("error_description"),
		}, nil
	}

	code := query.Get("code")
	state := query.Get("state")
	if code == "" || state == "" {
		return CallbackResult{}, rp.NewError(rp.ErrorCodeInvalidCallbackRequest,
			"callback must carry either code and state or error")
	}

	pending, err := r.config.Storage.Read(ctx, state)
	if err != nil {
		if errors.Is(err, rp.ErrAuthnRequestNotFound) {
			octx.Logger().Warn("callback for unknown state", zap.String("state", state))
			return CallbackResult{}, rp.NewError(rp.ErrorCodeAuthnRequestNotFound,
				"authentication request not found for state "+state)
		}
		return CallbackResult{}, rp.WrapError(rp.ErrorCodeInternalError,
			"could not read the authentication request", err)
	}

	tokens, err := token.Exchange(octx, pending, code)
	if err != nil {
		return CallbackResult{}, err
	}

	userInfo, err := userinfo.Fetch(octx, pending, tokens.AccessToken)
	if err != nil {
		return CallbackResult{}, err
	}

	if err := r.config.Storage.Delete(ctx, state); err != nil {
		octx.Logger().Warn("could not delete the authentication request",
			zap.String("state", state), zap.Error(err))
	}

	return CallbackResult{
		UserInfo:       userInfo,
		UserIdentifier: r.config.DeriveUserIdentifier(userInfo),
		Tokens:         tokens,
	}, nil
}

// Revoke revokes the access token at the provider it was obtained from.
// Call it when the local session ends.
func (r RelyingParty) Revoke(ctx context.Context, tokens rp.Tokens) error {
	return token.Revoke(r.oidcContext(ctx), tokens)
}

func (r RelyingParty) oidcContext(ctx context.Context) oidc.Context {
	return oidc.NewContext(ctx, r.config)
}

// NewMongoDBStorage persists pending authentication requests in database,
// letting any replica handle a callback.
func NewMongoDBStorage(database *mongo.Database) rp.AuthnRequestStorage {
	return mongodb.NewAuthnRequestManager(database)
}

package federation

import (
	"bytes"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/oidc"
	"github.com/italia/spid-cie-oidc-go/internal/oidctest"
	"github.com/italia/spid-cie-oidc-go/internal/timeutil"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type federationFixture struct {
	ctx         oidc.Context
	clientJWK   jose.JSONWebKey
	providerJWK jose.JSONWebKey
	anchorJWK   jose.JSONWebKey
	// fetches counts every statement request that reached the fake network.
	fetches *atomic.Int32
}

func setUp(t *testing.T) federationFixture {
	t.Helper()

	clientJWK := oidctest.PrivateRS256JWK(t, "client_key")
	providerJWK := oidctest.PrivateRS256JWK(t, "provider_key")
	anchorJWK := oidctest.PrivateRS256JWK(t, "anchor_key")
	fetches := &atomic.Int32{}

	statementResponse := func(claims map[string]any, jwk jose.JSONWebKey) func() *http.Response {
		return func() *http.Response {
			fetches.Add(1)
			opts := (&jose.SignerOptions{}).WithType(entityStatementJWTType)
			signed := oidctest.SignWithOptions(t, claims, jwk, opts)
			return &http.Response{
				StatusCode: http.StatusOK,
				Header: http.Header{
					"Content-Type": []string{entityStatementContentType},
				},
				Body: io.NopCloser(bytes.NewBufferString(signed)),
			}
		}
	}

	now := timeutil.TimestampNow()
	responses := map[string]func() *http.Response{
		oidctest.ClientID + wellKnownPath: statementResponse(map[string]any{
			"iss":  oidctest.ClientID,
			"sub":  oidctest.ClientID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{clientJWK.Public()}},
			"metadata": map[string]any{
				"openid_relying_party": map[string]any{
					"client_id": oidctest.ClientID,
				},
			},
			"authority_hints": []string{oidctest.TrustAnchorID},
		}, clientJWK),
		oidctest.ProviderID + wellKnownPath: statementResponse(map[string]any{
			"iss":  oidctest.ProviderID,
			"sub":  oidctest.ProviderID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{providerJWK.Public()}},
			"metadata": map[string]any{
				"openid_provider": map[string]any{
					"authorization_endpoint": oidctest.ProviderID + "authorization",
					"token_endpoint":         oidctest.ProviderID + "token",
					"userinfo_endpoint":      oidctest.ProviderID + "userinfo",
					"revocation_endpoint":    oidctest.ProviderID + "revocation",
					"organization_name":      "SPID OIDC identity provider",
					"scopes_supported":       []string{"openid", "profile"},
					"jwks":                   jose.JSONWebKeySet{Keys: []jose.JSONWebKey{providerJWK.Public()}},
				},
			},
			"authority_hints": []string{oidctest.TrustAnchorID},
		}, providerJWK),
		oidctest.TrustAnchorID + wellKnownPath: statementResponse(map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.TrustAnchorID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{anchorJWK.Public()}},
			"metadata": map[string]any{
				"federation_entity": map[string]any{
					"federation_fetch_endpoint": oidctest.TrustAnchorID + "fetch",
				},
			},
		}, anchorJWK),
		oidctest.TrustAnchorID + "fetch?sub=" + url.QueryEscape(oidctest.ClientID): statementResponse(map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.ClientID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{clientJWK.Public()}},
		}, anchorJWK),
		oidctest.TrustAnchorID + "fetch?sub=" + url.QueryEscape(oidctest.ProviderID): statementResponse(map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.ProviderID,
			"iat":  now,
			"exp":  now + 300,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{providerJWK.Public()}},
			"metadata_policy": map[string]any{
				"openid_provider": map[string]any{
					"scopes_supported": map[string]any{
						"subset_of": []string{"openid"},
					},
				},
			},
		}, anchorJWK),
	}

	return federationFixture{
		ctx:         oidctest.NewContext(t, clientJWK, responses),
		clientJWK:   clientJWK,
		providerJWK: providerJWK,
		anchorJWK:   anchorJWK,
		fetches:     fetches,
	}
}

func TestResolve(t *testing.T) {
	// Given.
	fixture := setUp(t)
	resolver := NewResolver()

	// When.
	chain, err := resolver.Resolve(fixture.ctx, oidctest.ClientID, oidctest.ProviderID, oidctest.TrustAnchorID)

	// Then.
	require.Nil(t, err)
	assert.Equal(t, oidctest.ProviderID, chain.EntityConfiguration.Subject)

	// The chain expires with the shortest lived statement.
	assert.InDelta(t, timeutil.TimestampNow()+300, chain.ExpiresAt, 5)

	// The provider scopes intersect the anchor's subset_of policy, so the
	// field survives.
	meta := chain.EntityConfiguration.Metadata["openid_provider"].(map[string]any)
	assert.Equal(t, "SPID OIDC identity provider", meta["organization_name"])
	assert.Equal(t, []any{"openid", "profile"}, meta["scopes_supported"])
}

func TestResolve_CacheHit(t *testing.T) {
	// Given.
	fixture := setUp(t)
	resolver := NewResolver()
	_, err := resolver.Resolve(fixture.ctx, oidctest.ClientID, oidctest.ProviderID, oidctest.TrustAnchorID)
	require.Nil(t, err)
	fetchesAfterFirst := fixture.fetches.Load()

	// When.
	_, err = resolver.Resolve(fixture.ctx, oidctest.ClientID, oidctest.ProviderID, oidctest.TrustAnchorID)

	// Then the second resolution is served from cache.
	require.Nil(t, err)
	assert.Equal(t, fetchesAfterFirst, fixture.fetches.Load())
}

func TestResolve_ExpiredChainIsRefetched(t *testing.T) {
	// Given a resolver whose clock is then moved past the chain expiry.
	fixture := setUp(t)
	resolver := NewResolver()
	_, err := resolver.Resolve(fixture.ctx, oidctest.ClientID, oidctest.ProviderID, oidctest.TrustAnchorID)
	require.Nil(t, err)
	fetchesAfterFirst := fixture.fetches.Load()

	resolver.now = func() time.Time {
		return timeutil.Now().Add(time.Hour)
	}

	// When.
	_, err = resolver.Resolve(fixture.ctx, oidctest.ClientID, oidctest.ProviderID, oidctest.TrustAnchorID)

	// Then.
	require.Nil(t, err)
	assert.Greater(t, fixture.fetches.Load(), fetchesAfterFirst)
}

func TestResolve_RejectsTamperedStatement(t *testing.T) {
	// Given a provider statement signed by a key the anchor never published.
	fixture := setUp(t)
	rogueJWK := oidctest.PrivateRS256JWK(t, "anchor_key")
	now := timeutil.TimestampNow()
	responses := fixture.ctx.Config.HTTPClient.Transport.(*oidctest.RoundTripper).Responses
	responses[oidctest.TrustAnchorID+"fetch?sub="+url.QueryEscape(oidctest.ProviderID)] = func() *http.Response {
		opts := (&jose.SignerOptions{}).WithType(entityStatementJWTType)
		signed := oidctest.SignWithOptions(t, map[string]any{
			"iss":  oidctest.TrustAnchorID,
			"sub":  oidctest.ProviderID,
			"iat":  now,
			"exp":  now + 600,
			"jwks": jose.JSONWebKeySet{Keys: []jose.JSONWebKey{fixture.providerJWK.Public()}},
		}, rogueJWK, opts)
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{entityStatementContentType}},
			Body:       io.NopCloser(bytes.NewBufferString(signed)),
		}
	}
	resolver := NewResolver()

	// When.
	_, err := resolver.Resolve(fixture.ctx, oidctest.ClientID, oidctest.ProviderID, oidctest.TrustAnchorID)

	// Then.
	require.NotNil(t, err)
	assert.Equal(t, rp.ErrorCodeTrustChainUnresolved, rp.CodeOf(err))
}

func TestTrustChain(t *testing.T) {
	// Given.
	fixture := setUp(t)
	resolver := NewResolver()

	// When.
	chain, ok := resolver.TrustChain(fixture.ctx, oidctest.ProviderID)

	// Then.
	require.True(t, ok)
	assert.Equal(t, oidctest.ProviderID, chain.EntityConfiguration.Subject)
}

func TestAvailableProviders(t *testing.T) {
	// Given.
	fixture := setUp(t)
	resolver := NewResolver()

	// When.
	available := resolver.AvailableProviders(fixture.ctx)

	// Then.
	require.Len(t, available[rp.ProfileSPID], 1)
	provider := available[rp.ProfileSPID][0]
	assert.Equal(t, oidctest.ProviderID, provider.Sub)
	assert.Equal(t, "SPID OIDC identity provider", provider.OrganizationName)
}

func TestAvailableProviders_UnreachableProviderIsDropped(t *testing.T) {
	// Given a provider whose well-known location does not answer.
	fixture := setUp(t)
	delete(fixture.ctx.Config.HTTPClient.Transport.(*oidctest.RoundTripper).Responses,
		oidctest.ProviderID+wellKnownPath)
	resolver := NewResolver()

	// When.
	available := resolver.AvailableProviders(fixture.ctx)

	// Then the profile is present but empty.
	assert.Empty(t, available[rp.ProfileSPID])
	assert.NotNil(t, available[rp.ProfileSPID])
}

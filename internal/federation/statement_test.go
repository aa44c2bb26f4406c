package federation

import (
	"encoding/json"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/internal/oidctest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRelyingPartyStatement(t *testing.T) {
	// Given.
	clientJWK := oidctest.PrivateRS256JWK(t, "client_key")
	ctx := oidctest.NewContext(t, clientJWK, nil)

	// When.
	signed, err := NewRelyingPartyStatement(ctx)

	// Then the statement verifies with the relying party's own keys and typ.
	require.Nil(t, err)

	jws, err := jose.ParseSigned(signed, []jose.SignatureAlgorithm{jose.RS256})
	require.Nil(t, err)
	assert.Equal(t, entityStatementJWTType, jws.Signatures[0].Header.ExtraHeaders[jose.HeaderType])

	payload, err := jwtutil.Verify(signed, jwtutil.KeyFuncForSet(ctx.Config.PublicJWKS))
	require.Nil(t, err)

	var config EntityConfiguration
	require.Nil(t, json.Unmarshal(payload, &config))
	assert.Equal(t, oidctest.ClientID, config.Issuer)
	assert.Equal(t, oidctest.ClientID, config.Subject)
	assert.Equal(t, []string{oidctest.TrustAnchorID}, config.AuthorityHints)
	assert.Greater(t, config.ExpiresAt, config.IssuedAt)

	metadata := config.Metadata["openid_relying_party"].(map[string]any)
	assert.Equal(t, oidctest.ClientID, metadata["client_id"])
	assert.Equal(t, []any{"automatic"}, metadata["client_registration_types"])
	assert.Equal(t, []any{oidctest.ClientID + "callback"}, metadata["redirect_uris"])
}

func TestEntityConfigurationValidate(t *testing.T) {
	// Given a provider configuration lacking its metadata and hints.
	jwk := oidctest.PrivateRS256JWK(t, "k")
	config := EntityConfiguration{
		Issuer:    oidctest.ProviderID,
		Subject:   oidctest.ProviderID,
		IssuedAt:  1,
		ExpiresAt: 2,
		JWKS: jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{jwk.Public()},
		},
	}

	// When.
	err := config.validate(oidctest.ProviderID, RoleProvider)

	// Then.
	require.NotNil(t, err)
	assert.ErrorContains(t, err, "metadata.openid_provider")
	assert.ErrorContains(t, err, "authority_hints")
}

func TestEntityConfigurationValidate_SubjectMismatch(t *testing.T) {
	// Given a trust anchor configuration issued for another entity.
	jwk := oidctest.PrivateRS256JWK(t, "k")
	config := EntityConfiguration{
		Issuer:    oidctest.ProviderID,
		Subject:   oidctest.ProviderID,
		IssuedAt:  1,
		ExpiresAt: 2,
		JWKS: jose.JSONWebKeySet{
			Keys: []jose.JSONWebKey{jwk.Public()},
		},
		Metadata: map[string]any{
			"federation_entity": map[string]any{
				"federation_fetch_endpoint": oidctest.TrustAnchorID + "fetch",
			},
		},
	}

	// When.
	err := config.validate(oidctest.TrustAnchorID, RoleTrustAnchor)

	// Then.
	assert.ErrorContains(t, err, "must both equal")
}

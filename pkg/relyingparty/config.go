package relyingparty

import (
	"fmt"
	"net/url"
	"slices"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/httputil"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/internal/storage"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.uber.org/zap"
)

const defaultStorageMaxSize = 1000

func essential() *rp.ClaimRequirement {
	return &rp.ClaimRequirement{Essential: true}
}

// defaultProviders requests the minimal identity attributes each federation
// profile exposes under its own claim names.
func defaultProviders() map[rp.Profile]rp.ProviderProfile {
	return map[rp.Profile]rp.ProviderProfile{
		rp.ProfileSPID: {
			ACRValues: rp.ACRSpidL2,
			RequestedClaims: rp.RequestedClaims{
				IDToken: map[string]*rp.ClaimRequirement{
					"https://attributes.spid.gov.it/familyName": essential(),
					"https://attributes.spid.gov.it/email":      essential(),
				},
				UserInfo: map[string]*rp.ClaimRequirement{
					"https://attributes.spid.gov.it/name":         nil,
					"https://attributes.spid.gov.it/familyName":   nil,
					"https://attributes.spid.gov.it/email":        nil,
					"https://attributes.spid.gov.it/fiscalNumber": nil,
				},
			},
		},
		rp.ProfileCIE: {
			ACRValues: rp.ACRSpidL2,
			RequestedClaims: rp.RequestedClaims{
				IDToken: map[string]*rp.ClaimRequirement{
					"family_name": essential(),
					"email":       essential(),
				},
				UserInfo: map[string]*rp.ClaimRequirement{
					"given_name":  nil,
					"family_name": nil,
					"email":       nil,
				},
			},
		},
	}
}

func setDefaults(config *rp.Configuration) {
	if config.ApplicationType == "" {
		config.ApplicationType = "web"
	}
	if config.ResponseTypes == nil {
		config.ResponseTypes = []string{"code"}
	}
	if config.Scopes == nil {
		config.Scopes = []string{"openid", "offline_access"}
	}
	if config.Providers == nil {
		config.Providers = defaultProviders()
	}
	if config.FederationDefaultExpSecs == 0 {
		config.FederationDefaultExpSecs = 48 * 60 * 60
	}
	if config.RedirectURIs == nil {
		config.RedirectURIs = []string{config.ClientID + "callback"}
	}
	if config.Storage == nil {
		config.Storage = storage.NewAuthnRequestManager(defaultStorageMaxSize)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.HTTPClient == nil {
		config.HTTPClient = httputil.NewClient(httputil.DefaultTimeout)
	}
	if config.DeriveUserIdentifier == nil {
		config.DeriveUserIdentifier = func(userInfo rp.UserInfo) string {
			return userInfo.FiscalNumber()
		}
	}
}

func validate(config rp.Configuration) error {
	if !isValidURL(config.ClientID) {
		return configError("client_id must be a valid url " + config.ClientID)
	}
	if config.ClientName == "" {
		return configError("client_name is mandatory")
	}
	if config.ApplicationType != "web" {
		return configError(`application_type must be "web"`)
	}
	if !slices.Equal(config.ResponseTypes, []string{"code"}) {
		return configError(`response_types must be ["code"]`)
	}
	for _, scope := range config.Scopes {
		if scope != "openid" && scope != "offline_access" {
			return configError(`scope must be subset of ["openid", "offline_access"]`)
		}
	}
	if hasDuplicates(config.Scopes) {
		return configError("scope must not contain duplicates")
	}
	if config.FederationDefaultExpSecs <= 0 {
		return configError("federation_default_exp must be > 0")
	}
	for _, anchor := range config.TrustAnchors {
		if !isValidURL(anchor) {
			return configError("trust_anchors must be a list of valid urls, got " + anchor)
		}
	}
	if len(config.TrustAnchors) == 0 {
		return configError("trust_anchors must be at least one")
	}
	for _, providers := range config.IdentityProviders {
		for _, provider := range providers {
			if !isValidURL(provider) {
				return configError("identity_providers must be a list of valid urls, got " + provider)
			}
		}
	}
	if len(config.RedirectURIs) < 1 {
		return configError("redirect_uris must be at least one")
	}
	for _, redirectURI := range config.RedirectURIs {
		if !isValidURL(redirectURI) {
			return configError("redirect_uris must be a list of valid urls, got " + redirectURI)
		}
	}
	return validateJWKS(config)
}

func validateJWKS(config rp.Configuration) error {
	if len(config.PublicJWKS.Keys) < 1 {
		return configError("public_jwks must have at least one key")
	}
	if len(config.PrivateJWKS.Keys) != len(config.PublicJWKS.Keys) {
		return configError("public_jwks and private_jwks must have the same length")
	}
	for _, jwk := range append(config.PublicJWKS.Keys, config.PrivateJWKS.Keys...) {
		if _, err := jwtutil.InferAlg(jwk); err != nil {
			return configError(fmt.Sprintf("unsupported key %s: %v", jwk.KeyID, err))
		}
	}
	for _, publicJWK := range config.PublicJWKS.Keys {
		if publicJWK.KeyID == "" {
			return configError("public_jwks must all have a kid")
		}
		hasMatch := slices.ContainsFunc(config.PrivateJWKS.Keys, func(privateJWK jose.JSONWebKey) bool {
			return privateJWK.KeyID == publicJWK.KeyID
		})
		if !hasMatch {
			return configError("public_jwks and private_jwks must have matching kid, missing " + publicJWK.KeyID)
		}
	}
	return nil
}

func configError(description string) error {
	return rp.NewError(rp.ErrorCodeInvalidConfiguration, "configuration: "+description)
}

func isValidURL(raw string) bool {
	u, err := url.ParseRequestURI(raw)
	return err == nil && u.Scheme != "" && u.Host != ""
}

func hasDuplicates(values []string) bool {
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return true
		}
		seen[v] = true
	}
	return false
}

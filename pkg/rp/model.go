package rp

import (
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// Profile identifies one of the identity provider federations the relying
// party can authenticate against.
type Profile string

const (
	ProfileSPID Profile = "spid"
	ProfileCIE  Profile = "cie"
)

// ACRValue is the level of authentication requested from a provider.
type ACRValue string

const (
	ACRSpidL1 ACRValue = "https://www.spid.gov.it/SpidL1"
	ACRSpidL2 ACRValue = "https://www.spid.gov.it/SpidL2"
	ACRSpidL3 ACRValue = "https://www.spid.gov.it/SpidL3"
)

// TrustMark is a statement of compliance issued during onboarding.
type TrustMark struct {
	ID        string `json:"id"`
	TrustMark string `json:"trust_mark"`
}

// ClaimRequirement marks a requested claim. A nil entry in a claim map
// serializes to null, which is how optional userinfo claims are requested.
type ClaimRequirement struct {
	Essential bool `json:"essential,omitempty"`
}

// RequestedClaims is the claims parameter of an authorization request.
type RequestedClaims struct {
	IDToken  map[string]*ClaimRequirement `json:"id_token"`
	UserInfo map[string]*ClaimRequirement `json:"userinfo"`
}

// ProviderProfile holds the per-federation authentication settings.
type ProviderProfile struct {
	ACRValues       ACRValue
	RequestedClaims RequestedClaims
}

// AuthnRequest is a pending authentication request, created when the user is
// redirected to a provider and consumed when the provider calls back.
// The state is its unique key.
type AuthnRequest struct {
	State              string             `json:"state" bson:"_id"`
	CodeVerifier       string             `json:"code_verifier" bson:"code_verifier"`
	RedirectURI        string             `json:"redirect_uri" bson:"redirect_uri"`
	TokenEndpoint      string             `json:"token_endpoint" bson:"token_endpoint"`
	UserInfoEndpoint   string             `json:"userinfo_endpoint" bson:"userinfo_endpoint"`
	RevocationEndpoint string             `json:"revocation_endpoint" bson:"revocation_endpoint"`
	ProviderJWKS       jose.JSONWebKeySet `json:"provider_jwks" bson:"-"`
	CreatedAt          int                `json:"created_at" bson:"created_at"`
}

// Tokens is the result of exchanging an authorization code.
type Tokens struct {
	IDToken            string `json:"id_token"`
	AccessToken        string `json:"access_token"`
	RefreshToken       string `json:"refresh_token,omitempty"`
	RevocationEndpoint string `json:"-"`
}

// UserInfo is the set of verified claims returned by a provider. Keys are
// either SPID attribute URIs or CIE claim names depending on the provider
// profile.
type UserInfo map[string]any

const spidAttributePrefix = "https://attributes.spid.gov.it/"

// String returns the claim named by name, trying both the plain CIE name and
// the SPID attribute URI form.
func (u UserInfo) String(name string) string {
	if v, ok := u[name].(string); ok {
		return v
	}
	if v, ok := u[spidAttributePrefix+name].(string); ok {
		return v
	}
	return ""
}

// FiscalNumber returns the user's fiscal number claim regardless of the
// provider profile that issued it.
func (u UserInfo) FiscalNumber() string {
	if v := u.String("fiscalNumber"); v != "" {
		return v
	}
	return u.String("fiscal_number")
}

// IsSPID reports whether the claim set uses SPID attribute URIs.
func (u UserInfo) IsSPID() bool {
	for name := range u {
		if strings.HasPrefix(name, spidAttributePrefix) {
			return true
		}
	}
	return false
}

// ProviderInfo describes one available identity provider, suitable for
// rendering a provider picker.
type ProviderInfo struct {
	Sub              string `json:"sub"`
	OrganizationName string `json:"organization_name"`
	LogoURI          string `json:"logo_uri,omitempty"`
}

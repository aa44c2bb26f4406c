// Package oidc carries the relying party configuration through the internal
// packages together with the request scoped context.
package oidc

import (
	"context"
	"net/http"

	"github.com/go-jose/go-jose/v4"
	"github.com/italia/spid-cie-oidc-go/internal/jwtutil"
	"github.com/italia/spid-cie-oidc-go/pkg/rp"
	"go.uber.org/zap"
)

type Context struct {
	context.Context
	Config rp.Configuration
}

func NewContext(ctx context.Context, config rp.Configuration) Context {
	return Context{
		Context: ctx,
		Config:  config,
	}
}

func (ctx Context) HTTPClient() *http.Client {
	return ctx.Config.HTTPClient
}

func (ctx Context) Logger() *zap.Logger {
	return ctx.Config.Logger
}

func (ctx Context) AuditLog(record any) {
	if ctx.Config.AuditLogger != nil {
		ctx.Config.AuditLogger(record)
	}
}

func (ctx Context) Storage() rp.AuthnRequestStorage {
	return ctx.Config.Storage
}

// SignerJWK is the private key the relying party signs with.
func (ctx Context) SignerJWK() jose.JSONWebKey {
	return ctx.Config.PrivateJWKS.Keys[0]
}

// DecryptionKeyFunc looks up the relying party private keys, used to decrypt
// user info responses addressed to us.
func (ctx Context) DecryptionKeyFunc() jwtutil.KeyFunc {
	return jwtutil.KeyFuncForSet(ctx.Config.PrivateJWKS)
}

// ProviderProfileFor returns the profile a configured provider belongs to.
func (ctx Context) ProviderProfileFor(provider string) (rp.Profile, bool) {
	for profile, providers := range ctx.Config.IdentityProviders {
		for _, id := range providers {
			if id == provider {
				return profile, true
			}
		}
	}
	return "", false
}

// Package metrics exposes the relying party prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TrustChainResolutions counts full trust chain resolutions by outcome,
	// cache hits excluded.
	TrustChainResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rp_trust_chain_resolutions_total",
			Help: "Trust chain resolutions performed, labelled by outcome.",
		},
		[]string{"outcome"},
	)

	// UserInfoSignatureFallbacks counts user info responses accepted without
	// signature verification. A non-zero value means some provider is still
	// issuing user info JWS tokens that fail verification.
	UserInfoSignatureFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rp_userinfo_signature_fallbacks_total",
			Help: "User info claims accepted through the unverified decode fallback.",
		},
	)
)

const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Package storage provides in-memory implementations of the relying party
// storage interfaces, suitable for tests and single instance deployments.
package storage

import (
	"context"
	"sync"

	"github.com/italia/spid-cie-oidc-go/pkg/rp"
)

type AuthnRequestManager struct {
	Requests map[string]rp.AuthnRequest
	mu       sync.RWMutex
	maxSize  int
}

func NewAuthnRequestManager(maxSize int) *AuthnRequestManager {
	return &AuthnRequestManager{
		Requests: make(map[string]rp.AuthnRequest),
		maxSize:  maxSize,
	}
}

func (m *AuthnRequestManager) Write(_ context.Context, request rp.AuthnRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Requests) >= m.maxSize {
		m.removeOldest()
	}

	m.Requests[request.State] = request
	return nil
}

func (m *AuthnRequestManager) Read(_ context.Context, state string) (rp.AuthnRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	request, exists := m.Requests[state]
	if !exists {
		return rp.AuthnRequest{}, rp.ErrAuthnRequestNotFound
	}
	return request, nil
}

func (m *AuthnRequestManager) Delete(_ context.Context, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.Requests, state)
	return nil
}

func (m *AuthnRequestManager) removeOldest() {
	var oldestState string
	oldestCreatedAt := -1
	for state, request := range m.Requests {
		if oldestCreatedAt == -1 || request.CreatedAt < oldestCreatedAt {
			oldestState = state
			oldestCreatedAt = request.CreatedAt
		}
	}
	if oldestState != "" {
		delete(m.Requests, oldestState)
	}
}

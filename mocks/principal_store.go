// Package mocks holds testify mocks of the service interfaces.
package mocks

import (
	"context"

	"github.com/alwitt/fundstream/users"
	"github.com/stretchr/testify/mock"
)

// PrincipalStore mock of users.PrincipalStore
type PrincipalStore struct {
	mock.Mock
}

// FindByIdentifier mocks users.PrincipalStore.FindByIdentifier
func (m *PrincipalStore) FindByIdentifier(
	ctxt context.Context, method, identifier string,
) (users.Principal, error) {
	args := m.Called(ctxt, method, identifier)
	return args.Get(0).(users.Principal), args.Error(1)
}

// Ready mocks users.PrincipalStore.Ready
func (m *PrincipalStore) Ready(ctxt context.Context) error {
	return m.Called(ctxt).Error(0)
}

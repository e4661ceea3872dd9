package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/carebridge/consent-api/internal/system/error/serviceerror"
)

// MockRequestExpirer is a mock implementation of sweeper.RequestExpirer
type MockRequestExpirer struct {
	mock.Mock
}

func (m *MockRequestExpirer) ListExpiredApprovedIDs(ctx context.Context, now time.Time, limit int) ([]string, *serviceerror.ServiceError) {
	args := m.Called(ctx, now, limit)
	var serviceErr *serviceerror.ServiceError
	if e := args.Get(1); e != nil {
		serviceErr = e.(*serviceerror.ServiceError)
	}
	if args.Get(0) == nil {
		return nil, serviceErr
	}
	return args.Get(0).([]string), serviceErr
}

func (m *MockRequestExpirer) Expire(ctx context.Context, requestID string, now time.Time) (bool, *serviceerror.ServiceError) {
	args := m.Called(ctx, requestID, now)
	if e := args.Get(1); e != nil {
		return args.Bool(0), e.(*serviceerror.ServiceError)
	}
	return args.Bool(0), nil
}

// MockGrantExpirer is a mock implementation of sweeper.GrantExpirer
type MockGrantExpirer struct {
	mock.Mock
}

func (m *MockGrantExpirer) ExpireOverdue(ctx context.Context, now time.Time) (int64, *serviceerror.ServiceError) {
	args := m.Called(ctx, now)
	if e := args.Get(1); e != nil {
		return args.Get(0).(int64), e.(*serviceerror.ServiceError)
	}
	return args.Get(0).(int64), nil
}

package middleware

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/Qrinee/m2backend/internal/captcha"
	"github.com/Qrinee/m2backend/internal/models"
)

// MockTurnstileVerifier implements captcha.ITurnstileVerifier
type MockTurnstileVerifier struct {
	mock.Mock
}

func (m *MockTurnstileVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	args := m.Called(ctx, token, remoteIP)
	return args.Bool(0), args.Error(1)
}

func (m *MockTurnstileVerifier) IssueHumanToken(scope captcha.Scope, client captcha.Client, ttl time.Duration) (string, error) {
	args := m.Called(scope, client, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockTurnstileVerifier) HumanTokenScope(token string, client captcha.Client) (captcha.Scope, bool) {
	args := m.Called(token, client)
	return args.Get(0).(captcha.Scope), args.Bool(1)
}

// MockUserLookup implements UserLookup
type MockUserLookup struct {
	mock.Mock
}

func (m *MockUserLookup) FindByID(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

package app

import (
	"context"
	"errors"

	"realtime_chat_service/internal/chat/domain"
	"realtime_chat_service/internal/chat/repository"
	errprocess "realtime_chat_service/pkg/err"
	"realtime_chat_service/pkg/logger"
	"realtime_chat_service/pkg/token"

	"go.uber.org/zap"
)

// TokenVerifier checks an access token and returns its claims
type TokenVerifier interface {
	Parse(tokenStr string) (*token.Claims, error)
}

// Gatekeeper authenticates a connection before any room is joined
type Gatekeeper struct {
	verifier TokenVerifier
	identity repository.IdentityRepository
}

// NewGatekeeper create Gatekeeper
func NewGatekeeper(verifier TokenVerifier, identity repository.IdentityRepository) *Gatekeeper {
	return &Gatekeeper{verifier: verifier, identity: identity}
}

// Authenticate resolve the caller behind accessToken and deviceID.
// Every failure is an auth error except identity store outages, which stay store errors.
func (g *Gatekeeper) Authenticate(ctx context.Context, accessToken, deviceID string) (*domain.Identity, error) {
	if accessToken == "" || deviceID == "" {
		return nil, errprocess.ErrMissingCredentials
	}

	claims, err := g.verifier.Parse(accessToken)
	if err != nil {
		logger.Log.Debug("token rejected", zap.Error(err))
		return nil, errprocess.ErrInvalidToken.Wrap(err)
	}
	if claims.UserID == "" {
		return nil, errprocess.ErrInvalidToken
	}
	if claims.DeviceID != deviceID {
		return nil, errprocess.ErrDeviceMismatch
	}

	identity, err := g.identity.FindSession(ctx, claims.UserID, accessToken)
	if errors.Is(err, errprocess.ErrIdentityNotFound) {
		return nil, errprocess.ErrIdentityNotFound
	}
	if err != nil {
		return nil, errprocess.Store("identity lookup", err)
	}

	identity.DeviceID = deviceID
	return identity, nil
}

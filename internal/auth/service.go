package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	// UserID is uuid.Nil for machine tokens.
	UserID         uuid.UUID
	Username       string
	Role           string
	Permissions    []Permission
	MachineTokenID *uuid.UUID
}

func (p *Principal) Has(perm Permission) bool {
	return slices.Contains(p.Permissions, perm)
}

type AuthService struct {
	store      storage.Querier
	jwtHandler *JWTHandler
	logger     *zap.Logger
}

func NewAuthService(store storage.Querier, cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	return &AuthService{
		store:      store,
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.Issuer, cfg.AccessTokenTTL),
		logger:     logger,
	}
}

// IssueAccessToken signs a user token; the identity provider normally does this.
func (a *AuthService) IssueAccessToken(userID uuid.UUID, username, role string) (string, error) {
	return a.jwtHandler.GenerateAccessToken(userID, username, role)
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(ctx context.Context, token string) (*Principal, error) {
	if IsMachineToken(token) {
		return a.validateMachineToken(ctx, token)
	}

	claims, userID, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		a.logger.Debug("JWT rejected", zap.Error(err))
		return nil, types.Unauthorized("invalid or expired token")
	}
	return &Principal{
		UserID:      userID,
		Username:    claims.Username,
		Role:        claims.Role,
		Permissions: roleToPermissions(claims.Role),
	}, nil
}

func (a *AuthService) validateMachineToken(ctx context.Context, token string) (*Principal, error) {
	machineToken, err := a.store.GetMachineTokenByHash(ctx, HashMachineToken(token))
	if err != nil {
		a.logger.Warn("Machine token rejected", zap.Error(err))
		return nil, types.Unauthorized("invalid or expired token")
	}

	if err := a.store.UpdateMachineTokenLastUsed(ctx, machineToken.ID); err != nil {
		a.logger.Warn("Failed to update machine token last use", zap.Error(err))
	}

	permissions := make([]Permission, len(machineToken.Permissions))
	for i, p := range machineToken.Permissions {
		permissions[i] = Permission(p)
	}

	id := machineToken.ID
	return &Principal{
		Username:       machineToken.Name,
		Role:           "machine",
		Permissions:    permissions,
		MachineTokenID: &id,
	}, nil
}

func roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}

// CreateMachineToken creates a new machine token. The plain token is only
// ever returned here.
func (a *AuthService) CreateMachineToken(ctx context.Context, name string, permissions []string, createdBy *uuid.UUID) (string, *storage.MachineToken, error) {
	if name == "" {
		return "", nil, types.Validation("invalid machine token",
			types.FieldError{Field: "name", Message: "required"})
	}
	for _, p := range permissions {
		switch Permission(p) {
		case PermOperator, PermTechnician, PermAdmin:
		default:
			return "", nil, types.Validation("invalid machine token",
				types.FieldError{Field: "permissions", Message: fmt.Sprintf("unknown permission %q", p)})
		}
	}

	token, tokenHash, err := GenerateMachineToken()
	if err != nil {
		return "", nil, err
	}

	machineToken := &storage.MachineToken{
		ID:          uuid.New(),
		TokenHash:   tokenHash,
		Name:        name,
		Permissions: permissions,
		CreatedBy:   createdBy,
	}
	if err := a.store.CreateMachineToken(ctx, machineToken); err != nil {
		return "", nil, fmt.Errorf("failed to store token: %w", err)
	}

	a.logger.Info("Machine token created",
		zap.String("token_id", machineToken.ID.String()),
		zap.String("name", name))
	return token, machineToken, nil
}

// ListMachineTokens returns all machine tokens (without token values)
func (a *AuthService) ListMachineTokens(ctx context.Context) ([]*storage.MachineToken, error) {
	return a.store.ListMachineTokens(ctx)
}

func (a *AuthService) DeleteMachineToken(ctx context.Context, tokenID uuid.UUID) error {
	if err := a.store.DeleteMachineToken(ctx, tokenID); err != nil {
		return err
	}
	a.logger.Info("Machine token deleted", zap.String("token_id", tokenID.String()))
	return nil
}

package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/OpenFacilityCore/internal/config"
	"github.com/KevinKickass/OpenFacilityCore/internal/storage/memory"
	"github.com/KevinKickass/OpenFacilityCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func newTestService(t *testing.T) (*AuthService, *memory.Store) {
	t.Helper()
	t.Setenv("OFC_TEST_JWT_SECRET", "test-secret-with-at-least-32-characters")
	store := memory.New()
	cfg := config.AuthConfig{JWTSecretEnv: "OFC_TEST_JWT_SECRET", Issuer: "ofc-test", AccessTokenTTL: time.Minute}
	return NewAuthService(store, cfg, zap.NewNop()), store
}

func TestJWTRoundTrip(t *testing.T) {
	a, _ := newTestService(t)
	userID := uuid.New()

	token, err := a.IssueAccessToken(userID, "alice", "technician")
	if err != nil {
		t.Fatal(err)
	}
	p, err := a.ValidateToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if p.UserID != userID || p.Username != "alice" {
		t.Errorf("principal = %+v", p)
	}
	if !p.Has(PermTechnician) || p.Has(PermAdmin) {
		t.Errorf("permissions = %v", p.Permissions)
	}
}

func TestJWTRejected(t *testing.T) {
	a, _ := newTestService(t)
	other := NewJWTHandler("another-secret-with-at-least-32-chars", "ofc-test", time.Minute)
	wrongIssuer := NewJWTHandler("test-secret-with-at-least-32-characters", "someone-else", time.Minute)
	expired := NewJWTHandler("test-secret-with-at-least-32-characters", "ofc-test", time.Minute)
	expired.accessTokenTTL = -time.Minute

	for name, h := range map[string]*JWTHandler{"wrong secret": other, "wrong issuer": wrongIssuer, "expired": expired} {
		t.Run(name, func(t *testing.T) {
			token, err := h.GenerateAccessToken(uuid.New(), "mallory", "admin")
			if err != nil {
				t.Fatal(err)
			}
			if _, err := a.ValidateToken(context.Background(), token); !errors.Is(err, types.ErrUnauthorized) {
				t.Errorf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestMachineTokens(t *testing.T) {
	a, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := a.CreateMachineToken(ctx, "ci", []string{"root"}, nil); !errors.Is(err, types.ErrBadRequest) {
		t.Errorf("unknown permission: err = %v", err)
	}

	token, stored, err := a.CreateMachineToken(ctx, "ci", []string{"operator", "admin"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !IsMachineToken(token) {
		t.Errorf("token %q has the wrong format", token)
	}

	p, err := a.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if p.MachineTokenID == nil || *p.MachineTokenID != stored.ID || !p.Has(PermAdmin) || p.Has(PermTechnician) {
		t.Errorf("principal = %+v", p)
	}

	tokens, _ := a.ListMachineTokens(ctx)
	if len(tokens) != 1 || tokens[0].LastUsedAt == nil {
		t.Errorf("tokens = %+v, want one with last use recorded", tokens)
	}

	if err := a.DeleteMachineToken(ctx, stored.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := a.ValidateToken(ctx, token); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("deleted token: err = %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, _ := newTestService(t)

	r := gin.New()
	r.GET("/op", a.AuthMiddleware(), RequirePermission(PermOperator), func(c *gin.Context) {
		p, _ := PrincipalFrom(c)
		c.String(http.StatusOK, p.Username)
	})
	r.GET("/admin", a.AuthMiddleware(), RequirePermission(PermAdmin), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	operator, _ := a.IssueAccessToken(uuid.New(), "olga", "operator")

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"no header", "/op", "", http.StatusUnauthorized},
		{"bad scheme", "/op", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "/op", "Bearer abc", http.StatusUnauthorized},
		{"operator", "/op", "Bearer " + operator, http.StatusOK},
		{"operator on admin route", "/admin", "Bearer " + operator, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
		})
	}
}

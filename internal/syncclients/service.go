package syncclients

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/piratar/members-sync/pkg/auth"
	"github.com/piratar/members-sync/pkg/config"
	"github.com/piratar/members-sync/pkg/db"
	"github.com/piratar/members-sync/pkg/db/models"
	"github.com/piratar/members-sync/pkg/enums"
	pkgerrors "github.com/piratar/members-sync/pkg/errors"
	"github.com/piratar/members-sync/pkg/logger"
	"github.com/piratar/members-sync/pkg/security"
)

const invalidCredentialsMessage = "invalid client credentials"

// Service manages sync client credentials and issues their access tokens.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Credentials, error)
	RotateSecret(ctx context.Context, id uuid.UUID) (*Credentials, error)
	List(ctx context.Context) ([]ClientSummary, error)
	Delete(ctx context.Context, id uuid.UUID) error
	IssueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error)
	RevokeToken(ctx context.Context, jti string) error
}

type sessionManager interface {
	Register(ctx context.Context, jti, clientID string, ttl time.Duration) error
	Revoke(ctx context.Context, jti string) error
}

// CreateRequest names a new client.
type CreateRequest struct {
	Name string           `json:"name" validate:"required,min=3,max=64"`
	Role enums.ClientRole `json:"role" validate:"required,oneof=sync admin"`
}

// TokenRequest is the client-credentials grant.
type TokenRequest struct {
	ClientID string `json:"client_id" validate:"required,uuid"`
	Secret   string `json:"client_secret" validate:"required"`
}

// Credentials carries a freshly generated secret. It is the only time the secret is visible.
type Credentials struct {
	ClientID uuid.UUID        `json:"client_id"`
	Name     string           `json:"name"`
	Role     enums.ClientRole `json:"role"`
	Secret   string           `json:"client_secret"`
}

// ClientSummary is the listing view without secret material.
type ClientSummary struct {
	ID         uuid.UUID        `json:"id"`
	Name       string           `json:"name"`
	Role       enums.ClientRole `json:"role"`
	LastUsedAt *time.Time       `json:"last_used_at,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

// TokenResponse is returned from the token endpoint.
type TokenResponse struct {
	AccessToken string           `json:"access_token"`
	TokenType   string           `json:"token_type"`
	ExpiresIn   int64            `json:"expires_in"`
	Role        enums.ClientRole `json:"role"`
}

// ServiceParams bundles the dependencies required to build the service.
type ServiceParams struct {
	Repo           Repository
	SessionManager sessionManager
	JWTConfig      config.JWTConfig
	PasswordConfig config.PasswordConfig
	Logger         *logger.Logger
}

type service struct {
	repo    Repository
	session sessionManager
	jwtCfg  config.JWTConfig
	hasher  security.Hasher
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("sync client repository is required")
	}
	if params.SessionManager == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if params.JWTConfig.Expiration() <= 0 {
		return nil, fmt.Errorf("jwt expiration must be positive")
	}
	return &service{
		repo:    params.Repo,
		session: params.SessionManager,
		jwtCfg:  params.JWTConfig,
		hasher:  security.NewHasher(params.PasswordConfig),
		logg:    params.Logger,
		now:     time.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, req CreateRequest) (*Credentials, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	if !req.Role.IsValid() {
		return nil, pkgerrors.Newf(pkgerrors.CodeValidation, "invalid role %q", req.Role)
	}

	secret, hash, err := s.newSecret()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	client := &models.SyncClient{
		ID:         uuid.New(),
		Name:       name,
		SecretHash: hash,
		Role:       req.Role,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, client); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "client %q already exists", name)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create sync client")
	}
	return &Credentials{ClientID: client.ID, Name: client.Name, Role: client.Role, Secret: secret}, nil
}

func (s *service) RotateSecret(ctx context.Context, id uuid.UUID) (*Credentials, error) {
	client, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sync client not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load sync client")
	}
	secret, hash, err := s.newSecret()
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateSecret(ctx, id, hash, s.now().UTC()); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store rotated secret")
	}
	return &Credentials{ClientID: client.ID, Name: client.Name, Role: client.Role, Secret: secret}, nil
}

func (s *service) List(ctx context.Context) ([]ClientSummary, error) {
	rows, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list sync clients")
	}
	out := make([]ClientSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, ClientSummary{
			ID:         row.ID,
			Name:       row.Name,
			Role:       row.Role,
			LastUsedAt: row.LastUsedAt,
			CreatedAt:  row.CreatedAt,
		})
	}
	return out, nil
}

func (s *service) Delete(ctx context.Context, id uuid.UUID) error {
	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "delete sync client")
	}
	if !deleted {
		return pkgerrors.New(pkgerrors.CodeNotFound, "sync client not found")
	}
	return nil
}

func (s *service) IssueToken(ctx context.Context, req TokenRequest) (*TokenResponse, error) {
	clientID, err := uuid.Parse(strings.TrimSpace(req.ClientID))
	if err != nil || req.Secret == "" {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}
	client, err := s.repo.FindByID(ctx, clientID)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load sync client")
	}
	ok, stale, err := s.hasher.Verify(req.Secret, client.SecretHash)
	if err != nil || !ok {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, invalidCredentialsMessage)
	}

	now := s.now().UTC()
	if stale {
		s.upgradeHash(ctx, client.ID, req.Secret, now)
	}
	jti := uuid.NewString()
	token, err := pkgAuth.MintAccessToken(s.jwtCfg, now, pkgAuth.AccessTokenPayload{
		ClientID:   client.ID,
		ClientName: client.Name,
		Role:       client.Role,
		JTI:        jti,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mint jwt")
	}
	ttl := s.jwtCfg.Expiration()
	if err := s.session.Register(ctx, jti, client.ID.String(), ttl); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store token session")
	}
	if err := s.repo.TouchLastUsed(ctx, client.ID, now); err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithClientID(ctx, client.ID.String()), "failed to record client last use: "+err.Error())
	}

	return &TokenResponse{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(ttl.Seconds()),
		Role:        client.Role,
	}, nil
}

func (s *service) RevokeToken(ctx context.Context, jti string) error {
	if strings.TrimSpace(jti) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "token id is required")
	}
	if err := s.session.Revoke(ctx, jti); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revoke token session")
	}
	return nil
}

func (s *service) newSecret() (string, string, error) {
	secret, err := security.GenerateSecret()
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate secret")
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return "", "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash secret")
	}
	return secret, hash, nil
}

// upgradeHash re-hashes a secret verified against older cost settings. It is
// best effort: the token is issued either way.
func (s *service) upgradeHash(ctx context.Context, id uuid.UUID, secret string, now time.Time) {
	hash, err := s.hasher.Hash(secret)
	if err == nil {
		err = s.repo.UpdateSecret(ctx, id, hash, now)
	}
	if err != nil && s.logg != nil {
		s.logg.Warn(s.logg.WithClientID(ctx, id.String()), "failed to upgrade client secret hash: "+err.Error())
	}
}

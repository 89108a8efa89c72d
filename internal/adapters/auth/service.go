package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/atvirokodosprendimai/dynamicapi/internal/domain"
)

const (
	FieldEmail    = "email"
	FieldPassword = "password"
	FieldRoles    = "roles"
)

var errInvalidCredentials = errors.New("invalid credentials")

type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret []byte
	TTL    time.Duration
	Issuer string
	// Users is the entity holding email, bcrypt password hash and roles.
	Users domain.EntityDescriptor
}

// Service resolves principals from HS256 tokens and issues them on login.
type Service struct {
	cfg     Config
	methods domain.CallbackMethods
	now     domain.Clock
}

func NewService(methods domain.CallbackMethods, cfg Config, now domain.Clock) (*Service, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt secret is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "dynamicapi"
	}
	if now == nil {
		now = domain.SystemClock
	}
	return &Service{cfg: cfg, methods: methods, now: now}, nil
}

// Login checks email and password against the users collection and returns a
// signed token for the matching user.
func (s *Service) Login(ctx context.Context, email, password string) (string, *domain.Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", nil, domain.Unauthenticated(errors.New("email and password are required"))
	}

	u, err := s.methods.FindOneDocument(ctx, s.cfg.Users, domain.Filter{FieldEmail: email})
	if err != nil {
		if domain.IsKind(err, domain.NotFound) {
			return "", nil, domain.Unauthenticated(errInvalidCredentials)
		}
		return "", nil, err
	}
	hash, _ := u[FieldPassword].(string)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", nil, domain.Unauthenticated(errInvalidCredentials)
	}

	p := &domain.Principal{ID: u.ID(), Email: email, Roles: rolesOf(u)}
	token, err := s.Issue(p)
	if err != nil {
		return "", nil, err
	}
	return token, p, nil
}

func (s *Service) Issue(p *domain.Principal) (string, error) {
	now := s.now()
	claims := Claims{
		Email: p.Email,
		Roles: p.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   p.ID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.cfg.Secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) Authenticate(_ context.Context, token string) (*domain.Principal, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, domain.Unauthenticated(errors.New("token is required"))
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, domain.Unauthenticated(err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, domain.Unauthenticated(errors.New("invalid token claims"))
	}

	return &domain.Principal{
		ID:    claims.Subject,
		Email: claims.Email,
		Roles: claims.Roles,
		Claims: map[string]any{
			"jti": claims.ID,
			"iss": claims.Issuer,
		},
	}, nil
}

// BootstrapAdmin creates an admin user unless one with that email exists.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil
	}
	_, err := s.methods.FindOneDocument(ctx, s.cfg.Users, domain.Filter{FieldEmail: email})
	if err == nil {
		return nil
	}
	if !domain.IsKind(err, domain.NotFound) {
		return err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	_, err = s.methods.CreateOneDocument(ctx, s.cfg.Users, domain.Document{
		FieldEmail:    email,
		FieldPassword: hash,
		FieldRoles:    []any{"admin"},
	})
	return err
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func rolesOf(u domain.Document) []string {
	switch v := u[FieldRoles].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, r := range v {
			if s, ok := r.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

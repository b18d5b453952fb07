package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInactiveAccount    = errors.New("account is inactive")
)

// Authenticate checks a username and password against the stored bcrypt hash.
func (s *Service) Authenticate(ctx context.Context, username string, password string) (domain.UserAccount, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return domain.UserAccount{}, ErrInvalidCredentials
	}
	user, err := s.repo.GetUser(ctx, username)
	if err != nil {
		if isNotFound(err) {
			return domain.UserAccount{}, ErrInvalidCredentials
		}
		return domain.UserAccount{}, err
	}
	if !verifyPassword(user.Password, password) {
		return domain.UserAccount{}, ErrInvalidCredentials
	}
	if !user.Active {
		return domain.UserAccount{}, ErrInactiveAccount
	}
	return *user, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.repo.ListUsers(ctx)
}

func (s *Service) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserAccount, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return domain.UserAccount{}, err
	}
	req.Username = strings.ToLower(strings.TrimSpace(req.Username))
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validateStruct(req); err != nil {
		return domain.UserAccount{}, err
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserAccount{}, err
	}
	created, err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  req.Username,
		Password:  hash,
		Role:      req.Role,
		FullName:  req.FullName,
		Active:    true,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.UserAccount{}, err
	}

	s.logAudit(ctx, auditEvent{
		action: "user_create", entityType: "user", entityID: created.Username, entityName: created.FullName,
		details: "role=" + created.Role,
		after:   created,
	})
	return *created, nil
}

func (s *Service) UpdateUser(ctx context.Context, username string, req domain.UserUpdateRequest) (domain.UserAccount, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.UserAccount{}, err
	}
	if err := s.validateStruct(req); err != nil {
		return domain.UserAccount{}, err
	}
	existing, err := s.repo.GetUser(ctx, strings.ToLower(strings.TrimSpace(username)))
	if err != nil {
		return domain.UserAccount{}, err
	}
	if existing.Username == actor.Username {
		if req.Active != nil && !*req.Active {
			return domain.UserAccount{}, fmt.Errorf("%w: you cannot deactivate your own account", store.ErrValidation)
		}
		if req.Role != nil && *req.Role != domain.RoleAdmin {
			return domain.UserAccount{}, fmt.Errorf("%w: you cannot remove your own admin role", store.ErrValidation)
		}
	}

	updated := *existing
	details := make([]string, 0, 4)
	if req.Password != nil {
		hash, err := hashPassword(*req.Password)
		if err != nil {
			return domain.UserAccount{}, err
		}
		updated.Password = hash
		details = append(details, "password_reset")
	}
	if req.Role != nil {
		updated.Role = *req.Role
		details = append(details, "role="+updated.Role)
	}
	if req.FullName != nil {
		updated.FullName = strings.TrimSpace(*req.FullName)
	}
	if req.Active != nil {
		updated.Active = *req.Active
		details = append(details, fmt.Sprintf("active=%t", updated.Active))
	}

	saved, err := s.repo.UpdateUser(ctx, updated)
	if err != nil {
		return domain.UserAccount{}, err
	}
	s.logAudit(ctx, auditEvent{
		action: "user_update", entityType: "user", entityID: saved.Username, entityName: saved.FullName,
		details: strings.Join(details, ","),
		before:  existing, after: saved,
	})
	return *saved, nil
}

// EnsureAdmin creates the admin account on an empty user table. It reports whether an
// account was created.
func (s *Service) EnsureAdmin(ctx context.Context, password string) (bool, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return false, err
	}
	if len(users) > 0 {
		return false, nil
	}
	if len(password) < 8 {
		return false, fmt.Errorf("%w: bootstrap admin password must be at least 8 characters", store.ErrValidation)
	}
	hash, err := hashPassword(password)
	if err != nil {
		return false, err
	}
	if _, err := s.repo.CreateUser(ctx, domain.UserAccount{
		Username:  "admin",
		Password:  hash,
		Role:      domain.RoleAdmin,
		FullName:  "Administrador",
		Active:    true,
		CreatedAt: s.now().UTC(),
	}); err != nil {
		return false, err
	}
	s.logAudit(ctx, auditEvent{action: "user_bootstrap", entityType: "user", entityID: "admin"})
	return true, nil
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}

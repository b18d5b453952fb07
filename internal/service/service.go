package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"minimarket/backend/internal/cache"
	"minimarket/backend/internal/domain"
	"minimarket/backend/internal/observability"
	"minimarket/backend/internal/store"
	"minimarket/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Sessions cache.SessionCache
	Alerts   cache.AlertCache
	AlertTTL time.Duration
	Location *time.Location
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Now      func() time.Time
}

type Service struct {
	repo     store.Repository
	sessions cache.SessionCache
	alerts   cache.AlertCache
	alertTTL time.Duration
	location *time.Location
	log      *zap.Logger
	metrics  *observability.Metrics
	validate *validator.Validate
	now      func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Sessions == nil {
		opts.Sessions = cache.Noop{}
	}
	if opts.Alerts == nil {
		opts.Alerts = cache.Noop{}
	}
	if opts.AlertTTL <= 0 {
		opts.AlertTTL = 20 * time.Minute
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})

	return &Service{
		repo:     repo,
		sessions: opts.Sessions,
		alerts:   opts.Alerts,
		alertTTL: opts.AlertTTL,
		location: opts.Location,
		log:      opts.Logger.Named("service"),
		metrics:  opts.Metrics,
		validate: validate,
		now:      opts.Now,
	}
}

// Location is the store's local time zone, used for calendar boundaries.
func (s *Service) Location() *time.Location {
	return s.location
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{Username: "system", Role: "system"}
	}
	return actor
}

// requireRole fails with ErrForbidden unless the request actor holds one of roles.
func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, fmt.Errorf("%w: authentication required", store.ErrForbidden)
	}
	for _, role := range roles {
		if actor.Role == role {
			return actor, nil
		}
	}
	return domain.Actor{}, fmt.Errorf("%w: %s role required", store.ErrForbidden, strings.Join(roles, " or "))
}

func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", store.ErrValidation, err)
	}
	messages := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		if fieldErr.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s must satisfy %s=%s", fieldErr.Field(), fieldErr.Tag(), fieldErr.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s must satisfy %s", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", store.ErrValidation, strings.Join(messages, "; "))
}

type auditEvent struct {
	action     string
	entityType string
	entityID   string
	entityName string
	details    string
	before     any
	after      any
}

// logAudit appends an audit entry after a successful mutation. A failed write is logged
// and never fails the caller.
func (s *Service) logAudit(ctx context.Context, event auditEvent) {
	actor := actorOrSystem(ctx)
	entry := domain.AuditLog{
		ID:            xid.New("aud"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        event.action,
		EntityType:    event.entityType,
		EntityID:      event.entityID,
		EntityName:    event.entityName,
		Details:       event.details,
		Before:        s.snapshot(event.before),
		After:         s.snapshot(event.after),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.log.Warn("failed to write audit log",
			zap.String("action", event.action),
			zap.String("entity_type", event.entityType),
			zap.String("entity_id", event.entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) snapshot(v any) json.RawMessage {
	if v == nil || (reflect.ValueOf(v).Kind() == reflect.Pointer && reflect.ValueOf(v).IsNil()) {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("failed to encode audit snapshot", zap.Error(err))
		return nil
	}
	return raw
}

func parseDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%w: date %q must use YYYY-MM-DD", store.ErrValidation, raw)
	}
	return &parsed, nil
}

func defaultString(value string, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

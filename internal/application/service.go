package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/domain"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/observability"
	"github.com/viralforge/mesh/services/core-platform/M04-account-service/internal/ports"
)

const maxConflictRetries = 3

type Config struct {
	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	FailedLoginThreshold int
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
	RegisterRateLimit    int
	ResetRequestLimit    int
	RateLimitWindow      time.Duration
	// PublicBaseURL prefixes links embedded in outgoing mail.
	PublicBaseURL   string
	AdminPermission string
}

func (c Config) withDefaults() Config {
	if c.AccessTokenTTL <= 0 {
		c.AccessTokenTTL = 10 * time.Minute
	}
	if c.RefreshTokenTTL <= 0 {
		c.RefreshTokenTTL = 14 * 24 * time.Hour
	}
	if c.FailedLoginThreshold <= 0 {
		c.FailedLoginThreshold = domain.DefaultLockoutThreshold
	}
	if c.EmailVerificationTTL <= 0 {
		c.EmailVerificationTTL = 24 * time.Hour
	}
	if c.PasswordResetTTL <= 0 {
		c.PasswordResetTTL = time.Hour
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = time.Minute
	}
	if c.AdminPermission == "" {
		c.AdminPermission = "accounts:admin"
	}
	return c
}

type Service struct {
	cfg            Config
	logger         *slog.Logger
	accounts       ports.AccountStore
	tokenLog       ports.TokenLogRepository
	recovery       ports.RecoveryRepository
	communications ports.CommunicationRepository
	revocations    ports.RevocationStore
	rateLimits     ports.RateLimitStore
	hasher         ports.PasswordHasher
	tokens         ports.JwtIssuer
	email          ports.EmailSender
	publisher      ports.EventPublisher
	resetQueue     ports.WorkQueue[PasswordResetJob]
	webhookQueue   ports.WorkQueue[domain.DeliveryUpdate]
	metrics        *observability.Metrics
	nowFn          func() time.Time

	decoyOnce sync.Once
	decoyHash string
}

type Dependencies struct {
	Config         Config
	Logger         *slog.Logger
	Accounts       ports.AccountStore
	TokenLog       ports.TokenLogRepository
	Recovery       ports.RecoveryRepository
	Communications ports.CommunicationRepository
	Revocations    ports.RevocationStore
	RateLimits     ports.RateLimitStore
	Hasher         ports.PasswordHasher
	Tokens         ports.JwtIssuer
	Email          ports.EmailSender
	Publisher      ports.EventPublisher
	ResetQueue     ports.WorkQueue[PasswordResetJob]
	WebhookQueue   ports.WorkQueue[domain.DeliveryUpdate]
	Metrics        *observability.Metrics
	Clock          func() time.Time
}

func NewService(deps Dependencies) *Service {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := deps.Clock
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		cfg:            deps.Config.withDefaults(),
		logger:         logger,
		accounts:       deps.Accounts,
		tokenLog:       deps.TokenLog,
		recovery:       deps.Recovery,
		communications: deps.Communications,
		revocations:    deps.Revocations,
		rateLimits:     deps.RateLimits,
		hasher:         deps.Hasher,
		tokens:         deps.Tokens,
		email:          deps.Email,
		publisher:      deps.Publisher,
		resetQueue:     deps.ResetQueue,
		webhookQueue:   deps.WebhookQueue,
		metrics:        deps.Metrics,
		nowFn:          nowFn,
	}
}

// save persists the aggregate with its pending events and accepts them only
// after the store committed. Events pick up the request trace id on the way.
func (s *Service) save(ctx context.Context, account *domain.Account) error {
	if traceID := observability.TraceID(ctx); traceID != "" {
		for _, e := range account.PendingEvents() {
			if meta := e.Metadata(); meta.TraceID == "" {
				meta.TraceID = traceID
			}
		}
	}
	if err := s.accounts.Save(ctx, account); err != nil {
		return err
	}
	account.AcceptChanges()
	return nil
}

// mutate applies change to account and saves it. On a version conflict it
// reloads the account and reapplies change, so change must be repeatable.
func (s *Service) mutate(ctx context.Context, account *domain.Account, change func(*domain.Account) error) (*domain.Account, error) {
	for attempt := 1; ; attempt++ {
		if err := change(account); err != nil {
			return account, err
		}
		err := s.save(ctx, account)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, domain.ErrConflict) || attempt >= maxConflictRetries {
			return account, err
		}
		s.logger.WarnContext(ctx, "account version conflict; retrying",
			"module", "application",
			"layer", "application",
			"operation", "mutate_account",
			"outcome", "retry",
			"account_id", account.ID,
			"attempt", attempt,
		)
		if account, err = s.accounts.GetByID(ctx, account.ID); err != nil {
			return nil, err
		}
	}
}

func (s *Service) mutateByID(ctx context.Context, accountID int64, change func(*domain.Account) error) (*domain.Account, error) {
	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.mutate(ctx, account, change)
}

// enforceRateLimit fails open when the limiter is unavailable.
func (s *Service) enforceRateLimit(ctx context.Context, key string, limit int) error {
	if s.rateLimits == nil || limit <= 0 || key == "" {
		return nil
	}
	allowed, err := s.rateLimits.Allow(ctx, key, limit, s.cfg.RateLimitWindow)
	if err != nil {
		s.logger.WarnContext(ctx, "rate-limit state unavailable",
			"module", "application",
			"layer", "application",
			"operation", "rate_limit",
			"outcome", "warning",
			"key", key,
			"error", err,
		)
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

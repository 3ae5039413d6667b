package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/tendant/simple-otp/pkg/api"
	"github.com/tendant/simple-otp/pkg/attempt"
	"github.com/tendant/simple-otp/pkg/auditlog"
	"github.com/tendant/simple-otp/pkg/config"
	"github.com/tendant/simple-otp/pkg/gate"
	"github.com/tendant/simple-otp/pkg/gateway"
	"github.com/tendant/simple-otp/pkg/notification"
	"github.com/tendant/simple-otp/pkg/otpcode"
	"github.com/tendant/simple-otp/pkg/passwordless"
	"github.com/tendant/simple-otp/pkg/ratelimit"
	"github.com/tendant/simple-otp/pkg/token"
	"github.com/tendant/simple-otp/pkg/twofa"
	"github.com/tendant/simple-otp/pkg/userstore"
	"github.com/tendant/simple-otp/pkg/validation"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed loading configuration", "error", err)
		os.Exit(-1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := userstore.NewFileUserStore(cfg.DataDir)
	if err != nil {
		slog.Error("Failed opening user store", "dir", cfg.DataDir, "error", err)
		os.Exit(-1)
	}

	notices := notification.NewDefaultManager()
	channel, err := buildChannel(cfg, notices, logger)
	if err != nil {
		slog.Error("Failed building delivery channel", "gateway", cfg.GatewayID, "error", err)
		os.Exit(-1)
	}
	if cfg.Sandbox {
		slog.Warn("Sandbox mode active, codes are logged instead of sent")
		channel = gateway.NewSandboxChannel(channel, logger)
	}

	gw := gateway.NewService(store, []gateway.Channel{channel},
		gateway.WithSyncKey("email", "account_email"),
	)

	codes := otpcode.NewService(otpcode.NewMetaCodeRepository(store),
		otpcode.WithLength(cfg.CodeLength),
		otpcode.WithAlphabet(cfg.CodeAlphabet),
		otpcode.WithExpiry(time.Duration(cfg.OTPExpiryMinutes)*time.Minute),
	)

	trackWindow := time.Duration(cfg.TrackExpiryHours) * time.Hour
	attemptRepo, err := buildAttemptRepository(ctx, cfg, store, trackWindow)
	if err != nil {
		slog.Error("Failed connecting attempt repository", "error", err)
		os.Exit(-1)
	}
	tracker := attempt.NewTracker(attemptRepo, attempt.WithPolicy(attempt.Policy{
		MaxRequest:    cfg.MaxRequest,
		MaxVerify:     cfg.MaxVerify,
		TrackWindow:   trackWindow,
		BlockDuration: time.Duration(cfg.BlockExpiryMins) * time.Minute,
		RequestWait:   time.Duration(cfg.RequestFrequency) * time.Second,
	}))

	auditRepo, err := buildAuditRepository(ctx, cfg)
	if err != nil {
		slog.Error("Failed opening audit repository", "error", err)
		os.Exit(-1)
	}
	audit := auditlog.NewService(auditRepo,
		auditlog.WithEnabled(cfg.AuditEnabled),
		auditlog.WithRetainCount(cfg.AuditRetain),
	)
	audit.StartSweeper(ctx)

	twoFactor := twofa.NewService(store, twofa.Config{
		Enabled: cfg.Enable2FA,
		Force:   cfg.Force2FA,
		Default: cfg.Default2FA,
	}, logger)

	validationSvc := validation.NewService(store, validation.Config{
		Enabled:      cfg.EnableValidation,
		Expiry:       cfg.ValidationExpiry,
		ExcludeRoles: cfg.ValidationExcludeRoles,
	}, logger)

	// A replaced identifier has never been proven reachable, so the user
	// has to validate again
	gw.OnIdentifierChanged(func(ctx context.Context, userID uuid.UUID, channelID, identifier string) error {
		return validationSvc.ForceValidation(ctx, userID)
	})

	// Session establishment belongs to the host application. The daemon
	// records the passwordless login so the host can pick it up.
	authenticator := passwordless.AuthenticatorFunc(func(ctx context.Context, userID uuid.UUID) error {
		slog.Info("Passwordless login verified", "user_id", userID)
		return nil
	})
	passwordlessSvc := passwordless.NewService(gw, authenticator, passwordless.Config{
		Enabled:     cfg.EnablePasswordless,
		RedirectURL: cfg.LoginRedirect,
	}, logger)

	gateService := gate.NewService(store, gw, codes, tracker, twoFactor, validationSvc,
		passwordlessSvc, audit, gate.Config{DefaultChannel: cfg.GatewayID}, logger)

	tokens := token.NewService([]byte(cfg.Token.Secret), "otpd",
		time.Duration(cfg.Token.TTLSeconds)*time.Second)

	limits := ratelimit.DefaultConfig()
	limits.EndpointLimits = map[string]ratelimit.EndpointLimit{
		"POST /api/otp/request": {Capacity: 10, RefillRate: 10.0 / 60.0},
		"POST /api/otp/verify":  {Capacity: 20, RefillRate: 20.0 / 60.0},
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.NewMiddleware(limits).Handler)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Mount("/api", api.Handler(api.NewHandle(gateService, tokens)))

	server := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed shutting down server", "error", err)
		}
	}()

	slog.Info("Starting OTP gating service", "addr", cfg.Server.Addr,
		"gateway", cfg.GatewayID, "sandbox", cfg.Sandbox)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(-1)
	}
}

func buildChannel(cfg config.Config, notices *notification.Manager, logger *slog.Logger) (gateway.Channel, error) {
	switch cfg.GatewayID {
	case "phone":
		return gateway.NewPhoneChannel(gateway.TwilioConfig{
			AccountSid:    cfg.Twilio.AccountSid,
			AuthToken:     cfg.Twilio.AuthToken,
			From:          cfg.Twilio.From,
			CountryPrefix: cfg.Twilio.CountryPrefix,
		}, notices, logger), nil
	default:
		return gateway.NewEmailChannel(gateway.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			TLS:      cfg.SMTP.TLS,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, notices, logger)
	}
}

func buildAttemptRepository(ctx context.Context, cfg config.Config, store userstore.UserStore, ttl time.Duration) (attempt.Repository, error) {
	if !cfg.Redis.Enabled {
		return attempt.NewMetaRepository(store), nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	slog.Info("Attempt tracking backed by redis", "addr", cfg.Redis.Addr)
	return attempt.NewRedisRepository(client, ttl), nil
}

func buildAuditRepository(ctx context.Context, cfg config.Config) (auditlog.Repository, error) {
	if !cfg.Postgres.Enabled {
		return auditlog.NewFileRepository(cfg.DataDir)
	}
	pool, err := pgxpool.New(ctx, cfg.Postgres.URI)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	repo := auditlog.NewPgRepository(pool)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	slog.Info("Audit log backed by postgres")
	return repo, nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"kitchenalert/backend/internal/cache"
	"kitchenalert/backend/internal/catalog"
	"kitchenalert/backend/internal/config"
	"kitchenalert/backend/internal/device"
	"kitchenalert/backend/internal/domain"
	"kitchenalert/backend/internal/events"
	"kitchenalert/backend/internal/httpapi"
	"kitchenalert/backend/internal/localstore"
	"kitchenalert/backend/internal/logging"
	"kitchenalert/backend/internal/metrics"
	"kitchenalert/backend/internal/realtime"
	"kitchenalert/backend/internal/remotesync"
	"kitchenalert/backend/internal/service"
	"kitchenalert/backend/internal/store"
	"kitchenalert/backend/internal/store/memory"
	mongostore "kitchenalert/backend/internal/store/mongo"
	pgstore "kitchenalert/backend/internal/store/postgres"
	redisstore "kitchenalert/backend/internal/store/redis"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "main")

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		log.WithError(err).Warnf("unknown TIMEZONE %q, using UTC", cfg.Timezone)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 6)

	var kv localstore.KV
	if cfg.LocalStorePath != "" {
		sqlite, err := localstore.OpenSQLite(cfg.LocalStorePath)
		if err != nil {
			log.Fatalf("open local store %s: %v", cfg.LocalStorePath, err)
		}
		kv = sqlite
		log.WithField("path", cfg.LocalStorePath).Info("local store: sqlite")
	} else {
		kv = localstore.NewMemoryKV()
		log.Warn("local store: in-memory, state is lost on restart")
	}
	mirror := localstore.NewMirror(kv)
	closers = append(closers, mirror.Close)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("load catalog: %v", err)
	}

	remote, backend, err := openRemote(ctx, cfg, log)
	if err != nil {
		log.Fatalf("remote store: %v", err)
	}
	closers = append(closers, remote.Close)

	reports := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).Warn("redis unavailable, using noop report cache")
			_ = redisCache.Close()
		} else {
			reports = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("report cache: redis")
		}
	}

	publisher := events.Publisher(events.Noop{})
	if cfg.AMQPURL != "" {
		rabbit, err := events.DialRabbit(cfg.AMQPURL)
		if err != nil {
			log.WithError(err).Warn("rabbitmq unavailable, events disabled")
		} else {
			publisher = rabbit
			log.Info("events: rabbitmq")
		}
	}
	closers = append(closers, publisher.Close)

	collector := metrics.New()
	hub := realtime.NewHub(cfg.AllowedOrigin, logging.Component(logger, "realtime"))
	dispatcher := device.New(cfg.DeviceTimeout(), logging.Component(logger, "device"))

	svc, err := service.New(ctx, cat, mirror, dispatcher, service.Options{
		RestaurantName: cfg.RestaurantName,
		RestaurantID:   cfg.RestaurantID,
		Location:       loc,
		DeviceAddress:  cfg.KitchenDeviceAddr,
		ReportTTL:      cfg.ReportCacheTTL(),
		Log:            logging.Component(logger, "service"),
		Metrics:        collector,
		Events:         publisher,
		Hub:            hub,
		Reports:        reports,
	})
	if err != nil {
		log.Fatalf("restore local state: %v", err)
	}

	syncer := remotesync.New(remote, svc, mirror, remotesync.Options{
		RestaurantID:  cfg.RestaurantID,
		Backend:       backend,
		Debounce:      cfg.SyncDebounce(),
		DrainInterval: cfg.OutboxDrainInterval(),
		Log:           logging.Component(logger, "sync"),
		Metrics:       collector,
	})
	svc.SetReplicator(syncer)

	if seeded, err := mirror.SeedUsers(ctx, seedAccounts(cfg)); err != nil {
		log.WithError(err).Warn("seed user accounts failed")
	} else if seeded > 0 {
		log.WithField("count", seeded).Info("seeded user accounts")
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, mirror)
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		Hub:           hub,
		Metrics:       collector,
		Log:           logging.Component(logger, "http"),
	})

	runCtx, stopRun := context.WithCancel(context.Background())
	go svc.Run(runCtx)
	syncer.Start(runCtx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.Address(), "remote": backend}).Info("kitchen alert backend listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	if err := syncer.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("final outbox drain incomplete, orders stay queued locally")
	}
	stopRun()
	hub.Close()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.WithError(err).Warn("close error")
		}
	}

	log.Info("server stopped")
}

// openRemote picks the configured remote document store. A backend that is
// down at startup is still used: the drivers reconnect on their own, queued
// orders stay in the local outbox and the subscription retries with
// backoff. The in-process store is only for runs with no backend set.
func openRemote(ctx context.Context, cfg config.Config, log *logrus.Entry) (store.DocumentStore, string, error) {
	var (
		remote  remoteStore
		backend string
	)
	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(cfg.DatabaseURL)
		if err != nil {
			return nil, "", fmt.Errorf("open postgres: %w", err)
		}
		remote, backend = pg, "postgres"
	case cfg.MongoURI != "":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, "", fmt.Errorf("open mongodb: %w", err)
		}
		remote, backend = mg, "mongo"
	case cfg.RedisAddr != "":
		remote, backend = redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), "redis"
	default:
		log.Info("remote store: in-memory")
		return memory.New(), "memory", nil
	}

	pingCtx, cancel := context.WithTimeout(ctx, remotePingTimeout)
	defer cancel()
	if err := remote.Ping(pingCtx); err != nil {
		log.WithError(err).WithField("backend", backend).Warn("remote store unreachable, orders queue locally until it recovers")
	} else {
		log.WithField("backend", backend).Info("remote store connected")
	}
	return remote, backend, nil
}

const remotePingTimeout = 5 * time.Second

type remoteStore interface {
	store.DocumentStore
	Ping(ctx context.Context) error
}

// seedAccounts returns the first-run accounts. Passwords are stored as
// given and upgraded to bcrypt hashes on first load.
func seedAccounts(cfg config.Config) []domain.UserAccount {
	accounts := make([]domain.UserAccount, 0, 2)
	if cfg.SeedManagerPassword != "" {
		accounts = append(accounts, domain.UserAccount{Username: "manager", Password: cfg.SeedManagerPassword, Role: domain.RoleManager, Active: true})
	}
	if cfg.SeedStaffPassword != "" {
		accounts = append(accounts, domain.UserAccount{Username: "staff", Password: cfg.SeedStaffPassword, Role: domain.RoleStaff, Active: true})
	}
	return accounts
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}

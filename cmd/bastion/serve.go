package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/api"
	"github.com/bastionhq/bastion/pkg/breaker"
	"github.com/bastionhq/bastion/pkg/cachestore"
	"github.com/bastionhq/bastion/pkg/config"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/ledger"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/rolecache"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/bastionhq/bastion/pkg/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Bastion server",
	Long: `Start the Bastion server: the webhook ingestion endpoint, the role
administration API, and the ops/introspection surface.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to YAML config file")
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	serveCmd.Flags().String("data-dir", "", "Data directory (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if cfgPath != "" {
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
		cfg.Webhook.SigningSecret = os.Getenv("BASTION_SIGNING_SECRET")
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("no config file given and environment incomplete: %w", err)
		}
	}

	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.ListenAddr = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	metrics.SetVersion(Version)
	log.Info("Bastion starting")

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Durable stores
	store, err := cachestore.NewBoltStore(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	store.StartSweeper(cfg.Cache.SweepInterval)
	metrics.RegisterComponent("cachestore", true, "")

	ledgerStore, err := ledger.NewBoltLedger(cfg.DataDir)
	if err != nil {
		return err
	}
	defer ledgerStore.Close()
	metrics.RegisterComponent("ledger", true, "")

	directory, err := rolecache.NewDirectory(cfg.DataDir)
	if err != nil {
		return err
	}
	defer directory.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	// One breaker shared by every cache store caller
	cb := breaker.New("cachestore", breaker.Config{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		Cooldown:          cfg.Breaker.Cooldown,
		HalfOpenSuccesses: cfg.Breaker.HalfOpenSuccesses,
		CallTimeout:       cfg.Breaker.CallTimeout,
		OnStateChange: func(name string, from, to types.BreakerStatus) {
			switch to {
			case types.BreakerOpen:
				broker.Publish(&events.Event{Type: events.EventBreakerOpened, Message: name})
			case types.BreakerClosed:
				broker.Publish(&events.Event{Type: events.EventBreakerClosed, Message: name})
			}
		},
	})

	cache := rolecache.New(store, cb, broker, rolecache.Config{
		RoleTTL:        cfg.Cache.RoleTTL,
		SessionSyncTTL: cfg.Cache.SessionSyncTTL,
	})
	roles := rolecache.NewService(directory, cache)

	orch := webhook.New(webhook.Config{
		SigningSecret:   cfg.Webhook.SigningSecret,
		SignatureWindow: cfg.Webhook.SignatureWindow,
		MaxRetries:      cfg.Webhook.MaxRetries,
		RetryBaseDelay:  cfg.Webhook.RetryBaseDelay,
		RetryMaxDelay:   cfg.Webhook.RetryMaxDelay,
		HandlerTimeout:  cfg.Webhook.HandlerTimeout,
	}, ledgerStore, cb, broker)
	metrics.RegisterComponent("webhook", true, "")

	collector := metrics.NewCollector(cb, orch, broker, 15*time.Second)
	collector.Start()
	defer collector.Stop()

	server := api.NewServer(orch, roles, cb, buildHandlerMux(roles))

	// Serve until signalled
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.ListenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Stop(ctx)
}

// rolePayload is the payload shape of user lifecycle events
type rolePayload struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// buildHandlerMux wires the built-in event handlers: user lifecycle
// events keep the role cache consistent with the identity system
func buildHandlerMux(roles *rolecache.Service) *webhook.Mux {
	mux := webhook.NewMux()

	refresh := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		var p rolePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.UserID == "" || p.Role == "" {
			return false, fmt.Errorf("event %s carries no usable role payload", event.EventID)
		}
		if err := roles.AssignRole(ctx, p.UserID, p.Role, map[string]string{
			"source_event": event.EventID,
		}); err != nil {
			return false, err
		}
		return true, nil
	}
	mux.Handle("user.created", refresh)
	mux.Handle("user.role_changed", refresh)

	invalidate := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		var p rolePayload
		if err := json.Unmarshal(event.Payload, &p); err != nil || p.UserID == "" {
			return false, fmt.Errorf("event %s carries no user ID", event.EventID)
		}
		return true, roles.InvalidateBatch(ctx, []string{p.UserID})
	}
	mux.Handle("user.deleted", invalidate)
	mux.Handle("session.revoked", invalidate)

	mux.HandleFallback(func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		logger := log.WithEventID(event.EventID)
		logger.Info().
			Str("type", event.Type).
			Str("correlation_id", correlationID).
			Msg("no handler for event type, acknowledged without effect")
		return true, nil
	})

	return mux
}

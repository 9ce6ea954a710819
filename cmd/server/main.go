package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"farmdash/config"
	"farmdash/database"
	"farmdash/pkg/logger"
	"farmdash/router"

	// Auth + Health
	authCtrlImp "farmdash/pkg/auth/controllerImp"
	healthCtrlImp "farmdash/pkg/health/controllerImp"

	// Field
	fieldCtrlImp "farmdash/pkg/field/controllerImp"
	fieldSvcImp "farmdash/pkg/field/serviceImp"

	// Ledger
	ledgerCtrlImp "farmdash/pkg/ledger/controllerImp"
	ledgerSvcImp "farmdash/pkg/ledger/serviceImp"

	// Telemetry
	"farmdash/pkg/telemetry"
	readingCtrlImp "farmdash/pkg/telemetry/controllerImp"
	"farmdash/pkg/telemetry/ingest"
	readingSvcImp "farmdash/pkg/telemetry/serviceImp"

	// Dashboard
	dashCtrlImp "farmdash/pkg/dashboard/controllerImp"
	"farmdash/pkg/store/repository"
	"farmdash/pkg/store/repositoryImp"
	"farmdash/pkg/subscription"
	"farmdash/pkg/viewmodel"
)

const shutdownGrace = 10 * time.Second

var (
	cfg config.AppConfig
	log *zap.Logger
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "farmdash",
		Short:        "Field ledger and telemetry dashboard server",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			envFiles, _ := cmd.Flags().GetStringSlice("env-file")
			if cfg, err = config.Load(envFiles...); err != nil {
				return err
			}
			log = logger.New(cfg.Env)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if log != nil {
				_ = log.Sync()
			}
		},
	}
	root.PersistentFlags().StringSlice("env-file", nil, "env files to load before the environment (default .env)")
	root.AddCommand(serveCmd(), simulateCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, when MQTT_BROKER is set, the reading ingest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	}
}

func openStore() (repository.Store, *gorm.DB, error) {
	opts := []repositoryImp.Option{
		repositoryImp.WithMaxAttempts(cfg.TxMaxAttempts),
		repositoryImp.WithLogger(log),
	}
	if cfg.Store == config.StoreMemory {
		return repositoryImp.NewMemory(opts...), nil, nil
	}
	db, err := database.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return repositoryImp.NewSQLite(db, opts...), db, nil
}

func serve(ctx context.Context) error {
	log.Info("starting",
		zap.String("env", cfg.Env),
		zap.String("store", cfg.Store),
		zap.String("tz", cfg.Timezone),
		zap.Int("window", cfg.TelemetryWindow),
	)
	loc := cfg.Location()

	// 1) Store
	store, db, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	// 2) Moisture bands
	bands := telemetry.DefaultBands()
	if cfg.BandsPath != "" {
		if bands, err = telemetry.LoadBands(cfg.BandsPath); err != nil {
			return fmt.Errorf("moisture bands: %w", err)
		}
		log.Info("moisture bands loaded", zap.String("path", cfg.BandsPath), zap.Int("crops", bands.Len()))
	}

	// 3) Services
	subOpts := subscription.Options{WindowSize: cfg.TelemetryWindow, SharedSensorID: cfg.SharedSensorID}
	fieldSvc := fieldSvcImp.NewFieldService(store, log)
	ledgerSvc := ledgerSvcImp.NewLedgerService(store, log)
	readingSvc := readingSvcImp.NewReadingService(store, subOpts, log)
	newAgg := func(uid string) *viewmodel.Aggregator {
		return viewmodel.New(store, uid, viewmodel.Options{
			WindowSize:     cfg.TelemetryWindow,
			SharedSensorID: cfg.SharedSensorID,
			Bands:          bands,
		}, log)
	}

	// 4) MQTT ingest (optional)
	var broker mqtt.Client
	if cfg.MQTTBroker != "" {
		if broker, err = ingest.Connect(cfg.MQTTBroker, cfg.MQTTClientID); err != nil {
			return err
		}
	}
	var brokerUp func() bool
	if broker != nil {
		brokerUp = broker.IsConnectionOpen
	}

	// 5) Router
	e := echo.New()
	e.HideBanner = true
	router.New(e, router.Controllers{
		Auth:      authCtrlImp.NewAuthController(),
		Field:     fieldCtrlImp.New(fieldSvc, loc),
		Ledger:    ledgerCtrlImp.New(ledgerSvc, loc),
		Reading:   readingCtrlImp.New(readingSvc, loc),
		Dashboard: dashCtrlImp.New(newAgg, loc, log),
		Health:    healthCtrlImp.NewHealthCtrl(store, db, brokerUp),
	}, router.Options{DevLogin: cfg.EnableDevLogin, Log: log})

	// 6) Run
	g, gctx := errgroup.WithContext(ctx)
	// Dashboard streams end with their request context.
	e.Server.BaseContext = func(net.Listener) context.Context { return gctx }
	g.Go(func() error {
		log.Info("listening", zap.String("port", cfg.Port))
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return e.Shutdown(sctx)
	})
	if broker != nil {
		sub := ingest.NewSubscriber(broker, cfg.MQTTTopic, readingSvc, log)
		g.Go(func() error { return sub.Run(gctx) })
	}
	err = g.Wait()
	log.Info("stopped", zap.Error(err))
	return err
}

func simulateCmd() *cobra.Command {
	var (
		fieldID  string
		sensorID string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish synthetic moisture readings for a field to MQTT_BROKER",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cfg.MQTTBroker == "" {
				return errors.New("simulate: MQTT_BROKER is not set")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			client, err := ingest.Connect(cfg.MQTTBroker, cfg.MQTTClientID+"-sim")
			if err != nil {
				return err
			}
			return ingest.NewSimulator(client, cfg.MQTTTopic, fieldID, sensorID, interval, log).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&fieldID, "field", "", "field id to publish for")
	cmd.Flags().StringVar(&sensorID, "sensor", "sim-01", "sensor id stamped on every reading")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "publish interval")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

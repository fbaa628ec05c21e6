package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crestron-home-bridge/internal/adapters/input/http"
	"crestron-home-bridge/internal/adapters/output/crestron"
	"crestron-home-bridge/internal/adapters/output/mqtt"
	"crestron-home-bridge/internal/adapters/output/persistence"
	"crestron-home-bridge/internal/adapters/output/registry"
	"crestron-home-bridge/internal/config"
	"crestron-home-bridge/internal/domain/model"
	"crestron-home-bridge/internal/domain/service"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const maxSetupBackoff = 5 * time.Minute

var (
	configPath string
	hostFlag   string
	tokenFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "bridge",
	Short: "Bridge a Crestron Home hub to a Hue-compatible API",
	RunE:  runBridge,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Poll the hub and serve the HTTP API",
	RunE:  runBridge,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configured hub is reachable and the token is accepted",
	RunE:  runValidate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config.yaml)")
	validateCmd.Flags().StringVarP(&hostFlag, "host", "H", "", "hub host, overrides the options file")
	validateCmd.Flags().StringVarP(&tokenFlag, "token", "t", "", "API token, overrides the options file")
	rootCmd.AddCommand(runCmd, validateCmd)
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setup() (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(configPath, logrus.StandardLogger())
	if err != nil {
		return nil, nil, err
	}
	logger, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// loadOptions reads the options file, seeding it from the crestron config
// section when it has no host yet.
func loadOptions(ctx context.Context, cfg *config.Config, repo *persistence.YAMLOptionsRepository, log logrus.FieldLogger) (*model.Options, error) {
	opts, err := repo.Get(ctx)
	if err != nil {
		return nil, err
	}
	if opts.Host == "" && cfg.Crestron.Host != "" {
		opts.Host = cfg.Crestron.Host
		opts.APIToken = cfg.Crestron.APIToken
		log.Infof("Seeding options file %s from config", repo.Path())
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := repo.Save(ctx, opts); err != nil {
		return nil, err
	}
	return opts, nil
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	log := logger.WithField("component", "main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo := persistence.NewYAMLOptionsRepository(cfg.Crestron.OptionsFile)
	opts, err := loadOptions(ctx, cfg, repo, log)
	if err != nil {
		return err
	}

	entryID := cfg.Crestron.EntryID
	if entryID == "" {
		entryID = uuid.NewString()
	}

	newClient := crestron.Factory(logger.WithField("component", "crestron"))
	api := newClient(opts.Host, opts.APIToken)

	optionsSvc := service.NewOptionsService(repo, newClient, logger.WithField("component", "options"))
	integration := service.NewIntegration(entryID, *opts, api,
		registry.NewDeviceRegistry(), registry.NewEntityRegistry(), optionsSvc,
		logger.WithField("component", "integration"))

	if cfg.MQTT.Broker != "" {
		publisher, err := mqtt.NewPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, logger.WithField("component", "mqtt"))
		if err != nil {
			return err
		}
		defer publisher.Close()
		integration.UsePublisher(publisher)
	}

	if err := setupWithRetry(ctx, integration, log); err != nil {
		return err
	}
	defer func() {
		if err := integration.Unload(); err != nil {
			log.Warnf("Unload failed: %v", err)
		}
	}()

	err = config.WatchOptions(repo.Path(), logger.WithField("component", "options"), func(o model.Options) {
		if err := optionsSvc.Apply(ctx, o); err != nil {
			log.Errorf("Failed to apply options from file: %v", err)
		}
	})
	if err != nil {
		log.Warnf("Options file will not be watched: %v", err)
	}

	go integration.Coordinator().Run(ctx)

	server := http.NewServer(integration, logger.WithField("component", "http"))
	return server.ListenAndServe(ctx, cfg.Server.Addr())
}

// setupWithRetry retries a not-ready setup with exponential backoff until
// ctx is cancelled.
func setupWithRetry(ctx context.Context, integration *service.Integration, log logrus.FieldLogger) error {
	backoff := 10 * time.Second
	for {
		err := integration.Setup(ctx)
		if err == nil {
			return nil
		}
		if !errors.Is(err, service.ErrNotReady) {
			return err
		}
		log.Warnf("Crestron Home not ready, retrying in %s", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxSetupBackoff)
	}
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo := persistence.NewYAMLOptionsRepository(cfg.Crestron.OptionsFile)
	opts, err := repo.Get(ctx)
	if err != nil {
		return err
	}
	if hostFlag != "" {
		opts.Host = hostFlag
	} else if opts.Host == "" {
		opts.Host = cfg.Crestron.Host
	}
	if tokenFlag != "" {
		opts.APIToken = tokenFlag
	} else if opts.APIToken == "" {
		opts.APIToken = cfg.Crestron.APIToken
	}

	res, err := service.ValidateInput(ctx, crestron.Factory(logger), *opts, logger)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), service.FormErrorKey(err))
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d lights\n", res.Title, res.LightsCount)
	return nil
}

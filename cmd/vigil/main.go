// Command vigil runs the multi-site ingest/normalization/replication hub,
// or manages the local development database container.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/cuemby/vigil/pkg/auth"
	"github.com/cuemby/vigil/pkg/changelog"
	"github.com/cuemby/vigil/pkg/config"
	"github.com/cuemby/vigil/pkg/devdb"
	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/ingesthttp"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/merge"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/persist"
	"github.com/cuemby/vigil/pkg/pii"
	"github.com/cuemby/vigil/pkg/replication"
	"github.com/cuemby/vigil/pkg/security"
	"github.com/cuemby/vigil/pkg/store/age"
	"github.com/cuemby/vigil/pkg/store/bolt"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "vigil - multi-site ETL, normalization, and replication hub",
	Long: `vigil ingests field observations from multiple sites, canonicalizes and
deduplicates them into a shared graph, and replicates changes between
peers with CRDT-style conflict resolution.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"vigil version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devdbCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ingest HTTPS listener, persistence batcher, and replication agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var devdbCmd = &cobra.Command{
	Use:   "devdb",
	Short: "Manage the local development Postgres+AGE container",
}

var devdbStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the development database (docker compose up -d db)",
	RunE: func(cmd *cobra.Command, args []string) error {
		build, _ := cmd.Flags().GetBool("build")
		forceRecreate, _ := cmd.Flags().GetBool("force-recreate")
		timeoutSecs, _ := cmd.Flags().GetUint("timeout")
		retries, _ := cmd.Flags().GetInt("retries")
		workdir, _ := cmd.Flags().GetString("workdir")

		opts := devdb.DefaultStartOptions()
		opts.Build = build
		opts.ForceRecreate = forceRecreate
		opts.Timeout = time.Duration(timeoutSecs) * time.Second
		opts.Retries = retries
		opts.Workdir = workdir

		mgr := devdb.New(workdir)
		started, err := mgr.Start(context.Background(), opts)
		if err != nil {
			return fmt.Errorf("failed to start dev DB: %w", err)
		}
		if started {
			fmt.Println("Postgres+AGE dev container started (vigil will stop it).")
		} else {
			fmt.Println("Postgres+AGE dev container already running; not started.")
		}
		return nil
	},
}

var devdbStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the development database, if this tool started it",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := devdb.New("")
		if err := mgr.Stop(context.Background()); err != nil {
			return fmt.Errorf("failed to stop dev DB: %w", err)
		}
		fmt.Println("Postgres+AGE dev container stopped.")
		return nil
	},
}

var devdbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the development database is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr := devdb.New("")
		status, err := mgr.Status(context.Background())
		if err != nil {
			return fmt.Errorf("failed to query dev DB status: %w", err)
		}
		if !status.Present {
			fmt.Println("dev DB: not present")
			return nil
		}
		fmt.Printf("dev DB: present, running=%v, id=%s\n", status.Running, status.ID)
		return nil
	},
}

func init() {
	devdbStartCmd.Flags().Bool("build", false, "Build the image before bringing the service up")
	devdbStartCmd.Flags().Bool("force-recreate", false, "Force recreate containers")
	devdbStartCmd.Flags().Uint("timeout", 120, "Timeout in seconds for docker commands")
	devdbStartCmd.Flags().Int("retries", 2, "Number of retry attempts on failure")
	devdbStartCmd.Flags().String("workdir", "", "Working directory containing docker-compose.yml")

	devdbCmd.AddCommand(devdbStartCmd)
	devdbCmd.AddCommand(devdbStopCmd)
	devdbCmd.AddCommand(devdbStatusCmd)
}

func runServe() error {
	logger := log.WithComponent("vigil")

	settings, err := config.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to load config, using empty settings")
		settings = config.Settings{}
	}

	reg := metrics.New()
	registerer := prometheus.NewRegistry()
	reg.MustRegister(registerer)

	store, closeStore, err := openStore(settings)
	if err != nil {
		return err
	}
	defer closeStore()

	piiEngine, err := openPIIEngine(settings)
	if err != nil {
		return err
	}

	tlsConfig, err := security.BuildServerTLSConfig(settings.TLSCert, settings.TLSKey)
	if err != nil {
		logger.Error().Err(err).Str("cert", settings.TLSCert).Str("key", settings.TLSKey).
			Msg("vigil requires HTTPS with a valid, non-self-signed TLS 1.3 certificate; refusing to start")
		return err
	}

	batcher := persist.New(store, reg, persist.Config{
		ChannelCapacity: int(settings.PersistChannelCapacity),
		BatchSize:       int(settings.PersistBatchSize),
		FlushInterval:   time.Duration(settings.PersistFlushMS) * time.Millisecond,
	})
	defer batcher.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := startReplication(ctx, settings, store, reg); err != nil {
		logger.Warn().Err(err).Msg("replication not started")
	}

	server := ingesthttp.NewServer(ingesthttp.Config{
		Addr:            fmt.Sprintf("%s:%d", settings.Host, settings.Port),
		TLSConfig:       tlsConfig,
		Store:           store,
		Batcher:         batcher,
		Metrics:         reg,
		Gatherer:        registerer,
		PII:             piiEngine,
		CanonSalt:       settings.CanonSalt,
		RateLimitRPS:    float64(settings.RateLimitRPS),
		RateLimitBurst:  int(settings.RateLimitBurst),
		AutoProcessBulk: settings.AutoProcessBulk,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("ingest listener failed")
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(settings config.Settings) (graph.Store, func(), error) {
	mergeCfg := merge.Config{DefaultStrategy: merge.LastWriterWins}

	switch settings.StoreBackend {
	case "age":
		s, err := connectAgeWithRetry(settings)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		s, err := bolt.Open(settings.DataDir, mergeCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open local graph store: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	}
}

// connectAgeWithRetry attempts age.Connect up to settings.DBConnectRetries
// times, waiting settings.DBConnectBackoffMS between attempts, to ride out
// Postgres still starting up during local/container bring-up.
func connectAgeWithRetry(settings config.Settings) (*age.Store, error) {
	logger := log.WithComponent("vigil")

	retries := settings.DBConnectRetries
	if retries == 0 {
		retries = 1
	}
	backoff := time.Duration(settings.DBConnectBackoffMS) * time.Millisecond

	var lastErr error
	for attempt := uint32(0); attempt < retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		s, err := age.Connect(ctx, settings.DatabaseURL, settings.AgeGraph, merge.Config{DefaultStrategy: merge.LastWriterWins})
		cancel()
		if err == nil {
			return s, nil
		}
		lastErr = err
		logger.Warn().Err(err).Uint32("attempt", attempt+1).Msg("failed to connect to AGE store, retrying")
		if attempt+1 < retries {
			time.Sleep(backoff)
		}
	}
	return nil, fmt.Errorf("failed to connect to AGE store after %d attempts: %w", retries, lastErr)
}

func openPIIEngine(settings config.Settings) (*pii.Engine, error) {
	if settings.PIIMasterKeyHex == "" {
		return nil, fmt.Errorf("VIGIL_PII_MASTER_KEY_HEX is not set; vigil refuses to start without a PII protection key")
	}
	key, err := pii.ParseMasterKeyHex(settings.PIIMasterKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid PII master key: %w", err)
	}
	return pii.NewEngine(pii.PolicyConfig{DefaultAction: pii.ActionPassthrough}, key, settings.PIIKeyID)
}

// openChangeLog opens a durable, bbolt-backed change log under
// settings.DataDir so replication's history survives a restart; it falls
// back to an in-memory changelog.Log (still correct, just not durable
// across restarts) if the data directory can't be opened.
func openChangeLog(settings config.Settings) changelog.Recorder {
	boltLog, err := changelog.OpenBolt(settings.DataDir, settings.NodeOriginID)
	if err != nil {
		log.WithComponent("vigil").Warn().Err(err).Str("data_dir", settings.DataDir).
			Msg("failed to open durable change log, falling back to in-memory")
		return changelog.New(settings.NodeOriginID)
	}
	return boltLog
}

// startReplication wires a replication.Agent and Server from the
// comma-separated "host:port:sni" peer list, skipping entirely when no
// peers are configured.
func startReplication(ctx context.Context, settings config.Settings, store graph.Store, reg *metrics.Registry) error {
	if settings.Peers == "" {
		return nil
	}
	if settings.OIDCDiscoveryURL == "" {
		return fmt.Errorf("replication peers configured but VIGIL_OIDC_DISCOVERY_URL is not set")
	}
	if settings.PeerCAFile == "" {
		return fmt.Errorf("replication peers configured but VIGIL_PEER_CA_FILE is not set")
	}

	peers, err := parsePeers(settings.Peers, time.Duration(settings.SyncIntervalMS)*time.Millisecond)
	if err != nil {
		return err
	}

	oidcProvider := auth.NewProvider(settings.OIDCDiscoveryURL, settings.OIDCClientID, settings.OIDCClientSecret)
	if err := oidcProvider.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize OIDC provider: %w", err)
	}

	clientTLS, err := security.BuildClientTLSConfig(settings.TLSCert, settings.TLSKey, settings.PeerCAFile, "")
	if err != nil {
		return fmt.Errorf("failed to build replication client TLS config: %w", err)
	}

	localLog := openChangeLog(settings)
	resolver := merge.NewResolver(merge.Config{DefaultStrategy: merge.LastWriterWins})
	watermarks := replication.NewMemWatermarks()

	agent := replication.NewAgent(settings.NodeOriginID, oidcProvider, clientTLS, peers, localLog, store, resolver, watermarks, reg)
	agent.Start(ctx)

	serverTLS, err := security.BuildServerTLSConfig(settings.TLSCert, settings.TLSKey)
	if err != nil {
		return fmt.Errorf("failed to build replication server TLS config: %w", err)
	}
	ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", settings.ReplicationPort), serverTLS)
	if err != nil {
		return fmt.Errorf("failed to listen for replication peers on port %d: %w", settings.ReplicationPort, err)
	}

	server := replication.NewServer(oidcProvider, localLog, store, reg)
	go func() {
		if err := server.Serve(ctx, ln); err != nil {
			log.WithComponent("replication").Warn().Err(err).Msg("replication server stopped")
		}
	}()

	return nil
}

func parsePeers(spec string, defaultInterval time.Duration) ([]replication.PeerConfig, error) {
	var peers []replication.PeerConfig
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("invalid peer spec %q, expected host:port:sni", entry)
		}
		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid peer port in %q: %w", entry, err)
		}
		peers = append(peers, replication.PeerConfig{
			Host:         parts[0],
			Port:         port,
			SNIHostname:  parts[2],
			SyncInterval: defaultInterval,
		})
	}
	return peers, nil
}

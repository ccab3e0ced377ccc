package relayer

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-co-op/gocron/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mintrelay/mintrelay/core/account"
	"github.com/mintrelay/mintrelay/core/config"
	"github.com/mintrelay/mintrelay/metrics"
	"github.com/mintrelay/mintrelay/pkg/erc4337/bundler"
	"github.com/mintrelay/mintrelay/pkg/erc4337/preset"
	"github.com/mintrelay/mintrelay/pkg/ethrpc"
	"github.com/mintrelay/mintrelay/pkg/logger"
	"github.com/mintrelay/mintrelay/pkg/timekeeper"
	"github.com/mintrelay/mintrelay/storage"
	"github.com/mintrelay/mintrelay/version"
)

type RelayerStatus string

const (
	initStatus     RelayerStatus = "init"
	runningStatus  RelayerStatus = "running"
	shutdownStatus RelayerStatus = "shutdown"
)

func RunWithConfig(configPath string) error {
	relayerConfig, err := config.NewConfig(configPath)
	if err != nil {
		panic(fmt.Errorf("failed to parse config file: %s\nmake sure it exists and is a valid yaml file %w", configPath, err))
	}

	r, err := NewRelayer(relayerConfig)
	if err != nil {
		panic(fmt.Errorf("cannot initialize relayer from config: %w", err))
	}

	return r.Start(context.Background())
}

// Relayer owns the whole pipeline: RPC failover reads, account resolution,
// deployment, UserOperation building, bundler submission and the HTTP surface
// in front of it all.
type Relayer struct {
	logger logger.Logger
	config *config.Config

	db      storage.Storage
	cache   *bigcache.BigCache
	history *HistoryStore

	ethClient *ethclient.Client
	chainID   *big.Int

	reader   *ethrpc.FailoverReader
	resolver *account.Resolver
	deployer *account.Deployer
	builder  *preset.Builder

	metrics  *metrics.RelayMetrics
	registry *prometheus.Registry

	scheduler gocron.Scheduler

	status    RelayerStatus
	startedAt time.Time
	elapsing  *timekeeper.Elapsing
}

// NewRelayer creates a new Relayer with the provided config.
func NewRelayer(c *config.Config) (*Relayer, error) {
	cache, err := bigcache.New(context.Background(), bigcache.Config{
		// number of shards (must be a power of 2)
		Shards: 1024,

		// sender addresses are deterministic, a long window just bounds memory
		LifeWindow: 120 * time.Minute,

		// Interval between removing expired entries (clean up).
		CleanWindow: 5 * time.Minute,

		// used only in initial memory allocation
		MaxEntriesInWindow: 1000 * 10 * 60,

		// max entry size in bytes, used only in initial memory allocation
		MaxEntrySize: 64,

		// cache will not allocate more memory than this limit, value in MB
		HardMaxCacheSize: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot initialize cache storage: %w", err)
	}

	registry := prometheus.NewRegistry()
	relayMetrics := metrics.NewRelayMetrics(registry)

	sw := c.SmartWallet

	reader := ethrpc.NewFailoverReader(ethrpc.NewClient(), sw.EthRpcUrls, c.Logger)
	reader.SetAttemptObserver(relayMetrics.IncRPCAttempt)

	resolver := account.NewResolver(reader, sw.FactoryAddress, cache, c.Logger)

	var bundlerClient *bundler.Client
	if sw.BundlerURL != "" {
		bundlerClient = bundler.NewClient(sw.BundlerURL)
	}

	builder := preset.NewBuilder(resolver, reader, bundlerClient, preset.BuilderConfig{
		Entrypoint: sw.EntrypointAddress,
		Factory:    sw.FactoryAddress,
		Paymaster:  sw.PaymasterAddress,
		Token:      sw.TokenAddress,
		Owner:      ownerOrRelayer(c),
	}, c.Logger)

	return &Relayer{
		logger:   c.Logger,
		config:   c,
		cache:    cache,
		reader:   reader,
		resolver: resolver,
		builder:  builder,
		metrics:  relayMetrics,
		registry: registry,
		status:   initStatus,
		elapsing: timekeeper.NewElapsing(),
	}, nil
}

// ownerOrRelayer picks the account owner for factory deployments. With no
// explicit owner configured the relayer key owns the accounts it creates.
func ownerOrRelayer(c *config.Config) common.Address {
	if c.SmartWallet.OwnerAddress != (common.Address{}) {
		return c.SmartWallet.OwnerAddress
	}
	return c.RelayerAddress
}

// init dials the canonical write endpoint and wires the deployer. Both are
// optional at boot: endpoints answering without them return a configuration
// error instead.
func (r *Relayer) init(ctx context.Context) {
	r.initSentry()

	sw := r.config.SmartWallet
	if len(sw.EthRpcUrls) == 0 {
		r.logger.Warn("no eth rpc urls configured, chain-facing endpoints will report missing configuration")
		return
	}

	client, err := ethclient.Dial(sw.EthRpcUrls[0])
	if err != nil {
		r.logger.Errorf("cannot dial write endpoint %s: %v", sw.EthRpcUrls[0], err)
		return
	}
	r.ethClient = client

	if chainID, err := client.ChainID(ctx); err == nil {
		r.chainID = chainID
		if chainID.Cmp(config.MainnetChainID) == 0 {
			config.CurrentChainEnv = config.EthereumEnv
		}
	} else {
		r.logger.Warnf("cannot read chain id from %s: %v", sw.EthRpcUrls[0], err)
	}

	if r.config.RelayerPrivateKey != nil {
		r.deployer = account.NewDeployer(r.resolver, client, sw.FactoryAddress, ownerOrRelayer(r.config), r.config.RelayerPrivateKey, r.logger)
	}
}

// Open and setup our database
func (r *Relayer) initDB() error {
	var err error
	r.db, err = storage.NewWithPath(r.config.DbPath)
	if err != nil {
		return err
	}

	r.history = NewHistoryStore(r.db, r.logger)

	return r.db.Setup()
}

func (r *Relayer) startScheduler() error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	r.scheduler = scheduler

	_, err = scheduler.NewJob(
		gocron.DurationJob(time.Hour),
		gocron.NewTask(func() {
			pruned, err := r.history.Prune(r.config.HistoryRetention)
			if err != nil {
				r.logger.Warnf("history prune failed: %v", err)
				return
			}
			if pruned > 0 {
				r.logger.Infof("pruned %d operation records older than %s", pruned, r.config.HistoryRetention)
			}
		}),
	)
	if err != nil {
		return err
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if err := r.db.Vacuum(); err != nil {
				// badger returns an error when there was nothing to collect
				r.logger.Debugf("value log gc: %v", err)
			}
		}),
	)
	if err != nil {
		return err
	}

	// report the real elapsed delta rather than the nominal tick so the
	// counter stays honest when the scheduler falls behind
	r.elapsing.Reset()
	_, err = scheduler.NewJob(
		gocron.DurationJob(10*time.Second),
		gocron.NewTask(func() {
			r.metrics.AddUptime(float64(r.elapsing.Report().Milliseconds()))
		}),
	)
	if err != nil {
		return err
	}

	scheduler.Start()
	return nil
}

func (r *Relayer) Start(ctx context.Context) error {
	r.logger.Infof("starting relayer %s", version.Get())
	r.startedAt = time.Now()

	r.init(ctx)

	r.logger.Infof("initialize storage at %s", r.config.DbPath)
	if err := r.initDB(); err != nil {
		r.logger.Fatalf("failed to initialize storage: %v", err)
	}

	r.logger.Infof("starting background jobs")
	if err := r.startScheduler(); err != nil {
		r.logger.Fatalf("failed to start scheduler: %v", err)
	}

	r.logger.Infof("starting http server")
	httpServer := r.startHttpServer(ctx)
	r.status = runningStatus

	// Setup wait signal
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	r.logger.Infof("shutting down...")
	r.status = shutdownStatus

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Warnf("http server shutdown: %v", err)
	}
	if r.scheduler != nil {
		if err := r.scheduler.Shutdown(); err != nil {
			r.logger.Warnf("scheduler shutdown: %v", err)
		}
	}
	if err := r.db.Close(); err != nil {
		r.logger.Warnf("storage close: %v", err)
	}

	sentryFlushSafely(2 * time.Second)
	_ = r.logger.Sync()

	return nil
}

func (r *Relayer) IsShutdown() bool {
	return r.status == shutdownStatus
}

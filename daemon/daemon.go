// Package daemon assembles xswapd from its config: chain adapters, resolver
// gates, the order store, the action journal, alerting, the coordinator and
// the JSON-RPC server.
package daemon

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	jsonrpc "github.com/catalogfi/xswap/daemon/rpc"
	"github.com/catalogfi/xswap/daemon/types"
	"github.com/catalogfi/xswap/pkg/alert"
	"github.com/catalogfi/xswap/pkg/chain"
	"github.com/catalogfi/xswap/pkg/chain/ethchain"
	"github.com/catalogfi/xswap/pkg/chain/movechain"
	"github.com/catalogfi/xswap/pkg/chain/simchain"
	"github.com/catalogfi/xswap/pkg/coordinator"
	"github.com/catalogfi/xswap/pkg/gate"
	"github.com/catalogfi/xswap/pkg/reconcile"
	"github.com/catalogfi/xswap/pkg/store"
	"github.com/catalogfi/xswap/pkg/swap"
	"github.com/catalogfi/xswap/pkg/swap/hashlock"
	"github.com/catalogfi/xswap/utils"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Chains served by a simulated daemon without a chain registry.
var DefaultSimChains = []swap.Chain{"sim_a", "sim_b"}

type Daemon struct {
	Core   types.CoreConfig
	Server jsonrpc.RPC

	store  store.Store
	clock  *simchain.Clock
	logger *zap.Logger
}

// New wires every component described by cfg. With simulate set every chain
// of the registry is replaced by an in-memory ledger with a faucet.
func New(ctx context.Context, cfg utils.Config, simulate bool, logger *zap.Logger) (*Daemon, error) {
	d := &Daemon{logger: logger}

	dsn := cfg.DB
	if dsn == "" {
		dsn = utils.DefaultStorePath()
	}
	str, err := store.NewStore(store.Dialector(dsn), &gorm.Config{
		NowFunc: func() time.Time { return time.Now().UTC() },
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	d.store = str

	journal := coordinator.NewMemoryJournal()
	if cfg.Redis != "" {
		if journal, err = coordinator.NewRedisJournal(cfg.Redis); err != nil {
			d.Close()
			return nil, fmt.Errorf("redis journal: %w", err)
		}
	}

	alerter, err := alert.New(cfg.Alerts, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	var adapters chain.Registry
	if simulate {
		d.clock = simchain.NewClock(time.Now())
		adapters = simulated(cfg, d.clock)
	} else {
		keys, err := utils.LoadKeys(cfg.Mnemonic)
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("load keys: %w", err)
		}
		if adapters, err = dial(ctx, cfg, keys, logger); err != nil {
			d.Close()
			return nil, err
		}
	}

	gates, err := gatesOf(cfg, adapters, logger)
	if err != nil {
		d.Close()
		return nil, err
	}

	opts, err := Options(cfg)
	if err != nil {
		d.Close()
		return nil, err
	}
	coordCfg := coordinator.Config{
		Adapters:   adapters,
		Gates:      gates,
		Reconciler: reconcile.New(reconcile.DefaultOptions(), logger),
		Store:      str,
		Journal:    journal,
		Alerter:    alert.NewFrequencyLimited(alerter, time.Minute),
		Logger:     logger,
	}
	if d.clock != nil {
		coordCfg.Clock = d.clock
	}
	coord, err := coordinator.New(coordCfg, opts)
	if err != nil {
		d.Close()
		return nil, err
	}

	d.Core = types.CoreConfig{
		Coordinator: coord,
		Gates:       gates,
		Store:       str,
		Journal:     journal,
		EnvConfig:   cfg,
		Logger:      logger,
	}
	if d.Server, err = jsonrpc.NewRpcServer(d.Core); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// Options translates the coordinator section of the config.
func Options(cfg utils.Config) (coordinator.Options, error) {
	opts := coordinator.DefaultOptions()
	if cfg.PoolSize > 0 {
		opts = opts.WithPoolSize(cfg.PoolSize)
	}
	if cfg.Confirmations > 0 {
		opts = opts.WithConfirmations(cfg.Confirmations)
	}
	if cfg.PollInterval > 0 {
		opts = opts.WithPollInterval(cfg.PollInterval)
	}

	switch {
	case cfg.DepositFixed != "" && cfg.DepositBps > 0:
		return opts, fmt.Errorf("depositFixed and depositBps are exclusive")
	case cfg.DepositFixed != "":
		amount, ok := new(big.Int).SetString(cfg.DepositFixed, 10)
		if !ok || amount.Sign() < 0 {
			return opts, fmt.Errorf("invalid depositFixed %q", cfg.DepositFixed)
		}
		opts = opts.WithDeposit(coordinator.FixedDeposit(amount))
	case cfg.DepositBps > 0:
		opts = opts.WithDeposit(coordinator.BpsDeposit(cfg.DepositBps))
	}

	for name, cc := range cfg.Chains {
		min, max, err := cc.Limits()
		if err != nil {
			return opts, fmt.Errorf("%s: %w", name, err)
		}
		if min != nil || max != nil {
			opts = opts.WithLimits(swap.Chain(name), coordinator.Limits{Min: min, Max: max})
		}
	}
	return opts, nil
}

func simulated(cfg utils.Config, clock *simchain.Clock) chain.Registry {
	adapters := chain.Registry{}
	if len(cfg.Chains) == 0 {
		for _, name := range DefaultSimChains {
			adapters[name] = simchain.New(name, clock, simchain.DefaultOptions().WithFaucet())
		}
		return adapters
	}
	for name, cc := range cfg.Chains {
		opts := simchain.DefaultOptions().WithFaucet().WithAuthorization(cc.RequiresAuthorization, true)
		if f, err := hashlock.ParseFunc(cc.HashFunc); err == nil {
			opts = opts.WithHashFunc(f)
		}
		adapters[swap.Chain(name)] = simchain.New(swap.Chain(name), clock, opts)
	}
	return adapters
}

func dial(ctx context.Context, cfg utils.Config, keys utils.Keys, logger *zap.Logger) (chain.Registry, error) {
	if len(cfg.Chains) == 0 {
		return nil, fmt.Errorf("no chains configured")
	}
	adapters := chain.Registry{}
	for name, cc := range cfg.Chains {
		ch := swap.Chain(name)
		hashFunc, err := hashlock.ParseFunc(cc.HashFunc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		key, err := keys.GetKey(cc.Kind, cfg.Account, 0)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}

		switch cc.Kind {
		case chain.KindEVM:
			if !common.IsHexAddress(cc.Factory) {
				return nil, fmt.Errorf("%s: invalid factory address %q", name, cc.Factory)
			}
			opts := ethchain.NewOptions(new(big.Int).SetUint64(cc.ChainID), common.HexToAddress(cc.Factory)).
				WithHashFunc(hashFunc).
				WithFromBlock(cc.FromBlock)
			if cc.Resolver != "" {
				opts = opts.WithResolver(common.HexToAddress(cc.Resolver))
			}
			ecdsaKey, err := key.ECDSA()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			adapter, err := ethchain.Dial(ctx, ch, opts, ecdsaKey, cc.RPC, logger)
			if err != nil {
				return nil, err
			}
			adapters[ch] = adapter
		case chain.KindMove:
			if cc.ChainID > math.MaxUint8 {
				return nil, fmt.Errorf("%s: invalid chain id %d", name, cc.ChainID)
			}
			opts := movechain.NewOptions(uint8(cc.ChainID), cc.Module, cc.Ledger).WithHashFunc(hashFunc)
			if cc.CoinType != "" {
				opts = opts.WithCoinType(cc.CoinType)
			}
			adapter, err := movechain.Dial(ctx, ch, opts, key.Ed25519(), cc.RPC, logger)
			if err != nil {
				return nil, err
			}
			if cc.InitLedger {
				if err := adapter.Initialize(ctx); err != nil {
					return nil, fmt.Errorf("%s: initialize ledger: %w", name, err)
				}
			}
			adapters[ch] = adapter
		default:
			return nil, fmt.Errorf("%s: unsupported chain kind %q", name, cc.Kind)
		}
		logger.Info("chain ready", zap.String("chain", name), zap.String("kind", string(cc.Kind)))
	}
	return adapters, nil
}

func gatesOf(cfg utils.Config, adapters chain.Registry, logger *zap.Logger) (map[swap.Chain]*gate.Gate, error) {
	gates := map[swap.Chain]*gate.Gate{}
	for name, cc := range cfg.Chains {
		if !cc.RequiresAuthorization {
			continue
		}
		registry, ok := adapters[swap.Chain(name)].(gate.Registry)
		if !ok {
			return nil, fmt.Errorf("%s: %s ledgers have no resolver allowlist", name, cc.Kind)
		}
		opts := gate.DefaultOptions()
		if cfg.Confirmations > 0 {
			opts.Confirmations = cfg.Confirmations
		}
		gates[swap.Chain(name)] = gate.New(registry, opts, logger)
	}
	return gates, nil
}

// Run starts the coordinator and serves RPC until ctx is done. In flight
// orders are left in their current status and resume on the next start.
func (d *Daemon) Run(ctx context.Context, ready func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if d.clock != nil {
		go d.tick(ctx)
	}
	coord := d.Core.Coordinator
	if err := coord.Start(ctx); err != nil {
		return err
	}
	defer coord.Stop()

	errs := make(chan error, 1)
	go func() {
		errs <- d.Server.Run(ctx)
	}()
	if ready != nil {
		ready()
	}

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		return <-errs
	}
}

// tick keeps the simulated ledgers on wall time.
func (d *Daemon) tick(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.clock.Set(now)
		}
	}
}

func (d *Daemon) Close() error {
	if d.store == nil {
		return nil
	}
	return d.store.Close()
}

package main

import (
	"bufio"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/toychain/toychain/commands"
	"github.com/toychain/toychain/config"
	"github.com/toychain/toychain/consensus"
	"github.com/toychain/toychain/metrics"
	"github.com/toychain/toychain/miner"
	"github.com/toychain/toychain/model"
	"github.com/toychain/toychain/node"
	"github.com/toychain/toychain/store"
	"github.com/toychain/toychain/utils"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:   "toychain",
		Short: "A toy blockchain full node with pluggable PoW/PoA seals",
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to the config file")

	run := &cobra.Command{
		Use:   "run",
		Short: "Run the full node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(cfgPath)
		},
	}
	root.AddCommand(run)
	return root
}

func runNode(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer logger.Sync()
	logger.Info("effective config", zap.String("yaml", cfg.String()))

	mech, seal, pow, err := buildMechanism(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	vm := metrics.NewValidationMetrics(reg)
	n := node.NewFullNode(cfg, mech, logger, vm)
	logger.Info("node started", zap.String("id", n.ID()))

	st, err := store.Open(cfg.DataDir, logger)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.LoadChain(n.Chain(), mech); err != nil {
		return err
	}
	if err := n.Bus().Subscribe(node.TopicBlockAccepted, func(b *model.Block) {
		if err := st.SaveBlock(b); err != nil {
			logger.Error("persisting block", zap.String("hash", b.Hash), zap.Error(err))
		}
	}); err != nil {
		return errors.Wrap(err, "subscribe store")
	}
	if err := n.Bootstrap(seal); err != nil {
		return err
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				logger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	ctl := make(chan commands.Command)
	if pow != nil {
		go mineLoop(n, cfg, logger, ctl)
	}
	go readCommands(n, logger, ctl)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")
	return nil
}

// buildMechanism wires the configured seal mechanism and its sealing side.
// pow is non-nil only in mining mode.
func buildMechanism(cfg config.AppConfig, logger *zap.Logger) (model.SealMechanism, func(*model.Block) error, *consensus.ProofOfWork, error) {
	switch cfg.Mechanism {
	case config.MechanismPoW:
		pow := consensus.NewProofOfWork(cfg.Difficulty)
		m := miner.NewMiner(cfg.MinerWorkers, logger)
		seal := func(b *model.Block) error {
			_, err := m.Mine(b, make(chan commands.Command))
			return err
		}
		return pow, seal, pow, nil
	case config.MechanismPoA:
		createNew := false
		if _, err := os.Stat(cfg.AuthorityKeyFile); os.IsNotExist(err) {
			createNew = true
		}
		key, err := utils.ParseKeyFile(cfg.AuthorityKeyFile, createNew)
		if err != nil {
			return nil, nil, nil, err
		}
		auth := consensus.NewAuthority(key)
		return auth, auth.Seal, nil, nil
	default:
		return nil, nil, nil, errors.Errorf("unknown mechanism %q", cfg.Mechanism)
	}
}

// mineLoop keeps sealing candidate blocks over the pending pool until a STOP
// command arrives on ctl.
func mineLoop(n *node.FullNode, cfg config.AppConfig, logger *zap.Logger, ctl chan commands.Command) {
	m := miner.NewMiner(cfg.MinerWorkers, logger)
	for {
		candidate, err := n.CreateCandidateBlock()
		if err != nil {
			logger.Error("creating candidate", zap.Error(err))
			return
		}
		cmd, err := m.Mine(candidate, ctl)
		if err != nil {
			if cmd.Op == commands.STOP {
				logger.Info("mining stopped")
				return
			}
			// RESTART: the tip moved, mine a fresh candidate.
			continue
		}
		if err := n.HandleNewBlock(candidate); err != nil {
			logger.Warn("own block refused", zap.Error(err))
		}
	}
}

// readCommands feeds interactive commands from stdin into the mining loop.
func readCommands(n *node.FullNode, logger *zap.Logger, ctl chan commands.Command) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		cmd, err := commands.CreateCommand(scanner.Text())
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			continue
		}
		if cmd.Op == commands.SHOW {
			depth, _ := strconv.Atoi(cmd.Args[0])
			fmt.Print(n.Describe(depth))
			continue
		}
		ctl <- cmd
	}
}

package miner

import (
	"context"
	"math/big"
	"strconv"

	"github.com/pkg/errors"
	"github.com/toychain/toychain/commands"
	"github.com/toychain/toychain/model"
	"github.com/toychain/toychain/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Miner searches proof-of-work seal data for unsealed block templates.
type Miner struct {
	workers int
	log     *zap.Logger
}

// NewMiner builds a miner running the given number of parallel nonce-search
// workers.
func NewMiner(workers int, logger *zap.Logger) *Miner {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Miner{workers: workers, log: logger}
}

// Mine searches for seal data that brings the block's header hash below its
// target and seals the block with it. Mining can run for a long time; a
// command arriving on ctl interrupts the search, and the interrupting
// command is returned alongside a non-nil error. Worker w probes nonces
// w, w+N, w+2N, ... so the search space is covered without coordination.
func (m *Miner) Mine(b *model.Block, ctl chan commands.Command) (commands.Command, error) {
	if b.Target == nil {
		return commands.NewDefaultCommand(), errors.New("block has no target")
	}
	unsealed := b.UnsealedHeader()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	found := make(chan int64, m.workers)
	interrupted := make(chan commands.Command, 1)
	go func() {
		select {
		case cmd := <-ctl:
			interrupted <- cmd
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < m.workers; w++ {
		first := int64(w)
		g.Go(func() error {
			return m.search(gctx, unsealed, b.Target, first, int64(m.workers), found)
		})
	}
	searchErr := g.Wait()

	select {
	case nonce := <-found:
		if err := b.SetSealData(strconv.FormatInt(nonce, 10)); err != nil {
			return commands.NewDefaultCommand(), err
		}
		m.log.Debug("sealed block",
			zap.Int64("nonce", nonce),
			zap.String("hash", b.Hash),
			zap.Int64("height", b.Height))
		return commands.NewDefaultCommand(), nil
	default:
	}
	select {
	case cmd := <-interrupted:
		return cmd, errors.New("mining interrupted")
	default:
	}
	if searchErr != nil {
		return commands.NewDefaultCommand(), searchErr
	}
	return commands.NewDefaultCommand(), errors.New("failed to find any nonce")
}

// search probes nonces first, first+stride, ... and reports the first nonce
// whose header hash beats the target.
func (m *Miner) search(ctx context.Context, unsealed string, target *big.Int, first, stride int64, found chan<- int64) error {
	digest := new(big.Int)
	for nonce := first; nonce >= 0; nonce += stride {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		header := utils.EncodeAsStr([]string{unsealed, strconv.FormatInt(nonce, 10)}, utils.HeaderSep)
		if _, ok := digest.SetString(utils.Sha256TwoString(header), 16); !ok {
			return errors.New("header hash is not hex")
		}
		if digest.Cmp(target) < 0 {
			select {
			case found <- nonce:
			default:
			}
			return context.Canceled
		}
	}
	return errors.New("nonce space exhausted")
}

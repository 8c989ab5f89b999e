// hll-server is a TCP cardinality estimation service. Clients feed
// elements into named HyperLogLog sketches and read distinct-count
// estimates back, over an inline text protocol that works from netcat as
// well as from Redis client tooling.
//
// One Precision, One Seed
// =======================
//
// Every key in a server instance shares a single precision and hash seed,
// fixed at startup and carried in the snapshot file. This is a deliberate
// restriction: sketches are only mergeable when they agree on both, and a
// store where every pair of keys can always be unioned (HLL.COUNT k1 k2,
// HLL.MERGE) is worth far more than per-key tuning. Memory per key is
// 2^precision bytes; the default of 14 costs 16KB per key for a ~0.8%
// standard error.
//
// Concurrency Model
// =================
//
// The store maps names to live concurrent sketches. Shard locks cover
// only the name table; every register operation runs lock-free on the
// sketch itself, so parallel clients writing the same key contend on
// nothing but the CAS of a single atomic word.
//
// Durability
// ==========
//
// State is persisted as compressed snapshots. A background goroutine
// writes one whenever the store is dirty and the interval elapsed, a
// final snapshot runs at shutdown, and SAVE forces one synchronously.
// Losing a crash window of inserts merely widens the estimate until those
// elements are seen again; there is no journal to replay, so startup cost
// is one streaming load.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	hll "github.com/tomtomwombat/hyperloglockless"
)

type config struct {
	port             int
	maxConnections   int
	shutdownTimeout  time.Duration
	idleTimeout      time.Duration
	precision        uint8
	hashFamily       string
	seed             uint64
	snapshotPath     string
	snapshotInterval time.Duration
}

type application struct {
	config   config
	logger   *slog.Logger
	listener net.Listener
	store    *Store
	commands map[string]commandFunc
	metrics  *Metrics
	readyCh  chan struct{}
	scratch  sync.Pool
	dirty    atomic.Bool
	seed     uint64
	hasher   hll.Hasher64
}

// hasherFor maps the -hash flag to a hash family.
func hasherFor(name string) (hll.Hasher64, error) {
	switch name {
	case "xxhash":
		return hll.XXHasher{}, nil
	case "murmur3":
		return hll.Murmur3Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash family %q (want xxhash or murmur3)", name)
	}
}

func main() {
	var cfg config
	var precision uint
	var seed uint64

	flag.IntVar(&cfg.port, "port", 6479, "TCP server port")
	flag.IntVar(&cfg.maxConnections, "max-conn", 100, "Maximum concurrent connections")
	flag.DurationVar(&cfg.shutdownTimeout, "shutdown-timeout", 5*time.Second, "Graceful shutdown timeout")
	flag.DurationVar(&cfg.idleTimeout, "idle-timeout", 0, "Idle client connection timeout (0 for no timeout)")
	flag.UintVar(&precision, "precision", 14, "Sketch precision for every key (4-18, 2^p bytes per key)")
	flag.StringVar(&cfg.hashFamily, "hash", "xxhash", "Hash family: xxhash or murmur3")
	flag.Uint64Var(&seed, "seed", 0, "Hash seed for every key (0 draws a random seed on first boot)")
	flag.StringVar(&cfg.snapshotPath, "snapshot", "sketches.hls", "Snapshot file path")
	flag.DurationVar(&cfg.snapshotInterval, "snapshot-interval", 30*time.Second, "Background snapshot interval")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	if precision < hll.MinPrecision || precision > hll.MaxPrecision {
		logger.Error("invalid precision", "precision", precision)
		os.Exit(1)
	}
	cfg.precision = uint8(precision)

	hasher, err := hasherFor(cfg.hashFamily)
	if err != nil {
		logger.Error("invalid hash family", "error", err)
		os.Exit(1)
	}

	if seed == 0 {
		seed = rand.Uint64()
	}
	cfg.seed = seed

	app := &application{
		config:  cfg,
		logger:  logger,
		store:   NewStore(),
		metrics: &Metrics{},
		seed:    seed,
		hasher:  hasher,
	}
	app.commands = app.commandTable()

	// Restore state before any listener is open; the load replaces the
	// configured seed with the persisted one so old and new keys stay
	// mergeable.
	loaded, err := app.loadSnapshot()
	if err != nil {
		logger.Error("failed to load snapshot", "path", cfg.snapshotPath, "error", err)
		os.Exit(1) // refusing to run on a corrupt snapshot beats silently dropping it
	}
	if loaded {
		logger.Info("snapshot loaded", "path", cfg.snapshotPath, "keys", app.store.Len())
	}

	// Background snapshot loop: persist when something changed. The dirty
	// flag is swapped before writing so inserts landing mid-snapshot mark
	// the store dirty again for the next tick.
	go func() {
		ticker := time.NewTicker(cfg.snapshotInterval)
		defer ticker.Stop()

		for range ticker.C {
			if !app.dirty.Swap(false) {
				continue
			}
			start := time.Now()
			if err := app.saveSnapshot(); err != nil {
				logger.Error("background snapshot failed", "error", err)
				app.dirty.Store(true)
				continue
			}
			logger.Info("snapshot written", "keys", app.store.Len(), "duration", time.Since(start))
		}
	}()

	defer func() {
		if !app.dirty.Load() {
			return
		}
		logger.Info("writing final snapshot")
		if err := app.saveSnapshot(); err != nil {
			logger.Error("final snapshot failed", "error", err)
		}
	}()

	if err := app.serve(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

// Package loadtest drives the engine concurrently: a fixed set of
// goroutines racing INSERTs and DELETEs against overlapping keys, with
// latency percentiles reported at the end.
package loadtest

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/redixhumayun/databases/btree"
	"github.com/redixhumayun/databases/common"
	"github.com/redixhumayun/databases/common/benchmark"
)

// Op is one unit of work run against the engine by a loadtest goroutine.
type Op struct {
	Type common.TransactionType
	Key  uint32
	// Value is only meaningful for an INSERT op.
	Value uint32
}

// Config controls a loadtest run.
type Config struct {
	Engine *btree.Engine
	Log    logr.Logger

	// Ops, when non-empty, is run verbatim: one goroutine per entry.
	Ops []Op

	// The fields below generate Ops when Ops is empty, for a
	// configurable-scale variant of the fixture.
	NumKeys      uint32
	Distribution benchmark.KeyDistribution
	Concurrency  int
	Operations   int
	Seed         int64
}

// DefaultFixture reproduces the literal fixture: five INSERTs and one
// DELETE, racing against keys {3, 6, 9, 3, 12, 15}.
func DefaultFixture(engine *btree.Engine, log logr.Logger) Config {
	return Config{
		Engine: engine,
		Log:    log,
		Ops: []Op{
			{Type: common.TransactionInsert, Key: 3, Value: 3},
			{Type: common.TransactionInsert, Key: 6, Value: 6},
			{Type: common.TransactionInsert, Key: 9, Value: 9},
			{Type: common.TransactionInsert, Key: 3, Value: 30},
			{Type: common.TransactionInsert, Key: 12, Value: 12},
			{Type: common.TransactionDelete, Key: 15},
		},
	}
}

// Result summarizes a completed loadtest run.
type Result struct {
	TotalOps     int
	ErrorCount   int
	Duration     time.Duration
	Latency      benchmark.LatencyStats
	VisibleRows  []btree.VisibleRow
}

// Run executes cfg's operations concurrently (one goroutine per op, all at
// once when Ops is set, at most Concurrency at a time for a generated op
// stream otherwise), then returns every row visible at a transaction ID
// issued after the run, plus latency percentiles.
func Run(cfg Config) (*Result, error) {
	ops := cfg.Ops
	if len(ops) == 0 {
		ops = generateOps(cfg)
	}

	hist := benchmark.NewLatencyHistogram()
	var errCount int32
	var wg sync.WaitGroup
	var mu sync.Mutex

	limit := len(ops)
	if len(cfg.Ops) == 0 {
		limit = cfg.Concurrency
		if limit == 0 {
			limit = 6
		}
	}
	sem := make(chan struct{}, limit)

	start := time.Now()
	for _, op := range ops {
		wg.Add(1)
		sem <- struct{}{}
		go func(op Op) {
			defer wg.Done()
			defer func() { <-sem }()
			opStart := time.Now()
			var err error
			switch op.Type {
			case common.TransactionInsert:
				_, err = cfg.Engine.Insert(op.Key, op.Value)
			case common.TransactionDelete:
				_, err = cfg.Engine.Delete(op.Key)
			}
			latency := time.Since(opStart)

			mu.Lock()
			hist.Record(latency)
			mu.Unlock()

			if err != nil {
				cfg.Log.Error(err, "loadtest op failed", "type", op.Type.String(), "key", op.Key)
				mu.Lock()
				errCount++
				mu.Unlock()
			}
		}(op)
	}
	wg.Wait()
	duration := time.Since(start)

	xid, err := cfg.Engine.LatestXID()
	if err != nil {
		return nil, fmt.Errorf("loadtest: get latest xid: %w", err)
	}
	rows, err := cfg.Engine.SelectAll(xid)
	if err != nil {
		return nil, fmt.Errorf("loadtest: select_all: %w", err)
	}

	return &Result{
		TotalOps:    len(ops),
		ErrorCount:  int(errCount),
		Duration:    duration,
		Latency:     hist.Stats(),
		VisibleRows: rows,
	}, nil
}

func generateOps(cfg Config) []Op {
	numKeys := cfg.NumKeys
	if numKeys == 0 {
		numKeys = 100
	}
	concurrency := cfg.Concurrency
	if concurrency == 0 {
		concurrency = 6
	}
	operations := cfg.Operations
	if operations == 0 {
		operations = concurrency
	}
	dist := cfg.Distribution
	if dist == "" {
		dist = benchmark.DistUniform
	}

	keyGen := benchmark.NewKeyGenerator(numKeys, dist, cfg.Seed)
	ops := make([]Op, operations)
	for i := range ops {
		key := keyGen.NextKey()
		if i%6 == 5 {
			ops[i] = Op{Type: common.TransactionDelete, Key: key}
			continue
		}
		ops[i] = Op{Type: common.TransactionInsert, Key: key, Value: key}
	}
	return ops
}

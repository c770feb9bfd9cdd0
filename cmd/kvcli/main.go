// Command kvcli is the command-line driver for the B+-tree storage
// engine: one process invocation performs one operation against a
// database file, opening and cleanly closing it around the call.
package main

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/redixhumayun/databases/btree"
	"github.com/redixhumayun/databases/common/benchmark"
	"github.com/redixhumayun/databases/loadtest"
)

func main() {
	if err := run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(args []string) error {
	app := &cli.App{
		Name:  "kvcli",
		Usage: "a disk-backed B+-tree key-value store with MVCC and a write-ahead log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "db",
				Usage: "path to the database file",
				Value: "kv.db",
			},
			&cli.IntFlag{
				Name:  "verbosity",
				Usage: "structured log verbosity (0 = quiet, higher = more detail)",
				Value: 0,
			},
		},
		Commands: []*cli.Command{
			openCommand(),
			insertCommand(),
			deleteCommand(),
			selectCommand(),
			closeCommand(),
			loadtestCommand(),
		},
	}
	return app.Run(args)
}

func loggerFromContext(c *cli.Context) logr.Logger {
	verbosity := c.Int("verbosity")
	stdr.SetVerbosity(verbosity)
	return stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithValues("request_id", uuid.NewString())
}

func openEngine(c *cli.Context) (*btree.Engine, logr.Logger, error) {
	logger := loggerFromContext(c)
	cfg := btree.DefaultConfig(c.String("db"))
	cfg.Log = logger
	engine, err := btree.New(cfg)
	if err != nil {
		return nil, logger, fmt.Errorf("kvcli: open %s: %w", c.String("db"), err)
	}
	return engine, logger, nil
}

func openCommand() *cli.Command {
	return &cli.Command{
		Name:  "open",
		Usage: "create the database file and its WAL if they do not already exist",
		Action: func(c *cli.Context) error {
			engine, logger, err := openEngine(c)
			if err != nil {
				return err
			}
			defer engine.Close()
			logger.Info("opened database", "path", c.String("db"))
			return nil
		},
	}
}

func insertCommand() *cli.Command {
	return &cli.Command{
		Name:      "insert",
		Usage:     "insert or update a key-value pair",
		ArgsUsage: "<key> <value>",
		Action: func(c *cli.Context) error {
			key, value, err := parseKeyValue(c)
			if err != nil {
				return err
			}

			engine, logger, err := openEngine(c)
			if err != nil {
				return err
			}
			defer engine.Close()

			txID, err := engine.Insert(key, value)
			if err != nil {
				return fmt.Errorf("kvcli: insert %d=%d: %w", key, value, err)
			}
			logger.Info("inserted", "key", key, "value", value, "tx_id", txID)
			return nil
		},
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a key",
		ArgsUsage: "<key>",
		Action: func(c *cli.Context) error {
			key, err := parseKey(c, 0)
			if err != nil {
				return err
			}

			engine, logger, err := openEngine(c)
			if err != nil {
				return err
			}
			defer engine.Close()

			txID, err := engine.Delete(key)
			if err != nil {
				return fmt.Errorf("kvcli: delete %d: %w", key, err)
			}
			logger.Info("deleted", "key", key, "tx_id", txID)
			return nil
		},
	}
}

func selectCommand() *cli.Command {
	return &cli.Command{
		Name:  "select",
		Usage: "print every row visible at the latest transaction id",
		Action: func(c *cli.Context) error {
			engine, logger, err := openEngine(c)
			if err != nil {
				return err
			}
			defer engine.Close()

			xid, err := engine.LatestXID()
			if err != nil {
				return fmt.Errorf("kvcli: get latest xid: %w", err)
			}
			rows, err := engine.SelectAll(xid)
			if err != nil {
				return fmt.Errorf("kvcli: select_all: %w", err)
			}

			for _, row := range rows {
				fmt.Printf("%d -> %d\n", row.Key, row.Row.Data)
			}
			logger.Info("select_all complete", "tx_id", xid, "rows", len(rows))
			return nil
		},
	}
}

func closeCommand() *cli.Command {
	return &cli.Command{
		Name:  "close",
		Usage: "flush the database file and WAL to stable storage",
		Action: func(c *cli.Context) error {
			engine, logger, err := openEngine(c)
			if err != nil {
				return err
			}
			if err := engine.Close(); err != nil {
				return fmt.Errorf("kvcli: close: %w", err)
			}
			logger.Info("closed database", "path", c.String("db"))
			return nil
		},
	}
}

func loadtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "loadtest",
		Usage: "run a concurrent load fixture and report latency percentiles",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "default-fixture",
				Usage: "run the literal fixture (five INSERTs, one DELETE against keys {3,6,9,3,12,15})",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "distribution",
				Usage: "key distribution for a generated load: uniform, zipfian, sequential, latest",
				Value: string(benchmark.DistUniform),
			},
			&cli.IntFlag{
				Name:  "num-keys",
				Usage: "size of the key space for a generated load",
				Value: 100,
			},
			&cli.IntFlag{
				Name:  "concurrency",
				Usage: "number of concurrent goroutines for a generated load",
				Value: 6,
			},
			&cli.IntFlag{
				Name:  "operations",
				Usage: "total operations for a generated load",
				Value: 60,
			},
			&cli.Int64Flag{
				Name:  "seed",
				Usage: "key generator seed for a generated load",
				Value: 1,
			},
		},
		Action: func(c *cli.Context) error {
			engine, logger, err := openEngine(c)
			if err != nil {
				return err
			}
			defer engine.Close()

			var cfg loadtest.Config
			if c.Bool("default-fixture") {
				cfg = loadtest.DefaultFixture(engine, logger)
			} else {
				cfg = loadtest.Config{
					Engine:       engine,
					Log:          logger,
					NumKeys:      uint32(c.Int("num-keys")),
					Distribution: benchmark.KeyDistribution(c.String("distribution")),
					Concurrency:  c.Int("concurrency"),
					Operations:   c.Int("operations"),
					Seed:         c.Int64("seed"),
				}
			}

			result, err := loadtest.Run(cfg)
			if err != nil {
				return fmt.Errorf("kvcli: loadtest: %w", err)
			}

			fmt.Printf("ops=%d errors=%d duration=%s\n", result.TotalOps, result.ErrorCount, result.Duration)
			fmt.Printf("latency p50=%s p95=%s p99=%s\n", result.Latency.P50, result.Latency.P95, result.Latency.P99)
			for _, row := range result.VisibleRows {
				fmt.Printf("%d -> %d\n", row.Key, row.Row.Data)
			}
			return nil
		},
	}
}

func parseKeyValue(c *cli.Context) (key uint32, value uint32, err error) {
	if c.NArg() < 2 {
		return 0, 0, fmt.Errorf("kvcli: insert requires <key> <value>")
	}
	key, err = parseUint32(c.Args().Get(0))
	if err != nil {
		return 0, 0, err
	}
	value, err = parseUint32(c.Args().Get(1))
	if err != nil {
		return 0, 0, err
	}
	return key, value, nil
}

func parseKey(c *cli.Context, index int) (uint32, error) {
	if c.NArg() <= index {
		return 0, fmt.Errorf("kvcli: missing <key> argument")
	}
	return parseUint32(c.Args().Get(index))
}

func parseUint32(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("kvcli: invalid uint32 %q: %w", s, err)
	}
	return uint32(n), nil
}

// DOM storage engine CLI
// Drives the engine facade directly: put/get/update/remove/find/flush
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/nainya/domstore/internal/logger"
	"github.com/nainya/domstore/internal/metrics"
	"github.com/nainya/domstore/pkg/btree"
	"github.com/nainya/domstore/pkg/domstore"
	"github.com/nainya/domstore/pkg/engine"
)

var (
	dbPath   = flag.String("db", "domstore.dom", "DOM file path")
	logLevel = flag.String("log-level", "info", "debug, info, warn, error")
	pretty   = flag.Bool("pretty", true, "pretty-print log output")
	readOnly = flag.Bool("read-only", false, "open the engine read-only")
)

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	logger.InitGlobalLogger(logger.Config{Level: *logLevel, Pretty: *pretty})
	log := logger.GetGlobalLogger()
	met := metrics.NewMetrics()

	e, err := engine.Open(*dbPath, engine.Options{
		ReadOnly: *readOnly,
		Logger:   log,
		Metrics:  met,
	})
	if err != nil {
		log.Fatal("failed to open engine").Err(err).Send()
	}
	defer e.Close()
	log.LogEngineOpen(*dbPath)

	owner := e.NextOwner()
	cmd, rest := args[0], args[1:]

	if err := dispatch(e, owner, cmd, rest); err != nil {
		if errors.Is(err, engine.ErrKeyNotFound) {
			fmt.Fprintln(os.Stderr, "not found")
			os.Exit(1)
		}
		log.Error("command failed").Str("command", cmd).Err(err).Send()
		os.Exit(1)
	}

	log.LogEngineClose(*dbPath)
}

func dispatch(e *engine.Engine, owner domstore.Owner, cmd string, args []string) error {
	switch cmd {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("usage: put <key> <value>")
		}
		addr, err := e.Put(owner, []byte(args[0]), []byte(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("address=%d\n", addr)
		return nil

	case "get":
		if len(args) != 1 {
			return fmt.Errorf("usage: get <key>")
		}
		val, err := e.GetByKey(owner, []byte(args[0]))
		if err != nil {
			return err
		}
		fmt.Println(string(val))
		return nil

	case "update":
		if len(args) != 2 {
			return fmt.Errorf("usage: update <key> <value>")
		}
		return e.Update(owner, []byte(args[0]), []byte(args[1]))

	case "remove":
		if len(args) != 1 {
			return fmt.Errorf("usage: remove <key>")
		}
		return e.RemoveByKey(owner, []byte(args[0]))

	case "find-prefix":
		if len(args) != 1 {
			return fmt.Errorf("usage: find-prefix <prefix>")
		}
		vals, err := e.FindValues(owner, btree.IndexQuery{Kind: btree.Prefix, Key: []byte(args[0])})
		if err != nil {
			return err
		}
		for _, v := range vals {
			fmt.Println(string(v))
		}
		return nil

	case "flush":
		return e.Flush()

	case "sync":
		return e.Sync()

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: domstore [flags] <put|get|update|remove|find-prefix|flush|sync> [args]")
	flag.PrintDefaults()
}

// cuckooctl 是操作共享布谷鸟过滤器的命令行工具。
//
//	cuckooctl -config configs/config.toml put alice bob
//	cuckooctl -config configs/config.toml -int contains 42
//	cuckooctl -config configs/config.toml bench -n 100000 -c 32 -qps 5000
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/wyfcoding/cuckoo/bootstrap"
	"github.com/wyfcoding/cuckoo/config"
	"github.com/wyfcoding/cuckoo/cuckoo"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func usage(fs *flag.FlagSet) func() {
	return func() {
		out := fs.Output()
		fmt.Fprintf(out, "usage: cuckooctl [flags] <put|contains|delete|stats|reset|bench> [items...]\n\nflags:\n")
		fs.PrintDefaults()
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("cuckooctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = usage(fs)
	configPath := fs.String("config", "configs/config.toml", "path to config file")
	asInt := fs.Bool("int", false, "treat items as signed integers")
	printConfig := fs.Bool("print-config", false, "print the effective config with secrets masked")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	cmd, rest := fs.Arg(0), fs.Args()[1:]

	b := bootstrap.New("cuckooctl", version)
	cfg, err := b.LoadConfig(*configPath, false)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFailure
	}
	if *printConfig {
		config.PrintWithMask(cfg)
	}
	app, err := b.Build(cfg)
	if err != nil {
		return reportError(stderr, "init", err)
	}
	defer app.Close()

	f := app.Filter
	switch cmd {
	case "put", "contains", "delete":
		items, err := parseItems(rest, *asInt)
		if err != nil {
			fmt.Fprintf(stderr, "%v\n", err)
			return exitUsage
		}
		op := map[string]func(context.Context, cuckoo.Item) (bool, error){
			"put":      f.Put,
			"contains": f.Contains,
			"delete":   f.Delete,
		}[cmd]
		code := 0
		for i, item := range items {
			ok, err := op(ctx, item)
			if err != nil {
				if c := reportError(stderr, cmd+" "+rest[i], err); code == 0 {
					code = c
				}
				continue
			}
			fmt.Fprintf(stdout, "%s\t%t\n", rest[i], ok)
		}
		return code
	case "stats":
		st, err := f.Stats(ctx)
		if err != nil {
			return reportError(stderr, "stats", err)
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(st)
		return 0
	case "reset":
		if err := f.Reset(ctx); err != nil {
			return reportError(stderr, "reset", err)
		}
		return 0
	case "bench":
		opts, err := parseBenchFlags(rest, stderr)
		if err != nil {
			return exitUsage
		}
		res, err := runBench(ctx, f, opts)
		if err != nil && !errors.Is(err, context.Canceled) {
			return reportError(stderr, "bench", err)
		}
		res.print(stdout)
		return 0
	default:
		fs.Usage()
		return exitUsage
	}
}

func parseItems(args []string, asInt bool) ([]cuckoo.Item, error) {
	if len(args) == 0 {
		return nil, errors.New("no items given")
	}
	items := make([]cuckoo.Item, len(args))
	for i, a := range args {
		if !asInt {
			items[i] = cuckoo.Text(a)
			continue
		}
		n, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("item %q is not an integer: %w", a, err)
		}
		items[i] = cuckoo.Int(n)
	}
	return items, nil
}

// Command axiom is the reference host: it wires config, cache, compiler,
// optimizer, and vm together and runs one of the built-in demo programs
// (package demo) end to end, the way the teacher's own cmd/sentra wires
// its interpreter pipeline together.
//
// There is no lexer/parser in this module (§1 scope), so axiom cannot
// take a source file on the command line; -demo selects a program already
// expressed as an ast.Item tree. A real embedder wires its own frontend in
// front of compiler.Compile the same way this command wires demo.Registry.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kr/pretty"
	"github.com/mattn/go-isatty"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/pro-grammer-SD/axiom-sub000/internal/bytecode"
	"github.com/pro-grammer-SD/axiom-sub000/internal/cache"
	"github.com/pro-grammer-SD/axiom-sub000/internal/compiler"
	"github.com/pro-grammer-SD/axiom-sub000/internal/config"
	"github.com/pro-grammer-SD/axiom-sub000/internal/demo"
	"github.com/pro-grammer-SD/axiom-sub000/internal/optimizer"
	"github.com/pro-grammer-SD/axiom-sub000/internal/vm"
)

// registered cache drivers: modernc.org/sqlite (pure Go, the default),
// mattn/go-sqlite3 (cgo, faster, opt in via -cache-driver=sqlite3), and
// go-sql-driver/mysql, lib/pq, and go-mssqldb for a shared build-cache
// server reachable over the network instead of a local file.

type setFlags map[string]string

func (s setFlags) String() string { return "" }
func (s setFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("-set expects key=value, got %q", v)
	}
	s[k] = val
	return nil
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "axiom:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("axiom", flag.ContinueOnError)
	demoName := fs.String("demo", "fib", "built-in demo program to run (fib, sumloop, shapes)")
	arg := fs.Int64("n", 10, "numeric argument passed to the demo program")
	cacheDriver := fs.String("cache-driver", "sqlite", "database/sql driver name for the prototype cache")
	cacheDSN := fs.String("cache-dsn", "axiom-cache.db", "data source name for the prototype cache")
	noCache := fs.Bool("no-cache", false, "recompile even if a cached prototype exists")
	showProfile := fs.Bool("profile", false, "print profiler stats after running")
	debug := fs.Bool("debug", false, "pretty-print the compiled prototype before running")
	overrides := setFlags{}
	fs.Var(overrides, "set", "config override key=value, may be repeated")
	if err := fs.Parse(args); err != nil {
		return err
	}

	build, ok := demo.Registry()[*demoName]
	if !ok {
		return fmt.Errorf("unknown demo %q", *demoName)
	}
	program := build(*arg)

	cfg := config.Default()
	if len(overrides) > 0 {
		var errs []error
		cfg, errs = cfg.Overrides(overrides)
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, "axiom:", e)
		}
	}

	proto, err := loadOrCompile(program, *arg, *cacheDriver, *cacheDSN, *noCache, cfg)
	if err != nil {
		return err
	}

	if *debug {
		fmt.Fprintf(os.Stderr, "%# v\n", pretty.Formatter(proto))
	}

	ctx := context.Background()
	machine := vm.New(ctx, cfg)
	result, err := machine.Run(proto)
	if err != nil {
		return err
	}
	_ = result

	if *showProfile {
		printReport(machine.Profiler.Report())
	}
	return nil
}

// printReport banners the profiler dump in bold when stderr is an actual
// terminal, and leaves it plain when piped to a file or another process.
func printReport(report string) {
	if isatty.IsTerminal(os.Stderr.Fd()) {
		fmt.Fprintln(os.Stderr, "\x1b[1m--- profile ---\x1b[0m")
		fmt.Fprintln(os.Stderr, report)
		fmt.Fprintln(os.Stderr, "\x1b[1m---------------\x1b[0m")
		return
	}
	fmt.Fprintln(os.Stderr, report)
}

// loadOrCompile hashes the demo's identity (name + argument, standing in
// for source text — there is no source file behind a built-in demo) and
// consults the disk cache before falling back to a full
// compile-then-optimize pass.
func loadOrCompile(program demo.Program, arg int64, driver, dsn string, skipCache bool, cfg config.Config) (*bytecode.Prototype, error) {
	store, err := cache.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening prototype cache: %w", err)
	}
	defer store.Close()

	key := cache.Key([]byte(program.Name + ":" + strconv.FormatInt(arg, 10)))
	ctx := context.Background()

	if !skipCache {
		if proto, ok, err := store.Get(ctx, key); err == nil && ok {
			return proto, nil
		}
	}

	proto, errs := compiler.Compile(program.Items)
	if len(errs) > 0 {
		return nil, fmt.Errorf("compiling %s: %v", program.Name, errs[0])
	}
	optimizer.OptimizeWith(proto, cfg.Passes)

	if err := store.Put(ctx, key, proto); err != nil {
		fmt.Fprintln(os.Stderr, "axiom: warning: could not cache prototype:", err)
	}
	return proto, nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"riffstore/internal/config"
	"riffstore/internal/database"
	"riffstore/internal/logging"

	"github.com/sirupsen/logrus"
)

const usage = `Usage: riffstore [-config path] <command> [arguments]

Commands:
  init             create the database and schema
  stats            print download statistics
  search           search tracks (see riffstore search -h)
  display          list the most recent downloads with their files
  check            verify connectivity and schema completeness
  import FILE...   probe and record local media files
  scan [DIR]       import every supported file under DIR (default: library path)
  serve            run the JSON API
`

// app carries what every command needs.
type app struct {
	cfg    *config.Config
	store  *database.Manager
	logger *logrus.Logger
	out    io.Writer
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the TOML configuration file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	logger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		logrus.WithError(err).Fatal("Error configuring logging")
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	store, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Error initializing database")
	}
	defer store.Close()

	a := &app{cfg: cfg, store: store, logger: logger, out: os.Stdout}
	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		logger.WithError(err).Error("Command failed")
		store.Close()
		closer.Close()
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "init":
		return a.initStore(ctx)
	case "stats":
		return a.stats(ctx)
	case "search":
		return a.search(ctx, args)
	case "display":
		return a.display(ctx, args)
	case "check":
		return a.check(ctx)
	case "import":
		return a.importFiles(ctx, args)
	case "scan":
		return a.scan(ctx, args)
	case "serve":
		return a.serve(ctx)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

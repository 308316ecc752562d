package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/agentfacts/jsonstream/internal/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// errUsage marks a command line that could not be parsed.
var errUsage = errors.New("invalid usage")

func main() {
	configPath := flag.String("config", "", "Path to configuration file (defaults apply when empty)")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("jsonstream\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Build Time: %s\n", buildTime)
		fmt.Printf("  Git Commit: %s\n", gitCommit)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	initLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fs := afero.NewOsFs()
	switch args[0] {
	case "write":
		err = runWrite(ctx, cfg, fs, args[1:], os.Stdin, os.Stdout)
	case "patch":
		err = runPatch(ctx, cfg, fs, args[1:])
	case "spans":
		err = runSpans(ctx, cfg, args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		usage()
		os.Exit(2)
	}

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(2)
	}
	if errors.Is(err, errUsage) {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		stop()
		os.Exit(1)
	}
}

func usage() {
	out := flag.CommandLine.Output()
	fmt.Fprintf(out, "Usage: %s [-config path] <command> [flags]\n\n", os.Args[0])
	fmt.Fprintf(out, "Commands:\n")
	fmt.Fprintf(out, "  write   copy NDJSON records into an indexed JSON document\n")
	fmt.Fprintf(out, "  patch   rewrite an indexed value of a written document in place\n")
	fmt.Fprintf(out, "  spans   print the indexed spans of a document\n\n")
	flag.PrintDefaults()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func initLogger(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Documents may go to stdout, so logs default to stderr.
	var output io.Writer = os.Stderr
	if cfg.Output == "stdout" {
		output = os.Stdout
	}

	if cfg.Format == "text" {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339Nano
		log.Logger = log.Output(output)
	}

	log.Debug().Str("level", cfg.Level).Str("format", cfg.Format).Str("output", cfg.Output).Msg("Logger initialized")
}

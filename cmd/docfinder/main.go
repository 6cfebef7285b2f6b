package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/logger"
)

const usage = `usage: docfinder [-config FILE] COMMAND [ARGS]

commands:
  noise FILE                                  replace the noise-word set
  add FILE...                                 index documents, named by file base name
  find [-start N] [-count N] [-highlight] WORDS...
                                              search for documents
  complete TEXT                               complete the last word of TEXT
  content NAME                                print a document
  stats                                       print index counts
  snapshot                                    write a snapshot to every sink
  publish FILE...                             send documents to the ingest topic
  publish-noise FILE                          send a noise-word list to the ingest topic
`

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger.SetupWriter(os.Stderr, cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, flag.Args())
	stop()
	if err != nil {
		slog.Error("command failed", "code", apperrors.Code(err), "error", err)
		fmt.Fprintf(os.Stderr, "docfinder: %v\n", err)
	}
	os.Exit(apperrors.ExitCode(err))
}

func run(ctx context.Context, cfg *config.Config, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return apperrors.New(apperrors.ErrInvalidInput, "missing command")
	}
	name, args := args[0], args[1:]

	switch name {
	case "publish", "publish-noise":
		return runPublish(ctx, cfg, os.Stdout, name, args)
	}

	cmd, ok := commands[name]
	if !ok {
		fmt.Fprint(os.Stderr, usage)
		return apperrors.Newf(apperrors.ErrInvalidInput, "unknown command %q", name)
	}
	return runIndex(ctx, cfg, os.Stdout, cmd, args)
}

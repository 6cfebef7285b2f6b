package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/bootstrap"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/engine"
	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/ingest"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docfinder/pkg/kafka"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

type command func(ctx context.Context, e *engine.Engine, out io.Writer, args []string) error

var commands = map[string]command{
	"noise":    cmdNoise,
	"add":      cmdAdd,
	"find":     cmdFind,
	"complete": cmdComplete,
	"content":  cmdContent,
	"stats":    cmdStats,
	"snapshot": cmdSnapshot,
}

// runIndex loads the index, runs cmd against it and persists any change
// the command made.
func runIndex(ctx context.Context, cfg *config.Config, out io.Writer, cmd command, args []string) (err error) {
	rt, err := bootstrap.Open(ctx, cfg, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(); cerr != nil {
			slog.Error("closing index", "error", cerr)
		}
	}()

	// a command failing partway may already have applied changes
	cmdErr := cmd(ctx, rt.Engine, out, args)
	if err := rt.Persist(ctx, cfg); err != nil {
		return errors.Join(cmdErr, err)
	}
	return cmdErr
}

func cmdNoise(ctx context.Context, e *engine.Engine, out io.Writer, args []string) error {
	if len(args) != 1 {
		return apperrors.New(apperrors.ErrInvalidInput, "noise takes exactly one FILE")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, "reading noise words: %v", err)
	}
	if err := e.AddNoiseWords(ctx, string(data)); err != nil {
		return err
	}
	fmt.Fprintf(out, "noise words: %d\n", e.Stats().NoiseWords)
	return nil
}

func cmdAdd(ctx context.Context, e *engine.Engine, out io.Writer, args []string) error {
	if len(args) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "add needs at least one FILE")
	}
	docs, err := readDocuments(ctx, args)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for _, d := range docs {
		g.Go(func() error {
			return e.AddDocument(gctx, d.name, d.content)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for _, d := range docs {
		fmt.Fprintf(out, "added %s\n", d.name)
	}
	return nil
}

func cmdFind(ctx context.Context, e *engine.Engine, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("find", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	start := fs.Int("start", 0, "position of the first result to print")
	count := fs.Int("count", engine.DefaultPageCount, "number of results to print")
	highlight := fs.Bool("highlight", false, "bracket matched words")
	if err := fs.Parse(args); err != nil {
		return apperrors.Newf(apperrors.ErrInvalidInput, "find: %v", err)
	}

	query := strings.Join(fs.Args(), " ")
	results, err := e.Search(ctx, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}
	page, err := engine.Paginate(results, *start, *count)
	if err != nil {
		return err
	}

	terms := e.QueryTerms(query)
	for _, r := range page.Results {
		fmt.Fprintf(out, "%s: %d\n", r.Name, r.Score)
		for _, line := range r.Lines {
			if *highlight {
				line = engine.Highlight(line, terms)
			}
			fmt.Fprint(out, line)
		}
	}
	fmt.Fprintf(out, "-- %d-%d of %d", page.Start+1, page.Start+len(page.Results), page.Total)
	if page.Previous >= 0 {
		fmt.Fprintf(out, ", previous: -start %d", page.Previous)
	}
	if page.Next >= 0 {
		fmt.Fprintf(out, ", next: -start %d", page.Next)
	}
	fmt.Fprintln(out)
	return nil
}

func cmdComplete(ctx context.Context, e *engine.Engine, out io.Writer, args []string) error {
	completions, err := e.Complete(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	for _, c := range completions {
		fmt.Fprintln(out, c)
	}
	return nil
}

func cmdContent(ctx context.Context, e *engine.Engine, out io.Writer, args []string) error {
	if len(args) != 1 {
		return apperrors.New(apperrors.ErrInvalidInput, "content takes exactly one NAME")
	}
	content, err := e.DocContent(ctx, args[0])
	if err != nil {
		return err
	}
	_, err = io.WriteString(out, content)
	return err
}

func cmdStats(_ context.Context, e *engine.Engine, out io.Writer, _ []string) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(e.Stats())
}

func cmdSnapshot(ctx context.Context, e *engine.Engine, out io.Writer, _ []string) error {
	if err := e.Snapshot(ctx); err != nil {
		return apperrors.Newf(apperrors.ErrInternal, "snapshot: %v", err)
	}
	fmt.Fprintf(out, "snapshot written at generation %d\n", e.Stats().Generation)
	return nil
}

// runPublish sends documents or a noise-word list to the ingest topic for
// an indexer worker to apply.
func runPublish(ctx context.Context, cfg *config.Config, out io.Writer, name string, args []string) error {
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.DocumentIngest)
	defer producer.Close()
	return publish(ctx, ingest.NewPublisher(producer, cfg.Indexer.WriteAttempts), out, name, args)
}

func publish(ctx context.Context, pub *ingest.Publisher, out io.Writer, name string, args []string) error {
	if name == "publish-noise" {
		if len(args) != 1 {
			return apperrors.New(apperrors.ErrInvalidInput, "publish-noise takes exactly one FILE")
		}
		data, err := os.ReadFile(args[0])
		if err != nil {
			return apperrors.Newf(apperrors.ErrInvalidInput, "reading noise words: %v", err)
		}
		id, err := pub.PublishNoiseWords(ctx, string(data))
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "published noise words as %s\n", id)
		return nil
	}

	if len(args) == 0 {
		return apperrors.New(apperrors.ErrInvalidInput, "publish needs at least one FILE")
	}
	docs, err := readDocuments(ctx, args)
	if err != nil {
		return err
	}
	events := make([]ingest.Event, 0, len(docs))
	for _, d := range docs {
		events = append(events, ingest.NewDocumentEvent(d.name, d.content))
	}
	if err := pub.Publish(ctx, events...); err != nil {
		return err
	}
	for _, ev := range events {
		fmt.Fprintf(out, "published %s as %s\n", ev.Name, ev.ID)
	}
	return nil
}

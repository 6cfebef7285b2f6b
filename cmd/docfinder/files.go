package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/docfinder/internal/engine"
	apperrors "github.com/Adithya-Monish-Kumar-K/docfinder/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const readConcurrency = 8

type document struct {
	name    string
	content string
}

// docName names a document after its file, without directory or ".txt".
func docName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".txt")
}

// readDocuments reads paths concurrently, keeping their order. Two paths
// that map to the same document name are rejected, as is any document the
// engine would refuse, so a batch is indexed whole or not at all.
func readDocuments(ctx context.Context, paths []string) ([]document, error) {
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		name := docName(p)
		if prev, ok := seen[name]; ok {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "%s and %s both name document %q", prev, p, name)
		}
		seen[name] = p
	}

	docs := make([]document, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(readConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return apperrors.Newf(apperrors.ErrInvalidInput, "reading %s: %v", p, err)
			}
			docs[i] = document{name: docName(p), content: string(data)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, d := range docs {
		if err := engine.ValidateDocument(d.name, d.content); err != nil {
			return nil, apperrors.Newf(apperrors.ErrInvalidInput, "%s: %v", paths[i], err)
		}
	}
	return docs, nil
}

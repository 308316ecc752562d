package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/agentfacts/jsonstream/internal/config"
	"github.com/agentfacts/jsonstream/internal/index"
	"github.com/agentfacts/jsonstream/internal/ingest"
	"github.com/agentfacts/jsonstream/internal/jsonstream"
)

const shutdownTimeout = 10 * time.Second

func parseFlags(flags *flag.FlagSet, args []string) error {
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// runWrite copies NDJSON records into a new document.
func runWrite(ctx context.Context, cfg *config.Config, fs afero.Fs, args []string, stdin io.Reader, stdout io.Writer) (err error) {
	flags := flag.NewFlagSet("write", flag.ContinueOnError)
	inPath := flags.String("in", cfg.Input.Path, "NDJSON input file (- for stdin)")
	outPath := flags.String("out", cfg.Output.Path, "Output document (- for stdout)")
	docID := flags.String("doc", "", "Document id (generated when empty)")
	source := flags.String("source", cfg.Input.Source, "Source recorded in the document header")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	app, err := newApplication(cfg, fs)
	if err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = errors.Join(err, app.Stop(stopCtx))
	}()

	if err := app.Start(ctx); err != nil {
		return err
	}

	in := stdin
	if *inPath != "-" {
		f, err := fs.Open(*inPath)
		if err != nil {
			return fmt.Errorf("opening input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var w *jsonstream.StreamWriter
	if *outPath == "-" {
		opts := append(app.writerOptions(), jsonstream.WithName("stdout"))
		w, err = jsonstream.New(jsonstream.NewStream(bufio.NewWriter(stdout)), opts...)
	} else {
		w, err = jsonstream.Create(fs, *outPath, app.writerOptions()...)
	}
	if err != nil {
		return err
	}

	p := app.pipeline(ingest.PipelineConfig{
		DocumentID:    *docID,
		Source:        *source,
		RecordsKey:    cfg.Output.RecordsKey,
		MaxRecordSize: cfg.Input.MaxRecordSize,
		StopOnInvalid: cfg.Input.StopOnInvalid,
	})

	var summary *ingest.Summary
	err = w.Use(func(w *jsonstream.StreamWriter) error {
		var runErr error
		summary, runErr = p.Run(ctx, in, w)
		return runErr
	})

	if summary != nil {
		log.Info().
			Str("document_id", summary.DocumentID).
			Str("output", *outPath).
			Int("records", summary.Records).
			Int64("bytes", summary.Bytes).
			Msg("Document written")
	}
	return err
}

// runPatch rewrites one indexed value of a written document in place.
func runPatch(ctx context.Context, cfg *config.Config, fs afero.Fs, args []string) (err error) {
	flags := flag.NewFlagSet("patch", flag.ContinueOnError)
	docID := flags.String("doc", "", "Document id (required)")
	path := flags.String("path", "", "Indexed path, e.g. records[3] or record_count (required)")
	value := flags.String("value", "", "Replacement JSON value of the same encoded length (required)")
	outPath := flags.String("out", cfg.Output.Path, "Document file to patch")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	if *docID == "" || *path == "" || *value == "" {
		return fmt.Errorf("%w: -doc, -path and -value are required", errUsage)
	}
	if *outPath == "-" {
		return fmt.Errorf("%w: -out must name a document file", errUsage)
	}
	if !json.Valid([]byte(*value)) {
		return fmt.Errorf("invalid value %q: not a JSON value", *value)
	}

	store, err := index.NewStore(index.StoreConfig{DBPath: cfg.Index.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open span index: %w", err)
	}
	defer store.Close()

	span, err := store.Lookup(ctx, *docID, *path)
	if err != nil {
		return err
	}

	patcher, err := jsonstream.OpenPatcher(fs, *outPath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, patcher.Close())
	}()

	target := jsonstream.Span{Start: span.Start, End: span.End}
	raw := json.RawMessage(*value)
	if span.IsMember() {
		err = patcher.PatchEntry(target, span.Key, raw)
	} else {
		err = patcher.Patch(target, raw)
	}
	if err != nil {
		return err
	}

	log.Info().
		Str("document_id", *docID).
		Str("path", *path).
		Str("span", target.String()).
		Msg("Span patched")
	return nil
}

// runSpans prints the spans indexed for a document, or every indexed
// document when no id is given, as NDJSON.
func runSpans(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	flags := flag.NewFlagSet("spans", flag.ContinueOnError)
	docID := flags.String("doc", "", "Document id (lists documents when empty)")
	prefix := flags.String("prefix", "", "Only print spans whose path starts with prefix")
	limit := flags.Int("limit", 0, "Maximum number of spans (0 for all)")
	if err := parseFlags(flags, args); err != nil {
		return err
	}

	store, err := index.NewStore(index.StoreConfig{DBPath: cfg.Index.DBPath})
	if err != nil {
		return fmt.Errorf("failed to open span index: %w", err)
	}
	defer store.Close()

	enc := json.NewEncoder(out)

	if *docID == "" {
		docs, err := store.Documents(ctx)
		if err != nil {
			return err
		}
		for _, doc := range docs {
			if err := enc.Encode(doc); err != nil {
				return err
			}
		}
		return nil
	}

	spans, err := store.Query(ctx, index.QueryOptions{
		DocumentID: *docID,
		PathPrefix: *prefix,
		Limit:      *limit,
		OrderBy:    "start",
	})
	if err != nil {
		return err
	}
	if len(spans) == 0 {
		return fmt.Errorf("%w: no spans for document %s", index.ErrNotFound, *docID)
	}
	for _, span := range spans {
		if err := enc.Encode(span); err != nil {
			return err
		}
	}
	return nil
}

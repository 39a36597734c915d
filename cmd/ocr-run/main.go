// Command ocr-run processes one document in-process and prints the result.
//
//	ocr-run [flags] <file>
//
// Flags may also be set through OCR_* environment variables, e.g.
// OCR_LANGUAGE=ja. Backend settings come from the worker's environment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/adverant/nexus/ocr-consensus-worker/internal/app"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/config"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/logging"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/model"
	"github.com/adverant/nexus/ocr-consensus-worker/internal/orchestrator"
)

func main() {
	fs := ff.NewFlagSet("ocr-run")
	var (
		language   = fs.StringLong("language", "", "Document language (ja, en, ko, zh, zh-tw or a Tesseract code)")
		entities   = fs.BoolLong("entities", "Extract business entities")
		images     = fs.BoolLong("images", "Include normalized page images in the result")
		noCache    = fs.BoolLong("no-cache", "Do not reuse a cached result")
		noOrient   = fs.BoolLong("no-orientation", "Skip orientation correction")
		extract    = fs.BoolLong("extract", "Run field extraction on the OCR text")
		fieldsFile = fs.StringLong("fields", "", "Field configuration JSON to apply before extraction")
		export     = fs.StringLong("export", "", "Export extracted fields as csv or xlsx")
		out        = fs.StringLong("out", "", "Export destination (default stdout)")
		timeout    = fs.DurationLong("timeout", 10*time.Minute, "Give up waiting after this long")
	)

	if err := ff.Parse(fs, os.Args[1:], ff.WithEnvVarPrefix("OCR")); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	args := fs.GetArgs()
	if len(args) != 1 {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintln(os.Stderr, "error: exactly one input file is required")
		os.Exit(2)
	}
	if *export != "" && *export != "csv" && *export != "xlsx" {
		fmt.Fprintf(os.Stderr, "error: --export must be csv or xlsx, got %q\n", *export)
		os.Exit(2)
	}

	_ = godotenv.Load(".env")
	logging.SetLevel(envOr("LOG_LEVEL", "warn"))

	opts := model.Options{
		Language:        *language,
		ExtractEntities: *entities,
		UseCache:        !*noCache,
		ReturnImages:    *images,
	}
	if *noOrient {
		off := false
		opts.CheckOrientation = &off
	}

	run := runner{
		file:    args[0],
		opts:    opts,
		extract: *extract || *export != "",
		fields:  *fieldsFile,
		export:  *export,
		out:     *out,
	}
	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	if err := run.main(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type runner struct {
	file    string
	opts    model.Options
	extract bool
	fields  string
	export  string
	out     string
}

func (r runner) main(ctx context.Context) error {
	data, err := os.ReadFile(r.file)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	cfg.QueueBackend = "local"

	logger := logging.NewLogger("ocr-run")
	worker, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer worker.Shutdown(10 * time.Second)

	o := worker.Orchestrator
	if err := o.Start(); err != nil {
		return err
	}

	sub, err := o.Submit(ctx, data, r.opts)
	if err != nil {
		return err
	}
	view, err := wait(ctx, o, sub.TaskID)
	if err != nil {
		return err
	}
	if !r.extract || r.export == "" {
		if err := printJSON(os.Stdout, view); err != nil {
			return err
		}
	}
	if view.State != model.TaskDone || !r.extract {
		return taskFailure(view)
	}

	if r.fields != "" {
		raw, err := os.ReadFile(r.fields)
		if err != nil {
			return err
		}
		if _, err := o.ReplaceFieldsJSON(raw); err != nil {
			return err
		}
	}
	ext, err := o.SubmitExtraction(ctx, view.TaskID, r.opts.Language)
	if err != nil {
		return err
	}
	extView, err := wait(ctx, o, ext.TaskID)
	if err != nil {
		return err
	}
	if extView.State != model.TaskDone {
		return taskFailure(extView)
	}

	switch r.export {
	case "":
		return printJSON(os.Stdout, extView)
	case "csv":
		return r.write(func(w io.Writer) error { return o.ExportCSV(ctx, extView.TaskID, w) })
	default:
		return r.write(func(w io.Writer) error { return o.ExportXLSX(ctx, extView.TaskID, w) })
	}
}

func (r runner) write(fn func(io.Writer) error) error {
	if r.out == "" {
		return fn(os.Stdout)
	}
	f, err := os.Create(r.out)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// wait polls until the task reaches a terminal state.
func wait(ctx context.Context, o *orchestrator.Orchestrator, id string) (*orchestrator.StatusView, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		view, err := o.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if view.State.Terminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("task %s still %s: %w", id, strings.ToLower(string(view.State)), ctx.Err())
		case <-ticker.C:
		}
	}
}

func taskFailure(v *orchestrator.StatusView) error {
	if v.State == model.TaskDone {
		return nil
	}
	if v.Error != nil {
		return fmt.Errorf("task %s failed: %s", v.TaskID, v.Error.Message)
	}
	return fmt.Errorf("task %s failed", v.TaskID)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

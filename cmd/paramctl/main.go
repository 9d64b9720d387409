// Command paramctl applies parameter edits to a store-backed session through
// the orchestration core and prints the resulting state as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"paramflow/internal/blob"
	"paramflow/internal/config"
	"paramflow/internal/core"
	"paramflow/internal/definitions"
	"paramflow/internal/observability"
	"paramflow/internal/persistence"
	"paramflow/internal/session"
	"paramflow/pkg/domain"
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type assignments []string

func (a *assignments) String() string { return strings.Join(*a, ",") }

func (a *assignments) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*a = append(*a, v)
	return nil
}

type options struct {
	configPath      string
	definitionsPath string
	sets            assignments
	exports         assignments
	token           string
	dumpMetrics     bool
}

func cli(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("paramctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var opts options
	fs.StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	fs.StringVar(&opts.definitionsPath, "definitions", "", "path to the YAML parameter definitions")
	fs.Var(&opts.sets, "set", "parameter assignment id=value (repeatable)")
	fs.Func("export", "export id to fetch after committing (repeatable)", func(v string) error {
		opts.exports = append(opts.exports, v)
		return nil
	})
	fs.StringVar(&opts.token, "token", "", "auth token forwarded with export requests (defaults to the configured token)")
	fs.BoolVar(&opts.dumpMetrics, "metrics", false, "write the recorded commit metrics to stderr")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if opts.definitionsPath == "" {
		_, _ = fmt.Fprintln(stderr, "paramctl: -definitions is required")
		return 2
	}
	if err := run(context.Background(), opts, stdout, stderr); err != nil {
		_, _ = fmt.Fprintf(stderr, "paramctl: %v\n", err)
		return 1
	}
	return 0
}

type parameterReport struct {
	ID      string `json:"id"`
	Label   string `json:"label"`
	Value   any    `json:"value"`
	Display string `json:"display"`
	Dirty   bool   `json:"dirty"`
}

type exportReport struct {
	ID          string `json:"id"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Version     string `json:"version,omitempty"`
	Bytes       int    `json:"bytes"`
}

type report struct {
	Namespace  string            `json:"namespace"`
	Committed  domain.Values     `json:"committed,omitempty"`
	Parameters []parameterReport `json:"parameters"`
	Exports    []exportReport    `json:"exports,omitempty"`
	History    int               `json:"history_entries"`
}

type logNotifier struct {
	logger core.Logger
}

func (n logNotifier) CommitFailed(namespace string, keys []string, err error) {
	n.logger.Error("commit failed", "namespace", namespace, "keys", strings.Join(keys, ","), "error", err)
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) (err error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger, err := observability.NewLogger(cfg.Log, stderr)
	if err != nil {
		return err
	}
	doc, err := definitions.Load(opts.definitionsPath)
	if err != nil {
		return err
	}

	store, err := persistence.Open(ctx, cfg.Persistence)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, store.Close()) }()
	artifacts, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		return err
	}
	metrics, err := observability.NewMetrics(cfg.Metrics)
	if err != nil {
		return err
	}
	tracer, shutdown, err := observability.NewCommitTracer(ctx, cfg.Tracing, stderr)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, shutdown(context.Background())) }()

	sessionOpts := []session.Option{session.WithRequiredToken(cfg.AuthToken)}
	for _, e := range doc.Exports {
		sessionOpts = append(sessionOpts, session.WithExport(e, nil))
	}
	sess, err := session.New(ctx, doc.Namespace, doc.Parameters, store, sessionOpts...)
	if err != nil {
		return err
	}

	dir := core.NewDirectory(
		core.WithLogger(logger),
		core.WithDebounce(cfg.DebounceDelay),
		core.WithMetrics(metrics),
		core.WithTracer(tracer),
		core.WithArtifactStore(artifacts),
		core.WithNotifier(logNotifier{logger: logger}),
	)
	defer dir.Teardown()

	token := opts.token
	if token == "" {
		token = cfg.AuthToken
	}
	if err := dir.AttachSession(sess, doc.AcceptRejectSelector(), token); err != nil {
		return err
	}
	dir.DefaultExports().Register(doc.Namespace, doc.DefaultExports...)
	dir.SeedHistory()

	for _, assignment := range opts.sets {
		if err := apply(dir, doc.Namespace, assignment); err != nil {
			return err
		}
	}
	committed, err := dir.Commit(ctx, doc.Namespace, false)
	if err != nil {
		return err
	}

	out := report{Namespace: doc.Namespace, Committed: committed, History: len(dir.Journal().Entries())}
	for _, cell := range dir.Parameters(doc.Namespace) {
		st := cell.State()
		out.Parameters = append(out.Parameters, parameterReport{
			ID:      cell.ID(),
			Label:   cell.Definition().Label(),
			Value:   st.ExecValue,
			Display: cell.Stringify(st.ExecValue),
			Dirty:   st.Dirty,
		})
	}
	for _, id := range opts.exports {
		cell, ok := dir.Export(doc.Namespace, id)
		if !ok {
			return fmt.Errorf("unknown export %q", id)
		}
		if _, err := cell.Fetch(ctx, nil); err != nil {
			return err
		}
		artifact, _, err := cell.Cached(ctx)
		if err != nil {
			return err
		}
		out.Exports = append(out.Exports, exportReport{
			ID:          cell.Definition().ID,
			Filename:    artifact.Filename,
			ContentType: artifact.ContentType,
			Version:     artifact.Version,
			Bytes:       len(artifact.Content),
		})
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return err
	}
	if opts.dumpMetrics {
		return metrics.Dump(stderr)
	}
	return nil
}

func apply(dir *core.Directory, namespace, assignment string) error {
	key, raw, _ := strings.Cut(assignment, "=")
	cell, err := dir.FindParameter(namespace, strings.TrimSpace(key))
	if err != nil {
		return err
	}
	value, err := domain.ParseValue(cell.Definition(), raw)
	if err != nil {
		return err
	}
	if !cell.SetUiValue(value) {
		return domain.ValidationError{ParameterID: cell.ID(), Value: value}
	}
	return nil
}

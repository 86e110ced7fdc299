package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mnohosten/laura-core/pkg/aggregation"
	"github.com/mnohosten/laura-core/pkg/config"
	"github.com/mnohosten/laura-core/pkg/database"
	"github.com/mnohosten/laura-core/pkg/document"
	"github.com/mnohosten/laura-core/pkg/impex"
	"github.com/mnohosten/laura-core/pkg/logging"
	"github.com/mnohosten/laura-core/pkg/metrics"
)

const version = "0.2.0"

// app is the state shared by the commands of one invocation
type app struct {
	configPath string
	loads      []string
	indexes    []string
	logLevel   string

	cfg    config.Config
	db     *database.Database
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "laura-cli",
		Short: "Query in-memory document collections",
		Long: `laura-cli loads JSON lines or CSV fixtures into in-memory collections
and runs filters and aggregation pipelines over them.

Examples:
  # Find adults in a fixture, sorted by age
  laura-cli --load people=people.jsonl find people '{"age": {"$gte": 18}}' --sort '{"age": 1}'

  # Group with a pipeline and write the result to a file
  laura-cli --load people=people.jsonl aggregate people '[{"$group": {"_id": "$city", "n": {"$sum": 1}}}]'

  # Explore interactively
  laura-cli --load people=people.jsonl.zst --index 'people={"key": {"city": 1}}' shell`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringArrayVarP(&a.loads, "load", "l", nil, "load a fixture, collection=path (.jsonl, .json, .csv, optionally .zst)")
	flags.StringArrayVarP(&a.indexes, "index", "i", nil, `create an index, collection={"key": {...}, ...}`)
	flags.StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newFindCmd(a),
		newCountCmd(a),
		newExplainCmd(a),
		newAggregateCmd(a),
		newExportCmd(a),
		newCollectionsCmd(a),
		newShellCmd(a),
	)
	return root
}

func (a *app) open(ctx context.Context) error {
	a.cfg = config.Default()
	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	level := a.cfg.Logging.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	if level == "" {
		level = "warn"
	}
	logger, err := logging.NewLogger(a.cfg.Logging.Env, level)
	if err != nil {
		return err
	}
	a.logger = logger

	db, err := database.Open(a.cfg.Database(logger, metrics.NewCollector(prometheus.NewRegistry())))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	a.db = db
	if a.cfg.TTLEnabled() {
		db.TTL().Start(ctx)
	}

	for _, spec := range a.loads {
		name, path, err := splitAssignment(spec)
		if err != nil {
			return fmt.Errorf("--load: %w", err)
		}
		n, err := impex.ImportFile(path, db.Collection(name), nil)
		if err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		logger.Info("fixture loaded", zap.String("collection", name), zap.String("path", path), zap.Int("documents", n))
	}
	for _, spec := range a.indexes {
		name, def, err := splitAssignment(spec)
		if err != nil {
			return fmt.Errorf("--index: %w", err)
		}
		doc, err := document.FromJSON([]byte(def))
		if err != nil {
			return fmt.Errorf("--index %s: invalid JSON: %w", name, err)
		}
		if _, err := db.Collection(name).CreateIndex(doc); err != nil {
			return fmt.Errorf("--index %s: %w", name, err)
		}
	}
	return nil
}

func (a *app) close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	_ = a.logger.Sync()
	a.db = nil
	return err
}

func splitAssignment(s string) (string, string, error) {
	name, value, ok := strings.Cut(s, "=")
	if !ok || name == "" || value == "" {
		return "", "", fmt.Errorf("expected collection=value, got %q", s)
	}
	return name, value, nil
}

// parseDoc reads an optional JSON document argument. An empty argument
// yields a nil interface, which matches everything as a filter.
func parseDoc(s string) (interface{}, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	doc, err := document.FromJSON([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON document: %w", err)
	}
	return doc, nil
}

func parsePipeline(s string) (*aggregation.Pipeline, error) {
	v, err := document.ParseJSONValue([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("invalid JSON pipeline: %w", err)
	}
	arr, ok := v.Array()
	if !ok {
		return nil, fmt.Errorf("pipeline must be a JSON array of stages")
	}
	stages := make([]*document.Document, len(arr))
	for i, elem := range arr {
		d, ok := elem.Doc()
		if !ok {
			return nil, fmt.Errorf("stage %d is not a document", i)
		}
		stages[i] = d
	}
	return aggregation.ParseDocuments(stages)
}

// writeDocs prints documents as JSON lines
func writeDocs(w io.Writer, docs func(yield func(*document.Document) bool)) (int, error) {
	enc := impex.NewJSONWriter(w)
	for doc := range docs {
		if err := enc.Write(doc); err != nil {
			return enc.Count(), err
		}
	}
	return enc.Count(), enc.Flush()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

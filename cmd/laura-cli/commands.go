package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnohosten/laura-core/pkg/database"
	"github.com/mnohosten/laura-core/pkg/impex"
)

func newFindCmd(a *app) *cobra.Command {
	var sortSpec, projection string
	var skip, limit int
	cmd := &cobra.Command{
		Use:   "find <collection> [filter]",
		Short: "Print the documents matching a filter as JSON lines",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.db.GetCollection(args[0])
			if err != nil {
				return err
			}
			filter, err := parseDoc(optionalArg(args, 1))
			if err != nil {
				return err
			}
			opts := []database.FindOption{database.WithSkip(skip), database.WithLimit(limit)}
			if sortSpec != "" {
				s, err := parseDoc(sortSpec)
				if err != nil {
					return fmt.Errorf("--sort: %w", err)
				}
				opts = append(opts, database.WithSort(s))
			}
			if projection != "" {
				p, err := parseDoc(projection)
				if err != nil {
					return fmt.Errorf("--projection: %w", err)
				}
				opts = append(opts, database.WithProjection(p))
			}

			cur, err := coll.Find(filter, opts...)
			if err != nil {
				return err
			}
			defer cur.Close()
			_, err = writeDocs(cmd.OutOrStdout(), cur.Documents())
			return err
		},
	}
	cmd.Flags().StringVar(&sortSpec, "sort", "", `sort document, e.g. '{"age": -1}'`)
	cmd.Flags().StringVar(&projection, "projection", "", `projection document, e.g. '{"name": 1}'`)
	cmd.Flags().IntVar(&skip, "skip", 0, "skip the first n results")
	cmd.Flags().IntVar(&limit, "limit", 0, "return at most n results (0 = all)")
	return cmd
}

func newCountCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "count <collection> [filter]",
		Short: "Count the documents matching a filter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.db.GetCollection(args[0])
			if err != nil {
				return err
			}
			filter, err := parseDoc(optionalArg(args, 1))
			if err != nil {
				return err
			}
			n, err := coll.Count(filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

func newExplainCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <collection> [filter]",
		Short: "Show the plan chosen for a filter",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.db.GetCollection(args[0])
			if err != nil {
				return err
			}
			filter, err := parseDoc(optionalArg(args, 1))
			if err != nil {
				return err
			}
			plan, err := coll.Explain(filter)
			if err != nil {
				return err
			}
			return printJSON(cmd, plan)
		},
	}
}

func newAggregateCmd(a *app) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "aggregate <collection> <pipeline>",
		Short: "Run an aggregation pipeline",
		Long: `Run an aggregation pipeline given as a JSON array of stages. The
results are printed as JSON lines. A pipeline ending in $out writes a
collection instead; --out then exports that collection to a file.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.db.GetCollection(args[0])
			if err != nil {
				return err
			}
			p, err := parsePipeline(args[1])
			if err != nil {
				return err
			}
			res, err := coll.RunPipeline(p)
			if err != nil {
				return err
			}
			if res.Out == "" {
				_, err = writeDocs(cmd.OutOrStdout(), res.Documents())
				return err
			}
			target, err := a.db.GetCollection(res.Out)
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %d documents to %s\n", target.Len(), res.Out)
				return nil
			}
			n, err := impex.ExportFile(out, target, impex.ExportOptions{})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d documents to %s and %s\n", n, res.Out, out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "export the $out collection to this file")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var filter string
	var fields []string
	cmd := &cobra.Command{
		Use:   "export <collection> <path>",
		Short: "Export a collection to a JSON lines or CSV file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coll, err := a.db.GetCollection(args[0])
			if err != nil {
				return err
			}
			opts := impex.ExportOptions{Fields: fields}
			if filter != "" {
				f, err := parseDoc(filter)
				if err != nil {
					return fmt.Errorf("--filter: %w", err)
				}
				opts.Filter = f
			}
			n, err := impex.ExportFile(args[1], coll, opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d documents\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "only export matching documents")
	cmd.Flags().StringSliceVar(&fields, "fields", nil, "CSV columns (default: fields of the first document)")
	return cmd
}

func newCollectionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "collections",
		Short: "List the loaded collections with their sizes and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range a.db.ListCollections() {
				coll, err := a.db.GetCollection(name)
				if err != nil {
					return err
				}
				var indexes []string
				for _, d := range coll.ListIndexes() {
					indexes = append(indexes, d.Name)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\t%v\n", name, coll.Len(), indexes)
			}
			return nil
		},
	}
}

func optionalArg(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

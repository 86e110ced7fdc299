package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mnohosten/laura-core/pkg/database"
	"github.com/mnohosten/laura-core/pkg/document"
)

const shellHelp = `
Commands:
  help, ?                       Show this help message
  exit, quit                    Leave the shell
  version                       Show the CLI version
  use <collection>              Switch to a collection
  show collections              List collections

Collection operations (on the current collection):
  insert {doc}                  Insert a document
  get <key>                     Print the document stored under key
  find [filter]                 Find documents
  count [filter]                Count documents
  update <key> {patch}          Replace or patch ($set, $inc, ...) a document
  delete <key>                  Delete a document
  search <text>                 $text search, best matches first
  aggregate [stages]            Run an aggregation pipeline
  explain [filter]              Show the plan chosen for a filter

Indexes:
  createindex {spec}            e.g. {"key": {"age": 1}, "unique": true}
  dropindex <name>              Drop an index
  getindexes                    List indexes
  stats                         Show collection statistics

Alternative syntax:
  <collection>.find({filter})
  <collection>.count({filter})
  <collection>.insert({doc})
`

var errExit = errors.New("exit")

// shell is an interactive session over the database of one invocation
type shell struct {
	db   *database.Database
	coll string
	out  io.Writer
}

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Run an interactive shell over the loaded collections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sh := &shell{db: a.db, out: cmd.OutOrStdout()}
			return sh.run(cmd.InOrStdin())
		},
	}
}

func (s *shell) run(in io.Reader) error {
	fmt.Fprintf(s.out, "laura-cli %s, type 'help' for commands\n", version)

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for {
		prompt := "laura> "
		if s.coll != "" {
			prompt = fmt.Sprintf("laura:%s> ", s.coll)
		}
		fmt.Fprint(s.out, prompt)

		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := s.execute(line); err != nil {
			if errors.Is(err, errExit) {
				return nil
			}
			fmt.Fprintf(s.out, "Error: %v\n", err)
		}
	}
	return scanner.Err()
}

func (s *shell) execute(line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	cmd = strings.ToLower(cmd)

	switch cmd {
	case "help", "?":
		fmt.Fprint(s.out, shellHelp)
		return nil
	case "exit", "quit":
		return errExit
	case "version":
		fmt.Fprintf(s.out, "laura-cli version %s\n", version)
		return nil
	case "use":
		if rest == "" {
			return fmt.Errorf("usage: use <collection>")
		}
		s.coll = rest
		fmt.Fprintf(s.out, "Switched to collection '%s'\n", s.coll)
		return nil
	case "show":
		if strings.ToLower(rest) != "collections" {
			return fmt.Errorf("usage: show collections")
		}
		for _, name := range s.db.ListCollections() {
			fmt.Fprintln(s.out, name)
		}
		return nil
	}

	if strings.Contains(cmd, ".") && strings.Contains(line, "(") {
		return s.methodCall(line)
	}

	if s.coll == "" {
		return fmt.Errorf("no collection selected (use 'use <collection>' first)")
	}
	return s.collectionCommand(s.db.Collection(s.coll), cmd, rest)
}

func (s *shell) collectionCommand(coll *database.Collection, cmd, rest string) error {
	switch cmd {
	case "insert":
		doc, err := document.FromJSON([]byte(rest))
		if err != nil {
			return fmt.Errorf("invalid JSON: %w", err)
		}
		key, err := coll.Insert(doc)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Inserted document with _id: %s\n", key)
	case "get":
		doc, err := coll.Get(rest)
		if err != nil {
			return err
		}
		return s.printDoc(doc)
	case "find":
		filter, err := parseDoc(rest)
		if err != nil {
			return err
		}
		cur, err := coll.Find(filter)
		if err != nil {
			return err
		}
		defer cur.Close()
		n, err := writeDocs(s.out, cur.Documents())
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Found %d document(s)\n", n)
	case "count":
		filter, err := parseDoc(rest)
		if err != nil {
			return err
		}
		n, err := coll.Count(filter)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Count: %d document(s)\n", n)
	case "update":
		key, patchJSON, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("usage: update <key> {patch}")
		}
		patch, err := document.FromJSON([]byte(patchJSON))
		if err != nil {
			return fmt.Errorf("invalid patch JSON: %w", err)
		}
		if err := coll.Update(key, patch); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Document updated")
	case "delete":
		if rest == "" {
			return fmt.Errorf("usage: delete <key>")
		}
		if err := coll.Delete(rest); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "Document deleted")
	case "search":
		results, err := coll.TextSearch(rest)
		if err != nil {
			return err
		}
		for _, r := range results {
			data, err := r.Document.MarshalJSON()
			if err != nil {
				return err
			}
			fmt.Fprintf(s.out, "%.4f\t%s\n", r.Score, data)
		}
	case "aggregate":
		p, err := parsePipeline(rest)
		if err != nil {
			return err
		}
		res, err := coll.RunPipeline(p)
		if err != nil {
			return err
		}
		if res.Out != "" {
			fmt.Fprintf(s.out, "Wrote collection '%s'\n", res.Out)
			return nil
		}
		_, err = writeDocs(s.out, res.Documents())
		return err
	case "explain":
		filter, err := parseDoc(rest)
		if err != nil {
			return err
		}
		plan, err := coll.Explain(filter)
		if err != nil {
			return err
		}
		return s.printJSON(plan)
	case "createindex":
		spec, err := document.FromJSON([]byte(rest))
		if err != nil {
			return fmt.Errorf("invalid index JSON: %w", err)
		}
		name, err := coll.CreateIndex(spec)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Created index '%s'\n", name)
	case "dropindex":
		if err := coll.DropIndex(rest); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Dropped index '%s'\n", rest)
	case "getindexes":
		indexes := coll.ListIndexes()
		if len(indexes) == 0 {
			fmt.Fprintln(s.out, "(no indexes)")
			return nil
		}
		for _, d := range indexes {
			fmt.Fprintf(s.out, "%s\t%s\tunique=%v\n", d.Name, d.Kind(), d.Unique)
		}
	case "stats":
		return s.printJSON(coll.Stats())
	default:
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmd)
	}
	return nil
}

// methodCall runs the collection.method({args}) form
func (s *shell) methodCall(line string) error {
	name, rest, _ := strings.Cut(line, ".")
	method, args, ok := strings.Cut(rest, "(")
	if !ok || name == "" {
		return fmt.Errorf("invalid syntax: expected <collection>.<method>(...)")
	}
	args = strings.TrimSuffix(strings.TrimSpace(args), ")")

	coll := s.db.Collection(name)
	switch strings.ToLower(method) {
	case "find", "count", "explain", "aggregate", "stats", "getindexes":
		return s.collectionCommand(coll, strings.ToLower(method), args)
	case "insert", "insertone":
		return s.collectionCommand(coll, "insert", args)
	case "createindex":
		return s.collectionCommand(coll, "createindex", args)
	}
	return fmt.Errorf("unknown method: %s", method)
}

func (s *shell) printDoc(doc *document.Document) error {
	data, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

func (s *shell) printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, string(data))
	return nil
}

package main

import (
	"fmt"
	"log/slog"

	"github.com/citescape/citescape/internal/importer"
	"github.com/citescape/citescape/pkg/source"
	"github.com/spf13/cobra"
)

var importOut string

func init() {
	importCmd.Flags().StringVarP(&importOut, "out", "o", "citescape.db", "Path of the database to create or replace")
	rootCmd.AddCommand(importCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Build the database from layout CSVs",
	Long: `Build the citescape SQLite database from a directory holding
papers.csv, tree_edges.csv and extra_edges.csv, replacing any
previous import in the target database.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	db, err := source.OpenSQLite(importOut, slog.Default())
	if err != nil {
		return err
	}
	defer db.Close()

	rep, err := importer.New(db, slog.Default()).Run(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	fmt.Printf("imported %d papers, %d tree edges, %d extra edges into %s\n",
		rep.Papers, rep.TreeEdges, rep.ExtraEdges, importOut)
	if rep.DanglingEdges > 0 || rep.DuplicateEdges > 0 {
		fmt.Printf("skipped %d dangling and %d duplicate edges\n", rep.DanglingEdges, rep.DuplicateEdges)
	}
	return nil
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brensch/gomokuzero/corpus"
)

var statsFlags struct {
	longest int
	json    bool
}

var statsCmd = &cobra.Command{
	Use:   "stats [dir...]",
	Short: "Summarize generated shards (default output.dir)",
	RunE:  runStats,
}

func init() {
	f := statsCmd.Flags()
	f.IntVar(&statsFlags.longest, "longest", 5, "List the n longest games")
	f.BoolVar(&statsFlags.json, "json", false, "Print JSON instead of a table")
}

func runStats(cmd *cobra.Command, args []string) error {
	if err := setupLogging(); err != nil {
		return err
	}
	dirs := args
	if len(dirs) == 0 {
		dirs = []string{cfg.Output.Dir}
	}

	db, err := corpus.Open(cmd.Context(), dirs)
	if err != nil {
		return err
	}
	defer db.Close()

	summary, err := db.Summarize(cmd.Context())
	if err != nil {
		return err
	}
	var longest []corpus.GameSummary
	if statsFlags.longest > 0 {
		if longest, err = db.LongestGames(cmd.Context(), statsFlags.longest); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if statsFlags.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Summary corpus.Summary       `json:"summary"`
			Longest []corpus.GameSummary `json:"longest,omitempty"`
		}{summary, longest})
	}
	return printStats(out, summary, longest)
}

func printStats(w io.Writer, s corpus.Summary, longest []corpus.GameSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "shards\t%d\n", s.Shards)
	fmt.Fprintf(tw, "games\t%d\n", s.Games)
	fmt.Fprintf(tw, "samples\t%d\n", s.Samples)
	fmt.Fprintf(tw, "mean length\t%.1f\n", s.MeanLength)
	fmt.Fprintf(tw, "max length\t%d\n", s.MaxLength)
	fmt.Fprintf(tw, "player 1 wins\t%d\n", s.WinsOne)
	fmt.Fprintf(tw, "player 2 wins\t%d\n", s.WinsTwo)
	fmt.Fprintf(tw, "no result\t%d\n", s.NoResult)
	for _, m := range s.Models {
		fmt.Fprintf(tw, "model %s\t%d games\n", m.Model, m.Games)
	}

	if len(longest) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "game\tmoves\tboard\tresult\tmodel")
		for _, g := range longest {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\n", g.GameID, g.Moves, g.BoardLen, g.Result, g.Model)
		}
	}
	return tw.Flush()
}

package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/detectnode/internal/config"
	"github.com/spf13/cobra"
)

// CreateCheckWorkersCmd creates the check-workers command.
func CreateCheckWorkersCmd() *cobra.Command {
	var workersFile string

	cmd := &cobra.Command{
		Use:   "check-workers",
		Short: "Verify that worker interpreters, scripts and models exist",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true
			return CheckWorkers(workersFile, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&workersFile, "workers", "w", config.WorkersFile, "Worker definitions file")
	return cmd
}

// CheckWorkers loads the worker definitions from path and reports every
// missing dependency to out. It fails when anything is missing.
func CheckWorkers(path string, out io.Writer) error {
	w, err := config.LoadWorkers(path)
	if err != nil {
		return err
	}
	problems := w.Check()
	if len(problems) == 0 {
		fmt.Fprintf(out, "All %d stages and 3 workers are ready\n", len(w.Stages))
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKER\tISSUE\tPATH")
	for _, p := range problems {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Worker, p.Issue, p.Path)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	return fmt.Errorf("%d worker problems found", len(problems))
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// tagErrorsCmd represents the tag-errors command
var tagErrorsCmd = &cobra.Command{
	Use:   "tag-errors <scan-id>",
	Short: "List per-resource failures of a tagging run",
	Args:  cobra.ExactArgs(1),
	RunE:  runTagErrors,
}

func init() {
	rootCmd.AddCommand(tagErrorsCmd)
}

func runTagErrors(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	errs, err := a.service.GetTagErrors(ctx, args[0])
	if err != nil {
		return err
	}
	if len(errs) == 0 {
		fmt.Println("No tag errors")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACCOUNT\tREGION\tSERVICE\tRESOURCE\tERROR")
	for _, e := range errs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.AccountID, e.Region, e.Service, e.ResourceID, e.Error)
	}
	return w.Flush()
}

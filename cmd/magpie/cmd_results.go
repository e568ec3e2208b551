package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/magpie-cloud/magpie/types"
)

var (
	resultsAction string
	resultsPage   int
	resultsLimit  int
)

// resultsCmd represents the results command
var resultsCmd = &cobra.Command{
	Use:   "results <scan-id>",
	Short: "List a scan's discovered records",
	Example: `  magpie results 7f3b... --page 1 --limit 50
  magpie results 7f3b... --action KEEP_FOR_TAGGING`,
	Args: cobra.ExactArgs(1),
	RunE: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().StringVar(&resultsAction, "action", "", "Filter by action: UNSET, KEEP_FOR_TAGGING or EXCLUDE")
	resultsCmd.Flags().IntVar(&resultsPage, "page", 1, "Page number, 1-based")
	resultsCmd.Flags().IntVar(&resultsLimit, "limit", 100, "Records per page")
}

func runResults(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	page, err := a.service.ListScanResults(ctx, args[0], types.RecordAction(resultsAction), resultsPage, resultsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tACCOUNT\tREGION\tSERVICE\tTYPE\tRESOURCE\tTAGS\tACTION")
	for _, r := range page.Records {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			r.Seq, r.AccountID, r.Region, r.Service, r.ResourceType, r.ResourceID, r.TagsNumber, r.Action)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Printf("\nPage %d of %d (%d records total)\n", resultsPage, page.Pages, page.Total)
	return nil
}

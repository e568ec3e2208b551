package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/magpie-cloud/magpie/types"
)

var (
	tagAction string
	tagTags   string
	tagNoWait bool
)

// tagCmd represents the tag command
var tagCmd = &cobra.Command{
	Use:   "tag <scan-id>",
	Short: "Apply or remove tags on a scan's kept records",
	Long: `Tag runs a bulk tagging pass over every KEEP_FOR_TAGGING record of a
completed scan. APPLY sets key:value pairs; REMOVE strips keys (values
in the expression are ignored).`,
	Example: `  magpie tag 7f3b... --action apply --tags "owner:platform,env:prod"
  magpie tag 7f3b... --action remove --tags "deprecated"`,
	Args: cobra.ExactArgs(1),
	RunE: runTag,
}

func init() {
	rootCmd.AddCommand(tagCmd)

	tagCmd.Flags().StringVar(&tagAction, "action", "", "apply or remove")
	tagCmd.Flags().StringVar(&tagTags, "tags", "", "Tag expression: k1:v1,k2:v2")
	tagCmd.Flags().BoolVar(&tagNoWait, "no-wait", false, "Start the run and exit without waiting")
	_ = tagCmd.MarkFlagRequired("action")
	_ = tagCmd.MarkFlagRequired("tags")
}

func runTag(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	action, err := parseTagAction(tagAction)
	if err != nil {
		return err
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	scanID := args[0]
	if err := a.service.StartTagging(ctx, scanID, action, tagTags); err != nil {
		return err
	}
	fmt.Printf("Tagging started on scan %s\n", scanID)

	if tagNoWait {
		return nil
	}
	return waitForTagging(ctx, a, scanID)
}

func waitForTagging(ctx context.Context, a *app, scanID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
		scan, err := a.service.TaggingStatus(ctx, scanID)
		if err != nil {
			return err
		}
		if scan.TaggingStatus == types.ScanInProgress {
			continue
		}
		fmt.Printf("Tagging %s: %s (%d succeeded, %d failed)\n",
			scanID, scan.TaggingStatus, scan.TaggingSuccessCount, scan.TaggingErrorCount)
		if scan.TaggingStatus == types.ScanFailed {
			return fmt.Errorf("tagging failed: %s", scan.TaggingMessage)
		}
		return nil
	}
}

func parseTagAction(raw string) (types.TagAction, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "APPLY", "1":
		return types.TagActionApply, nil
	case "REMOVE", "2":
		return types.TagActionRemove, nil
	default:
		return 0, fmt.Errorf("unknown action %q (use apply or remove)", raw)
	}
}

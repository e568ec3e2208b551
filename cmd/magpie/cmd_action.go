package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/magpie-cloud/magpie/types"
)

// setActionCmd represents the set-action command
var setActionCmd = &cobra.Command{
	Use:   "set-action <scan-id> <seq> <action>",
	Short: "Override the classification of one record",
	Long: `Set-action flips one record between KEEP_FOR_TAGGING and EXCLUDE,
overriding what the filter decided.`,
	Example: `  magpie set-action 7f3b... 42 EXCLUDE`,
	Args:    cobra.ExactArgs(3),
	RunE:    runSetAction,
}

func init() {
	rootCmd.AddCommand(setActionCmd)
}

func runSetAction(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	seq, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("seq must be an integer: %w", err)
	}

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.UpdateRecordAction(ctx, args[0], seq, types.RecordAction(args[2])); err != nil {
		return err
	}
	fmt.Printf("Record %d of scan %s set to %s\n", seq, args[0], args[2])
	return nil
}

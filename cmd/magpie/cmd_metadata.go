package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// metadataCmd represents the metadata command
var metadataCmd = &cobra.Command{
	Use:   "metadata <scan-id> <seq>",
	Short: "Dump one record's raw service metadata",
	Args:  cobra.ExactArgs(2),
	RunE:  runMetadata,
}

func init() {
	rootCmd.AddCommand(metadataCmd)
}

func runMetadata(cmd *cobra.Command, args []string) error {
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

	raw, err := a.service.GetMetadata(ctx, args[0], seq)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		// Not JSON somehow; dump as-is.
		fmt.Println(string(raw))
		return nil
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(os.Stdout)
	return err
}

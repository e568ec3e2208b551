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
	discoverName     string
	discoverAccounts string
	discoverRegions  string
	discoverServices string
	discoverFilter   string
	discoverProfile  string
	discoverType     string
	discoverNoWait   bool
)

// discoverCmd represents the discover command
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a discovery scan across accounts and regions",
	Long: `Discover enumerates resources across the given accounts, regions
and services, stores one record per resource, and classifies each
record against the filter expression.

Selectors accept "All" for regions and services, and "<service>::*"
for every resource type of one service.`,
	Example: `  magpie discover --accounts 111111111111 --regions All --services ec2::*
  magpie discover --accounts 111111111111,222222222222 \
      --regions us-east-1,eu-west-1 \
      --services ec2::Instance,s3::Bucket \
      --filter "tags_number == 0 AND region != 'us-east-1'"
  magpie discover --profile nightly-inventory`,
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVar(&discoverName, "name", "", "Human-readable scan name")
	discoverCmd.Flags().StringVar(&discoverAccounts, "accounts", "", "Comma-separated account IDs")
	discoverCmd.Flags().StringVar(&discoverRegions, "regions", "All", "Comma-separated regions or All")
	discoverCmd.Flags().StringVar(&discoverServices, "services", "All", "Comma-separated service::type selectors or All")
	discoverCmd.Flags().StringVar(&discoverFilter, "filter", "", "Filter expression for classification")
	discoverCmd.Flags().StringVar(&discoverProfile, "profile", "", "Use a stored profile instead of flags")
	discoverCmd.Flags().StringVar(&discoverType, "type", string(types.ScanTypeMetadataBase), "Scan type: METADATA_BASE or TAGGING_RUN")
	discoverCmd.Flags().BoolVar(&discoverNoWait, "no-wait", false, "Start the scan and exit without waiting")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	spec, err := discoverSpec(ctx, a)
	if err != nil {
		return err
	}

	scanID, err := a.service.StartDiscovery(ctx, "", discoverName, types.ScanType(discoverType), spec)
	if err != nil {
		return err
	}
	fmt.Printf("Scan started: %s\n", scanID)

	if discoverNoWait {
		// The run lives in this process; exiting now abandons it. Only
		// useful against a store shared with a running serve instance.
		return nil
	}
	return waitForDiscovery(ctx, a, scanID)
}

func discoverSpec(ctx context.Context, a *app) (types.ScanSpec, error) {
	if discoverProfile != "" {
		profile, err := a.service.GetProfile(ctx, discoverProfile)
		if err != nil {
			return types.ScanSpec{}, fmt.Errorf("load profile %s: %w", discoverProfile, err)
		}
		return types.ParseScanSpec(profile.JSONProfile)
	}
	if discoverAccounts == "" {
		return types.ScanSpec{}, fmt.Errorf("--accounts or --profile is required")
	}
	return types.ScanSpec{
		Accounts: splitList(discoverAccounts),
		Regions:  splitList(discoverRegions),
		Services: splitList(discoverServices),
		Filter:   discoverFilter,
	}, nil
}

func waitForDiscovery(ctx context.Context, a *app, scanID string) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
		scan, err := a.service.DiscoveryStatus(ctx, scanID)
		if err != nil {
			return err
		}
		if scan.Status == types.ScanInProgress {
			continue
		}
		fmt.Printf("Scan %s: %s (%d resources)\n", scanID, scan.Status, scan.ResourceCount)
		if scan.Status == types.ScanFailed {
			return fmt.Errorf("scan failed: %s", scan.Message)
		}
		return nil
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

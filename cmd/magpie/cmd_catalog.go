package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/magpie-cloud/magpie/adapters"
)

// catalogCmd represents the catalog command
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "List the compiled-in service adapters",
	Args:  cobra.NoArgs,
	RunE:  runCatalog,
}

var catalogSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Publish the adapter manifest to blob storage",
	Args:  cobra.NoArgs,
	RunE:  runCatalogSync,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogSyncCmd)
}

func runCatalog(cmd *cobra.Command, args []string) error {
	manifest := adapters.Catalog()
	services := make([]string, 0, len(manifest))
	for service := range manifest {
		services = append(services, service)
	}
	sort.Strings(services)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SERVICE\tRESOURCE TYPES")
	for _, service := range services {
		fmt.Fprintf(w, "%s\t%d\n", service, len(manifest[service]))
		for _, key := range manifest[service] {
			fmt.Fprintf(w, "\t%s\n", key)
		}
	}
	return w.Flush()
}

func runCatalogSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.service.SyncAdapters(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Manifest synced: %s (%d adapters)\n", result.Status, len(result.Files))
	return nil
}

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// profileCmd groups the profile subcommands
var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage stored scan profiles",
	Long: `Profiles are named, reusable scan specs. Save one once and run
"magpie discover --profile <id>" instead of repeating flags.`,
}

var profileSaveCmd = &cobra.Command{
	Use:   "save <profile-id> <json-spec>",
	Short: "Save or replace a profile",
	Example: `  magpie profile save nightly '{"accounts":["111111111111"],"regions":["All"],"services":["All"],"filter":""}'`,
	Args:  cobra.ExactArgs(2),
	RunE:  runProfileSave,
}

var profileGetCmd = &cobra.Command{
	Use:   "get <profile-id>",
	Short: "Print one profile's spec",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileGet,
}

var profileListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored profiles",
	Args:  cobra.NoArgs,
	RunE:  runProfileList,
}

var profileDeleteCmd = &cobra.Command{
	Use:   "delete <profile-id>",
	Short: "Delete a profile",
	Args:  cobra.ExactArgs(1),
	RunE:  runProfileDelete,
}

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileSaveCmd, profileGetCmd, profileListCmd, profileDeleteCmd)
}

func runProfileSave(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.SaveProfile(ctx, args[0], args[1]); err != nil {
		return err
	}
	fmt.Printf("Profile %s saved\n", args[0])
	return nil
}

func runProfileGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	profile, err := a.service.GetProfile(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Println(profile.JSONProfile)
	return nil
}

func runProfileList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	profiles, err := a.service.ListProfiles(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROFILE\tSPEC")
	for _, p := range profiles {
		fmt.Fprintf(w, "%s\t%s\n", p.ProfileID, p.JSONProfile)
	}
	return w.Flush()
}

func runProfileDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.service.DeleteProfile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Profile %s deleted\n", args[0])
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/chomhq/chom/pkg/orchestrator"
	"github.com/chomhq/chom/pkg/types"
)

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage hosted sites",
}

var siteCreateCmd = &cobra.Command{
	Use:   "create DOMAIN",
	Short: "Register a new site and provision it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		siteType, _ := cmd.Flags().GetString("type")
		phpVersion, _ := cmd.Flags().GetString("php")
		ssl, _ := cmd.Flags().GetBool("ssl")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		site, err := rt.orc.CreateSite(args[0], types.SiteType(siteType), phpVersion, ssl)
		if err != nil {
			return err
		}
		fmt.Printf("Site %s registered (id %s)\n", site.Domain, site.ID)

		// The CLI drives provisioning to completion itself; the sweep in
		// the daemon would otherwise pick the site up within a minute.
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Minute)
		defer cancel()
		if err := orchestrator.NewProvisionJob(rt.orc, site.ID).Run(ctx); err != nil {
			fmt.Printf("Provisioning incomplete: %v\n", err)
			fmt.Println("The site stays pending; the daemon will retry it.")
			return nil
		}

		site, err = rt.store.GetSite(site.ID)
		if err != nil {
			return err
		}
		switch site.Status {
		case types.SiteStatusActive:
			fmt.Printf("✓ %s is active on node %s\n", site.Domain, site.NodeID)
		case types.SiteStatusFailed:
			return fmt.Errorf("provisioning failed: %s", site.FailureReason)
		default:
			fmt.Printf("Site is %s\n", site.Status)
		}
		return nil
	},
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all sites",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		sites, err := rt.store.ListSites()
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(sites)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DOMAIN\tTYPE\tSTATUS\tNODE\tSSL\tCERT EXPIRES")
		for _, s := range sites {
			expires := "-"
			if !s.CertExpiresAt.IsZero() {
				expires = s.CertExpiresAt.Format("2006-01-02")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\t%s\n",
				s.Domain, s.Type, s.Status, orDash(s.NodeID), s.SSLEnabled, expires)
		}
		return w.Flush()
	},
}

var siteInfoCmd = &cobra.Command{
	Use:   "info DOMAIN",
	Short: "Show a site's record and its healing log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		site, err := rt.store.GetSiteByDomain(args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Domain:      %s\n", site.Domain)
		fmt.Printf("ID:          %s\n", site.ID)
		fmt.Printf("Type:        %s\n", site.Type)
		if site.RuntimeVersion != "" {
			fmt.Printf("PHP:         %s\n", site.RuntimeVersion)
		}
		fmt.Printf("Status:      %s\n", site.Status)
		fmt.Printf("Node:        %s\n", orDash(site.NodeID))
		fmt.Printf("SSL:         %v\n", site.SSLEnabled)
		if !site.CertExpiresAt.IsZero() {
			fmt.Printf("Cert:        expires %s\n", site.CertExpiresAt.Format(time.RFC3339))
		}
		if site.FailureReason != "" {
			fmt.Printf("Failure:     %s\n", site.FailureReason)
		}
		fmt.Printf("Attempts:    %d\n", site.ProvisionAttempts)
		fmt.Printf("Created:     %s\n", site.CreatedAt.Format(time.RFC3339))

		if len(site.HealingLog) > 0 {
			fmt.Println("\nHealing log:")
			for _, h := range site.HealingLog {
				mark := "✓"
				if !h.Success {
					mark = "✗"
				}
				fmt.Printf("  %s [%d] %s %s: %s\n",
					h.Timestamp.Format("2006-01-02 15:04:05"), h.Attempt, mark, h.Action, h.Result)
			}
		}
		return nil
	},
}

var siteEnableCmd = &cobra.Command{
	Use:   "enable DOMAIN",
	Short: "Re-enable a disabled site",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.orc.EnableSite(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ %s enabled\n", args[0])
		return nil
	},
}

var siteDisableCmd = &cobra.Command{
	Use:   "disable DOMAIN",
	Short: "Take an active site offline without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.orc.DisableSite(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ %s disabled\n", args[0])
		return nil
	},
}

var siteDeleteCmd = &cobra.Command{
	Use:   "delete DOMAIN",
	Short: "Delete a site and its node-side resources",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return fmt.Errorf("deleting %s removes its files, database, and system user; pass --yes to confirm", args[0])
		}

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		if err := rt.orc.DeleteSite(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ %s deleted\n", args[0])
		return nil
	},
}

func init() {
	siteCmd.AddCommand(siteCreateCmd)
	siteCmd.AddCommand(siteListCmd)
	siteCmd.AddCommand(siteInfoCmd)
	siteCmd.AddCommand(siteEnableCmd)
	siteCmd.AddCommand(siteDisableCmd)
	siteCmd.AddCommand(siteDeleteCmd)

	siteCreateCmd.Flags().String("type", "php", "Site type: static, php, laravel, wordpress")
	siteCreateCmd.Flags().String("php", "", "PHP version (e.g. 8.3)")
	siteCreateCmd.Flags().Bool("ssl", false, "Issue a certificate after provisioning")

	siteListCmd.Flags().Bool("json", false, "Output as JSON")

	siteDeleteCmd.Flags().Bool("yes", false, "Confirm deletion")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

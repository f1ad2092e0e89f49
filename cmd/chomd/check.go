package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chomhq/chom/pkg/coherency"
	"github.com/chomhq/chom/pkg/remediate"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Detect drift between the desired state and the fleet",
	Long: `Compare the desired-state store against what nodes actually serve.
A quick check works from stored records only; --full also interrogates
every node's agent. Exits non-zero when drift is found.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		full, _ := cmd.Flags().GetBool("full")
		fix, _ := cmd.Flags().GetBool("fix")
		asJSON, _ := cmd.Flags().GetBool("json")
		reportOnly, _ := cmd.Flags().GetBool("report-only")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		engine := coherency.NewEngine(rt.store, rt.caller, coherency.Config{
			CertHorizonDays: rt.cfg.Coherency.CertHorizonDays,
			DisplayCap:      rt.cfg.Coherency.DisplayCap,
		})
		report, err := engine.Run(cmd.Context(), full)
		if err != nil {
			return err
		}

		if fix && report.TotalIssues > 0 {
			// Record-level corrections happen inline; re-provisioning and
			// renewals land on the queue and run in the daemon.
			remediator := remediate.New(rt.store, rt.queue, rt.orc, rt.broker)
			remediator.Apply(cmd.Context(), report)
			fmt.Println("Remediation applied; queued work completes in the daemon.")
		}

		if asJSON {
			if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
				return err
			}
		} else {
			printReport(report)
		}

		if report.TotalIssues > 0 && !reportOnly {
			rt.Close() // os.Exit skips the deferred close
			os.Exit(1)
		}
		return nil
	},
}

func printReport(report *coherency.Report) {
	fmt.Printf("Coherency check (%s) at %s\n", report.CheckType, report.Timestamp.Format("2006-01-02 15:04:05"))

	if len(report.UnreachableNodes) > 0 {
		fmt.Printf("! %d node(s) unreachable, coverage degraded: %s\n",
			len(report.UnreachableNodes), strings.Join(report.UnreachableNodes, ", "))
	}

	if report.TotalIssues == 0 {
		fmt.Println("✓ No drift detected")
		return
	}

	fmt.Printf("✗ %d issue(s) found\n\n", report.TotalIssues)
	for _, category := range coherency.Categories {
		count := report.Counts[category]
		if count == 0 {
			continue
		}
		fmt.Printf("%s (%d):\n", category, count)
		items := report.Items[category]
		for _, issue := range items {
			line := "  - " + issue.Detail
			if issue.Domain != "" {
				line = fmt.Sprintf("  - %s: %s", issue.Domain, issue.Detail)
			}
			if issue.Urgency != "" {
				line += fmt.Sprintf(" [%s]", issue.Urgency)
			}
			fmt.Println(line)
		}
		if len(items) < count {
			fmt.Printf("  ... and %d more\n", count-len(items))
		}
		fmt.Println()
	}
}

func init() {
	checkCmd.Flags().Bool("full", false, "Interrogate every node's agent, not just stored records")
	checkCmd.Flags().Bool("fix", false, "Apply automatic remediation to the issues found")
	checkCmd.Flags().Bool("json", false, "Output the report as JSON")
	checkCmd.Flags().Bool("report-only", false, "Exit zero even when drift is found")
}

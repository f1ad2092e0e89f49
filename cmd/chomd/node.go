package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/chomhq/chom/pkg/types"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage fleet nodes",
}

var nodeAddCmd = &cobra.Command{
	Use:   "add HOSTNAME",
	Short: "Register a node with the fleet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, _ := cmd.Flags().GetString("address")
		sshPort, _ := cmd.Flags().GetInt("ssh-port")
		sshUser, _ := cmd.Flags().GetString("ssh-user")
		capacity, _ := cmd.Flags().GetString("capacity")
		dedicated, _ := cmd.Flags().GetBool("dedicated")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		node := &types.Node{
			ID:            uuid.New().String(),
			Hostname:      args[0],
			Address:       address,
			SSHPort:       sshPort,
			SSHUser:       sshUser,
			Status:        types.NodeStatusActive,
			Health:        types.HealthUnknown,
			CapacityClass: capacity,
			AcceptsShared: !dedicated,
			CreatedAt:     time.Now().UTC(),
		}
		if node.Address == "" {
			node.Address = node.Hostname
		}

		// A reachability check up front catches key and firewall problems
		// before the node enters the placement pool.
		if err := rt.bridge.Ping(cmd.Context(), node); err != nil {
			return fmt.Errorf("node unreachable, not registered: %w", err)
		}
		node.Health = types.HealthHealthy
		node.LastHealthCheck = time.Now().UTC()

		if err := rt.store.CreateNode(node); err != nil {
			return err
		}
		fmt.Printf("✓ Node %s registered (id %s)\n", node.Hostname, node.ID)
		return nil
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List fleet nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		nodes, err := rt.store.ListNodes()
		if err != nil {
			return err
		}
		if asJSON {
			return json.NewEncoder(os.Stdout).Encode(nodes)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "HOSTNAME\tADDRESS\tSTATUS\tHEALTH\tCAPACITY\tSHARED\tSITES")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%v\t%d\n",
				n.Hostname, n.Address, n.Status, n.Health, n.CapacityClass, n.AcceptsShared, n.SiteCount)
		}
		return w.Flush()
	},
}

var nodeRemoveCmd = &cobra.Command{
	Use:   "remove HOSTNAME",
	Short: "Decommission a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := buildRuntime()
		if err != nil {
			return err
		}
		defer rt.Close()

		nodes, err := rt.store.ListNodes()
		if err != nil {
			return err
		}
		var node *types.Node
		for _, n := range nodes {
			if n.Hostname == args[0] {
				node = n
				break
			}
		}
		if node == nil {
			return fmt.Errorf("node %q not found", args[0])
		}

		sites, err := rt.store.ListSitesByNode(node.ID)
		if err != nil {
			return err
		}
		if len(sites) > 0 {
			return fmt.Errorf("node %s still hosts %d site(s); move or delete them first", node.Hostname, len(sites))
		}

		node.Status = types.NodeStatusDecommissioned
		if err := rt.store.UpdateNode(node); err != nil {
			return err
		}
		fmt.Printf("✓ Node %s decommissioned\n", node.Hostname)
		return nil
	},
}

func init() {
	nodeCmd.AddCommand(nodeAddCmd)
	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeRemoveCmd)

	nodeAddCmd.Flags().String("address", "", "SSH address (defaults to the hostname)")
	nodeAddCmd.Flags().Int("ssh-port", 22, "SSH port")
	nodeAddCmd.Flags().String("ssh-user", "", "SSH user (defaults to ssh.user from config)")
	nodeAddCmd.Flags().String("capacity", "standard", "Capacity class: small, standard, large")
	nodeAddCmd.Flags().Bool("dedicated", false, "Exclude the node from shared-tenancy placement")

	nodeListCmd.Flags().Bool("json", false, "Output as JSON")
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bastionhq/bastion/pkg/client"
)

var roleCmd = &cobra.Command{
	Use:   "role",
	Short: "Manage user roles",
}

var roleGetCmd = &cobra.Command{
	Use:   "get <user-id>",
	Short: "Resolve a user's role",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoleGet,
}

var roleAssignCmd = &cobra.Command{
	Use:   "assign <user-id> <role>",
	Short: "Assign a role to a user",
	Args:  cobra.ExactArgs(2),
	RunE:  runRoleAssign,
}

var roleRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Revoke a user's role",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoleRevoke,
}

func init() {
	for _, c := range []*cobra.Command{roleGetCmd, roleAssignCmd, roleRevokeCmd} {
		c.Flags().String("server", "http://127.0.0.1:8080", "Server base URL")
		roleCmd.AddCommand(c)
	}
	rootCmd.AddCommand(roleCmd)
}

func runRoleGet(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	c := client.NewClient(server, "")

	info, err := c.GetRole(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	origin := "source of truth"
	if info.Cached {
		origin = "cache"
	}
	fmt.Printf("%s: %s (served from %s)\n", info.UserID, info.Role, origin)
	if info.Entry != nil {
		fmt.Printf("  cache version: %d, last synced %s\n",
			info.Entry.Version, info.Entry.LastSyncedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

func runRoleAssign(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	c := client.NewClient(server, "")

	if err := c.AssignRole(cmd.Context(), args[0], args[1], nil); err != nil {
		return err
	}
	fmt.Printf("✓ Role %s assigned to %s\n", args[1], args[0])
	return nil
}

func runRoleRevoke(cmd *cobra.Command, args []string) error {
	server, _ := cmd.Flags().GetString("server")
	c := client.NewClient(server, "")

	if err := c.RevokeRole(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("✓ Role revoked for %s\n", args[0])
	return nil
}

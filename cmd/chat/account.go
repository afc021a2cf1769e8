package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PaulBabatuyi/marketchat/internal/chatsync"
)

var registerRole string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if email == "" || password == "" {
			return fmt.Errorf("--email and --password are required")
		}
		role := chatsync.Role(strings.ToUpper(registerRole))
		if role != chatsync.RoleCustomer && role != chatsync.RoleVendor {
			return fmt.Errorf("unknown role %q (want CUSTOMER or VENDOR)", registerRole)
		}
		client, err := newClient(newLogger())
		if err != nil {
			return err
		}
		viewer, err := client.Register(cmd.Context(), email, password, role)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "registered %s as %s (id %s)\n", viewer.Email, viewer.Role, viewer.ID)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check credentials and print the account",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, viewer, err := loggedIn(cmd.Context(), newLogger())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s (%s, id %s)\n", viewer.Email, viewer.Role, viewer.ID)
		return client.Logout(cmd.Context())
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerRole, "role", string(chatsync.RoleCustomer), "account role (CUSTOMER or VENDOR)")
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
}

package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/joescharf/tracker/internal/auth"
	"github.com/joescharf/tracker/internal/models"
	"github.com/joescharf/tracker/internal/output"
)

var (
	userName     string
	userEmail    string
	userPassword string
	userAdmin    bool
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage user accounts",
	Long:  "Create accounts, list them, and change roles. Runs with direct database access.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a user account",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userAddRun()
	},
}

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List user accounts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return userListRun()
	},
}

var userRoleCmd = &cobra.Command{
	Use:   "role <email> <Admin|User>",
	Short: "Change a user's role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return userRoleRun(args[0], args[1])
	},
}

func init() {
	userAddCmd.Flags().StringVar(&userName, "name", "", "Display name (required)")
	userAddCmd.Flags().StringVar(&userEmail, "email", "", "Email address (required)")
	userAddCmd.Flags().StringVar(&userPassword, "password", "", "Password, at least 6 characters (required)")
	userAddCmd.Flags().BoolVar(&userAdmin, "admin", false, "Create the account with the Admin role")
	_ = userAddCmd.MarkFlagRequired("name")
	_ = userAddCmd.MarkFlagRequired("email")
	_ = userAddCmd.MarkFlagRequired("password")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userRoleCmd)
	rootCmd.AddCommand(userCmd)
}

func userAddRun() error {
	_, provider, err := newService()
	if err != nil {
		return err
	}
	ctx := context.Background()

	role := models.RoleUser
	if userAdmin {
		role = models.RoleAdmin
	}

	if dryRun {
		ui.DryRunMsg("Would create user %s <%s> [%s]", userName, auth.NormalizeEmail(userEmail), role)
		return nil
	}

	u, err := provider.SignUp(ctx, auth.SignUpInput{
		Name:            userName,
		Email:           userEmail,
		Password:        userPassword,
		ConfirmPassword: userPassword,
	})
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}

	if role != u.Role {
		s, err := getStore()
		if err != nil {
			return err
		}
		if err := s.UpdateUserRole(ctx, u.ID, role); err != nil {
			return fmt.Errorf("set role: %w", err)
		}
		u.Role = role
	}

	ui.Success("Created user %s <%s> [%s]", output.Cyan(shortID(u.ID)), u.Email, output.RoleColor(string(u.Role)))
	return nil
}

func userListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	users, err := s.ListUsers(context.Background())
	if err != nil {
		return err
	}

	if len(users) == 0 {
		ui.Info("No users found. Create one with: tracker user add")
		return nil
	}

	table := ui.Table([]string{"ID", "Name", "Email", "Role", "Created"})
	for _, u := range users {
		_ = table.Append([]string{
			shortID(u.ID),
			u.Name,
			u.Email,
			output.RoleColor(string(u.Role)),
			u.CreatedAt.Local().Format(time.DateOnly),
		})
	}
	_ = table.Render()
	return nil
}

func userRoleRun(email, roleArg string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	ctx := context.Background()

	role := models.Role(roleArg)
	if !role.Valid() {
		return fmt.Errorf("invalid role %q (use %s or %s)", roleArg, models.RoleAdmin, models.RoleUser)
	}

	u, err := s.GetUserByEmail(ctx, auth.NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("find user %s: %w", email, err)
	}

	if u.Role == role {
		ui.Info("%s already has role %s", u.Email, output.RoleColor(string(role)))
		return nil
	}

	if dryRun {
		ui.DryRunMsg("Would change %s from %s to %s", u.Email, u.Role, role)
		return nil
	}

	if err := s.UpdateUserRole(ctx, u.ID, role); err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	ui.Success("Changed %s to %s", u.Email, output.RoleColor(string(role)))
	return nil
}

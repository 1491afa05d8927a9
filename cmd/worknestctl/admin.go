package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"worknest.io/internal/app"
	"worknest.io/internal/auth"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Upsert the default permission catalog, roles and the configured admin",
		Long: `Upsert the default permission catalog and default roles (admin, employee, hr,
manager, user, customer). Existing roles keep their ids but their permission lists are
reset. When WORKNEST_ADMIN_USERNAME and WORKNEST_ADMIN_PASSWORD are set the admin
account is created unless it already exists.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, core *app.App) error {
				if err := core.Bootstrap(ctx); err != nil {
					return err
				}
				roles, err := core.Directory.ListRoles(ctx)
				if err != nil {
					return err
				}
				for _, r := range roles {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%d permissions\n", r.ID, r.Name, len(r.Permissions))
				}
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue tokens",
	}
	var username string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an access and refresh token pair for an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, core *app.App) error {
				user, err := core.Store.GetUserByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("lookup %s: %w", username, err)
				}
				if !user.Active {
					return fmt.Errorf("user %s is inactive", username)
				}
				roles, err := core.Store.GetRolesByIDs(ctx, user.RoleIDs)
				if err != nil {
					return err
				}
				names := make([]string, 0, len(roles))
				for _, r := range roles {
					names = append(names, r.Name)
				}
				pair, err := core.Tokens.IssuePair(user.ID, user.Username, names)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pair)
			})
		},
	}
	issue.Flags().StringVarP(&username, "username", "u", "", "Username (required)")
	_ = issue.MarkFlagRequired("username")
	cmd.AddCommand(issue)
	return cmd
}

func hierarchyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hierarchy",
		Short: "Inspect and edit reporting lines",
	}

	var userID, managerID string
	setManager := &cobra.Command{
		Use:   "set-manager",
		Short: "Set or clear a user's manager",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, core *app.App) error {
				edge, err := core.Hierarchy.SetManager(ctx, userID, managerID)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), edge)
			})
		},
	}
	setManager.Flags().StringVar(&userID, "user", "", "User id (required)")
	setManager.Flags().StringVar(&managerID, "manager", "", "Manager user id; empty makes the user a root")
	_ = setManager.MarkFlagRequired("user")

	var teamOf string
	team := &cobra.Command{
		Use:   "team",
		Short: "Show a user's seniors, peers and subordinates",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, func(ctx context.Context, core *app.App) error {
				t, err := core.Hierarchy.TeamMembers(ctx, teamOf)
				if err != nil {
					return err
				}
				level, err := core.Hierarchy.LevelOf(ctx, teamOf)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), struct {
					UserID string `json:"user_id"`
					Level  int    `json:"level"`
					auth.Team
				}{teamOf, level, t})
			})
		},
	}
	team.Flags().StringVar(&teamOf, "user", "", "User id (required)")
	_ = team.MarkFlagRequired("user")

	cmd.AddCommand(setManager, team)
	return cmd
}

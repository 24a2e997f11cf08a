/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/inkpost/apiserver/internal/db"
	"github.com/inkpost/apiserver/internal/services"
	"github.com/inkpost/apiserver/internal/store"
	"github.com/inkpost/apiserver/types"
	"github.com/spf13/cobra"
)

var adminInput types.CreateUserInput

// adminCmd groups account bootstrap commands.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage admin accounts",
}

// adminCreateCmd creates an account with the admin role directly in the
// database. Sign-up over HTTP always yields the user role, so the first admin
// has to come from here.
var adminCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an admin account",
	Long: `Create an admin account. Usage:

	inkpost admin create --email root@example.com --password s3cret --first-name Ada --last-name Lovelace
`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := adminInput
		in.Email = strings.TrimSpace(in.Email)
		if in.Email == "" || in.Password == "" {
			return errors.New("--email and --password are required")
		}
		role := types.RoleAdmin
		in.Role = &role

		cfg, logger := loadConfig()
		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		users := services.NewUserService(store.NewUserRepository(conn), store.NewPostRepository(conn), nil, logger)
		user, err := users.Create(cmd.Context(), in)
		if err != nil {
			return fmt.Errorf("create admin: %w", err)
		}

		logger.Info("admin created", "id", user.ID, "email", user.Email)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminCreateCmd)

	adminCreateCmd.Flags().StringVar(&adminInput.Email, "email", "", "email address of the admin")
	adminCreateCmd.Flags().StringVar(&adminInput.Password, "password", "", "initial password")
	adminCreateCmd.Flags().StringVar(&adminInput.FirstName, "first-name", "Admin", "first name")
	adminCreateCmd.Flags().StringVar(&adminInput.LastName, "last-name", "User", "last name")
}

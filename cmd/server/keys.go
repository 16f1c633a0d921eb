package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourusername/storefront-gateway/internal/auth"
	"github.com/yourusername/storefront-gateway/internal/database"
	"github.com/yourusername/storefront-gateway/internal/models"
	"github.com/yourusername/storefront-gateway/internal/services"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	cmd.AddCommand(keysCreateCmd())

	return cmd
}

func keysCreateCmd() *cobra.Command {
	var (
		name        string
		permissions []string
		rateLimit   int
		userID      string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		Long: `Create an API key directly in the database. Use this to bootstrap the
first admin key; later keys can be created through /api/v1/admin/keys.

Examples:
  server keys create --name bootstrap --permissions admin
  server keys create --name pos --permissions read,write --rate-limit 5000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(name) == "" {
				return fmt.Errorf("--name is required")
			}
			if rateLimit <= 0 {
				return fmt.Errorf("--rate-limit must be positive")
			}
			for _, p := range permissions {
				switch p {
				case models.ScopeRead, models.ScopeWrite, models.ScopeAdmin:
				default:
					return fmt.Errorf("unknown permission %q", p)
				}
			}

			var owner *uuid.UUID
			if userID != "" {
				id, err := uuid.Parse(userID)
				if err != nil {
					return fmt.Errorf("invalid --user-id: %w", err)
				}
				owner = &id
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.APIKeyPepper == "" {
				return fmt.Errorf("API_KEY_PEPPER is required")
			}

			generated, err := services.NewKeyHasher(cfg.APIKeyPepper).Generate()
			if err != nil {
				return err
			}

			db, err := database.Connect(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()

			key := &models.APIKey{
				Name:        name,
				KeyHash:     generated.Hash,
				KeyPrefix:   generated.Prefix,
				Permissions: permissions,
				RateLimit:   rateLimit,
				IsActive:    true,
				UserID:      owner,
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			if err := db.CreateAPIKey(ctx, key); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "id:          %s\n", key.ID)
			fmt.Fprintf(out, "permissions: %s\n", strings.Join(key.Permissions, ","))
			fmt.Fprintf(out, "rate limit:  %d/hour\n", key.RateLimit)
			fmt.Fprintf(out, "key:         %s\n", generated.Plaintext)
			fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringSliceVar(&permissions, "permissions", []string{models.ScopeRead}, "comma-separated scopes (read, write, admin)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 1000, "requests per hour")
	cmd.Flags().StringVar(&userID, "user-id", "", "owning user id")

	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the audit endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(userID)
			if err != nil {
				return fmt.Errorf("invalid --user-id: %w", err)
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.AuthJWTSecret == "" {
				return fmt.Errorf("AUTH_JWT_SECRET is required")
			}

			token, err := auth.NewTokenVerifier(cfg.AuthJWTSecret).Issue(id, ttl)
			if err != nil {
				return fmt.Errorf("couldn't sign token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user-id", "", "user id to embed as the subject")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("user-id")

	return cmd
}

package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/claimguard-jp/claimguard/internal/repository"
	"github.com/claimguard-jp/claimguard/internal/service"
	"github.com/spf13/cobra"
)

func TokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage access tokens",
		Long:  "Issue, list, and revoke user access tokens",
	}

	cmd.AddCommand(TokenIssueCmd())
	cmd.AddCommand(TokenListCmd())
	cmd.AddCommand(TokenRevokeCmd())

	return cmd
}

func TokenIssueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a new access token",
		Long:  "Issue a new access token for a user",
		RunE:  runTokenIssue,
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("name", "n", "", "Token name (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("name")

	return cmd
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	userID, _ := cmd.Flags().GetString("user")
	name, _ := cmd.Flags().GetString("name")
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	userRepo := repository.NewUserRepository(pool)
	tokenRepo := repository.NewTokenRepository(pool)
	uuidGen := &service.DefaultUUIDGenerator{}
	authSvc := service.NewAuthService(nil, userRepo, tokenRepo, uuidGen)

	plaintext, err := authSvc.IssueToken(ctx, userID, name)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"user":  userID,
			"name":  name,
			"token": plaintext,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Token issued for user %s\n", userID)
		fmt.Printf("Token Name: %s\n", name)
		fmt.Printf("Token: %s\n", plaintext)
		fmt.Println("\n⚠️  Save this token now. You won't be able to see it again!")
	}

	return nil
}

func TokenListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tokens for a user",
		Long:  "List all access tokens issued to a specific user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, _ := cmd.Flags().GetString("user")
			outputFormat, _ := cmd.Flags().GetString("output")
			return runTokenList(userID, outputFormat)
		},
	}

	cmd.Flags().StringP("user", "u", "", "User ID (required)")
	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")
	cmd.MarkFlagRequired("user")

	return cmd
}

func runTokenList(userID, outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokenRepo := repository.NewTokenRepository(pool)

	tokens, err := tokenRepo.ListByUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to list tokens: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(tokens))
		for i, t := range tokens {
			data[i] = map[string]interface{}{
				"id":         t.ID,
				"name":       t.Name,
				"user_id":    t.UserID,
				"created_at": t.CreatedAt,
				"revoked_at": t.RevokedAt,
				"revoked":    t.IsRevoked(),
			}
		}
		jsonBytes, _ := json.MarshalIndent(map[string]interface{}{"items": data}, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		if len(tokens) == 0 {
			fmt.Printf("No tokens found for user %s\n", userID)
			return nil
		}
		fmt.Printf("Tokens for user %s:\n", userID)
		for _, t := range tokens {
			status := "active"
			if t.IsRevoked() {
				status = "revoked"
			}
			fmt.Printf("  %s: %s (%s, created: %s)\n", t.ID, t.Name, status, t.CreatedAt.Format("2006-01-02 15:04:05"))
		}
	}

	return nil
}

func TokenRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an access token",
		Long:  "Revoke an access token by its ID",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenRevoke,
	}

	cmd.Flags().StringP("output", "", "text", "Output format (text or json)")

	return cmd
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	tokenID := args[0]
	outputFormat, _ := cmd.Flags().GetString("output")

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	tokenRepo := repository.NewTokenRepository(pool)
	if err := tokenRepo.Revoke(ctx, tokenID); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":      tokenID,
			"revoked": true,
			"message": "Token revoked successfully",
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Token %s revoked successfully\n", tokenID)
	}

	return nil
}

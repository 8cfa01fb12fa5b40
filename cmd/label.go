package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/warden/internal/store"
	"github.com/andresmejia3/warden/internal/utils"
)

var labelCmd = &cobra.Command{
	Use:   "label <identity_id> <name>",
	Short: "Rename an enrolled identity",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseIdentityID(args[0])
		if err != nil {
			utils.Die("Invalid identity ID", err, nil)
		}
		name := strings.TrimSpace(args[1])
		if name == "" {
			utils.Die("Invalid name", errors.New("name must not be empty"), nil)
		}

		if err := DB.RenameIdentity(cmd.Context(), id, name); err != nil {
			if errors.Is(err, store.ErrIdentityNotFound) {
				utils.Die(fmt.Sprintf("No identity with ID %d", id), err, nil)
			}
			utils.Die("Failed to label identity", err, nil)
		}
		fmt.Printf("✅ Identity %d labeled as '%s'\n", id, name)
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <identity_id>",
	Short: "Remove an enrolled identity",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := parseIdentityID(args[0])
		if err != nil {
			utils.Die("Invalid identity ID", err, nil)
		}
		if err := DB.DeleteIdentity(cmd.Context(), id); err != nil {
			utils.Die("Failed to forget identity", err, nil)
		}
		fmt.Printf("🗑️  Identity %d removed\n", id)
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
	rootCmd.AddCommand(forgetCmd)
}

func parseIdentityID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, fmt.Errorf("identity ID must be positive, got %d", id)
	}
	return id, nil
}

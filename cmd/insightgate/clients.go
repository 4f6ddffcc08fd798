package main

import (
	"bufio"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/marketlens/insightgate/adapters/hasher"
	"github.com/marketlens/insightgate/config"
	"github.com/marketlens/insightgate/domain/client"
	"github.com/spf13/cobra"
)

var clientsCmd = &cobra.Command{
	Use:   "clients",
	Short: "Manage B2B clients",
	Long:  `Provision and inspect B2B clients in the local client directory.`,
}

var clientsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all clients",
	RunE:  runClientsList,
}

var clientsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a client and issue its credential",
	Long: `Create a new client and print its API credential.

The credential is shown exactly once. Only its bcrypt hash is stored.

Examples:
  insightgate clients create --name "Acme Foods"
  insightgate clients create --name "Acme Foods" --tier enterprise`,
	RunE: runClientsCreate,
}

var clientsStatusCmd = &cobra.Command{
	Use:   "status <client-id> <active|suspended|revoked>",
	Short: "Change a client's status",
	Long: `Change a client's status.

Suspended and revoked clients are rejected with 401 on their next call.

Examples:
  insightgate clients status cl_1234 suspended
  insightgate clients status cl_1234 active`,
	Args: cobra.ExactArgs(2),
	RunE: runClientsStatus,
}

var (
	clientName string
	clientTier string
)

func init() {
	rootCmd.AddCommand(clientsCmd)
	clientsCmd.AddCommand(clientsListCmd)
	clientsCmd.AddCommand(clientsCreateCmd)
	clientsCmd.AddCommand(clientsStatusCmd)

	clientsCreateCmd.Flags().StringVar(&clientName, "name", "", "client display name (required)")
	clientsCreateCmd.Flags().StringVar(&clientTier, "tier", "", "quota tier id (default: the default tier)")
	clientsCreateCmd.MarkFlagRequired("name")
}

func runClientsList(cmd *cobra.Command, args []string) error {
	_, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	clients, err := stores.Clients.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to list clients: %w", err)
	}

	w := out(cmd)
	if len(clients) == 0 {
		fmt.Fprintln(w, "No clients found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTIER\tSTATUS\tPREFIX\tCREATED")
	fmt.Fprintln(tw, "--\t----\t----\t------\t------\t-------")
	for _, c := range clients {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID,
			truncate(c.Name, 30),
			c.TierID,
			c.Status,
			c.KeyPrefix,
			c.CreatedAt.Format("2006-01-02"),
		)
	}
	return tw.Flush()
}

func runClientsCreate(cmd *cobra.Command, args []string) error {
	cfg, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	tier := clientTier
	if tier == "" {
		for _, t := range cfg.Tiers {
			if t.Default {
				tier = t.ID
				break
			}
		}
	}
	if !tierExists(cfg.Tiers, tier) {
		return fmt.Errorf("unknown tier %q", tier)
	}

	raw, _, lookup, err := client.Generate(cfg.Auth.KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to generate credential: %w", err)
	}
	hash, err := hasher.NewBcrypt(cfg.Auth.BcryptCost).Hash(raw)
	if err != nil {
		return fmt.Errorf("failed to hash credential: %w", err)
	}

	now := time.Now().UTC()
	c := client.Client{
		ID:        "cl_" + uuid.NewString(),
		Name:      clientName,
		KeyHash:   hash,
		KeyPrefix: lookup,
		Status:    client.StatusActive,
		TierID:    tier,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := stores.Clients.Create(cmd.Context(), c); err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	w := out(cmd)
	fmt.Fprintf(w, "%s Client created\n\n", checkMark)
	fmt.Fprintf(w, "  ID:      %s\n", c.ID)
	fmt.Fprintf(w, "  Name:    %s\n", c.Name)
	fmt.Fprintf(w, "  Tier:    %s\n", c.TierID)
	fmt.Fprintf(w, "  API key: %s\n\n", raw)
	fmt.Fprintln(w, "Store the API key now. It cannot be shown again.")
	return nil
}

func runClientsStatus(cmd *cobra.Command, args []string) error {
	id, status := args[0], client.Status(strings.ToLower(args[1]))
	if !status.Valid() {
		return fmt.Errorf("invalid status %q (want active, suspended or revoked)", args[1])
	}

	_, stores, err := openStores(cmd.Context())
	if err != nil {
		return err
	}
	defer stores.Close()

	if err := stores.Clients.SetStatus(cmd.Context(), id, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}

	fmt.Fprintf(out(cmd), "%s Client %s is now %s\n", checkMark, id, status)
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

func confirm(cmd *cobra.Command, prompt string) bool {
	fmt.Fprintf(out(cmd), "%s [y/N]: ", prompt)
	reader := bufio.NewReader(cmd.InOrStdin())
	response, _ := reader.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func tierExists(tiers []config.TierConfig, id string) bool {
	for _, t := range tiers {
		if t.ID == id {
			return true
		}
	}
	return false
}

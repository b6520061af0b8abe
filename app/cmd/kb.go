package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dinindunz/strands-agent-cli/app/client/agentapi"
	"github.com/dinindunz/strands-agent-cli/app/service/knowledge"
	"github.com/samber/do"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

const seedPrompt = "Please store this information in the knowledge base: " +
	"Contract signed with Acme Corp - Industry: Healthcare, Contract Value: $1.2M"

var checkQueries = []string{
	"Acme Corp healthcare contract",
	"healthcare contracts",
}

var seedURL string

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Work with the knowledge base directly",
}

var kbCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that stored knowledge survives restarts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		di := newInjector(cmd.Context(), cfg)
		defer di.Shutdown()

		kb, err := do.Invoke[*knowledge.Service](di)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "KNOWLEDGE BASE PERSISTENCE CHECK")

		for i, query := range checkQueries {
			fmt.Fprintf(out, "\n%d. Searching for %q...\n", i+1, query)
			fmt.Fprintf(out, "%s\n", kb.Search(cmd.Context(), query))
		}

		fmt.Fprintf(out, "\n%d. Checking database location...\n", len(checkQueries)+1)

		return listDatabaseFiles(out, cfg.Knowledge.DatabasesDir())
	},
}

var kbSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Ask a running agent server to store the Acme Corp test record",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if seedURL != "" {
			cfg.Chat.URL = seedURL
		}

		di := newInjector(cmd.Context(), cfg)
		defer di.Shutdown()

		client, err := do.Invoke[*agentapi.Client](di)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Sending test data to %s...\n", client.BaseURL())

		resp := client.Invoke(cmd.Context(), seedPrompt)

		data, err := json.MarshalIndent(resp, "", "  ")
		if err != nil {
			return oops.In("cmd").Errorf("failed to encode response: %w", err)
		}

		if _, failed := resp["error"]; failed {
			fmt.Fprintf(out, "\n✗ Error:\n%s\n", data)
			return oops.In("cmd").Errorf("seeding failed")
		}

		fmt.Fprintf(out, "\n✓ Response from agent:\n%s\n", data)

		return nil
	},
}

var kbAddCmd = &cobra.Command{
	Use:   "add <text>",
	Short: "Store text in the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKnowledge(cmd, func(kb *knowledge.Service) string {
			return kb.Store(cmd.Context(), strings.Join(args, " "))
		})
	},
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKnowledge(cmd, func(kb *knowledge.Service) string {
			return kb.Search(cmd.Context(), strings.Join(args, " "))
		})
	},
}

var kbMCPCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the knowledge base tools as an MCP server over stdio",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		di := newInjector(ctx, cfg)
		defer di.Shutdown()

		kb, err := do.Invoke[*knowledge.Service](di)
		if err != nil {
			return err
		}

		return kb.ServeStdio(ctx, os.Stdin, os.Stdout)
	},
}

func withKnowledge(cmd *cobra.Command, fn func(kb *knowledge.Service) string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	di := newInjector(cmd.Context(), cfg)
	defer di.Shutdown()

	kb, err := do.Invoke[*knowledge.Service](di)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), fn(kb))

	return nil
}

func listDatabaseFiles(w io.Writer, dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		fmt.Fprintf(w, "   ✗ Database directory not found: %s\n", dir)
		return nil
	}
	if err != nil {
		return oops.In("cmd").With("dir", dir).Errorf("failed to list database directory: %w", err)
	}

	fmt.Fprintf(w, "   ✓ Database directory: %s\n", dir)
	fmt.Fprintln(w, "   ✓ Database files:")

	for _, entry := range entries {
		if entry.IsDir() {
			fmt.Fprintf(w, "     - %s/ (directory)\n", entry.Name())
			continue
		}

		info, err := os.Stat(filepath.Join(dir, entry.Name()))
		if err != nil {
			return oops.In("cmd").With("file", entry.Name()).Errorf("failed to stat database file: %w", err)
		}
		fmt.Fprintf(w, "     - %s (%d bytes)\n", entry.Name(), info.Size())
	}

	return nil
}

func init() {
	rootCmd.AddCommand(kbCmd)
	kbCmd.AddCommand(kbCheckCmd, kbSeedCmd, kbAddCmd, kbSearchCmd, kbMCPCmd)

	kbSeedCmd.Flags().StringVar(&seedURL, "url", "", "Base URL of the agent (default http://localhost:$AGENT_PORT)")
}

package cmd

import (
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/dinindunz/strands-agent-cli/app/service/visual"
	"github.com/samber/do"
	"github.com/spf13/cobra"
)

var (
	graphOutput string
	graphPort   int
	graphDir    string
)

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Visualise the knowledge graph",
}

var graphRenderCmd = &cobra.Command{
	Use:   "render",
	Short: "Write an interactive HTML page of the knowledge graph",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		output := cfg.Graph.Output
		if graphOutput != "" {
			output = graphOutput
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Generating visualisation...")
		fmt.Fprintf(out, "Knowledge base: %s\n", cfg.Knowledge.Root)
		fmt.Fprintf(out, "Output file: %s\n", output)

		graph, err := visual.RenderFile(cmd.Context(), cfg.Knowledge.Root, output)
		if err != nil {
			return err
		}

		fmt.Fprintf(out, "\n✓ Visualisation created: %d entities, %d relations\n", len(graph.Entities), len(graph.Relations))
		fmt.Fprintf(out, "Open %s in your browser or run: strands-agent graph serve\n", output)

		return nil
	},
}

var graphServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the visualisation until SIGINT or SIGTERM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if graphPort != 0 {
			cfg.Graph.Port = graphPort
		}
		if graphDir != "" {
			cfg.Graph.Output = filepath.Join(graphDir, filepath.Base(cfg.Graph.Output))
		}

		ctx, stop := signalContext(cmd.Context())
		defer stop()

		di := newInjector(ctx, cfg)
		defer di.Shutdown()

		server, err := do.Invoke[*visual.Server](di)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		base := "http://" + net.JoinHostPort(cfg.Graph.Host, strconv.Itoa(cfg.Graph.Port))
		fmt.Fprintf(out, "Serving visualisation on %s/%s\n", base, filepath.Base(cfg.Graph.Output))
		fmt.Fprintf(out, "Live view from the knowledge base on %s/live\n", base)
		fmt.Fprintln(out, "Press Ctrl+C to stop the server")

		if err = server.Run(ctx); err != nil {
			return err
		}

		fmt.Fprintln(out, "Server stopped.")

		return nil
	},
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.AddCommand(graphRenderCmd, graphServeCmd)

	graphRenderCmd.Flags().StringVarP(&graphOutput, "output", "o", "", "Output file (default graph.output)")
	graphServeCmd.Flags().IntVarP(&graphPort, "port", "p", 0, "Port to listen on (overrides GRAPH_PORT)")
	graphServeCmd.Flags().StringVar(&graphDir, "dir", "", "Directory holding the rendered page (default the directory of graph.output)")
}

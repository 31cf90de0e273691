package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/citescape/citescape/internal/mcp"
	"github.com/citescape/citescape/internal/server"
	"github.com/citescape/citescape/pkg/engine"
	"github.com/citescape/citescape/pkg/source"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

var (
	configPath string
	mcpStdio   bool
)

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to a YAML configuration file")
	serveCmd.Flags().BoolVar(&mcpStdio, "mcp", false, "Speak MCP over stdio instead of serving HTTP")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the viewport streaming server",
	Long: `Start the HTTP/WebSocket server over a local citescape database,
or proxy a remote instance when remote_url is configured.

With --mcp the process instead exposes the graph as MCP tools over
stdin/stdout, for use as an agent subprocess.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := server.DefaultConfig()
	if configPath != "" {
		var err error
		cfg, err = server.LoadConfig(configPath)
		if err != nil {
			return err
		}
	}

	var (
		src engine.Source
		db  *source.SQLiteSource
	)
	if cfg.RemoteURL != "" {
		src = source.NewHTTPSource(cfg.RemoteURL, cfg.RemoteToken, cfg.RemoteRPS)
		log.Printf("Using remote source %s", cfg.RemoteURL)
	} else {
		var err error
		db, err = source.OpenSQLite(cfg.Database, slog.Default())
		if err != nil {
			return err
		}
		defer db.Close()
		src = db
	}

	eng := engine.New(src, cfg.Engine, slog.Default())
	defer eng.Close()
	if err := eng.Start(cmd.Context()); err != nil {
		return err
	}

	if mcpStdio {
		// The MCP transport owns stdout, so logs stay on stderr.
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return mcp.NewMCPServer(eng, db).Run(ctx, &mcpsdk.StdioTransport{})
	}

	srv, err := server.NewServer(eng, db, cfg)
	if err != nil {
		return err
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Run()
	}()

	select {
	case err := <-errChan:
		return err
	case <-shutdownChan:
	}
	srv.Shutdown()
	return nil
}

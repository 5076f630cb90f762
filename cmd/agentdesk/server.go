package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/agentdesk/internal/agent"
	"github.com/kalambet/agentdesk/internal/api"
	"github.com/kalambet/agentdesk/internal/catalog"
	"github.com/kalambet/agentdesk/internal/config"
	"github.com/kalambet/agentdesk/internal/provision"
	"github.com/kalambet/agentdesk/internal/storage"
	"github.com/kalambet/agentdesk/internal/worker"
	"github.com/kalambet/agentdesk/internal/workflow"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agentdesk server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcp)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agentdesk server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agentdesk server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "agentdesk.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(serveMCP bool) error {
	fmt.Fprintf(os.Stderr, "agentdesk version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	if cfg.Auth.APIToken == "" {
		printWarning("AGENTDESK_API_TOKEN is not set; management endpoints will reject every request")
	}
	if cfg.Webhook.SigningSecret == "" {
		printWarning("AGENTDESK_WEBHOOK_SIGNING_SECRET is not set; checkout webhooks are disabled")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("agentdesk is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("agentdesk is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	cat, err := catalog.Load()
	if err != nil {
		return fmt.Errorf("loading product catalog: %w", err)
	}
	svc := provision.NewService(store, cat, cfg.Site.URL)
	relay := workflow.NewClient(0)

	if cfg.Workflow.ProvisionURL == "" {
		slog.Warn("no provision URL configured; provisioning notifications will not be delivered")
	}
	w := worker.NewWorker(store, relay, svc, cfg.Workflow.ProvisionURL, 500*time.Millisecond)
	go w.Run(ctx)

	deps := api.Deps{
		Store:            store,
		Service:          svc,
		Catalog:          cat,
		Token:            cfg.Auth.APIToken,
		WebhookSecret:    cfg.Webhook.SigningSecret,
		WebhookTolerance: time.Duration(cfg.Webhook.Tolerance) * time.Second,
		Relay:            relay,
		AgentURLs:        cfg.Workflow.AgentURLs,
	}
	if cfg.Agent.APIKey != "" {
		deps.Previewer = agent.NewClient(cfg.Agent.BaseURL, cfg.Agent.APIKey, cfg.Agent.Model)
		slog.Info("agent preview enabled", "model", cfg.Agent.Model)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if serveMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Service: svc, Catalog: cat})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "agentdesk listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("agentdesk is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop agentdesk (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to agentdesk (PID %d)", pid)
	return nil
}

// serverStatus is the body of GET /status.
type serverStatus struct {
	Status   string         `json:"status"`
	Jobs     map[string]int `json:"jobs"`
	Contacts int            `json:"contacts"`
	Products int            `json:"products"`
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provision URL", "%s", valueOr(cfg.Workflow.ProvisionURL, "not configured"))
	for _, typ := range config.AgentTypes {
		printStatus("Agent "+typ, "%s", valueOr(cfg.Workflow.AgentURLs[typ], "not configured"))
	}
	if cfg.Agent.APIKey != "" {
		printStatus("Preview model", "%s", cfg.Agent.Model)
	} else {
		printStatus("Preview model", "disabled")
	}

	if running && cfg.Auth.APIToken != "" {
		c := &apiClient{baseURL: serverURL, token: cfg.Auth.APIToken, httpClient: client}
		if st, err := fetchStatus(context.Background(), c); err == nil {
			printStatus("Jobs", "%s", formatJobCounts(st.Jobs))
			printStatus("Contacts", "%d", st.Contacts)
			printStatus("Products", "%d", st.Products)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func fetchStatus(ctx context.Context, c *apiClient) (serverStatus, error) {
	resp, err := c.get(ctx, "/status")
	if err != nil {
		return serverStatus{}, err
	}
	var st serverStatus
	if err := decodeJSON(resp, &st); err != nil {
		return serverStatus{}, err
	}
	return st, nil
}

// formatJobCounts renders counts in a fixed status order.
func formatJobCounts(counts map[string]int) string {
	var parts []string
	for _, status := range []string{"pending", "running", "completed", "failed"} {
		if n, ok := counts[status]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", status, n))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

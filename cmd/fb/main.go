// ABOUTME: Entry point for the fb backup fleet controller
// ABOUTME: Discovers agents over UDP and coordinates signed backup runs

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/Baron-Systems/fb/internal/agentclient"
	"github.com/Baron-Systems/fb/internal/auth"
	"github.com/Baron-Systems/fb/internal/config"
	"github.com/Baron-Systems/fb/internal/discovery"
	"github.com/Baron-Systems/fb/internal/httpapi"
	"github.com/Baron-Systems/fb/internal/notify"
	"github.com/Baron-Systems/fb/internal/orchestrator"
	"github.com/Baron-Systems/fb/internal/registry"
	"github.com/Baron-Systems/fb/internal/retention"
	"github.com/Baron-Systems/fb/internal/store"
	"github.com/Baron-Systems/fb/internal/sweep"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
   __ _
  / _| |__
 | |_| '_ \
 |  _| |_) |
 |_| |_.__/   backup fleet controller
`

// getConfigPath returns the path to the controller config file.
// Priority: FB_CONFIG env var > XDG_CONFIG_HOME/fb/fb.yaml > ~/.config/fb/fb.yaml
func getConfigPath() string {
	if envPath := os.Getenv("FB_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "fb.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "fb", "fb.yaml")
}

// getDataPath returns the path to the fb data directory.
// Priority: XDG_DATA_HOME/fb > ~/.local/share/fb
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "fb")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: fb <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                Start the controller")
		fmt.Println("  init                 Create a new config file interactively")
		fmt.Println("  token --sub NAME     Mint an operator API token")
		fmt.Println("  health               Check controller health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "token":
		err = runToken()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Backups:   %s\n", cfg.Backups.Root)
	if cfg.Discovery.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Discovery: udp/%d\n", cfg.Discovery.Port)
	}
	fmt.Println()

	logger.Info("starting fb controller",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backups_root", cfg.Backups.Root,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = st.Close() }()

	if err := os.MkdirAll(cfg.Backups.Root, 0o755); err != nil {
		return fmt.Errorf("creating backups root: %w", err)
	}

	reg := registry.New(st)
	agents := agentclient.New(agentclient.Config{
		ControlTimeout:  cfg.Agents.ControlTimeout,
		TransferTimeout: cfg.Agents.TransferTimeout,
	})
	notifier := notify.NewRecorder(st)
	retain := retention.New(st, cfg.Backups.Root)
	runner := orchestrator.NewRunner(st, agents, notifier, retain, cfg.Backups.Root)
	verifier := auth.NewVerifier([]byte(cfg.Auth.JWTSecret))
	api := httpapi.New(st, reg, runner, retain, agents, verifier)

	// Discovery answers agent broadcasts with registration offers. The
	// advertised port must match what the HTTP API actually binds.
	if cfg.Discovery.Enabled {
		listener := discovery.New(reg, cfg.Discovery.Port, httpPort(cfg.Server.HTTPAddr))
		if err := listener.Start(); err != nil {
			return fmt.Errorf("starting discovery: %w", err)
		}
		defer listener.Close()
	}

	sweeper := sweep.New(runner, retain)
	go sweeper.Run(ctx)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", cfg.Server.HTTPAddr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// httpPort extracts the numeric port from an HTTP listen address for the
// discovery offer. Defaults to 80 when the address carries no port.
func httpPort(addr string) int {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return 80
	}
	var port int
	if _, err := fmt.Sscanf(addr[i+1:], "%d", &port); err != nil || port <= 0 {
		return 80
	}
	return port
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(newTermHandler(level))
}

// termHandler renders colorized single-line logs for interactive use. JSON
// output for machine consumption comes from slog.NewJSONHandler instead.
// Clones made by WithAttrs and WithGroup share one mutex so their writes
// never interleave.
type termHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	prefix string // attrs inherited via WithAttrs, preformatted
	group  string // dotted key prefix from WithGroup
}

func newTermHandler(level slog.Level) *termHandler {
	return &termHandler{mu: &sync.Mutex{}, out: os.Stdout, level: level}
}

func (h *termHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func levelTag(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return color.New(color.FgRed, color.Bold).Sprint("ERR")
	case l >= slog.LevelWarn:
		return color.YellowString("WRN")
	case l >= slog.LevelInfo:
		return color.CyanString("INF")
	default:
		return color.MagentaString("DBG")
	}
}

func (h *termHandler) Handle(_ context.Context, r slog.Record) error {
	line := color.HiBlackString(r.Time.Format("15:04:05")) +
		" " + levelTag(r.Level) + " " + r.Message + h.prefix
	r.Attrs(func(a slog.Attr) bool {
		line += h.formatAttr(a)
		return true
	})

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func (h *termHandler) formatAttr(a slog.Attr) string {
	key := a.Key
	if h.group != "" {
		key = h.group + "." + key
	}
	return color.HiBlackString(" "+key+"=") + a.Value.String()
}

func (h *termHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	for _, a := range attrs {
		next.prefix += h.formatAttr(a)
	}
	return &next
}

func (h *termHandler) WithGroup(name string) slog.Handler {
	next := *h
	if next.group == "" {
		next.group = name
	} else {
		next.group += "." + name
	}
	return &next
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	url := fmt.Sprintf("http://%s/health", addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runToken mints an operator JWT signed with the configured secret.
// Supports both "--sub value" and "--sub=value" formats.
func runToken() error {
	var subject string
	ttl := 30 * 24 * time.Hour

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--sub" || arg == "-s":
			if i+1 >= len(args) {
				return fmt.Errorf("--sub requires a value")
			}
			subject = args[i+1]
			i++
		case strings.HasPrefix(arg, "--sub="):
			subject = strings.TrimPrefix(arg, "--sub=")
		case arg == "--ttl":
			if i+1 >= len(args) {
				return fmt.Errorf("--ttl requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("parsing --ttl: %w", err)
			}
			ttl = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if subject == "" {
		return fmt.Errorf("--sub flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	token, err := auth.Mint([]byte(cfg.Auth.JWTSecret), subject, ttl)
	if err != nil {
		return fmt.Errorf("minting token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("fb controller configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "fb.sqlite3")
	defaultBackupsRoot := filepath.Join(defaultDataPath, "backups")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", ":8080")

	fmt.Println("\n--- Storage Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)
	backupsRoot := prompt(reader, "Backups root directory", defaultBackupsRoot)

	fmt.Println("\n--- Discovery Configuration ---")
	enableDiscovery := prompt(reader, "Enable UDP discovery?", "yes")
	discoveryEnabled := strings.ToLower(enableDiscovery) == "yes" || strings.ToLower(enableDiscovery) == "y"
	discoveryPort := "7355"
	if discoveryEnabled {
		discoveryPort = prompt(reader, "Discovery UDP port", "7355")
	}

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Always generate a fresh operator JWT secret.
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}
	jwtSecret := base64.StdEncoding.EncodeToString(secretBytes)

	var cfg strings.Builder
	cfg.WriteString("# fb controller configuration\n")
	cfg.WriteString("# Generated by fb init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n\n", httpAddr))

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n\n", dbPath))

	cfg.WriteString("backups:\n")
	cfg.WriteString(fmt.Sprintf("  root: \"%s\"\n\n", backupsRoot))

	cfg.WriteString("discovery:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", discoveryEnabled))
	cfg.WriteString(fmt.Sprintf("  port: %s\n\n", discoveryPort))

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: \"%s\"\n\n", jwtSecret))

	cfg.WriteString("agents:\n")
	cfg.WriteString("  control_timeout: \"30s\"\n")
	cfg.WriteString("  transfer_timeout: \"120s\"\n\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	for _, dir := range []string{filepath.Dir(dbPath), backupsRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the controller:")
	fmt.Printf("  fb serve\n")
	fmt.Println("\nTo mint an operator API token:")
	fmt.Printf("  fb token --sub you\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

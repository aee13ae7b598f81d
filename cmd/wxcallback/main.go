// ABOUTME: Entry point for the wxcallback webhook gateway
// ABOUTME: Serves platform callbacks and provides health, token and signing helpers

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/2389/wxcallback/internal/auth"
	"github.com/2389/wxcallback/internal/config"
	"github.com/2389/wxcallback/internal/crypt"
	"github.com/2389/wxcallback/internal/gateway"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const banner = `
                         _ _ _                _
 __      ____  __   ___ __ _| | | |__   __ _  ___| | __
 \ \ /\ / /\ \/ /  / __/ _' | | | '_ \ / _' |/ __| |/ /
  \ V  V /  >  <  | (_| (_| | | | |_) | (_| | (__|   <
   \_/\_/  /_/\_\  \___\__,_|_|_|_.__/ \__,_|\___|_|\_\
`

const defaultTokenTTL = 24 * time.Hour

// getConfigPath returns the path to the config file.
// Priority: WXCALLBACK_CONFIG env var > XDG_CONFIG_HOME/wxcallback/config.yaml > ~/.config/wxcallback/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("WXCALLBACK_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "wxcallback", "config.yaml")
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: wxcallback <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                              Start the callback server")
	fmt.Fprintln(w, "  check                              Validate the config file")
	fmt.Fprintln(w, "  health                             Check server health")
	fmt.Fprintln(w, "  token --subject NAME [--ttl 24h]   Issue a token for /api/messages")
	fmt.Fprintln(w, "  sign --integration NAME            Print a signed verification query")
	fmt.Fprintln(w, "  version                            Print the version")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stdout)
		os.Exit(1)
	}

	// Secrets referenced as ${VAR} in the config may live in a local .env
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	args := os.Args[2:]
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "check":
		err = runCheck(os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "token":
		err = runToken(os.Stdout, args)
	case "sign":
		err = runSign(os.Stdout, args)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		usage(os.Stderr)
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:       %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:         %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Cache:        %s (ttl %s)\n", cfg.Cache.Backend, cfg.Cache.TTL)
	for _, in := range cfg.Integrations {
		green.Print("    ▶ ")
		fmt.Printf("Integration:  /wx/%s", in.Name)
		if in.Encrypted() {
			yellow.Print(" [encrypted]")
		}
		gray.Printf(" reply=%s\n", in.Reply)
	}

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale:    ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			yellow.Print(" [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting wxcallback",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"integrations", len(cfg.Integrations),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func runCheck(w io.Writer) error {
	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: ok (%d integrations, cache %s)\n", configPath, len(cfg.Integrations), cfg.Cache.Backend)
	return nil
}

// healthURL returns the local health endpoint for the configured listener.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return fmt.Sprintf("http://%s/health", addr)
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL(cfg.Server.HTTPAddr), nil)
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

// parseFlags reads "--name value" and "--name=value" pairs for the allowed names.
func parseFlags(args []string, allowed ...string) (map[string]string, error) {
	known := make(map[string]bool, len(allowed))
	for _, name := range allowed {
		known[name] = true
	}

	values := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if !known[name] {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		values[name] = value
	}
	return values, nil
}

func runToken(w io.Writer, args []string) error {
	flags, err := parseFlags(args, "subject", "ttl")
	if err != nil {
		return err
	}

	subject := strings.TrimSpace(flags["subject"])
	if subject == "" {
		return fmt.Errorf("--subject flag is required")
	}

	ttl := defaultTokenTTL
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("--ttl must be a positive duration")
		}
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	return issueToken(w, cfg, subject, ttl)
}

func issueToken(w io.Writer, cfg *config.Config, subject string, ttl time.Duration) error {
	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is not configured; /api/messages is unauthenticated")
	}

	verifier, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	if err != nil {
		return fmt.Errorf("creating JWT verifier: %w", err)
	}

	token, err := verifier.Generate(subject, ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	fmt.Fprintln(w, token)
	return nil
}

func runSign(w io.Writer, args []string) error {
	flags, err := parseFlags(args, "integration", "echostr")
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	name := flags["integration"]
	if name == "" && len(cfg.Integrations) == 1 {
		name = cfg.Integrations[0].Name
	}
	in, ok := cfg.Integration(name)
	if !ok {
		return fmt.Errorf("--integration must name a configured integration")
	}

	echostr := flags["echostr"]
	if echostr == "" {
		echostr = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	nonce := strings.ReplaceAll(uuid.NewString(), "-", "")[:10]

	q := signQuery(in.Token, time.Now(), nonce, echostr)
	fmt.Fprintf(w, "/wx/%s?%s\n", in.Name, q.Encode())
	return nil
}

// signQuery builds the query string of a GET verification handshake.
func signQuery(token string, now time.Time, nonce, echostr string) url.Values {
	timestamp := strconv.FormatInt(now.Unix(), 10)
	return url.Values{
		"signature": {crypt.Sign(token, timestamp, nonce)},
		"timestamp": {timestamp},
		"nonce":     {nonce},
		"echostr":   {echostr},
	}
}

package setup

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/tunnelgw/tunnelgw/internal/config"
)

const (
	defaultConfigPath = "/etc/tunnelgw/config.yaml"
	defaultPort       = "8080"
	defaultWSPath     = "/ws"
	defaultHealthPort = "8081"
	defaultCIDRs      = "0.0.0.0/0,::/0"
)

// WizardOptions configures the setup wizard.
type WizardOptions struct {
	ConfigPath string // Override default config path
}

// RunWizard runs the interactive setup wizard.
// It takes io.Reader/io.Writer for testability.
func RunWizard(in io.Reader, out io.Writer, opts WizardOptions) error {
	scanner := bufio.NewScanner(in)
	configPath := opts.ConfigPath
	if configPath == "" {
		configPath = defaultConfigPath
	}

	isRoot := os.Geteuid() == 0
	if !isRoot && configPath == defaultConfigPath {
		configPath = "./config.yaml"
		fmt.Fprintf(out, "NOTE: Not running as root. Config will be written to %s\n", configPath)
		fmt.Fprintf(out, "      Run with sudo for system-wide install: sudo tunnelgw setup\n\n")
	}

	fmt.Fprintln(out, "tunnelgw Setup")
	fmt.Fprintln(out, "==============")
	fmt.Fprintln(out)

	// Step 1: WebSocket path
	wsPath := prompt(scanner, out,
		fmt.Sprintf("WebSocket path [%s]: ", defaultWSPath),
		defaultWSPath)

	// Step 2: Listen port
	listenPort := promptPort(scanner, out,
		fmt.Sprintf("Listen port [%s]: ", defaultPort),
		defaultPort)
	if reason := isPortAvailable("0.0.0.0", listenPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s %s\n\n", listenPort, reason)
	}

	// Step 3: Health port
	healthPort := promptPort(scanner, out,
		fmt.Sprintf("Health check port [%s]: ", defaultHealthPort),
		defaultHealthPort)
	healthAddress := net.JoinHostPort("127.0.0.1", healthPort)
	if reason := isPortAvailable("127.0.0.1", healthPort); reason != "" {
		fmt.Fprintf(out, "  WARNING: Port %s on 127.0.0.1 %s\n\n", healthPort, reason)
	}

	// Step 4: CIDR allow-list
	cidrs := prompt(scanner, out,
		fmt.Sprintf("CIDR allow-list, comma-separated [%s]: ", defaultCIDRs),
		defaultCIDRs)

	// Step 5: Auth token (optional)
	token := prompt(scanner, out,
		"Auth token (leave empty for none): ", "")

	// Step 6: TLS
	useTLSInput := prompt(scanner, out, "Enable TLS? [y/N]: ", "n")
	useTLS := strings.HasPrefix(strings.ToLower(useTLSInput), "y")
	var certFile, keyFile string
	if useTLS {
		certFile = prompt(scanner, out, "TLS cert file path: ", "")
		keyFile = prompt(scanner, out, "TLS key file path: ", "")
	}

	// Step 7: Check for existing config
	if _, err := os.Stat(configPath); err == nil {
		overwrite := prompt(scanner, out,
			fmt.Sprintf("Config already exists at %s. Overwrite? [y/N]: ", configPath), "n")
		if !strings.HasPrefix(strings.ToLower(overwrite), "y") {
			fmt.Fprintln(out, "Setup cancelled.")
			return nil
		}
	}

	// Step 8: Write config
	fmt.Fprintf(out, "\nWriting config to %s...\n", configPath)
	configContent := generateConfig(listenPort, wsPath, cidrs, healthAddress, token, useTLS, certFile, keyFile)

	if err := writeConfig(configPath, configContent, isRoot, out); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	fmt.Fprintln(out, "  Config written successfully.")

	// Step 9: Validate the written config
	fmt.Fprintln(out, "  Validating config...")
	if _, err := config.Load(configPath); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintln(out, "  Config is valid.")

	// Step 10: Offer to start systemd service (Linux + root only)
	if isRoot && isSystemdAvailable() {
		fmt.Fprintln(out)
		startService := prompt(scanner, out,
			"Start tunnelgw service now? [Y/n]: ", "y")
		if strings.HasPrefix(strings.ToLower(startService), "y") || startService == "" {
			if err := startSystemdService(out); err != nil {
				fmt.Fprintf(out, "  WARNING: Failed to start service: %v\n", err)
				fmt.Fprintln(out, "  You can start it manually: sudo systemctl start tunnelgw")
			}
		}
	}

	// Step 11: Print summary
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Setup complete!")
	fmt.Fprintln(out, "===============")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Config:  %s\n", configPath)
	fmt.Fprintf(out, "  Tunnel:  ws://0.0.0.0:%s%s\n", listenPort, wsPath)
	fmt.Fprintf(out, "  Health:  http://%s/health\n", healthAddress)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Useful commands:")
	fmt.Fprintf(out, "  Check health:   curl http://%s/health\n", healthAddress)
	fmt.Fprintln(out, "  View logs:      sudo journalctl -u tunnelgw -f")
	fmt.Fprintln(out, "  Validate:       tunnelgw validate --config "+configPath)

	return nil
}

// prompt displays a message and reads a line from the scanner.
// Returns defaultVal if input is empty or EOF.
func prompt(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	fmt.Fprint(out, message)
	if scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input != "" {
			return input
		}
	}
	return defaultVal
}

// validatePort checks that a port string is a valid TCP port (1-65535).
func validatePort(port string) bool {
	n, err := strconv.Atoi(port)
	if err != nil {
		return false
	}
	return n >= 1 && n <= 65535
}

// promptPort prompts for a port, re-prompting on invalid input.
// Returns defaultVal on empty/EOF input.
func promptPort(scanner *bufio.Scanner, out io.Writer, message, defaultVal string) string {
	val := prompt(scanner, out, message, defaultVal)
	for !validatePort(val) {
		fmt.Fprintf(out, "  Invalid port %q: must be a number between 1 and 65535\n", val)
		val = prompt(scanner, out, message, defaultVal)
		if val == defaultVal {
			return defaultVal
		}
	}
	return val
}

// detectTailscaleIP finds a local Tailscale IP address (in 100.64.0.0/10),
// if any. tunnelgw doesn't require Tailscale, and RunWizard does not call
// this function.
func detectTailscaleIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	_, tsRange, err := net.ParseCIDR("100.64.0.0/10")
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if tsRange.Contains(ipNet.IP) {
			return ipNet.IP.String()
		}
	}
	return ""
}

// isPortAvailable checks if a TCP port is free on the given host.
// Returns empty string if available, or a reason string if not.
func isPortAvailable(host, port string) string {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, port))
	if err != nil {
		if errors.Is(err, syscall.EACCES) {
			return "permission denied (try sudo or a port >= 1024)"
		}
		return "appears to be in use"
	}
	ln.Close()
	return ""
}

// isSystemdAvailable checks if systemctl is available.
func isSystemdAvailable() bool {
	_, err := exec.LookPath("systemctl")
	return err == nil
}

// startSystemdService starts (or restarts) the tunnelgw service.
func startSystemdService(out io.Writer) error {
	if err := exec.Command("systemctl", "daemon-reload").Run(); err != nil {
		return fmt.Errorf("daemon-reload: %w", err)
	}

	if err := exec.Command("systemctl", "restart", "tunnelgw").Run(); err != nil {
		if err := exec.Command("systemctl", "start", "tunnelgw").Run(); err != nil {
			return err
		}
	}

	time.Sleep(2 * time.Second)
	output, err := exec.Command("systemctl", "is-active", "tunnelgw").Output()
	if err != nil {
		return fmt.Errorf("service did not start (status: %s)", strings.TrimSpace(string(output)))
	}
	status := strings.TrimSpace(string(output))
	if status == "active" {
		fmt.Fprintln(out, "  Service started successfully.")
	} else {
		fmt.Fprintf(out, "  Service status: %s\n", status)
	}
	return nil
}

// yamlEscapeString escapes a string for use inside YAML double quotes.
func yamlEscapeString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return s
}

// generateConfig creates a commented YAML config string.
func generateConfig(port, wsPath, cidrs, healthAddress, token string, useTLS bool, certFile, keyFile string) string {
	tokenLine := `  token: ""`
	if token != "" {
		tokenLine = fmt.Sprintf(`  token: "%s"`, yamlEscapeString(token))
	}

	cidrList := strings.Split(cidrs, ",")
	var cidrLines strings.Builder
	for _, c := range cidrList {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		cidrLines.WriteString(fmt.Sprintf("    - %q\n", c))
	}

	tlsLines := fmt.Sprintf("  use_tls: %t\n  cert_file: %q\n  key_file: %q\n", useTLS, certFile, keyFile)

	return fmt.Sprintf(`# tunnelgw configuration
# Generated by: tunnelgw setup

bridge:
  # Listen port for the tunnel WebSocket
  port: %s

  # Path the WebSocket upgrade must target
  ws_path: "%s"

%s
  # Shutdown: wait for active sessions to finish
  drain_timeout: "30s"

  # Frame settings
  max_message_size: 1048576  # 1MB

security:
  # CIDR allow-list checked before every WebSocket upgrade
  cidrs:
%s
  # Auth token (optional). Clients offer it as the Sec-WebSocket-Protocol
  # subprotocol value.
%s

  rate_limit:
    enabled: false
    connections_per_minute: 120

logging:
  level: "info"
  format: "json"
  file: ""  # Empty = stdout (journald captures this)

health:
  enabled: true
  endpoint: "/health"
  listen_address: "%s"

debug:
  enabled: true
  buffer_size: 1000
`, port, yamlEscapeString(wsPath), tlsLines, cidrLines.String(), tokenLine, yamlEscapeString(healthAddress))
}

// writeConfig writes the config file, creating parent directories as needed.
func writeConfig(path, content string, setOwnership bool, out io.Writer) error {
	path = filepath.Clean(path)

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating config directory %s: %w", dir, err)
		}
	}

	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if setOwnership {
		u, err := user.Lookup("tunnelgw")
		if err != nil {
			fmt.Fprintf(out, "  WARNING: Could not look up user tunnelgw: %v\n", err)
		} else {
			g, err := user.LookupGroup("tunnelgw")
			if err != nil {
				fmt.Fprintf(out, "  WARNING: Could not look up group tunnelgw: %v\n", err)
			} else {
				uid, err := strconv.Atoi(u.Uid)
				if err != nil {
					fmt.Fprintf(out, "  WARNING: Could not parse UID %q for user tunnelgw: %v\n", u.Uid, err)
					return nil
				}
				gid, err := strconv.Atoi(g.Gid)
				if err != nil {
					fmt.Fprintf(out, "  WARNING: Could not parse GID %q for group tunnelgw: %v\n", g.Gid, err)
					return nil
				}
				if err := os.Chown(path, uid, gid); err != nil {
					fmt.Fprintf(out, "  WARNING: Could not set ownership to tunnelgw:tunnelgw: %v\n", err)
				}
			}
		}
	}

	return nil
}

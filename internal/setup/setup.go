// Package setup registers the lite MCP server with a desktop MCP client.
package setup

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/admission-criteria-server/internal/config"
)

// ServerName is the key the server is registered under in the client config.
const ServerName = "admission-criteria"

// ClientConfig is the MCP client configuration file.
// Unknown top-level keys are preserved across a rewrite.
type ClientConfig struct {
	MCPServers map[string]MCPServerConfig `json:"mcpServers"`
	extra      map[string]json.RawMessage
}

// MCPServerConfig represents a single MCP server entry.
type MCPServerConfig struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options controls a registration.
type Options struct {
	ConfigPath  string // Client config file; empty uses the platform default
	BinaryPath  string // Path to mcp-server-lite; empty searches common locations
	DataDir     string // Exported as ADMISSION_DATA_DIR
	PassAPIKey  bool   // Copy GROQ_API_KEY from the current environment
	AutoConfirm bool
}

// DefaultClientConfigPath returns the desktop client's config file for this OS.
func DefaultClientConfigPath() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support", "Claude")
	case "linux":
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "Claude")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config", "Claude")
		}
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", fmt.Errorf("APPDATA environment variable not set")
		}
		configDir = filepath.Join(appData, "Claude")
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}

	return filepath.Join(configDir, "claude_desktop_config.json"), nil
}

// LoadClientConfig reads the client config. A missing file yields an empty config.
func LoadClientConfig(path string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		MCPServers: make(map[string]MCPServerConfig),
		extra:      make(map[string]json.RawMessage),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, &cfg.extra); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if raw, ok := cfg.extra["mcpServers"]; ok {
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("failed to parse mcpServers: %w", err)
		}
		delete(cfg.extra, "mcpServers")
	}
	if cfg.MCPServers == nil {
		cfg.MCPServers = make(map[string]MCPServerConfig)
	}

	return cfg, nil
}

// Save writes the config back, creating the directory if needed.
func (c *ClientConfig) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := make(map[string]interface{}, len(c.extra)+1)
	for k, v := range c.extra {
		out[k] = v
	}
	out["mcpServers"] = c.MCPServers

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Register adds or replaces the server entry and returns the path written.
func Register(opts Options) (string, error) {
	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return "", err
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return "", err
	}

	binaryPath := opts.BinaryPath
	if binaryPath == "" {
		if binaryPath, err = findBinary(); err != nil {
			return "", fmt.Errorf("could not find server binary: %w", err)
		}
	}

	entry := MCPServerConfig{
		Command: binaryPath,
		Env:     make(map[string]string),
	}
	if opts.DataDir != "" {
		entry.Env["ADMISSION_DATA_DIR"] = opts.DataDir
	}
	if opts.PassAPIKey {
		if key := os.Getenv("GROQ_API_KEY"); key != "" {
			entry.Env["GROQ_API_KEY"] = key
		}
	}

	cfg.MCPServers[ServerName] = entry
	if err := cfg.Save(path); err != nil {
		return "", err
	}
	return path, nil
}

// Unregister removes the server entry. It reports whether an entry existed.
func Unregister(configPath string) (bool, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return false, err
	}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.MCPServers[ServerName]; !ok {
		return false, nil
	}

	delete(cfg.MCPServers, ServerName)
	return true, cfg.Save(path)
}

// Status represents the current registration.
type Status struct {
	ConfigPath     string
	Registered     bool
	ServerPath     string
	DataDir        string
	RewriterKeySet bool
	FeedbackDB     bool
	Issues         []string
}

// GetStatus inspects the client config and the data directory.
func GetStatus(configPath string) (*Status, error) {
	path, err := resolveConfigPath(configPath)
	if err != nil {
		return nil, err
	}

	status := &Status{ConfigPath: path, Issues: []string{}}

	cfg, err := LoadClientConfig(path)
	if err != nil {
		status.Issues = append(status.Issues, fmt.Sprintf("Could not load client config: %v", err))
		return status, nil
	}

	entry, ok := cfg.MCPServers[ServerName]
	if ok {
		status.Registered = true
		status.ServerPath = entry.Command
		status.DataDir = entry.Env["ADMISSION_DATA_DIR"]
		status.RewriterKeySet = entry.Env["GROQ_API_KEY"] != ""

		if _, err := os.Stat(entry.Command); os.IsNotExist(err) {
			status.Issues = append(status.Issues, fmt.Sprintf("Server binary not found at: %s", entry.Command))
		}
	} else {
		status.Issues = append(status.Issues, "Server is not registered with the MCP client")
	}

	if status.DataDir == "" {
		status.DataDir = config.DefaultLiteConfig().DataDir
	}
	lite := &config.LiteConfig{DataDir: status.DataDir}
	if _, err := os.Stat(lite.FeedbackDBPath()); err == nil {
		status.FeedbackDB = true
	}

	return status, nil
}

func resolveConfigPath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	return DefaultClientConfigPath()
}

func findBinary() (string, error) {
	const binaryName = "mcp-server-lite"

	if path, err := exec.LookPath(binaryName); err == nil {
		return path, nil
	}

	locations := []string{
		"./" + binaryName,
		"./build/" + binaryName,
		filepath.Join(os.Getenv("HOME"), ".local", "bin", binaryName),
		"/usr/local/bin/" + binaryName,
	}
	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			if abs, err := filepath.Abs(loc); err == nil {
				return abs, nil
			}
			return loc, nil
		}
	}

	return "", fmt.Errorf("binary '%s' not found in common locations", binaryName)
}

package setup

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

const helpText = `
Admission Criteria MCP Server Setup

Usage:
  mcp-server-lite setup <command> [options]

Commands:
  register    Register this binary with the desktop MCP client
  unregister  Remove the registration
  status      Show current setup status

Options (register):
  --binary, -b     Path to mcp-server-lite (default: this executable)
  --data-dir, -d   Data directory exported as ADMISSION_DATA_DIR
  --config, -c     Client config file (default: platform location)
  --with-api-key   Copy GROQ_API_KEY from the environment into the entry
  --yes, -y        Do not ask for confirmation
`

// CLI runs the setup subcommand.
type CLI struct {
	in  *bufio.Reader
	out io.Writer
}

// NewCLI creates a CLI bound to stdin and stdout.
func NewCLI() *CLI {
	return NewCLIWithIO(os.Stdin, os.Stdout)
}

// NewCLIWithIO creates a CLI bound to the given streams.
func NewCLIWithIO(in io.Reader, out io.Writer) *CLI {
	return &CLI{in: bufio.NewReader(in), out: out}
}

// Run executes the setup command named by args[0].
func (c *CLI) Run(args []string) error {
	if len(args) == 0 {
		fmt.Fprint(c.out, helpText+"\n")
		return nil
	}

	opts, err := parseOptions(args[1:])
	if err != nil {
		return err
	}

	switch args[0] {
	case "register":
		return c.register(opts)
	case "unregister":
		return c.unregister(opts)
	case "status":
		return c.status(opts)
	case "help", "--help", "-h":
		fmt.Fprint(c.out, helpText+"\n")
		return nil
	default:
		return fmt.Errorf("unknown setup command: %s", args[0])
	}
}

func parseOptions(args []string) (Options, error) {
	var opts Options
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--binary", "-b", "--data-dir", "-d", "--config", "-c":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("missing value for %s", args[i])
			}
			value := args[i+1]
			switch args[i] {
			case "--binary", "-b":
				opts.BinaryPath = value
			case "--data-dir", "-d":
				opts.DataDir = value
			default:
				opts.ConfigPath = value
			}
			i++
		case "--with-api-key":
			opts.PassAPIKey = true
		case "--yes", "-y":
			opts.AutoConfirm = true
		default:
			return opts, fmt.Errorf("unknown option: %s", args[i])
		}
	}
	return opts, nil
}

func (c *CLI) register(opts Options) error {
	if opts.BinaryPath == "" {
		if exe, err := os.Executable(); err == nil {
			opts.BinaryPath = exe
		}
	}

	path, err := resolveConfigPath(opts.ConfigPath)
	if err != nil {
		return err
	}
	opts.ConfigPath = path

	fmt.Fprintf(c.out, "Config file:   %s\n", path)
	fmt.Fprintf(c.out, "Server binary: %s\n", opts.BinaryPath)
	if opts.DataDir != "" {
		fmt.Fprintf(c.out, "Data dir:      %s\n", opts.DataDir)
	}

	if !opts.AutoConfirm && !c.confirm("Proceed? [Y/n]: ") {
		fmt.Fprintln(c.out, "Registration cancelled.")
		return nil
	}

	if _, err := Register(opts); err != nil {
		return fmt.Errorf("failed to register server: %w", err)
	}

	fmt.Fprintln(c.out, "Registered. Restart the MCP client to load the analyze_note tools.")
	return nil
}

func (c *CLI) unregister(opts Options) error {
	removed, err := Unregister(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to unregister server: %w", err)
	}
	if removed {
		fmt.Fprintln(c.out, "Registration removed.")
	} else {
		fmt.Fprintln(c.out, "Server was not registered.")
	}
	return nil
}

func (c *CLI) status(opts Options) error {
	status, err := GetStatus(opts.ConfigPath)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "Config file: %s\n", status.ConfigPath)
	fmt.Fprintf(c.out, "Registered:  %s\n", yesNo(status.Registered))
	if status.Registered {
		fmt.Fprintf(c.out, "Binary:      %s\n", status.ServerPath)
		fmt.Fprintf(c.out, "Rewriter:    %s\n", yesNo(status.RewriterKeySet))
	}
	fmt.Fprintf(c.out, "Data dir:    %s\n", status.DataDir)
	fmt.Fprintf(c.out, "Feedback DB: %s\n", yesNo(status.FeedbackDB))

	for _, issue := range status.Issues {
		fmt.Fprintf(c.out, "  ! %s\n", issue)
	}
	return nil
}

func (c *CLI) confirm(prompt string) bool {
	fmt.Fprint(c.out, prompt)
	response, _ := c.in.ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "" || response == "y" || response == "yes"
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

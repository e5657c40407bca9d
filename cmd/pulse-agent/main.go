// ABOUTME: Headless agent CLI for pairing a device with a pulse-gateway
// ABOUTME: Persists device identity and issued token in a local TOML state file

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/pulselog/pulse-gateway/internal/poller"
)

var version = "dev"

// agentState is the on-disk record of this device's pairing. The token is a
// credential, so the file is written with 0600 permissions.
type agentState struct {
	DeviceID    string `toml:"device_id"`
	GatewayURL  string `toml:"gateway_url"`
	DisplayName string `toml:"display_name,omitempty"`
	DeviceClass string `toml:"device_class,omitempty"`
	Token       string `toml:"token,omitempty"`
	PairedAt    string `toml:"paired_at,omitempty"`
}

// getStatePath returns the path to the agent state file.
// Priority: PULSE_AGENT_STATE env var > XDG_CONFIG_HOME/pulse/agent.toml > ~/.config/pulse/agent.toml
func getStatePath() string {
	if envPath := os.Getenv("PULSE_AGENT_STATE"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "agent.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "pulse", "agent.toml")
}

func loadState(path string) (*agentState, error) {
	var st agentState
	if _, err := toml.DecodeFile(path, &st); err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return &st, nil
}

func saveState(path string, st *agentState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	var buf strings.Builder
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.WriteFile(path, []byte(buf.String()), 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	return nil
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: pulse-agent <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  pair --gateway URL [--name NAME] [--class CLASS] [--wait DURATION]")
		fmt.Println("                   Register this device and wait for operator approval")
		fmt.Println("  status           Show pairing state and verify the stored token")
		fmt.Println("  forget [--revoke] Remove local state, optionally revoking on the gateway")
		fmt.Println("  version          Print version")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "pair":
		err = runPair(ctx)
	case "status":
		err = runStatus(ctx)
	case "forget":
		err = runForget(ctx)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runPair(ctx context.Context) error {
	var gatewayURL, displayName, deviceClass string
	var waitFor time.Duration

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--gateway" || arg == "-g":
			if i+1 >= len(args) {
				return fmt.Errorf("--gateway requires a value")
			}
			gatewayURL = args[i+1]
			i++
		case strings.HasPrefix(arg, "--gateway="):
			gatewayURL = strings.TrimPrefix(arg, "--gateway=")
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			displayName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			displayName = strings.TrimPrefix(arg, "--name=")
		case arg == "--class":
			if i+1 >= len(args) {
				return fmt.Errorf("--class requires a value")
			}
			deviceClass = args[i+1]
			i++
		case strings.HasPrefix(arg, "--class="):
			deviceClass = strings.TrimPrefix(arg, "--class=")
		case arg == "--wait" || arg == "-w":
			if i+1 >= len(args) {
				return fmt.Errorf("--wait requires a value")
			}
			d, err := time.ParseDuration(args[i+1])
			if err != nil {
				return fmt.Errorf("invalid --wait duration: %w", err)
			}
			waitFor = d
			i++
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	statePath := getStatePath()
	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)

	// Resume an earlier attempt if state already exists, otherwise mint a
	// fresh identity. A device revoked by its operator must start over with
	// a new identity, which "forget" provides.
	st, err := loadState(statePath)
	switch {
	case err == nil:
		if st.Token != "" {
			return fmt.Errorf("already paired as %s (use 'pulse-agent forget' first)", st.DeviceID)
		}
		if gatewayURL != "" && gatewayURL != st.GatewayURL {
			return fmt.Errorf("state file targets %s, not %s (use 'pulse-agent forget' to switch)", st.GatewayURL, gatewayURL)
		}
		cyan.Printf("Resuming pairing as %s\n", st.DeviceID)
	case os.IsNotExist(err):
		if gatewayURL == "" {
			return fmt.Errorf("--gateway flag is required")
		}
		hostname, _ := os.Hostname()
		if displayName == "" {
			displayName = hostname
		}
		st = &agentState{
			DeviceID:    "dev-" + uuid.New().String(),
			GatewayURL:  gatewayURL,
			DisplayName: displayName,
			DeviceClass: deviceClass,
		}
		if err := saveState(statePath, st); err != nil {
			return err
		}
		cyan.Printf("Created device identity %s\n", st.DeviceID)
	default:
		return err
	}

	client := poller.NewClient(st.GatewayURL)
	if err := client.Register(ctx, st.DeviceID, st.DisplayName, st.DeviceClass); err != nil {
		return fmt.Errorf("registering with gateway: %w", err)
	}

	fmt.Println()
	fmt.Printf("Device ID: %s\n", st.DeviceID)
	fmt.Printf("Gateway:   %s\n", st.GatewayURL)
	fmt.Println()
	fmt.Println("Waiting for an operator to confirm this device...")

	p := &poller.Poller{Client: client, MaxWait: waitFor}
	token, err := p.WaitForConfirmation(ctx, st.DeviceID)
	if err != nil {
		if errors.Is(err, poller.ErrTimeout) {
			return fmt.Errorf("no confirmation received; run 'pulse-agent pair' again to keep waiting")
		}
		return err
	}

	st.Token = token
	st.PairedAt = time.Now().UTC().Format(time.RFC3339)
	if err := saveState(statePath, st); err != nil {
		return fmt.Errorf("pairing succeeded but saving state failed: %w", err)
	}

	fmt.Println()
	green.Println("Paired!")
	fmt.Printf("Token stored in %s\n", statePath)
	return nil
}

func runStatus(ctx context.Context) error {
	statePath := getStatePath()
	st, err := loadState(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Not paired (no state file)")
			return nil
		}
		return err
	}

	fmt.Printf("Device ID: %s\n", st.DeviceID)
	fmt.Printf("Gateway:   %s\n", st.GatewayURL)
	if st.DisplayName != "" {
		fmt.Printf("Name:      %s\n", st.DisplayName)
	}

	if st.Token == "" {
		fmt.Println("State:     pending (pairing not confirmed)")
		return nil
	}

	fmt.Printf("Paired at: %s\n", st.PairedAt)

	client := poller.NewClient(st.GatewayURL)
	if err := client.Verify(ctx, st.Token); err != nil {
		color.New(color.FgYellow).Println("State:     token no longer accepted by gateway")
		fmt.Println("The pairing may have been revoked. Run 'pulse-agent forget' and pair again.")
		return nil
	}

	color.New(color.FgGreen).Println("State:     active")
	return nil
}

func runForget(ctx context.Context) error {
	revoke := false
	for _, arg := range os.Args[2:] {
		switch arg {
		case "--revoke", "-r":
			revoke = true
		default:
			return fmt.Errorf("unknown flag: %s", arg)
		}
	}

	statePath := getStatePath()
	st, err := loadState(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Println("Nothing to forget")
			return nil
		}
		return err
	}

	if revoke && st.Token != "" {
		client := poller.NewClient(st.GatewayURL)
		if err := client.Revoke(ctx, st.DeviceID, st.Token); err != nil {
			// Keep the state file so the user can retry the revoke.
			return fmt.Errorf("revoking on gateway: %w", err)
		}
		fmt.Printf("Revoked %s on %s\n", st.DeviceID, st.GatewayURL)
	}

	if err := os.Remove(statePath); err != nil {
		return fmt.Errorf("removing state file: %w", err)
	}
	fmt.Printf("Removed %s\n", statePath)
	return nil
}

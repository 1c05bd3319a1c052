package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/actiongate/internal/client"
)

// exitBlocked is the exit code when the gate did not run an action.
const exitBlocked = 77

// remoteAddr, when set, sends the command to a running gate server
// instead of opening the local stores.
var remoteAddr string

func addRemoteFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&remoteAddr, "remote", "", "Address of a running gate server (e.g. localhost:50051)")
}

func dialRemote() (*client.Client, error) {
	c, err := client.New(remoteAddr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Println(string(out))
	return nil
}

// requireTenant returns the configured tenant or an error naming the flag.
func requireTenant() (string, error) {
	if appConfig.Agent.TenantID == "" {
		return "", fmt.Errorf("--tenant is required (or set agent.tenant_id / ACTIONGATE_AGENT_TENANT_ID)")
	}
	return appConfig.Agent.TenantID, nil
}

package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"firestige.xyz/trapd/internal/command"
)

// ControlClient is the daemon control surface the CLI commands use.
// *command.UDSClient implements it; tests inject a mock.
type ControlClient interface {
	Status(ctx context.Context) (*command.Response, error)
	Stats(ctx context.Context) (*command.Response, error)
	ConfigReload(ctx context.Context) (*command.Response, error)
	Shutdown(ctx context.Context) (*command.Response, error)
	ListTraps(ctx context.Context, params command.TrapsListParams) (*command.Response, error)
}

var cli ControlClient

// client returns the injected client, or a UDS client for --socket.
func client() ControlClient {
	if cli != nil {
		return cli
	}
	return command.NewUDSClient(socketPath, 10*time.Second)
}

// SetClient is used by tests to inject a mock client.
func SetClient(c ControlClient) {
	cli = c
}

// GetClient returns the injected client, nil by default.
func GetClient() ControlClient {
	return cli
}

// checkResponse turns a transport error or JSON-RPC error into one error.
func checkResponse(method string, resp *command.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s failed: %s", method, resp.Error.Message)
	}
	return nil
}

// printJSON writes v indented.
func printJSON(out io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format result: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}

package cli

import (
	"fmt"
)

// CheckCmd verifies the daemon is reachable over its socket.
type CheckCmd struct{}

// Run executes the check command.
func (c *CheckCmd) Run(cli *CLI) error {
	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()

	if _, err := cl.List(0); err != nil {
		return fmt.Errorf("daemon reachable but list failed: %w", err)
	}
	path, _ := cli.SocketPath()
	fmt.Printf("ok: daemon reachable at %s\n", path)
	return nil
}

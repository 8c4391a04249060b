package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	fmt.Println(string(output))
	return nil
}

// parseIP parses addr and rejects non-addresses.
func parseIP(addr string) (net.IP, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %q", addr)
	}
	return ip, nil
}

// parseDirection maps "in"/"out" onto the transform direction.
func parseDirection(s string) (ipsecmgr.Direction, error) {
	switch s {
	case "in":
		return ipsecmgr.DirectionIn, nil
	case "out":
		return ipsecmgr.DirectionOut, nil
	default:
		return 0, fmt.Errorf("direction must be in or out, got %q", s)
	}
}

// holdUntilInterrupted blocks until SIGINT or SIGTERM. Resources
// created by a CLI command live only as long as its daemon connection,
// so commands with --hold park here to keep the resource alive.
func holdUntilInterrupted() {
	fmt.Fprintln(os.Stderr, "holding resource; interrupt to release")
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()
}

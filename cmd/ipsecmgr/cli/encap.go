package cli

import (
	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// OpenEncapCmd opens a UDP encapsulation socket.
type OpenEncapCmd struct {
	Port int  `name:"port" help:"Local port to bind (0 lets the kernel choose)."`
	Hold bool `name:"hold" help:"Keep the process, and therefore the socket, alive until interrupted."`
}

// Run executes the open-encap command.
func (c *OpenEncapCmd) Run(cli *CLI) error {
	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()

	sock, err := cl.OpenEncapSocket(c.Port)
	if err != nil {
		return err
	}
	defer sock.File.Close()

	if err := printJSON(map[string]any{"id": sock.ID, "port": sock.Port}); err != nil {
		return err
	}
	if c.Hold {
		holdUntilInterrupted()
	}
	return nil
}

// CloseEncapCmd closes a UDP encapsulation socket.
type CloseEncapCmd struct {
	ID uint32 `arg:"" help:"Resource identifier of the socket."`
}

// Run executes the close-encap command.
func (c *CloseEncapCmd) Run(cli *CLI) error {
	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()
	return cl.CloseEncapSocket(ipsecmgr.ResourceID(c.ID))
}

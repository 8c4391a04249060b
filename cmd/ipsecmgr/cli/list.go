package cli

import (
	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// ListCmd lists a principal's resources.
type ListCmd struct {
	Principal uint32 `name:"principal" help:"Principal (UID) to list; 0 means the caller. Listing others requires privilege."`
}

// Run executes the list command.
func (c *ListCmd) Run(cli *CLI) error {
	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()

	snap, err := cl.List(ipsecmgr.Principal(c.Principal))
	if err != nil {
		return err
	}
	return printJSON(snap)
}

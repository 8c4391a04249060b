package cli

import (
	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// ReserveSpiCmd reserves a security parameter index.
type ReserveSpiCmd struct {
	Direction string `arg:"" enum:"in,out" help:"Transform direction (in or out)."`
	Src       string `name:"src" required:"" help:"Local address."`
	Dst       string `name:"dst" required:"" help:"Remote address."`
	Spi       uint32 `name:"spi" help:"Requested SPI value (0 lets the kernel choose)."`
	Hold      bool   `name:"hold" help:"Keep the process, and therefore the reservation, alive until interrupted."`
}

// Run executes the reserve-spi command.
func (c *ReserveSpiCmd) Run(cli *CLI) error {
	direction, err := parseDirection(c.Direction)
	if err != nil {
		return err
	}
	src, err := parseIP(c.Src)
	if err != nil {
		return err
	}
	dst, err := parseIP(c.Dst)
	if err != nil {
		return err
	}

	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()

	id, spi, err := cl.ReserveSpi(direction, src, dst, ipsecmgr.SPI(c.Spi))
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{"id": id, "spi": spi}); err != nil {
		return err
	}
	if c.Hold {
		holdUntilInterrupted()
	}
	return nil
}

// ReleaseSpiCmd releases a reserved SPI.
type ReleaseSpiCmd struct {
	ID uint32 `arg:"" help:"Resource identifier of the reservation."`
}

// Run executes the release-spi command.
func (c *ReleaseSpiCmd) Run(cli *CLI) error {
	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()
	return cl.ReleaseSpi(ipsecmgr.ResourceID(c.ID))
}

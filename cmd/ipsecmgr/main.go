// ipsecmgr manages kernel IPsec security associations on behalf of
// unprivileged clients.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/frobware/go-ipsecmgr/cmd/ipsecmgr/cli"
)

func main() {
	var c cli.CLI
	ctx := kong.Parse(&c, cli.KongOptions()...)
	if err := ctx.Run(&c); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

package cli

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
)

// CreateTransformCmd creates a transform from reserved SPIs.
type CreateTransformCmd struct {
	SpiIn  uint32 `name:"spi-in" required:"" help:"Resource identifier of the inbound SPI reservation."`
	SpiOut uint32 `name:"spi-out" required:"" help:"Resource identifier of the outbound SPI reservation."`
	Encap  uint32 `name:"encap" help:"Resource identifier of a UDP encapsulation socket."`

	Src string `name:"src" required:"" help:"Local address."`
	Dst string `name:"dst" required:"" help:"Remote address."`

	Auth  string `name:"auth" help:"Authentication algorithm as name:hexkey:truncbits (e.g. 'hmac(sha256):001122...:128')."`
	Crypt string `name:"crypt" help:"Encryption algorithm as name:hexkey (e.g. 'cbc(aes):001122...')."`
	Aead  string `name:"aead" help:"AEAD algorithm as name:hexkey:icvbits (e.g. 'rfc4106(gcm(aes)):001122...:128')."`

	ReqID           int  `name:"reqid" help:"XFRM request identifier."`
	EncapRemotePort int  `name:"encap-remote-port" help:"Remote UDP encapsulation port (default 4500)."`
	Hold            bool `name:"hold" help:"Keep the process, and therefore the transform, alive until interrupted."`
}

// Run executes the create-transform command.
func (c *CreateTransformCmd) Run(cli *CLI) error {
	src, err := parseIP(c.Src)
	if err != nil {
		return err
	}
	dst, err := parseIP(c.Dst)
	if err != nil {
		return err
	}

	cfg := ipsecmgr.SaConfig{
		Src:   src,
		Dst:   dst,
		ReqID: c.ReqID,
	}
	if cfg.Auth, err = parseAlgo(c.Auth, true); err != nil {
		return fmt.Errorf("invalid --auth: %w", err)
	}
	if cfg.Crypt, err = parseAlgo(c.Crypt, false); err != nil {
		return fmt.Errorf("invalid --crypt: %w", err)
	}
	if cfg.Aead, err = parseAlgo(c.Aead, true); err != nil {
		return fmt.Errorf("invalid --aead: %w", err)
	}
	if c.EncapRemotePort != 0 {
		cfg.Encap = &ipsecmgr.EncapConfig{DstPort: c.EncapRemotePort}
	}

	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()

	id, err := cl.CreateTransform(ipsecmgr.TransformSpec{
		Config:      cfg,
		SpiIn:       ipsecmgr.ResourceID(c.SpiIn),
		SpiOut:      ipsecmgr.ResourceID(c.SpiOut),
		EncapSocket: ipsecmgr.ResourceID(c.Encap),
	})
	if err != nil {
		return err
	}
	if err := printJSON(map[string]any{"id": id}); err != nil {
		return err
	}
	if c.Hold {
		holdUntilInterrupted()
	}
	return nil
}

// DeleteTransformCmd deletes a transform.
type DeleteTransformCmd struct {
	ID uint32 `arg:"" help:"Resource identifier of the transform."`
}

// Run executes the delete-transform command.
func (c *DeleteTransformCmd) Run(cli *CLI) error {
	cl, err := cli.Dial()
	if err != nil {
		return err
	}
	defer cl.Close()
	return cl.DeleteTransform(ipsecmgr.ResourceID(c.ID))
}

// parseAlgo parses name:hexkey[:bits]. Returns nil for the empty
// string.
func parseAlgo(s string, wantBits bool) (*ipsecmgr.Algo, error) {
	if s == "" {
		return nil, nil
	}
	want := "name:hexkey"
	if wantBits {
		want += ":bits"
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || (wantBits && len(parts) != 3) || len(parts) > 3 {
		return nil, fmt.Errorf("expected %s, got %q", want, s)
	}
	key, err := hex.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("key is not hex: %w", err)
	}
	algo := &ipsecmgr.Algo{Name: parts[0], Key: key}
	if len(parts) == 3 {
		bits, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("bits is not a number: %w", err)
		}
		algo.TruncLenBits = bits
	}
	return algo, nil
}

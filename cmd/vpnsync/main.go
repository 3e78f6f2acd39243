package main

import (
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container
)

var cli CLI

func main() {
	ctx := kong.Parse(
		&cli,
		kong.UsageOnError(),
		kong.Name("vpnsync"),
		kong.Description("Keeps a signed-in VPN client's account, server catalog and certificate fresh"),
	)

	// See respective commands Run() methods
	if err := ctx.Run(&cli); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

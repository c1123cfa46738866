// Command ara is the operator-facing CLI for the Autonomous Role
// Architecture kernel: role and skill inspection, session lifecycle,
// audit review, and credential management.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/ara-systems/ara/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Globals holds the resources every command shares, built once from the
// resolved ara.toml plus CLI overrides.
type Globals struct {
	Config *config.Config
}

func main() {
	_ = godotenv.Load()

	var cli CLI
	parser := kong.Must(&cli,
		kong.Name("ara"),
		kong.Description("Operator surface for the Autonomous Role Architecture kernel."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	cfg, cfgErr := config.LoadFile(cli.Config)
	if cfgErr != nil {
		cfg = config.New()
	}

	if err := kctx.Run(&Globals{Config: cfg}); err != nil {
		fmt.Fprintln(os.Stderr, "ara:", err)
		os.Exit(1)
	}
}

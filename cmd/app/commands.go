package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/starford/mioring/internal"
	"github.com/starford/mioring/internal/ring"
	"github.com/starford/mioring/internal/seal"
	pkgconfig "github.com/starford/mioring/pkg/config"
)

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	if _, err := pkgconfig.LoadOrDefault(cmd.String("config"), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg), internal.WithVersion(version)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the HTTP API, SSE stream and inbox watcher",
		Action: serve,
	}
}

func mcpCommand() *cli.Command {
	return &cli.Command{
		Name:  "mcp",
		Usage: "Serve the ring to an MCP client over stdio",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return internal.ServeMCP(ctx, internal.WithConfig(cfg), internal.WithVersion(version))
		},
	}
}

// withRing opens the configured ring for a one-shot command and prints
// whatever fn returns as JSON.
func withRing(fn func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error)) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		rt, err := internal.Open(cfg, internal.NewLogger(cfg.App.LogLevel))
		if err != nil {
			return err
		}
		defer rt.Close()

		out, err := fn(ctx, cmd, rt)
		if out != nil {
			if perr := printJSON(cmd, out); perr != nil {
				return perr
			}
		}
		return err
	}
}

func printJSON(cmd *cli.Command, v any) error {
	enc := json.NewEncoder(cmd.Root().Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseIDs(args []string) ([]ring.MioID, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one specter id is required")
	}
	ids := make([]ring.MioID, 0, len(args))
	for _, a := range args {
		id, err := ring.ParseMioID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func oneID(cmd *cli.Command) (ring.MioID, error) {
	if cmd.Args().Len() != 1 {
		return ring.MioID{}, fmt.Errorf("exactly one specter id is required")
	}
	return ring.ParseMioID(cmd.Args().First())
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:      "register",
		Usage:     "Register files, a piece of text, or the clipboard",
		ArgsUsage: "[file...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Register this text instead of files"},
			&cli.BoolFlag{Name: "clipboard", Usage: "Register the clipboard contents"},
			&cli.BoolFlag{Name: "move", Usage: "Remove the original files once registered"},
		},
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			switch {
			case cmd.String("text") != "":
				id, err := rt.Service.RegisterText(ctx, cmd.String("text"), "")
				if err != nil {
					return nil, err
				}
				return []ring.MioID{id}, nil
			case cmd.Bool("clipboard"):
				return rt.Service.RegisterClipboard(ctx)
			case cmd.Args().Len() > 0:
				return rt.Service.RegisterFiles(ctx, cmd.Args().Slice(), cmd.Bool("move"))
			}
			return nil, fmt.Errorf("nothing to register: pass files, --text or --clipboard")
		}),
	}
}

func initiateCommand() *cli.Command {
	return &cli.Command{
		Name:      "initiate",
		Usage:     "Record a pending operation over existing specters",
		ArgsUsage: "<base-id>...",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Aliases: []string{"k"}, Usage: "Operation kind, e.g. crop or convert:text", Required: true},
			&cli.StringFlag{Name: "attr", Aliases: []string{"a"}, Usage: "Attributes as a JSON object"},
		},
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			kind, err := ring.ParseOperationKind(cmd.String("kind"))
			if err != nil {
				return nil, err
			}
			base, err := parseIDs(cmd.Args().Slice())
			if err != nil {
				return nil, err
			}
			var attr json.RawMessage
			if raw := cmd.String("attr"); raw != "" {
				if !json.Valid([]byte(raw)) {
					return nil, fmt.Errorf("--attr is not valid JSON")
				}
				attr = json.RawMessage(raw)
			}
			return rt.Service.Initiate(ctx, kind, attr, base)
		}),
	}
}

func forceCommand() *cli.Command {
	return &cli.Command{
		Name:      "force",
		Usage:     "Actualize specters and print where their content lives",
		ArgsUsage: "<id>...",
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			ids, err := parseIDs(cmd.Args().Slice())
			if err != nil {
				return nil, err
			}
			return rt.Service.Force(ctx, ids)
		}),
	}
}

func intFlag(cmd *cli.Command, name string) (int, error) {
	raw := cmd.String(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("--%s must be an integer: %w", name, err)
	}
	return n, nil
}

func viewCommand() *cli.Command {
	return &cli.Command{
		Name:  "view",
		Usage: "Print a chronology window and everything derived from it",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "anchor", Usage: "Chronology index; omit for everything"},
			&cli.StringFlag{Name: "former", Usage: "Entries before the anchor"},
			&cli.StringFlag{Name: "latter", Usage: "Entries after the anchor"},
		},
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			var gen ring.ViewGen = ring.ViewAll{}
			if cmd.IsSet("anchor") {
				var v ring.ViewAnchor
				var err error
				if v.Anchor, err = intFlag(cmd, "anchor"); err != nil {
					return nil, err
				}
				if v.Former, err = intFlag(cmd, "former"); err != nil {
					return nil, err
				}
				if v.Latter, err = intFlag(cmd, "latter"); err != nil {
					return nil, err
				}
				gen = v
			}
			return rt.Service.View(ctx, gen)
		}),
	}
}

var targetFlags = []cli.Flag{
	&cli.StringFlag{Name: "specter", Aliases: []string{"s"}, Usage: "Specter id at the root of the cascade"},
	&cli.StringFlag{Name: "operation", Aliases: []string{"o"}, Usage: "Operation id at the root of the cascade"},
}

func target(cmd *cli.Command) (ring.Target, error) {
	sp, op := cmd.String("specter"), cmd.String("operation")
	switch {
	case sp != "" && op == "":
		id, err := ring.ParseMioID(sp)
		return ring.SpecterTarget(id), err
	case op != "" && sp == "":
		id, err := ring.ParseOpID(op)
		return ring.OperationTarget(id), err
	}
	return ring.Target{}, fmt.Errorf("set exactly one of --specter or --operation")
}

func archiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "archive",
		Usage: "Move a subtree into the archive",
		Flags: targetFlags,
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			t, err := target(cmd)
			if err != nil {
				return nil, err
			}
			return rt.Service.Archive(ctx, t)
		}),
	}
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:  "delete",
		Usage: "Remove a subtree and its content permanently",
		Flags: targetFlags,
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			t, err := target(cmd)
			if err != nil {
				return nil, err
			}
			return rt.Service.Delete(ctx, t)
		}),
	}
}

func purgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge",
		Usage: "Discard everything in the archive",
		Action: withRing(func(ctx context.Context, _ *cli.Command, rt *internal.Runtime) (any, error) {
			return rt.Service.Purge(ctx)
		}),
	}
}

func elevateCommand() *cli.Command {
	return &cli.Command{
		Name:      "elevate",
		Usage:     "Promote an actualized phantom to an entity",
		ArgsUsage: "<id>",
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			id, err := oneID(cmd)
			if err != nil {
				return nil, err
			}
			return rt.Service.Elevate(ctx, id)
		}),
	}
}

func pinCommand() *cli.Command {
	return &cli.Command{
		Name:      "pin",
		Usage:     "Protect an entity from archiving",
		ArgsUsage: "<id>",
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			id, err := oneID(cmd)
			if err != nil {
				return nil, err
			}
			return rt.Service.Pin(ctx, id)
		}),
	}
}

func unpinCommand() *cli.Command {
	return &cli.Command{
		Name:      "unpin",
		Usage:     "Lift the archive protection of an entity",
		ArgsUsage: "<id>",
		Action: withRing(func(ctx context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			id, err := oneID(cmd)
			if err != nil {
				return nil, err
			}
			return rt.Service.Unpin(ctx, id)
		}),
	}
}

func offeredCommand() *cli.Command {
	return &cli.Command{
		Name:      "offered",
		Usage:     "List operations available for an entity kind or a specter",
		ArgsUsage: "<kind|id>",
		Action: withRing(func(_ context.Context, cmd *cli.Command, rt *internal.Runtime) (any, error) {
			arg := cmd.Args().First()
			if arg == "" {
				return rt.Service.Describe(), nil
			}
			if kind := ring.EntityKind(arg); kind.Valid() {
				return rt.Service.Offered(kind)
			}
			id, err := ring.ParseMioID(arg)
			if err != nil {
				return nil, err
			}
			return rt.Service.OfferedFor(id)
		}),
	}
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "Create the secret used to seal the index at rest",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Key file path (defaults to security.key_file)"},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			path := cmd.String("out")
			if path == "" {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return err
				}
				path = cfg.Security.KeyFile
			}
			if path == "" {
				return fmt.Errorf("no key file: pass --out or set security.key_file")
			}
			created, err := seal.GenerateKeyFile(path)
			if err != nil {
				return err
			}
			if !created {
				fmt.Fprintf(os.Stderr, "key file %s already exists, left untouched\n", path)
				return nil
			}
			fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", path)
			return nil
		},
	}
}

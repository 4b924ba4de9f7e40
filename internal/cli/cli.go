package cli

import (
	"errors"
	"fmt"
	"os"

	goflags "github.com/jessevdk/go-flags"
)

// commands holds references to all subcommand structs for inspection/testing.
type commands struct {
	Serve   *ServeCommand
	Status  *StatusCommand
	Reset   *ResetCommand
	Restore *RestoreCommand
	Export  *ExportCommand
}

// buildParser constructs the go-flags parser with all subcommands registered.
func buildParser(version string) (*goflags.Parser, *GlobalFlags, *commands) {
	var globals GlobalFlags

	parser := goflags.NewParser(&globals, goflags.Default)
	parser.Name = "sitetracker"
	parser.LongDescription = "Attributes browsing and media-playback time to web domains, with a daily reset."

	cmds := &commands{
		Serve:   &ServeCommand{globals: &globals, version: version},
		Status:  &StatusCommand{globals: &globals, version: version},
		Reset:   &ResetCommand{globals: &globals, version: version},
		Restore: &RestoreCommand{globals: &globals, version: version},
		Export:  &ExportCommand{globals: &globals, version: version},
	}

	parser.AddCommand("serve", "Run the tracking daemon", "Run the tracking daemon: HTTP event intake, media sweep, backup mirror and midnight reset.", cmds.Serve)
	parser.AddCommand("status", "Show today's totals", "Show today's active and media totals, per-site times and daemon state.", cmds.Status)
	parser.AddCommand("reset", "Zero all tracked time now", "Zero all tracked time and the backup now. Destructive operation with safety prompt.", cmds.Reset)
	parser.AddCommand("restore", "Restore from the backup", "Restore the tracking data from the backup medium.", cmds.Restore)
	parser.AddCommand("export", "Print tracking data as JSON", "Print siteTimes, uniqueSites and mediaTimes as JSON.", cmds.Export)

	return parser, &globals, cmds
}

// Run is the main entry point for the CLI using os.Args.
func Run(version string) error {
	return RunWithArgs(version, nil)
}

// RunWithArgs parses the given args (or os.Args if nil) and executes the matched subcommand.
func RunWithArgs(version string, args []string) error {
	// Handle --version before parser (go-flags requires a subcommand, but
	// --version is valid without one).
	checkArgs := args
	if checkArgs == nil {
		checkArgs = os.Args[1:]
	}
	for _, arg := range checkArgs {
		if arg == "--version" {
			fmt.Printf("sitetracker %s\n", version)
			return nil
		}
		if arg == "--" {
			break
		}
	}

	parser, _, _ := buildParser(version)

	var err error
	if args != nil {
		_, err = parser.ParseArgs(args)
	} else {
		_, err = parser.Parse()
	}

	var flagsErr *goflags.Error
	if errors.As(err, &flagsErr) && flagsErr.Type == goflags.ErrHelp {
		return nil
	}
	return err
}

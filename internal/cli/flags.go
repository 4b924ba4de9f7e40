package cli

// GlobalFlags holds flags available to all subcommands.
type GlobalFlags struct {
	Config  string `long:"config" description:"Path to config file" default:""`
	JSON    bool   `long:"json" description:"Output in JSON format"`
	Verbose bool   `long:"verbose" description:"Enable verbose output"`
	Version bool   `long:"version" description:"Show version and exit"`
}

// ServeCommand is the command to run the tracking daemon.
type ServeCommand struct {
	Host     string `long:"host" description:"Override listen host"`
	Port     int    `long:"port" description:"Override listen port"`
	Source   string `long:"source" description:"Event source" choice:"extension" choice:"cdp"`
	DevTools string `long:"devtools" description:"DevTools endpoint for the cdp source"`

	globals *GlobalFlags
	version string
}

// StatusCommand is the command to show today's totals and daemon state.
type StatusCommand struct {
	globals *GlobalFlags
	version string
}

// ResetCommand is the command to zero all aggregates now, as the midnight reset does.
type ResetCommand struct {
	Force bool `long:"force" description:"Skip safety confirmation prompt"`

	globals *GlobalFlags
	version string
}

// RestoreCommand is the command to repopulate the store from the backup medium.
type RestoreCommand struct {
	Force bool `long:"force" description:"Overwrite a non-empty store with the backup"`

	globals *GlobalFlags
	version string
}

// ExportCommand is the command to print the tracking data as JSON.
type ExportCommand struct {
	globals *GlobalFlags
	version string
}

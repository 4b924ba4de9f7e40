package config

// DefaultConfig returns a Config populated with all default values.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:              "~/.config/sitetracker",
			SQLiteFile:        "sitetracker.db",
			SQLiteJournalMode: "wal",
			BackupFile:        "backup.db",
		},
		Daemon: DaemonConfig{
			Host:           "127.0.0.1",
			Port:           7780,
			MaxRequestSize: 1048576,
			CORSOrigins:    []string{"*"},
		},
		Tracking: TrackingConfig{
			SweepIntervalSeconds:    15,
			MediaStopCapSeconds:     3600,
			HeartbeatCapSeconds:     300,
			StopMediaOnTabSwitch:    true,
			MediaStopFromLastUpdate: false,
			IgnoreDomains:           []string{},
		},
		Sensing: SensingConfig{
			HeartbeatSeconds:          10,
			MaxUpdateGapSeconds:       30,
			TimeUpdateThrottleSeconds: 2,
		},
		Backup: BackupConfig{
			Enabled:    true,
			ExpiryDays: 2,
		},
		Reset: ResetConfig{
			Enabled:  true,
			Timezone: "Local",
		},
		Source: SourceConfig{
			Mode:                SourceExtension,
			DevToolsURL:         "http://127.0.0.1:9222",
			PollIntervalSeconds: 2,
		},
		Summary: SummaryConfig{
			HiddenSites: DefaultHiddenSites(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "sitetracker.log",
			Writer:     []string{"file"},
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

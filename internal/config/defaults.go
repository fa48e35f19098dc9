package config

// Defaults returns a config with sane defaults for everything that has one.
// Loaded YAML overrides these field by field.
func Defaults() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info"},
		Telegram: TelegramConfig{
			NickStyle:      "username",
			PlatformPrefix: "T",
		},
		Discord: DiscordConfig{
			NickStyle:      "nickname",
			PlatformPrefix: "D",
		},
		IRC: IRCConfig{
			Port:           6697,
			SSL:            true,
			PlatformPrefix: "I",
		},
		Media: MediaConfig{
			MaxFetchBytes:       8 << 20,
			FetchTimeoutSeconds: 15,
		},
		Identity: IdentityConfig{
			TTLHours:     24,
			SweepMinutes: 10,
			MaxEntries:   65536,
		},
		Dispatch: DispatchConfig{
			MaxAttempts:        3,
			BaseBackoffMS:      500,
			CallTimeoutSeconds: 10,
			RatePerMinute:      60,
		},
		Web: WebConfig{
			Host: "127.0.0.1",
			Port: 8642,
		},
		Bus: BusConfig{Buffer: 256},
	}
}

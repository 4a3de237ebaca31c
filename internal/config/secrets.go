package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	out.Wallet = cfg.Wallet
	redact(&out.Wallet.SignerAPIKey)

	// Quicknode
	out.Quicknode = cfg.Quicknode
	redact(&out.Quicknode.APIKey)

	// Postgres
	out.Postgres = cfg.Postgres
	redact(&out.Postgres.DSN)
	redact(&out.Postgres.Password)

	// Redis
	out.Redis = cfg.Redis
	redact(&out.Redis.Password)

	// S3
	out.S3 = cfg.S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Notify
	out.Notify = cfg.Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	out.Jupiter.V6Hosts = append([]string(nil), cfg.Jupiter.V6Hosts...)
	out.Jupiter.V4Hosts = append([]string(nil), cfg.Jupiter.V4Hosts...)
	out.Jupiter.PriceHosts = append([]string(nil), cfg.Jupiter.PriceHosts...)
	out.Quicknode.RPCURLs = append([]string(nil), cfg.Quicknode.RPCURLs...)
	out.Trading.Tiers = append([]TierConfig(nil), cfg.Trading.Tiers...)
	if cfg.Notify.Events != nil {
		out.Notify.Events = make([]string, len(cfg.Notify.Events))
		copy(out.Notify.Events, cfg.Notify.Events)
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

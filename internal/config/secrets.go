package config

import "slices"

const redacted = "***"

// RedactedConfig returns a copy of cfg that is safe to log: secrets are
// masked and slices are copied.
func RedactedConfig(cfg *Config) Config {
	out := *cfg

	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	out.Causes = slices.Clone(cfg.Causes)
	out.Markets = slices.Clone(cfg.Markets)
	out.Notify.Events = slices.Clone(cfg.Notify.Events)
	out.Server.CORSOrigins = slices.Clone(cfg.Server.CORSOrigins)
	return out
}

func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

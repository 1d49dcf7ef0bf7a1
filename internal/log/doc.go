// Package log builds the slog loggers of TriCrawl.
//
// TriCrawl handles site cookies, the Discord webhook URL and database
// DSNs, all of which carry credentials. SecureHandler keeps them out of
// the output:
//   - attributes whose key names a secret (cookie, token, webhook_url,
//     database_url, ...) are replaced by Mask,
//   - string values, messages and errors are rewritten by Redact, which
//     masks the webhook token and the DSN password but keeps the rest of
//     the URL.
//
// author, dedup_id and run_id are exempt so that run logs stay useful.
//
//	logger := log.NewSecureLogger(os.Stderr, verbose)
//	logger.Info("notifier ready", "target", cfg.WebhookURL)
//	// target=https://discord.com/api/webhooks/123/***REDACTED***
package log

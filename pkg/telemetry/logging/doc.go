// Package logging builds the process *slog.Logger and carries request
// identifiers through contexts.
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:         "info",
//	    Format:        "json",
//	    RedactSecrets: true,
//	})
//	slog.SetDefault(logger)
//
//	ctx = logging.WithRequestID(ctx, "req-123")
//	logging.FromContext(ctx, logger).Info("evaluating action")
//
// # Redaction
//
// With RedactSecrets enabled, attributes whose key names a credential
// (token, password, api_key, ...) are replaced by "***", and bearer tokens
// or key=value secrets embedded in strings are masked. Action parameters
// logged by rule log actions pass through the same handler.
package logging

// Package logging provides the structured logging facade used across allin.
//
// It is a thin layer over log/slog that tags every record with a subsystem
// name so that bootstrap, refresh and guard activity can be told apart in a
// single stream.
//
// # Usage
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Bootstrap", "Restored session for %s", user.Email)
//	logging.Debug("Refresher", "Next refresh in %s", delay)
//	logging.Warn("Session", "Profile confirmation failed, keeping cached state")
//	logging.Error("Credential", err, "Failed to clear cookie store")
//
// Security-relevant events (credential writes and clears) go through Audit,
// which never receives token values:
//
//	logging.Audit("Credential", "identity_stored", "user_id", user.ID)
//
// Before InitForCLI or InitForJSON is called, Debug and Info are dropped and
// Warn and Error are written to stderr, which keeps library use quiet.
package logging

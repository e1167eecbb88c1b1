// Package config loads the card reader service configuration.
//
// Values come from built-in defaults, an optional YAML file and CARDHUB_*
// environment variables, in increasing precedence. Nested keys map to
// variables by replacing dots with underscores, so timing.wsPongWait is
// CARDHUB_TIMING_WSPONGWAIT. A Watcher reloads the file on change; the
// service applies only the log level at runtime.
package config

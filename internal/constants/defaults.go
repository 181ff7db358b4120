package constants

import "time"

// Defaults applied when the configuration leaves a value unset.
const (
	DefaultBaudRate        = 9600
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultReadTimeout     = 500 * time.Millisecond
	DefaultDebounceWindow  = 3 * time.Second
	DefaultMinScanLength   = 7
	DefaultProbeInterval   = 30 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	DefaultMaxAttempts     = 3
	DefaultRetryDelay      = time.Second
	DefaultAPIMinInterval  = 5 * time.Second
	DefaultPrintInterval   = 10 * time.Second
	DefaultGateCloseAfter  = 5 * time.Second
	DefaultConnectRetries  = 5
	DefaultConnectBase     = time.Second
	DefaultConnectMax      = 30 * time.Second
	DefaultRequestTimeout  = 10 * time.Second
	DefaultDispatchWorkers = 4
)

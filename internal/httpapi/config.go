package httpapi

import "time"

const defaultMaxBodyBytes = 1 << 20

// maxBodyBytes caps JSON request bodies.
var maxBodyBytes int64 = defaultMaxBodyBytes

// SetMaxBodyBytes configures the maximum request body size; n <= 0 restores the default.
func SetMaxBodyBytes(n int64) {
	if n <= 0 {
		maxBodyBytes = defaultMaxBodyBytes
		return
	}
	maxBodyBytes = n
}

// generateTimeout bounds a /generate call. Zero leaves it to the client.
var generateTimeout time.Duration

// SetGenerateTimeout sets the /generate timeout (0 disables).
func SetGenerateTimeout(d time.Duration) {
	if d < 0 {
		d = 0
	}
	generateTimeout = d
}

// CORS configuration (opt-in). If disabled, no CORS middleware is added.
var (
	corsEnabled        bool
	corsAllowedOrigins []string
	corsAllowedMethods []string
	corsAllowedHeaders []string
)

// SetCORSOptions configures CORS behavior for the HTTP server. It must be
// called before NewMux.
func SetCORSOptions(enabled bool, origins, methods, headers []string) {
	corsEnabled = enabled
	corsAllowedOrigins = append([]string(nil), origins...)
	corsAllowedMethods = append([]string(nil), methods...)
	corsAllowedHeaders = append([]string(nil), headers...)
}

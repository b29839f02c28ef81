// Package envconfig reads the UME_* environment variables that
// configure the encoder, its checkpoint cache and the HTTP server.
// Every accessor reads the environment on each call so tests can flip
// values with t.Setenv.
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Host returns the scheme and host the server binds to.
// Configurable via UME_HOST. Default: http://127.0.0.1:11435
func Host() *url.URL {
	defaultPort := "11435"

	s := strings.TrimSpace(Var("UME_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins returns the origins the server accepts cross-origin
// requests from. Configurable via UME_ORIGINS (comma separated), always
// including the localhost defaults.
func AllowedOrigins() (origins []string) {
	if s := Var("UME_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	origins = append(origins,
		"app://*",
		"file://*",
		"vscode-webview://*",
	)

	return origins
}

// Models returns the directory checkpoints are downloaded to.
// Configurable via UME_MODELS. Default: $HOME/.ume/models
func Models() string {
	if s := Var("UME_MODELS"); s != "" {
		return s
	}

	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}

	return filepath.Join(home, ".ume", "models")
}

// MetricsDB returns the path of the sqlite metrics database, or empty
// when metric persistence is disabled.
// Configurable via UME_METRICS_DB.
func MetricsDB() string {
	return Var("UME_METRICS_DB")
}

// LogLevel returns the slog level derived from UME_DEBUG. Any truthy
// value enables debug logging; an integer selects the level directly.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("UME_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// BoolWithDefault returns a reader for a boolean variable with an
// explicit default.
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool returns a reader for a boolean variable defaulting to false.
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// String returns a reader for a string variable.
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// Float returns a reader for a float variable with a default, warning
// on unparseable values.
func Float(key string, defaultValue float64) func() float64 {
	return func() float64 {
		if s := Var(key); s != "" {
			if f, err := strconv.ParseFloat(s, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return f
			}
		}
		return defaultValue
	}
}

// Uint returns a reader for an unsigned integer variable with a
// default, warning on unparseable values.
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

var (
	// FlashAttention requests the flash-attention architecture layout
	// (e.g. UME_FLASH_ATTENTION=1). The resolved configuration may still
	// downgrade it on CPU-only hosts.
	FlashAttention = BoolWithDefault("UME_FLASH_ATTENTION")

	// Device pins the compute device, "cpu" or "cuda". Empty selects
	// automatically.
	Device = String("UME_DEVICE")

	// ContrastiveLossType selects the contrastive objective for training
	// (none, symile, clip, disco_clip).
	ContrastiveLossType = String("UME_CONTRASTIVE_LOSS")

	// ContrastiveLossWeight blends contrastive and MLM loss.
	ContrastiveLossWeight = Float("UME_CONTRASTIVE_WEIGHT", 0)

	// MaxLength caps tokenized sequence length including special tokens.
	MaxLength = Uint("UME_MAX_LENGTH", 512)
)

// EnvVar describes one environment variable for introspection.
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap returns every UME_* variable with its current value and a short
// description.
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"UME_DEBUG":              {"UME_DEBUG", LogLevel(), "Show additional debug information (e.g. UME_DEBUG=1)"},
		"UME_HOST":               {"UME_HOST", Host(), "IP address for the ume server (default 127.0.0.1:11435)"},
		"UME_ORIGINS":            {"UME_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"UME_MODELS":             {"UME_MODELS", Models(), "The path to the checkpoint directory"},
		"UME_METRICS_DB":         {"UME_METRICS_DB", MetricsDB(), "Path of the sqlite metrics database (empty disables persistence)"},
		"UME_DEVICE":             {"UME_DEVICE", Device(), "Compute device, cpu or cuda (default: auto)"},
		"UME_FLASH_ATTENTION":    {"UME_FLASH_ATTENTION", FlashAttention(false), "Request the flash attention layout"},
		"UME_CONTRASTIVE_LOSS":   {"UME_CONTRASTIVE_LOSS", ContrastiveLossType(), "Contrastive loss type: none, symile, clip or disco_clip"},
		"UME_CONTRASTIVE_WEIGHT": {"UME_CONTRASTIVE_WEIGHT", ContrastiveLossWeight(), "Weight blending contrastive and MLM loss (default 0)"},
		"UME_MAX_LENGTH":         {"UME_MAX_LENGTH", MaxLength(), "Maximum tokenized sequence length (default 512)"},
	}
}

// Values returns every variable's current value keyed by name.
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Var reads an environment variable, trimming whitespace and quotes.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

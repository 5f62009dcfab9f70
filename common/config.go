package common

import (
	"strings"

	"github.com/spf13/viper"
)

// ===============================================================================
// NATS Related Config

// NATSReconnectConfig defines reconnect parameters
type NATSReconnectConfig struct {
	// MaxAttempts sets the max number of reconnect attempts (-1 is unlimited)
	MaxAttempts int `mapstructure:"max_attempts" json:"max_attempts" validate:"gte=-1"`
	// WaitInterval is the duration between reconnect attempts in seconds
	WaitInterval int `mapstructure:"wait_interval_sec" json:"wait_interval_sec" validate:"gte=1"`
}

// NATSConfig defines parameters for connecting to NATS server
type NATSConfig struct {
	// ServerURI is the NATS connection URI
	ServerURI string `mapstructure:"server_uri" json:"server_uri" validate:"required,uri"`
	// ConnectTimeout is the max duration for connecting to NATS server in seconds
	ConnectTimeout int `mapstructure:"connect_timeout_sec" json:"connect_timeout_sec" validate:"gte=1"`
	// Reconnect defines reconnect parameters
	Reconnect NATSReconnectConfig `mapstructure:"reconnect" json:"reconnect" validate:"required"`
}

// ===============================================================================
// HTTP Related Config

// HTTPServerConfig defines the HTTP server parameters
type HTTPServerConfig struct {
	// ListenOn is the interface the HTTP server will listen on
	ListenOn string `mapstructure:"listen_on" json:"listen_on" validate:"required,ip"`
	// Port is the port the HTTP server will listen on
	Port uint16 `mapstructure:"listen_port" json:"listen_port" validate:"required,gt=0,lt=65536"`
	// ReadTimeout is the maximum duration for reading the entire
	// request, including the body in seconds. A zero or negative
	// value means there will be no timeout.
	ReadTimeout int `mapstructure:"read_timeout_sec" json:"read_timeout_sec" validate:"gte=0"`
	// WriteTimeout is the maximum duration before timing out
	// writes of the response in seconds. A zero value means there will be no timeout.
	//
	// Event streams are long lived, so this should stay zero unless a proxy in front
	// of the server already bounds response lifetimes.
	WriteTimeout int `mapstructure:"write_timeout_sec" json:"write_timeout_sec" validate:"gte=0"`
	// IdleTimeout is the maximum amount of time to wait for the
	// next request when keep-alives are enabled in seconds. If
	// IdleTimeout is zero, the value of ReadTimeout is used. If
	// both are zero, there is no timeout.
	IdleTimeout int `mapstructure:"idle_timeout_sec" json:"idle_timeout_sec" validate:"gte=0"`
}

// HTTPRequestLogging defines HTTP request logging parameters
type HTTPRequestLogging struct {
	// RequestIDHeader is the HTTP header containing the API request ID
	RequestIDHeader string `mapstructure:"request_id_header" json:"request_id_header" validate:"required"`
	// DoNotLogHeaders is the list of headers to not include in logging metadata
	DoNotLogHeaders []string `mapstructure:"do_not_log_headers" json:"do_not_log_headers"`
}

// HTTPConfig defines HTTP API / server parameters
type HTTPConfig struct {
	// Server defines HTTP server parameters
	Server HTTPServerConfig `mapstructure:"server_config" json:"server_config" validate:"required"`
	// Logging defines operation logging parameters
	Logging HTTPRequestLogging `mapstructure:"logging_config" json:"logging_config" validate:"required"`
}

// EndpointConfig defines API endpoint config
type EndpointConfig struct {
	// PathPrefix is the end-point path prefix for all APIs
	PathPrefix string `mapstructure:"path_prefix" json:"path_prefix" validate:"required"`
}

// ===============================================================================
// Session Related Config

// SessionConfig defines the access / refresh token session parameters
//
// The secrets are validated by the session package at boot, so that a missing secret
// is reported with its config key.
type SessionConfig struct {
	// AccessSecret is the HMAC secret signing access tokens
	AccessSecret string `mapstructure:"access_secret" json:"-"`
	// RefreshSecret is the HMAC secret signing refresh tokens
	RefreshSecret string `mapstructure:"refresh_secret" json:"-"`
	// AccessTTL is the access token validity window in seconds
	AccessTTL int `mapstructure:"access_ttl_sec" json:"access_ttl_sec" validate:"gte=1"`
	// RefreshTTL is the refresh token validity window in seconds
	RefreshTTL int `mapstructure:"refresh_ttl_sec" json:"refresh_ttl_sec" validate:"gtfield=AccessTTL"`
	// Production enables the Secure cookie attribute
	Production bool `mapstructure:"production" json:"production"`
	// AccessCookie is the name of the access token cookie
	AccessCookie string `mapstructure:"access_cookie" json:"access_cookie" validate:"required"`
	// RefreshCookie is the name of the refresh token cookie
	RefreshCookie string `mapstructure:"refresh_cookie" json:"refresh_cookie" validate:"required,nefield=AccessCookie"`
}

// ===============================================================================
// Stream Related Config

// StreamRelayConfig defines how broadcasts reach the registry
type StreamRelayConfig struct {
	// Mode is either "local" (direct in process fan-out) or "nats" (relay through NATS
	// so every instance fans out to its own subscribers)
	Mode string `mapstructure:"mode" json:"mode" validate:"required,oneof=local nats"`
	// Subject is the NATS subject used when Mode is "nats"
	Subject string `mapstructure:"subject" json:"subject" validate:"required"`
}

// StreamConfig defines the event stream parameters
type StreamConfig struct {
	// HeartbeatInterval is the interval between heartbeat frames in seconds
	HeartbeatInterval int `mapstructure:"heartbeat_interval_sec" json:"heartbeat_interval_sec" validate:"gte=1"`
	// Relay defines the broadcast relay
	Relay StreamRelayConfig `mapstructure:"relay" json:"relay" validate:"required"`
}

// ===============================================================================
// Database Related Config

// DatabaseConfig defines the principal store connection
type DatabaseConfig struct {
	// Driver is the database/sql driver name. Both drivers are supported in production;
	// sqlite3 suits a single instance deployment.
	Driver string `mapstructure:"driver" json:"driver" validate:"required,oneof=mysql sqlite3"`
	// DSN is the data source name
	DSN string `mapstructure:"dsn" json:"-" validate:"required"`
	// MaxOpenConns is the max number of open DB connections
	MaxOpenConns int `mapstructure:"max_open_conns" json:"max_open_conns" validate:"gte=1"`
	// ConnMaxLifetime is the max lifetime of a DB connection in seconds
	ConnMaxLifetime int `mapstructure:"conn_max_lifetime_sec" json:"conn_max_lifetime_sec" validate:"gte=0"`
	// QueryTimeout is the max duration of one principal lookup in seconds
	QueryTimeout int `mapstructure:"query_timeout_sec" json:"query_timeout_sec" validate:"gte=1"`
}

// ===============================================================================
// Metrics Related Config

// MetricsConfig defines the Prometheus exposition parameters
type MetricsConfig struct {
	// Enabled whether to serve metrics
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	// Path is the metrics end-point path
	Path string `mapstructure:"path" json:"path" validate:"required"`
}

// ===============================================================================
// Complete Config

// SystemConfig defines the complete system config
type SystemConfig struct {
	// HTTPSetting is the HTTP API / server parameters
	HTTPSetting HTTPConfig `mapstructure:"api_server" json:"api_server" validate:"required"`
	// Endpoints is the API endpoint config parameters
	Endpoints EndpointConfig `mapstructure:"endpoint_config" json:"endpoint_config" validate:"required"`
	// Session are the session token parameters
	Session SessionConfig `mapstructure:"session" json:"session" validate:"required"`
	// Stream are the event stream parameters
	Stream StreamConfig `mapstructure:"stream" json:"stream" validate:"required"`
	// NATS are the NATS related config parameters. Needed when the stream relay uses NATS.
	NATS *NATSConfig `mapstructure:"nats,omitempty" json:"nats,omitempty" validate:"omitempty"`
	// Database is the principal store config
	Database DatabaseConfig `mapstructure:"database" json:"database" validate:"required"`
	// Metrics are the metrics exposition parameters
	Metrics MetricsConfig `mapstructure:"metrics" json:"metrics" validate:"required"`
}

// ===============================================================================

// EnvPrefix is the prefix of environment variables overriding config values
const EnvPrefix = "FUNDSTREAM"

// InstallDefaultConfigValues installs default config parameters in viper
func InstallDefaultConfigValues() {
	// Default HTTP server settings
	viper.SetDefault("endpoint_config.path_prefix", "/")
	viper.SetDefault("api_server.server_config.listen_on", "0.0.0.0")
	viper.SetDefault("api_server.server_config.listen_port", 4000)
	viper.SetDefault("api_server.server_config.read_timeout_sec", 60)
	viper.SetDefault("api_server.server_config.write_timeout_sec", 0)
	viper.SetDefault("api_server.server_config.idle_timeout_sec", 600)
	viper.SetDefault("api_server.logging_config.request_id_header", "Fundstream-Request-ID")
	viper.SetDefault(
		"api_server.logging_config.do_not_log_headers", []string{
			"WWW-Authenticate", "Authorization", "Proxy-Authenticate", "Proxy-Authorization",
			"Cookie", "Set-Cookie",
		},
	)

	// Default session settings
	viper.SetDefault("session.access_secret", "")
	viper.SetDefault("session.refresh_secret", "")
	viper.SetDefault("session.access_ttl_sec", 900)
	viper.SetDefault("session.refresh_ttl_sec", 604800)
	viper.SetDefault("session.production", false)
	viper.SetDefault("session.access_cookie", "accessToken")
	viper.SetDefault("session.refresh_cookie", "refreshToken")

	// Default stream settings
	viper.SetDefault("stream.heartbeat_interval_sec", 25)
	viper.SetDefault("stream.relay.mode", "local")
	viper.SetDefault("stream.relay.subject", "fundstream.dashboard")

	// Default NATS settings, only used by the NATS relay
	viper.SetDefault("nats.server_uri", "nats://127.0.0.1:4222")
	viper.SetDefault("nats.connect_timeout_sec", 30)
	viper.SetDefault("nats.reconnect.max_attempts", -1)
	viper.SetDefault("nats.reconnect.wait_interval_sec", 15)

	// Default database settings
	viper.SetDefault("database.driver", "mysql")
	viper.SetDefault("database.dsn", "fundstream:fundstream@tcp(127.0.0.1:3306)/fundstream?parseTime=true")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.conn_max_lifetime_sec", 300)
	viper.SetDefault("database.query_timeout_sec", 5)

	// Default metrics settings
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
}

// InstallEnvOverrides let FUNDSTREAM_<SECTION>_<KEY> environment variables override
// config values, e.g. FUNDSTREAM_SESSION_ACCESS_SECRET
func InstallEnvOverrides() {
	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

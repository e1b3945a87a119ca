// Package config loads the gateway configuration from the working-directory
// settings.ini file, with environment variable overrides.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/ini.v1"
)

// Config holds all runtime configuration for the gateway.
// Precedence: env vars > settings.ini > defaults.
type Config struct {
	Logging  Logging
	SIP      SIP
	Telegram Telegram
	HTTP     HTTP
	Other    Other
}

// Logging configures the slog output and the TDLib engine verbosity.
type Logging struct {
	Level          string // debug, info, warn, error
	Format         string // text or json
	File           string // optional log file path; stdout when empty
	TDLibVerbosity int    // 0 (fatal) .. 1023, passed to the engine
}

// SIP configures the SIP endpoint and the RTP media bridge.
type SIP struct {
	Port          int
	IDURI         string // local account URI, used in From/Contact
	CallbackURI   string // where Telegram-originated calls are sent; empty rejects them
	PublicAddress string // advertised address for SDP; resolved via STUN if empty
	STUNServer    string
	Username      string // outbound digest credentials, optional
	Password      string
	AuthUsername  string // overrides Username for digest when set
	RawPCM        bool
	ThreadCount   int
	RTPPortMin    int
	RTPPortMax    int
}

// Telegram configures the TDLib engine and per-call VoIP controllers.
type Telegram struct {
	APIID              int32
	APIHash            string
	DatabaseFolder     string
	SystemLanguageCode string
	DeviceModel        string

	UDPP2P       bool
	UDPReflector bool
	EnableAEC    bool
	EnableNS     bool
	EnableAGC    bool

	UseProxy      bool
	ProxyAddress  string
	ProxyPort     int
	ProxyUsername string
	ProxyPassword string

	UseVoipProxy      bool
	VoipProxyAddress  string
	VoipProxyPort     int
	VoipProxyUsername string
	VoipProxyPassword string
}

// HTTP configures the ops server. An empty listen address disables it.
type HTTP struct {
	ListenAddress string
}

// Other holds the rate-limit back-off tuning.
type Other struct {
	ExtraWaitTime time.Duration // added on top of server-requested retry delay
	PeerFloodTime time.Duration // back-off applied on PEER_FLOOD
}

// defaults
const (
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultSIPPort        = 5060
	defaultIDURI          = "sip:localhost"
	defaultThreadCount    = 1
	defaultPortRange      = "10000-20000"
	defaultDatabaseFolder = "tddb"
	defaultLanguageCode   = "en"
	defaultDeviceModel    = "tgsip"
	defaultHTTPListen     = "127.0.0.1:8090"
	defaultExtraWait      = 30 * time.Second
	defaultPeerFlood      = 86400 * time.Second
)

// envPrefix is the prefix for all gateway environment variables.
const envPrefix = "TGSIP_"

// Load reads the INI file at path, applies environment overrides and
// validates the result. The telegram api_id and api_hash keys are required.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	cfg := &Config{}

	logging := file.Section("logging")
	cfg.Logging.Level = logging.Key("level").MustString(defaultLogLevel)
	cfg.Logging.Format = logging.Key("format").MustString(defaultLogFormat)
	cfg.Logging.File = logging.Key("file").String()
	cfg.Logging.TDLibVerbosity = logging.Key("tdlib_verbosity").MustInt(1)

	sip := file.Section("sip")
	cfg.SIP.Port = sip.Key("port").MustInt(defaultSIPPort)
	cfg.SIP.IDURI = sip.Key("id_uri").MustString(defaultIDURI)
	cfg.SIP.CallbackURI = sip.Key("callback_uri").String()
	cfg.SIP.PublicAddress = sip.Key("public_address").String()
	cfg.SIP.STUNServer = sip.Key("stun_server").String()
	cfg.SIP.Username = sip.Key("username").String()
	cfg.SIP.Password = sip.Key("password").String()
	cfg.SIP.AuthUsername = sip.Key("auth_username").String()
	cfg.SIP.RawPCM = sip.Key("raw_pcm").MustBool(true)
	cfg.SIP.ThreadCount = sip.Key("thread_count").MustInt(defaultThreadCount)
	portRange := sip.Key("port_range").MustString(defaultPortRange)

	tg := file.Section("telegram")
	cfg.Telegram.APIID = int32(tg.Key("api_id").MustInt(0))
	cfg.Telegram.APIHash = tg.Key("api_hash").String()
	cfg.Telegram.DatabaseFolder = tg.Key("database_folder").MustString(defaultDatabaseFolder)
	cfg.Telegram.SystemLanguageCode = tg.Key("system_language_code").MustString(defaultLanguageCode)
	cfg.Telegram.DeviceModel = tg.Key("device_model").MustString(defaultDeviceModel)
	cfg.Telegram.UDPP2P = tg.Key("udp_p2p").MustBool(false)
	cfg.Telegram.UDPReflector = tg.Key("udp_reflector").MustBool(true)
	cfg.Telegram.EnableAEC = tg.Key("enable_aec").MustBool(false)
	cfg.Telegram.EnableNS = tg.Key("enable_ns").MustBool(false)
	cfg.Telegram.EnableAGC = tg.Key("enable_agc").MustBool(false)
	cfg.Telegram.UseProxy = tg.Key("use_proxy").MustBool(false)
	cfg.Telegram.ProxyAddress = tg.Key("proxy_address").String()
	cfg.Telegram.ProxyPort = tg.Key("proxy_port").MustInt(0)
	cfg.Telegram.ProxyUsername = tg.Key("proxy_username").String()
	cfg.Telegram.ProxyPassword = tg.Key("proxy_password").String()
	cfg.Telegram.UseVoipProxy = tg.Key("use_voip_proxy").MustBool(false)
	cfg.Telegram.VoipProxyAddress = tg.Key("voip_proxy_address").String()
	cfg.Telegram.VoipProxyPort = tg.Key("voip_proxy_port").MustInt(0)
	cfg.Telegram.VoipProxyUsername = tg.Key("voip_proxy_username").String()
	cfg.Telegram.VoipProxyPassword = tg.Key("voip_proxy_password").String()

	httpSec := file.Section("http")
	cfg.HTTP.ListenAddress = httpSec.Key("listen_address").MustString(defaultHTTPListen)

	other := file.Section("other")
	cfg.Other.ExtraWaitTime = time.Duration(other.Key("extra_wait_time").MustInt(30)) * time.Second
	cfg.Other.PeerFloodTime = time.Duration(other.Key("peer_flood_time").MustInt(86400)) * time.Second

	applyEnvOverrides(cfg, &portRange)

	min, max, err := parsePortRange(portRange)
	if err != nil {
		return nil, fmt.Errorf("invalid config: sip.port_range: %w", err)
	}
	cfg.SIP.RTPPortMin = min
	cfg.SIP.RTPPortMax = max

	cfg.clamp()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides replaces values for which a TGSIP_<SECTION>_<KEY>
// environment variable is set. Env vars take precedence over the file.
func applyEnvOverrides(cfg *Config, portRange *string) {
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)
	str("LOGGING_FILE", &cfg.Logging.File)
	num("LOGGING_TDLIB_VERBOSITY", &cfg.Logging.TDLibVerbosity)

	num("SIP_PORT", &cfg.SIP.Port)
	str("SIP_ID_URI", &cfg.SIP.IDURI)
	str("SIP_CALLBACK_URI", &cfg.SIP.CallbackURI)
	str("SIP_PUBLIC_ADDRESS", &cfg.SIP.PublicAddress)
	str("SIP_STUN_SERVER", &cfg.SIP.STUNServer)
	str("SIP_USERNAME", &cfg.SIP.Username)
	str("SIP_PASSWORD", &cfg.SIP.Password)
	str("SIP_AUTH_USERNAME", &cfg.SIP.AuthUsername)
	flag("SIP_RAW_PCM", &cfg.SIP.RawPCM)
	num("SIP_THREAD_COUNT", &cfg.SIP.ThreadCount)
	str("SIP_PORT_RANGE", portRange)

	if v, ok := os.LookupEnv(envPrefix + "TELEGRAM_API_ID"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Telegram.APIID = int32(n)
		}
	}
	str("TELEGRAM_API_HASH", &cfg.Telegram.APIHash)
	str("TELEGRAM_DATABASE_FOLDER", &cfg.Telegram.DatabaseFolder)
	flag("TELEGRAM_UDP_P2P", &cfg.Telegram.UDPP2P)
	flag("TELEGRAM_UDP_REFLECTOR", &cfg.Telegram.UDPReflector)

	str("HTTP_LISTEN_ADDRESS", &cfg.HTTP.ListenAddress)

	if v, ok := os.LookupEnv(envPrefix + "OTHER_EXTRA_WAIT_TIME"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Other.ExtraWaitTime = time.Duration(n) * time.Second
		}
	}
	if v, ok := os.LookupEnv(envPrefix + "OTHER_PEER_FLOOD_TIME"); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Other.PeerFloodTime = time.Duration(n) * time.Second
		}
	}
}

// clamp forces enum-like values into their valid ranges instead of failing.
func (c *Config) clamp() {
	c.Logging.Level = strings.ToLower(c.Logging.Level)
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		c.Logging.Level = defaultLogLevel
	}

	c.Logging.Format = strings.ToLower(c.Logging.Format)
	if c.Logging.Format != "json" {
		c.Logging.Format = "text"
	}

	if c.Logging.TDLibVerbosity < 0 {
		c.Logging.TDLibVerbosity = 0
	}
	if c.Logging.TDLibVerbosity > 1023 {
		c.Logging.TDLibVerbosity = 1023
	}

	if c.SIP.ThreadCount < 1 {
		c.SIP.ThreadCount = 1
	}
}

// validate checks the structural values that cannot be clamped.
func (c *Config) validate() error {
	if c.Telegram.APIID == 0 {
		return fmt.Errorf("telegram.api_id is required")
	}
	if c.Telegram.APIHash == "" {
		return fmt.Errorf("telegram.api_hash is required")
	}
	if c.SIP.Port < 1 || c.SIP.Port > 65535 {
		return fmt.Errorf("sip.port must be between 1 and 65535, got %d", c.SIP.Port)
	}
	if !strings.HasPrefix(c.SIP.IDURI, "sip:") && !strings.HasPrefix(c.SIP.IDURI, "sips:") {
		return fmt.Errorf("sip.id_uri must be a sip: or sips: URI, got %q", c.SIP.IDURI)
	}
	if c.SIP.CallbackURI != "" && !strings.HasPrefix(c.SIP.CallbackURI, "sip:") && !strings.HasPrefix(c.SIP.CallbackURI, "sips:") {
		return fmt.Errorf("sip.callback_uri must be a sip: or sips: URI, got %q", c.SIP.CallbackURI)
	}
	if c.Telegram.UseProxy && c.Telegram.ProxyAddress == "" {
		return fmt.Errorf("telegram.proxy_address is required when use_proxy is enabled")
	}
	if c.Telegram.UseVoipProxy && c.Telegram.VoipProxyAddress == "" {
		return fmt.Errorf("telegram.voip_proxy_address is required when use_voip_proxy is enabled")
	}
	return nil
}

// parsePortRange parses "min-max" into an even-aligned RTP port range.
func parsePortRange(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, fmt.Errorf("expected \"min-max\", got %q", s)
	}
	min, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("min port: %w", err)
	}
	max, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, fmt.Errorf("max port: %w", err)
	}
	if min < 1024 || min > 65534 {
		return 0, 0, fmt.Errorf("min port must be between 1024 and 65534, got %d", min)
	}
	if max < min+2 || max > 65535 {
		return 0, 0, fmt.Errorf("max port must be between min+2 and 65535, got %d", max)
	}
	// RTP uses even ports; RTCP takes the next odd one.
	if min%2 != 0 {
		min++
	}
	return min, max, nil
}

// MediaIP returns the address to advertise in SDP. If no public address is
// configured it picks the primary non-loopback IPv4 address, falling back to
// 127.0.0.1.
func (c *Config) MediaIP() string {
	if c.SIP.PublicAddress != "" {
		return c.SIP.PublicAddress
	}
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				return ipNet.IP.String()
			}
		}
	}
	return "127.0.0.1"
}

// SlogHandler returns a slog.Handler configured with the configured format
// and level, writing to w.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.Logging.Format == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured level.
func (c *Config) SlogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

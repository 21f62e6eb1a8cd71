package config

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sshscan/sshscan-worker/internal/domain"
)

// Build-time variables injected via -ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

// Configuration keys. Each one can come from a flag, an environment
// variable or the config file.
const (
	KeyHost                = "host"
	KeyScheme              = "scheme"
	KeyVerify              = "verify"
	KeyPort                = "port"
	KeyToken               = "token"
	KeyPollInterval        = "poll_interval"
	KeyPollRestoreInterval = "poll_restore_interval"
	KeyRequestTimeout      = "request_timeout"
	KeyDebug               = "debug"
	KeyLogDir              = "log_dir"
	KeyStatusAddr          = "status_addr"
	KeyFingerprintDatabase = "fingerprint_database"
	KeyPolicy              = "policy"
	KeyScanTimeout         = "scan_timeout"
	KeyInstallRoot         = "install_root"
)

var envBindings = map[string]string{
	KeyHost:                "SSHSCAN_API_HOST",
	KeyScheme:              "SSHSCAN_API_SCHEME",
	KeyVerify:              "SSHSCAN_API_VERIFY",
	KeyPort:                "SSHSCAN_API_PORT",
	KeyToken:               "SSHSCAN_API_TOKEN",
	KeyPollInterval:        "SSHSCAN_POLL_INTERVAL",
	KeyPollRestoreInterval: "SSHSCAN_POLL_RESTORE_INTERVAL",
	KeyRequestTimeout:      "SSHSCAN_REQUEST_TIMEOUT",
	KeyDebug:               "SSHSCAN_WORKER_DEBUG",
	KeyLogDir:              "SSHSCAN_LOG_DIR",
	KeyStatusAddr:          "SSHSCAN_STATUS_ADDR",
	KeyFingerprintDatabase: "SSHSCAN_FINGERPRINT_DATABASE",
	KeyPolicy:              "SSHSCAN_POLICY",
	KeyScanTimeout:         "SSHSCAN_SCAN_TIMEOUT",
	KeyInstallRoot:         "SSHSCAN_INSTALL_ROOT",
}

// mandatory lists the parameters that have no default, in the order they
// are reported when missing.
var mandatory = []string{
	KeyHost, KeyScheme, KeyVerify, KeyPort, KeyToken,
	KeyPollInterval, KeyPollRestoreInterval,
}

// Data files shipped with the worker, relative to the install root.
const (
	defaultFingerprintDatabase = "data/fingerprints.yml"
	defaultPolicy              = "config/policies/mozilla_modern.yml"
)

// Config holds the worker configuration. It is not modified after Load.
type Config struct {
	// Host is the coordinator host name or address.
	Host string

	// Scheme is "http" or "https".
	Scheme string

	// Port is the coordinator TCP port.
	Port int

	// Verify enables TLS peer verification. Disabling it is insecure.
	Verify bool

	// Token is sent in the SSH_SCAN_AUTH_TOKEN header.
	Token string

	// PollInterval is the wait after an empty or error poll response.
	PollInterval time.Duration

	// PollRestoreInterval is the wait after the coordinator was unreachable.
	PollRestoreInterval time.Duration

	// RequestTimeout bounds every coordinator request.
	RequestTimeout time.Duration

	// Debug enables debug logging.
	Debug bool

	// LogDir, when set, receives a copy of the log as <name>.log.
	LogDir string

	// StatusAddr is the listen address of the local status server.
	// Empty disables it.
	StatusAddr string

	// InstallRoot is the directory the bundled data files are resolved
	// against. It defaults to the directory of the executable.
	InstallRoot string

	FingerprintDatabase string
	Policy              string
	ScanTimeout         time.Duration
}

// DefaultConfig returns a Config populated with the optional defaults.
// Data file paths are relative to the install root until Load resolves them.
func DefaultConfig() *Config {
	return &Config{
		RequestTimeout:      30 * time.Second,
		FingerprintDatabase: defaultFingerprintDatabase,
		Policy:              defaultPolicy,
		ScanTimeout:         5 * time.Second,
	}
}

// BindEnv attaches the SSHSCAN_* environment variables to v.
func BindEnv(v *viper.Viper) {
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
}

// Load reads configuration from v, applying defaults for anything optional.
// A missing mandatory parameter yields domain.ErrConfiguration naming it.
func Load(v *viper.Viper) (*Config, error) {
	BindEnv(v)

	for _, key := range mandatory {
		if !v.IsSet(key) || strings.TrimSpace(v.GetString(key)) == "" {
			return nil, domain.ErrConfiguration{Field: key}
		}
	}

	cfg := DefaultConfig()
	cfg.Host = strings.TrimSpace(v.GetString(KeyHost))
	cfg.Scheme = strings.ToLower(strings.TrimSpace(v.GetString(KeyScheme)))
	cfg.Token = v.GetString(KeyToken)

	verify, err := strconv.ParseBool(strings.TrimSpace(v.GetString(KeyVerify)))
	if err != nil {
		return nil, domain.ErrConfiguration{Field: KeyVerify, Reason: "must be a boolean"}
	}
	cfg.Verify = verify

	port, err := strconv.Atoi(strings.TrimSpace(v.GetString(KeyPort)))
	if err != nil {
		return nil, domain.ErrConfiguration{Field: KeyPort, Reason: "must be a number"}
	}
	cfg.Port = port

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{KeyPollInterval, &cfg.PollInterval},
		{KeyPollRestoreInterval, &cfg.PollRestoreInterval},
		{KeyRequestTimeout, &cfg.RequestTimeout},
		{KeyScanTimeout, &cfg.ScanTimeout},
	}
	for _, d := range durations {
		if !v.IsSet(d.key) {
			continue
		}
		parsed, err := parseInterval(v.GetString(d.key))
		if err != nil {
			return nil, domain.ErrConfiguration{Field: d.key, Reason: err.Error()}
		}
		*d.dst = parsed
	}

	cfg.Debug = v.GetBool(KeyDebug)
	cfg.LogDir = v.GetString(KeyLogDir)
	cfg.StatusAddr = v.GetString(KeyStatusAddr)

	root, err := installRoot(v.GetString(KeyInstallRoot))
	if err != nil {
		return nil, domain.ErrConfiguration{Field: KeyInstallRoot, Reason: err.Error()}
	}
	cfg.InstallRoot = root
	cfg.FingerprintDatabase = filepath.Join(root, defaultFingerprintDatabase)
	cfg.Policy = filepath.Join(root, defaultPolicy)
	if s := v.GetString(KeyFingerprintDatabase); s != "" {
		cfg.FingerprintDatabase = s
	}
	if s := v.GetString(KeyPolicy); s != "" {
		cfg.Policy = s
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values. It does not know whether a zero value was
// explicitly set, so presence is checked by Load.
func (c *Config) Validate() error {
	if c.Host == "" {
		return domain.ErrConfiguration{Field: KeyHost}
	}
	if c.Scheme != "http" && c.Scheme != "https" {
		return domain.ErrConfiguration{Field: KeyScheme, Reason: fmt.Sprintf("must be http or https, got %q", c.Scheme)}
	}
	if c.Port < 1 || c.Port > 65535 {
		return domain.ErrConfiguration{Field: KeyPort, Reason: fmt.Sprintf("out of range: %d", c.Port)}
	}
	if c.Token == "" {
		return domain.ErrConfiguration{Field: KeyToken}
	}
	if c.PollInterval <= 0 {
		return domain.ErrConfiguration{Field: KeyPollInterval, Reason: "must be positive"}
	}
	if c.PollRestoreInterval <= 0 {
		return domain.ErrConfiguration{Field: KeyPollRestoreInterval, Reason: "must be positive"}
	}
	if c.RequestTimeout <= 0 {
		return domain.ErrConfiguration{Field: KeyRequestTimeout, Reason: "must be positive"}
	}
	if c.ScanTimeout <= 0 {
		return domain.ErrConfiguration{Field: KeyScanTimeout, Reason: "must be positive"}
	}
	return nil
}

// Addr returns host:port of the coordinator.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL returns scheme://host:port.
func (c *Config) BaseURL() string {
	return c.Scheme + "://" + c.Addr()
}

// installRoot returns dir as an absolute path, or the directory holding the
// running executable when dir is empty.
func installRoot(dir string) (string, error) {
	if dir != "" {
		return filepath.Abs(dir)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// parseInterval accepts a Go duration ("1m30s") or a bare number of seconds.
func parseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// NewLogger creates a structured JSON logger writing to stdout and, when
// LogDir is set, to <LogDir>/<name>.log as well.
func NewLogger(cfg *Config, name string) (*slog.Logger, error) {
	var w io.Writer = os.Stdout

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}

		logPath := filepath.Join(cfg.LogDir, name+".log")
		file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file %s: %w", logPath, err)
		}
		w = io.MultiWriter(os.Stdout, file)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler), nil
}

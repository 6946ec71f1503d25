package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultEndpoint is the Linear GraphQL endpoint.
const DefaultEndpoint = "https://api.linear.app/graphql"

// DefaultAllowedOrigins lets any Chrome extension call the HTTP API.
var DefaultAllowedOrigins = []string{"chrome-extension://*"}

// Settings configure the process: where state lives, where to listen, where to
// send requests. They are not user policy and are not stored in the database.
type Settings struct {
	DBPath         string        `yaml:"db_path"`
	ListenAddr     string        `yaml:"listen_addr"`
	Endpoint       string        `yaml:"endpoint"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	LogLevel       string        `yaml:"log_level"`
	LogFile        string        `yaml:"log_file"`

	// AllowedOrigins are the browser origins the HTTP API answers; a
	// trailing * matches any suffix. Requests without an Origin header,
	// such as the CLI's, are always served.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// DefaultSettings returns settings rooted in the user's home directory.
func DefaultSettings() Settings {
	return Settings{
		DBPath:         filepath.Join(dataDir(), "aurora.db"),
		ListenAddr:     "127.0.0.1:7777",
		Endpoint:       DefaultEndpoint,
		RequestTimeout: 10 * time.Second,
		LogLevel:       "info",
		AllowedOrigins: DefaultAllowedOrigins,
	}
}

// DefaultSettingsPath returns $XDG_CONFIG_HOME/aurora/config.yaml, falling
// back to ~/.config/aurora/config.yaml.
func DefaultSettingsPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "aurora", "config.yaml")
	}
	return filepath.Join(homeDir(), ".config", "aurora", "config.yaml")
}

func dataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "aurora")
	}
	return filepath.Join(homeDir(), ".local", "share", "aurora")
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// LoadSettings builds settings from defaults, then the YAML file at path,
// then AURORA_* environment variables. Variables may also come from envFiles
// (".env" when none are given); a missing env file is not an error, and
// variables already set in the environment win over the file.
//
// An empty path means DefaultSettingsPath, which may be absent. An explicit
// path must exist.
func LoadSettings(path string, envFiles ...string) (Settings, error) {
	s := DefaultSettings()

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return s, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	explicit := path != ""
	if !explicit {
		path = DefaultSettingsPath()
	}
	data, err := os.ReadFile(ExpandPath(path))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse settings file %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return s, fmt.Errorf("failed to read settings file: %w", err)
	}

	if err := s.applyEnv(); err != nil {
		return s, err
	}
	if err := validateOrigins(s.AllowedOrigins); err != nil {
		return s, err
	}

	s.DBPath = ExpandPath(s.DBPath)
	s.LogFile = ExpandPath(s.LogFile)
	return s, nil
}

func (s *Settings) applyEnv() error {
	strs := map[string]*string{
		"AURORA_DB_PATH":     &s.DBPath,
		"AURORA_LISTEN_ADDR": &s.ListenAddr,
		"AURORA_ENDPOINT":    &s.Endpoint,
		"AURORA_LOG_LEVEL":   &s.LogLevel,
		"AURORA_LOG_FILE":    &s.LogFile,
	}
	for name, field := range strs {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*field = v
		}
	}

	if v := os.Getenv("AURORA_ALLOWED_ORIGINS"); v != "" {
		s.AllowedOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				s.AllowedOrigins = append(s.AllowedOrigins, origin)
			}
		}
	}

	if v := os.Getenv("AURORA_REQUEST_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AURORA_REQUEST_TIMEOUT %q: %w", v, err)
		}
		s.RequestTimeout = d
	}
	return nil
}

var originSchemes = []string{
	"http://", "https://",
	"chrome-extension://", "moz-extension://", "safari-extension://", "ms-browser-extension://",
}

// validateOrigins rejects origins the CORS layer cannot match: at most one *
// and, unless the origin is a bare pattern, a web or extension scheme.
func validateOrigins(origins []string) error {
	for _, origin := range origins {
		if strings.Count(origin, "*") > 1 {
			return fmt.Errorf("invalid allowed origin %q: only one * is allowed", origin)
		}
		if strings.Contains(origin, "*") {
			continue
		}
		known := false
		for _, scheme := range originSchemes {
			if strings.HasPrefix(origin, scheme) {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("invalid allowed origin %q: must start with http://, https:// or an extension scheme", origin)
		}
	}
	return nil
}

// ExpandPath replaces a leading ~ with the home directory.
func ExpandPath(path string) string {
	if path == "~" {
		return homeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir(), path[2:])
	}
	return path
}

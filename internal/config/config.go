// Package config provides configuration management for chatterbox.
package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/chatterbox/pkg/models"
)

const (
	// DefaultListenAddr is where the daemon accepts wire and UI traffic.
	DefaultListenAddr = "127.0.0.1:37790"
	// DefaultGroupSnoozeSeconds is how long a snoozed group chat can be
	// restored without a fresh invitation.
	DefaultGroupSnoozeSeconds = 900
	// DefaultSessionInitTimeoutSeconds bounds the start-session round trip.
	DefaultSessionInitTimeoutSeconds = 30
	// DefaultHistoryLimit is the number of transcript lines loaded per session.
	DefaultHistoryLimit = 200
	// DefaultDNDResponse is sent to callers while do-not-disturb is on.
	DefaultDNDResponse = "The Resident you messaged is in 'Do Not Disturb' mode which means they have requested not to be disturbed. Your message will still be shown in their IM panel for later viewing."

	dataDirName  = ".chatterbox"
	settingsFile = "settings.json"
	dbFile       = "chatterbox.db"
	relationsDB  = "relations.db"
)

// DefaultTrustedSenderSuffixes identifies system staff whose messages bypass
// friends-only and mute filtering.
var DefaultTrustedSenderSuffixes = []string{"Linden"}

// Config holds all settings. JSON keys match settings.json.
type Config struct {
	AgentID        string `json:"CHATTERBOX_AGENT_ID"`
	AgentName      string `json:"CHATTERBOX_AGENT_NAME"`
	ListenAddr     string `json:"CHATTERBOX_LISTEN"`
	ChatSessionURL string `json:"CHATTERBOX_CHAT_SESSION_URL"`
	MessageURL     string `json:"CHATTERBOX_MESSAGE_URL"`
	NamesURL       string `json:"CHATTERBOX_NAMES_URL"`
	DBPath         string `json:"CHATTERBOX_DB_PATH"`
	RelationsPath  string `json:"CHATTERBOX_RELATIONS_DB_PATH"`
	StringsPath    string `json:"CHATTERBOX_STRINGS_PATH"`
	MaxConns       int    `json:"CHATTERBOX_MAX_CONNS"`

	// Transcript settings
	LogShowHistory  bool `json:"CHATTERBOX_LOG_SHOW_HISTORY"`
	HistoryLimit    int  `json:"CHATTERBOX_HISTORY_LIMIT"`
	KeepTranscripts bool `json:"CHATTERBOX_KEEP_TRANSCRIPTS"`
	LegacyLogNames  bool `json:"CHATTERBOX_LEGACY_LOG_NAMES"`

	// Filtering policy
	FriendsOnly                  bool   `json:"CHATTERBOX_FRIENDS_ONLY"`
	RejectGroupCalls             bool   `json:"CHATTERBOX_REJECT_GROUP_CALLS"`
	RejectAdHocCalls             bool   `json:"CHATTERBOX_REJECT_ADHOC_CALLS"`
	RejectP2PCalls               bool   `json:"CHATTERBOX_REJECT_P2P_CALLS"`
	IgnoreAdHocSessions          bool   `json:"CHATTERBOX_IGNORE_ADHOC_SESSIONS"`
	MuteAllGroups                bool   `json:"CHATTERBOX_MUTE_ALL_GROUPS"`
	MuteGroupWhenNoticesDisabled bool   `json:"CHATTERBOX_MUTE_GROUP_WHEN_NOTICES_DISABLED"`
	TrustedSendersRaw            string `json:"CHATTERBOX_TRUSTED_SENDER_SUFFIXES"`

	// Session behaviour
	GroupCloseAction          string `json:"CHATTERBOX_GROUP_CLOSE_ACTION"`
	GroupSnoozeSeconds        int    `json:"CHATTERBOX_GROUP_SNOOZE_SECONDS"`
	SessionInitTimeoutSeconds int    `json:"CHATTERBOX_SESSION_INIT_TIMEOUT_SECONDS"`
	SendTypingState           bool   `json:"CHATTERBOX_SEND_TYPING_STATE"`
	AnnounceIncomingIM        bool   `json:"CHATTERBOX_ANNOUNCE_INCOMING_IM"`
	DoNotDisturb              bool   `json:"CHATTERBOX_DO_NOT_DISTURB"`
	DNDResponse               string `json:"CHATTERBOX_DND_RESPONSE"`

	// Parsed from TrustedSendersRaw.
	TrustedSenderSuffixes []string `json:"-"`
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// DataDir returns the data directory path.
func DataDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dataDirName)
}

// DBPath returns the transcript database path.
func DBPath() string {
	return filepath.Join(DataDir(), dbFile)
}

// RelationsDBPath returns the relations database path.
func RelationsDBPath() string {
	return filepath.Join(DataDir(), relationsDB)
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), settingsFile)
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0750)
}

// EnsureSettings writes a default settings file if none exists.
func EnsureSettings() error {
	path := SettingsPath()
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// EnsureAll creates the data directory and the default settings file.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	return EnsureSettings()
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		ListenAddr:                DefaultListenAddr,
		DBPath:                    DBPath(),
		RelationsPath:             RelationsDBPath(),
		MaxConns:                  4,
		LogShowHistory:            true,
		HistoryLimit:              DefaultHistoryLimit,
		KeepTranscripts:           true,
		GroupCloseAction:          "default",
		GroupSnoozeSeconds:        DefaultGroupSnoozeSeconds,
		SessionInitTimeoutSeconds: DefaultSessionInitTimeoutSeconds,
		SendTypingState:           true,
		DNDResponse:               DefaultDNDResponse,
		TrustedSenderSuffixes:     append([]string(nil), DefaultTrustedSenderSuffixes...),
	}
}

// Load reads settings.json on top of the defaults. A missing file or
// invalid JSON yields the defaults.
func Load() (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		log.Warn().Err(err).Str("path", SettingsPath()).Msg("Invalid settings file, using defaults")
		return Default(), nil
	}

	cfg.normalize()
	return cfg, nil
}

func (c *Config) normalize() {
	if c.TrustedSendersRaw != "" {
		c.TrustedSenderSuffixes = splitTrim(c.TrustedSendersRaw)
	}
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.GroupSnoozeSeconds <= 0 {
		c.GroupSnoozeSeconds = DefaultGroupSnoozeSeconds
	}
	if c.SessionInitTimeoutSeconds <= 0 {
		c.SessionInitTimeoutSeconds = DefaultSessionInitTimeoutSeconds
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = DefaultHistoryLimit
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 4
	}
}

// Get returns the process-wide configuration, loading it once.
func Get() *Config {
	configOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to load config, using defaults")
			cfg = Default()
		}
		globalConfig = cfg
	})
	return globalConfig
}

// GetListenAddr returns the listen address, honouring CHATTERBOX_LISTEN.
func GetListenAddr() string {
	if addr := strings.TrimSpace(os.Getenv("CHATTERBOX_LISTEN")); addr != "" {
		return addr
	}
	return Get().ListenAddr
}

// GroupSnooze returns the snooze window as a duration.
func (c *Config) GroupSnooze() time.Duration {
	return time.Duration(c.GroupSnoozeSeconds) * time.Second
}

// SessionInitTimeout returns the start-session timeout as a duration.
func (c *Config) SessionInitTimeout() time.Duration {
	return time.Duration(c.SessionInitTimeoutSeconds) * time.Second
}

// CloseAction returns the configured close action for group sessions.
func (c *Config) CloseAction() models.CloseAction {
	return models.ParseCloseAction(c.GroupCloseAction)
}

// IsTrustedSender reports whether name carries a trusted suffix, e.g.
// "Alex Linden".
func (c *Config) IsTrustedSender(name string) bool {
	name = strings.TrimSpace(name)
	for _, suffix := range c.TrustedSenderSuffixes {
		if suffix != "" && strings.HasSuffix(name, " "+suffix) {
			return true
		}
	}
	return false
}

// splitTrim splits a comma-separated string and trims each part.
func splitTrim(s string) []string {
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// Source holds the live configuration. The settings watcher swaps in a new
// value on change; readers always see a complete Config.
type Source struct {
	current atomic.Pointer[Config]
}

// NewSource creates a Source holding cfg.
func NewSource(cfg *Config) *Source {
	s := &Source{}
	s.current.Store(cfg)
	return s
}

// Current returns the active configuration.
func (s *Source) Current() *Config {
	return s.current.Load()
}

// Store replaces the active configuration.
func (s *Source) Store(cfg *Config) {
	s.current.Store(cfg)
}

// Reload re-reads settings.json and swaps it in.
func (s *Source) Reload() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	s.Store(cfg)
	log.Info().Str("path", SettingsPath()).Msg("Settings reloaded")
	return nil
}

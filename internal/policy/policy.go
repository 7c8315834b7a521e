// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package policy implements the ConfigStore: the layered geoclue.conf +
// conf.d/*.conf keyed-section configuration that decides which sources run
// and which applications may use them without asking. The keyed-section
// (GKeyFile) grammar is parsed with gopkg.in/ini.v1 (see DESIGN.md). The
// load/merge semantics below follow gclue-config.c's
// has_allowed/has_system/has_users layering, its Wi-Fi submission
// nickname length check, and its post-load source-disabling validation.
package policy

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/geoclued/geoclue/internal/logger"
)

// Permission is an application's configured access level.
type Permission int

const (
	// PermissionAskAgent means the app wasn't found in any config
	// section; an agent must be consulted (the original daemon's
	// GCLUE_APP_PERM_ASK_AGENT).
	PermissionAskAgent Permission = iota
	PermissionAllowed
	PermissionDenied
)

// AppConfig is one application's permission section.
type AppConfig struct {
	DesktopID string
	Allowed   bool
	System    bool
	Users     []string // empty means "all uids"
}

// SourceConfig holds the per-source-kind enable flags and IP-method
// selection.
type SourceConfig struct {
	WiFiEnabled    bool
	ThreeGEnabled  bool
	CDMAEnabled    bool
	GNSSEnabled    bool
	NMEAEnabled    bool
	StaticEnabled  bool
	IPEnabled      bool
	CompassEnabled bool

	WiFiURL        string
	WiFiSubmitData bool
	WiFiSubmitURL  string
	WiFiSubmitNick string

	NMEASocket string

	IPMethod   string
	IPURL      string
	IPAccuracy float64 // 0 means "use the method default"
}

// Store is the loaded, layered configuration.
type Store struct {
	Sources       SourceConfig
	Apps          map[string]*AppConfig
	AllowedAgents map[string]struct{}
}

// Load reads basePath, then every *.conf file in confDDir in lexical
// order, merging each file's sections on top of the last. A later file's
// absent key leaves the prior value untouched, matching
// load_app_configs's behavior exactly.
func Load(basePath, confDDir string, log *logger.Logger) (*Store, error) {
	store := &Store{
		Sources:       defaultSourceConfig(),
		Apps:          make(map[string]*AppConfig),
		AllowedAgents: make(map[string]struct{}),
	}

	if err := store.mergeFile(basePath, log); err != nil {
		return nil, fmt.Errorf("policy: load base config %q: %w", basePath, err)
	}

	paths, err := filepath.Glob(filepath.Join(confDDir, "*.conf"))
	if err != nil {
		return nil, fmt.Errorf("policy: glob conf.d: %w", err)
	}
	sort.Strings(paths)
	for _, p := range paths {
		if err := store.mergeFile(p, log); err != nil {
			log.Warn("policy: skipping unreadable drop-in", "path", p, logger.Err(err))
			continue
		}
	}

	store.applyValidationDefaults(log)
	return store, nil
}

func (s *Store) mergeFile(path string, log *logger.Logger) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}

	for _, section := range cfg.Sections() {
		name := section.Name()
		if name == ini.DefaultSection {
			continue
		}

		switch strings.ToLower(name) {
		case "wifi":
			s.mergeWiFi(section)
		case "ip":
			s.mergeIP(section)
		case "agent":
			for _, id := range section.Key("whitelist").Strings(";") {
				s.AllowedAgents[id] = struct{}{}
			}
		case "network-nmea":
			s.mergeSourceEnable("network-nmea", section)
			if section.HasKey("nmea-socket") {
				s.Sources.NMEASocket = section.Key("nmea-socket").String()
			}
		case "modem-gps", "3g", "cdma", "static-source", "compass":
			s.mergeSourceEnable(strings.ToLower(name), section)
		default:
			s.mergeApp(name, section, log)
		}
	}
	return nil
}

func (s *Store) mergeWiFi(section *ini.Section) {
	if section.HasKey("enable") {
		s.Sources.WiFiEnabled = section.Key("enable").MustBool(true)
	}
	if section.HasKey("url") {
		s.Sources.WiFiURL = section.Key("url").String()
	}
	if section.HasKey("submit-data") {
		s.Sources.WiFiSubmitData = section.Key("submit-data").MustBool(false)
	}
	if section.HasKey("submission-url") {
		s.Sources.WiFiSubmitURL = section.Key("submission-url").String()
	}
	if section.HasKey("submission-nick") {
		s.Sources.WiFiSubmitNick = section.Key("submission-nick").String()
	}
}

func (s *Store) mergeIP(section *ini.Section) {
	if section.HasKey("enable") {
		s.Sources.IPEnabled = section.Key("enable").MustBool(true)
	}
	if section.HasKey("method") {
		s.Sources.IPMethod = strings.ToLower(section.Key("method").String())
	}
	if section.HasKey("url") {
		s.Sources.IPURL = section.Key("url").String()
	}
	if section.HasKey("accuracy") {
		if v, err := section.Key("accuracy").Float64(); err == nil {
			s.Sources.IPAccuracy = v
		}
	}
}

func (s *Store) mergeSourceEnable(name string, section *ini.Section) {
	if !section.HasKey("enable") {
		return
	}
	enabled := section.Key("enable").MustBool(true)
	switch name {
	case "network-nmea":
		s.Sources.NMEAEnabled = enabled
	case "modem-gps":
		s.Sources.GNSSEnabled = enabled
	case "3g":
		s.Sources.ThreeGEnabled = enabled
	case "cdma":
		s.Sources.CDMAEnabled = enabled
	case "static-source":
		s.Sources.StaticEnabled = enabled
	case "compass":
		s.Sources.CompassEnabled = enabled
	}
}

// mergeApp folds one [desktop-id] section into the accumulated config. A
// brand-new app section must carry an "allowed" key; one without it is
// rejected with a warning, matching load_app_configs. A later drop-in may
// update just one key of an app an earlier file already established.
func (s *Store) mergeApp(desktopID string, section *ini.Section, log *logger.Logger) {
	app, existing := s.Apps[desktopID]
	if !existing {
		if !section.HasKey("allowed") {
			log.Warn("policy: rejecting app section without an allowed key", "desktop_id", desktopID)
			return
		}
		app = &AppConfig{DesktopID: desktopID}
		s.Apps[desktopID] = app
	}

	if section.HasKey("allowed") {
		app.Allowed = section.Key("allowed").MustBool(false)
	}
	if section.HasKey("system") {
		app.System = section.Key("system").MustBool(false)
	}
	if section.HasKey("users") {
		app.Users = section.Key("users").Strings(";")
	}
}

func (s *Store) applyValidationDefaults(log *logger.Logger) {
	if s.Sources.WiFiURL == "" {
		if s.Sources.WiFiEnabled || s.Sources.ThreeGEnabled {
			log.Warn("policy: disabling wifi/3g sources, no wifi.url configured")
		}
		s.Sources.WiFiEnabled = false
		s.Sources.ThreeGEnabled = false
	}
	if s.Sources.WiFiSubmitURL == "" {
		s.Sources.WiFiSubmitData = false
		s.Sources.WiFiSubmitNick = ""
	}
	if !ValidSubmissionNick(s.Sources.WiFiSubmitNick) {
		log.Warn("policy: ignoring invalid wifi submission nickname", "nick", s.Sources.WiFiSubmitNick)
		s.Sources.WiFiSubmitNick = ""
	}
	switch s.Sources.IPMethod {
	case "ichnaea", "gmaps", "reallyfreegeoip":
	default:
		log.Warn("policy: disabling ip source, unknown ip.method", "method", s.Sources.IPMethod)
		s.Sources.IPEnabled = false
	}
}

// ValidSubmissionNick reports whether nick is empty (disabled) or 2-32
// characters long, matching gclue_config.c's load_wifi_config check.
func ValidSubmissionNick(nick string) bool {
	if nick == "" {
		return true
	}
	return len(nick) >= 2 && len(nick) <= 32
}

func defaultSourceConfig() SourceConfig {
	return SourceConfig{
		WiFiEnabled:    true,
		ThreeGEnabled:  true,
		CDMAEnabled:    true,
		GNSSEnabled:    true,
		NMEAEnabled:    true,
		StaticEnabled:  true,
		IPEnabled:      true,
		CompassEnabled: true,
		IPMethod:       "ichnaea",
	}
}

// AppPermission returns the configured permission for desktopID. An
// unknown app yields PermissionAskAgent; per-uid user lists restrict
// PermissionAllowed to the listed uids only (gclue_config_get_app_perm).
func (s *Store) AppPermission(desktopID string, uid uint32) Permission {
	app, ok := s.Apps[desktopID]
	if !ok {
		return PermissionAskAgent
	}
	if !app.Allowed {
		return PermissionDenied
	}
	if len(app.Users) == 0 {
		return PermissionAllowed
	}
	for _, u := range app.Users {
		if u == fmt.Sprint(uid) {
			return PermissionAllowed
		}
	}
	return PermissionDenied
}

// IsSystemComponent reports whether desktopID is configured as a trusted
// system component, exempting it from agent-mediated authorization.
func (s *Store) IsSystemComponent(desktopID string) bool {
	app, ok := s.Apps[desktopID]
	return ok && app.System
}

var redactKeyPattern = regexp.MustCompile(`([?&]key=)[^&\s]+`)

// RedactAPIKey strips an API key query parameter from url before logging
// it, matching gclue_config.c's redact_api_key.
func RedactAPIKey(url string) string {
	return redactKeyPattern.ReplaceAllString(url, "${1}REDACTED")
}

// DebugDump logs the loaded configuration with API keys redacted, mirroring
// gclue_config_print.
func (s *Store) DebugDump(log *logger.Logger) {
	log.Debug("policy: loaded configuration",
		"wifi.url", RedactAPIKey(s.Sources.WiFiURL),
		"wifi.submission_url", RedactAPIKey(s.Sources.WiFiSubmitURL),
		"ip.method", s.Sources.IPMethod,
		"ip.url", RedactAPIKey(s.Sources.IPURL),
		"apps", len(s.Apps),
		"allowed_agents", len(s.AllowedAgents),
	)
}

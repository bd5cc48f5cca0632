// Package config loads the settings shared by the CLI, the MCP server and
// the library packages.
//
// Settings are layered, lowest precedence first: built-in defaults, a TOML
// file, a Java-properties preferences file and IMAGE_TOOLS_* environment
// variables. Components receive the resulting Config (or one of its
// sections) explicitly; nothing reads global state after Load returns.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/magiconair/properties"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "IMAGE_TOOLS_"

// Preference keys of the image-analysis application's preferences store.
const (
	PrefSenderEmail = "imcf.sender_email"
	PrefSMTPServer  = "imcf.smtpserver"
)

// Mail holds the settings for job notifications.
type Mail struct {
	Sender     string `toml:"sender"`
	SMTPServer string `toml:"smtp_server"`
	SMTPPort   int    `toml:"smtp_port"`
}

// Omero holds the settings for the remote image repository. Host names the
// web server, either as a bare host name or as a full base URL. Port is the
// server port handed to the command-line importer.
type Omero struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	// GroupID -1 selects the user's default group.
	GroupID      int64  `toml:"group_id"`
	Secure       bool   `toml:"secure"`
	ImporterPath string `toml:"importer_path"`
}

// Imaris holds the glob patterns searched for the ImarisConvert executable.
type Imaris struct {
	SearchPaths []string `toml:"search_paths"`
}

// Config is the complete set of settings.
type Config struct {
	LogLevel string `toml:"log_level"`
	Mail     Mail   `toml:"mail"`
	Omero    Omero  `toml:"omero"`
	Imaris   Imaris `toml:"imaris"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		LogLevel: "info",
		Mail: Mail{
			SMTPPort: 25,
		},
		Omero: Omero{
			Port:         4064,
			GroupID:      -1,
			Secure:       true,
			ImporterPath: "omero",
		},
		Imaris: Imaris{
			SearchPaths: []string{
				`C:\Program Files\Bitplane\ImarisFileConverter*\ImarisConvert.exe`,
				"/opt/bitplane/ImarisFileConverter*/ImarisConvert",
			},
		},
	}
}

// Load builds a Config from the defaults, the optional TOML file at
// tomlPath, the optional preferences file at prefsPath and the environment.
// Empty paths are skipped. A missing file is an error.
func Load(tomlPath, prefsPath string) (Config, error) {
	cfg := Default()

	if tomlPath != "" {
		if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", tomlPath, err)
		}
	}

	if prefsPath != "" {
		p, err := properties.LoadFile(prefsPath, properties.UTF8)
		if err != nil {
			return cfg, fmt.Errorf("failed to read preferences %s: %w", prefsPath, err)
		}
		cfg.applyPrefs(p)
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}

	cfg.trim()
	return cfg, nil
}

// applyPrefs copies the mail settings from a preferences store. The
// application writes its own keys with a leading ".", so both spellings are
// accepted.
func (c *Config) applyPrefs(p *properties.Properties) {
	if v := pref(p, PrefSenderEmail); v != "" {
		c.Mail.Sender = v
	}
	if v := pref(p, PrefSMTPServer); v != "" {
		c.Mail.SMTPServer = v
	}
}

func pref(p *properties.Properties, key string) string {
	if v, ok := p.Get(key); ok {
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(p.GetString("."+key, ""))
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("LOG_LEVEL", &c.LogLevel)
	str("MAIL_SENDER", &c.Mail.Sender)
	str("SMTP_SERVER", &c.Mail.SMTPServer)
	num("SMTP_PORT", &c.Mail.SMTPPort)
	str("OMERO_HOST", &c.Omero.Host)
	num("OMERO_PORT", &c.Omero.Port)
	str("OMERO_USER", &c.Omero.Username)
	str("OMERO_PASSWORD", &c.Omero.Password)
	str("OMERO_IMPORTER", &c.Omero.ImporterPath)

	if v, ok := lookup(EnvPrefix + "OMERO_GROUP"); ok {
		id, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sOMERO_GROUP: %w", EnvPrefix, err))
		} else {
			c.Omero.GroupID = id
		}
	}
	if v, ok := lookup(EnvPrefix + "OMERO_SECURE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sOMERO_SECURE: %w", EnvPrefix, err))
		} else {
			c.Omero.Secure = b
		}
	}
	if v, ok := lookup(EnvPrefix + "IMARIS_PATHS"); ok && strings.TrimSpace(v) != "" {
		c.Imaris.SearchPaths = strings.Split(v, string(os.PathListSeparator))
	}

	return errors.Join(errs...)
}

func (c *Config) trim() {
	c.LogLevel = strings.TrimSpace(c.LogLevel)
	c.Mail.Sender = strings.TrimSpace(c.Mail.Sender)
	c.Mail.SMTPServer = strings.TrimSpace(c.Mail.SMTPServer)
	c.Omero.Host = strings.TrimSpace(c.Omero.Host)
	c.Omero.Username = strings.TrimSpace(c.Omero.Username)
	c.Omero.Password = strings.TrimSpace(c.Omero.Password)
	c.Omero.ImporterPath = strings.TrimSpace(c.Omero.ImporterPath)
	for i, p := range c.Imaris.SearchPaths {
		c.Imaris.SearchPaths[i] = strings.TrimSpace(p)
	}
}

// Configured reports whether both sender and SMTP server are set.
func (m Mail) Configured() bool {
	return m.Sender != "" && m.SMTPServer != ""
}

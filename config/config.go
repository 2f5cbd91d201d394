package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvPrefix         = "PAYFLOW"
	DefaultDirName    = ".payflow"
	DefaultConfigName = "config"
)

type Config struct {
	Variant    Variant          `mapstructure:"variant"`
	Profile    string           `mapstructure:"profile"`
	Verbose    bool             `mapstructure:"verbose"`
	API        APIConfig        `mapstructure:"api"`
	Stripe     StripeConfig     `mapstructure:"stripe"`
	Confirm    ConfirmConfig    `mapstructure:"confirm"`
	Session    SessionConfig    `mapstructure:"session"`
	FusionAuth FusionAuthConfig `mapstructure:"fusionauth"`
	Console    ConsoleConfig    `mapstructure:"console"`

	// ConfigFile is the file that was actually read, if any
	ConfigFile string `mapstructure:"-"`
}

type APIConfig struct {
	BaseURL   string        `mapstructure:"baseUrl"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rateLimit"` // requests per second, 0 disables
	Burst     int           `mapstructure:"burst"`
	Routes    Routes        `mapstructure:"routes"`
}

type StripeConfig struct {
	PublishableKey string `mapstructure:"publishableKey"`
	ReturnURL      string `mapstructure:"returnUrl"`
}

type ConfirmConfig struct {
	PollInterval time.Duration `mapstructure:"pollInterval"`
	PollAttempts int           `mapstructure:"pollAttempts"`
}

type SessionConfig struct {
	Backend  string         `mapstructure:"backend"` // file, postgres or memory
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	User    string `mapstructure:"user"`
	Pass    string `mapstructure:"pass"`
	Host    string `mapstructure:"host"`
	Port    string `mapstructure:"port"`
	DBName  string `mapstructure:"dbName"`
	Options string `mapstructure:"options"`
}

// ConnString builds a postgres:// url from the individual settings
func (p PostgresConfig) ConnString() string {
	return fmt.Sprintf(
		"postgres://%v:%v@%v:%v/%v?%v",
		p.User,
		p.Pass,
		p.Host,
		p.Port,
		p.DBName,
		p.Options,
	)
}

type FusionAuthConfig struct {
	Host              string `mapstructure:"host"`
	PublicHost        string `mapstructure:"publicHost"`
	APIKey            string `mapstructure:"apiKey"`
	AppID             string `mapstructure:"appId"`
	TenantID          string `mapstructure:"tenantId"`
	OauthClientID     string `mapstructure:"oauthClientId"`
	OauthClientSecret string `mapstructure:"oauthClientSecret"`
}

// Enabled reports whether enough is configured to talk to FusionAuth
func (f FusionAuthConfig) Enabled() bool {
	return f.Host != "" && f.AppID != ""
}

type ConsoleConfig struct {
	BindAddr string `mapstructure:"bindAddr"`
	BindPort int    `mapstructure:"bindPort"`
}

// Addr is the listen address for the console server
func (c ConsoleConfig) Addr() string {
	return fmt.Sprintf("%v:%v", c.BindAddr, c.BindPort)
}

// BaseURL is the externally reachable url of the console server
func (c ConsoleConfig) BaseURL() string {
	host := c.BindAddr
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%v:%v", host, c.BindPort)
}

// DefaultDir returns ~/.payflow, falling back to the working directory when
// no home directory can be determined.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDirName
	}
	return filepath.Join(home, DefaultDirName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("variant", string(VariantAdvanced))
	v.SetDefault("profile", "default")
	v.SetDefault("verbose", false)
	v.SetDefault("api.baseUrl", "http://localhost:8080/api")
	v.SetDefault("api.timeout", 10*time.Second)
	v.SetDefault("api.rateLimit", 5.0)
	v.SetDefault("api.burst", 5)
	v.SetDefault("stripe.publishableKey", "")
	v.SetDefault("stripe.returnUrl", "")
	v.SetDefault("confirm.pollInterval", 2*time.Second)
	v.SetDefault("confirm.pollAttempts", 90)
	v.SetDefault("session.backend", "file")
	v.SetDefault("session.path", "")
	v.SetDefault("session.postgres.user", "")
	v.SetDefault("session.postgres.pass", "")
	v.SetDefault("session.postgres.host", "localhost")
	v.SetDefault("session.postgres.port", "5432")
	v.SetDefault("session.postgres.dbName", "payflow")
	v.SetDefault("session.postgres.options", "sslmode=disable")
	v.SetDefault("fusionauth.host", "")
	v.SetDefault("fusionauth.publicHost", "")
	v.SetDefault("fusionauth.apiKey", "")
	v.SetDefault("fusionauth.appId", "")
	v.SetDefault("fusionauth.tenantId", "")
	v.SetDefault("fusionauth.oauthClientId", "")
	v.SetDefault("fusionauth.oauthClientSecret", "")
	v.SetDefault("console.bindAddr", "127.0.0.1")
	v.SetDefault("console.bindPort", 8790)
}

// New returns a viper instance with defaults and PAYFLOW_* environment
// bindings applied. Callers may bind command line flags to it before Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file (an explicit path, or config.yaml in the
// default directory when path is empty) into v and decodes the result. A
// missing default config file is not an error.
func Load(v *viper.Viper, path string) (Config, error) {
	conf := Config{}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDir())
	}

	err := v.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return conf, fmt.Errorf("failed to read config: %w", err)
		}
	}

	err = v.Unmarshal(&conf)
	if err != nil {
		return conf, fmt.Errorf("failed to decode config: %w", err)
	}
	conf.ConfigFile = v.ConfigFileUsed()

	return conf.normalize()
}

func (c Config) normalize() (Config, error) {
	variant, err := ParseVariant(string(c.Variant))
	if err != nil {
		return c, err
	}
	c.Variant = variant
	c.API.Routes = c.API.Routes.Merge(DefaultRoutes(variant))
	c.API.BaseURL = strings.TrimRight(c.API.BaseURL, "/")
	if c.API.BaseURL == "" {
		return c, fmt.Errorf("api.baseUrl must not be empty")
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
	if c.Session.Path == "" {
		c.Session.Path = filepath.Join(DefaultDir(), "sessions", c.Profile+".yaml")
	}
	if c.Confirm.PollAttempts <= 0 {
		c.Confirm.PollAttempts = 1
	}
	return c, nil
}

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StoreConfig selects and configures the blob store backend
type StoreConfig struct {
	Type     string   `yaml:"type"`
	Path     string   `yaml:"path"`
	RedisUrl string   `yaml:"redisUrl"`
	Prefix   string   `yaml:"prefix"`
	S3       S3Config `yaml:"s3"`
}

// S3Config configures the S3 backend
type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	Prefix    string `yaml:"prefix"`
	PathStyle bool   `yaml:"pathStyle"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
}

// NotifyConfig selects the notification strategy. Type "direct" (or empty) calls
// observers in-process, "local" uses an in-process broadcast hub, "redis" and "nats"
// broadcast on Channel through the server at Url.
type NotifyConfig struct {
	Type    string `yaml:"type"`
	Url     string `yaml:"url"`
	Channel string `yaml:"channel"`
}

// UpdateConfig configures the built-in update implementation and its schedule
type UpdateConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Period      any    `yaml:"period"`
	VersionUrl  string `yaml:"versionUrl"`
	VersionFile string `yaml:"versionFile"`
	TriggerFile string `yaml:"triggerFile"`
}

// serverTlsCfg configures TLS for the server itself
type serverTlsCfg struct {
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	CA         string `yaml:"ca"`
	ClientAuth string `yaml:"clientAuth"`
}

// upstreamTlsCfg configures TLS for fetching from the upstream
type upstreamTlsCfg struct {
	Cert               string `yaml:"cert"`
	Key                string `yaml:"key"`
	CA                 string `yaml:"ca"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"`
}

// ListConfig configures the list sub-command
type ListConfig struct {
	Header bool `yaml:"header"`
}

// Configuration represents the totality of configuration knobs and dials for the server.
type Configuration struct {
	LogLevel       string         `yaml:"logLevel"`
	LogFile        string         `yaml:"logFile"`
	ConfigFile     string         `yaml:"configFile"`
	Name           string         `yaml:"name"`
	Port           int64          `yaml:"port"`
	Metrics        int64          `yaml:"metrics"`
	Upstream       string         `yaml:"upstream"`
	FetchTimeout   int64          `yaml:"fetchTimeout"`
	CacheMemo      int64          `yaml:"cacheMemo"`
	ReclaimOwnOnly bool           `yaml:"reclaimOwnOnly"`
	Store          StoreConfig    `yaml:"store"`
	Notify         NotifyConfig   `yaml:"notify"`
	Update         UpdateConfig   `yaml:"update"`
	ServerTlsCfg   serverTlsCfg   `yaml:"serverTlsConfig"`
	UpstreamTlsCfg upstreamTlsCfg `yaml:"upstreamTlsConfig"`
	Resources      []any          `yaml:"resources"`
	ResourceFile   string         `yaml:"resourceFile"`
	ListConfig     ListConfig     `yaml:"listConfig"`
}

// FromCmdLine has a flag for every command-line option. The parsing code
// sets the flag to true if the option was explicitly provided on the command
// line by the user.
type FromCmdLine struct {
	Command        string
	LogLevel       bool
	LogFile        bool
	ConfigFile     bool
	Name           bool
	Port           bool
	Metrics        bool
	Upstream       bool
	FetchTimeout   bool
	StoreType      bool
	StorePath      bool
	RedisUrl       bool
	UpdatePeriod   bool
	UpdateEnabled  bool
	VersionUrl     bool
	TriggerFile    bool
	NotifyType     bool
	NotifyUrl      bool
	ReclaimOwnOnly bool
	ResourceFile   bool
	ListConfig     bool
}

var config Configuration

// getters and setters

func GetLogLevel() string {
	return config.LogLevel
}

func GetLogFile() string {
	return config.LogFile
}

func GetConfigFile() string {
	return config.ConfigFile
}

func GetName() string {
	return config.Name
}

func GetPort() int64 {
	return config.Port
}

func GetMetrics() int64 {
	return config.Metrics
}

func GetUpstream() string {
	return config.Upstream
}

func SetUpstream(newVal string) {
	config.Upstream = newVal
}

func GetFetchTimeout() int64 {
	return config.FetchTimeout
}

func GetCacheMemo() int64 {
	return config.CacheMemo
}

func GetReclaimOwnOnly() bool {
	return config.ReclaimOwnOnly
}

func GetStore() StoreConfig {
	return config.Store
}

func GetNotify() NotifyConfig {
	return config.Notify
}

func GetUpdate() UpdateConfig {
	return config.Update
}

func GetServerTlsCfg() serverTlsCfg {
	return config.ServerTlsCfg
}

func GetUpstreamTlsCfg() upstreamTlsCfg {
	return config.UpstreamTlsCfg
}

func GetResources() []any {
	return config.Resources
}

func GetResourceFile() string {
	return config.ResourceFile
}

func GetListConfig() ListConfig {
	return config.ListConfig
}

// Load loads the passed configuration file into the configuration struct
func Load(configFile string) error {
	if _, err := os.Stat(configFile); err != nil {
		return fmt.Errorf("unable to stat configuration file: %s", configFile)
	}
	if contents, err := os.ReadFile(configFile); err != nil {
		return fmt.Errorf("error reading configuration file: %s", configFile)
	} else if err := SetConfigFromStr(contents); err != nil {
		return fmt.Errorf("error parsing configuration file: %s, the error was: %s", configFile, err)
	}
	return nil
}

// Get gets the current configuration
func Get() Configuration {
	return config
}

// Set replaces the configuration with the passed configuration
func Set(cfg Configuration) {
	config = cfg
}

// SetConfigFromStr parses the yaml input and sets the configuration from it
func SetConfigFromStr(configBytes []byte) error {
	var cfg Configuration
	if err := yaml.Unmarshal(configBytes, &cfg); err != nil {
		return err
	}
	config = cfg
	return nil
}

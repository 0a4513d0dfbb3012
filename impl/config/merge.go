package config

// Merge takes a struct indicating which configuration options have been provided on the command
// line, as well as a configuration struct parsed from the command line which ALSO includes defaults
// that the user didn't specify. For example the default port is 8080 and if you don't specify
// that on the command line - it gets defaulted into the parsed configuration struct. So:
//
//  1. User provided a value: overwrite current config using the user's value
//  2. User did not provide a value, current config is unspecified: use the default in the parsed config
//  3. User did not provide a value, current config is specified: leave the current config untouched
//
// Options that only exist in the config file (TLS, S3, resources) are never touched.
func Merge(fromCmdline FromCmdLine, cfg Configuration) {
	if fromCmdline.LogLevel || config.LogLevel == "" {
		config.LogLevel = cfg.LogLevel
	}
	if fromCmdline.LogFile || config.LogFile == "" {
		config.LogFile = cfg.LogFile
	}
	if fromCmdline.ConfigFile || config.ConfigFile == "" {
		config.ConfigFile = cfg.ConfigFile
	}
	if fromCmdline.Name || config.Name == "" {
		config.Name = cfg.Name
	}
	if fromCmdline.Port || config.Port == 0 {
		config.Port = cfg.Port
	}
	if fromCmdline.Metrics || config.Metrics == 0 {
		config.Metrics = cfg.Metrics
	}
	if fromCmdline.Upstream || config.Upstream == "" {
		config.Upstream = cfg.Upstream
	}
	if fromCmdline.FetchTimeout || config.FetchTimeout == 0 {
		config.FetchTimeout = cfg.FetchTimeout
	}
	if config.CacheMemo == 0 {
		config.CacheMemo = cfg.CacheMemo
	}
	if fromCmdline.ReclaimOwnOnly || !config.ReclaimOwnOnly {
		config.ReclaimOwnOnly = cfg.ReclaimOwnOnly
	}
	if fromCmdline.StoreType || config.Store.Type == "" {
		config.Store.Type = cfg.Store.Type
	}
	if fromCmdline.StorePath || config.Store.Path == "" {
		config.Store.Path = cfg.Store.Path
	}
	if fromCmdline.RedisUrl || config.Store.RedisUrl == "" {
		config.Store.RedisUrl = cfg.Store.RedisUrl
	}
	if fromCmdline.NotifyType || config.Notify.Type == "" {
		config.Notify.Type = cfg.Notify.Type
	}
	if fromCmdline.NotifyUrl || config.Notify.Url == "" {
		config.Notify.Url = cfg.Notify.Url
	}
	if config.Notify.Channel == "" {
		config.Notify.Channel = cfg.Notify.Channel
	}
	if fromCmdline.UpdateEnabled || !config.Update.Enabled {
		config.Update.Enabled = cfg.Update.Enabled
	}
	if fromCmdline.UpdatePeriod || config.Update.Period == nil {
		config.Update.Period = cfg.Update.Period
	}
	if fromCmdline.VersionUrl || config.Update.VersionUrl == "" {
		config.Update.VersionUrl = cfg.Update.VersionUrl
	}
	if fromCmdline.TriggerFile || config.Update.TriggerFile == "" {
		config.Update.TriggerFile = cfg.Update.TriggerFile
	}
	if fromCmdline.ResourceFile || config.ResourceFile == "" {
		config.ResourceFile = cfg.ResourceFile
	}
	if fromCmdline.ListConfig || config.ListConfig == (ListConfig{}) {
		config.ListConfig = cfg.ListConfig
	}
}

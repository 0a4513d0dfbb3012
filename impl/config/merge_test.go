package config

import "testing"

func TestMerge(t *testing.T) {
	defaults := Configuration{
		LogLevel:     "error",
		Name:         "offliner",
		Port:         8080,
		FetchTimeout: 30000,
		Store:        StoreConfig{Type: "memory"},
		Notify:       NotifyConfig{Type: "direct", Channel: "offliner-channel"},
		Update:       UpdateConfig{Period: "never"},
	}
	tests := []struct {
		name      string
		fileCfg   Configuration
		cmdline   FromCmdLine
		cmdCfg    Configuration
		checkFunc func() bool
	}{
		{
			name:    "defaults fill empty",
			fileCfg: Configuration{},
			cmdCfg:  defaults,
			checkFunc: func() bool {
				return config.Port == 8080 && config.Store.Type == "memory" && config.Notify.Channel == "offliner-channel"
			},
		},
		{
			name:    "file wins over default",
			fileCfg: Configuration{Port: 9090, Store: StoreConfig{Type: "redis"}},
			cmdCfg:  defaults,
			checkFunc: func() bool {
				return config.Port == 9090 && config.Store.Type == "redis"
			},
		},
		{
			name:    "explicit command line wins over file",
			fileCfg: Configuration{Port: 9090, Update: UpdateConfig{Period: "1h"}},
			cmdline: FromCmdLine{Port: true, UpdatePeriod: true},
			cmdCfg: func() Configuration {
				c := defaults
				c.Port = 7070
				c.Update.Period = "5m"
				return c
			}(),
			checkFunc: func() bool {
				return config.Port == 7070 && config.Update.Period == "5m"
			},
		},
	}
	for _, tst := range tests {
		Set(tst.fileCfg)
		Merge(tst.cmdline, tst.cmdCfg)
		if !tst.checkFunc() {
			t.Errorf("%s: unexpected config %+v", tst.name, config)
		}
	}
}

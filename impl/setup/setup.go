// Package setup builds the blob store, the notification broadcaster and a fully configured
// Offliner from the loaded configuration.
package setup

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aceeric/offliner/impl/blobstore"
	"github.com/aceeric/offliner/impl/blobstore/badgerstore"
	"github.com/aceeric/offliner/impl/blobstore/memstore"
	"github.com/aceeric/offliner/impl/blobstore/redisstore"
	"github.com/aceeric/offliner/impl/blobstore/s3store"
	"github.com/aceeric/offliner/impl/config"
	"github.com/aceeric/offliner/impl/fetch/sources"
	"github.com/aceeric/offliner/impl/globals"
	"github.com/aceeric/offliner/impl/notify"
	"github.com/aceeric/offliner/impl/offliner"
	"github.com/aceeric/offliner/impl/prefetch/fetchers"
	"github.com/aceeric/offliner/impl/preload"
	"github.com/aceeric/offliner/impl/update"
	"github.com/aceeric/offliner/impl/update/updaters"

	log "github.com/sirupsen/logrus"
)

const defaultMemo = 256

// OpenStore opens the blob store selected by the passed configuration
func OpenStore(ctx context.Context, cfg config.StoreConfig) (blobstore.Store, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "memory":
		return memstore.New(), nil
	case "badger":
		return badgerstore.New(cfg.Path)
	case "redis":
		return redisstore.New(cfg.RedisUrl, cfg.Prefix)
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Bucket:    cfg.S3.Bucket,
			Region:    cfg.S3.Region,
			Endpoint:  cfg.S3.Endpoint,
			Prefix:    cfg.S3.Prefix,
			PathStyle: cfg.S3.PathStyle,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
		})
	}
	return nil, fmt.Errorf("unsupported store type: %s", cfg.Type)
}

// OpenBroadcaster returns the broadcaster selected by the passed configuration. The
// direct strategy needs none so nil is returned for it.
func OpenBroadcaster(cfg config.NotifyConfig) (notify.Broadcaster, error) {
	switch strings.ToLower(cfg.Type) {
	case "", "direct":
		return nil, nil
	case "local":
		return notify.NewHub(), nil
	case "redis":
		return notify.NewRedisBroadcaster(cfg.Url)
	case "nats":
		return notify.NewNATSBroadcaster(cfg.Url)
	}
	return nil, fmt.Errorf("unsupported notify type: %s", cfg.Type)
}

// UpstreamClient returns the HTTP client used to reach the upstream, honoring the
// upstream TLS configuration and the fetch timeout
func UpstreamClient() (*http.Client, error) {
	tlsCfg, err := globals.UpstreamTls()
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: fetchTimeout()}
	if tlsCfg != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsCfg
		client.Transport = transport
	}
	return client, nil
}

func fetchTimeout() time.Duration {
	if ms := config.GetFetchTimeout(); ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return 30 * time.Second
}

// NewOffliner creates an Offliner over the passed store and broadcaster and registers
// the built-in url fetcher with the configured and listed resources, the cache and network sources
// and, if a version source is configured, the reinstall updater.
func NewOffliner(ctx context.Context, store blobstore.Store, bcast notify.Broadcaster) (*offliner.Offliner, error) {
	channel := config.GetNotify().Channel
	if channel == "" {
		channel = notify.DefaultChannel
	}
	o, err := offliner.New(ctx, offliner.Options{
		Name:           config.GetName(),
		Store:          store,
		Broadcaster:    bcast,
		Channel:        channel,
		ReclaimOwnOnly: config.GetReclaimOwnOnly(),
		BaseContext:    ctx,
	})
	if err != nil {
		return nil, err
	}
	client, err := UpstreamClient()
	if err != nil {
		o.Close()
		return nil, err
	}
	urlOpts := []fetchers.URLOption{fetchers.WithClient(client)}
	if upstream := config.GetUpstream(); upstream != "" {
		urlOpts = append(urlOpts, fetchers.WithBase(upstream))
	}
	o.PrefetchConfig().Use(fetchers.NewURLFetcher(urlOpts...)).AddResources(config.GetResources()...)
	if file := config.GetResourceFile(); file != "" {
		listed, err := preload.Load(file)
		if err != nil {
			o.Close()
			return nil, err
		}
		o.PrefetchConfig().AddResources(listed...)
	}

	memo := int(config.GetCacheMemo())
	if memo == 0 {
		memo = defaultMemo
	}
	cacheSrc, err := sources.NewCacheSource(memo)
	if err != nil {
		o.Close()
		return nil, err
	}
	o.Observe(cacheSrc)
	o.FetchConfig().Use(cacheSrc).Use(sources.NewNetworkSourceWithClient(client))

	updCfg := config.GetUpdate()
	var source updaters.VersionSource
	switch {
	case updCfg.VersionUrl != "":
		source = updaters.FromURL(updCfg.VersionUrl, fetchTimeout())
	case updCfg.VersionFile != "":
		source = updaters.FromFile(updCfg.VersionFile)
	}
	if source != nil {
		o.UpdateConfig().Use(updaters.NewReinstall(source))
		o.UpdateConfig().Option(update.OptEnabled, updCfg.Enabled)
	} else if updCfg.Enabled {
		log.Warn("updates are enabled but no version url or version file is configured")
	}
	if updCfg.Period != nil {
		o.UpdateConfig().Option(update.OptPeriod, updCfg.Period)
	}
	return o, nil
}

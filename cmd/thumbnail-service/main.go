package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/photoclip/smoothie/internal/cache"
	fileCache "github.com/photoclip/smoothie/internal/cache/file"
	"github.com/photoclip/smoothie/internal/cache/memory"
	"github.com/photoclip/smoothie/internal/cache/redis"
	"github.com/photoclip/smoothie/internal/cmd"
	"github.com/photoclip/smoothie/internal/health"
	"github.com/photoclip/smoothie/internal/image"
	"github.com/photoclip/smoothie/internal/image/scaler"
	"github.com/photoclip/smoothie/internal/logger"
	"github.com/photoclip/smoothie/internal/metrics"
	"github.com/photoclip/smoothie/internal/pipeline"
	"github.com/photoclip/smoothie/internal/storage"
	fileStorage "github.com/photoclip/smoothie/internal/storage/file"
	"github.com/photoclip/smoothie/internal/storage/spaces"
	"github.com/photoclip/smoothie/internal/thumbnailapi"
	"github.com/photoclip/smoothie/internal/tracing"

	"github.com/jamiealquiza/envy"
	"go.uber.org/automaxprocs/maxprocs"
	"go.uber.org/zap"
)

// Comandline flags
var (
	// Global
	listen        = flag.String("listen", ":8080", "listen address")
	metricsListen = flag.String("metrics-listen", "127.0.0.1:8082", "metrics listen address")
	loglevel      = zap.LevelFlag("log-level", zap.InfoLevel, "log level (default \"info\") (debug, info, warn, error, dpanic, panic, fatal)")
	tracingEnable = flag.Bool("tracing", false, "export traces over OTLP, configured using the OTEL_EXPORTER_OTLP_* environment variables")

	// Pipeline
	workers         = flag.Int("workers", 3, "amount of workers loading thumbnails")
	memoryCostLimit = flag.Uint64("memory-cost-limit", 0, "maximum size in bytes of the decoded thumbnails kept in memory (default a quarter of physical memory)")
	memoryCount     = flag.Int("memory-count-limit", 0, "maximum amount of decoded thumbnails kept in memory (default unlimited)")

	// Storage
	storageBackend = flag.String("storage", "file", "which storage backend to use (file, spaces)")

	// Storage - File
	storageFilePath = flag.String("storage-file-path", "./images", "path to the file storage")

	// Storage - Spaces
	storageSpacesSpace          = flag.String("storage-spaces-space", "", "digitalocean space to use")
	storageSpacesEndpoint       = flag.String("storage-spaces-endpoint", "", "spaces endpoint")
	storageSpacesAccessKey      = flag.String("storage-spaces-access-key", "", "spaces access key")
	storageSpacesSecretKey      = flag.String("storage-spaces-secret-key", "", "spaces secret key")
	storageSpacesPrefix         = flag.String("storage-spaces-prefix", "", "prefix of the image keys in the space")
	storageSpacesForcePathStyle = flag.Bool("storage-spaces-force-path-style", false, "use path style addressing, for s3 compatible storage")

	// Disk cache
	cacheBackend = flag.String("cache", "file", "which disk cache backend to use (none, memory, file, redis)")

	// Disk cache - File
	cacheFilePath = flag.String("cache-file-path", "./cache", "path to the disk cache directory")

	// Disk cache - Redis
	cacheRedisAddress  = flag.String("cache-redis-address", "redis://127.0.0.1:6379", "redis address, may contain authentication details")
	cacheRedisPoolSize = flag.Int("cache-redis-pool-size", 10, "redis connection pool size")
	cacheRedisTTL      = flag.Duration("cache-redis-ttl", 7*24*time.Hour, "expiry of cached images in redis, 0 to never expire")

	// Healthcheck
	healthCheckImageID = flag.String("health-check-image-id", "1.jpg", "image ID to request from the storage to check storage health")
)

func main() {
	// Parse environment variables
	envy.Parse("SMOOTHIE")

	// Parse commandline flags
	flag.Parse()

	// Initialize the logger
	log := logger.New(*loglevel)
	defer log.Sync()

	// Set GOMAXPROCS
	maxprocs.Set(maxprocs.Logger(log.Infof))

	// Set up context for shutting down
	shutdownCtx, shutdown := context.WithCancel(context.Background())
	defer shutdown()

	// Initialize tracing
	tracer := tracing.NewNoop(log, "thumbnail-service")
	if *tracingEnable {
		var err error
		tracer, err = tracing.New(shutdownCtx, log, "thumbnail-service")
		if err != nil {
			log.Fatalf("error initializing tracing: %s", err)
		}
	}
	defer tracer.Shutdown(context.Background())

	// Initialize the storage, disk cache
	storage, diskCache, err := setupBackends(shutdownCtx, tracer)
	if err != nil {
		log.Fatalf("error initializing backends: %s", err)
	}
	if diskCache != nil {
		defer diskCache.Shutdown()
	}

	// Initialize the pipeline
	costLimit := *memoryCostLimit
	if costLimit == 0 {
		costLimit = image.DefaultCostLimit()
	}

	memoryCache := image.NewCache(image.CacheConfig{
		CostLimit:  costLimit,
		CountLimit: *memoryCount,
	})
	expvar.Publish("gauge_memory_cache_cost_bytes", expvar.Func(func() any { return int64(memoryCache.Cost()) }))
	expvar.Publish("gauge_memory_cache_images", expvar.Func(func() any { return int64(memoryCache.Len()) }))

	pipelineCtx, pipelineCancel := context.WithCancel(context.Background())
	defer pipelineCancel()

	p := pipeline.New(pipelineCtx, pipeline.Config{
		Cache:   memoryCache,
		Disk:    diskCache,
		Decoder: scaler.New(),
		Workers: *workers,
		Log:     log.Component("pipeline"),
		Tracer:  tracer,
	})
	defer p.Shutdown()

	log.Infof("memory cache limited to %d bytes", costLimit)

	// Flush the memory cache when asked to, e.g. when the host is low on memory
	cmd.OnSignal(shutdownCtx, syscall.SIGUSR1, func() {
		log.Infof("flushing the memory cache, %d bytes in use", memoryCache.Cost())
		memoryCache.RemoveAll()
	})

	// Initialize and start the health checker
	checkerCtx, checkerCancel := context.WithCancel(context.Background())
	defer checkerCancel()

	checker := &health.Checker{
		Ctx:     checkerCtx,
		Storage: storage,
		ImageID: *healthCheckImageID,
		Cache:   diskCache,
		Log:     log.Component("health"),
	}
	go checker.Run()

	// Start the metrics http server
	go metrics.Serve(shutdownCtx, log, checker, *metricsListen)

	// Start and listen on http
	api := &thumbnailapi.API{
		Pipeline:       p,
		Storage:        storage,
		HealthChecker:  checker,
		Log:            log,
		Tracer:         tracer,
		HandlerTimeout: cmd.HandlerTimeout,
	}
	server := &http.Server{
		Addr:         *listen,
		Handler:      api.Router(),
		ReadTimeout:  cmd.ReadTimeout,
		WriteTimeout: cmd.WriteTimeout,
		ErrorLog:     logger.NewHTTPErrorLog(log),
	}

	go func() {
		if err := server.ListenAndServe(); err != nil {
			log.Infof("shutting down the http server: %s", err)
			shutdown()
		}
	}()

	log.Infof("http server listening on %s", *listen)

	// Wait for shutdown or error
	err = cmd.WaitForInterrupt(shutdownCtx)
	log.Infof("shutting down: %s", err)

	// Shut down http server
	serverCtx, serverCancel := context.WithTimeout(context.Background(), cmd.WriteTimeout)
	defer serverCancel()
	if err := server.Shutdown(serverCtx); err != nil {
		log.Warnf("error shutting down: %s", err)
	}
}

func setupBackends(ctx context.Context, tracer *tracing.Tracer) (storage storage.Provider, diskCache cache.Provider, err error) {
	// Storage
	switch *storageBackend {
	case "file":
		storage, err = fileStorage.New(*storageFilePath)
	case "spaces":
		storage, err = spaces.New(*storageSpacesSpace, *storageSpacesEndpoint, *storageSpacesAccessKey, *storageSpacesSecretKey, *storageSpacesPrefix, *storageSpacesForcePathStyle)
	default:
		err = fmt.Errorf("invalid storage backend")
	}

	if err != nil {
		return
	}

	// Disk cache
	switch *cacheBackend {
	case "none":
	case "memory":
		diskCache = memory.New()
	case "file":
		diskCache, err = fileCache.New(tracer, *cacheFilePath)
	case "redis":
		diskCache, err = redis.New(ctx, tracer, *cacheRedisAddress, *cacheRedisPoolSize, *cacheRedisTTL)
	default:
		err = fmt.Errorf("invalid cache backend")
	}

	return
}

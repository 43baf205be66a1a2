package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/lovoo/goka"
	"github.com/niksmo/product-intake/config"
	"github.com/niksmo/product-intake/internal/adapter"
	"github.com/niksmo/product-intake/internal/adapter/cache"
	"github.com/niksmo/product-intake/internal/adapter/httphandler"
	"github.com/niksmo/product-intake/internal/adapter/imaging"
	"github.com/niksmo/product-intake/internal/adapter/kafka"
	"github.com/niksmo/product-intake/internal/adapter/objectstore"
	"github.com/niksmo/product-intake/internal/adapter/resolver"
	"github.com/niksmo/product-intake/internal/adapter/storage"
	"github.com/niksmo/product-intake/internal/adapter/tracing"
	"github.com/niksmo/product-intake/internal/core/port"
	"github.com/niksmo/product-intake/internal/core/service"
	"github.com/niksmo/product-intake/pkg/schema"
	"github.com/redis/go-redis/v9"
	"github.com/twmb/franz-go/pkg/sr"
	"go.mongodb.org/mongo-driver/mongo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

type serdes struct {
	draft   schema.Serde
	outcome schema.Serde
	stats   schema.Serde
}

type stores struct {
	mongo     *mongo.Database
	sqldb     *storage.SQLDB
	redis     *redis.Client
	files     *resolver.File
	documents port.DocumentStore
	objects   port.ObjectStore
	images    httphandler.ImageOpener
}

type broker struct {
	security  kafka.Security
	serdes    serdes
	outcomes  kafka.OutcomesProducer
	drafts    kafka.DraftsConsumer
	stats     *kafka.StatsProcessor
	statsView *kafka.StatsView
}

type App struct {
	ctx        context.Context
	cfg        config.Config
	logFile    io.Closer
	tracer     *sdktrace.TracerProvider
	stores     stores
	service    *service.Service
	broker     *broker
	httpServer httphandler.HTTPServer
}

func New(ctx context.Context, cfg config.Config) *App {
	app := &App{ctx: ctx, cfg: cfg}

	app.initLogger()
	app.initTracing()
	app.initStores()
	app.initCoreService()
	if cfg.KafkaEnabled() {
		app.initBroker()
	}
	app.initInboundAdapters()

	return app
}

func (app *App) initLogger() {
	opts := &slog.HandlerOptions{Level: app.cfg.Log.Level}

	var w io.Writer = os.Stderr
	if app.cfg.Log.File != "" {
		lj := &lumberjack.Logger{
			Filename:   app.cfg.Log.File,
			MaxSize:    app.cfg.Log.MaxSizeMB,
			MaxBackups: app.cfg.Log.MaxBackups,
			MaxAge:     app.cfg.Log.MaxAgeDays,
			Compress:   app.cfg.Log.Compress,
		}
		app.logFile = lj
		w = io.MultiWriter(os.Stderr, lj)
	}

	logger := slog.New(slog.NewJSONHandler(w, opts))
	slog.SetDefault(logger)
}

func (app *App) initTracing() {
	const op = "App.initTracing"

	if app.cfg.Tracing.Endpoint == "" {
		return
	}

	tp, err := tracing.Init(
		app.ctx, app.cfg.Tracing.Endpoint, app.cfg.Tracing.ServiceName,
	)
	if err != nil {
		app.fallDown(op, err)
	}
	app.tracer = tp
}

func (app *App) initStores() {
	const op = "App.initStores"
	ctx := app.ctx
	cfg := app.cfg

	needMongo := cfg.DocumentStore.Driver == config.DriverMongo ||
		cfg.ObjectStore.Driver == config.DriverGridFS
	if needMongo {
		db, err := storage.ConnectMongo(
			ctx, cfg.DocumentStore.MongoURI, cfg.DocumentStore.MongoDatabase,
		)
		if err != nil {
			app.fallDown(op, err)
		}
		app.stores.mongo = db
	}

	switch cfg.DocumentStore.Driver {
	case config.DriverMongo:
		repo := storage.NewMongoRepository(app.stores.mongo)
		if err := repo.EnsureIndexes(ctx, cfg.Service.Collection); err != nil {
			app.fallDown(op, err)
		}
		app.stores.documents = repo
	case config.DriverPostgres:
		db, err := storage.NewSQLDB(ctx, cfg.DocumentStore.PostgresDSN)
		if err != nil {
			app.fallDown(op, err)
		}
		app.stores.sqldb = &db
		app.stores.documents = storage.NewDocumentsRepository(db)
	}

	switch cfg.ObjectStore.Driver {
	case config.DriverS3:
		s3 := cfg.ObjectStore.S3
		store, err := objectstore.NewS3Store(ctx, objectstore.S3Config{
			Endpoint:      s3.Endpoint,
			AccessKey:     s3.AccessKey,
			SecretKey:     s3.SecretKey,
			Bucket:        s3.Bucket,
			Region:        s3.Region,
			Secure:        s3.Secure,
			PublicBaseURL: s3.PublicBaseURL,
			PresignExpiry: s3.PresignExpiry,
		})
		if err != nil {
			app.fallDown(op, err)
		}
		app.stores.objects = store
	case config.DriverGridFS:
		store := objectstore.NewGridFSStore(
			app.stores.mongo,
			cfg.ObjectStore.GridFS.Bucket,
			cfg.ObjectStore.GridFS.PublicBaseURL,
		)
		app.stores.objects = store
		app.stores.images = store
	}

	files, err := resolver.NewFile(
		cfg.Resolver.RootDir, cfg.Resolver.MaxImageSize,
	)
	if err != nil {
		app.fallDown(op, err)
	}
	app.stores.files = files

	if cfg.Redis.Addr != "" {
		cl, err := cache.NewRedisClient(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			app.fallDown(op, err)
		}
		app.stores.redis = cl
	}
}

func (app *App) initCoreService() {
	const op = "App.initCoreService"
	cfg := app.cfg

	var remote *resolver.Remote
	if cfg.Resolver.RemoteEnabled {
		remote = resolver.NewRemote(
			cfg.Resolver.RemoteTimeout, cfg.Resolver.MaxImageSize,
		)
	}

	encoder, err := imaging.NewJPEGEncoder(
		cfg.Image.Width, cfg.Image.Height, cfg.Image.Quality,
	)
	if err != nil {
		app.fallDown(op, err)
	}

	s, err := service.New(
		app.stores.objects,
		app.stores.documents,
		resolver.New(app.stores.files, remote),
		encoder,
		service.CollectionOpt(cfg.Service.Collection),
		service.KeyPrefixOpt(cfg.Service.KeyPrefix),
		service.ConcurrencyOpt(cfg.Service.Concurrency),
	)
	if err != nil {
		app.fallDown(op, err)
	}
	app.service = s
}

func (app *App) initBroker() {
	const op = "App.initBroker"
	cfg := app.cfg.Broker

	b := &broker{}
	b.security = app.brokerSecurity()
	b.security.ApplyGoka()
	b.serdes = app.initSerdes(b.security)

	outcomes, err := kafka.NewOutcomesProducer(
		kafka.ProducerClientOpt(
			app.ctx, cfg.SeedBrokers, cfg.Topics.Outcomes, b.security,
		),
		kafka.ProducerEncoderOpt(b.serdes.outcome),
	)
	if err != nil {
		app.fallDown(op, err)
	}
	b.outcomes = outcomes

	var guard port.SubmissionGuard = cache.NopGuard{}
	if app.stores.redis != nil {
		guard = cache.NewRedisGuard(app.stores.redis, app.cfg.Redis.GuardTTL)
	}

	drafts, err := kafka.NewDraftsConsumer(
		kafka.ConsumerClientOpt(
			cfg.SeedBrokers, cfg.Topics.Drafts, cfg.Consumers.DraftsGroup,
			b.security,
		),
		kafka.ConsumerDecoderOpt(b.serdes.draft),
		kafka.DraftsConsumerSubmitterOpt(app.service),
		kafka.DraftsConsumerReporterOpt(b.outcomes),
		kafka.DraftsConsumerGuardOpt(guard),
	)
	if err != nil {
		app.fallDown(op, err)
	}
	b.drafts = drafts

	stats, err := kafka.NewStatsProcessor(
		cfg.SeedBrokers,
		cfg.Topics.Outcomes,
		cfg.Consumers.StatsGroup,
		b.serdes.outcome,
		b.serdes.stats,
	)
	if err != nil {
		app.fallDown(op, err)
	}
	b.stats = stats

	view, err := kafka.NewStatsView(
		cfg.SeedBrokers, cfg.Consumers.StatsGroup, b.serdes.stats,
	)
	if err != nil {
		app.fallDown(op, err)
	}
	b.statsView = view

	app.broker = b
}

func (app *App) brokerSecurity() kafka.Security {
	const op = "App.brokerSecurity"
	cfg := app.cfg.Broker

	sec := kafka.Security{User: cfg.SASL.User, Pass: cfg.SASL.Pass}
	if cfg.TLS.CA != "" {
		tlsConfig, err := adapter.MakeTLSConfig(
			cfg.TLS.CA, cfg.TLS.Cert, cfg.TLS.Key,
		)
		if err != nil {
			app.fallDown(op, err)
		}
		sec.TLSConfig = tlsConfig
	}
	return sec
}

func (app *App) initSerdes(sec kafka.Security) serdes {
	const op = "App.initSerdes"
	cfg := app.cfg.Broker
	ctx := app.ctx

	srOpts := []sr.ClientOpt{sr.URLs(cfg.SchemaRegistryURLs...)}
	if sec.TLSConfig != nil {
		srOpts = append(srOpts, sr.DialTLSConfig(sec.TLSConfig))
	}
	if sec.User != "" {
		srOpts = append(srOpts, sr.BasicAuth(sec.User, sec.Pass))
	}

	srClient, err := sr.NewClient(srOpts...)
	if err != nil {
		app.fallDown(op, err)
	}
	schemaCreater := schema.NewSchemaCreater(srClient)

	draftSerde, err := schema.NewSerdeDraftV1(
		ctx,
		schema.SubjectOpt(schema.ValueSubject(cfg.Topics.Drafts)),
		schema.SchemaIdentifierOpt(schemaCreater),
	)
	if err != nil {
		app.fallDown(op, err)
	}

	outcomeSerde, err := schema.NewSerdeOutcomeV1(
		ctx,
		schema.SubjectOpt(schema.ValueSubject(cfg.Topics.Outcomes)),
		schema.SchemaIdentifierOpt(schemaCreater),
	)
	if err != nil {
		app.fallDown(op, err)
	}

	statsTable := string(goka.GroupTable(goka.Group(cfg.Consumers.StatsGroup)))
	statsSerde, err := schema.NewSerdeCategoryStatsV1(
		ctx,
		schema.SubjectOpt(schema.ValueSubject(statsTable)),
		schema.SchemaIdentifierOpt(schemaCreater),
	)
	if err != nil {
		app.fallDown(op, err)
	}

	return serdes{
		draft:   draftSerde,
		outcome: outcomeSerde,
		stats:   statsSerde,
	}
}

func (app *App) initInboundAdapters() {
	const op = "App.initInboundAdapters"
	cfg := app.cfg

	stagingDir := cfg.HTTP.StagingDir
	if stagingDir == "" {
		stagingDir = filepath.Join(cfg.Resolver.RootDir, ".staging")
	}
	stager, err := httphandler.NewStager(stagingDir)
	if err != nil {
		app.fallDown(op, err)
	}

	mux := http.NewServeMux()
	httphandler.RegisterProducts(
		mux, app.service, app.service, stager, cfg.HTTP.MaxBodySize,
	)
	if app.stores.images != nil {
		httphandler.RegisterImages(mux, app.stores.images)
	}
	if app.broker != nil {
		httphandler.RegisterStats(mux, app.broker.statsView)
	}

	app.httpServer = httphandler.NewHTTPServer(
		cfg.HTTP.Addr, mux, cfg.HTTP.HandlerTimeout,
	)
}

func (app *App) Run(stopFn context.CancelFunc) {
	if b := app.broker; b != nil {
		var wg sync.WaitGroup
		wg.Add(1)
		go b.stats.Run(app.ctx, stopFn, &wg)
		wg.Wait()

		go b.statsView.Run(app.ctx)
		go b.drafts.Run(app.ctx)
	}

	go app.httpServer.Run(stopFn)

	slog.Info("application is running")
}

// Close stops the inbound adapters first, then waits for in-flight
// submissions before the outbound adapters go away.
func (app *App) Close(ctx context.Context) {
	const op = "App.Close"
	log := slog.With("op", op)

	log.Info("application is closing...")

	app.httpServer.Close(ctx)

	if b := app.broker; b != nil {
		b.drafts.Close()
	}

	if err := app.service.Close(ctx); err != nil {
		log.Error("submissions are left in flight", "err", err)
	}

	if b := app.broker; b != nil {
		b.outcomes.Close()
		b.stats.Close()
	}

	app.closeStores(ctx)

	if app.tracer != nil {
		if err := app.tracer.Shutdown(ctx); err != nil {
			log.Error("failed to flush spans", "err", err)
		}
	}

	log.Info("application is closed")

	if app.logFile != nil {
		_ = app.logFile.Close()
	}
}

func (app *App) closeStores(ctx context.Context) {
	const op = "App.closeStores"
	log := slog.With("op", op)

	if app.stores.files != nil {
		if err := app.stores.files.Close(); err != nil {
			log.Error("failed to close images root", "err", err)
		}
	}
	if app.stores.redis != nil {
		if err := app.stores.redis.Close(); err != nil {
			log.Error("failed to close redis client", "err", err)
		}
	}
	if app.stores.sqldb != nil {
		app.stores.sqldb.Close()
	}
	if app.stores.mongo != nil {
		storage.DisconnectMongo(ctx, app.stores.mongo)
	}
}

func (app *App) fallDown(op string, err error) {
	panic(fmt.Errorf("%s: %w", op, err))
}

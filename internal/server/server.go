package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/victornm/quizbot/internal/delivery"
	"github.com/victornm/quizbot/internal/event"
	"github.com/victornm/quizbot/internal/extract"
	"github.com/victornm/quizbot/internal/leaderboard"
	"github.com/victornm/quizbot/internal/notify"
	"github.com/victornm/quizbot/internal/question"
	"github.com/victornm/quizbot/internal/session"
	"github.com/victornm/quizbot/internal/stats"
	"github.com/victornm/quizbot/internal/status"
	"github.com/victornm/quizbot/internal/telegram"
	"github.com/victornm/quizbot/internal/telemetry"
)

const (
	DriverFile     = "file"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	GRPC struct {
		Port int32
	}

	Telegram struct {
		Token         string
		Debug         bool
		Workers       int
		UpdateTimeout int
	}

	Storage struct {
		// Questions is "file" or "postgres".
		Questions string
		// Stats is "file" or "redis".
		Stats string
		// Dir holds the JSON files of the file driver.
		Dir string
	}

	// Redis is optional unless a redis driver is selected. Without it answer keys live in
	// memory and the leaderboard and pub/sub notifications are off.
	Redis struct {
		Addrs        []string
		Pass         string
		Prefix       string
		AnswerKeyTTL time.Duration
	}

	Postgres struct {
		Addr string
		User string
		Pass string
		Name string
	}

	Session struct {
		IdleTimeout     time.Duration
		ReapInterval    time.Duration
		ListPerCategory int
	}

	Delivery struct {
		MarathonInterval time.Duration
	}

	Extract struct {
		StrategyTimeout time.Duration
		TotalTimeout    time.Duration
		CacheSize       int
		CacheTTL        time.Duration
		EmbedKeywords   []string
		TitleKeywords   []string
	}
}

// DefaultConfig returns the settings a config file overrides.
func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.GRPC.Port = 8081
	c.Telegram.Workers = 64
	c.Telegram.UpdateTimeout = 60
	c.Storage.Questions = DriverFile
	c.Storage.Stats = DriverFile
	c.Storage.Dir = "data"
	c.Redis.Prefix = "quizbot"
	c.Redis.AnswerKeyTTL = 24 * time.Hour
	c.Session.IdleTimeout = 15 * time.Minute
	c.Session.ReapInterval = time.Minute
	c.Session.ListPerCategory = 5
	c.Delivery.MarathonInterval = delivery.DefaultInterval
	c.Extract.StrategyTimeout = 8 * time.Second
	c.Extract.TotalTimeout = 25 * time.Second
	c.Extract.CacheSize = 256
	c.Extract.CacheTTL = 10 * time.Minute
	c.Extract.EmbedKeywords = extract.DefaultEmbedKeywords
	c.Extract.TitleKeywords = extract.DefaultTitleKeywords

	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
		telegram *tgbotapi.BotAPI
	}

	service struct {
		questions   question.Store
		stats       stats.Store
		scheduler   *delivery.Scheduler
		sessions    *session.Engine
		leaderboard *leaderboard.Service
		bot         *telegram.Bot
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c, done: make(chan struct{})}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	if err := s.initService(); err != nil {
		return nil, fmt.Errorf("server: init service: %w", err)
	}

	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	if err := s.initRedis(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := s.initPostgres(); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}

	if err := s.initTelegram(); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	return nil
}

func (s *Server) initRedis() error {
	if len(s.c.Redis.Addrs) == 0 {
		if s.c.Storage.Stats == DriverRedis {
			return fmt.Errorf("stats driver %q needs redis addrs", DriverRedis)
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return err
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return err
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	if s.c.Storage.Questions != DriverPostgres {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", p.User, p.Pass, p.Addr, p.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initTelegram() error {
	if s.c.Telegram.Token == "" {
		return fmt.Errorf("token not set")
	}

	api, err := tgbotapi.NewBotAPI(s.c.Telegram.Token)
	if err != nil {
		return err
	}
	api.Debug = s.c.Telegram.Debug

	slog.Info("server: telegram authorised", "account", api.Self.UserName)
	s.infra.telegram = api
	return nil
}

func (s *Server) initService() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.initStores(ctx); err != nil {
		return err
	}

	s.service.bot = telegram.NewBot(telegram.Config{
		API:           s.infra.telegram,
		Workers:       s.c.Telegram.Workers,
		UpdateTimeout: s.c.Telegram.UpdateTimeout,
	})

	var keys delivery.AnswerKeys = delivery.NewMemoryKeys()
	if s.infra.redis != nil {
		keys = delivery.NewRedisKeys(s.infra.redis, s.c.Redis.Prefix, s.c.Redis.AnswerKeyTTL)
	}

	s.service.scheduler = delivery.NewScheduler(delivery.Config{
		Transport: s.service.bot,
		Keys:      keys,
		Stats:     s.service.stats,
		EventBus:  s.eb,
		Interval:  s.c.Delivery.MarathonInterval,
	})

	var ranking session.Ranking
	if s.infra.redis != nil {
		s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
		ranking = s.service.leaderboard

		notify.New(notify.Config{
			EventBus: s.eb,
			Redis:    s.infra.redis,
			Prefix:   s.c.Redis.Prefix,
		})
	}

	s.service.sessions = session.NewEngine(session.Config{
		Questions: s.service.questions,
		Stats:     s.service.stats,
		Extractor: extract.New(extract.Config{
			Strategies:      extract.DefaultStrategies(s.c.Extract.EmbedKeywords, s.c.Extract.TitleKeywords),
			StrategyTimeout: s.c.Extract.StrategyTimeout,
			TotalTimeout:    s.c.Extract.TotalTimeout,
			CacheSize:       s.c.Extract.CacheSize,
			CacheTTL:        s.c.Extract.CacheTTL,
		}),
		Delivery:         s.service.scheduler,
		Replier:          s.service.bot,
		EventBus:         s.eb,
		Ranking:          ranking,
		IdleTimeout:      s.c.Session.IdleTimeout,
		ReapInterval:     s.c.Session.ReapInterval,
		MarathonInterval: s.c.Delivery.MarathonInterval,
		ListPerCategory:  s.c.Session.ListPerCategory,
	})

	s.service.bot.Bind(s.service.sessions, s.service.scheduler)
	return nil
}

func (s *Server) initStores(ctx context.Context) error {
	switch s.c.Storage.Questions {
	case DriverPostgres:
		pg := question.NewPostgresStore(s.infra.postgres)
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
		if err := seed(ctx, pg); err != nil {
			return err
		}
		s.service.questions = pg
	case DriverFile:
		fs, err := question.NewFileStore(filepath.Join(s.c.Storage.Dir, "questions.json"), question.SampleQuestions())
		if err != nil {
			return err
		}
		s.service.questions = fs
	default:
		return fmt.Errorf("unknown questions driver %q", s.c.Storage.Questions)
	}

	switch s.c.Storage.Stats {
	case DriverRedis:
		s.service.stats = stats.NewRedisStore(s.infra.redis, s.c.Redis.Prefix)
	case DriverFile:
		fs, err := stats.NewFileStore(filepath.Join(s.c.Storage.Dir, "users.json"))
		if err != nil {
			return err
		}
		s.service.stats = fs
	default:
		return fmt.Errorf("unknown stats driver %q", s.c.Storage.Stats)
	}

	return nil
}

// seed fills an empty question store with the sample questions.
func seed(ctx context.Context, qs question.Store) error {
	n, err := qs.Count(ctx)
	if err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	if n > 0 {
		return nil
	}

	for _, q := range question.SampleQuestions() {
		if err := qs.Insert(ctx, q); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
	}
	return nil
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	sc := status.Config{
		Questions: s.service.questions,
		Users:     s.service.stats,
	}
	if s.service.leaderboard != nil {
		sc.Leaderboard = s.service.leaderboard
	}
	status.New(sc).Register(e)

	s.grpc = grpc.NewServer(telemetry.GRPCServerInterceptor())
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
	reflection.Register(s.grpc)

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// Start serves HTTP and gRPC, receives Telegram updates and reaps idle sessions until
// Shutdown is called or one of them fails.
func (s *Server) Start() {
	defer close(s.done)

	ctx := s.ctx

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, "server: receiving telegram updates")
		return s.service.bot.Run(ctx)
	})

	eg.Go(func() error {
		return s.service.sessions.Run(ctx)
	})

	// Stop the listeners when Shutdown is called or any member fails.
	eg.Go(func() error {
		<-ctx.Done()
		s.grpc.GracefulStop()

		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(sctx)
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		slog.ErrorContext(ctx, "server: timed out waiting for workers")
	}

	s.service.scheduler.Stop()
	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

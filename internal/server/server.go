package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/maplive/engine/internal/broadcast"
	"github.com/maplive/engine/internal/event"
	"github.com/maplive/engine/internal/leaderboard"
	"github.com/maplive/engine/internal/session"
	"github.com/maplive/engine/internal/storage/memory"
	"github.com/maplive/engine/internal/storage/postgres"
	"github.com/maplive/engine/internal/storage/rediscache"
	"github.com/maplive/engine/internal/telemetry"
	"github.com/maplive/engine/internal/transport/ws"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		// URL is the pgx connection string. Empty runs the in-memory stores:
		// single-node development only, nothing survives a restart.
		URL string
	}

	Session struct {
		// BindingTTLSeconds bounds how long an idle connection binding
		// survives in redis.
		BindingTTLSeconds int
		// QuestionCacheTTLSeconds bounds the question bank cache.
		QuestionCacheTTLSeconds int
		// LeaderboardPublishMS coalesces LeaderboardUpdate broadcasts.
		LeaderboardPublishMS int
	}
}

const (
	defaultBindingTTL       = 5 * time.Minute
	defaultQuestionCacheTTL = 10 * time.Minute
)

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	service struct {
		session     *session.Service
		leaderboard *leaderboard.Service
	}

	stores struct {
		sessions     session.SessionStore
		participants session.ParticipantStore
		queue        session.QuestionQueueStore
		responses    session.ResponseStore
		questions    session.QuestionRepository
	}

	http *http.Server
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initStores()
	s.initServices()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})
	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	s.infra.redis = r

	if s.c.Postgres.URL == "" {
		slog.Warn("server: no postgres configured, using in-memory stores")
		return nil
	}

	cc, err := pgxpool.ParseConfig(s.c.Postgres.URL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	s.infra.postgres = db

	return nil
}

func (s *Server) initStores() {
	questionTTL := defaultQuestionCacheTTL
	if s.c.Session.QuestionCacheTTLSeconds > 0 {
		questionTTL = time.Duration(s.c.Session.QuestionCacheTTLSeconds) * time.Second
	}

	if s.infra.postgres == nil {
		store := memory.NewStore()
		s.stores.sessions = store.Sessions()
		s.stores.participants = store.Participants()
		s.stores.queue = store.Queue()
		s.stores.responses = store.Responses()
		s.stores.questions = memory.NewQuestionRepository(nil)
		return
	}

	s.stores.sessions = postgres.NewSessionStore(s.infra.postgres)
	s.stores.participants = postgres.NewParticipantStore(s.infra.postgres)
	s.stores.queue = postgres.NewQueueStore(s.infra.postgres)
	s.stores.responses = postgres.NewResponseStore(s.infra.postgres)
	s.stores.questions = rediscache.NewQuestionRepository(
		s.infra.redis,
		postgres.NewQuestionRepository(s.infra.postgres),
		s.c.Redis.Prefix,
		questionTTL,
	)
}

func (s *Server) initServices() {
	s.service.session = session.NewService(session.Config{
		Sessions:     s.stores.sessions,
		Participants: s.stores.participants,
		Queue:        s.stores.queue,
		Responses:    s.stores.responses,
		Questions:    s.stores.questions,
		EventBus:     s.eb,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		EventBus:        s.eb,
		Participants:    s.stores.participants,
		Redis:           s.infra.redis,
		Prefix:          s.c.Redis.Prefix,
		PublishInterval: time.Duration(s.c.Session.LeaderboardPublishMS) * time.Millisecond,
	})
}

func (s *Server) initAPI() {
	bindingTTL := defaultBindingTTL
	if s.c.Session.BindingTTLSeconds > 0 {
		bindingTTL = time.Duration(s.c.Session.BindingTTLSeconds) * time.Second
	}

	gw := broadcast.NewGateway(s.infra.redis, s.c.Redis.Prefix)
	broadcast.NewRelay(gw).Register(s.eb)

	identity := passthroughIdentity()
	wsGateway := ws.NewGateway(ws.Config{
		Sessions:  s.service.session,
		Broadcast: gw,
		Bindings:  broadcast.NewBindingStore(s.infra.redis, s.c.Redis.Prefix, bindingTTL),
		Identity:  identity,
	})

	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	e.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	e.GET("/ws", wsGateway.Handle)
	e.POST("/sessions", s.createSessionHandler(identity))
	e.GET("/sessions/:id", s.getSessionHandler())
	e.GET("/sessions/:id/leaderboard", s.getLeaderboardHandler())

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

// passthroughIdentity treats the bearer token as the caller's user id. The
// platform gateway in front of this service validates and rewrites tokens; a
// verifying implementation plugs in here without touching the transport.
func passthroughIdentity() session.IdentityProvider {
	return session.IdentityFunc(func(_ context.Context, token string) (string, error) {
		return token, nil
	})
}

func (s *Server) Start() {
	ctx := context.TODO()

	slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}
	if err := s.infra.redis.Close(); err != nil {
		slog.ErrorContext(ctx, "server: close redis failed", "error", err)
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}

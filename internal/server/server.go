package server

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"backend-trailwatch/internal/alert"
	"backend-trailwatch/internal/auth"
	"backend-trailwatch/internal/config"
	"backend-trailwatch/internal/contact"
	"backend-trailwatch/internal/db"
	"backend-trailwatch/internal/location"
	"backend-trailwatch/internal/sharing"
	"backend-trailwatch/internal/store"
	"backend-trailwatch/internal/stream"
	"backend-trailwatch/internal/tracking"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type Server struct {
	App      *fiber.App
	Cfg      config.Config
	DB       *pgxpool.Pool
	Redis    *redis.Client
	Stream   *stream.Hub
	Feeds    *location.Registry
	Tracking *tracking.Service
	Sharing  *sharing.Service

	gateway  *alert.Gateway
	sqlite   *sql.DB
}

// NewServer wires the services. Hike records go to Postgres unless the SQLite driver is
// selected or no pool is available.
func NewServer(cfg config.Config, pg *pgxpool.Pool, redisClient *redis.Client) (*Server, error) {
	app := fiber.New()
	app.Use(recover.New())
	app.Use(logger.New())

	s := &Server{
		App:      app,
		Cfg:      cfg,
		DB:       pg,
		Redis:    redisClient,
		Stream:   stream.NewHub(redisClient),
		Feeds:    location.NewRegistry(),
	}

	records, err := s.recordStore()
	if err != nil {
		s.Stream.Close()
		return nil, err
	}

	providers := func(accountID string) location.Provider {
		return s.Feeds.For(accountID)
	}

	trackingCfg := tracking.DefaultConfig()
	setDuration(&trackingCfg.SampleInterval, cfg.SampleInterval)
	setDuration(&trackingCfg.RefreshInterval, cfg.RefreshInterval)
	trackingCfg.FailFastPermission = cfg.FailFastPermission()
	s.Tracking = tracking.NewService(providers, records, trackingCfg, s.Stream, nil)

	var shares sharing.SnapshotStore = sharing.NewMemoryStore()
	sharingCfg := sharing.DefaultConfig()
	setDuration(&sharingCfg.BroadcastInterval, cfg.BroadcastInterval)
	setDuration(&sharingCfg.AnomalyInterval, cfg.AnomalyInterval)
	setDuration(&sharingCfg.TTL, cfg.ShareTTL)
	sharingCfg.EnforceExpiry = cfg.EnforceShareExpiry()
	sharingCfg.FailFastPermission = cfg.FailFastPermission()
	if redisClient != nil {
		shares = sharing.NewRedisStore(redisClient, 2*sharingCfg.TTL)
	}

	var contacts *contact.Service
	var contactSource sharing.ContactSource = noContacts{}
	if pg != nil {
		contacts = contact.NewService(pg)
		contactSource = contacts
	}

	topics := alert.Topics{SMS: cfg.AlertSMSTopic, Email: cfg.AlertEmailTopic}
	s.gateway = alert.NewGateway(cfg.KafkaBrokers, topics)
	dispatcher := alert.NewDispatcher(s.gateway, topics)
	s.Sharing = sharing.NewService(providers, shares, contactSource, dispatcher, sharingCfg, s.Stream, nil)

	registerRoutes(s, contacts)
	return s, nil
}

func (s *Server) recordStore() (tracking.Store, error) {
	if s.Cfg.StoreDriver != config.StoreDriverSQLite && s.DB != nil {
		return store.NewPostgres(s.DB), nil
	}
	if s.Cfg.StoreDriver != config.StoreDriverSQLite {
		log.Printf("no postgres pool, keeping hike records in sqlite")
	}
	path := s.Cfg.SQLitePath
	if path == "" {
		path = ":memory:"
	}
	conn, err := db.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	records, err := store.NewSQLite(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	s.sqlite = conn
	return records, nil
}

func registerRoutes(s *Server, contacts *contact.Service) {
	s.App.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	jwtMiddleware := auth.JWTMiddleware(s.Cfg.JWTSecret)

	auth.RegisterRoutes(s.App.Group("/auth"), auth.NewService(s.Cfg.JWTSecret))
	location.RegisterRoutes(s.App.Group("/location"), s.Feeds, jwtMiddleware)
	tracking.RegisterRoutes(s.App.Group("/hikes"), s.Tracking, jwtMiddleware)
	sharing.RegisterRoutes(s.App.Group("/sharing"), s.Sharing, jwtMiddleware)
	if contacts != nil {
		contact.RegisterRoutes(s.App.Group("/contacts"), contacts, jwtMiddleware)
	}
	stream.RegisterRoutes(s.App.Group("/stream"), s.Stream, map[string]func(string) string{
		"hike":  tracking.StreamKey,
		"share": sharing.StreamKey,
	}, jwtMiddleware)
}

// Close checkpoints running hikes, stops shares and releases what NewServer opened.
// Connections passed in by the caller are left open.
func (s *Server) Close(ctx context.Context) error {
	var errs []error
	if err := s.Tracking.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	s.Sharing.Close(ctx)
	s.Stream.Close()
	if err := s.gateway.Close(); err != nil {
		errs = append(errs, err)
	}
	if s.sqlite != nil {
		if err := s.sqlite.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

type noContacts struct{}

func (noContacts) List(context.Context, string) ([]contact.EmergencyContact, error) {
	return nil, nil
}

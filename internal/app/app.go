package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sharetube/playsync/internal/events"
	"github.com/sharetube/playsync/internal/gateway"
	"github.com/sharetube/playsync/internal/registry"
	"github.com/sharetube/playsync/internal/repository/room/redis"
	"github.com/sharetube/playsync/pkg/ctxlogger"
	"github.com/sharetube/playsync/pkg/redisclient"
)

type AppConfig struct {
	Host              string        `json:"host"`
	Port              int           `json:"port"`
	LogLevel          string        `json:"log_level"`
	RedisPort         int           `json:"redis_port"`
	RedisHost         string        `json:"redis_host"`
	RedisPassword     string        `json:"-"`
	RoomInfoTTL       time.Duration `json:"room_info_ttl"`
	NatsURL           string        `json:"nats_url"`
	NatsSubjectPrefix string        `json:"nats_subject_prefix"`
	SendBuffer        int           `json:"send_buffer"`
	MaxMessageSize    int64         `json:"max_message_size"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	PongWait          time.Duration `json:"pong_wait"`
}

func (cfg *AppConfig) Validate() error {
	var errs []error
	if cfg.Port < 1 || cfg.Port > 65535 {
		errs = append(errs, fmt.Errorf("port must be between 1 and 65535"))
	}
	if _, err := parseLogLevel(cfg.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if cfg.RoomInfoTTL <= 0 {
		errs = append(errs, fmt.Errorf("room info ttl must be positive"))
	}
	if cfg.NatsURL != "" && cfg.NatsSubjectPrefix == "" {
		errs = append(errs, fmt.Errorf("nats subject prefix is required when nats url is set"))
	}
	if cfg.SendBuffer < 1 {
		errs = append(errs, fmt.Errorf("send buffer must be greater than 0"))
	}
	if cfg.MaxMessageSize < 1 {
		errs = append(errs, fmt.Errorf("max message size must be greater than 0"))
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("write timeout must be positive"))
	}
	if cfg.PongWait <= 0 {
		errs = append(errs, fmt.Errorf("pong wait must be positive"))
	}

	return errors.Join(errs...)
}

func parseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}

	return level, nil
}

// NewLogger builds the JSON logger shared by every component.
func NewLogger(level string) (*slog.Logger, error) {
	logLevel, err := parseLogLevel(level)
	if err != nil {
		return nil, err
	}

	h := ctxlogger.ContextHandler{
		Handler: slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     logLevel,
			AddSource: true,
		}),
	}

	return slog.New(h), nil
}

func newPublisher(cfg *AppConfig, logger *slog.Logger) (events.Publisher, func(), error) {
	if cfg.NatsURL == "" {
		return events.Nop, func() {}, nil
	}

	nc, err := events.Connect(&events.NATSConfig{
		URL:           cfg.NatsURL,
		SubjectPrefix: cfg.NatsSubjectPrefix,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	return events.NewNATSPublisher(nc, cfg.NatsSubjectPrefix, logger), func() {
		if err := nc.Drain(); err != nil {
			logger.Warn("failed to drain nats connection", "error", err)
		}
	}, nil
}

func Run(ctx context.Context, cfg *AppConfig) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	rc, err := redisclient.NewRedisClient(&redisclient.Config{
		Port:     cfg.RedisPort,
		Host:     cfg.RedisHost,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		return fmt.Errorf("failed to create redis client: %w", err)
	}
	defer rc.Close()

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	defer closePublisher()

	roomRepo := redis.NewRepo(rc, cfg.RoomInfoTTL, logger)
	reg := registry.New(publisher, logger)
	controller := gateway.NewController(reg, roomRepo, &gateway.Config{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: cfg.MaxMessageSize,
		WriteTimeout:   cfg.WriteTimeout,
		PongWait:       cfg.PongWait,
		StoreTimeout:   time.Second,
	}, logger)
	server := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), Handler: controller.GetMux()}

	// graceful shutdown
	serverCtx, serverStopCtx := context.WithCancel(ctx)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
		case <-ctx.Done():
		}

		shutdownCtx, c := context.WithTimeout(context.Background(), 30*time.Second)
		defer c()

		go func() {
			<-shutdownCtx.Done()
			if shutdownCtx.Err() == context.DeadlineExceeded {
				log.Fatal("graceful shutdown timed out.. forcing exit.")
			}
		}()

		// hijacked websockets are not tracked by the http server
		controller.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Fatal(err)
		}
		serverStopCtx()
	}()

	logger.InfoContext(serverCtx, "starting server", "address", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	<-serverCtx.Done()

	return nil
}

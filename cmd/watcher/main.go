// Command watcher joins a room with a simulated media element. Lines read
// from stdin drive it: play, pause, seek <seconds>, rate <rate>, state.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/playsync/internal/app"
	"github.com/sharetube/playsync/internal/client"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	serverURL = configVar[string]{
		envKey:       "WATCHER_SERVER_URL",
		flagKey:      "server-url",
		defaultValue: "ws://localhost:80/api/v1/ws",
	}
	roomId = configVar[string]{
		envKey:       "WATCHER_ROOM_ID",
		flagKey:      "room-id",
		defaultValue: "lobby",
	}
	userId = configVar[string]{
		envKey:       "WATCHER_USER_ID",
		flagKey:      "user-id",
		defaultValue: "",
	}
	logLevel = configVar[string]{
		envKey:       "WATCHER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	window = configVar[time.Duration]{
		envKey:       "WATCHER_WINDOW",
		flagKey:      "window",
		defaultValue: client.DefaultWindow,
	}
	driftTolerance = configVar[float64]{
		envKey:       "WATCHER_DRIFT_TOLERANCE",
		flagKey:      "drift-tolerance",
		defaultValue: client.DefaultDriftTolerance,
	}
	readTimeout = configVar[time.Duration]{
		envKey:       "WATCHER_READ_TIMEOUT",
		flagKey:      "read-timeout",
		defaultValue: 60 * time.Second,
	}
	timeUpdateInterval = configVar[time.Duration]{
		envKey:       "WATCHER_TIME_UPDATE_INTERVAL",
		flagKey:      "time-update-interval",
		defaultValue: 250 * time.Millisecond,
	}
)

func loadConfig() (*client.Config, string, time.Duration) {
	pflag.String(serverURL.flagKey, serverURL.defaultValue, "Websocket url of the sync server")
	pflag.String(roomId.flagKey, roomId.defaultValue, "Room to join")
	pflag.String(userId.flagKey, userId.defaultValue, "User id, random when empty")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Duration(window.flagKey, window.defaultValue, "Debounce window for outgoing updates")
	pflag.Float64(driftTolerance.flagKey, driftTolerance.defaultValue, "Drift in seconds tolerated before a hard seek")
	pflag.Duration(readTimeout.flagKey, readTimeout.defaultValue, "Server silence tolerated before reconnecting")
	pflag.Duration(timeUpdateInterval.flagKey, timeUpdateInterval.defaultValue, "How often the media reports its position")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(serverURL.flagKey, serverURL.envKey)
	viper.BindEnv(roomId.flagKey, roomId.envKey)
	viper.BindEnv(userId.flagKey, userId.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(window.flagKey, window.envKey)
	viper.BindEnv(driftTolerance.flagKey, driftTolerance.envKey)
	viper.BindEnv(readTimeout.flagKey, readTimeout.envKey)
	viper.BindEnv(timeUpdateInterval.flagKey, timeUpdateInterval.envKey)

	viper.SetDefault(serverURL.flagKey, serverURL.defaultValue)
	viper.SetDefault(roomId.flagKey, roomId.defaultValue)
	viper.SetDefault(userId.flagKey, userId.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(window.flagKey, window.defaultValue)
	viper.SetDefault(driftTolerance.flagKey, driftTolerance.defaultValue)
	viper.SetDefault(readTimeout.flagKey, readTimeout.defaultValue)
	viper.SetDefault(timeUpdateInterval.flagKey, timeUpdateInterval.defaultValue)

	cfg := client.DefaultConfig()
	cfg.URL = viper.GetString(serverURL.flagKey)
	cfg.RoomId = viper.GetString(roomId.flagKey)
	cfg.UserId = viper.GetString(userId.flagKey)
	if cfg.UserId == "" {
		cfg.UserId = uuid.NewString()
	}
	cfg.Window = viper.GetDuration(window.flagKey)
	cfg.DriftTolerance = viper.GetFloat64(driftTolerance.flagKey)
	cfg.ReadTimeout = viper.GetDuration(readTimeout.flagKey)

	return &cfg, viper.GetString(logLevel.flagKey), viper.GetDuration(timeUpdateInterval.flagKey)
}

func main() {
	cfg, level, tick := loadConfig()

	logger, err := app.NewLogger(level)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	media := client.NewSimulatedMedia(clock)
	c := client.New(cfg, media, clock, logger)

	go reportTime(ctx, c, media, clock, tick)
	go readCommands(ctx, c, media, stop)

	if err := c.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func reportTime(ctx context.Context, c *client.Client, media *client.SimulatedMedia, clock clockwork.Clock, every time.Duration) {
	ticker := clock.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if media.IsPlaying() {
				c.HandleMediaEvent(client.Event{Kind: client.EventTimeUpdate, Position: media.CurrentTime()})
			}
		}
	}
}

func readCommands(ctx context.Context, c *client.Client, media *client.SimulatedMedia, stop context.CancelFunc) {
	defer stop()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		if err := runCommand(c, media, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func runCommand(c *client.Client, media *client.SimulatedMedia, fields []string) error {
	switch fields[0] {
	case "play", "pause":
		playing := fields[0] == "play"
		if err := media.SetPlaying(playing); err != nil {
			return err
		}
		kind := client.EventPause
		if playing {
			kind = client.EventPlay
		}
		c.HandleMediaEvent(client.Event{Kind: kind, Position: media.CurrentTime()})
	case "seek":
		position, err := argFloat(fields)
		if err != nil {
			return err
		}
		if err := media.Seek(position); err != nil {
			return err
		}
		c.HandleMediaEvent(client.Event{Kind: client.EventSeek, Position: media.CurrentTime()})
	case "rate":
		rate, err := argFloat(fields)
		if err != nil {
			return err
		}
		if rate <= 0 {
			return fmt.Errorf("rate must be positive")
		}
		if err := media.SetRate(rate); err != nil {
			return err
		}
		c.HandleMediaEvent(client.Event{Kind: client.EventRateChange, Position: media.CurrentTime(), Rate: rate})
	case "state":
		s := c.State()
		fmt.Printf("media=%.2fs playing=%t rate=%.2f | room version=%d by=%s\n",
			media.CurrentTime(), media.IsPlaying(), media.Rate(), s.Version, s.LastUpdatedBy)
	default:
		return fmt.Errorf("unknown command %q", fields[0])
	}

	return nil
}

func argFloat(fields []string) (float64, error) {
	if len(fields) < 2 {
		return 0, fmt.Errorf("%s needs a number", fields[0])
	}

	v, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", fields[0], err)
	}

	return v, nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/sharetube/playsync/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	port = configVar[int]{
		envKey:       "SERVER_PORT",
		flagKey:      "port",
		defaultValue: 80,
	}
	host = configVar[string]{
		envKey:       "SERVER_HOST",
		flagKey:      "host",
		defaultValue: "0.0.0.0",
	}
	logLevel = configVar[string]{
		envKey:       "SERVER_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	roomInfoTTL = configVar[time.Duration]{
		envKey:       "SERVER_ROOM_INFO_TTL",
		flagKey:      "room-info-ttl",
		defaultValue: 14 * 24 * time.Hour,
	}
	natsURL = configVar[string]{
		envKey:       "NATS_URL",
		flagKey:      "nats-url",
		defaultValue: "",
	}
	natsSubjectPrefix = configVar[string]{
		envKey:       "NATS_SUBJECT_PREFIX",
		flagKey:      "nats-subject-prefix",
		defaultValue: "playsync",
	}
	sendBuffer = configVar[int]{
		envKey:       "SERVER_SEND_BUFFER",
		flagKey:      "send-buffer",
		defaultValue: 256,
	}
	maxMessageSize = configVar[int64]{
		envKey:       "SERVER_MAX_MESSAGE_SIZE",
		flagKey:      "max-message-size",
		defaultValue: 4096,
	}
	writeTimeout = configVar[time.Duration]{
		envKey:       "SERVER_WRITE_TIMEOUT",
		flagKey:      "write-timeout",
		defaultValue: 10 * time.Second,
	}
	pongWait = configVar[time.Duration]{
		envKey:       "SERVER_PONG_WAIT",
		flagKey:      "pong-wait",
		defaultValue: 60 * time.Second,
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.Int(port.flagKey, port.defaultValue, "Server port")
	pflag.String(host.flagKey, host.defaultValue, "Server host")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.Duration(roomInfoTTL.flagKey, roomInfoTTL.defaultValue, "How long room metadata is kept after last access")
	pflag.String(natsURL.flagKey, natsURL.defaultValue, "NATS url for room events, empty to disable")
	pflag.String(natsSubjectPrefix.flagKey, natsSubjectPrefix.defaultValue, "NATS subject prefix")
	pflag.Int(sendBuffer.flagKey, sendBuffer.defaultValue, "Outbound messages queued per connection before dropping")
	pflag.Int64(maxMessageSize.flagKey, maxMessageSize.defaultValue, "Maximum inbound websocket message size in bytes")
	pflag.Duration(writeTimeout.flagKey, writeTimeout.defaultValue, "Websocket write timeout")
	pflag.Duration(pongWait.flagKey, pongWait.defaultValue, "Time allowed to read the next pong")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(port.flagKey, port.envKey)
	viper.BindEnv(host.flagKey, host.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(roomInfoTTL.flagKey, roomInfoTTL.envKey)
	viper.BindEnv(natsURL.flagKey, natsURL.envKey)
	viper.BindEnv(natsSubjectPrefix.flagKey, natsSubjectPrefix.envKey)
	viper.BindEnv(sendBuffer.flagKey, sendBuffer.envKey)
	viper.BindEnv(maxMessageSize.flagKey, maxMessageSize.envKey)
	viper.BindEnv(writeTimeout.flagKey, writeTimeout.envKey)
	viper.BindEnv(pongWait.flagKey, pongWait.envKey)

	viper.SetDefault(port.flagKey, port.defaultValue)
	viper.SetDefault(host.flagKey, host.defaultValue)
	viper.SetDefault(logLevel.flagKey, logLevel.defaultValue)
	viper.SetDefault(redisPort.flagKey, redisPort.defaultValue)
	viper.SetDefault(redisHost.flagKey, redisHost.defaultValue)
	viper.SetDefault(redisPassword.flagKey, redisPassword.defaultValue)
	viper.SetDefault(roomInfoTTL.flagKey, roomInfoTTL.defaultValue)
	viper.SetDefault(natsURL.flagKey, natsURL.defaultValue)
	viper.SetDefault(natsSubjectPrefix.flagKey, natsSubjectPrefix.defaultValue)
	viper.SetDefault(sendBuffer.flagKey, sendBuffer.defaultValue)
	viper.SetDefault(maxMessageSize.flagKey, maxMessageSize.defaultValue)
	viper.SetDefault(writeTimeout.flagKey, writeTimeout.defaultValue)
	viper.SetDefault(pongWait.flagKey, pongWait.defaultValue)

	config := &app.AppConfig{
		Host:              viper.GetString(host.flagKey),
		Port:              viper.GetInt(port.flagKey),
		LogLevel:          viper.GetString(logLevel.flagKey),
		RedisPort:         viper.GetInt(redisPort.flagKey),
		RedisHost:         viper.GetString(redisHost.flagKey),
		RedisPassword:     viper.GetString(redisPassword.flagKey),
		RoomInfoTTL:       viper.GetDuration(roomInfoTTL.flagKey),
		NatsURL:           viper.GetString(natsURL.flagKey),
		NatsSubjectPrefix: viper.GetString(natsSubjectPrefix.flagKey),
		SendBuffer:        viper.GetInt(sendBuffer.flagKey),
		MaxMessageSize:    viper.GetInt64(maxMessageSize.flagKey),
		WriteTimeout:      viper.GetDuration(writeTimeout.flagKey),
		PongWait:          viper.GetDuration(pongWait.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting app with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}

package global

import (
	"context"
	"os"
	"strings"

	"TProject/logger"
	mgoSrv "TProject/service/mgo"
	redis "TProject/service/storage/redis"
	ids "TProject/tools/ids"
)

// AppConfig 进程级配置。In-code 默认值，少量支持环境变量覆盖。
type AppConfig struct {
	HTTPAddr string
	NodeID   int64

	Redis redis.Config
	Mongo mgoSrv.Config

	// NatsURL 非空时用 NATS 总线，否则用进程内总线
	NatsURL string
	// KafkaBrokers 非空时启用公告 Kafka 桥，否则公告直接上总线
	KafkaBrokers []string
}

var App = AppConfig{
	HTTPAddr: ":8080",
	NodeID:   100,
	Redis: redis.Config{
		Addr: "127.0.0.1:6379", Password: "", DB: 0,
	},
	Mongo: mgoSrv.Config{
		Uri:         "mongodb://localhost:27017",
		Database:    "templeSync",
		MaxPoolSize: 20,
	},
}

// ConfigAll 初始化全部基础设施（Mongo 是异步的，需要的话再 WaitReady）。
func ConfigAll(ctx context.Context) {
	ConfigEnv()
	ConfigIds()
	ConfigRedis()
	ConfigMgo(ctx)
}

// ConfigEnv 环境变量覆盖（部署时不改代码）。
func ConfigEnv() {
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		App.HTTPAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		App.Redis.Addr = v
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		App.Mongo.Uri = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		App.NatsURL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		App.KafkaBrokers = strings.Split(v, ",")
	}
}

func ConfigIds() {
	ids.SetNodeID(App.NodeID)
}

func GetJwtSecret() []byte {
	if v := os.Getenv("JWT_SECRET"); v != "" {
		return []byte(v)
	}
	return []byte("mN9b1f8zPq+W2xjX/45sKcVd0TfyoG+3Hp5Z8q9Rj1o=")
}

func ConfigRedis() {
	if err := redis.InitRedis(App.Redis); err != nil {
		logger.Errorf("init redis: %v", err)
	}
}

func ConfigMgo(ctx context.Context) {
	mgoSrv.StartAsync(ctx, &App.Mongo)
}

package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"TProject/global"
	"TProject/logger"
	mid "TProject/middleware/security"
	"TProject/module/history"
	"TProject/module/session"
	"TProject/module/user"
	"TProject/service/dispatcher"
	dispatcherkafka "TProject/service/dispatcher/kafka"
	"TProject/service/gateway"
	mgoSrv "TProject/service/mgo"
	"TProject/service/realtime"
	"TProject/service/storage"
	redisSrv "TProject/service/storage/redis"
	"TProject/tools/safe"

	"github.com/gin-gonic/gin"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	global.ConfigAll(ctx)
	secret := global.GetJwtSecret()

	// 实时总线：集群走 NATS，单机走进程内
	var bus realtime.Bus
	if global.App.NatsURL != "" {
		nb, err := realtime.NewNatsBus(realtime.Config{
			Servers: []string{global.App.NatsURL},
			Name:    "temple-sync",
		})
		if err != nil {
			logger.Errorf("connect nats: %v", err)
			return
		}
		bus = nb
	} else {
		bus = realtime.NewMemoryBus()
	}
	defer bus.Close()

	// Mongo：历史、公告存档、用户目录
	if err := mgoSrv.Get().WaitReady(ctx); err != nil {
		logger.Errorf("mongo not ready: %v", err)
		return
	}
	db := mgoSrv.GetDB()
	repo := history.NewRepo(db)
	if err := repo.EnsureIndexes(ctx); err != nil {
		logger.Warnf("ensure indexes: %v", err)
	}
	directory := user.NewMongoDirectory(db, secret)

	// KV：Redis 可用就跨节点同步，不可用退化为进程内。
	// 传工厂不传句柄：每个会话自己开视图，存储广播才到得了同进程的其它连接。
	var tabs storage.Tabs
	if redisSrv.Ready() {
		tabs = storage.NewRedisTabs(redisSrv.GetRedis())
	} else {
		logger.Warnf("redis unavailable, using in-process kv store")
		tabs = storage.NewMemoryStore()
	}

	// 公告管道：有 broker 走 Kafka 桥，否则直发总线
	var announcer history.AnnouncementPublisher
	if len(global.App.KafkaBrokers) > 0 {
		cfg := dispatcherkafka.DefaultConfig()
		cfg.Brokers = global.App.KafkaBrokers
		bridge, err := dispatcherkafka.NewBridge(cfg, bus)
		if err != nil {
			logger.Errorf("init kafka bridge: %v", err)
			return
		}
		defer bridge.Close()
		safe.Go(func() {
			if err := bridge.Run(ctx); err != nil {
				logger.Errorf("kafka bridge: %v", err)
			}
		})
		announcer = bridge
	} else {
		announcer = dispatcher.DirectAnnouncer{Bus: bus}
	}

	backends := session.Backends{
		Bus:       bus,
		Tabs:      tabs,
		Directory: directory,
		History:   repo,
		Sender:    repo,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	history.NewAPI(repo, bus, announcer).Register(r, mid.Middleware(mid.DefaultOptions(secret)))
	gateway.NewServer(secret, backends).Register(r)

	srv := &http.Server{Addr: global.App.HTTPAddr, Handler: r}
	safe.Go(func() {
		logger.Infof("listening on %s", global.App.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server: %v", err)
			cancel()
		}
	})

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown: %v", err)
	}
	logger.Infof("temple-sync stopped")
}

package mgo

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"TProject/logger"
	"TProject/tools/errs"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Config MongoDB 连接配置。
type Config struct {
	Uri         string
	Address     []string
	Database    string
	Username    string
	Password    string
	AuthSource  string
	MaxPoolSize int
}

func applyConfigToOptions(cfg *Config) (*options.ClientOptions, error) {
	var opts *options.ClientOptions
	switch {
	case cfg.Uri != "":
		opts = options.Client().ApplyURI(cfg.Uri)
	case len(cfg.Address) > 0:
		opts = options.Client().SetHosts(cfg.Address)
	default:
		return nil, errs.New("mongo uri or address is required")
	}
	if cfg.MaxPoolSize <= 0 {
		cfg.MaxPoolSize = 20
	}
	opts.SetMaxPoolSize(uint64(cfg.MaxPoolSize))
	if cfg.Username != "" {
		opts.SetAuth(options.Credential{
			Username:   cfg.Username,
			Password:   cfg.Password,
			AuthSource: cfg.AuthSource,
		})
	}
	return opts, nil
}

func connectMongo(ctx context.Context, opts *options.ClientOptions) (*mongo.Client, error) {
	cli, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		return nil, err
	}
	return cli, nil
}

// Manager 管理一条到 MongoDB 的长连接：首连带退避重试，
// 之后周期健康检查，掉线自动回到连接阶段。
type Manager struct {
	mu        sync.RWMutex
	db        *mongo.Database
	client    *mongo.Client
	readyCh   chan struct{} // 首次就绪时 close 一次
	readyOnce sync.Once

	lastErr atomic.Value // error
}

var globalMgr = &Manager{readyCh: make(chan struct{})}

func Get() *Manager { return globalMgr }

// StartAsync 后台连接直到 ctx.Done()。
func StartAsync(ctx context.Context, cfg *Config) {
	go globalMgr.run(ctx, cfg)
}

func (m *Manager) run(ctx context.Context, cfg *Config) {
	const (
		baseBackoff = 200 * time.Millisecond
		maxBackoff  = 5 * time.Second
		healthEvery = 10 * time.Second
		failThresh  = 3
	)

	for {
		// 连接阶段：退避 + 抖动
		attempt := 0
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			opts, err := applyConfigToOptions(cfg)
			if err != nil {
				m.lastErr.Store(err)
				logger.Errorf("mongo config invalid: %v", err)
				return
			}
			cli, err := connectMongo(ctx, opts)
			if err == nil {
				m.mu.Lock()
				m.client = cli
				m.db = cli.Database(cfg.Database)
				m.mu.Unlock()
				m.readyOnce.Do(func() { close(m.readyCh) })
				break
			}
			m.lastErr.Store(err)

			backoff := baseBackoff << attempt
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			jitter := time.Duration(rand.Int63n(int64(backoff/5) + 1))
			timer := time.NewTimer(backoff - jitter/2)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if attempt < 6 {
				attempt++
			}
		}

		// 健康检查阶段：连续失败超过阈值回到连接阶段
		fail := 0
		ticker := time.NewTicker(healthEvery)
		healthy := true
		for healthy {
			select {
			case <-ctx.Done():
				ticker.Stop()
				m.disconnect()
				return
			case <-ticker.C:
				m.mu.RLock()
				cli := m.client
				m.mu.RUnlock()
				if cli == nil {
					healthy = false
					break
				}
				if err := cli.Ping(ctx, nil); err != nil {
					fail++
					m.lastErr.Store(err)
					if fail >= failThresh {
						m.disconnect()
						healthy = false
					}
				} else {
					fail = 0
				}
			}
		}
		ticker.Stop()
	}
}

func (m *Manager) disconnect() {
	m.mu.Lock()
	if m.client != nil {
		_ = m.client.Disconnect(context.Background())
		m.client = nil
		m.db = nil
	}
	m.mu.Unlock()
}

// WaitReady 阻塞到首次连接成功或 ctx 取消。
func (m *Manager) WaitReady(ctx context.Context) error {
	m.mu.RLock()
	connected := m.db != nil
	m.mu.RUnlock()
	if connected {
		return nil
	}
	select {
	case <-m.readyCh:
		return nil
	case <-ctx.Done():
		return errs.WrapMsg(ctx.Err(), "wait mongo ready")
	}
}

// Err 最近一次连接/健康检查错误。
func (m *Manager) Err() error {
	if v := m.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (m *Manager) TryGetDB() (*mongo.Database, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, false
	}
	return m.db, true
}

// GetDB panics when the connection is not ready; call WaitReady first.
func GetDB() *mongo.Database {
	db, ok := globalMgr.TryGetDB()
	if !ok {
		panic("mongo not ready: wait Ready() or use TryGetDB()")
	}
	return db
}

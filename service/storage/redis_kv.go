package storage

import (
	"context"
	"strings"
	"sync"

	"TProject/logger"
	"TProject/tools/ids"
	"TProject/tools/safe"

	"github.com/redis/go-redis/v9"
)

const changeChannel = "kv:changed"

// RedisTabs 在同一个 Redis 客户端上开视图：每个 Tab() 一个独立 origin
// 和自己的 pub/sub 订阅，跨视图广播由此成立。
type RedisTabs struct {
	rdb *redis.Client
}

func NewRedisTabs(rdb *redis.Client) *RedisTabs {
	return &RedisTabs{rdb: rdb}
}

func (t *RedisTabs) Tab() KV {
	return NewRedisKV(t.rdb)
}

// RedisKV 基于 Redis 的持久化实现。每个实例代表一个 "tab"：
// 写入后向 kv:changed 发布 "<origin>|<key>"，订阅方忽略自己的 origin，
// 其余实例收到后触发对应 key 的 watcher——对应浏览器的 storage 事件。
type RedisKV struct {
	rdb    *redis.Client
	origin string
	pubsub *redis.PubSub
	cancel context.CancelFunc

	mu       sync.Mutex
	watchers map[string]map[uint64]func()
	watchSeq uint64
}

func NewRedisKV(rdb *redis.Client) *RedisKV {
	ctx, cancel := context.WithCancel(context.Background())
	kv := &RedisKV{
		rdb:      rdb,
		origin:   ids.GenerateString(),
		watchers: make(map[string]map[uint64]func()),
		cancel:   cancel,
	}
	kv.pubsub = rdb.Subscribe(ctx, changeChannel)
	safe.Go(func() { kv.listen(ctx) })
	return kv
}

func (kv *RedisKV) Load(ctx context.Context, key string) ([]byte, error) {
	v, err := kv.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (kv *RedisKV) Store(ctx context.Context, key string, val []byte) error {
	if err := kv.rdb.Set(ctx, key, val, 0).Err(); err != nil {
		return err
	}
	return kv.broadcast(ctx, key)
}

func (kv *RedisKV) Delete(ctx context.Context, key string) error {
	if err := kv.rdb.Del(ctx, key).Err(); err != nil {
		return err
	}
	return kv.broadcast(ctx, key)
}

func (kv *RedisKV) Watch(key string, fn func()) (cancel func()) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.watchSeq++
	id := kv.watchSeq
	if kv.watchers[key] == nil {
		kv.watchers[key] = make(map[uint64]func())
	}
	kv.watchers[key][id] = fn
	return func() {
		kv.mu.Lock()
		defer kv.mu.Unlock()
		delete(kv.watchers[key], id)
		if len(kv.watchers[key]) == 0 {
			delete(kv.watchers, key)
		}
	}
}

func (kv *RedisKV) Close() error {
	kv.cancel()
	if kv.pubsub != nil {
		return kv.pubsub.Close()
	}
	return nil
}

func (kv *RedisKV) broadcast(ctx context.Context, key string) error {
	return kv.rdb.Publish(ctx, changeChannel, kv.origin+"|"+key).Err()
}

func (kv *RedisKV) listen(ctx context.Context) {
	ch := kv.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			origin, key, found := strings.Cut(msg.Payload, "|")
			if !found {
				logger.Warnf("kv change payload malformed: %q", msg.Payload)
				continue
			}
			if origin == kv.origin {
				continue // 自己写的，不触发
			}
			kv.mu.Lock()
			fns := make([]func(), 0, len(kv.watchers[key]))
			for _, fn := range kv.watchers[key] {
				fns = append(fns, fn)
			}
			kv.mu.Unlock()
			for _, fn := range fns {
				fn()
			}
		}
	}
}

package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"TProject/logger"
	"TProject/module/channel"
	"TProject/module/notify"
	"TProject/service/realtime"
	"TProject/tools/decode"
	"TProject/tools/errs"

	"github.com/Shopify/sarama"
)

// Config in-code 配置（不读 YAML）。
type Config struct {
	Brokers               []string
	Topic                 string
	GroupID               string
	Partitions            int32
	ReplicationFactor     int16
	ProducerRetries       int
	ProducerCompression   string // none/snappy/lz4/zstd
	ConsumerInitialOffset string // newest/oldest
	KafkaVersion          sarama.KafkaVersion
	AutoCreateTopic       bool
}

func DefaultConfig() Config {
	return Config{
		Brokers:               []string{"127.0.0.1:9092"},
		Topic:                 "announcements",
		GroupID:               "announcement-bridge-1",
		Partitions:            8,
		ReplicationFactor:     1,
		ProducerRetries:       5,
		ProducerCompression:   "snappy",
		ConsumerInitialOffset: "newest",
		KafkaVersion:          sarama.V2_1_0_0,
		AutoCreateTopic:       true,
	}
}

func buildBaseConfig(cfg Config) *sarama.Config {
	c := sarama.NewConfig()
	c.Version = cfg.KafkaVersion

	// Producer
	c.Producer.Return.Successes = true
	c.Producer.Return.Errors = true
	c.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.ProducerRetries <= 0 {
		cfg.ProducerRetries = 1
	}
	c.Producer.Retry.Max = cfg.ProducerRetries
	c.Producer.Partitioner = sarama.NewHashPartitioner // Key 控制分区：同分类保序
	switch strings.ToLower(cfg.ProducerCompression) {
	case "snappy":
		c.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		c.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		c.Producer.Compression = sarama.CompressionZSTD
	default:
		c.Producer.Compression = sarama.CompressionNone
	}

	// Consumer
	switch strings.ToLower(cfg.ConsumerInitialOffset) {
	case "oldest":
		c.Consumer.Offsets.Initial = sarama.OffsetOldest
	default:
		c.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	c.Consumer.Return.Errors = true

	// Net
	c.Net.DialTimeout = 10 * time.Second
	c.Net.ReadTimeout = 30 * time.Second
	c.Net.WriteTimeout = 30 * time.Second
	return c
}

// Bridge 公告管道：发布端写 Kafka（按 scope:category 分区保序），
// 消费端把公告转成对应公告频道上的实时事件。总线重复投递由
// 消费侧账本兜底，这里只保证带稳定消息ID。
type Bridge struct {
	cfg      Config
	client   sarama.Client
	producer sarama.SyncProducer
	bus      realtime.Bus
}

func NewBridge(cfg Config, bus realtime.Bus) (*Bridge, error) {
	base := buildBaseConfig(cfg)

	if cfg.AutoCreateTopic {
		admin, err := sarama.NewClusterAdmin(cfg.Brokers, base)
		if err != nil {
			return nil, errs.WrapMsg(err, "create kafka admin")
		}
		err = admin.CreateTopic(cfg.Topic, &sarama.TopicDetail{
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		}, false)
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			_ = admin.Close()
			return nil, errs.WrapMsg(err, "ensure topic", "topic", cfg.Topic)
		}
		_ = admin.Close()
	}

	client, err := sarama.NewClient(cfg.Brokers, base)
	if err != nil {
		return nil, errs.WrapMsg(err, "create kafka client")
	}
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()
		return nil, errs.WrapMsg(err, "create sync producer")
	}
	return &Bridge{cfg: cfg, client: client, producer: producer, bus: bus}, nil
}

// PublishAnnouncement 把公告写进 Kafka topic。
func (b *Bridge) PublishAnnouncement(ctx context.Context, a notify.Announcement) error {
	raw, err := json.Marshal(a)
	if err != nil {
		return errs.WrapMsg(err, "marshal announcement")
	}
	msg := &sarama.ProducerMessage{
		Topic: b.cfg.Topic,
		Key:   sarama.StringEncoder(a.ScopeID + ":" + a.CategoryKey),
		Value: sarama.ByteEncoder(raw),
	}
	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		return errs.WrapMsg(err, "produce announcement", "topic", b.cfg.Topic)
	}
	logger.Infof("announcement %s produced partition=%d offset=%d", a.ID, partition, offset)
	return nil
}

// Run 消费公告 topic 并转发到实时总线；阻塞到 ctx 取消。
func (b *Bridge) Run(ctx context.Context) error {
	group, err := sarama.NewConsumerGroupFromClient(b.cfg.GroupID, b.client)
	if err != nil {
		return errs.WrapMsg(err, "create consumer group", "group", b.cfg.GroupID)
	}
	defer group.Close()

	go func() {
		for err := range group.Errors() {
			logger.Errorf("announcement consumer group: %v", err)
		}
	}()

	handler := &bridgeHandler{bus: b.bus}
	for {
		if err := group.Consume(ctx, []string{b.cfg.Topic}, handler); err != nil {
			logger.Errorf("consume %s: %v", b.cfg.Topic, err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (b *Bridge) Close() error {
	_ = b.producer.Close()
	return b.client.Close()
}

type bridgeHandler struct {
	bus realtime.Bus
}

func (h *bridgeHandler) Setup(sarama.ConsumerGroupSession) error {
	logger.Infof("announcement consumer group setup")
	return nil
}

func (h *bridgeHandler) Cleanup(sarama.ConsumerGroupSession) error {
	logger.Infof("announcement consumer group cleanup")
	return nil
}

func (h *bridgeHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		var a notify.Announcement
		if err := decode.JSON(msg.Value, &a); err != nil {
			logger.Warnf("announcement payload unparsable topic=%s offset=%d: %v", msg.Topic, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}
		ch := channel.Category(a.ScopeID, a.CategoryKey)
		hdr := map[string]string{realtime.HeaderMsgID: stableMsgID(a)}
		if err := h.bus.Publish(session.Context(), ch, channel.EventNewAnnouncement, msg.Value, hdr); err != nil {
			logger.Errorf("forward announcement to %s: %v", ch, err)
			// 转发失败不提交位点，重启后重放；消费侧账本挡重复
			continue
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

func stableMsgID(a notify.Announcement) string {
	if a.ID != "" {
		return "announcement-" + a.ID
	}
	return "announcement-" + strconv.FormatInt(a.TimestampMS, 10)
}

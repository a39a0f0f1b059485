// 文件: pkg/kafka/producer.go
// 风控事件 Kafka 生产者
//
// 接入网关/回放工具用它把事件推进风控 topic。
// 分区 key 固定取 account_id: 同账户事件进同一分区，
// 消费端看到的顺序就是产生顺序。

package kafka

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"riskd.com/pkg/event"
)

// =============================================================================
// 配置
// =============================================================================

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers        []string      // Kafka broker 地址列表
	Topic          string        // 风控事件 topic
	RequiredAcks   int           // 确认模式: 0=不等待, 1=leader确认, -1=全部确认
	Compression    string        // 压缩方式: none, gzip, snappy, lz4, zstd
	FlushFrequency time.Duration // 刷新间隔
	FlushMessages  int           // 批量消息数
	MaxRetries     int           // 最大重试次数
}

// DefaultProducerConfig 默认配置
// 风控事件丢一条就可能漏掉一次违规，acks 取全部确认
func DefaultProducerConfig(brokers []string, topic string) ProducerConfig {
	return ProducerConfig{
		Brokers:        brokers,
		Topic:          topic,
		RequiredAcks:   -1,
		Compression:    "snappy",
		FlushFrequency: 100 * time.Millisecond,
		FlushMessages:  100,
		MaxRetries:     3,
	}
}

// =============================================================================
// EventProducer
// =============================================================================

// EventProducer 风控事件生产者
type EventProducer struct {
	producer sarama.AsyncProducer
	config   ProducerConfig

	sentCount  atomic.Int64
	errorCount atomic.Int64

	closed atomic.Bool
	wg     sync.WaitGroup
}

// NewEventProducer 创建生产者
func NewEventProducer(cfg ProducerConfig) (*EventProducer, error) {
	saramaConfig := sarama.NewConfig()

	switch cfg.RequiredAcks {
	case 0:
		saramaConfig.Producer.RequiredAcks = sarama.NoResponse
	case 1:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	}

	switch cfg.Compression {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	saramaConfig.Producer.Flush.Frequency = cfg.FlushFrequency
	saramaConfig.Producer.Flush.Messages = cfg.FlushMessages
	saramaConfig.Producer.Retry.Max = cfg.MaxRetries

	saramaConfig.Producer.Return.Successes = false
	saramaConfig.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	p := &EventProducer{
		producer: producer,
		config:   cfg,
	}

	p.wg.Add(1)
	go p.handleErrors()

	return p, nil
}

// Send 发送一条风控事件 (异步)
// 分区 key 取 account_id，保证同账户顺序
func (p *EventProducer) Send(ev *event.RiskEvent) error {
	if p.closed.Load() {
		return fmt.Errorf("producer is closed")
	}
	if err := ev.Validate(); err != nil {
		return err
	}

	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	p.producer.Input() <- &sarama.ProducerMessage{
		Topic: p.config.Topic,
		Key:   sarama.StringEncoder(ev.AccountID),
		Value: sarama.ByteEncoder(data),
	}
	p.sentCount.Add(1)

	return nil
}

// =============================================================================
// 错误处理与生命周期
// =============================================================================

func (p *EventProducer) handleErrors() {
	defer p.wg.Done()

	for err := range p.producer.Errors() {
		p.errorCount.Add(1)
		fmt.Printf("[Kafka] send error: topic=%s, err=%v\n", err.Msg.Topic, err.Err)
	}
}

// ProducerStats 统计信息
type ProducerStats struct {
	SentCount  int64
	ErrorCount int64
}

// Stats 获取统计信息
func (p *EventProducer) Stats() ProducerStats {
	return ProducerStats{
		SentCount:  p.sentCount.Load(),
		ErrorCount: p.errorCount.Load(),
	}
}

// Close 关闭生产者
func (p *EventProducer) Close() error {
	if p.closed.Swap(true) {
		return nil // 已经关闭
	}

	err := p.producer.Close()
	p.wg.Wait()

	return err
}

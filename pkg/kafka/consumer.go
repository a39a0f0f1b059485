// 文件: pkg/kafka/consumer.go
// 风控事件 Kafka 入口
//
// 【设计】
// - 消费者组: 多实例水平扩展，分区内顺序由 Kafka 保证
// - 上游按 account_id 做分区 key，同账户事件必然落在同一分区，
//   顺序语义与引擎的账户串行通道衔接
// - 解析失败的消息记日志后跳过 (毒丸不能堵住分区)
// - 提交失败的事件不标记 offset，重平衡后重投

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/IBM/sarama"

	"riskd.com/pkg/event"
)

// =============================================================================
// 配置
// =============================================================================

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers       []string // Kafka broker 地址列表
	GroupID       string   // 消费者组 ID
	Topics        []string // 订阅的 topics
	OffsetInitial int64    // 初始 offset: -1=newest, -2=oldest
}

// DefaultConsumerConfig 默认配置
// 风控事件不允许漏: 新消费者组从最老的 offset 追起
func DefaultConsumerConfig(brokers []string, groupID string, topics []string) ConsumerConfig {
	return ConsumerConfig{
		Brokers:       brokers,
		GroupID:       groupID,
		Topics:        topics,
		OffsetInitial: sarama.OffsetOldest,
	}
}

// =============================================================================
// EventConsumer
// =============================================================================

// Submitter 事件提交目标 (引擎实现)
type Submitter interface {
	Submit(ev *event.RiskEvent) error
}

// EventConsumer 风控事件消费者
type EventConsumer struct {
	client sarama.ConsumerGroup
	config ConsumerConfig
	sink   Submitter

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventConsumer 创建消费者
func NewEventConsumer(cfg ConsumerConfig, sink Submitter) (*EventConsumer, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	saramaConfig.Consumer.Offsets.Initial = cfg.OffsetInitial
	saramaConfig.Consumer.Offsets.AutoCommit.Enable = true

	client, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("create consumer group: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &EventConsumer{
		client: client,
		config: cfg,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start 启动消费
func (c *EventConsumer) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			handler := &eventGroupHandler{sink: c.sink}
			if err := c.client.Consume(c.ctx, c.config.Topics, handler); err != nil {
				log.Printf("[Kafka] consume error: %v", err)
			}
			if c.ctx.Err() != nil {
				return
			}
		}
	}()
}

// Stop 停止消费
func (c *EventConsumer) Stop() error {
	c.cancel()
	c.wg.Wait()
	return c.client.Close()
}

// =============================================================================
// Sarama ConsumerGroupHandler 实现
// =============================================================================

type eventGroupHandler struct {
	sink Submitter
}

func (h *eventGroupHandler) Setup(_ sarama.ConsumerGroupSession) error   { return nil }
func (h *eventGroupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *eventGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ev, err := event.Unmarshal(msg.Value)
		if err != nil {
			// 毒丸: 跳过并标记，否则分区会被一条坏消息卡死
			log.Printf("[Kafka] drop malformed message: topic=%s, partition=%d, offset=%d, err=%v",
				msg.Topic, msg.Partition, msg.Offset, err)
			session.MarkMessage(msg, "")
			continue
		}

		if err := h.sink.Submit(ev); err != nil {
			if errors.Is(err, event.ErrMalformedEvent) {
				// 结构合法但语义非法，同样按毒丸处理
				log.Printf("[Kafka] drop invalid event: offset=%d, err=%v", msg.Offset, err)
				session.MarkMessage(msg, "")
				continue
			}
			// 引擎拒收 (如已停止): 不标记，留待重投
			log.Printf("[Kafka] submit failed: offset=%d, err=%v", msg.Offset, err)
			return err
		}
		session.MarkMessage(msg, "")
	}
	return nil
}

package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"credit-service/internal/biz"
	"credit-service/internal/conf"

	"github.com/apache/rocketmq-client-go/v2"
	"github.com/apache/rocketmq-client-go/v2/primitive"
	"github.com/go-kratos/kratos/v2/log"
)

// notifyMessage 发送到通知 topic 的消息体
type notifyMessage struct {
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// mqNotifier 通过 RocketMQ 投递用户通知
type mqNotifier struct {
	producer rocketmq.Producer
	topic    string
	log      *log.Helper
}

// logNotifier MQ 未启用时只记录日志
type logNotifier struct {
	log *log.Helper
}

// NewNotifier 创建通知器；未配置 MQ 时降级为日志
func NewNotifier(c *conf.Bootstrap, p rocketmq.Producer, logger log.Logger) biz.Notifier {
	if p == nil || c.Data == nil || c.Data.Rocketmq == nil || c.Data.Rocketmq.NotifyTopic == "" {
		return &logNotifier{log: log.NewHelper(logger)}
	}
	return &mqNotifier{
		producer: p,
		topic:    c.Data.Rocketmq.NotifyTopic,
		log:      log.NewHelper(logger),
	}
}

func (n *mqNotifier) Notify(ctx context.Context, userID, message string) error {
	body, err := json.Marshal(&notifyMessage{
		UserID:    userID,
		Message:   message,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return err
	}
	msg := primitive.NewMessage(n.topic, body)
	msg.WithKeys([]string{userID})
	result, err := n.producer.SendSync(ctx, msg)
	if err != nil {
		return fmt.Errorf("send notify message: %w", err)
	}
	if result.Status != primitive.SendOK {
		return fmt.Errorf("send notify message: status=%d", result.Status)
	}
	n.log.Infof("Notify sent: user_id=%s, msg_id=%s", userID, result.MsgID)
	return nil
}

func (n *logNotifier) Notify(ctx context.Context, userID, message string) error {
	n.log.WithContext(ctx).Infow("event", "user_notify", "user_id", userID, "message", message)
	return nil
}

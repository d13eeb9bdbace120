package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"agentsync/internal/config"
	"agentsync/internal/domain"
)

var ErrClosed = errors.New("delivery channel closed")

// TaskHandler processes one sync task. A nil error acknowledges it.
type TaskHandler func(ctx context.Context, task domain.SyncTask) error

// RabbitMQ carries sync tasks to workers and content events to downstream
// consumers over one durable direct exchange.
type RabbitMQ struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.Mutex

	exchange        string
	taskRoutingKey  string
	taskQueue       string
	eventRoutingKey string
	logger          *slog.Logger
}

func NewRabbitMQ(cfg config.RabbitMQConfig, logger *slog.Logger) (*RabbitMQ, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		cfg.Exchange,
		"direct",
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	bindings := []struct{ queue, key string }{
		{cfg.TaskQueue, cfg.TaskRoutingKey},
		{cfg.EventQueue, cfg.EventRoutingKey},
	}
	for _, b := range bindings {
		if err := declareBound(ch, cfg.Exchange, b.queue, b.key); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}

	logger.Info("connected to rabbitmq",
		"exchange", cfg.Exchange,
		"task_queue", cfg.TaskQueue,
		"event_queue", cfg.EventQueue,
	)

	return &RabbitMQ{
		conn:            conn,
		channel:         ch,
		exchange:        cfg.Exchange,
		taskRoutingKey:  cfg.TaskRoutingKey,
		taskQueue:       cfg.TaskQueue,
		eventRoutingKey: cfg.EventRoutingKey,
		logger:          logger,
	}, nil
}

func declareBound(ch *amqp.Channel, exchange, queue, key string) error {
	q, err := ch.QueueDeclare(
		queue,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}

	if err := ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

// Enqueue publishes a sync task for the worker pool.
func (r *RabbitMQ) Enqueue(ctx context.Context, task domain.SyncTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	if err := r.publish(ctx, r.taskRoutingKey, task.ID, "sync_task", body); err != nil {
		return err
	}

	r.logger.Debug("enqueued sync task",
		"task_id", task.ID,
		"agent_id", task.AgentID,
		"attempt", task.Attempt,
		"not_before", task.NotBefore,
	)
	return nil
}

// Publish announces a created or updated content item.
func (r *RabbitMQ) Publish(ctx context.Context, event *domain.ContentEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.publish(ctx, r.eventRoutingKey, event.ExternalID, string(event.Type), body); err != nil {
		return err
	}

	r.logger.Debug("published content event",
		"external_id", event.ExternalID,
		"type", event.Type,
	)
	return nil
}

func (r *RabbitMQ) publish(ctx context.Context, routingKey, messageID, kind string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.channel.PublishWithContext(
		ctx,
		r.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    messageID,
			Type:         kind,
			Body:         body,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Consume delivers tasks to handler one at a time until ctx is done. A task
// interrupted by shutdown goes back to the queue. Failed or undecodable tasks
// are dropped; the handler owns re-enqueueing.
func (r *RabbitMQ) Consume(ctx context.Context, handler TaskHandler) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, r.taskQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", r.taskQueue, err)
	}

	r.logger.Info("consuming sync tasks", "queue", r.taskQueue)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return ErrClosed
			}
			r.handle(ctx, d, handler)
		}
	}
}

func (r *RabbitMQ) handle(ctx context.Context, d amqp.Delivery, handler TaskHandler) {
	var task domain.SyncTask
	if err := json.Unmarshal(d.Body, &task); err != nil {
		r.logger.Error("discarding malformed task", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}

	if err := handler(ctx, task); err != nil {
		requeue := ctx.Err() != nil
		r.logger.Error("task handler failed", "task_id", task.ID, "requeue", requeue, "error", err)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

func (r *RabbitMQ) Close() error {
	if r.channel != nil {
		r.channel.Close()
	}
	if r.conn != nil {
		return r.conn.Close()
	}
	return nil
}

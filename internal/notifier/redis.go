package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/good-yellow-bee/lognexus/internal/logger"
)

const defaultChannelPrefix = "lognexus:group:"

// RedisConfig holds Redis pub/sub settings for cross-instance fan-out.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	// ChannelPrefix is prepended to the group key to form the channel name.
	ChannelPrefix string `yaml:"channel_prefix"`
}

// redisEnvelope wraps a payload with its origin so instances can skip
// their own messages.
type redisEnvelope struct {
	NodeID  string          `json:"node_id"`
	Group   string          `json:"group"`
	Payload json.RawMessage `json:"payload"`
}

// RedisTransport publishes group messages to Redis so that other server
// instances can relay them to their own subscribers.
type RedisTransport struct {
	client *redis.Client
	nodeID string
	prefix string
}

// NewRedisClient creates a client from cfg.
func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// NewRedisTransport creates a transport publishing as nodeID.
func NewRedisTransport(client *redis.Client, nodeID, prefix string) *RedisTransport {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisTransport{client: client, nodeID: nodeID, prefix: prefix}
}

// Name returns "redis".
func (t *RedisTransport) Name() string {
	return "redis"
}

// BroadcastToGroup publishes payload on the group's channel.
func (t *RedisTransport) BroadcastToGroup(ctx context.Context, group string, payload []byte) error {
	data, err := encodeEnvelope(t.nodeID, group, payload)
	if err != nil {
		return err
	}
	if err := t.client.Publish(ctx, t.prefix+group, data).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", group, err)
	}
	return nil
}

func encodeEnvelope(nodeID, group string, payload []byte) ([]byte, error) {
	data, err := json.Marshal(redisEnvelope{NodeID: nodeID, Group: group, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

func decodeEnvelope(raw string) (*redisEnvelope, error) {
	var env redisEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Group == "" {
		return nil, fmt.Errorf("decode envelope: missing group")
	}
	return &env, nil
}

// RedisRelay forwards messages published by other instances to a local
// transport, normally the Hub.
type RedisRelay struct {
	client *redis.Client
	nodeID string
	prefix string
	local  Transport
	log    *logger.Logger
}

// NewRedisRelay creates a relay delivering into local.
func NewRedisRelay(client *redis.Client, nodeID, prefix string, local Transport) *RedisRelay {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisRelay{
		client: client,
		nodeID: nodeID,
		prefix: prefix,
		local:  local,
		log:    logger.WithPrefix("redis-relay"),
	}
}

// Run subscribes to every group channel and relays until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return fmt.Errorf("subscribe %s*: %w", r.prefix, err)
	}
	defer pubsub.Close()

	r.log.Infof("relaying %s* as node %s", r.prefix, r.nodeID)
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			r.handle(ctx, msg)
		}
	}
}

func (r *RedisRelay) handle(ctx context.Context, msg *redis.Message) {
	env, err := decodeEnvelope(msg.Payload)
	if err != nil {
		r.log.Warnf("drop message on %s: %v", msg.Channel, err)
		return
	}
	// Local subscribers were served directly by the broadcaster.
	if env.NodeID == r.nodeID {
		return
	}
	if group := strings.TrimPrefix(msg.Channel, r.prefix); group != env.Group {
		r.log.Warnf("drop message: channel %s does not match group %s", msg.Channel, env.Group)
		return
	}
	if err := r.local.BroadcastToGroup(ctx, env.Group, env.Payload); err != nil {
		r.log.Warnf("relay to group %s: %v", env.Group, err)
	}
}

package bus

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lockstep-sim/lockstep/sim"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string // Redis server address (host:port)
	Password string // Redis password (optional)
	DB       int    // Redis database number

	// Namespace prefixes every channel so that concurrent runs sharing one
	// server do not see each other's traffic. Usually the run ID.
	Namespace string

	// BufferSize is the per-subscription channel size (default DefaultBufferSize).
	BufferSize int
}

// RedisBus carries events over Redis PUBLISH/SUBSCRIBE, which has exactly
// the delivery guarantees the framework assumes: broadcast to currently
// subscribed clients, nothing retained.
type RedisBus struct {
	client     *redis.Client
	prefix     string
	bufferSize int
	ownsClient bool
}

// DialRedis connects to Redis and verifies the connection. An unreachable
// server is reported as a *sim.ConnectionError.
func DialRedis(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, &sim.ConnectionError{Endpoint: cfg.Addr, Err: err}
	}

	b := NewRedisBus(client, cfg.Namespace, cfg.BufferSize)
	b.ownsClient = true
	return b, nil
}

// NewRedisBus wraps an existing client. The caller keeps ownership of it.
func NewRedisBus(client *redis.Client, namespace string, bufferSize int) *RedisBus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if namespace == "" {
		namespace = "lockstep"
	}
	return &RedisBus{
		client:     client,
		prefix:     namespace + "/",
		bufferSize: bufferSize,
	}
}

func (b *RedisBus) channel(topic string) string { return b.prefix + topic }

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, topic string, data []byte) error {
	return b.client.Publish(ctx, b.channel(topic), data).Err()
}

// Subscribe implements Bus. It waits for the server to confirm every channel
// before returning, so nothing published afterwards can be missed.
func (b *RedisBus) Subscribe(ctx context.Context, topics ...string) (Subscription, error) {
	channels := make([]string, len(topics))
	for i, t := range topics {
		channels[i] = b.channel(t)
	}

	ps := b.client.Subscribe(ctx, channels...)
	var early []*redis.Message
	for confirmed := 0; confirmed < len(channels); {
		msg, err := ps.Receive(ctx)
		if err != nil {
			_ = ps.Close()
			return nil, fmt.Errorf("subscribe %v: %w", topics, err)
		}
		switch m := msg.(type) {
		case *redis.Subscription:
			confirmed++
		case *redis.Message:
			early = append(early, m)
		}
	}

	s := &redisSub{
		ps:     ps,
		prefix: b.prefix,
		out:    make(chan Message, b.bufferSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.forward(early, ps.Channel(redis.WithChannelSize(b.bufferSize)))
	return s, nil
}

// Close releases the client if the bus created it.
func (b *RedisBus) Close() error {
	if b.ownsClient {
		return b.client.Close()
	}
	return nil
}

type redisSub struct {
	ps     *redis.PubSub
	prefix string
	out    chan Message
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
}

func (s *redisSub) Messages() <-chan Message { return s.out }

func (s *redisSub) forward(early []*redis.Message, in <-chan *redis.Message) {
	defer s.wg.Done()
	defer close(s.out)
	for _, m := range early {
		if !s.send(m) {
			return
		}
	}
	for m := range in {
		if !s.send(m) {
			return
		}
	}
}

func (s *redisSub) send(m *redis.Message) bool {
	msg := Message{
		Topic: strings.TrimPrefix(m.Channel, s.prefix),
		Data:  []byte(m.Payload),
	}
	select {
	case s.out <- msg:
		return true
	case <-s.done:
		return false
	}
}

func (s *redisSub) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
		s.wg.Wait()
	})
	return err
}

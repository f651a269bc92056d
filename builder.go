package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"github.com/tracelight/authcore/internal/rate"
	"github.com/tracelight/authcore/internal/secevent"
	"github.com/tracelight/authcore/internal/stores"
	"github.com/tracelight/authcore/ledger"
	"github.com/tracelight/authcore/password"
	"github.com/tracelight/authcore/session"
	"github.com/tracelight/authcore/token"
)

// Builder assembles a [Service]. Configure it once during startup and
// discard it after Build.
type Builder struct {
	config Config

	redis        redis.UniversalClient
	userProvider UserProvider
	mailer       Mailer
	eventSink    EventSink

	built bool
}

// NewBuilder returns a Builder seeded with [DefaultConfig].
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the Redis client every store runs on.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserProvider sets the user-record lookup collaborator.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithMailer sets the email-dispatch collaborator. Without one,
// verification and reset mails are silently skipped; the tokens still
// work when obtained through other channels.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithEventSink sets the security-event destination. Defaults to
// [NoOpSink].
func (b *Builder) WithEventSink(sink EventSink) *Builder {
	b.eventSink = sink
	return b
}

// Build validates the configuration, wires the stores, and starts the
// event dispatcher. A Builder can build at most once.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	cfg := b.config
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cfg.Token.AccessSecret,
		RefreshSecret: cfg.Token.RefreshSecret,
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hashCfg := password.DefaultConfig()
	if cfg.Password.Memory > 0 {
		hashCfg.Memory = cfg.Password.Memory
	}
	if cfg.Password.Time > 0 {
		hashCfg.Time = cfg.Password.Time
	}
	if cfg.Password.Parallelism > 0 {
		hashCfg.Parallelism = cfg.Password.Parallelism
	}
	hasher, err := password.NewHasher(hashCfg)
	if err != nil {
		return nil, err
	}

	sink := b.eventSink
	if sink == nil {
		sink = secevent.NoOpSink{}
	}
	dispatcher := secevent.NewDispatcher(secevent.Config{
		BufferSize: cfg.Events.BufferSize,
		DropIfFull: cfg.Events.DropIfFull,
	}, sink)

	sessions := session.NewStore(b.redis, cfg.Session.Prefix, cfg.Session.TTL)

	svc := &Service{
		config:    cfg,
		redis:     b.redis,
		codec:     codec,
		hasher:    hasher,
		sessions:  sessions,
		limiter:   rate.New(b.redis),
		ephemeral: stores.New(b.redis),
		events:    dispatcher,
		users:     b.userProvider,
		mailer:    b.mailer,
	}
	svc.refresh = ledger.New(b.redis, codec, sessions, svc.onTokenReuse)

	b.built = true
	return svc, nil
}

package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/turtacn/abcflow/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/abcflow/pkg/errors"
)

// DefaultLeaseTTL applies when a run lease is requested without a TTL.
const DefaultLeaseTTL = 30 * time.Second

var ErrLeaseNotHeld = errors.New(errors.ErrCodeLockNotAcquired, "run lease not held by this owner")

// RunLease marks one run as executing so that a redelivered request for the
// same run id is turned away by every other worker.  An acquired lease keeps
// itself alive until Release; a crashed holder's lease expires after its TTL.
type RunLease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Renew(ctx context.Context, ttl time.Duration) (bool, error)
	Remaining(ctx context.Context) (time.Duration, error)
}

// LockFactory issues run leases under <prefix>lock:run:<id>.
type LockFactory struct {
	client *Client
	log    logging.Logger
	prefix string
}

func NewLockFactory(client *Client, log logging.Logger, prefix string) *LockFactory {
	if log == nil {
		log = logging.NewNopLogger()
	}
	if prefix == "" {
		prefix = "abcflow:"
	}
	return &LockFactory{client: client, log: log, prefix: prefix}
}

// ForRun returns an unacquired lease on runID with a random owner token.
func (f *LockFactory) ForRun(runID string, ttl time.Duration) RunLease {
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}
	return &runLease{
		client: f.client,
		key:    f.prefix + "lock:run:" + runID,
		owner:  uuid.NewString(),
		ttl:    ttl,
		log:    f.log.With(logging.String("run_id", runID)),
	}
}

type runLease struct {
	client *Client
	key    string
	owner  string
	ttl    time.Duration
	log    logging.Logger

	stopKeepAlive context.CancelFunc
	keepAliveDone chan struct{}
}

// Both scripts act only while the key still carries this owner's token.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

var renewScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	end
	return 0
`)

// Acquire takes the lease without waiting.  It reports false when another
// owner holds it.
func (l *runLease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to acquire run lease")
	}
	if ok {
		l.startKeepAlive()
	}
	return ok, nil
}

func (l *runLease) Release(ctx context.Context) error {
	l.stopKeepAliveLoop()
	res, err := releaseScript.Run(ctx, l.client.GetUnderlyingClient(), []string{l.key}, l.owner).Int64()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to release run lease")
	}
	if res == 0 {
		return ErrLeaseNotHeld
	}
	return nil
}

func (l *runLease) Renew(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, l.client.GetUnderlyingClient(), []string{l.key}, l.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrCodeCacheError, "failed to renew run lease")
	}
	return res == 1, nil
}

func (l *runLease) Remaining(ctx context.Context) (time.Duration, error) {
	return l.client.PTTL(ctx, l.key).Result()
}

func (l *runLease) startKeepAlive() {
	ctx, cancel := context.WithCancel(context.Background())
	l.stopKeepAlive = cancel
	l.keepAliveDone = make(chan struct{})
	go l.keepAlive(ctx, l.ttl/3)
}

func (l *runLease) stopKeepAliveLoop() {
	if l.stopKeepAlive == nil {
		return
	}
	l.stopKeepAlive()
	<-l.keepAliveDone
	l.stopKeepAlive = nil
}

// keepAlive renews the lease every interval until cancelled or until the
// lease is found under another owner.
func (l *runLease) keepAlive(ctx context.Context, interval time.Duration) {
	defer close(l.keepAliveDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.Renew(ctx, l.ttl)
			if err != nil {
				if ctx.Err() == nil {
					l.log.Error("run lease renewal failed", logging.Err(err))
				}
				return
			}
			if !ok {
				l.log.Warn("run lease lost")
				return
			}
		}
	}
}

//Personal.AI order the ending

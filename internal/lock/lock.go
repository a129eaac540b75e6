package redlock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

const (
	unlockScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	extendScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
)

type Locker struct {
	client redis.UniversalClient
	key    string
	value  string // only the holder of value may unlock or extend
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, timeout time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, timeout).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, unlockScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	result, err := l.client.Eval(ctx, extendScript, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

// WaitLock retries Lock with jitter until waitTimeout passes or ctx is done.
func (l *Locker) WaitLock(ctx context.Context, lockTimeout, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)
	for {
		err := l.Lock(ctx, lockTimeout)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLockHeld) {
			return err
		}
		if !time.Now().Before(deadline) {
			return fmt.Errorf("failed to acquire lock for key %s within the wait timeout", l.key)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(rand.Intn(100)) * time.Millisecond):
		}
	}
}

// Run holds the lock for the duration of fn, extending it every ttl/2. If the
// lock is held elsewhere fn is not called and ErrLockHeld is returned.
func (l *Locker) Run(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) error {
	if err := l.Lock(ctx, ttl); err != nil {
		return err
	}
	return l.hold(ctx, ttl, fn)
}

// WaitRun is Run, but waits up to wait for another holder to let go.
func (l *Locker) WaitRun(ctx context.Context, ttl, wait time.Duration, fn func(ctx context.Context) error) error {
	if err := l.WaitLock(ctx, ttl, wait); err != nil {
		return err
	}
	return l.hold(ctx, ttl, fn)
}

func (l *Locker) hold(ctx context.Context, ttl time.Duration, fn func(ctx context.Context) error) error {
	holdCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 2)
		defer ticker.Stop()
		for {
			select {
			case <-holdCtx.Done():
				return
			case <-ticker.C:
				if err := l.ExtendLock(holdCtx, ttl); err != nil {
					if holdCtx.Err() == nil {
						logrus.WithError(err).WithField("key", l.key).Warn("failed to extend lock")
					}
					return
				}
			}
		}
	}()

	defer func() {
		cancel()
		<-done
		_ = l.Unlock(context.WithoutCancel(ctx))
	}()
	return fn(holdCtx)
}

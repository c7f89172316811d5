package motion

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type holderKey struct{}

// busyLock is a non-blocking reentrant lock. The holder is identified by a
// token carried in the context, so nested calls made with the context
// returned by acquire re-enter instead of failing.
type busyLock struct {
	mu     sync.Mutex
	holder string
	depth  int
}

// acquire returns a context carrying the holder token and a release func.
// top is true when this call took the lock rather than re-entering it.
func (l *busyLock) acquire(ctx context.Context) (_ context.Context, release func(), top bool, err error) {
	token, _ := ctx.Value(holderKey{}).(string)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.depth > 0 {
		if token == "" || token != l.holder {
			return ctx, nil, false, ErrBusy
		}
		l.depth++
		return ctx, l.releaser(), false, nil
	}

	if token == "" {
		token = uuid.NewString()
		ctx = context.WithValue(ctx, holderKey{}, token)
	}
	l.holder = token
	l.depth = 1
	return ctx, l.releaser(), true, nil
}

func (l *busyLock) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			l.depth--
			if l.depth <= 0 {
				l.depth = 0
				l.holder = ""
			}
		})
	}
}

func (l *busyLock) held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.depth > 0
}

// HolderToken returns the busy-lock token carried by ctx, if any.
func HolderToken(ctx context.Context) string {
	token, _ := ctx.Value(holderKey{}).(string)
	return token
}

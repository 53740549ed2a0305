package coord

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gofrs/flock"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

// FileGate implements Gate for workers sharing one host. Each slot is an
// exclusive flock on its own file; the kernel drops it when the holder
// process exits, which stands in for the lease TTL.
type FileGate struct {
	dir          string
	pollInterval time.Duration
}

func NewFileGate(dir string) (*FileGate, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create gate dir: %w", err)
	}
	return &FileGate{dir: dir, pollInterval: defaultPollInterval}, nil
}

func (g *FileGate) Acquire(ctx context.Context, class string, opts GateOptions) (Lease, error) {
	opts = opts.normalized()
	base := filepath.Join(g.dir, fileSafeName(class))

	var held *flock.Flock
	ok, err := retryUntil(ctx, opts.Wait, g.pollInterval, func() (bool, error) {
		for slot := 0; slot < opts.Capacity; slot++ {
			candidate := flock.New(base + "." + strconv.Itoa(slot) + ".slot")
			locked, err := candidate.TryLock()
			if err != nil {
				return false, fmt.Errorf("acquire gate slot %s: %w", class, err)
			}
			if locked {
				held = candidate
				return true, nil
			}
			_ = candidate.Close()
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrGateUnavailable
	}
	return &fileLease{lock: held}, nil
}

// FileLocker implements Locker with one flock file per resource key.
type FileLocker struct {
	dir          string
	pollInterval time.Duration
}

func NewFileLocker(dir string) (*FileLocker, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return &FileLocker{dir: dir, pollInterval: defaultPollInterval}, nil
}

func (l *FileLocker) Acquire(ctx context.Context, key string, opts LockOptions) (Lease, error) {
	opts = opts.normalized()
	lock := flock.New(filepath.Join(l.dir, fileSafeName(key)+".lock"))

	ok, err := retryUntil(ctx, opts.Wait, l.pollInterval, func() (bool, error) {
		locked, err := lock.TryLock()
		if err != nil {
			return false, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		return locked, nil
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, domain.ErrLockUnavailable
	}
	return &fileLease{lock: lock}, nil
}

type fileLease struct {
	lock *flock.Flock
}

func (l *fileLease) Release(context.Context) error {
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release file lock %s: %w", l.lock.Path(), err)
	}
	return nil
}

package crypto

import (
	"context"
	"runtime"

	"golang.org/x/sync/semaphore"
)

// Hasher runs password hashing with a bound on concurrent Argon2 computations,
// so a burst of logins cannot starve the rest of the process.
type Hasher struct {
	sem *semaphore.Weighted
}

// NewHasher returns a Hasher allowing at most n concurrent hashes (NumCPU when n <= 0).
func NewHasher(n int) *Hasher {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return &Hasher{sem: semaphore.NewWeighted(int64(n))}
}

// Hash generates a fresh salt and returns the password hash with it.
func (h *Hasher) Hash(ctx context.Context, password string) (hash, salt []byte, err error) {
	salt, err = RandBytes(SaltLen)
	if err != nil {
		return nil, nil, err
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, err
	}
	defer h.sem.Release(1)
	return HashPassword([]byte(password), salt), salt, nil
}

// Verify compares password with the stored hash. It fails only when ctx is done
// before a hashing slot frees up.
func (h *Hasher) Verify(ctx context.Context, password string, salt, expected []byte) (bool, error) {
	if len(expected) == 0 {
		return false, nil
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)
	return VerifyPassword([]byte(password), salt, expected), nil
}

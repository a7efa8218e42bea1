// Package numbering issues collision-free document numbers such as
// CTR-202610-000042 from a Redis counter per prefix and month.
package numbering

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "numbering"

var prefixPattern = regexp.MustCompile(`^[A-Z]{2,5}$`)

// Sequence hands out monotonically increasing numbers.
type Sequence struct {
	client redis.Cmdable
	now    func() time.Time
}

// NewSequence constructs a Sequence backed by client.
func NewSequence(client redis.Cmdable) *Sequence {
	return &Sequence{client: client, now: time.Now}
}

// Next returns the next number for prefix in the current UTC month.
func (s *Sequence) Next(ctx context.Context, prefix string) (string, error) {
	if !prefixPattern.MatchString(prefix) {
		return "", fmt.Errorf("numbering: invalid prefix %q", prefix)
	}
	at := s.now().UTC()
	n, err := s.client.Incr(ctx, key(prefix, at)).Result()
	if err != nil {
		return "", fmt.Errorf("numbering: incr %s: %w", prefix, err)
	}
	return Format(prefix, at, n), nil
}

// Format renders a document number.
func Format(prefix string, at time.Time, n int64) string {
	return fmt.Sprintf("%s-%s-%06d", prefix, at.Format("200601"), n)
}

func key(prefix string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, prefix, at.Format("200601"))
}

package reorder

import (
	"fmt"
	"strings"

	"github.com/s-anzie/reorder/internal/logger"
)

// DuplicatePolicy decides what a buffer does with a chunk whose index it has
// already seen.
type DuplicatePolicy int

const (
	// DuplicateReject refuses chunks whose index is pending or released.
	DuplicateReject DuplicatePolicy = iota
	// DuplicateReplace overwrites the payload of a pending chunk with the same
	// index and refuses chunks that were already released.
	DuplicateReplace
	// DuplicateAllow performs no check at all. Duplicate indices then push the
	// watermark past chunks that were never released, so this policy is only
	// correct when the framing layer guarantees unique indices.
	DuplicateAllow
)

func (p DuplicatePolicy) String() string {
	switch p {
	case DuplicateReject:
		return "reject"
	case DuplicateReplace:
		return "replace"
	case DuplicateAllow:
		return "allow"
	default:
		return fmt.Sprintf("DuplicatePolicy(%d)", int(p))
	}
}

// ParseDuplicatePolicy maps the configuration names to a policy.
func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return DuplicateReject, nil
	case "replace":
		return DuplicateReplace, nil
	case "allow":
		return DuplicateAllow, nil
	default:
		return DuplicateReject, fmt.Errorf("unknown duplicate policy %q", s)
	}
}

type options struct {
	policy  DuplicatePolicy
	metrics *Metrics
	logger  logger.Logger
}

// Option configures buffers and aggregators.
type Option func(*options)

// WithDuplicatePolicy sets the duplicate handling policy (default DuplicateReject).
func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(o *options) { o.policy = p }
}

// WithMetrics records buffer activity in m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func withLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) *options {
	o := &options{policy: DuplicateReject}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

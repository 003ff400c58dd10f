// Package normalize rescales raw per-channel distance vectors against the
// running history of distances seen during one inference run, so that
// channels built from heterogeneous summary statistics can be combined into a
// single acceptance criterion.
//
// A Normalizer is stateful and must be fed trials in a fixed order.  It is
// not safe for concurrent use; every Infer call creates its own instance.
package normalize

import (
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/turtacn/abcflow/pkg/errors"
)

// Kind names a scaling strategy.
type Kind string

const (
	KindMax    Kind = "max"
	KindZScore Kind = "zscore"
	KindNone   Kind = "none"
)

// Normalizer rescales the latest raw distance vector using statistics of
// the complete history, including the vector itself.
type Normalizer interface {
	// Scale appends raw to the history and returns the rescaled copy of it.
	Scale(raw []float64) ([]float64, error)
	// Len reports how many vectors have been appended.
	Len() int
	// Reset discards the history and the fixed channel count.
	Reset()
}

// New returns a fresh Normalizer for kind.  The empty string selects KindNone.
func New(kind Kind) (Normalizer, error) {
	switch Kind(strings.ToLower(string(kind))) {
	case KindMax:
		return NewMax(), nil
	case KindZScore:
		return NewZScore(), nil
	case KindNone, "":
		return NewIdentity(), nil
	default:
		return nil, errors.Newf(errors.ErrCodeInvalidConfig, "unknown scaling %q (want max, zscore or none)", kind)
	}
}

// MustNew is New for statically known kinds.
func MustNew(kind Kind) Normalizer {
	n, err := New(kind)
	if err != nil {
		panic(err)
	}
	return n
}

// ---------------------------------------------------------------------------
// history
// ---------------------------------------------------------------------------

// history keeps the raw rows plus, per channel, the non-NaN values in
// arrival order.  Rows are never rescaled in place.
type history struct {
	rows    [][]float64
	columns [][]float64
}

func (h *history) push(raw []float64) error {
	if len(raw) == 0 {
		return errors.New(errors.ErrCodeDimensionMismatch, "distance vector must have at least one channel")
	}
	if h.columns == nil {
		h.columns = make([][]float64, len(raw))
	} else if len(raw) != len(h.columns) {
		return errors.Newf(errors.ErrCodeDimensionMismatch,
			"distance vector has %d channels, history has %d", len(raw), len(h.columns))
	}
	row := append([]float64(nil), raw...)
	h.rows = append(h.rows, row)
	for j, v := range row {
		if !math.IsNaN(v) {
			h.columns[j] = append(h.columns[j], v)
		}
	}
	return nil
}

func (h *history) last() []float64 {
	return append([]float64(nil), h.rows[len(h.rows)-1]...)
}

func (h *history) reset() {
	h.rows = nil
	h.columns = nil
}

// ---------------------------------------------------------------------------
// Max scaling
// ---------------------------------------------------------------------------

// MaxNormalizer divides each channel by its historical maximum.  Channels
// whose maximum is not positive are returned unscaled.
type MaxNormalizer struct {
	h history
}

// NewMax returns an empty MaxNormalizer.
func NewMax() *MaxNormalizer { return &MaxNormalizer{} }

// Scale implements Normalizer.
func (n *MaxNormalizer) Scale(raw []float64) ([]float64, error) {
	if err := n.h.push(raw); err != nil {
		return nil, err
	}
	out := n.h.last()
	for j, col := range n.h.columns {
		if len(col) == 0 {
			continue
		}
		if divisor := floats.Max(col); divisor > 0 {
			out[j] /= divisor
		}
	}
	return out, nil
}

// Len implements Normalizer.
func (n *MaxNormalizer) Len() int { return len(n.h.rows) }

// Reset implements Normalizer.
func (n *MaxNormalizer) Reset() { n.h.reset() }

// ---------------------------------------------------------------------------
// Z-score scaling
// ---------------------------------------------------------------------------

// ZScoreNormalizer centres each channel on its historical mean and divides by
// the population standard deviation.  Channels with zero spread are returned
// unscaled and uncentred.
type ZScoreNormalizer struct {
	h history
}

// NewZScore returns an empty ZScoreNormalizer.
func NewZScore() *ZScoreNormalizer { return &ZScoreNormalizer{} }

// Scale implements Normalizer.
func (n *ZScoreNormalizer) Scale(raw []float64) ([]float64, error) {
	if err := n.h.push(raw); err != nil {
		return nil, err
	}
	out := n.h.last()
	for j, col := range n.h.columns {
		if len(col) == 0 {
			continue
		}
		mean, std := stat.PopMeanStdDev(col, nil)
		if std > 0 && !math.IsNaN(std) {
			out[j] = (out[j] - mean) / std
		}
	}
	return out, nil
}

// Len implements Normalizer.
func (n *ZScoreNormalizer) Len() int { return len(n.h.rows) }

// Reset implements Normalizer.
func (n *ZScoreNormalizer) Reset() { n.h.reset() }

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// IdentityNormalizer records history but returns raw distances unchanged, so
// epsilon is expressed in the distance function's own units.
type IdentityNormalizer struct {
	h history
}

// NewIdentity returns an empty IdentityNormalizer.
func NewIdentity() *IdentityNormalizer { return &IdentityNormalizer{} }

// Scale implements Normalizer.
func (n *IdentityNormalizer) Scale(raw []float64) ([]float64, error) {
	if err := n.h.push(raw); err != nil {
		return nil, err
	}
	return n.h.last(), nil
}

// Len implements Normalizer.
func (n *IdentityNormalizer) Len() int { return len(n.h.rows) }

// Reset implements Normalizer.
func (n *IdentityNormalizer) Reset() { n.h.reset() }

//Personal.AI order the ending

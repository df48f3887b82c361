// Package allocation splits an amount of cents across weighted buckets.
package allocation

import (
	"errors"
	"math"
	"math/bits"

	"github.com/shopspring/decimal"
)

// ErrNoBuckets indicates a non-zero total with nowhere to put it.
var ErrNoBuckets = errors.New("allocation: non-zero total requires at least one bucket")

// Bucket is one weighted destination of an allocation.
type Bucket struct {
	Key    string
	Weight int64
}

// Share is the cents assigned to a bucket.
type Share struct {
	Key    string
	Weight int64
	Cents  int64
}

// Allocation lists shares in bucket order.
type Allocation struct {
	Total  int64
	Shares []Share
}

// ByKey returns the shares as a key to cents map.
func (a Allocation) ByKey() map[string]int64 {
	out := make(map[string]int64, len(a.Shares))
	for _, s := range a.Shares {
		out[s.Key] += s.Cents
	}
	return out
}

// Sum adds up all shares.
func (a Allocation) Sum() int64 {
	var sum int64
	for _, s := range a.Shares {
		sum += s.Cents
	}
	return sum
}

// Allocate splits total across buckets proportionally to their weights.
// Every bucket but the last gets round(total*weight/totalWeight), rounding half
// away from zero; the last bucket takes whatever remains so the shares always
// add up to total. Buckets are kept even when their share is zero.
func Allocate(total int64, buckets []Bucket) (Allocation, error) {
	if len(buckets) == 0 {
		if total != 0 {
			return Allocation{}, ErrNoBuckets
		}
		return Allocation{Total: 0}, nil
	}

	var totalWeight int64
	for _, b := range buckets {
		if b.Weight > 0 {
			totalWeight += b.Weight
		}
	}

	shares := make([]Share, len(buckets))
	last := len(buckets) - 1
	var assigned int64
	for i, b := range buckets {
		shares[i] = Share{Key: b.Key, Weight: b.Weight}
		if i == last {
			shares[i].Cents = total - assigned
			break
		}
		if totalWeight == 0 || b.Weight <= 0 {
			continue
		}
		cents := scaledShare(total, b.Weight, totalWeight)
		shares[i].Cents = cents
		assigned += cents
	}
	return Allocation{Total: total, Shares: shares}, nil
}

// scaledShare returns round(total*weight/totalWeight). Products that do not
// fit in int64 are computed exactly with decimals.
func scaledShare(total, weight, totalWeight int64) int64 {
	mag := uint64(total)
	if total < 0 {
		mag = uint64(-total)
	}
	if hi, lo := bits.Mul64(mag, uint64(weight)); hi == 0 && lo <= math.MaxInt64 {
		return roundDiv(total*weight, totalWeight)
	}
	n := decimal.NewFromInt(total).Mul(decimal.NewFromInt(weight))
	d := decimal.NewFromInt(totalWeight)
	q, r := n.QuoRem(d, 0)
	if r.Abs().Mul(decimal.NewFromInt(2)).Cmp(d) >= 0 {
		if n.Sign() < 0 {
			q = q.Sub(decimal.NewFromInt(1))
		} else {
			q = q.Add(decimal.NewFromInt(1))
		}
	}
	return q.IntPart()
}

// roundDiv divides n by a positive d, rounding half away from zero.
func roundDiv(n, d int64) int64 {
	q, r := n/d, n%d
	if r < 0 {
		r = -r
	}
	if 2*r >= d {
		if n < 0 {
			q--
		} else {
			q++
		}
	}
	return q
}

// Format renders cents as a fixed two-decimal amount string.
func Format(cents int64) string {
	return Amount(cents).StringFixed(2)
}

// Amount converts cents to a decimal amount.
func Amount(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

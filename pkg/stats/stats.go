package stats

import (
	"math/big"

	"golang.org/x/exp/constraints"
)

// Stats accumulates count, extremes and exact sums of a sample set. Mean and standard
// deviation are computed on big integers so that nanosecond durations cannot overflow.
type Stats[T constraints.Signed] struct {
	sum  big.Int
	sum2 big.Int
	t1   big.Int
	t2   big.Int
	t3   big.Int
	n    int
	min  T
	max  T
}

func New[T constraints.Signed]() *Stats[T] {
	return &Stats[T]{}
}

func (s *Stats[T]) SampleIn(x T) {
	if s.n == 0 || x < s.min {
		s.min = x
	}
	if s.n == 0 || x > s.max {
		s.max = x
	}
	s.n++

	t := s.t1.SetInt64(int64(x))
	s.sum.Add(&s.sum, t)
	s.sum2.Add(&s.sum2, t.Mul(t, t))
}

func (s *Stats[T]) Reset() {
	s.sum.SetInt64(0)
	s.sum2.SetInt64(0)
	s.n = 0
	s.min = 0
	s.max = 0
}

func (s *Stats[T]) SampleCount() int {
	return s.n
}

func (s *Stats[T]) Min() T {
	return s.min
}

func (s *Stats[T]) Max() T {
	return s.max
}

func (s *Stats[T]) Mean() T {
	if s.n < 1 {
		return 0
	}
	return T(s.t2.Quo(&s.sum, s.t1.SetInt64(int64(s.n))).Int64())
}

// StdDev is the population standard deviation, zero with fewer than two samples.
func (s *Stats[T]) StdDev() T {
	n := int64(s.n)
	if n < 2 {
		return 0
	}
	// Sqrt((n*sum2 - sum*sum) / (n*n))
	t1 := &s.t1
	t2 := &s.t2
	t3 := &s.t3

	t1.SetInt64(n)                                      // t1 = n
	t2.Sub(t2.Mul(t1, &s.sum2), t3.Mul(&s.sum, &s.sum)) // t2 = n*sum2 - (sum*sum)
	t3.Mul(t1, t1)                                      // t3 = n*n

	return T(t2.Div(t2, t3).Sqrt(t2).Int64())
}

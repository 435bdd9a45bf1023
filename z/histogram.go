package z

import (
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
)

// Creates bounds for an histogram. The bounds are powers of two of the form
// [2^min_exponent, ..., 2^max_exponent].
func HistogramBounds(minExponent, maxExponent uint32) []float64 {
	var bounds []float64
	for i := minExponent; i <= maxExponent; i++ {
		bounds = append(bounds, float64(int(1)<<i))
	}
	return bounds
}

// HistogramData stores the information needed to represent the sizes of
// allocation requests as a histogram. It is not safe for concurrent use.
type HistogramData struct {
	Bounds         []float64
	Count          int64
	CountPerBucket []int64
	Min            int64
	Max            int64
	Sum            int64
}

// NewHistogramData returns a new instance of HistogramData with properly initialized fields.
func NewHistogramData(bounds []float64) *HistogramData {
	return &HistogramData{
		Bounds:         bounds,
		CountPerBucket: make([]int64, len(bounds)+1),
		Max:            0,
		Min:            math.MaxInt64,
	}
}

// Copy returns a deep copy of the histogram.
func (histogram *HistogramData) Copy() *HistogramData {
	if histogram == nil {
		return nil
	}
	return &HistogramData{
		Bounds:         append([]float64{}, histogram.Bounds...),
		CountPerBucket: append([]int64{}, histogram.CountPerBucket...),
		Count:          histogram.Count,
		Min:            histogram.Min,
		Max:            histogram.Max,
		Sum:            histogram.Sum,
	}
}

// Update records value in its bucket and adjusts Min, Max and Sum.
func (histogram *HistogramData) Update(value int64) {
	if value > histogram.Max {
		histogram.Max = value
	}
	if value < histogram.Min {
		histogram.Min = value
	}

	histogram.Sum += value
	histogram.Count++

	for index := 0; index <= len(histogram.Bounds); index++ {
		// Allocate value in the last buckets if we reached the end of the Bounds array.
		if index == len(histogram.Bounds) {
			histogram.CountPerBucket[index]++
			break
		}

		if value < int64(histogram.Bounds[index]) {
			histogram.CountPerBucket[index]++
			break
		}
	}
}

// Mean returns the average of all recorded values.
func (histogram *HistogramData) Mean() float64 {
	if histogram == nil || histogram.Count == 0 {
		return 0
	}
	return float64(histogram.Sum) / float64(histogram.Count)
}

// Percentile returns the upper bound of the bucket holding the p-th
// percentile, with p in [0.0, 1.0]. Values past the last bound report the
// last bound.
func (histogram *HistogramData) Percentile(p float64) float64 {
	if histogram == nil || histogram.Count == 0 || len(histogram.Bounds) == 0 {
		return 0
	}
	threshold := float64(histogram.Count) * p
	var seen float64
	for index, count := range histogram.CountPerBucket {
		seen += float64(count)
		if count > 0 && seen >= threshold {
			if index >= len(histogram.Bounds) {
				return histogram.Bounds[len(histogram.Bounds)-1]
			}
			return histogram.Bounds[index]
		}
	}
	return histogram.Bounds[len(histogram.Bounds)-1]
}

// String renders the non-empty buckets as byte ranges.
func (histogram *HistogramData) String() string {
	if histogram == nil || histogram.Count == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Min: %s Max: %s Mean: %s Count: %d\n",
		humanize.IBytes(uint64(histogram.Min)), humanize.IBytes(uint64(histogram.Max)),
		humanize.IBytes(uint64(histogram.Mean())), histogram.Count)
	fmt.Fprintf(&b, "%24s %9s\n", "Range", "Count")

	numBounds := len(histogram.Bounds)
	for index, count := range histogram.CountPerBucket {
		if count == 0 {
			continue
		}

		// The last bucket represents the bucket that contains the range from
		// the last bound up to infinity so it's processed differently than the
		// other buckets.
		if index == len(histogram.CountPerBucket)-1 {
			lowerBound := uint64(histogram.Bounds[numBounds-1])
			fmt.Fprintf(&b, "[%10s, %10s) %9d\n", humanize.IBytes(lowerBound), "infinity", count)
			continue
		}

		upperBound := uint64(histogram.Bounds[index])
		var lowerBound uint64
		if index > 0 {
			lowerBound = uint64(histogram.Bounds[index-1])
		}
		fmt.Fprintf(&b, "[%10s, %10s) %9d\n",
			humanize.IBytes(lowerBound), humanize.IBytes(upperBound), count)
	}
	return b.String()
}

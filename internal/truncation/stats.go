package truncation

import (
	"sort"

	"github.com/lucasnoah/ampliflow/internal/quality"
)

// DefaultSkewThreshold is the mean/median gap above which the median is used.
const DefaultSkewThreshold = 10

// Record is the cutoff derived for one sample and read direction.
type Record struct {
	SampleID  string            `json:"sample_id"`
	Direction quality.Direction `json:"direction"`
	Cutoff    Cutoff            `json:"cutoff"`
	Source    string            `json:"source,omitempty"`
}

// Method names the central estimate chosen as the truncation parameter.
type Method string

const (
	MethodMean   Method = "mean"
	MethodMedian Method = "median"
)

// Bin counts how many samples share one cutoff length.
type Bin struct {
	Length int `json:"length"`
	Count  int `json:"count"`
}

// Stats summarises the cutoffs of one read direction.
type Stats struct {
	Direction quality.Direction `json:"direction"`
	// Total is every record observed for the direction.
	Total int `json:"total"`
	// Count is the records with an available cutoff; only these feed the
	// numeric fields.
	Count       int    `json:"count"`
	Unavailable int    `json:"unavailable"`
	Mean        int    `json:"mean"`
	Median      int    `json:"median"`
	Chosen      int    `json:"chosen"`
	Method      Method `json:"method"`
	Bins        []Bin  `json:"bins"`
}

// Aggregate computes the statistics for the records of direction dir.
// Mean and the even-count median round half up, so 107.5 becomes 108
// and 80.5 becomes 81. The median is chosen when it
// differs from the mean by more than skew. With no available cutoffs every
// numeric field, including Chosen, is 0.
func Aggregate(dir quality.Direction, records []Record, skew int) Stats {
	st := Stats{Direction: dir, Method: MethodMean, Bins: []Bin{}}

	var cutoffs []int
	for _, r := range records {
		if r.Direction != dir {
			continue
		}
		st.Total++
		if !r.Cutoff.Available {
			st.Unavailable++
			continue
		}
		cutoffs = append(cutoffs, r.Cutoff.Length)
	}
	st.Count = len(cutoffs)
	if st.Count == 0 {
		return st
	}

	sort.Ints(cutoffs)
	sum := 0
	for _, c := range cutoffs {
		sum += c
	}
	n := st.Count
	st.Mean = roundHalfUp(sum, n)
	if n%2 == 1 {
		st.Median = cutoffs[n/2]
	} else {
		st.Median = roundHalfUp(cutoffs[n/2-1]+cutoffs[n/2], 2)
	}

	st.Chosen = st.Mean
	if abs(st.Median-st.Mean) > skew {
		st.Method = MethodMedian
		st.Chosen = st.Median
	}

	for _, c := range cutoffs {
		if len(st.Bins) > 0 && st.Bins[len(st.Bins)-1].Length == c {
			st.Bins[len(st.Bins)-1].Count++
			continue
		}
		st.Bins = append(st.Bins, Bin{Length: c, Count: 1})
	}
	return st
}

// roundHalfUp returns num/den rounded to the nearest integer, ties up.
// num and den must be positive.
func roundHalfUp(num, den int) int {
	q := num / den
	if 2*(num%den) >= den {
		q++
	}
	return q
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

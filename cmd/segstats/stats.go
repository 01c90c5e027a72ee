package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"

	"github.com/Noofbiz/segflow/datasets"
	"github.com/Noofbiz/segflow/palette"
)

// classStats accumulates per-class pixel counts over one-hot label batches.
type classStats struct {
	pal       palette.Palette
	counts    []int64
	unlabeled int64 // pixels matching no palette colour
}

func newClassStats(pal palette.Palette) *classStats {
	return &classStats{pal: pal, counts: make([]int64, pal.Len())}
}

// Add counts the pixels of a label batch. Grid and flat layouts share the same
// memory order, so only the class axis (last) matters.
func (s *classStats) Add(labels datasets.FlatArray) {
	nClasses := labels.Shape[len(labels.Shape)-1]
	for off := 0; off+nClasses <= len(labels.Data); off += nClasses {
		row := labels.Data[off : off+nClasses]
		found := false
		for c, v := range row {
			if v > 0.5 {
				s.counts[c]++
				found = true
				break
			}
		}
		if !found {
			s.unlabeled++
		}
	}
}

func (s *classStats) Total() int64 {
	total := s.unlabeled
	for _, c := range s.counts {
		total += c
	}
	return total
}

// Frequencies returns the fraction of pixels of each class.
func (s *classStats) Frequencies() []float64 {
	freq := make([]float64, len(s.counts))
	total := s.Total()
	if total == 0 {
		return freq
	}
	for i, c := range s.counts {
		freq[i] = float64(c) / float64(total)
	}
	return freq
}

func (s *classStats) Print(w io.Writer) {
	total := s.Total()
	freq := s.Frequencies()
	for i, l := range s.pal {
		fmt.Fprintf(w, "%-16s %14s  %6.2f%%\n", l.Name, humanize.Comma(s.counts[i]), 100*freq[i])
	}
	var unl float64
	if total > 0 {
		unl = float64(s.unlabeled) / float64(total)
	}
	fmt.Fprintf(w, "%-16s %14s  %6.2f%%\n", "(unlabeled)", humanize.Comma(s.unlabeled), 100*unl)
}

package models

import "sort"

// NormalizeSeries returns points sorted ascending by date with one point per
// date. When a date repeats, the later occurrence in the input wins.
func NormalizeSeries(points []PricePoint) []PricePoint {
	if len(points) == 0 {
		return []PricePoint{}
	}
	byDate := make(map[Date]int, len(points))
	out := make([]PricePoint, 0, len(points))
	for _, p := range points {
		if i, ok := byDate[p.Date]; ok {
			out[i] = p
			continue
		}
		byDate[p.Date] = len(out)
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// MergeSeries unions existing and incoming by date. Incoming values win on
// collisions. The result is ascending and duplicate free, and merging the same
// incoming points twice yields the same series.
func MergeSeries(existing, incoming []PricePoint) []PricePoint {
	all := make([]PricePoint, 0, len(existing)+len(incoming))
	all = append(all, existing...)
	all = append(all, incoming...)
	return NormalizeSeries(all)
}

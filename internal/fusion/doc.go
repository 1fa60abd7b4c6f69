// Package fusion combines recent signal events into a single threat score.
//
// Each source kind keeps a sliding window of normalized sub-scores. The score
// is the weighted sum of the per-source maxima; once a source's window is
// empty its last sub-score decays exponentially, so absence of data lowers
// the score instead of freezing it.
package fusion

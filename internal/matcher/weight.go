package matcher

import (
	"fmt"
	"math"
)

// Stats are the federation-wide statistics a Weighting sees for one term
// (or synonym group) of the query.
type Stats struct {
	DocCount    uint32
	AvgLength   float64
	TermFreq    uint32
	CollFreq    uint64
	WQF         uint32
	QueryLength uint32
}

// TermScorer scores one query leaf.
type TermScorer interface {
	Score(wdf, docLength uint32) float64
	// MaxScore is an upper bound on every value Score can return.
	MaxScore() float64
}

// Weighting builds scorers from collection statistics.
type Weighting interface {
	Scorer(st Stats) TermScorer
	Description() string
}

const (
	defaultK1 = 1.2
	defaultB  = 0.75
	// k3 damps repeated query terms.
	defaultK3 = 1.0
)

// BM25Weight is the Okapi BM25 scheme. The zero value uses k1=1.2, b=0.75.
type BM25Weight struct {
	K1 float64
	B  float64
}

func (w BM25Weight) params() (k1, b float64) {
	k1, b = w.K1, w.B
	if k1 == 0 && b == 0 {
		return defaultK1, defaultB
	}
	return k1, b
}

func (w BM25Weight) Description() string {
	k1, b := w.params()
	return fmt.Sprintf("BM25Weight(k1=%g, b=%g)", k1, b)
}

func (w BM25Weight) Scorer(st Stats) TermScorer {
	k1, b := w.params()
	wqf := float64(max(st.WQF, 1))
	return &bm25Scorer{
		k1:     k1,
		b:      b,
		avgLen: st.AvgLength,
		idf:    computeIDF(st.DocCount, st.TermFreq),
		qf:     (defaultK3 + 1) * wqf / (defaultK3 + wqf),
	}
}

type bm25Scorer struct {
	k1, b  float64
	avgLen float64
	idf    float64
	qf     float64
}

func (s *bm25Scorer) Score(wdf, docLength uint32) float64 {
	if wdf == 0 {
		return 0
	}
	return s.idf * s.qf * computeTFNorm(float64(wdf), float64(docLength), s.avgLen, s.k1, s.b)
}

// MaxScore uses the limit of the tf component as wdf grows, which is k1+1.
func (s *bm25Scorer) MaxScore() float64 {
	if s.avgLen == 0 {
		return 0
	}
	return s.idf * s.qf * (s.k1 + 1)
}

func computeIDF(totalDocs, docFreq uint32) float64 {
	if totalDocs == 0 || docFreq == 0 {
		return 0
	}
	numerator := float64(totalDocs) - float64(docFreq)
	denominator := float64(docFreq) + 0.5
	return math.Log(numerator/denominator + 1)
}

func computeTFNorm(termFreq, docLength, avgDocLength, k1, b float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	denominator := termFreq + k1*(1-b+b*lengthRatio)
	return (termFreq * (k1 + 1)) / denominator
}

// BoolWeight gives every document weight zero, so results come back in
// docid order (or sort-key order).
type BoolWeight struct{}

func (BoolWeight) Description() string     { return "BoolWeight()" }
func (BoolWeight) Scorer(Stats) TermScorer { return zeroScorer{} }

type zeroScorer struct{}

func (zeroScorer) Score(uint32, uint32) float64 { return 0 }
func (zeroScorer) MaxScore() float64            { return 0 }

// Package anomaly scores transaction amounts for statistical outliers using
// a one-dimensional isolation forest.
//
// Scores are supplementary evidence only: a high anomaly score never creates
// a finding by itself, it strengthens findings produced by the duplicate,
// similarity, and rule detectors. The forest is seeded from a hash of the
// batch's amounts, so rescreening an identical batch yields identical scores.
package anomaly

import (
	"hash/fnv"
	"math"
	"math/rand"
	"sort"

	"go.uber.org/zap"

	"github.com/RWUBAKWANAYO/FraudLens-AI-sub002/internal/record"
)

const (
	// defaultMinBatchSize is the smallest number of records with known
	// amounts worth fitting a forest to. Below this the scorer abstains.
	defaultMinBatchSize = 25

	numTrees   = 100
	sampleSize = 64
)

// Config tunes the scorer.
type Config struct {
	// MinBatchSize is the minimum count of records with known amounts
	// required before scoring. Zero selects the default of 25.
	MinBatchSize int
}

// Scorer fits an isolation forest over the amounts of a batch and reports a
// score in [0, 1] per record, higher meaning more isolated.
type Scorer struct {
	minBatch int
	logger   *zap.Logger
}

// NewScorer creates a scorer.
func NewScorer(cfg Config, logger *zap.Logger) *Scorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	minBatch := cfg.MinBatchSize
	if minBatch <= 0 {
		minBatch = defaultMinBatchSize
	}
	return &Scorer{minBatch: minBatch, logger: logger.Named("anomaly")}
}

// Score returns anomaly scores keyed by record ID. Records without a known
// amount are omitted. When fewer records than the minimum batch size carry
// amounts, Score returns nil and the batch is not scored at all.
func (s *Scorer) Score(records []*record.Record) map[string]float64 {
	type sample struct {
		id     string
		amount float64
	}
	samples := make([]sample, 0, len(records))
	for _, r := range records {
		if r.MinorUnits == nil {
			continue
		}
		samples = append(samples, sample{id: r.ID, amount: float64(*r.MinorUnits)})
	}
	if len(samples) < s.minBatch {
		s.logger.Debug("batch below minimum size for anomaly scoring",
			zap.Int("usable", len(samples)),
			zap.Int("min", s.minBatch))
		return nil
	}

	amounts := make([]float64, len(samples))
	for i, sm := range samples {
		amounts[i] = sm.amount
	}

	forest := fitForest(amounts, batchSeed(amounts))
	out := make(map[string]float64, len(samples))
	for _, sm := range samples {
		out[sm.id] = forest.score(sm.amount)
	}
	return out
}

// batchSeed derives a deterministic seed from the multiset of amounts so
// score output is stable across reruns regardless of input order.
func batchSeed(amounts []float64) int64 {
	sorted := make([]float64, len(amounts))
	copy(sorted, amounts)
	sort.Float64s(sorted)

	h := fnv.New64a()
	var buf [8]byte
	for _, v := range sorted {
		bits := math.Float64bits(v)
		for i := 0; i < 8; i++ {
			buf[i] = byte(bits >> (8 * i))
		}
		h.Write(buf[:])
	}
	return int64(h.Sum64())
}

// isoTree is one isolation tree over scalar values. Nodes are stored in a
// slice; leaves carry the size of the partition that reached them.
type isoTree struct {
	nodes []isoNode
}

type isoNode struct {
	split       float64
	left, right int // child indexes, -1 on leaves
	size        int // leaf only, remaining partition size
}

type forest struct {
	trees []isoTree
	cNorm float64 // average path length normalizer c(sampleSize)
}

// fitForest builds the forest from its own deterministic RNG stream.
func fitForest(amounts []float64, seed int64) *forest {
	rng := rand.New(rand.NewSource(seed))
	n := sampleSize
	if n > len(amounts) {
		n = len(amounts)
	}
	maxDepth := int(math.Ceil(math.Log2(float64(n)))) + 1

	f := &forest{trees: make([]isoTree, numTrees), cNorm: avgPathLength(n)}
	for i := range f.trees {
		sub := subsample(amounts, n, rng)
		f.trees[i] = buildTree(sub, maxDepth, rng)
	}
	return f
}

func subsample(amounts []float64, n int, rng *rand.Rand) []float64 {
	if n >= len(amounts) {
		out := make([]float64, len(amounts))
		copy(out, amounts)
		return out
	}
	idx := rng.Perm(len(amounts))[:n]
	out := make([]float64, n)
	for i, j := range idx {
		out[i] = amounts[j]
	}
	return out
}

func buildTree(values []float64, maxDepth int, rng *rand.Rand) isoTree {
	t := isoTree{}
	t.grow(values, 0, maxDepth, rng)
	return t
}

// grow appends the subtree for values and returns its node index.
func (t *isoTree) grow(values []float64, depth, maxDepth int, rng *rand.Rand) int {
	lo, hi := minMax(values)
	if len(values) <= 1 || depth >= maxDepth || lo == hi {
		t.nodes = append(t.nodes, isoNode{left: -1, right: -1, size: len(values)})
		return len(t.nodes) - 1
	}

	split := lo + rng.Float64()*(hi-lo)
	var left, right []float64
	for _, v := range values {
		if v < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		t.nodes = append(t.nodes, isoNode{left: -1, right: -1, size: len(values)})
		return len(t.nodes) - 1
	}

	idx := len(t.nodes)
	t.nodes = append(t.nodes, isoNode{split: split})
	l := t.grow(left, depth+1, maxDepth, rng)
	r := t.grow(right, depth+1, maxDepth, rng)
	t.nodes[idx].left = l
	t.nodes[idx].right = r
	return idx
}

// pathLength walks x down the tree and returns the isolation depth, adjusted
// by the expected depth of the unresolved leaf partition.
func (t *isoTree) pathLength(x float64) float64 {
	depth := 0.0
	i := 0
	for {
		node := t.nodes[i]
		if node.left < 0 {
			return depth + avgPathLength(node.size)
		}
		if x < node.split {
			i = node.left
		} else {
			i = node.right
		}
		depth++
	}
}

// score maps the mean path length to the standard isolation forest anomaly
// score 2^(-E[h(x)] / c(n)), which lands in (0, 1].
func (f *forest) score(x float64) float64 {
	sum := 0.0
	for i := range f.trees {
		sum += f.trees[i].pathLength(x)
	}
	mean := sum / float64(len(f.trees))
	if f.cNorm == 0 {
		return 0.5
	}
	return math.Pow(2, -mean/f.cNorm)
}

// avgPathLength is c(n), the average path length of an unsuccessful BST
// search over n values.
func avgPathLength(n int) float64 {
	if n <= 1 {
		return 0
	}
	fn := float64(n)
	return 2*(math.Log(fn-1)+0.5772156649) - 2*(fn-1)/fn
}

func minMax(values []float64) (float64, float64) {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

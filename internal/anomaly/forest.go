package anomaly

import (
	"math"
	"math/rand"

	"github.com/sourcegraph/conc/iter"
)

const eulerGamma = 0.5772156649015329

// node is either an internal split or a leaf holding size training points.
type node struct {
	feature     int
	split       float64
	left, right *node
	size        int
}

func (n *node) isLeaf() bool {
	return n.left == nil
}

// forest is a fitted isolation forest.
type forest struct {
	trees      []*node
	sampleSize int
}

// fit builds trees concurrently. Tree i draws its sample and splits from its
// own generator seeded with seed+i, so the result does not depend on
// scheduling.
func fit(data []Vector, trees, sampleSize int, seed int64) *forest {
	psi := min(sampleSize, len(data))
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	seeds := make([]int64, trees)
	for i := range seeds {
		seeds[i] = seed + int64(i)
	}

	built := iter.Map(seeds, func(s *int64) *node {
		rng := rand.New(rand.NewSource(*s))
		perm := rng.Perm(len(data))[:psi]
		sample := make([]Vector, psi)
		for i, idx := range perm {
			sample[i] = data[idx]
		}
		return grow(rng, sample, 0, limit)
	})

	return &forest{trees: built, sampleSize: psi}
}

func grow(rng *rand.Rand, sample []Vector, depth, limit int) *node {
	if depth >= limit || len(sample) <= 1 {
		return &node{size: len(sample)}
	}

	var lo, hi Vector
	var splittable []int
	for f := 0; f < featureCount; f++ {
		lo[f], hi[f] = sample[0][f], sample[0][f]
		for _, v := range sample[1:] {
			lo[f] = math.Min(lo[f], v[f])
			hi[f] = math.Max(hi[f], v[f])
		}
		if hi[f] > lo[f] {
			splittable = append(splittable, f)
		}
	}
	if len(splittable) == 0 {
		return &node{size: len(sample)}
	}

	f := splittable[rng.Intn(len(splittable))]
	split := lo[f] + rng.Float64()*(hi[f]-lo[f])

	var left, right []Vector
	for _, v := range sample {
		if v[f] < split {
			left = append(left, v)
		} else {
			right = append(right, v)
		}
	}

	return &node{
		feature: f,
		split:   split,
		left:    grow(rng, left, depth+1, limit),
		right:   grow(rng, right, depth+1, limit),
	}
}

func pathLength(n *node, v Vector, depth int) float64 {
	for !n.isLeaf() {
		if v[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean path length of an unsuccessful search
// in a binary search tree of n points.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	m := float64(n - 1)
	return 2*(math.Log(m)+eulerGamma) - 2*m/float64(n)
}

// score returns 2^(-E[h(v)]/c(psi)) in [0,1].
func (f *forest) score(v Vector) float64 {
	c := averagePathLength(f.sampleSize)
	if c == 0 {
		return 0
	}
	var total float64
	for _, t := range f.trees {
		total += pathLength(t, v, 0)
	}
	s := math.Pow(2, -(total/float64(len(f.trees)))/c)
	return math.Max(0, math.Min(1, s))
}

package trainer

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Batch is a set of samples with integer class labels.
type Batch struct {
	Features *mat.Dense
	Labels   []int
}

// Len returns the number of samples.
func (b Batch) Len() int {
	return len(b.Labels)
}

// Generate draws n samples of dim features across classes. Features of class
// k are Gaussian around 3 with unit deviation, scaled by k+1, so classes are
// statistically separable.
func Generate(rng *rand.Rand, n, dim, classes int) Batch {
	features := mat.NewDense(n, dim, nil)
	labels := make([]int, n)
	for i := 0; i < n; i++ {
		label := rng.Intn(classes)
		labels[i] = label
		for j := 0; j < dim; j++ {
			features.Set(i, j, (3+rng.NormFloat64())*float64(label+1))
		}
	}
	return Batch{Features: features, Labels: labels}
}

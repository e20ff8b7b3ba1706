package trainer

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogReg is a multinomial logistic regression: logits = W x + b.
type LogReg struct {
	W *mat.Dense
	B *mat.VecDense
}

// NewLogReg returns a model with weights at 1 and bias at 0.
func NewLogReg(dim, classes int) *LogReg {
	w := make([]float64, classes*dim)
	for i := range w {
		w[i] = 1
	}
	return &LogReg{
		W: mat.NewDense(classes, dim, w),
		B: mat.NewVecDense(classes, nil),
	}
}

// Probabilities returns the row-wise softmax of the logits for x.
func (m *LogReg) Probabilities(x *mat.Dense) *mat.Dense {
	n, _ := x.Dims()
	classes, _ := m.W.Dims()
	var logits mat.Dense
	logits.Mul(x, m.W.T())
	probs := mat.NewDense(n, classes, nil)
	for i := 0; i < n; i++ {
		row := logits.RawRowView(i)
		for k := range row {
			row[k] += m.B.AtVec(k)
		}
		out := probs.RawRowView(i)
		softmax(out, row)
	}
	return probs
}

// Predict returns the most probable class of every row of x.
func (m *LogReg) Predict(x *mat.Dense) []int {
	probs := m.Probabilities(x)
	n, _ := probs.Dims()
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = floats.MaxIdx(probs.RawRowView(i))
	}
	return out
}

// Step runs one SGD update on b with a per-sample learning rate and returns
// the summed cross-entropy loss and the number of misclassified samples,
// both measured before the update.
func (m *LogReg) Step(b Batch, lr float64) (lossSum, errSum float64) {
	probs := m.Probabilities(b.Features)
	n, classes := probs.Dims()
	grad := mat.NewDense(n, classes, nil)
	for i := 0; i < n; i++ {
		p := probs.RawRowView(i)
		label := b.Labels[i]
		lossSum -= math.Log(math.Max(p[label], 1e-12))
		if floats.MaxIdx(p) != label {
			errSum++
		}
		g := grad.RawRowView(i)
		copy(g, p)
		g[label]--
	}

	var dW mat.Dense
	dW.Mul(grad.T(), b.Features)
	m.W.Add(m.W, scaled(&dW, -lr))

	for k := 0; k < classes; k++ {
		m.B.SetVec(k, m.B.AtVec(k)-lr*floats.Sum(mat.Col(nil, k, grad)))
	}
	return lossSum, errSum
}

func scaled(a *mat.Dense, f float64) *mat.Dense {
	var out mat.Dense
	out.Scale(f, a)
	return &out
}

func softmax(dst, logits []float64) {
	maxLogit := floats.Max(logits)
	var sum float64
	for k, v := range logits {
		e := math.Exp(v - maxLogit)
		dst[k] = e
		sum += e
	}
	floats.Scale(1/sum, dst)
}

// Package simple holds a small pure-Go probe classifier: an MLP trained on
// pooled image features to predict the four study classes. It is a quick
// sanity check that the data pipeline yields learnable signal before
// spending accelerator time on a real model.
package simple

import (
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Noofbiz/chestxray/studies"
)

// Config holds configurable hyperparameters for the MLP model and training.
type Config struct {
	// HiddenSizes is the list of hidden layer sizes. Example: []int{64, 32}
	// If empty, a single hidden layer of size 32 will be used.
	HiddenSizes []int

	// InputDim is the dimensionality of the input feature vector. Required.
	InputDim int

	// OutputDim is the number of classes. Defaults to studies.NumClasses.
	OutputDim int

	// LearningRate used by SGD.
	LearningRate float64

	// Epochs to train for (default if 0 will be set by NewModel to 10).
	Epochs int

	// BatchSize for mini-batch updates (default if 0 will be set by NewModel to 8).
	BatchSize int

	// Seed controls RNG for weight init and shuffling. If zero, time-based seed is used.
	Seed int64

	// ClipNorm caps the L2 norm of each layer's averaged gradient. Zero
	// disables clipping.
	ClipNorm float32

	// Logger receives the loss of every epoch. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Dataset is the minimal interface the trainer requires: feature vectors of
// InputDim values and label vectors of OutputDim values in [0, 1].
type Dataset interface {
	Len() int
	Batch(indices []int) ([][]float32, [][]float32, error)
}

// Model is a small configurable MLP with a sigmoid output per class, trained
// with binary cross-entropy. Labels may be soft (e.g. smoothed).
type Model struct {
	// Config used for training / initialization.
	Config Config

	// layerSizes includes input size, hidden sizes, then output size.
	layerSizes []int

	// weights[l] is a matrix of shape [out][in] for layer l -> l+1
	weights [][][]float32

	// biases[l] is a vector of length out for layer l -> l+1
	biases [][]float32

	// rng used for weight initialization and shuffling
	rng *rand.Rand
}

// NewModel creates a new Model instance with the provided configuration.
// It initializes weights (small random values) and is ready to train.
func NewModel(cfg Config) (*Model, error) {
	if cfg.InputDim <= 0 {
		return nil, errors.Errorf("input dimension must be > 0, got %d", cfg.InputDim)
	}
	if len(cfg.HiddenSizes) == 0 {
		cfg.HiddenSizes = []int{32}
	}
	if cfg.OutputDim == 0 {
		cfg.OutputDim = studies.NumClasses
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = 0.05
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = 10
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 8
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	m := &Model{
		Config: cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}

	sizes := make([]int, 0, 2+len(cfg.HiddenSizes))
	sizes = append(sizes, cfg.InputDim)
	sizes = append(sizes, cfg.HiddenSizes...)
	sizes = append(sizes, cfg.OutputDim)
	m.layerSizes = sizes

	L := len(sizes) - 1
	m.weights = make([][][]float32, L)
	m.biases = make([][]float32, L)
	for l := range L {
		in, out := sizes[l], sizes[l+1]
		// Xavier/Glorot uniform initialization
		limit := float32(math.Sqrt(6.0 / float64(in+out)))
		mat := make([][]float32, out)
		for j := range out {
			row := make([]float32, in)
			for i := range row {
				row[i] = (m.rng.Float32()*2.0 - 1.0) * limit
			}
			mat[j] = row
		}
		m.weights[l] = mat
		m.biases[l] = make([]float32, out)
	}
	return m, nil
}

func sigmoid(x float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(x))))
}

// forwardSingle performs a forward pass for a single input vector, returning
// the pre-activations per layer and the activations per layer, with
// activations[0] the input and the last activation the class probabilities.
func (m *Model) forwardSingle(input []float32) (preActs [][]float32, acts [][]float32, err error) {
	if len(input) != m.layerSizes[0] {
		return nil, nil, errors.Errorf("input has dimension %d, expected %d", len(input), m.layerSizes[0])
	}
	L := len(m.weights)
	acts = make([][]float32, L+1)
	acts[0] = append([]float32(nil), input...)
	preActs = make([][]float32, L)
	for l := range L {
		inVec := acts[l]
		W, b := m.weights[l], m.biases[l]
		pre := make([]float32, len(b))
		for j := range pre {
			sum := b[j]
			for i, v := range inVec {
				sum += W[j][i] * v
			}
			pre[j] = sum
		}
		preActs[l] = pre

		act := make([]float32, len(pre))
		for j, v := range pre {
			switch {
			case l == L-1:
				act[j] = sigmoid(v)
			case v > 0:
				act[j] = v
			}
		}
		acts[l+1] = act
	}
	return preActs, acts, nil
}

// PredictBatch returns the class probabilities for a batch of inputs.
func (m *Model) PredictBatch(inputs [][]float32) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		_, acts, err := m.forwardSingle(in)
		if err != nil {
			return nil, errors.WithMessagef(err, "example %d", i)
		}
		out[i] = acts[len(acts)-1]
	}
	return out, nil
}

// bce is the binary cross-entropy of probabilities p against targets t,
// averaged over classes.
func bce(p, t []float32) float64 {
	const eps = 1e-7
	var sum float64
	for j := range p {
		pj := min(max(float64(p[j]), eps), 1-eps)
		tj := float64(t[j])
		sum -= tj*math.Log(pj) + (1-tj)*math.Log(1-pj)
	}
	return sum / float64(len(p))
}

// TrainWithDataset runs mini-batch SGD over ds for Config.Epochs epochs and
// returns the mean training loss of each epoch.
func (m *Model) TrainWithDataset(ds Dataset) ([]float64, error) {
	if ds == nil {
		return nil, errors.New("dataset is nil")
	}
	n := ds.Len()
	if n == 0 {
		return nil, errors.New("dataset has no examples")
	}
	lr := float32(m.Config.LearningRate)
	batchSize := m.Config.BatchSize

	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}

	history := make([]float64, 0, m.Config.Epochs)
	for ep := range m.Config.Epochs {
		m.rng.Shuffle(len(indices), func(i, j int) {
			indices[i], indices[j] = indices[j], indices[i]
		})

		var epochLoss float64
		for bstart := 0; bstart < n; bstart += batchSize {
			batchIdx := indices[bstart:min(bstart+batchSize, n)]
			inputs, labels, err := ds.Batch(batchIdx)
			if err != nil {
				return history, err
			}
			loss, err := m.step(inputs, labels, lr)
			if err != nil {
				return history, err
			}
			epochLoss += loss
		}
		epochLoss /= float64(n)
		history = append(history, epochLoss)
		m.Config.Logger.Debug("probe epoch", zap.Int("epoch", ep), zap.Float64("loss", epochLoss))
	}
	return history, nil
}

// step accumulates the gradients of one minibatch, applies the averaged
// update and returns the summed loss.
func (m *Model) step(inputs, labels [][]float32, lr float32) (float64, error) {
	batchN := len(inputs)
	if batchN == 0 {
		return 0, nil
	}
	if len(labels) != batchN {
		return 0, errors.Errorf("got %d inputs but %d labels", batchN, len(labels))
	}

	L := len(m.weights)
	gradW := make([][][]float32, L)
	gradB := make([][]float32, L)
	for l := range L {
		gradW[l] = make([][]float32, len(m.biases[l]))
		for j := range gradW[l] {
			gradW[l][j] = make([]float32, len(m.weights[l][j]))
		}
		gradB[l] = make([]float32, len(m.biases[l]))
	}

	var loss float64
	for ex := range batchN {
		preacts, acts, err := m.forwardSingle(inputs[ex])
		if err != nil {
			return 0, err
		}
		la := labels[ex]
		outAct := acts[len(acts)-1]
		if len(la) != len(outAct) {
			return 0, errors.Errorf("label has dimension %d, expected %d", len(la), len(outAct))
		}
		loss += bce(outAct, la)

		// sigmoid + binary cross-entropy: dLoss/dPre = p - t
		delta := make([]float32, len(outAct))
		for j := range delta {
			delta[j] = (outAct[j] - la[j]) / float32(len(outAct))
		}

		for l := L - 1; l >= 0; l-- {
			inAct := acts[l]
			for j := range delta {
				gradB[l][j] += delta[j]
				for i, v := range inAct {
					gradW[l][j][i] += delta[j] * v
				}
			}
			if l == 0 {
				break
			}
			newDelta := make([]float32, len(inAct))
			for i := range newDelta {
				if preacts[l-1][i] <= 0 {
					continue
				}
				var sum float32
				for j := range delta {
					sum += m.weights[l][j][i] * delta[j]
				}
				newDelta[i] = sum
			}
			delta = newDelta
		}
	}

	bInv := 1 / float32(batchN)
	for l := range L {
		scale := bInv
		if m.Config.ClipNorm > 0 {
			if norm := gradNorm(gradW[l], gradB[l]) * bInv; norm > m.Config.ClipNorm {
				scale *= m.Config.ClipNorm / norm
			}
		}
		for j := range m.biases[l] {
			m.biases[l][j] -= lr * gradB[l][j] * scale
			for i := range m.weights[l][j] {
				m.weights[l][j][i] -= lr * gradW[l][j][i] * scale
			}
		}
	}
	return loss, nil
}

func gradNorm(w [][]float32, b []float32) float32 {
	var sum float64
	for _, row := range w {
		for _, v := range row {
			sum += float64(v) * float64(v)
		}
	}
	for _, v := range b {
		sum += float64(v) * float64(v)
	}
	return float32(math.Sqrt(sum))
}

// Metrics summarize the probe on a dataset.
type Metrics struct {
	Examples int
	// Loss is the mean binary cross-entropy.
	Loss float64
	// Accuracy compares the most probable class with the largest label.
	Accuracy float64
}

// Evaluate computes Metrics of the model over ds.
func (m *Model) Evaluate(ds Dataset) (Metrics, error) {
	n := ds.Len()
	var met Metrics
	if n == 0 {
		return met, nil
	}
	bs := m.Config.BatchSize
	indices := make([]int, 0, bs)
	correct := 0
	for start := 0; start < n; start += bs {
		indices = indices[:0]
		for i := start; i < min(start+bs, n); i++ {
			indices = append(indices, i)
		}
		inputs, labels, err := ds.Batch(indices)
		if err != nil {
			return met, err
		}
		preds, err := m.PredictBatch(inputs)
		if err != nil {
			return met, err
		}
		for i := range preds {
			met.Loss += bce(preds[i], labels[i])
			if argmax(preds[i]) == argmax(labels[i]) {
				correct++
			}
		}
	}
	met.Examples = n
	met.Loss /= float64(n)
	met.Accuracy = float64(correct) / float64(n)
	return met, nil
}

func argmax(v []float32) int {
	best := 0
	for i, x := range v {
		if x > v[best] {
			best = i
		}
	}
	return best
}

package rgf

import (
	"context"
	"slices"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/core"
	"github.com/YuminosukeSato/rgf/core/model"
	"github.com/YuminosukeSato/rgf/metrics"
	"github.com/YuminosukeSato/rgf/pkg/errors"
	"github.com/YuminosukeSato/rgf/pkg/log"
)

var (
	_ core.Model      = (*Regressor)(nil)
	_ core.Classifier = (*Classifier)(nil)
)

// defaultEstimatorL2 is the reg_L2 used by the estimators when none is set.
const defaultEstimatorL2 = 0.1

// Regressor is a regularized greedy forest with a scikit-learn style API.
type Regressor struct {
	state *model.StateManager

	Params    Params
	Weights   []float64 // optional per-example training weights
	Callbacks []Callback
	Options   []ForestOption

	Model *Ensemble
}

// NewRegressor creates a least-squares regressor with default parameters.
func NewRegressor() *Regressor {
	prm := DefaultParams()
	prm.RegL2 = defaultEstimatorL2
	return &Regressor{state: model.NewStateManager(), Params: prm}
}

// WithAlgorithm sets RGF, RGF_Opt or RGF_Sib.
func (r *Regressor) WithAlgorithm(algo string) *Regressor {
	r.Params.Algorithm = algo
	return r
}

// WithLoss sets the loss function.
func (r *Regressor) WithLoss(loss string) *Regressor {
	r.Params.Loss = loss
	return r
}

// WithMaxLeaf sets max_leaf_forest.
func (r *Regressor) WithMaxLeaf(n int) *Regressor {
	r.Params.MaxLeafForest = n
	return r
}

// WithL2 sets reg_L2.
func (r *Regressor) WithL2(lambda float64) *Regressor {
	r.Params.RegL2 = lambda
	return r
}

// WithMinPop sets min_pop.
func (r *Regressor) WithMinPop(n int) *Regressor {
	r.Params.MinPop = n
	return r
}

// WithCallbacks adds training callbacks.
func (r *Regressor) WithCallbacks(cbs ...Callback) *Regressor {
	r.Callbacks = append(r.Callbacks, cbs...)
	return r
}

// IsFitted reports whether Fit has completed.
func (r *Regressor) IsFitted() bool { return r.state.IsFitted() }

// Fit trains the regressor
func (r *Regressor) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "Regressor.Fit")
	data, target, err := fitInput("Regressor.Fit", X, y)
	if err != nil {
		return err
	}
	return r.fit(context.Background(), data, target)
}

func (r *Regressor) fit(ctx context.Context, data *Dataset, y []float64) error {
	r.state.Reset()
	rows, cols := data.Dims()
	logger := log.GetLoggerWithName("rgf.Regressor")
	logger.Info("Fitting",
		log.OperationKey, log.OperationFit,
		log.SamplesKey, rows, log.FeaturesKey, cols)

	ens, err := Train(ctx, r.Params, data, y, TrainConfig{
		Weights:   r.Weights,
		Callbacks: r.Callbacks,
		Options:   r.Options,
	})
	if err != nil {
		return err
	}
	r.Model = ens
	r.state.SetDimensions(cols, rows)
	r.state.SetFitted()
	return nil
}

// Predict returns raw predictions, one per row of X.
func (r *Regressor) Predict(X mat.Matrix) (mat.Matrix, error) {
	if err := r.state.RequireFitted("Regressor", "Predict"); err != nil {
		return nil, err
	}
	_, cols := X.Dims()
	if err := r.state.RequireFeatures("Regressor.Predict", cols); err != nil {
		return nil, err
	}
	p, err := r.Model.PredictMatrix(X)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Score returns the coefficient of determination on X, y.
func (r *Regressor) Score(X, y mat.Matrix) (float64, error) {
	pred, err := r.Predict(X)
	if err != nil {
		return 0, err
	}
	_, target, err := fitInput("Regressor.Score", X, y)
	if err != nil {
		return 0, err
	}
	return metrics.R2Score(mat.NewVecDense(len(target), target), pred.(*mat.VecDense))
}

// Classifier is a binary regularized greedy forest classifier. Labels
// may take any two values; the larger one is the positive class.
type Classifier struct {
	Regressor

	Classes []float64
}

// NewClassifier creates a classifier trained with the logistic loss.
func NewClassifier() *Classifier {
	c := &Classifier{Regressor: *NewRegressor()}
	c.Params.Loss = LossLog.String()
	return c
}

// Fit trains the classifier. y must hold exactly two distinct values.
func (c *Classifier) Fit(X, y mat.Matrix) (err error) {
	defer errors.Recover(&err, "Classifier.Fit")
	data, labels, err := fitInput("Classifier.Fit", X, y)
	if err != nil {
		return err
	}
	classes := slices.Clone(labels)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) != 2 {
		return errors.NewValidationError("y", "binary classification needs exactly 2 classes", len(classes))
	}
	c.Classes = classes

	neg := -1.0
	if loss := c.Params.LossType(); loss == LossLogRe || loss == LossLogRe2 {
		neg = 0
	}
	target := make([]float64, len(labels))
	for i, v := range labels {
		target[i] = neg
		if v == classes[1] {
			target[i] = 1
		}
	}
	return c.fit(context.Background(), data, target)
}

// DecisionFunction returns the raw scores.
func (c *Classifier) DecisionFunction(X mat.Matrix) (*mat.VecDense, error) {
	if err := c.state.RequireFitted("Classifier", "DecisionFunction"); err != nil {
		return nil, err
	}
	_, cols := X.Dims()
	if err := c.state.RequireFeatures("Classifier.DecisionFunction", cols); err != nil {
		return nil, err
	}
	return c.Model.PredictMatrix(X)
}

// PredictProba returns an n×2 matrix of class probabilities in the order of
// Classes.
func (c *Classifier) PredictProba(X mat.Matrix) (mat.Matrix, error) {
	score, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	loss := c.Params.LossType()
	scale := 1.0
	if loss == LossLogit || loss == LossExpo {
		scale = 2
	}
	n := score.Len()
	out := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		var p float64
		if loss == LossLogRe2 {
			p = errors.ClipValue(score.AtVec(i), 0, 1)
		} else {
			p = 1 / (1 + errors.StabilizeExp(-scale*score.AtVec(i)))
		}
		out.Set(i, 0, 1-p)
		out.Set(i, 1, p)
	}
	return out, nil
}

// Predict returns the predicted class label for every row of X.
func (c *Classifier) Predict(X mat.Matrix) (mat.Matrix, error) {
	score, err := c.DecisionFunction(X)
	if err != nil {
		return nil, err
	}
	threshold := 0.0
	if loss := c.Params.LossType(); loss == LossLogRe2 {
		threshold = 0.5
	}
	n := score.Len()
	out := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		label := c.Classes[0]
		if score.AtVec(i) > threshold {
			label = c.Classes[1]
		}
		out.SetVec(i, label)
	}
	return out, nil
}

// Score returns the accuracy on X, y.
func (c *Classifier) Score(X, y mat.Matrix) (float64, error) {
	pred, err := c.Predict(X)
	if err != nil {
		return 0, err
	}
	_, labels, err := fitInput("Classifier.Score", X, y)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, v := range labels {
		if pred.At(i, 0) == v {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}

// fitInput converts X and a column (or row) vector y.
func fitInput(op string, X, y mat.Matrix) (*Dataset, []float64, error) {
	rows, _ := X.Dims()
	yr, yc := y.Dims()
	var target []float64
	switch {
	case yc == 1:
		target = make([]float64, yr)
		for i := range target {
			target[i] = y.At(i, 0)
		}
	case yr == 1:
		target = make([]float64, yc)
		for i := range target {
			target[i] = y.At(0, i)
		}
	default:
		return nil, nil, errors.NewDimensionError(op, 1, yc, 1)
	}
	if len(target) != rows {
		return nil, nil, errors.NewDimensionError(op, rows, len(target), 0)
	}
	if err := errors.CheckSlice(op, target); err != nil {
		return nil, nil, err
	}
	data, err := NewDataset(X)
	if err != nil {
		return nil, nil, err
	}
	return data, target, nil
}

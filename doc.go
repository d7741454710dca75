// Package rgf is a Go implementation of the regularized greedy forest, a
// tree ensemble learner that grows a forest one leaf split at a time and
// periodically re-fits all leaf weights under an explicit regularizer.
//
// # Features
//
//   - Three algorithms: RGF (L2 on leaf weights), RGF_Opt (min-penalty
//     regularization over the tree structure) and RGF_Sib (sibling
//     regularization).
//   - Square, logistic, exponential and related losses with per-example
//     weights.
//   - Warm start from a saved model, test checkpoints with callbacks,
//     early stopping and model snapshots.
//   - Example indexes of finished trees can be spilled to disk.
//   - A binary model format, text and graphviz tree dumps.
//   - Structured logging (zerolog) and Prometheus training metrics.
//
// # Quick Start
//
//	package main
//
//	import (
//	    "fmt"
//	    "log"
//
//	    "github.com/YuminosukeSato/rgf/sklearn/rgf"
//	    "gonum.org/v1/gonum/mat"
//	)
//
//	func main() {
//	    X := mat.NewDense(6, 1, []float64{1, 2, 3, 4, 5, 6})
//	    y := mat.NewVecDense(6, []float64{0, 0, 0, 1, 1, 1})
//
//	    model := rgf.NewRegressor().WithMaxLeaf(4).WithMinPop(1)
//	    if err := model.Fit(X, y); err != nil {
//	        log.Fatal(err)
//	    }
//
//	    pred, err := model.Predict(mat.NewDense(2, 1, []float64{1.5, 5.5}))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(mat.Formatted(pred))
//	}
//
// The lower level API gives control over each step:
//
//	f, _ := rgf.NewForest(prm)
//	_ = f.ColdStart(data, y, nil)
//	for {
//	    st, err := f.Proceed(ctx)
//	    if err != nil || st == rgf.StatusExit {
//	        break
//	    }
//	    pred, info, _ := f.Apply(ctx, testData) // at each test checkpoint
//	    fmt.Println(info, pred[:3])
//	}
//	model, _ := f.Model(ctx)
//	_ = model.Save("model.rgf")
//
// # Packages
//
//   - sklearn/rgf: training engine, model file and estimators
//   - internal/spill: disk store for example indexes (badger)
//   - internal/dataio: .npy and text data loading
//   - metrics: evaluation metrics (RMSE, MAE, R², error rate, AUC)
//   - core: estimator interfaces, fitted-state bookkeeping and parallel helpers
//   - pkg/errors, pkg/log: typed errors and structured logging
//   - cmd/rgf: the command line tool
package rgf

// Package rgf implements the regularized greedy forest, an additive tree
// ensemble grown one leaf split at a time across several trees, with all
// leaf weights refit periodically by coordinate descent.
//
// Three regularizers are available:
//   - RGF: L2 on leaf weights, optionally scaled by node depth
//   - RGF_Opt: min-penalty over equivalent tree-structured models
//   - RGF_Sib: sibling sum-to-zero constraint
//
// # Basic Usage
//
//	reg := rgf.NewRegressor().WithMaxLeaf(500).WithL2(0.1)
//	if err := reg.Fit(X, y); err != nil {
//	    log.Fatal(err)
//	}
//	pred, err := reg.Predict(Xtest)
//
// # Checkpoints
//
// Forest exposes the training loop directly. Proceed grows the forest
// until the next test_interval leaves; Apply scores an evaluation set at
// that point without disturbing training.
//
//	f, _ := rgf.NewForest(prm)
//	defer f.Close()
//	_ = f.ColdStart(data, y, nil)
//	td := rgf.NewTestData(test)
//	for {
//	    st, err := f.Proceed(ctx)
//	    ...
//	    p, info, err := f.Apply(ctx, td)
//	    if st == rgf.StatusExit {
//	        break
//	    }
//	}
//
// Train wraps that loop with evaluation sets and callbacks
// (RecordEvaluation, EarlyStopping, ModelCheckpoint, LearningCurvePlot).
//
// # Models
//
// Trained models are Ensembles. They are saved in a binary format with
// Save and read back with LoadEnsemble; RenderTree draws a tree through
// graphviz.
package rgf

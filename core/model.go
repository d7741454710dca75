// Package core は推定器が満たすインターフェースを定義します。
//
// sklearn/rgf の Regressor と Classifier はここで定義されたインターフェースを
// 実装しており、呼び出し側は具体的な型に依存せずに学習と予測を行えます。
package core

import "gonum.org/v1/gonum/mat"

// Fitter は学習可能なモデルのインターフェース
type Fitter interface {
	// Fit は X (サンプル×特徴量) と y (ターゲット) でモデルを学習させる
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェース
type Predictor interface {
	// Predict は各行に対する予測を n×1 の行列で返す
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Scorer はモデルの評価値を計算するインターフェース
type Scorer interface {
	// Score は予測の評価値を返す（回帰はR^2、分類は正解率）
	Score(X, y mat.Matrix) (float64, error)
}

// Model は教師あり学習モデルの基本インターフェース
type Model interface {
	Fitter
	Predictor
	Scorer
	IsFitted() bool
}

// ProbaPredictor は確率を出力できる分類器のインターフェース
type ProbaPredictor interface {
	// PredictProba は n×クラス数 の確率行列を返す
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// Classifier は二値分類器のインターフェース
type Classifier interface {
	Model
	ProbaPredictor
	// DecisionFunction は符号でクラスを表す生のスコアを返す
	DecisionFunction(X mat.Matrix) (*mat.VecDense, error)
}

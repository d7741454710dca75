package metrics

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/rgf/pkg/errors"
)

// 二値分類のラベルは y > 0 を正例、それ以外を負例として扱う。
// 予測値は生のスコアで、0 より大きければ正例と判定する。

// Accuracy はスコアの符号とラベルの符号が一致する割合を計算する
func Accuracy(yTrue, score *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, score)
	if err != nil {
		return 0, err
	}

	correct := 0
	for i := 0; i < n; i++ {
		if (yTrue.AtVec(i) > 0) == (score.AtVec(i) > 0) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ClassificationError は 1 - Accuracy を返す
func ClassificationError(yTrue, score *mat.VecDense) (float64, error) {
	acc, err := Accuracy(yTrue, score)
	if err != nil {
		return 0, err
	}
	return 1 - acc, nil
}

// MarginLogLoss は ±1 ラベルに対するロジスティック損失 log(1+exp(-y*s)) の平均を計算する
func MarginLogLoss(yTrue, score *mat.VecDense) (float64, error) {
	n, err := checkPair("MarginLogLoss", yTrue, score)
	if err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		y := -1.0
		if yTrue.AtVec(i) > 0 {
			y = 1
		}
		m := -y * score.AtVec(i)
		// オーバーフローを避けるため大きなマージンでは線形近似
		if m > 35 {
			sum += m
		} else {
			sum += math.Log1p(math.Exp(m))
		}
	}
	return sum / float64(n), nil
}

// AUC はROC曲線下面積を計算する。同順位のスコアは平均順位を用いる。
// 正例または負例が存在しない場合は 0.5 を返す。
func AUC(yTrue, score *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, score)
	if err != nil {
		return 0, err
	}
	// NaN はソート順を壊すため先に弾く
	for i := 0; i < n; i++ {
		if err := errors.CheckScalar("AUC", score.AtVec(i)); err != nil {
			return 0, err
		}
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return score.AtVec(idx[a]) < score.AtVec(idx[b]) })

	var rankSumPos float64
	nPos := 0
	for i := 0; i < n; {
		j := i
		for j+1 < n && score.AtVec(idx[j+1]) == score.AtVec(idx[i]) {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			if yTrue.AtVec(idx[k]) > 0 {
				rankSumPos += avgRank
				nPos++
			}
		}
		i = j + 1
	}

	nNeg := n - nPos
	if nPos == 0 || nNeg == 0 {
		return 0.5, nil
	}
	return (rankSumPos - float64(nPos*(nPos+1))/2) / float64(nPos*nNeg), nil
}

// Package errors はプロジェクト全体のエラーハンドリングと警告システムを提供します。
// すべてのエラーは cockroachdb/errors によりスタックトレースを保持します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("rgf-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler はライブラリ全体の警告ハンドラを設定します。
//
// 例:
//
//	errors.SetWarningHandler(func(w error) {
//	    // 警告を無視する
//	})
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
// nil を渡すと従来のハンドラに戻ります。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// ConvergenceWarning は重み最適化が exit_delta に到達せずに反復上限に達した場合の警告です。
type ConvergenceWarning struct {
	Algorithm  string
	Iterations int
	Message    string
}

func (w *ConvergenceWarning) Error() string {
	if w.Message != "" {
		return fmt.Sprintf("%s failed to converge after %d iterations: %s", w.Algorithm, w.Iterations, w.Message)
	}
	return fmt.Sprintf("%s failed to converge after %d iterations. Consider increasing num_iteration_opt.", w.Algorithm, w.Iterations)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ConvergenceWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("algorithm", w.Algorithm).
		Int("iterations", w.Iterations).
		Str("message", w.Message).
		Str("type", "ConvergenceWarning")
}

// NewConvergenceWarning は新しいConvergenceWarningを作成します。
func NewConvergenceWarning(algorithm string, iterations int, message string) *ConvergenceWarning {
	return &ConvergenceWarning{Algorithm: algorithm, Iterations: iterations, Message: message}
}

// ClampWarning は max_delta により重みの更新量が切り詰められた場合の警告です。
type ClampWarning struct {
	Op       string
	Count    int
	MaxDelta float64
}

func (w *ClampWarning) Error() string {
	return fmt.Sprintf("%s: %d weight updates were truncated to |delta|<=%g", w.Op, w.Count, w.MaxDelta)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *ClampWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("operation", w.Op).
		Int("count", w.Count).
		Float64("max_delta", w.MaxDelta).
		Str("type", "ClampWarning")
}

// NewClampWarning は新しいClampWarningを作成します。
func NewClampWarning(op string, count int, maxDelta float64) *ClampWarning {
	return &ClampWarning{Op: op, Count: count, MaxDelta: maxDelta}
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// NotFittedError はモデルが未学習の状態で `Predict` などを呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("rgf: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0: 行（データ数）, 1: 列（特徴量）
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("rgf: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, e.axisName(), e.Expected, e.Got)
}

func (e *DimensionError) axisName() string {
	if e.Axis == 0 {
		return "rows"
	}
	return "features"
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", e.axisName()).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は設定パラメータの検証に失敗した場合のエラーです。
// 学習開始前に検出され、問題のあるキーと値を保持します。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("rgf: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// StructuralError は木構造や特徴量マップの不変条件が破られた場合のエラーです。
// プログラムの欠陥を示すため、リトライはされません。
type StructuralError struct {
	Op     string
	Detail string
	Err    error
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("rgf: %s: invariant violated: %s", e.Op, e.Detail)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *StructuralError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("detail", e.Detail).
		Str("type", "StructuralError")
}

func (e *StructuralError) Unwrap() error {
	return e.Err
}

// NewStructuralError は新しいStructuralErrorを作成し、スタックトレースを付与します。
func NewStructuralError(op, detail string) error {
	return errors.WithStack(&StructuralError{Op: op, Detail: detail})
}

// NewStructuralErrorf はフォーマット付きでStructuralErrorを作成します。
func NewStructuralErrorf(op, format string, args ...interface{}) error {
	return NewStructuralError(op, fmt.Sprintf(format, args...))
}

// WrapStructural は err を原因とする StructuralError を作成します。
// errors.Is(err, ErrIndexesReleased) のような判定が引き続き可能です。
func WrapStructural(op string, err error) error {
	return errors.WithStack(&StructuralError{Op: op, Detail: err.Error(), Err: err})
}

// CapacityError はウォームスタートに渡されたモデルが既に要求された上限に達している場合のエラーです。
type CapacityError struct {
	Op        string
	Leaves    int
	Trees     int
	MaxLeaves int
	MaxTrees  int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("rgf: %s: the model given for warm-start is already over the requested maximum size: #leaf=%d (max %d), #tree=%d (max %d)",
		e.Op, e.Leaves, e.MaxLeaves, e.Trees, e.MaxTrees)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *CapacityError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("leaves", e.Leaves).
		Int("trees", e.Trees).
		Int("max_leaves", e.MaxLeaves).
		Int("max_trees", e.MaxTrees).
		Str("type", "CapacityError")
}

// NewCapacityError は新しいCapacityErrorを作成し、スタックトレースを付与します。
func NewCapacityError(op string, leaves, trees, maxLeaves, maxTrees int) error {
	return errors.WithStack(&CapacityError{Op: op, Leaves: leaves, Trees: trees, MaxLeaves: maxLeaves, MaxTrees: maxTrees})
}

// ValueError は引数の値が不適切な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("rgf: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ModelError はモデルファイルの読み書きなどに関するエラーです。
type ModelError struct {
	Op   string
	Kind string
	Err  error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rgf: %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("rgf: %s: %s", e.Op, e.Kind)
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// StackTrace はエラーに付与されたスタックトレースを文字列で返します。
// スタックトレースがない場合は空文字列を返します。
func StackTrace(err error) string {
	safeDetails := errors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrNotImplemented は機能が未実装の場合のエラーです。
	ErrNotImplemented = New("not implemented")

	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")

	// ErrIndexesReleased はディスクに退避された木のデータインデックスに
	// restore せずにアクセスした場合のエラーです。
	ErrIndexesReleased = New("example indexes are released; restore them first")
)

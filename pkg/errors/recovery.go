package errors

import (
	"fmt"
	"runtime/debug"
)

// PanicError は学習や予測の途中で発生した panic を回収したエラーです。
type PanicError struct {
	PanicValue interface{}
	StackTrace string
	Operation  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("rgf: panic in %s: %v", e.Operation, e.PanicValue)
}

// String はスタックトレースを含む詳細を返します。
func (e *PanicError) String() string {
	return fmt.Sprintf("rgf: panic in %s: %v\nStack trace:\n%s", e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError は新しいPanicErrorを作成します。
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover は defer と組み合わせて panic をエラーへ変換します。
//
//	func (f *Forest) Train(ctx context.Context) (err error) {
//	    defer errors.Recover(&err, "Forest.Train")
//	    ...
//	}
//
// 既にエラーが設定されている場合は panic 情報でラップします。
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		if *err != nil {
			*err = fmt.Errorf("rgf: panic in %s: %v (original error: %w)", operation, r, *err)
			return
		}
		*err = NewPanicError(operation, r)
	}
}

// SafeExecute は fn を実行し、panic をエラーとして返します。
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}

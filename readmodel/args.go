package readmodel

import "fmt"

// Arg returns args[i] as T, or an error naming the operation.
func Arg[T any](op Operation, i int) (T, error) {
	var zero T
	if i >= len(op.Args) {
		return zero, fmt.Errorf("readmodel: %s: missing argument %d", op.Name, i)
	}
	v, ok := op.Args[i].(T)
	if !ok {
		return zero, fmt.Errorf("readmodel: %s: argument %d: got %T, want %T", op.Name, i, op.Args[i], zero)
	}
	return v, nil
}

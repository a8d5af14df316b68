package assert

// NotNil panics when a required dependency was not provided to a
// constructor.
func NotNil(value any) {
	if value == nil {
		panic("expected value to be not nil")
	}
}

// NotEmptyStr panics when a required string setting is empty.
func NotEmptyStr(str string) {
	if str == "" {
		panic("expected string to be non-empty")
	}
}

// Positive panics when a duration or count setting is not strictly positive.
func Positive[T ~int | ~int64 | ~float64](value T) {
	if value <= 0 {
		panic("expected value to be positive")
	}
}

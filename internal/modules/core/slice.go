package core

func Map[TSource any, TResult any](source []TSource, m func(TSource) TResult) []TResult {
	results := make([]TResult, 0, len(source))
	for _, s := range source {
		results = append(results, m(s))
	}
	return results
}

// Clone returns a copy of source that shares no backing array with it.
func Clone[T any](source []T) []T {
	if source == nil {
		return []T{}
	}
	results := make([]T, len(source))
	copy(results, source)
	return results
}

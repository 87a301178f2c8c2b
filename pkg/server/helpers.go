package server

// optional returns nil for the zero value and a pointer to v otherwise
func optional[T comparable](v T) *T {
	var zero T
	if v == zero {
		return nil
	}
	return &v
}

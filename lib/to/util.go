package to

func Ptr[T any](v T) *T {
	return &v
}

func EmptyString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

//go:build !android

package sysprop

// Get always fails off android.
func Get(name string) (string, error) {
	_ = name
	return "", ErrUnavailable
}

package cmshttp

// Sanitizer cleans page bodies before they are stored.
type Sanitizer interface {
	Sanitize(body string) string
}

// SanitizerFunc adapts a function to Sanitizer.
type SanitizerFunc func(string) string

func (f SanitizerFunc) Sanitize(body string) string { return f(body) }

// PassThrough stores bodies unchanged.
var PassThrough Sanitizer = SanitizerFunc(func(s string) string { return s })

package health

// Checker reports whether a component is able to do its job.
// A nil error means healthy.
type Checker interface {
	Check() error
}

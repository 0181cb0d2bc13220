// Package ui declares the narrow surfaces the real-time layer needs from the
// host application's presentation stack. Hosts supply implementations; the
// CLI bundles terminal ones.
package ui

// Prompter presents a blocking acknowledgment dialog and returns once the
// user confirms, or an error when the UI layer cannot show it.
type Prompter interface {
	PromptBlocking(title, message string) error
}

// Notifier shows a transient, non-blocking notice.
type Notifier interface {
	Notify(title, message string)
}

// Router navigates the host application.
type Router interface {
	// Push navigates to a path within the app.
	Push(path string) error
	// Reload performs a hard reload at the given path. Used as the last
	// resort when Push fails.
	Reload(path string)
}

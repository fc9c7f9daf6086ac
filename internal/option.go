package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	target    Target
	mirror    string
	logOutput io.Writer
}

// Target names the project a session command opens, and how. With an empty
// ServerURL the session edits the local database directly.
type Target struct {
	ProjectID string
	Actor     string
	ServerURL string
	Token     string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithTarget sets the project opened by RunMCP and RunMirror.
func WithTarget(t Target) Option {
	return func(a *application) {
		a.target = t
	}
}

// WithMirrorPath sets the file RunMirror keeps in step with the project.
func WithMirrorPath(path string) Option {
	return func(a *application) {
		a.mirror = path
	}
}

// WithLogOutput redirects logs. RunMCP needs stdout for the protocol.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

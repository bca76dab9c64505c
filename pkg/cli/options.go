package cli

// Options holds the global flags, so commands never read package state
type Options struct {
	ConfigFile  string
	ProjectRoot string
	LogLevel    string
	Verbosity   string
	Version     string
}

// NewOptions creates options with defaults
func NewOptions() *Options {
	return &Options{
		ProjectRoot: ".",
		Version:     "dev",
	}
}

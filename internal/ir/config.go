package ir

// Config is the top-level stack configuration: the full set of resource
// descriptors a caller submits for planning.
type Config struct {
	Name      string        `pkl:"name" yaml:"name" json:"name"`
	Resources []*Descriptor `pkl:"resources" yaml:"resources" json:"resources"`
}

package ir

import (
	"context"
	"fmt"
)

// Kind classifies a provisionable unit.
type Kind string

const (
	KindCluster       Kind = "Cluster"
	KindIamRole       Kind = "IamRole"
	KindPlatformStack Kind = "PlatformStack"
	KindPipeline      Kind = "Pipeline"
	KindSecret        Kind = "Secret"
)

// Valid reports whether k is a known resource kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCluster, KindIamRole, KindPlatformStack, KindPipeline, KindSecret:
		return true
	}
	return false
}

// ActionFunc is an opaque provisioning action supplied per descriptor.
// creds holds secret values resolved by the credential broker at invocation
// time; implementations must not persist them.
type ActionFunc func(ctx context.Context, d *Descriptor, creds map[string]string) error

// Descriptor declares a single provisionable resource and its dependencies.
type Descriptor struct {
	ID         string         `pkl:"id" yaml:"id" json:"id"`
	Kind       Kind           `pkl:"kind" yaml:"kind" json:"kind"`
	Provider   string         `pkl:"provider" yaml:"provider" json:"provider"`
	DependsOn  []string       `pkl:"dependsOn" yaml:"dependsOn" json:"dependsOn,omitempty"`
	Idempotent bool           `pkl:"idempotent" yaml:"idempotent" json:"idempotent"`
	Secrets    []string       `pkl:"secrets" yaml:"secrets" json:"secrets,omitempty"`
	Timeout    string         `pkl:"timeout" yaml:"timeout" json:"timeout,omitempty"`
	Properties map[string]any `pkl:"properties" yaml:"properties" json:"properties,omitempty"`

	// Apply and Destroy are injected by the caller (normally bound from a
	// provider registry) before a plan is built. Never serialized.
	Apply   ActionFunc `pkl:"-" yaml:"-" json:"-"`
	Destroy ActionFunc `pkl:"-" yaml:"-" json:"-"`
}

// Validate checks the fields that can be verified without the rest of the set.
func (d *Descriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("descriptor has empty id")
	}
	if !d.Kind.Valid() {
		return fmt.Errorf("descriptor %s has unknown kind %q", d.ID, d.Kind)
	}
	return nil
}

// StringProperty returns a string-typed property, or the fallback if absent.
func (d *Descriptor) StringProperty(key, fallback string) string {
	if v, ok := d.Properties[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return fallback
}

// StringSliceProperty returns a []string-typed property. YAML and PKL both
// decode listings as []any, so both shapes are accepted.
func (d *Descriptor) StringSliceProperty(key string) []string {
	switch v := d.Properties[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

package docker

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	v1 "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/kubeforge-io/kubeforge/internal/ir"
	"github.com/kubeforge-io/kubeforge/internal/logging"
)

// Provider runs platform components as local containers, for development
// rigs that have no cluster. A resource maps to one container named after
// its id.
type Provider struct {
	mu     sync.Mutex
	client *client.Client
}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Name() string { return "docker" }

func (p *Provider) ensureClient() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return fmt.Errorf("failed to create Docker client: %w", err)
	}
	p.client = cli
	return nil
}

// Apply pulls the image and starts a container for the resource. An already
// running container with the resource's name is left alone.
func (p *Provider) Apply(ctx context.Context, d *ir.Descriptor, creds map[string]string) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	name := containerName(d)
	img := d.StringProperty("image", "")
	if img == "" {
		return fmt.Errorf("resource %s requires an image property", d.ID)
	}

	if existing, err := p.client.ContainerInspect(ctx, name); err == nil {
		if existing.State != nil && existing.State.Running {
			logging.Info("container already running", "resource", d.ID, "container", name)
			return nil
		}
		// A stopped leftover gets replaced.
		if err := p.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("failed to remove stale container %s: %w", name, err)
		}
	}

	reader, err := p.client.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	io.Copy(io.Discard, reader)
	reader.Close()

	exposed, bindings, err := portBindings(d.StringSliceProperty("ports"))
	if err != nil {
		return fmt.Errorf("resource %s: %w", d.ID, err)
	}

	env := d.StringSliceProperty("env")
	for _, secretName := range d.Secrets {
		if value, ok := creds[secretName]; ok {
			env = append(env, envKey(secretName)+"="+value)
		}
	}

	resp, err := p.client.ContainerCreate(ctx,
		&container.Config{
			Image:        img,
			Env:          env,
			ExposedPorts: exposed,
			Cmd:          d.StringSliceProperty("command"),
		},
		&container.HostConfig{
			PortBindings: bindings,
			RestartPolicy: container.RestartPolicy{
				Name: container.RestartPolicyUnlessStopped,
			},
		},
		nil,
		&v1.Platform{},
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", name, err)
	}

	if err := p.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}

	logging.Info("container started", "resource", d.ID, "container", name, "image", img)
	return nil
}

// Destroy stops and removes the resource's container.
func (p *Provider) Destroy(ctx context.Context, d *ir.Descriptor) error {
	if err := p.ensureClient(); err != nil {
		return err
	}

	name := containerName(d)
	stopTimeout := 10 // seconds
	_ = p.client.ContainerStop(ctx, name, container.StopOptions{Timeout: &stopTimeout})

	if err := p.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}

	logging.Info("container removed", "resource", d.ID, "container", name)
	return nil
}

func containerName(d *ir.Descriptor) string {
	return d.StringProperty("containerName", "kubeforge-"+d.ID)
}

// portBindings parses "host:container" pairs.
func portBindings(ports []string) (nat.PortSet, nat.PortMap, error) {
	if len(ports) == 0 {
		return nil, nil, nil
	}

	exposed, bindings, err := nat.ParsePortSpecs(ports)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid port spec: %w", err)
	}
	return exposed, bindings, nil
}

// envKey turns a secret name into a conventional env var name.
func envKey(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

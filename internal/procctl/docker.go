package procctl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"
	"github.com/veilnet/realityd/internal/config"
)

const stopTimeoutSeconds = 10

// DockerController manages the engine running inside a docker container.
type DockerController struct {
	client    *dockerclient.Client
	container string
	available bool
}

func (d *DockerController) Initialize(ctx context.Context) error {
	if d.container == "" {
		return fmt.Errorf("container name not configured")
	}

	var opts []dockerclient.Opt
	opts = append(opts, dockerclient.FromEnv)
	opts = append(opts, dockerclient.WithAPIVersionNegotiation())
	if config.Cfg.DockerHost != "" {
		opts = append(opts, dockerclient.WithHost(config.Cfg.DockerHost))
	}

	var err error
	d.client, err = dockerclient.NewClientWithOpts(opts...)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}

	if _, err := d.client.ContainerInspect(ctx, d.container); err != nil {
		return fmt.Errorf("container %s: %w", d.container, err)
	}

	d.available = true
	return nil
}

func (d *DockerController) IsAvailable(_ context.Context) bool { return d.available }

func (d *DockerController) BackendName() string { return "docker" }

func (d *DockerController) Start(ctx context.Context) error {
	return d.client.ContainerStart(ctx, d.container, container.StartOptions{})
}

func (d *DockerController) Stop(ctx context.Context) error {
	timeout := stopTimeoutSeconds
	return d.client.ContainerStop(ctx, d.container, container.StopOptions{Timeout: &timeout})
}

func (d *DockerController) Restart(ctx context.Context) error {
	timeout := stopTimeoutSeconds
	return d.client.ContainerRestart(ctx, d.container, container.StopOptions{Timeout: &timeout})
}

func (d *DockerController) Alive(ctx context.Context) bool {
	inspect, err := d.client.ContainerInspect(ctx, d.container)
	return err == nil && inspect.State != nil && inspect.State.Running
}

func (d *DockerController) Status(ctx context.Context) (Status, error) {
	inspect, err := d.client.ContainerInspect(ctx, d.container)
	if err != nil {
		return Status{Backend: d.BackendName()}, fmt.Errorf("inspect %s: %w", d.container, err)
	}

	st := Status{Backend: d.BackendName()}
	if inspect.State != nil {
		st.Running = inspect.State.Running
		detail := inspect.State.Status
		if started, err := time.Parse(time.RFC3339Nano, inspect.State.StartedAt); err == nil && st.Running {
			detail += " (up " + units.HumanDuration(time.Since(started)) + ")"
		}
		st.Detail = detail
	}
	if inspect.NetworkSettings != nil && len(inspect.NetworkSettings.Ports) > 0 {
		st.Detail += ", ports " + formatPorts(inspect.NetworkSettings.Ports)
	}
	return st, nil
}

func formatPorts(ports nat.PortMap) string {
	var parts []string
	for port, bindings := range ports {
		if len(bindings) == 0 {
			parts = append(parts, string(port))
			continue
		}
		for _, b := range bindings {
			parts = append(parts, fmt.Sprintf("%s->%s", b.HostPort, port))
		}
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}

package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	DefaultImage = "sandbox-python:latest"
	ServerPort   = "8000"
)

// DockerRuntime runs sandboxes as local Docker containers publishing the
// sandbox server port on a random loopback port.
type DockerRuntime struct {
	cli   *client.Client
	image string
}

var _ Runtime = (*DockerRuntime)(nil)

// NewDockerRuntime creates a runtime using the environment's Docker settings.
func NewDockerRuntime(image string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if image == "" {
		image = DefaultImage
	}
	return &DockerRuntime{cli: cli, image: image}, nil
}

func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

func (r *DockerRuntime) Remove(ctx context.Context, name string) error {
	return r.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{
		Force: true,
	})
}

// Start checks if the container is running, starts or creates it if not, and
// returns its base URL once healthy.
func (r *DockerRuntime) Start(ctx context.Context, name string) (string, error) {
	c, err := r.cli.ContainerInspect(ctx, name)
	if err != nil {
		if !client.IsErrNotFound(err) {
			return "", fmt.Errorf("failed to inspect container: %w", err)
		}
		if err := r.create(ctx, name); err != nil {
			return "", err
		}
	} else if !c.State.Running {
		if err := r.cli.ContainerStart(ctx, name, types.ContainerStartOptions{}); err != nil {
			return "", fmt.Errorf("failed to start container: %w", err)
		}
	}

	c, err = r.cli.ContainerInspect(ctx, name)
	if err != nil {
		return "", err
	}
	port, err := hostPort(c)
	if err != nil {
		return "", err
	}
	endpoint := "http://127.0.0.1:" + port
	if err := waitForHealth(ctx, endpoint); err != nil {
		return "", err
	}
	return endpoint, nil
}

func (r *DockerRuntime) create(ctx context.Context, name string) error {
	if _, _, err := r.cli.ImageInspectWithRaw(ctx, r.image); err != nil {
		return fmt.Errorf("sandbox image %q not found: %w", r.image, err)
	}

	cfg := &container.Config{
		Image: r.image,
		ExposedPorts: nat.PortSet{
			nat.Port(ServerPort + "/tcp"): {},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(ServerPort + "/tcp"): []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0",
				},
			},
		},
		AutoRemove: true,
	}

	resp, err := r.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return fmt.Errorf("failed to create container: %w", err)
	}
	if err := r.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func hostPort(c types.ContainerJSON) (string, error) {
	if c.NetworkSettings != nil {
		if ports := c.NetworkSettings.Ports[nat.Port(ServerPort+"/tcp")]; len(ports) > 0 {
			return ports[0].HostPort, nil
		}
	}
	return "", fmt.Errorf("container running but port not mapped")
}

func waitForHealth(ctx context.Context, endpoint string) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	// Initial startup can be slow due to pip install
	timeoutCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	for {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("timeout waiting for sandbox health")
		case <-ticker.C:
			req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, endpoint+"/healthz", nil)
			if err != nil {
				return err
			}
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
	}
}

package browser

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const devtoolsPort nat.Port = "3000/tcp"

// DockerOptions configures a containerised browser backed by a host profile directory.
type DockerOptions struct {
	Image       string
	UserDataDir string
	Name        string
}

// DockerLauncher runs the browser inside a browserless container with the
// profile directory bind-mounted, for hosts without a local Chrome.
type DockerLauncher struct {
	client      *client.Client
	opts        DockerOptions
	containerID string
}

func NewDockerLauncher(opts DockerOptions) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if opts.Name == "" {
		opts.Name = "browserbase-live"
	}
	return &DockerLauncher{client: cli, opts: opts}, nil
}

// containerSpec builds the container and host configuration for one launch.
func containerSpec(opts DockerOptions, profileDir string) (*container.Config, *container.HostConfig) {
	cfg := &container.Config{
		Image: opts.Image,
		Labels: map[string]string{
			"managed-by": "browserbase-live",
		},
		Env: []string{
			"CONNECTION_TIMEOUT=-1",
			"MAX_CONCURRENT_SESSIONS=1",
			"PREBOOT_CHROME=true",
			"KEEP_ALIVE=true",
			"EXIT_ON_HEALTH_FAILURE=false",
			"DEFAULT_USER_DATA_DIR=/data",
		},
		ExposedPorts: nat.PortSet{
			devtoolsPort: struct{}{},
		},
	}
	host := &container.HostConfig{
		PortBindings: nat.PortMap{
			devtoolsPort: []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: "0"}},
		},
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: profileDir, Target: "/data"},
		},
	}
	return cfg, host
}

func (d *DockerLauncher) Launch(ctx context.Context) (string, error) {
	if err := d.EnsureImage(ctx); err != nil {
		return "", err
	}

	profileDir, err := filepath.Abs(d.opts.UserDataDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve user data directory: %w", err)
	}
	cfg, host := containerSpec(d.opts, profileDir)

	resp, err := d.client.ContainerCreate(ctx, cfg, host, nil, nil, d.opts.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	d.containerID = resp.ID

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.Kill()
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	inspect, err := d.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		d.Kill()
		return "", fmt.Errorf("failed to inspect container: %w", err)
	}
	bindings := inspect.NetworkSettings.Ports[devtoolsPort]
	if len(bindings) == 0 {
		d.Kill()
		return "", fmt.Errorf("container exposes no devtools port")
	}
	port := bindings[0].HostPort

	if err := waitForBrowserReady(ctx, port); err != nil {
		d.Kill()
		return "", fmt.Errorf("browser failed to become ready: %w", err)
	}
	return fmt.Sprintf("ws://127.0.0.1:%s", port), nil
}

// Kill stops and removes the container. The bind-mounted profile survives.
func (d *DockerLauncher) Kill() error {
	if d.containerID == "" {
		return nil
	}
	id := d.containerID
	d.containerID = ""

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	timeout := 10
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}
	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{}); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}
	return nil
}

func (d *DockerLauncher) Describe() string {
	return "docker:" + d.opts.Image
}

// EnsureImage pulls the browser image unless it is already present.
func (d *DockerLauncher) EnsureImage(ctx context.Context) error {
	images, err := d.client.ImageList(ctx, image.ListOptions{})
	if err != nil {
		return err
	}
	for _, img := range images {
		for _, tag := range img.RepoTags {
			if tag == d.opts.Image {
				return nil
			}
		}
	}

	reader, err := d.client.ImagePull(ctx, d.opts.Image, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()

	_, err = io.Copy(io.Discard, reader)
	return err
}

func (d *DockerLauncher) Close() error {
	return d.client.Close()
}

// waitForBrowserReady polls /json/version until the devtools endpoint answers.
func waitForBrowserReady(ctx context.Context, port string) error {
	url := fmt.Sprintf("http://127.0.0.1:%s/json/version", port)
	const maxRetries = 20

	for i := 0; i < maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
		if err := sleep(ctx, 500*time.Millisecond); err != nil {
			return err
		}
	}
	return fmt.Errorf("browser did not become ready after %d retries", maxRetries)
}

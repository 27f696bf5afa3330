package runner

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/registry"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/opnlabs/dotmatrix/pkg/models"
	"github.com/opnlabs/dotmatrix/pkg/workspace"
)

const (
	DefaultImageTemplate = "{language}:{version}"
	dockerSocket         = "/var/run/docker.sock"

	// containerPath only locates the shell. The state dump restores PATH.
	containerPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

type DockerRunnerOptions struct {
	// ImageTemplate names the image for a cell. {language} and {version}
	// are replaced with the cell's values.
	ImageTemplate     string
	Shell             string
	ShowImagePull     bool
	PullOutput        io.Writer
	MountDockerSocket bool
	Username          string
	Password          string
}

// DockerProvisioner runs every cell in its own long lived container. The
// cell's workspace is bind mounted and commands run through docker exec.
type DockerProvisioner struct {
	cli  *client.Client
	opts DockerRunnerOptions
}

func NewDockerProvisioner(opts DockerRunnerOptions) (*DockerProvisioner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("unable to create docker client: %w", err)
	}
	if opts.ImageTemplate == "" {
		opts.ImageTemplate = DefaultImageTemplate
	}
	if opts.Shell == "" {
		opts.Shell = "bash"
	}
	if opts.PullOutput == nil {
		opts.PullOutput = io.Discard
	}
	return &DockerProvisioner{cli: cli, opts: opts}, nil
}

// Ping checks that the docker daemon answers.
func (d *DockerProvisioner) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return err
}

func (d *DockerProvisioner) Close() error {
	return d.cli.Close()
}

// Image returns the image a cell runs in.
func (d *DockerProvisioner) Image(cell models.Cell) string {
	return ImageFor(d.opts.ImageTemplate, cell)
}

// ImageFor expands an image template for cell.
func ImageFor(template string, cell models.Cell) string {
	return strings.NewReplacer("{language}", cell.Language, "{version}", cell.Version).Replace(template)
}

func (d *DockerProvisioner) Provision(ctx context.Context, cell models.Cell, ws *workspace.Workspace, vars []models.Variable) (Environment, error) {
	image := d.Image(cell)
	name := slug.Make("dotmatrix-" + cell.ID + "-" + uuid.NewString()[:8])

	if err := d.pull(ctx, image); err != nil {
		return nil, fmt.Errorf("unable to pull image %s for %s: %w", image, cell.ID, err)
	}

	mounts := []mount.Mount{
		{Type: mount.TypeBind, Source: ws.Src, Target: WORKING_DIR},
		{Type: mount.TypeBind, Source: ws.State, Target: STATE_DIR},
	}
	if d.opts.MountDockerSocket {
		mounts = append(mounts, mount.Mount{Type: mount.TypeBind, Source: dockerSocket, Target: dockerSocket})
	}

	env := BuildEnv(cell, WORKING_DIR, STATE_DIR, vars)
	resp, err := d.cli.ContainerCreate(ctx, &container.Config{
		Image:      image,
		Env:        env,
		Entrypoint: []string{"tail", "-f", "/dev/null"},
		WorkingDir: WORKING_DIR,
	}, &container.HostConfig{
		Mounts: mounts,
	}, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("unable to create container %s: %w", name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		d.cli.ContainerRemove(context.Background(), resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("unable to start container %s: %w", name, err)
	}

	return &dockerEnvironment{
		cli:         d.cli,
		name:        name,
		containerID: resp.ID,
		shell:       d.opts.Shell,
		env:         env,
		ws:          ws,
	}, nil
}

func (d *DockerProvisioner) pull(ctx context.Context, image string) error {
	auth, err := d.registryAuth()
	if err != nil {
		return err
	}
	reader, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{RegistryAuth: auth})
	if err != nil {
		return err
	}
	defer reader.Close()

	// The pull only completes once the progress stream is drained.
	out := io.Discard
	if d.opts.ShowImagePull {
		out = d.opts.PullOutput
	}
	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("unable to read image pull logs: %w", err)
	}
	return nil
}

func (d *DockerProvisioner) registryAuth() (string, error) {
	if d.opts.Username == "" && d.opts.Password == "" {
		return "", nil
	}
	return registry.EncodeAuthConfig(registry.AuthConfig{
		Username: d.opts.Username,
		Password: d.opts.Password,
	})
}

type dockerEnvironment struct {
	cli         *client.Client
	name        string
	containerID string
	shell       string
	env         []string
	ws          *workspace.Workspace
}

func (d *dockerEnvironment) Exec(ctx context.Context, command string, stdout, stderr io.Writer) (int, error) {
	if err := writeStep(d.ws.State, command); err != nil {
		return -1, err
	}

	cmd := []string{d.shell, "-c", stepScript}
	if stateSaved(d.ws.State) {
		cmd = append([]string{"env", "-i", "PATH=" + containerPath, "DOTMATRIX_STATE=" + STATE_DIR}, cmd...)
	}
	created, err := d.cli.ContainerExecCreate(ctx, d.containerID, types.ExecConfig{
		Cmd:          cmd,
		Env:          d.env,
		WorkingDir:   WORKING_DIR,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("unable to create exec in %s: %w", d.name, err)
	}

	hijacked, err := d.cli.ContainerExecAttach(ctx, created.ID, types.ExecStartCheck{})
	if err != nil {
		return -1, fmt.Errorf("unable to attach to exec in %s: %w", d.name, err)
	}
	defer hijacked.Close()

	done := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, hijacked.Reader)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return -1, fmt.Errorf("unable to read exec output from %s: %w", d.name, err)
		}
	case <-ctx.Done():
		return -1, ctx.Err()
	}

	for {
		inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return -1, fmt.Errorf("unable to inspect exec in %s: %w", d.name, err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func (d *dockerEnvironment) Close(ctx context.Context) error {
	if err := d.cli.ContainerRemove(ctx, d.containerID, types.ContainerRemoveOptions{Force: true}); err != nil {
		return fmt.Errorf("unable to remove container %s: %w", d.name, err)
	}
	return nil
}

package isolation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/metalagman/swarm/internal/model"
	"github.com/rs/zerolog/log"
)

// containerResultsDir is where the host results dir is mounted.
const containerResultsDir = "/swarm/results"

// killGrace is how long past the task timeout a container may run before it
// is killed. The worker enforces the task timeout itself.
const killGrace = 30 * time.Second

// DockerConfig configures the container launcher.
type DockerConfig struct {
	Image   string   `json:"image"    mapstructure:"image"`
	Command []string `json:"command"  mapstructure:"command"`
	Network string   `json:"network"  mapstructure:"network"`
	PassEnv []string `json:"pass_env" mapstructure:"pass_env"`
	// LogDir receives <agent-id>/container.log. Empty disables.
	LogDir string `json:"-" mapstructure:"-"`
}

// ContainerSpec is the runtime-neutral description of one worker container.
type ContainerSpec struct {
	Name       string
	Image      string
	Cmd        []string
	Env        []string
	Network    string
	ResultsDir string
}

// Runtime is the subset of the container engine the launcher needs.
type Runtime interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, id string) error
	Wait(ctx context.Context, id string) (int64, error)
	Logs(ctx context.Context, id string, w io.Writer) error
	Kill(ctx context.Context, id string) error
	Remove(ctx context.Context, id string) error
}

// Docker runs each task in a fresh container executing `swarm worker`.
type Docker struct {
	rt  Runtime
	cfg DockerConfig
}

// NewDocker returns a container launcher over rt.
func NewDocker(rt Runtime, cfg DockerConfig) *Docker {
	if len(cfg.Command) == 0 {
		cfg.Command = []string{"swarm", "worker"}
	}
	return &Docker{rt: rt, cfg: cfg}
}

func (d *Docker) Launch(ctx context.Context, task model.AgentTask, resultPath string, timeout time.Duration) error {
	hostResults, err := filepath.Abs(filepath.Dir(resultPath))
	if err != nil {
		return fmt.Errorf("resolve results dir: %w", err)
	}
	if err := os.MkdirAll(hostResults, 0o755); err != nil {
		return fmt.Errorf("create results dir: %w", err)
	}

	env := task.Env(timeout, containerResultsDir+"/"+filepath.Base(resultPath))
	for _, name := range d.cfg.PassEnv {
		if v, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+v)
		}
	}

	spec := ContainerSpec{
		Name:       fmt.Sprintf("swarm-%s-%s", model.Slug(task.AgentID), uuid.NewString()[:8]),
		Image:      d.cfg.Image,
		Cmd:        d.cfg.Command,
		Env:        env,
		Network:    d.cfg.Network,
		ResultsDir: hostResults,
	}
	id, err := d.rt.Create(ctx, spec)
	if err != nil {
		return fmt.Errorf("create container for %s: %w", task.AgentID, err)
	}
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if err := d.rt.Remove(cleanupCtx, id); err != nil {
			log.Warn().Err(err).Str("container", spec.Name).Msg("remove container")
		}
	}()

	if err := d.rt.Start(ctx, id); err != nil {
		return fmt.Errorf("start container %s: %w", spec.Name, err)
	}
	log.Info().Str("agent_id", task.AgentID).Str("container", spec.Name).Str("image", spec.Image).Msg("container started")

	waitCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, timeout+killGrace)
		defer cancel()
	}
	code, waitErr := d.rt.Wait(waitCtx, id)
	if waitErr != nil && waitCtx.Err() != nil {
		log.Warn().Str("container", spec.Name).Msg("container exceeded its timeout, killing")
		if err := d.rt.Kill(cleanupCtx, id); err != nil {
			log.Warn().Err(err).Str("container", spec.Name).Msg("kill container")
		}
	}
	d.saveLogs(cleanupCtx, id, task.AgentID)

	switch {
	case waitErr != nil:
		return fmt.Errorf("wait for container %s: %w", spec.Name, waitErr)
	case code != 0:
		return fmt.Errorf("container %s exited with code %d", spec.Name, code)
	}
	return nil
}

func (d *Docker) saveLogs(ctx context.Context, id, agentID string) {
	if d.cfg.LogDir == "" {
		return
	}
	dir := filepath.Join(d.cfg.LogDir, model.Slug(agentID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("create container log dir")
		return
	}
	f, err := os.Create(filepath.Join(dir, "container.log"))
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("create container log")
		return
	}
	defer func() { _ = f.Close() }()
	if err := d.rt.Logs(ctx, id, f); err != nil {
		log.Warn().Err(err).Str("agent_id", agentID).Msg("collect container logs")
	}
}

// DockerRuntime adapts the Docker engine client to Runtime.
type DockerRuntime struct {
	client *client.Client
}

// NewDockerRuntime connects to the engine configured by the environment.
func NewDockerRuntime() (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &DockerRuntime{client: cli}, nil
}

// Close closes the client connection.
func (r *DockerRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *DockerRuntime) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	hostCfg := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: spec.ResultsDir,
			Target: containerResultsDir,
		}},
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}
	resp, err := r.client.ContainerCreate(ctx, &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Env:    spec.Env,
		Labels: map[string]string{"swarm.agent": spec.Name},
	}, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", err
	}
	for _, w := range resp.Warnings {
		log.Warn().Str("container", spec.Name).Msg(w)
	}
	return resp.ID, nil
}

func (r *DockerRuntime) Start(ctx context.Context, id string) error {
	return r.client.ContainerStart(ctx, id, container.StartOptions{})
}

func (r *DockerRuntime) Wait(ctx context.Context, id string) (int64, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		return -1, err
	case st := <-statusCh:
		if st.Error != nil {
			return st.StatusCode, errors.New(st.Error.Message)
		}
		return st.StatusCode, nil
	}
}

func (r *DockerRuntime) Logs(ctx context.Context, id string, w io.Writer) error {
	rc, err := r.client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return err
	}
	defer func() { _ = rc.Close() }()
	_, err = stdcopy.StdCopy(w, w, rc)
	return err
}

func (r *DockerRuntime) Kill(ctx context.Context, id string) error {
	err := r.client.ContainerKill(ctx, id, "KILL")
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

func (r *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := r.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if client.IsErrNotFound(err) {
		return nil
	}
	return err
}

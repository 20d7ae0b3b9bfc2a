package run

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/strslice"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// DockerClient is the subset of *github.com/docker/docker/client.Client used by DockerRunner.
type DockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID string, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerRunner runs the build tool inside a container without network access.
// Params.Dir and Params.OutputDir are bind-mounted at the same paths,
// so they must be absolute and the tool sees the same paths as the worker.
type DockerRunner struct {
	Client DockerClient // required
	Image  string       // required, must contain the tool
	Tool   string       // required, executable name or path inside the image
	User   string       // "uid:gid" for files written into OutputDir, image default if empty
}

// defaultCapAdd is Docker's default capability set.
// See https://github.com/moby/moby/blob/master/oci/caps/defaults.go.
var defaultCapAdd = strslice.StrSlice{
	"CAP_CHOWN",
	"CAP_DAC_OVERRIDE",
	"CAP_FSETID",
	"CAP_FOWNER",
	"CAP_MKNOD",
	"CAP_NET_RAW",
	"CAP_SETGID",
	"CAP_SETUID",
	"CAP_SETFCAP",
	"CAP_SETPCAP",
	"CAP_NET_BIND_SERVICE",
	"CAP_SYS_CHROOT",
	"CAP_KILL",
	"CAP_AUDIT_WRITE",
}

func (r *DockerRunner) Run(ctx context.Context, params *Params) (*Result, error) {
	// Cleanup must happen even after ctx is canceled.
	cleanupCtx := context.WithoutCancel(ctx)

	createResp, err := r.Client.ContainerCreate(
		ctx,
		&container.Config{
			Image:           r.Image,
			Entrypoint:      strslice.StrSlice{r.Tool},
			Cmd:             strslice.StrSlice(params.Args),
			WorkingDir:      params.Dir,
			User:            r.User,
			AttachStdout:    true,
			AttachStderr:    true,
			NetworkDisabled: true,
		},
		&container.HostConfig{
			NetworkMode:    "none",
			CapDrop:        strslice.StrSlice{"ALL"},
			CapAdd:         defaultCapAdd,
			ReadonlyRootfs: true,
			Mounts:         bindMounts(params),
		},
		nil,
		nil,
		"",
	)
	if err != nil {
		return nil, &Error{Op: OpStart, Err: err}
	}
	if len(createResp.Warnings) > 0 {
		slog.Warn("created build container with warnings", "id", createResp.ID, "warnings", createResp.Warnings)
	}
	defer func() {
		err := r.Client.ContainerRemove(cleanupCtx, createResp.ID, container.RemoveOptions{Force: true})
		if err != nil {
			slog.Error("didn't remove build container", "id", createResp.ID, "error", err)
		}
	}()

	err = r.Client.ContainerStart(ctx, createResp.ID, container.StartOptions{})
	if err != nil {
		return nil, &Error{Op: OpStart, Err: err}
	}
	slog.Debug("started build container", "id", createResp.ID, "image", r.Image)

	timer := time.NewTimer(params.Timeout)
	defer timer.Stop()

	waitRespCh, waitErrCh := r.Client.ContainerWait(ctx, createResp.ID, container.WaitConditionNotRunning)

	result := &Result{}
	select {
	case waitResp := <-waitRespCh:
		if waitResp.Error != nil {
			return nil, &Error{Op: OpWait, Err: errors.New(waitResp.Error.Message)}
		}
		exitCode := int(waitResp.StatusCode)
		result.ExitCode = &exitCode
	case err = <-waitErrCh:
		r.kill(cleanupCtx, createResp.ID)
		return nil, &Error{Op: OpWait, Err: err}
	case <-timer.C:
		result.TimedOut = true
		r.kill(cleanupCtx, createResp.ID)
		select {
		case <-waitRespCh:
		case err = <-waitErrCh:
			return nil, &Error{Op: OpWait, Err: err}
		}
	}

	stdout, stderr := r.logs(cleanupCtx, createResp.ID)
	result.Stdout = decodeText(stdout)
	result.Stderr = decodeText(stderr)

	return result, nil
}

func (r *DockerRunner) kill(ctx context.Context, id string) {
	err := r.Client.ContainerKill(ctx, id, "KILL")
	if err != nil {
		slog.Error("didn't kill build container", "id", id, "error", err)
	}
}

// logs collects the container output. Failures are logged and leave the output partial.
func (r *DockerRunner) logs(ctx context.Context, id string) (stdout, stderr []byte) {
	rc, err := r.Client.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		slog.Warn("didn't get build container logs", "id", id, "error", err)
		return nil, nil
	}
	defer func() {
		_ = rc.Close()
	}()

	var stdoutBuf, stderrBuf bytes.Buffer
	_, err = stdcopy.StdCopy(&stdoutBuf, &stderrBuf, rc)
	if err != nil {
		slog.Warn("didn't copy build container logs", "id", id, "error", err)
	}
	return stdoutBuf.Bytes(), stderrBuf.Bytes()
}

// bindMounts mounts Dir and OutputDir, skipping OutputDir when Dir already contains it.
func bindMounts(params *Params) []mount.Mount {
	mounts := []mount.Mount{{
		Type:   mount.TypeBind,
		Source: params.Dir,
		Target: params.Dir,
	}}

	rel, err := filepath.Rel(params.Dir, params.OutputDir)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeBind,
			Source: params.OutputDir,
			Target: params.OutputDir,
		})
	}

	return append(mounts, mount.Mount{
		Type:   mount.TypeTmpfs,
		Target: "/tmp",
		TmpfsOptions: &mount.TmpfsOptions{
			SizeBytes: 256 * 1024 * 1024, // 256MB
			Mode:      0o1777,
		},
	})
}

// Package sandbox provides an opt-in, non-privileged stand-in for the
// `qm` hypervisor CLI, for development and CI environments that have no
// real Proxmox host: each "VM" is backed by a containerd container
// instead. It is wired in only when root-agentd is started with the
// --sandbox flag; production deployments use the real qm-* subprocess
// handlers unchanged.
//
// Adapted from the teacher's pkg/runtime/containerd.go client wrapper
// and pkg/embedded/{containerd.go,lima.go} bootstrap, repurposed from
// "run a workload container" to "stand in for one VM".
package sandbox

import (
	"context"
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
)

const namespace = "blockhost-sandbox"

// Backend is the minimal VM-lifecycle surface the qm-* handlers need;
// swapping it lets the daemon run against a real hypervisor or this
// sandbox without changing handler code.
type Backend interface {
	Start(ctx context.Context, vmid int) error
	Stop(ctx context.Context, vmid int) error
	Shutdown(ctx context.Context, vmid int) error
	Destroy(ctx context.Context, vmid int) error
	Create(ctx context.Context, vmid int, name, image string) error
}

// ContainerdBackend stands in for qm by mapping each VMID onto a
// containerd container of the same name.
type ContainerdBackend struct {
	client *containerd.Client
}

// NewContainerdBackend dials the containerd socket at addr (typically
// the embedded daemon's socket in dev mode).
func NewContainerdBackend(addr string) (*ContainerdBackend, error) {
	client, err := containerd.New(addr)
	if err != nil {
		return nil, fmt.Errorf("sandbox: connect containerd: %w", err)
	}
	return &ContainerdBackend{client: client}, nil
}

func (b *ContainerdBackend) containerName(vmid int) string {
	return fmt.Sprintf("vm-%d", vmid)
}

func (b *ContainerdBackend) withNamespace(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, namespace)
}

// Create pulls image and creates (but does not start) a container
// standing in for vmid.
func (b *ContainerdBackend) Create(ctx context.Context, vmid int, name, image string) error {
	ctx = b.withNamespace(ctx)

	img, err := b.client.Pull(ctx, image, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("sandbox: pull %s: %w", image, err)
	}

	_, err = b.client.NewContainer(
		ctx,
		b.containerName(vmid),
		containerd.WithImage(img),
		containerd.WithNewSnapshot(b.containerName(vmid)+"-snapshot", img),
		containerd.WithNewSpec(oci.WithImageConfig(img), oci.WithHostname(name)),
	)
	if err != nil {
		return fmt.Errorf("sandbox: create container for vmid %d: %w", vmid, err)
	}
	return nil
}

// Start creates and starts the task for vmid's container.
func (b *ContainerdBackend) Start(ctx context.Context, vmid int) error {
	ctx = b.withNamespace(ctx)
	container, err := b.client.LoadContainer(ctx, b.containerName(vmid))
	if err != nil {
		return fmt.Errorf("sandbox: load vmid %d: %w", vmid, err)
	}
	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return fmt.Errorf("sandbox: create task for vmid %d: %w", vmid, err)
	}
	return task.Start(ctx)
}

func (b *ContainerdBackend) signalTask(ctx context.Context, vmid int, force bool) error {
	ctx = b.withNamespace(ctx)
	container, err := b.client.LoadContainer(ctx, b.containerName(vmid))
	if err != nil {
		return fmt.Errorf("sandbox: load vmid %d: %w", vmid, err)
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return fmt.Errorf("sandbox: no running task for vmid %d: %w", vmid, err)
	}
	var sig uint32 = 15 // SIGTERM
	if force {
		sig = 9 // SIGKILL
	}
	return task.Kill(ctx, sig)
}

// Stop force-kills the container standing in for vmid.
func (b *ContainerdBackend) Stop(ctx context.Context, vmid int) error {
	return b.signalTask(ctx, vmid, true)
}

// Shutdown sends a graceful termination signal.
func (b *ContainerdBackend) Shutdown(ctx context.Context, vmid int) error {
	return b.signalTask(ctx, vmid, false)
}

// Destroy stops (if running) and deletes the container standing in for
// vmid.
func (b *ContainerdBackend) Destroy(ctx context.Context, vmid int) error {
	ctx = b.withNamespace(ctx)
	container, err := b.client.LoadContainer(ctx, b.containerName(vmid))
	if err != nil {
		return fmt.Errorf("sandbox: load vmid %d: %w", vmid, err)
	}
	if task, err := container.Task(ctx, nil); err == nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
	}
	return container.Delete(ctx, containerd.WithSnapshotCleanup)
}

// Close releases the underlying containerd client connection.
func (b *ContainerdBackend) Close() error {
	return b.client.Close()
}

var _ Backend = (*ContainerdBackend)(nil)

package gateway

import (
	"context"

	"github.com/locomotive-agency/mcp-router-sub000/pkg/runtime"
)

// fakeRuntime is a minimal in-memory runtime.WorkloadRuntime for exercising
// Session/SessionManager without a Docker daemon.
type fakeRuntime struct {
	nextID int

	startCalls  int
	stopCalls   int
	removeCalls int
	execCalls   int

	startErr error
	execErr  error

	// existsFlag/existsID/existsState control Exists/Status, for exercising
	// Session.Attach without a real container.
	existsFlag  bool
	existsID    runtime.WorkloadID
	existsState runtime.WorkloadState
}

func newFakeRuntime() *fakeRuntime { return &fakeRuntime{} }

func (f *fakeRuntime) Start(_ context.Context, cfg runtime.WorkloadConfig) (*runtime.WorkloadStatus, error) {
	f.startCalls++
	if f.startErr != nil {
		return nil, f.startErr
	}
	f.nextID++
	return &runtime.WorkloadStatus{
		ID:    runtime.WorkloadID("container-1"),
		Name:  cfg.Name,
		Stack: cfg.Stack,
		State: runtime.WorkloadStateRunning,
	}, nil
}

func (f *fakeRuntime) Stop(context.Context, runtime.WorkloadID) error {
	f.stopCalls++
	return nil
}

func (f *fakeRuntime) Remove(context.Context, runtime.WorkloadID) error {
	f.removeCalls++
	return nil
}

func (f *fakeRuntime) Status(_ context.Context, id runtime.WorkloadID) (*runtime.WorkloadStatus, error) {
	state := f.existsState
	if state == "" {
		state = runtime.WorkloadStateRunning
	}
	return &runtime.WorkloadStatus{ID: id, State: state}, nil
}

func (f *fakeRuntime) Exists(context.Context, string) (bool, runtime.WorkloadID, error) {
	if !f.existsFlag {
		return false, "", nil
	}
	return true, f.existsID, nil
}

func (f *fakeRuntime) List(context.Context, runtime.WorkloadFilter) ([]runtime.WorkloadStatus, error) {
	return nil, nil
}

func (f *fakeRuntime) GetHostPort(context.Context, runtime.WorkloadID, int) (int, error) {
	return 0, nil
}

func (f *fakeRuntime) EnsureNetwork(context.Context, string, runtime.NetworkOptions) error {
	return nil
}

func (f *fakeRuntime) ListNetworks(context.Context, string) ([]string, error) { return nil, nil }

func (f *fakeRuntime) RemoveNetwork(context.Context, string) error { return nil }

func (f *fakeRuntime) EnsureImage(context.Context, string) error { return nil }

func (f *fakeRuntime) Exec(context.Context, runtime.WorkloadID, string) (string, error) {
	f.execCalls++
	return "", f.execErr
}

func (f *fakeRuntime) Ping(context.Context) error { return nil }

func (f *fakeRuntime) Close() error { return nil }

var _ runtime.WorkloadRuntime = (*fakeRuntime)(nil)

package identity

import (
	"context"
	"errors"
	"os"
	"slices"
	"syscall"
	"time"

	psprocess "github.com/shirou/gopsutil/v4/process"

	"github.com/bcpc-build/bcpc-build/pkg/log"
)

// ErrSelfTermination is returned when asked to kill the calling process.
var ErrSelfTermination = errors.New("refusing to terminate own process")

const pollInterval = 100 * time.Millisecond

// KillProcessTree sends sig to pid and all of its descendants, waits up to
// timeout for them to exit, then SIGKILLs the survivors and waits again.
// Processes still alive after that are logged and returned; they are not
// treated as an error.
func (m *Manager) KillProcessTree(ctx context.Context, pid int32, sig syscall.Signal, timeout time.Duration) (gone, alive []int32, err error) {
	if pid == int32(os.Getpid()) {
		return nil, nil, ErrSelfTermination
	}

	root, err := psprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		// already exited
		return []int32{pid}, nil, nil
	}

	procs := append([]*psprocess.Process{root}, descendants(ctx, root)...)
	gone, alive = m.terminate(ctx, handles(procs), sig, timeout)
	return gone, alive, nil
}

// KillUserProcesses terminates every process whose real uid belongs to the
// named account, along with their descendants. A missing account has no
// processes.
func (m *Manager) KillUserProcesses(ctx context.Context, name string, timeout time.Duration) (alive []int32, err error) {
	acct, err := m.lookup(name)
	if err != nil {
		m.logger.Debug("No account, nothing to kill", log.User(name), log.Err(err))
		return nil, nil
	}

	all, err := psprocess.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	self := int32(os.Getpid())
	seen := make(map[int32]bool)
	var procs []*psprocess.Process
	add := func(p *psprocess.Process) {
		if p.Pid == self || seen[p.Pid] {
			return
		}
		seen[p.Pid] = true
		procs = append(procs, p)
	}
	for _, p := range all {
		uids, err := p.UidsWithContext(ctx)
		if err != nil || len(uids) == 0 || int(uids[0]) != acct.UID {
			continue
		}
		add(p)
		for _, child := range descendants(ctx, p) {
			add(child)
		}
	}
	if len(procs) == 0 {
		return nil, nil
	}

	m.logger.Info("Terminating user processes", log.User(name), log.Int("count", len(procs)))
	_, alive = m.terminate(ctx, handles(procs), syscall.SIGTERM, timeout)
	return alive, nil
}

// procHandle is the part of a process terminate needs.
type procHandle interface {
	ID() int32
	Signal(ctx context.Context, sig syscall.Signal) error
	Exited(ctx context.Context) bool
}

type osProc struct {
	p *psprocess.Process
}

func handles(procs []*psprocess.Process) []procHandle {
	out := make([]procHandle, len(procs))
	for i, p := range procs {
		out[i] = osProc{p}
	}
	return out
}

func (o osProc) ID() int32 { return o.p.Pid }

func (o osProc) Signal(ctx context.Context, sig syscall.Signal) error {
	return o.p.SendSignalWithContext(ctx, sig)
}

// Exited treats zombies as gone: they hold no resources besides the pid.
func (o osProc) Exited(ctx context.Context) bool {
	running, err := o.p.IsRunningWithContext(ctx)
	if err != nil || !running {
		return true
	}
	status, err := o.p.StatusWithContext(ctx)
	if err != nil {
		return true
	}
	return slices.Contains(status, psprocess.Zombie)
}

// terminate signals procs and waits up to timeout, then SIGKILLs whatever
// is left and waits once more. Only processes that outlive both rounds are
// reported alive.
func (m *Manager) terminate(ctx context.Context, procs []procHandle, sig syscall.Signal, timeout time.Duration) (gone, alive []int32) {
	var pending []procHandle
	for _, p := range procs {
		if err := p.Signal(ctx, sig); err != nil && p.Exited(ctx) {
			gone = append(gone, p.ID())
			continue
		}
		pending = append(pending, p)
	}

	exitedNow, pending := waitExit(ctx, pending, timeout)
	gone = append(gone, exitedNow...)

	if len(pending) > 0 {
		for _, p := range pending {
			m.logger.Debug("Escalating to SIGKILL", log.Int("pid", int(p.ID())))
			_ = p.Signal(ctx, syscall.SIGKILL)
		}
		exitedNow, pending = waitExit(ctx, pending, timeout)
		gone = append(gone, exitedNow...)
	}

	for _, p := range pending {
		m.logger.Warn("Process survived termination", log.Int("pid", int(p.ID())))
		alive = append(alive, p.ID())
	}
	slices.Sort(gone)
	return gone, alive
}

// waitExit polls procs until all have exited or timeout elapses.
func waitExit(ctx context.Context, procs []procHandle, timeout time.Duration) (gone []int32, pending []procHandle) {
	deadline := time.Now().Add(timeout)
	pending = procs
	for {
		var still []procHandle
		for _, p := range pending {
			if p.Exited(ctx) {
				gone = append(gone, p.ID())
			} else {
				still = append(still, p)
			}
		}
		pending = still
		if len(pending) == 0 || !time.Now().Before(deadline) || ctx.Err() != nil {
			return gone, pending
		}
		time.Sleep(pollInterval)
	}
}

func descendants(ctx context.Context, p *psprocess.Process) []*psprocess.Process {
	var out []*psprocess.Process
	seen := map[int32]bool{p.Pid: true}
	queue := []*psprocess.Process{p}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := cur.ChildrenWithContext(ctx)
		if err != nil {
			continue
		}
		for _, c := range children {
			if seen[c.Pid] {
				continue
			}
			seen[c.Pid] = true
			out = append(out, c)
			queue = append(queue, c)
		}
	}
	return out
}

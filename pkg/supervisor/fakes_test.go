package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/core-tools/hsu-procman/pkg/process"
	"github.com/core-tools/hsu-procman/pkg/resourcelimits"
)

type fakeProcess struct {
	pid  int
	done chan struct{}
	once sync.Once

	mutex  sync.Mutex
	status process.ExitStatus

	// ignoreTerminate keeps the process alive until Kill
	ignoreTerminate bool

	terminates atomic.Int32
	kills      atomic.Int32
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) exit(code int, signaled bool) {
	p.once.Do(func() {
		p.mutex.Lock()
		p.status = process.ExitStatus{ExitCode: code, Signaled: signaled, ExitedAt: time.Now()}
		p.mutex.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) Pid() int {
	return p.pid
}

func (p *fakeProcess) Done() <-chan struct{} {
	return p.done
}

func (p *fakeProcess) ExitStatus() process.ExitStatus {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.status
}

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) Terminate() error {
	p.terminates.Add(1)
	if !p.ignoreTerminate {
		p.exit(-1, true)
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.kills.Add(1)
	p.exit(-1, true)
	return nil
}

// fakeSpawner hands out fake processes. onSpawn runs before Spawn returns
// and may make the process exit right away.
type fakeSpawner struct {
	mutex     sync.Mutex
	nextPID   int
	spawned   []*fakeProcess
	configs   []process.ExecutionConfig
	err       error
	onSpawn   func(n int, p *fakeProcess)
	spawnedCh chan *fakeProcess
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPID: 1000, spawnedCh: make(chan *fakeProcess, 256)}
}

func (s *fakeSpawner) Spawn(ctx context.Context, execution process.ExecutionConfig) (process.Process, error) {
	s.mutex.Lock()
	if s.err != nil {
		err := s.err
		s.mutex.Unlock()
		return nil, err
	}
	s.nextPID++
	p := newFakeProcess(s.nextPID)
	n := len(s.spawned)
	s.spawned = append(s.spawned, p)
	s.configs = append(s.configs, execution)
	onSpawn := s.onSpawn
	s.mutex.Unlock()

	if onSpawn != nil {
		onSpawn(n, p)
	}
	s.spawnedCh <- p
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return len(s.spawned)
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if len(s.spawned) == 0 {
		return nil
	}
	return s.spawned[len(s.spawned)-1]
}

func (s *fakeSpawner) config(n int) process.ExecutionConfig {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.configs[n]
}

// fakeResourceMonitor reports a fixed RSS for every pid
type fakeResourceMonitor struct {
	rss atomic.Int64
}

func (m *fakeResourceMonitor) GetProcessUsage(pid int) (*resourcelimits.ResourceUsage, error) {
	return &resourcelimits.ResourceUsage{
		Timestamp:    time.Now(),
		PID:          pid,
		MemoryRSS:    m.rss.Load(),
		ProcessCount: 1,
	}, nil
}

func (m *fakeResourceMonitor) SupportsRealTimeMonitoring() bool {
	return true
}

// Package supervisor owns the external engine process and its companion
// result watcher: stale-process reaping, launch with a constructed argument
// set, liveness checks against the process table, and termination.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"mugen-arena/server/battle"
	"mugen-arena/server/config"
	"mugen-arena/server/roster"
	"mugen-arena/server/watcher"
)

// Supervisor launches and tears down engine+watcher pairs. One supervisor is
// shared across battles; it drives at most one engine at a time.
type Supervisor struct {
	engineExe   string
	engineNames []string
	watcherExe  string
	watcherName string
	charsDir    string

	resultLog *watcher.Reader

	launchTimeout time.Duration
	killWait      time.Duration
	pollInterval  time.Duration
}

// New builds a supervisor from config. The reader is used to clear stale
// result logs before each launch.
func New(cfg config.Config, resultLog *watcher.Reader) *Supervisor {
	return &Supervisor{
		engineExe:     cfg.EngineExe,
		engineNames:   cfg.EngineNames,
		watcherExe:    cfg.WatcherExe,
		watcherName:   cfg.WatcherName,
		charsDir:      cfg.CharsDir,
		resultLog:     resultLog,
		launchTimeout: cfg.LaunchTimeout,
		killWait:      cfg.KillWait,
		pollInterval:  cfg.PollInterval,
	}
}

// Launch prepares a clean slate and starts the watcher and engine for one
// spec. Order matters: the watcher must be up before the engine so no result
// line is ever missed.
func (s *Supervisor) Launch(ctx context.Context, spec battle.Spec) (*Handle, error) {
	s.reapStale()

	if err := s.resultLog.Remove(); err != nil {
		return nil, fmt.Errorf("stale result log: %w", err)
	}

	watcherCmd := exec.Command(s.watcherExe)
	watcherCmd.Dir = filepath.Dir(s.watcherExe)
	if err := watcherCmd.Start(); err != nil {
		return nil, fmt.Errorf("start watcher %s: %w", s.watcherExe, err)
	}

	args := Args(spec, s.charsDir)
	engineCmd := exec.CommandContext(ctx, s.engineExe, args...)
	engineCmd.Dir = filepath.Dir(s.engineExe)
	if err := engineCmd.Start(); err != nil {
		stopCmd(watcherCmd, s.killWait)
		return nil, fmt.Errorf("start engine %s: %w", s.engineExe, err)
	}

	h := newHandle(engineCmd, watcherCmd, s.engineNames, s.killWait)

	if !s.awaitVisible(ctx) {
		if h.exited.Load() {
			h.Stop()
			return nil, fmt.Errorf("engine %s exited during startup", s.engineExe)
		}
		// Spawned and alive but never seen in the table (name mismatch,
		// restricted table). Trust the handle and carry on.
		log.Printf("supervisor: engine not observed in process table within %s, proceeding", s.launchTimeout)
	}
	return h, nil
}

// awaitVisible polls the process table until the engine shows up or the
// launch timeout passes.
func (s *Supervisor) awaitVisible(ctx context.Context) bool {
	deadline := time.Now().Add(s.launchTimeout)
	for time.Now().Before(deadline) {
		if len(findByName(s.engineNames)) > 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.pollInterval):
		}
	}
	return false
}

// reapStale removes leftover engine and watcher processes from a previous
// run. Best effort; failures are logged and ignored.
func (s *Supervisor) reapStale() {
	names := append(append([]string{}, s.engineNames...), s.watcherName)
	stale := findByName(names)
	if len(stale) == 0 {
		return
	}
	for _, p := range stale {
		if err := p.Terminate(); err != nil {
			log.Printf("supervisor: terminate pid %d: %v", p.Pid, err)
		}
	}
	deadline := time.Now().Add(s.killWait)
	for time.Now().Before(deadline) && anyRunning(stale) {
		time.Sleep(s.pollInterval)
	}
	for _, p := range stale {
		if running, _ := p.IsRunning(); running {
			log.Printf("supervisor: killing unresponsive pid %d", p.Pid)
			if err := p.Kill(); err != nil {
				log.Printf("supervisor: kill pid %d: %v", p.Pid, err)
			}
		}
	}
}

// findByName returns live processes whose image name matches any of the
// given names, case-insensitive.
func findByName(names []string) []*process.Process {
	want := make(map[string]struct{}, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = struct{}{}
	}
	procs, err := process.Processes()
	if err != nil {
		log.Printf("supervisor: process table: %v", err)
		return nil
	}
	var out []*process.Process
	for _, p := range procs {
		name, err := p.Name()
		if err != nil {
			continue
		}
		if _, ok := want[strings.ToLower(name)]; ok {
			out = append(out, p)
		}
	}
	return out
}

func anyRunning(procs []*process.Process) bool {
	for _, p := range procs {
		if running, _ := p.IsRunning(); running {
			return true
		}
	}
	return false
}

// Handle is one launched engine+watcher pair.
type Handle struct {
	engine      *exec.Cmd
	watcher     *exec.Cmd
	engineNames []string
	killWait    time.Duration
	exited      atomic.Bool
}

func newHandle(engine, watcherCmd *exec.Cmd, names []string, killWait time.Duration) *Handle {
	h := &Handle{engine: engine, watcher: watcherCmd, engineNames: names, killWait: killWait}
	go func() {
		_ = engine.Wait()
		h.exited.Store(true)
	}()
	go func() { _ = watcherCmd.Wait() }()
	return h
}

// Running reports whether the engine is still alive, either via the spawned
// process or any matching image name in the process table. The table check
// covers engines that re-exec themselves under a different pid.
func (h *Handle) Running() bool {
	if !h.exited.Load() {
		return true
	}
	return len(findByName(h.engineNames)) > 0
}

// Stop terminates the engine first, then the watcher.
func (h *Handle) Stop() error {
	engineErr := stopCmd(h.engine, h.killWait)
	watcherErr := stopCmd(h.watcher, h.killWait)
	if engineErr != nil {
		return engineErr
	}
	return watcherErr
}

// stopCmd terminates a spawned process, escalating to kill after the wait.
func stopCmd(cmd *exec.Cmd, killWait time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	p, err := process.NewProcess(int32(cmd.Process.Pid))
	if err != nil {
		// Already reaped.
		return nil
	}
	if running, _ := p.IsRunning(); !running {
		return nil
	}
	if err := p.Terminate(); err != nil {
		return cmd.Process.Kill()
	}
	deadline := time.Now().Add(killWait)
	for time.Now().Before(deadline) {
		if running, _ := p.IsRunning(); !running {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return p.Kill()
}

// Args builds the engine command line for one spec. Single bouts carry the
// two fighters directly; team battles run both sides simultaneous, with
// extra members in alternating odd/even slots and per-member life scaled by
// the opposing side's headcount.
func Args(spec battle.Spec, charsDir string) []string {
	args := []string{"-rounds", strconv.Itoa(spec.Rounds)}

	switch m := spec.Mode.(type) {
	case battle.Single:
		args = append(args,
			"-p1", roster.DefPath(charsDir, m.P1), "-p1.ai", "1",
			"-p2", roster.DefPath(charsDir, m.P2), "-p2.ai", "1",
			"-p2.color", strconv.Itoa(spec.ColorOffset),
		)
	case battle.Team:
		args = append(args, "-tmode1", "simul", "-tmode2", "simul")
		args = append(args,
			"-p1", roster.DefPath(charsDir, m.SideA[0]), "-p1.ai", "1",
			"-p2", roster.DefPath(charsDir, m.SideB[0]), "-p2.ai", "1",
			"-p2.color", strconv.Itoa(spec.ColorOffset),
		)
		lifeA := strconv.Itoa(100 * len(m.SideB) / len(m.SideA))
		lifeB := strconv.Itoa(100 * len(m.SideA) / len(m.SideB))
		// Side A extras occupy the odd slots 3,5,..., side B the even 4,6,...
		for i, name := range m.SideA[1:] {
			slot := strconv.Itoa(3 + 2*i)
			args = append(args,
				"-p"+slot, roster.DefPath(charsDir, name),
				"-p"+slot+".ai", "1",
				"-p"+slot+".life", lifeA,
			)
		}
		for i, name := range m.SideB[1:] {
			slot := strconv.Itoa(4 + 2*i)
			args = append(args,
				"-p"+slot, roster.DefPath(charsDir, name),
				"-p"+slot+".ai", "1",
				"-p"+slot+".life", lifeB,
			)
		}
	}

	return append(args, "-s", spec.Arena)
}

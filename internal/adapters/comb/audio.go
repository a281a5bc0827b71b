package comb

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// DefaultPlayerCommand plays a wav file without output.
const DefaultPlayerCommand = "aplay -q"

// AudioPlayer plays the fallback clip.
type AudioPlayer interface {
	// Play starts the clip. It does not wait for the clip to finish.
	Play(ctx context.Context) error
	// Playing reports whether a clip is still running.
	Playing() bool
	// Stop ends a running clip.
	Stop() error
}

// CommandPlayer plays a file with an external command such as aplay.
type CommandPlayer struct {
	file string
	args []string

	mu  sync.Mutex
	cmd *exec.Cmd
}

// NewCommandPlayer plays file with command, which is split on whitespace and
// receives the file as its last argument.
func NewCommandPlayer(file, command string) (*CommandPlayer, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		args = strings.Fields(DefaultPlayerCommand)
	}
	if _, err := exec.LookPath(args[0]); err != nil {
		return nil, fmt.Errorf("audio player %q: %w", args[0], err)
	}
	return &CommandPlayer{file: file, args: args}, nil
}

func (p *CommandPlayer) Play(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(ctx, p.args[0], append(p.args[1:], p.file)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", p.args[0], err)
	}
	p.cmd = cmd

	go func() {
		_ = cmd.Wait()
		p.mu.Lock()
		if p.cmd == cmd {
			p.cmd = nil
		}
		p.mu.Unlock()
	}()
	return nil
}

func (p *CommandPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd != nil
}

func (p *CommandPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cmd == nil || p.cmd.Process == nil {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *CommandPlayer) String() string {
	return strings.Join(append(append([]string{}, p.args...), p.file), " ")
}

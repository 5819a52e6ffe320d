package process

import (
	"io"
)

// NewPipe wraps the read end of a child's stdout and its write end.
func NewPipe(stdout *io.PipeReader, stdin *io.PipeWriter) Pipe {
	return &pipe{
		stdout: stdout,
		stdin:  stdin,
	}
}

func (p *pipe) Write(data []byte) (int, error) {
	return p.stdin.Write(data)
}

func (p *pipe) Read(data []byte) (int, error) {
	return p.stdout.Read(data)
}

func (p *pipe) Close() error {
	if err := p.stdout.Close(); err != nil {
		return err
	}
	return p.stdin.Close()
}

package transport

import (
	"context"
	"sync"
)

type pipeEnd struct {
	in, out   *Queue[Frame]
	closeOnce sync.Once
}

// Pipe returns two connected in-memory channel ends.
func Pipe() (Channel, Channel) {
	ab, ba := NewQueue[Frame](), NewQueue[Frame]()

	return &pipeEnd{in: ba, out: ab}, &pipeEnd{in: ab, out: ba}
}

func (p *pipeEnd) Send(ctx context.Context, f Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data := make([]byte, len(f.Data))
	copy(data, f.Data)

	return p.out.Push(Frame{Kind: f.Kind, Data: data})
}

func (p *pipeEnd) Recv(ctx context.Context) (Frame, error) {
	return p.in.Pop(ctx)
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() {
		p.in.Close(ErrClosed)
		p.out.Close(ErrClosed)
	})

	return nil
}

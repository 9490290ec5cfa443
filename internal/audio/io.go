package audio

import "context"

// Reader pulls the next frame of audio from an upstream stage. It
// mirrors io.Reader's contract in spirit (blocking, context-cancellable)
// but works in whole Frames rather than bytes, since the pipeline is a
// stack of audio/packet stages rather than a byte stream.
type Reader interface {
	Read(ctx context.Context) (Frame, error)
}

// Writer pushes a frame of audio to a downstream stage.
type Writer interface {
	Write(ctx context.Context, f Frame) error
}

// ReaderFunc adapts a function to a Reader.
type ReaderFunc func(ctx context.Context) (Frame, error)

func (f ReaderFunc) Read(ctx context.Context) (Frame, error) { return f(ctx) }

// WriterFunc adapts a function to a Writer.
type WriterFunc func(ctx context.Context, f Frame) error

func (f WriterFunc) Write(ctx context.Context, fr Frame) error { return f(ctx, fr) }

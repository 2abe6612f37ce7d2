package transcription

import "context"

// Backend starts per-session recognition contexts for one provider.
type Backend interface {
	Provider() string
	Kind() Kind
	Start(ctx context.Context, cfg StartConfig) (Handle, error)
}

// Handle is one open recognition context. Results are pushed through the
// Callbacks given to Start; none are delivered after Stop returns.
type Handle interface {
	Feed(ctx context.Context, pcm []byte) error
	Drain(ctx context.Context) error
	Stop() error
	Done() <-chan struct{}
	Err() error
}

// ChunkTranscriber turns one complete PCM buffer into one result.
type ChunkTranscriber interface {
	Transcribe(ctx context.Context, pcm []byte, opts ChunkOptions) (Result, error)
}

type StreamDialer interface {
	Dial(ctx context.Context, cfg StartConfig) (RemoteStream, error)
}

// RemoteStream is an open provider session. Close must unblock a pending Recv.
type RemoteStream interface {
	Send(pcm []byte) error
	Recv() (Event, error)
	Close() error
}

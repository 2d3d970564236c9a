package reasoning

import (
	"context"

	"go.uber.org/zap"
)

// Placeholder is returned whenever a call cannot produce text. It decodes to
// an empty object, so every stage reads it as "nothing proposed".
const Placeholder = "{}"

type Request struct {
	// Role names the stage for logs, e.g. "HospitalAgent".
	Role string
	// Instruction is sent as the system message.
	Instruction string
	// Context is serialized to JSON and sent as the user message.
	Context interface{}
}

// Response is the raw outcome of one Invoke. Text is always set; Err records
// why a degraded response was produced and is advisory only.
type Response struct {
	Text     string
	Attempts int
	Degraded bool
	Err      error
}

// Client performs one reasoning call. Implementations never return an
// error; failures degrade to Placeholder.
type Client interface {
	Invoke(ctx context.Context, req Request) Response
}

// OfflineClient answers every call with Placeholder without network I/O.
type OfflineClient struct {
	logger *zap.Logger
}

func NewOfflineClient(logger *zap.Logger) *OfflineClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OfflineClient{logger: logger.Named("reasoning")}
}

func (c *OfflineClient) Invoke(ctx context.Context, req Request) Response {
	c.logger.Warn("reasoning credential not set, using placeholder",
		zap.String("role", req.Role),
		zap.String("outcome", "offline"),
	)
	return Response{Text: Placeholder, Degraded: true, Err: ErrOffline}
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) Response

func (f ClientFunc) Invoke(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

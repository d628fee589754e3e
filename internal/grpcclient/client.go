package grpcclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/cocoa-roast-scan/internal/domain"
	"github.com/example/cocoa-roast-scan/internal/logging"
)

// DialClassifier returns a connection to a remote inference server.
func DialClassifier(ctx context.Context, addr string, logger *zap.Logger) (*grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_classifier", "", err)
		logger.Error("failed to dial classifier", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return conn, nil
}

// Classifier serves one model through the Infer RPC.
type Classifier struct {
	conn      *grpc.ClientConn
	model     string
	logger    *zap.Logger
	ownsConn  bool
	closeOnce sync.Once
	closeErr  error

	mu     sync.RWMutex
	closed bool
}

// NewClassifier binds model to conn. When ownsConn is set, Close also closes conn.
func NewClassifier(conn *grpc.ClientConn, model string, ownsConn bool, logger *zap.Logger) *Classifier {
	return &Classifier{
		conn:     conn,
		model:    model,
		ownsConn: ownsConn,
		logger:   logger.Named("grpc_classifier").With(zap.String("model", model)),
	}
}

// Probe asks the server's health service whether model is serving.
func (c *Classifier) Probe(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(c.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: c.model})
	if err != nil {
		return fmt.Errorf("%w: health check %s: %v", domain.ErrModelUnavailable, c.model, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("%w: %s is %s", domain.ErrModelUnavailable, c.model, resp.GetStatus())
	}
	return nil
}

// Infer implements classifier.Classifier.
func (c *Classifier) Infer(ctx context.Context, tensor domain.Tensor) (domain.ScoreVector, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("%w: %s closed", domain.ErrModelUnavailable, c.model)
	}

	req, err := encodeInferRequest(c.model, tensor)
	if err != nil {
		return nil, err
	}
	resp := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, InferMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("grpcclient.infer", c.model, err)
		c.logger.Error("classifier call failed", zap.Error(wrapped))
		if code := status.Code(err); code == codes.NotFound || code == codes.Unavailable {
			return nil, fmt.Errorf("%w: %v", domain.ErrModelUnavailable, wrapped)
		}
		return nil, wrapped
	}
	return decodeScores(resp)
}

// Close releases the connection if the classifier owns it.
func (c *Classifier) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		if c.ownsConn && c.conn != nil {
			c.closeErr = c.conn.Close()
		}
	})
	return c.closeErr
}

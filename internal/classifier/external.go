package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the external-model classifier speak gRPC without a
// protoc-generated client: the plugin boundary only needs a single
// request/response exchange, so a JSON wire codec registered under the
// "json" content-subtype keeps the transport on real grpc-go machinery
// (connection management, deadlines, retries) without pinning this repo to
// a specific .proto/codegen toolchain for a single plugin RPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ExternalRequest is sent to the plugin's classify RPC.
type ExternalRequest struct {
	Text string `json:"text"`
}

// ExternalResponse is the plugin's softmax-probability response.
type ExternalResponse struct {
	Label         string             `json:"label"`
	Score         float32            `json:"score"`
	PerClassScore map[string]float32 `json:"per_class_score"`
	Model         string             `json:"model"`
}

// ExternalClassifier adapts a remote model served behind a gRPC endpoint to
// the Classifier interface. Construction never fails (the connection is
// lazy); runtime failures surface as a *Error so the orchestrator can apply
// its pass-through-on-midstream / hard-error-on-ingress policy.
type ExternalClassifier struct {
	name string
	tier Tier
	conn *grpc.ClientConn
}

// NewExternalClassifier dials addr (without blocking) and wraps it as a
// named classifier. Use Close to release the connection.
func NewExternalClassifier(name string, tier Tier, addr string) (*ExternalClassifier, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype("json")))
	if err != nil {
		return nil, &Error{Classifier: name, Err: fmt.Errorf("%w: %v", ErrConstruction, err)}
	}
	return &ExternalClassifier{name: name, tier: tier, conn: conn}, nil
}

func (c *ExternalClassifier) Close() error { return c.conn.Close() }

func (c *ExternalClassifier) Name() string { return c.name }
func (c *ExternalClassifier) Tier() Tier   { return c.tier }

func (c *ExternalClassifier) Classify(text string) (Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := ExternalRequest{Text: text}
	var resp ExternalResponse
	if err := c.conn.Invoke(ctx, "/checkstream.classifier.v1.Classify/Classify", &req, &resp); err != nil {
		return Result{}, &Error{Classifier: c.name, Err: err}
	}

	return Result{
		Label:         resp.Label,
		Score:         resp.Score,
		PerClassScore: resp.PerClassScore,
		Model:         resp.Model,
		LatencyUS:     uint64(time.Since(start).Microseconds()),
	}, nil
}

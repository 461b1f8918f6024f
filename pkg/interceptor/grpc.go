package interceptor

import (
	"context"
	"net/http"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/getmockd/netlens/pkg/netevent"
)

// UnaryClientInterceptor returns a gRPC client interceptor that reports
// lifecycle events for unary calls while the Interceptor is active. Install
// it with grpc.WithChainUnaryInterceptor. The call and its result are passed
// through unchanged.
func (i *Interceptor) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		target := ""
		if cc != nil {
			target = cc.Target()
		}
		rawURL := grpcURL(target, method)
		if !i.observes(rawURL) {
			return invoker(ctx, method, req, reply, cc, opts...)
		}

		reqID := i.seq.Next(string(netevent.ClientKindGRPC))
		start := time.Now()

		headers := http.Header{}
		if md, ok := metadata.FromOutgoingContext(ctx); ok {
			for k, v := range md {
				headers[k] = append([]string(nil), v...)
			}
		}

		i.emit(netevent.Lifecycle{
			Phase:      netevent.PhaseRequest,
			RequestID:  reqID,
			ClientKind: netevent.ClientKindGRPC,
			Timestamp:  start,
			Method:     http.MethodPost,
			URL:        rawURL,
			Headers:    headers,
			Body:       i.protoPayload(req),
		})

		err := invoker(ctx, method, req, reply, cc, opts...)
		elapsed := time.Since(start)

		if err != nil {
			code := status.Code(err)
			i.emit(netevent.Lifecycle{
				Phase:     netevent.PhaseError,
				RequestID: reqID,
				Timestamp: time.Now(),
				Duration:  elapsed,
				Err:       err,
				Aborted:   code == codes.Canceled || code == codes.DeadlineExceeded,
			})
			return err
		}

		i.emit(netevent.Lifecycle{
			Phase:        netevent.PhaseResponse,
			RequestID:    reqID,
			Timestamp:    time.Now(),
			Status:       http.StatusOK,
			StatusText:   codes.OK.String(),
			Protocol:     "gRPC",
			ResponseBody: i.protoPayload(reply),
			Duration:     elapsed,
		})
		return nil
	}
}

// grpcURL renders a call as grpc://<authority>/<service>/<method>, dropping
// any resolver scheme from the dial target.
func grpcURL(target, method string) string {
	if _, rest, ok := strings.Cut(target, ":///"); ok {
		target = rest
	}
	if !strings.HasPrefix(method, "/") {
		method = "/" + method
	}
	return "grpc://" + target + method
}

// protoPayload captures a message as protojson. Values that are not proto
// messages are recorded as empty payloads.
func (i *Interceptor) protoPayload(v any) netevent.Payload {
	m, ok := v.(proto.Message)
	if !ok || m == nil {
		return netevent.Payload{}
	}
	size := int64(proto.Size(m))
	data, err := protojson.Marshal(m)
	if err != nil {
		return netevent.Payload{Size: size}
	}
	return bounded(data, i.maxBody, size)
}

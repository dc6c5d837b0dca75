package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/SimonWaldherr/boxsql"
)

// Request and response types, shared by gRPC (JSON codec) and HTTP.
type executeRequest struct {
	SQL    *string `json:"sql"`
	Params []byte  `json:"params,omitempty"` // MessagePack elements, base64 in JSON
	Count  int     `json:"count,omitempty"`
}

// resultSet is the output of one result-bearing statement.
type resultSet struct {
	Columns     []string `json:"columns"`
	Description []byte   `json:"description,omitempty"`
	Rows        [][]byte `json:"rows,omitempty"`
}

// executeResponse carries the output of every result-bearing statement. On
// HTTP a failed request still returns the sets produced before the failure.
type executeResponse struct {
	RequestID string      `json:"request_id"`
	Results   []resultSet `json:"results,omitempty"`
	RowCount  int         `json:"row_count"`
	Error     string      `json:"error,omitempty"`
	Kind      string      `json:"kind,omitempty"`
	Duration  string      `json:"duration"`
}

type queryRequest struct {
	SQL *string `json:"sql"`
}

type queryResponse struct {
	RequestID string          `json:"request_id"`
	Tables    []*boxsql.Table `json:"tables"`
	Error     string          `json:"error,omitempty"`
	Kind      string          `json:"kind,omitempty"`
	Duration  string          `json:"duration"`
}

// streamMessage is one message of ExecuteStream. Each result set starts with
// a message carrying its column names, followed by one message per row with
// a 1-based Index.
type streamMessage struct {
	Set     int      `json:"set"`
	Columns []string `json:"columns,omitempty"`
	Row     []byte   `json:"row,omitempty"`
	Index   int      `json:"index"`
}

// gRPC JSON codec
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// SQLServer is the gRPC service (manual descriptors, no protobuf).
type SQLServer interface {
	Execute(context.Context, *executeRequest) (*executeResponse, error)
	Query(context.Context, *queryRequest) (*queryResponse, error)
	ExecuteStream(*executeRequest, grpc.ServerStream) error
}

const serviceName = "boxsql.SQL"

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*SQLServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: _SQL_Execute_Handler},
		{MethodName: "Query", Handler: _SQL_Query_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecuteStream", Handler: _SQL_ExecuteStream_Handler, ServerStreams: true},
	},
	Metadata: "boxsql", // informational
}

func registerSQLServer(s *grpc.Server, srv SQLServer) {
	s.RegisterService(&serviceDesc, srv)
}

func _SQL_Execute_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(executeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SQLServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Execute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SQLServer).Execute(ctx, req.(*executeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SQL_Query_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(queryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(SQLServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Query"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(SQLServer).Query(ctx, req.(*queryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _SQL_ExecuteStream_Handler(srv any, stream grpc.ServerStream) error {
	in := new(executeRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(SQLServer).ExecuteStream(in, stream)
}

// errorKind names the class of err for clients.
func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "deadline_exceeded"
	case errors.Is(err, boxsql.ErrClient):
		return "client"
	case errors.Is(err, boxsql.ErrOutOfMemory):
		return "out_of_memory"
	default:
		return "engine"
	}
}

func statusCode(err error) codes.Code {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Code()
	case errors.Is(err, boxsql.ErrClient):
		return codes.InvalidArgument
	case errors.Is(err, boxsql.ErrOutOfMemory):
		return codes.ResourceExhausted
	default:
		return codes.FailedPrecondition
	}
}

// grpcError is how every gRPC method reports a failed request.
func grpcError(err error) error {
	return status.Error(statusCode(err), err.Error())
}

// executeResult runs req and collects its output, including the output of
// the statements that ran before a failure.
func (s *server) executeResult(ctx context.Context, req *executeRequest) (*executeResponse, error) {
	start := time.Now()
	resp := &executeResponse{RequestID: uuid.NewString()}
	log := s.logger.With("request", resp.RequestID, "method", "Execute")
	res, err := s.execute(ctx, req)
	if res != nil {
		defer res.Release()
		for _, set := range res.Sets() {
			cols, cerr := set.Columns()
			if cerr != nil && err == nil {
				err = cerr
			}
			rs := resultSet{Columns: cols, Description: bytes.Clone(set.Description().Data())}
			for _, rec := range set.Rows() {
				rs.Rows = append(rs.Rows, bytes.Clone(rec.Data()))
			}
			resp.Results = append(resp.Results, rs)
		}
		resp.RowCount = res.RowCount()
	}
	resp.Duration = time.Since(start).String()
	if err != nil {
		resp.Error, resp.Kind = err.Error(), errorKind(err)
		log.Info("execute failed", "error", err, "kind", resp.Kind, "rows", resp.RowCount)
		return resp, err
	}
	log.Debug("execute", "sets", len(resp.Results), "rows", resp.RowCount, "duration", resp.Duration)
	return resp, nil
}

func (s *server) queryResult(ctx context.Context, req *queryRequest) (*queryResponse, error) {
	start := time.Now()
	resp := &queryResponse{RequestID: uuid.NewString()}
	log := s.logger.With("request", resp.RequestID, "method", "Query")
	tables, err := s.query(ctx, req.SQL)
	resp.Duration = time.Since(start).String()
	if err != nil {
		resp.Error, resp.Kind = err.Error(), errorKind(err)
		log.Info("query failed", "error", err, "kind", resp.Kind)
		return resp, err
	}
	resp.Tables = tables
	log.Debug("query", "tables", len(tables), "duration", resp.Duration)
	return resp, nil
}

// SQLServer implementation
func (s *server) Execute(ctx context.Context, req *executeRequest) (*executeResponse, error) {
	resp, err := s.executeResult(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

func (s *server) Query(ctx context.Context, req *queryRequest) (*queryResponse, error) {
	resp, err := s.queryResult(ctx, req)
	if err != nil {
		return nil, grpcError(err)
	}
	return resp, nil
}

// ExecuteStream sends the output of every result-bearing statement. When a
// statement fails, the output before it is sent first, then the error status.
func (s *server) ExecuteStream(req *executeRequest, stream grpc.ServerStream) error {
	id := uuid.NewString()
	log := s.logger.With("request", id, "method", "ExecuteStream")
	res, err := s.execute(stream.Context(), req)
	if res != nil {
		defer res.Release()
		if serr := sendSets(stream, res.Sets()); serr != nil {
			log.Info("stream send failed", "error", serr)
			return serr
		}
	}
	if err != nil {
		log.Info("execute failed", "error", err, "kind", errorKind(err))
		return grpcError(err)
	}
	log.Debug("execute stream", "rows", res.RowCount())
	return nil
}

func sendSets(stream grpc.ServerStream, sets []boxsql.ResultSet) error {
	for i, set := range sets {
		cols, err := set.Columns()
		if err != nil {
			return status.Error(codes.Internal, err.Error())
		}
		if err := stream.SendMsg(&streamMessage{Set: i, Columns: cols}); err != nil {
			return err
		}
		for j, rec := range set.Rows() {
			if err := stream.SendMsg(&streamMessage{Set: i, Row: rec.Data(), Index: j + 1}); err != nil {
				return err
			}
		}
	}
	return nil
}

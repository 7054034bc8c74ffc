package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"

	"github.com/me/gobs/pkg/model"
)

// maxLineBytes bounds a single request line. Submissions are small; a
// larger message is a broken or hostile client.
const maxLineBytes = 1 << 20

// Service is the daemon surface exposed over the wire.
type Service interface {
	Submit(ctx context.Context, sub *model.Submission) (int64, error)
	Remove(ctx context.Context, id int64) error
	Run(ctx context.Context, id int64) error
	ListWaiting() []*model.Job
	ListRunning() []*model.Job
	ListFinished(limit int) []*model.Job
	CPUs() model.CPUUsage
	ConfigMap() map[string]string
	SetConfig(ctx context.Context, key, value string) error
}

// Server accepts TCP connections and serves newline-framed JSON-RPC 2.0
// requests against a Service.
type Server struct {
	svc    Service
	logger *slog.Logger
	ln     net.Listener
}

// NewServer creates a Server around the given service.
func NewServer(svc Service, logger *slog.Logger) *Server {
	return &Server{
		svc:    svc,
		logger: logger.With("component", "rpc"),
	}
}

// Listen binds the TCP listener. Serve must be called afterwards.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.logger.Info("rpc server listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound listener address.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// Serve runs the accept loop until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn serves one persistent client connection, one request per line.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()
	s.logger.Debug("client connected", "remote", remote)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineBytes)
	enc := json.NewEncoder(conn)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		resp := Response{JSONRPC: "2.0"}
		if err := json.Unmarshal(line, &req); err != nil {
			resp.Error = &Error{Code: CodeParse, Message: "parse error: " + err.Error()}
		} else {
			resp = s.dispatch(ctx, &req)
		}

		if err := enc.Encode(&resp); err != nil {
			s.logger.Warn("write response failed", "remote", remote, "error", err)
			return
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("client read error", "remote", remote, "error", err)
	}
	s.logger.Debug("client disconnected", "remote", remote)
}

// dispatch routes one request to the service and builds the response.
func (s *Server) dispatch(ctx context.Context, req *Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	result, err := s.call(ctx, req)
	if err != nil {
		resp.Error = toWireError(err)
		s.logger.Debug("rpc error", "method", req.Method, "error", err)
		return resp
	}

	raw, err := json.Marshal(result)
	if err != nil {
		resp.Error = &Error{Code: CodeApplication, Message: "encode result: " + err.Error()}
		return resp
	}
	resp.Result = raw
	return resp
}

func (s *Server) call(ctx context.Context, req *Request) (any, error) {
	switch req.Method {
	case "submit":
		var sub model.Submission
		if err := unmarshalParams(req.Params, &sub); err != nil {
			return nil, err
		}
		id, err := s.svc.Submit(ctx, &sub)
		if err != nil {
			return nil, err
		}
		return SubmitResult{JobID: id}, nil

	case "remove":
		var p JobParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.svc.Remove(ctx, p.JobID); err != nil {
			return nil, err
		}
		return JobParams{JobID: p.JobID}, nil

	case "run":
		var p JobParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.svc.Run(ctx, p.JobID); err != nil {
			return nil, err
		}
		return JobParams{JobID: p.JobID}, nil

	case "list_waiting":
		return jobList(s.svc.ListWaiting()), nil

	case "list_running":
		return jobList(s.svc.ListRunning()), nil

	case "list_finished":
		var p ListParams
		if len(req.Params) > 0 {
			if err := unmarshalParams(req.Params, &p); err != nil {
				return nil, err
			}
		}
		return jobList(s.svc.ListFinished(p.Limit)), nil

	case "get_cpus":
		return s.svc.CPUs(), nil

	case "get_config":
		return s.svc.ConfigMap(), nil

	case "set_config":
		var p SetConfigParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return nil, err
		}
		if err := s.svc.SetConfig(ctx, p.Key, p.Value); err != nil {
			return nil, err
		}
		return s.svc.ConfigMap(), nil

	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: "method not found: " + req.Method}
	}
}

func unmarshalParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return &Error{Code: CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

// jobList never returns nil so the wire shows [] instead of null.
func jobList(jobs []*model.Job) []*model.Job {
	if jobs == nil {
		return []*model.Job{}
	}
	return jobs
}

// toWireError maps service errors onto the wire. Structured daemon errors
// keep their code in Data; anything else becomes a bare application error.
func toWireError(err error) *Error {
	var wireErr *Error
	if errors.As(err, &wireErr) {
		return wireErr
	}
	var modelErr *model.Error
	if errors.As(err, &modelErr) {
		return &Error{Code: CodeApplication, Message: modelErr.Message, Data: modelErr}
	}
	return &Error{Code: CodeApplication, Message: err.Error()}
}

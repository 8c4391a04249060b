package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"

	"golang.org/x/sys/unix"

	ipsecmgr "github.com/frobware/go-ipsecmgr"
	"github.com/frobware/go-ipsecmgr/api"
)

// session is one client connection. Requests are handled sequentially
// in arrival order; the connection's death triggers release of every
// resource it created.
type session struct {
	server    *Server
	mc        *api.MessageConn
	id        ipsecmgr.ConnID
	principal ipsecmgr.Principal
	logger    *slog.Logger
}

func (s *Server) newSession(conn *net.UnixConn) (*session, error) {
	principal, err := peerPrincipal(conn)
	if err != nil {
		return nil, err
	}
	id := ipsecmgr.ConnID(s.nextConn.Add(1))
	return &session{
		server:    s,
		mc:        api.NewMessageConn(conn),
		id:        id,
		principal: principal,
		logger:    s.logger.With("conn", uint64(id), "principal", principal.String()),
	}, nil
}

func (s *session) run(ctx context.Context) {
	defer func() {
		s.mc.Close()
		s.server.manager.OnConnectionTerminated(s.id)
		s.logger.Info("client disconnected")
	}()
	s.logger.Info("client connected")

	for {
		var req api.Request
		fd, err := s.mc.Receive(&req)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection read failed", "error", err)
			}
			return
		}

		resp, sendFD := s.handle(ctx, &req, fd)
		if fd >= 0 {
			unix.Close(fd)
		}
		if err := s.mc.Send(resp, sendFD); err != nil {
			s.logger.Debug("connection write failed", "error", err)
			return
		}
	}
}

// handle dispatches one request. recvFD is a descriptor received with
// the request, or -1; the caller closes it after handle returns. The
// returned descriptor, if any, is sent with the response and remains
// owned by the manager.
func (s *session) handle(ctx context.Context, req *api.Request, recvFD int) (api.Response, int) {
	resp := api.Response{Seq: req.Seq}
	mgr := s.server.manager
	sendFD := -1

	fail := func(err error) {
		resp.Error = api.FromError(err)
	}

	switch req.Op {
	case api.OpReserveSpi:
		var body api.ReserveSpiRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		id, spi, err := mgr.ReserveSecurityParameterIndex(ctx, s.principal, s.id, ipsecmgr.SaInfo{
			Direction: body.Direction,
			Src:       body.Src,
			Dst:       body.Dst,
			SPI:       body.Spi,
		})
		if err != nil {
			fail(err)
			break
		}
		resp.Body = marshalBody(api.ReserveSpiResponse{ID: id, Spi: spi})

	case api.OpReleaseSpi:
		var body api.ReleaseRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		if err := mgr.ReleaseSecurityParameterIndex(ctx, s.principal, body.ID); err != nil {
			fail(err)
		}

	case api.OpOpenEncap:
		var body api.OpenEncapRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		id, port, err := mgr.OpenUdpEncapsulationSocket(ctx, s.principal, s.id, body.Port)
		if err != nil {
			fail(err)
			break
		}
		fd, err := mgr.EncapSocketFD(s.principal, id)
		if err != nil {
			fail(err)
			break
		}
		sendFD = int(fd)
		resp.Body = marshalBody(api.OpenEncapResponse{ID: id, Port: port})

	case api.OpCloseEncap:
		var body api.ReleaseRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		if err := mgr.CloseUdpEncapsulationSocket(ctx, s.principal, body.ID); err != nil {
			fail(err)
		}

	case api.OpCreateTransform:
		var body api.CreateTransformRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		id, err := mgr.CreateTransform(ctx, s.principal, s.id, body.Spec)
		if err != nil {
			fail(err)
			break
		}
		resp.Body = marshalBody(api.CreateTransformResponse{ID: id})

	case api.OpDeleteTransform:
		var body api.ReleaseRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		if err := mgr.DeleteTransform(ctx, s.principal, body.ID); err != nil {
			fail(err)
		}

	case api.OpApplyTransform:
		var body api.ApplyTransformRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		if recvFD < 0 {
			resp.Error = &api.Error{Kind: api.KindInvalidArgument, Message: "apply-transform requires a socket descriptor"}
			break
		}
		if err := mgr.ApplyTransform(ctx, s.principal, body.ID, uintptr(recvFD)); err != nil {
			fail(err)
		}

	case api.OpRemoveTransform:
		if recvFD < 0 {
			resp.Error = &api.Error{Kind: api.KindInvalidArgument, Message: "remove-transform requires a socket descriptor"}
			break
		}
		if err := mgr.RemoveTransform(ctx, s.principal, uintptr(recvFD)); err != nil {
			fail(err)
		}

	case api.OpList:
		var body api.ListRequest
		if err := json.Unmarshal(req.Body, &body); err != nil {
			fail(err)
			break
		}
		principal := body.Principal
		if principal == 0 {
			principal = s.principal
		}
		snap, err := mgr.List(s.principal, principal)
		if err != nil {
			fail(err)
			break
		}
		resp.Body = marshalBody(snap)

	default:
		resp.Error = &api.Error{Kind: api.KindInvalidArgument, Message: "unknown operation: " + req.Op}
	}

	return resp, sendFD
}

func marshalBody(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		// All response bodies are plain data types; this cannot fail.
		panic(err)
	}
	return data
}

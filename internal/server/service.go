package server

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "scanquest.v1.Scanner"

// Method names of the Scanner service.
const (
	MethodOpenSession    = "OpenSession"
	MethodCloseSession   = "CloseSession"
	MethodConnectAdmin   = "ConnectAdmin"
	MethodScan           = "Scan"
	MethodPresent        = "Present"
	MethodDismiss        = "Dismiss"
	MethodUse            = "Use"
	MethodChooseDilemma  = "ChooseDilemma"
	MethodSave           = "Save"
	MethodDelete         = "Delete"
	MethodToggleLock     = "ToggleLock"
	MethodLoadForEdit    = "LoadForEdit"
	MethodPlayerState    = "PlayerState"
	MethodInventory      = "Inventory"
	MethodSetContext     = "SetContext"
	MethodRefreshCatalog = "RefreshCatalog"
	MethodBlueprints     = "Blueprints"
	MethodCraft          = "Craft"
	MethodBuy            = "Buy"
	MethodAdminAdjust    = "AdminAdjust"
)

// FullMethod returns the path of method, as seen by interceptors.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// PublicMethods need no session.
func PublicMethods() []string {
	return []string{FullMethod(MethodOpenSession)}
}

// AdminMethods need an admin session.
func AdminMethods() []string {
	return []string{
		FullMethod(MethodToggleLock),
		FullMethod(MethodLoadForEdit),
		FullMethod(MethodAdminAdjust),
	}
}

type unaryFunc func(s *Scanner, ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)

func (s *Scanner) routes() map[string]unaryFunc {
	return map[string]unaryFunc{
		MethodOpenSession:    (*Scanner).OpenSession,
		MethodCloseSession:   (*Scanner).CloseSession,
		MethodConnectAdmin:   (*Scanner).ConnectAdmin,
		MethodScan:           (*Scanner).Scan,
		MethodPresent:        (*Scanner).Present,
		MethodDismiss:        (*Scanner).Dismiss,
		MethodUse:            (*Scanner).Use,
		MethodChooseDilemma:  (*Scanner).ChooseDilemma,
		MethodSave:           (*Scanner).Save,
		MethodDelete:         (*Scanner).Delete,
		MethodToggleLock:     (*Scanner).ToggleLock,
		MethodLoadForEdit:    (*Scanner).LoadForEdit,
		MethodPlayerState:    (*Scanner).PlayerState,
		MethodInventory:      (*Scanner).Inventory,
		MethodSetContext:     (*Scanner).SetContext,
		MethodRefreshCatalog: (*Scanner).RefreshCatalog,
		MethodBlueprints:     (*Scanner).Blueprints,
		MethodCraft:          (*Scanner).Craft,
		MethodBuy:            (*Scanner).Buy,
		MethodAdminAdjust:    (*Scanner).AdminAdjust,
	}
}

// ServiceDesc describes the Scanner service. Requests and responses are
// google.protobuf.Struct documents.
func (s *Scanner) ServiceDesc() *grpc.ServiceDesc {
	routes := s.routes()
	desc := &grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*any)(nil),
		Metadata:    "scanquest/v1/scanner.proto",
	}
	for name, fn := range routes {
		desc.Methods = append(desc.Methods, grpc.MethodDesc{
			MethodName: name,
			Handler:    unaryHandler(name, fn),
		})
	}
	return desc
}

// Register attaches s to a gRPC server.
func (s *Scanner) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(s.ServiceDesc(), s)
}

func unaryHandler(name string, fn unaryFunc) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	full := FullMethod(name)
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		s := srv.(*Scanner)
		call := func(ctx context.Context, req any) (any, error) {
			out, err := fn(s, ctx, req.(*structpb.Struct))
			if err != nil {
				return nil, toStatus(err)
			}
			return out, nil
		}
		if interceptor == nil {
			return call(ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: full}
		return interceptor(ctx, in, info, call)
	}
}

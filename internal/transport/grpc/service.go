package grpc

import (
	"context"
	"net/http"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"
)

const AuthServiceName = "projecthub.auth.v1.AuthService"

const (
	AuthServiceLoginProcedure   = "/" + AuthServiceName + "/Login"
	AuthServiceRefreshProcedure = "/" + AuthServiceName + "/Refresh"
	AuthServiceLogoutProcedure  = "/" + AuthServiceName + "/Logout"
	AuthServiceCheckProcedure   = "/" + AuthServiceName + "/Check"
)

type (
	request  = connect.Request[structpb.Struct]
	response = connect.Response[structpb.Struct]
)

// AuthServiceHandler serves the session and permission procedures. Messages
// are google.protobuf.Struct so the service needs no generated schema.
type AuthServiceHandler interface {
	Login(ctx context.Context, req *request) (*response, error)
	Refresh(ctx context.Context, req *request) (*response, error)
	Logout(ctx context.Context, req *request) (*response, error)
	Check(ctx context.Context, req *request) (*response, error)
}

// NewAuthServiceHandler mounts the procedures under one path prefix, the way
// connect-go generated code does.
func NewAuthServiceHandler(svc AuthServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	login := connect.NewUnaryHandler(AuthServiceLoginProcedure, svc.Login, opts...)
	refresh := connect.NewUnaryHandler(AuthServiceRefreshProcedure, svc.Refresh, opts...)
	logout := connect.NewUnaryHandler(AuthServiceLogoutProcedure, svc.Logout, opts...)
	check := connect.NewUnaryHandler(AuthServiceCheckProcedure, svc.Check, opts...)

	return "/" + AuthServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AuthServiceLoginProcedure:
			login.ServeHTTP(w, r)
		case AuthServiceRefreshProcedure:
			refresh.ServeHTTP(w, r)
		case AuthServiceLogoutProcedure:
			logout.ServeHTTP(w, r)
		case AuthServiceCheckProcedure:
			check.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

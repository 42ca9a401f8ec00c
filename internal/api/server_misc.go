package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// SessionStatus describes the browser session of the current test.
type SessionStatus struct {
	Connected bool   `json:"connected"`
	State     string `json:"state"`
	WSURL     string `json:"ws_url,omitempty"`
	Error     string `json:"error,omitempty"`
}

func registerMiscHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string `json:"status"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/api/v1/health", Summary: "Health check", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			out := &healthOutput{}
			out.Body.Status = "ok"
			return out, nil
		})

	type sessionOutput struct {
		Body SessionStatus
	}
	huma.Register(api, huma.Operation{OperationID: "get-session", Method: http.MethodGet, Path: "/api/v1/session", Summary: "Current browser session state", Tags: []string{"Session"}},
		func(ctx context.Context, input *struct{}) (*sessionOutput, error) {
			return &sessionOutput{Body: svc.SessionStatus(ctx)}, nil
		})
}

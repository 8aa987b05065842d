package main

import (
	"context"

	"github.com/opensrf-go/opensrf/method"
	"github.com/opensrf-go/opensrf/middleware"
)

// registerMethods builds the method table for the demo echo service. A real
// deployment would load this from the service's own package instead of a
// binary-local table; this stands in for that, in the spirit of the
// example scenarios in SPEC_FULL.md section 8.
func registerMethods() []*method.Method {
	return []*method.Method{
		{
			APISpec:    "^opensrf\\.rspublic\\.echo$",
			ParamCount: method.ParamCount{Kind: method.AtLeast, N: 1},
			Handler:    echoHandler,
		},
		{
			APISpec:    "^opensrf\\.rspublic\\.ping$",
			ParamCount: method.ParamCount{Kind: method.Zero},
			Handler:    pingHandler,
		},
	}
}

func echoHandler(ctx context.Context, d *middleware.Dispatch) *middleware.Dispatch {
	return &middleware.Dispatch{Content: d.Params[0]}
}

func pingHandler(ctx context.Context, d *middleware.Dispatch) *middleware.Dispatch {
	return &middleware.Dispatch{Content: []byte(`"pong"`)}
}

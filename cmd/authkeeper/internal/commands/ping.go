package commands

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"connectrpc.com/otelconnect"
	"github.com/wolfeidau/authkeeper/internal/authclient"
	"google.golang.org/protobuf/types/known/emptypb"
)

type PingCmd struct {
	Server    string        `help:"Server URL" required:""`
	Procedure string        `arg:"" help:"Procedure taking and returning google.protobuf.Empty, /package.Service/Method"`
	Timeout   time.Duration `help:"Request timeout" default:"30s"`
}

func (p *PingCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := startSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	otelInterceptor, err := otelconnect.NewInterceptor()
	if err != nil {
		return fmt.Errorf("failed to create interceptor: %w", err)
	}

	client := connect.NewClient[emptypb.Empty, emptypb.Empty](
		&http.Client{Timeout: p.Timeout},
		strings.TrimSuffix(p.Server, "/")+"/"+strings.TrimPrefix(p.Procedure, "/"),
		connect.WithInterceptors(otelInterceptor, authclient.NewInterceptor(s.controller)),
	)

	started := time.Now()
	if _, err := client.CallUnary(ctx, connect.NewRequest(&emptypb.Empty{})); err != nil {
		return fmt.Errorf("call failed: %w", err)
	}

	fmt.Printf("%s ok in %s\n", p.Procedure, time.Since(started).Round(time.Millisecond))
	return nil
}

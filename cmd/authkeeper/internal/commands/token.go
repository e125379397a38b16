package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/wolfeidau/authkeeper/internal/lifecycle"
)

type TokenCmd struct {
	Header bool `help:"Print as an Authorization header value"`
}

func (t *TokenCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := startSession(ctx, globals)
	if err != nil {
		return err
	}
	defer s.Close()

	token, err := s.controller.GetAccessToken(ctx)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotAuthenticated) {
			return fmt.Errorf("%w, run: authkeeper login", err)
		}
		return err
	}

	if t.Header {
		fmt.Println("Bearer " + token)
		return nil
	}
	fmt.Println(token)
	return nil
}

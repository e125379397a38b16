package commands

import (
	"context"
	"fmt"

	"github.com/wolfeidau/authkeeper/internal/lifecycle"
)

type LogoutCmd struct{}

func (l *LogoutCmd) Run(ctx context.Context, globals *Globals) error {
	s, err := startSession(ctx, globals, lifecycle.WithNavigator(lifecycle.NavigatorFunc(func(string) {})))
	if err != nil {
		return err
	}
	defer s.Close()

	if s.controller.Session() == nil {
		fmt.Println("Not signed in.")
		return nil
	}

	s.controller.SignOut(ctx)
	fmt.Println("Signed out.")
	return nil
}

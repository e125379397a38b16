package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfeidau/authkeeper/internal/models"
)

type LoginCmd struct {
	Username string `help:"Account username" required:"" env:"AUTHKEEPER_USERNAME"`
	Password string `help:"Account password" required:"" env:"AUTHKEEPER_PASSWORD"`
}

func (l *LoginCmd) Run(ctx context.Context, globals *Globals) error {
	_, backend, err := newBackend(globals)
	if err != nil {
		return err
	}

	session, err := backend.SignInWithPassword(ctx, l.Username, l.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	fmt.Printf("Signed in as %s\n", displayUser(session))
	if session.HasExpiry() {
		fmt.Printf("Access token expires %s\n", session.Expiry().Format(time.RFC3339))
	}
	return nil
}

func displayUser(session *models.Session) string {
	user := session.Principal()
	switch {
	case user == nil || user.ID == "":
		return "(unknown user)"
	case user.Email != "":
		return fmt.Sprintf("%s <%s>", user.ID, user.Email)
	default:
		return user.ID
	}
}

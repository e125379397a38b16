package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/authkeeper/cmd/authkeeper/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Login        commands.LoginCmd  `cmd:"" help:"Sign in with a username and password"`
		Logout       commands.LogoutCmd `cmd:"" help:"Sign out and revoke the refresh token"`
		Token        commands.TokenCmd  `cmd:"" help:"Print a valid access token, refreshing if needed"`
		Status       commands.StatusCmd `cmd:"" help:"Show the current session"`
		Watch        commands.WatchCmd  `cmd:"" help:"Keep the session refreshed until interrupted"`
		Ping         commands.PingCmd   `cmd:"" help:"Call a Connect procedure with the session's token"`
		Config       string             `help:"Path to a YAML config file." type:"path" env:"AUTHKEEPER_CONFIG"`
		ClientSecret string             `help:"OAuth client secret, overrides the config file." env:"AUTHKEEPER_CLIENT_SECRET"`
		Debug        bool               `help:"Enable debug mode."`
		Version      kong.VersionFlag
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Name("authkeeper"),
		kong.Description("Keeps an OAuth session signed in and its access token fresh."),
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{
		Debug:        cli.Debug,
		Version:      version,
		ConfigPath:   cli.Config,
		ClientSecret: cli.ClientSecret,
	})
	cmd.FatalIfErrorf(err)
}

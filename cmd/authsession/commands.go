package main

import "github.com/urfave/cli/v3"

func (r *runner) register() []*cli.Command {
	return []*cli.Command{
		relayCommand(r),
		fakeAPICommand(r),
		tabCommand(r),
		logoutCommand(r),
	}
}

func relayCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Serve the websocket relay that connects tabs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: r.cfg.GetRelayAddr(),
			},
		},
		Action: r.Relay,
	}
}

func fakeAPICommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "fake-api",
		Usage: "Serve a fake login/refresh backend with one demo user",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
				Value: r.cfg.GetFakeAPIAddr(),
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Demo user name",
				Value: "admin@example.com",
			},
			&cli.StringFlag{
				Name:  "password",
				Usage: "Demo user password",
				Value: "PASSW0RD!",
			},
			&cli.DurationFlag{
				Name:  "token-lifetime",
				Usage: "Lifetime of issued tokens",
				Value: r.cfg.GetTokenLifetime(),
			},
		},
		Action: r.FakeAPI,
	}
}

func tabFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "tab-id",
			Usage: "Tab identity; reuse it to restore the tab's stored session",
		},
		&cli.StringFlag{
			Name:  "location",
			Usage: "Page path reported when the session ends",
			Value: "/",
		},
	}
}

func tabCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:  "tab",
		Usage: "Open a tab: restore or log in, then keep the session fresh until interrupted",
		Flags: append(tabFlags(),
			&cli.StringFlag{
				Name:    "username",
				Aliases: []string{"u"},
				Usage:   "Log in with this user when no session can be restored",
			},
			&cli.StringFlag{
				Name:    "password",
				Aliases: []string{"p"},
				Usage:   "Password for --username",
			},
			&cli.BoolFlag{
				Name:  "hidden",
				Usage: "Start hidden; the freshness monitor stays paused",
			},
		),
		Action: r.Tab,
	}
}

func logoutCommand(r *runner) *cli.Command {
	return &cli.Command{
		Name:   "logout",
		Usage:  "Log a tab out and revoke the session in every sibling tab",
		Flags:  tabFlags(),
		Action: r.Logout,
	}
}

// Command duelctl plays duels from a terminal against a duelpad gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/mcdev12/duelpad/go/clients/cardapi"
	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/docstore/remote"
	"github.com/mcdev12/duelpad/go/internal/duel"
	"github.com/mcdev12/duelpad/go/internal/duel/engine"
	"github.com/mcdev12/duelpad/go/internal/duel/history"
	"github.com/mcdev12/duelpad/go/internal/duel/lobby"
	"github.com/mcdev12/duelpad/go/internal/models"
	"github.com/mcdev12/duelpad/go/internal/users"
)

func main() {
	app := &cli.App{
		Name:  "duelctl",
		Usage: "track best-of-3 duels with a friend",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "gateway", Value: "http://localhost:8080", EnvVars: []string{"DUELPAD_URL"}, Usage: "gateway base URL"},
			&cli.StringFlag{Name: "state", Value: defaultStatePath(), EnvVars: []string{"DUELPAD_STATE"}, Usage: "where the token and seats are kept"},
			&cli.StringFlag{Name: "log-level", Value: "warn"},
		},
		Before: func(c *cli.Context) error {
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			level, err := zerolog.ParseLevel(c.String("log-level"))
			if err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			zerolog.SetGlobalLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			registerCommand(),
			loginCommand(),
			logoutCommand(),
			whoamiCommand(),
			lobbyCommand(),
			hostCommand(),
			joinCommand(),
			watchCommand(),
			cardsCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("duelctl failed")
	}
}

func newSession(c *cli.Context) *auth.Session {
	return auth.NewSession(auth.NewHTTPAuthenticator(c.String("gateway")))
}

func registerCommand() *cli.Command {
	return &cli.Command{
		Name:  "register",
		Usage: "create an account and sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"DUELPAD_PASSWORD"}},
			&cli.StringFlag{Name: "name", Usage: "display name"},
		},
		Action: func(c *cli.Context) error {
			session := newSession(c)
			user, err := session.Register(c.Context, users.CreateUserRequest{
				Email:       c.String("email"),
				Password:    c.String("password"),
				DisplayName: c.String("name"),
			})
			if err != nil {
				return err
			}
			return remember(c, session.Token(), user)
		},
	}
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "sign in",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "email", Required: true},
			&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"DUELPAD_PASSWORD"}},
		},
		Action: func(c *cli.Context) error {
			session := newSession(c)
			user, err := session.Login(c.Context, c.String("email"), c.String("password"))
			if err != nil {
				return err
			}
			return remember(c, session.Token(), user)
		},
	}
}

func remember(c *cli.Context, token string, user models.User) error {
	st, err := loadState(c.String("state"))
	if err != nil {
		return err
	}
	st.Token = token
	if err := st.save(c.String("state")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "signed in as %s <%s>\n", user.DisplayName, user.Email)
	return nil
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "sign out and revoke the saved token",
		Action: func(c *cli.Context) error {
			st, err := loadState(c.String("state"))
			if err != nil {
				return err
			}
			if st.Token == "" {
				fmt.Fprintln(c.App.Writer, "not signed in")
				return nil
			}
			session := newSession(c)
			if _, err := session.Restore(c.Context, st.Token); err != nil {
				log.Warn().Err(err).Msg("saved token is no longer valid")
			} else if err := session.Logout(c.Context); err != nil {
				log.Warn().Err(err).Msg("failed to revoke token")
			}
			st.Token = ""
			return st.save(c.String("state"))
		},
	}
}

func whoamiCommand() *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "show the signed-in user",
		Action: func(c *cli.Context) error {
			user, err := currentUser(c)
			if err != nil {
				return err
			}
			if user == nil {
				fmt.Fprintln(c.App.Writer, "guest")
				return nil
			}
			fmt.Fprintf(c.App.Writer, "%s <%s> (%s)\n", user.DisplayName, user.Email, user.UID)
			return nil
		},
	}
}

// currentUser returns nil for a guest.
func currentUser(c *cli.Context) (*models.User, error) {
	st, err := loadState(c.String("state"))
	if err != nil {
		return nil, err
	}
	if st.Token == "" {
		return nil, nil
	}
	user, err := newSession(c).Restore(c.Context, st.Token)
	if err != nil {
		return nil, fmt.Errorf("saved sign-in failed, run login again: %w", err)
	}
	return &user, nil
}

func openStore(c *cli.Context) (*remote.Store, error) {
	st, err := loadState(c.String("state"))
	if err != nil {
		return nil, err
	}
	cfg := remote.DefaultConfig()
	cfg.BaseURL = c.String("gateway")
	cfg.Token = st.Token
	return remote.New(cfg)
}

func lobbyCommand() *cli.Command {
	return &cli.Command{
		Name:  "lobby",
		Usage: "list sessions waiting for an opponent",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "follow", Aliases: []string{"f"}, Usage: "keep the list updated until interrupted"},
			&cli.DurationFlag{Name: "interval", Value: lobby.DefaultPollInterval},
		},
		Action: func(c *cli.Context) error {
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			l := lobby.New(store, nil)
			if !c.Bool("follow") {
				sessions, err := l.ListWaiting(c.Context)
				if err != nil {
					return err
				}
				printLobby(c.App.Writer, sessions)
				return nil
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			unwatch, err := l.WatchWaiting(ctx, c.Duration("interval"), func(sessions []models.DuelSession) {
				fmt.Fprintf(c.App.Writer, "-- %s\n", time.Now().Format("15:04:05"))
				printLobby(c.App.Writer, sessions)
			})
			if err != nil {
				return err
			}
			defer unwatch()
			<-ctx.Done()
			return nil
		},
	}
}

func printLobby(w io.Writer, sessions []models.DuelSession) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "no open sessions")
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.ID, s.Player1Name, s.CreatedAt.Local().Format("15:04"))
	}
}

var participantFlags = []cli.Flag{
	&cli.StringFlag{Name: "name", Usage: "guest name (required when not signed in)"},
	&cli.StringFlag{Name: "deck-id"},
	&cli.StringFlag{Name: "deck-name"},
}

// participant reuses the identity saved for sessionID, or mints one.
func participant(c *cli.Context, st *localState, sessionID string) (duel.Participant, error) {
	if p, ok := st.Participants[sessionID]; ok && sessionID != "" {
		return p, nil
	}

	var p duel.Participant
	user, err := currentUser(c)
	if err != nil {
		return p, err
	}
	if user != nil {
		p = duel.NewMember(*user)
	} else if p, err = duel.NewGuest(c.String("name")); err != nil {
		return p, fmt.Errorf("pass --name or sign in: %w", err)
	}
	if id := c.String("deck-id"); id != "" {
		p.Deck = &models.DeckRef{ID: id, Name: c.String("deck-name")}
	}
	return p, nil
}

func hostCommand() *cli.Command {
	return &cli.Command{
		Name:  "host",
		Usage: "create a session and wait for an opponent",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "invite-base", Value: "https://duelpad.app", EnvVars: []string{"DUELPAD_INVITE_BASE"}},
		}, participantFlags...),
		Action: func(c *cli.Context) error {
			st, err := loadState(c.String("state"))
			if err != nil {
				return err
			}
			p, err := participant(c, st, "")
			if err != nil {
				return err
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			session, err := lobby.New(store, nil).CreateSession(c.Context, p, p.Deck)
			if err != nil {
				return err
			}
			st.Participants[session.ID] = p
			if err := st.save(c.String("state")); err != nil {
				return err
			}

			invite, err := lobby.InviteURL(c.String("invite-base"), session.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "session %s\ninvite: %s\n", session.ID, invite)
			return play(c, store, session.ID, p)
		},
	}
}

func joinCommand() *cli.Command {
	return &cli.Command{
		Name:      "join",
		Usage:     "take the open seat of a session, or rejoin your own",
		ArgsUsage: "<session-id>",
		Flags:     participantFlags,
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("session id is required")
			}
			st, err := loadState(c.String("state"))
			if err != nil {
				return err
			}
			p, err := participant(c, st, id)
			if err != nil {
				return err
			}
			st.Participants[id] = p
			if err := st.save(c.String("state")); err != nil {
				return err
			}

			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()
			return play(c, store, id, p, engine.AsJoiner())
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:      "watch",
		Usage:     "follow a session as a spectator",
		ArgsUsage: "<session-id>",
		Action: func(c *cli.Context) error {
			id := c.Args().First()
			if id == "" {
				return errors.New("session id is required")
			}
			store, err := openStore(c)
			if err != nil {
				return err
			}
			defer store.Close()

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng := engine.New(store, id, duel.Participant{Name: "spectator"})
			go printUpdates(ctx, eng, c.App.Writer)
			return eng.Run(ctx)
		},
	}
}

// play runs an engine for sessionID and drives it from stdin.
func play(c *cli.Context, store *remote.Store, sessionID string, p duel.Participant, opts ...engine.Option) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts = append(opts, engine.WithRecorder(history.NewStoreRecorder(store)))
	eng := engine.New(store, sessionID, p, opts...)

	runErr := make(chan error, 1)
	go func() {
		runErr <- eng.Run(ctx)
		stop()
	}()

	out := &lockedWriter{w: c.App.Writer}
	go printUpdates(ctx, eng, out)

	replErr := runREPL(ctx, os.Stdin, out, eng)
	stop()
	if err := <-runErr; err != nil {
		return err
	}
	return replErr
}

func printUpdates(ctx context.Context, eng *engine.Engine, out io.Writer) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-eng.Done():
			return
		case v := <-eng.Updates():
			fmt.Fprintln(out, formatView(v))
		}
	}
}

func cardsCommand() *cli.Command {
	client := func(c *cli.Context) *cardapi.Client {
		return cardapi.NewClient(cardapi.Config{BaseURL: c.String("card-api")})
	}
	printCards := func(w io.Writer, cards []models.Card) {
		for _, card := range cards {
			fmt.Fprintf(w, "%d\t%s\t%s\n", card.ID, card.Name, card.Type)
		}
	}

	return &cli.Command{
		Name:  "cards",
		Usage: "look up cards",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "card-api", Value: cardapi.DefaultBaseURL, EnvVars: []string{"CARD_API_URL"}},
		},
		Subcommands: []*cli.Command{
			{
				Name:      "search",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "type"},
					&cli.StringFlag{Name: "attribute"},
					&cli.IntFlag{Name: "level"},
				},
				Action: func(c *cli.Context) error {
					cards, err := client(c).Search(c.Context, c.Args().First(), cardapi.Filters{
						Type:      c.String("type"),
						Attribute: c.String("attribute"),
						MinLevel:  c.Int("level"),
					})
					if err != nil {
						return err
					}
					printCards(c.App.Writer, cards)
					return nil
				},
			},
			{
				Name:      "get",
				ArgsUsage: "<card-id>",
				Action: func(c *cli.Context) error {
					id, err := strconv.ParseInt(c.Args().First(), 10, 64)
					if err != nil {
						return fmt.Errorf("invalid card id %q", c.Args().First())
					}
					card, err := client(c).GetByID(c.Context, id)
					if err != nil {
						return err
					}
					if card == nil {
						return fmt.Errorf("card %d not found", id)
					}
					printCards(c.App.Writer, []models.Card{*card})
					if card.Desc != "" {
						fmt.Fprintln(c.App.Writer, card.Desc)
					}
					return nil
				},
			},
			{
				Name:      "archetype",
				ArgsUsage: "<archetype>",
				Action: func(c *cli.Context) error {
					cards, err := client(c).ByArchetype(c.Context, c.Args().First())
					if err != nil {
						return err
					}
					printCards(c.App.Writer, cards)
					return nil
				},
			},
			{
				Name:  "random",
				Flags: []cli.Flag{&cli.IntFlag{Name: "count", Value: 5}},
				Action: func(c *cli.Context) error {
					cards, err := client(c).Random(c.Context, c.Int("count"))
					if err != nil {
						return err
					}
					printCards(c.App.Writer, cards)
					return nil
				},
			},
		},
	}
}

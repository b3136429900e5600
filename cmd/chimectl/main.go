package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-chime-client/connection"
	"github.com/jrsteele09/go-chime-client/login"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	server := flag.String("server", "https://signin.id.ue1.app.chime.aws", "service entry URL")
	email := flag.String("email", "", "account e-mail address")
	deviceToken := flag.String("device-token", "", "stable device token (generated when empty)")
	status := flag.String("status", "", "manual availability to set once connected")
	debugHTTP := flag.Bool("debug", false, "log HTTP request and response bodies")
	flag.Parse()

	if *email == "" {
		return errors.New("-email is required")
	}

	displayAppname("chimectl")

	level := zerolog.InfoLevel
	if *debugHTTP {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	events := &cliEvents{
		connected: make(chan string, 1),
		failed:    make(chan error, 1),
	}

	options := []connection.Option{
		connection.WithLogger(logger),
		connection.WithDebugHTTP(*debugHTTP),
	}
	if *deviceToken != "" {
		options = append(options, connection.WithDeviceToken(*deviceToken))
	}
	conn, err := connection.New(*server, events, options...)
	if err != nil {
		return fmt.Errorf("creating connection: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	creds := func(ctx context.Context) (login.Credentials, error) {
		password, err := promptPassword(*email)
		if err != nil {
			return login.Credentials{}, err
		}
		return login.Credentials{Email: *email, Password: password}, nil
	}

	if err := login.Start(ctx, conn, *email, creds, login.WithLogger(logger)); err != nil {
		return fmt.Errorf("starting login: %w", err)
	}

	select {
	case name := <-events.connected:
		logger.Info().Str("display_name", name).Msg("connected")
	case err := <-events.failed:
		return fmt.Errorf("login failed: %w", err)
	case <-ctx.Done():
		return errors.New("timed out waiting for login")
	}

	if *status != "" {
		if err := conn.SetStatus(ctx, *status); err != nil {
			return fmt.Errorf("setting status: %w", err)
		}
		logger.Info().Str("status", *status).Msg("availability set")
	}
	return nil
}

type cliEvents struct {
	connected chan string
	failed    chan error
}

func (e *cliEvents) Connected(displayName string) { e.connected <- displayName }
func (e *cliEvents) Failed(err error)             { e.failed <- err }

func promptPassword(email string) (string, error) {
	fmt.Printf("Password for %s: ", email)
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(password, "\r\n"), nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}

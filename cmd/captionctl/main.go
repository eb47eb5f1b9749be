// Command captionctl drives the caption pipeline from a terminal: it follows
// a track in real time, looks words up and asks for explanations.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/video-stream/subexplain/internal/apperr"
	"github.com/video-stream/subexplain/internal/auth"
	"github.com/video-stream/subexplain/internal/cache"
	"github.com/video-stream/subexplain/internal/config"
	"github.com/video-stream/subexplain/internal/dictionary"
	"github.com/video-stream/subexplain/internal/explain"
	"github.com/video-stream/subexplain/internal/fetch"
	"github.com/video-stream/subexplain/internal/logging"
	"github.com/video-stream/subexplain/internal/models"
	"github.com/video-stream/subexplain/internal/playback"
	"github.com/video-stream/subexplain/internal/subtitle/resolver"
)

const usage = `usage: captionctl [-config file] <command> [flags] [args]

commands:
  follow <baseUrl>   resolve a caption track and print lines as they play
  lookup <text>      dictionary lookup, grouped by token
  explain <text>     explanation through the configured provider
  token              mint a bearer token for the helper API
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	code := exitCode(err)
	if code == 1 {
		fmt.Fprintf(os.Stderr, "captionctl: %v\n", err)
	}
	os.Exit(code)
}

// exitCode follows the shell convention of 130 for an interrupted command.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case apperr.IsCancelled(err):
		return 130
	default:
		return 1
	}
}

type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client fetch.Doer
	out    io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("captionctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	configPath := global.String("config", "", "path to YAML config")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger := logging.New(level)
	defer logger.Sync()

	a := &app{
		cfg:    cfg,
		logger: logger,
		client: fetch.New(&http.Client{}, fetch.WithLogger(logger)),
		out:    stdout,
	}

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "follow":
		return a.follow(ctx, rest)
	case "lookup":
		return a.lookup(ctx, rest)
	case "explain":
		return a.explain(ctx, rest)
	case "token":
		return a.token(rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) follow(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("follow", flag.ContinueOnError)
	rate := fs.Float64("rate", 1, "playback rate")
	from := fs.Duration("from", 0, "start position")
	lang := fs.String("translate", "", "machine-translate into this language")
	tick := fs.Duration("tick", playback.DefaultTickInterval, "time update interval")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("follow needs exactly one caption base URL")
	}

	track := resolver.Track{BaseURL: fs.Arg(0)}
	if *lang != "" {
		track = track.Translated(*lang)
	}
	r := resolver.New(a.client,
		resolver.WithHosts(a.cfg.PrimaryHost, a.cfg.AlternateHost),
		resolver.WithLogger(a.logger),
	)
	res, err := r.Resolve(ctx, track, nil)
	if err != nil {
		return err
	}
	if res.Cueless() {
		for _, line := range res.Lines {
			fmt.Fprintln(a.out, line)
		}
		return nil
	}

	cues := res.Timeline.Cues()
	endMs := cues[len(cues)-1].EndMs
	done := make(chan struct{})
	s := playback.NewSync(func(line string) {
		fmt.Fprintln(a.out, line)
	}, playback.WithLogger(a.logger))

	clock := playback.NewWallClock(from.Milliseconds(), *rate, *tick)
	unsub := clock.OnTick(func() {
		if clock.CurrentPositionMs() > endMs {
			select {
			case <-done:
			default:
				close(done)
			}
		}
	})
	defer unsub()

	s.Bind(clock)
	s.SetTimeline(res.Timeline)
	defer s.Close()
	s.Tick()

	select {
	case <-ctx.Done():
		return apperr.Cancelled("follow")
	case <-done:
		return nil
	}
}

func (a *app) lookup(ctx context.Context, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return errors.New("lookup needs text")
	}

	svc := dictionary.New(a.client,
		dictionary.WithEndpoints(a.cfg.JishoURL, a.cfg.DictionaryURL),
		dictionary.WithMaxTokens(a.cfg.MaxTokens),
		dictionary.WithConcurrency(a.cfg.LookupConcurrency),
		dictionary.WithCache(cache.New[[]models.Item](a.cfg.CacheTTL)),
		dictionary.WithLogger(a.logger),
	)
	res, err := svc.Lookup(ctx, text)
	if err != nil {
		return err
	}

	for _, g := range res.Groups {
		fmt.Fprintf(a.out, "%s\n", g.Token)
		if g.Error != "" {
			fmt.Fprintf(a.out, "  error: %s\n", g.Error)
			continue
		}
		if len(g.Items) == 0 {
			fmt.Fprintln(a.out, "  (no results)")
		}
		for _, it := range g.Items {
			printItem(a.out, it)
		}
	}
	return nil
}

func (a *app) explain(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	provider := fs.String("provider", "", "override ai_provider")
	lang := fs.String("lang", "", "override user_language")
	id := fs.String("id", "", "request id (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if text == "" {
		return errors.New("explain needs text")
	}

	bridge := a.cfg.Bridge.Merge(config.BridgeConfig{AIProvider: *provider, UserLanguage: *lang})
	m := explain.NewManager(a.client,
		explain.WithTimeout(a.cfg.ExplainTimeout),
		explain.WithManagerLogger(a.logger),
	)

	// Ctrl-C cancels through the manager so a local helper also hears /abort.
	requestID := *id
	if requestID == "" {
		requestID = fmt.Sprintf("cli-%d", time.Now().UnixNano())
	}
	stop := context.AfterFunc(ctx, func() { m.Cancel(requestID) })
	defer stop()

	res, err := m.Explain(context.WithoutCancel(ctx), text, requestID, bridge)
	if err != nil {
		return err
	}
	for _, it := range res.Items {
		printItem(a.out, it)
	}
	return nil
}

func (a *app) token(args []string) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	client := fs.String("client", "extension", "client name stored in the token")
	ttl := fs.Duration("ttl", 0, "lifetime (0 = no expiry)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	svc := auth.NewJWTService(a.cfg.AuthSecret)
	if svc == nil {
		return errors.New("auth_secret is not configured")
	}
	token, err := svc.GenerateToken(*client, *ttl)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, token)
	return nil
}

func printItem(w io.Writer, it models.Item) {
	if it.Word == explain.GrammarSeparator {
		fmt.Fprintf(w, "  %s\n", it.Word)
		return
	}
	head := it.Word
	if it.Reading != "" && it.Reading != it.Word {
		head += " [" + it.Reading + "]"
	}
	if it.PartOfSpeech != "" {
		head += " (" + it.PartOfSpeech + ")"
	}
	fmt.Fprintf(w, "  %s: %s\n", head, it.Meaning)
}

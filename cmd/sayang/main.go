// Sayang is a Telegram companion bot.
//
// It keeps a small memory per chat (names and last mood), answers
// messages in character, fires keyword reminders, and sends greetings
// on an hourly schedule. Configuration is loaded from a single YAML
// file discovered automatically (see [config.DefaultSearchPaths]).
//
// Usage:
//
//	sayang serve                    Run the bot
//	sayang init [dir]               Write a starter config.yaml
//	sayang say <chat_id> <text>     Run one message through the pipeline
//	sayang photo <chat_id>          Reply to a photo for chat_id
//	sayang tick [hour]              Show what a scheduler tick would send
//	sayang reminders <chat_id>      List reminder rules for a chat
//	sayang version                  Print version and build information
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/sayang/internal/bridge"
	"github.com/nugget/sayang/internal/buildinfo"
	"github.com/nugget/sayang/internal/config"
	"github.com/nugget/sayang/internal/dispatch"
	"github.com/nugget/sayang/internal/mqtt"
	"github.com/nugget/sayang/internal/persona"
	"github.com/nugget/sayang/internal/scheduler"
	"github.com/nugget/sayang/internal/store"
	"github.com/nugget/sayang/internal/telegram"
)

// main only builds the OS-level environment and hands off to [run], so
// the whole lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand rather
// than with the flag package so tests can call run concurrently.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case command != "":
			cmdArgs = append(cmdArgs, args[i])
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-o="):
			outputFmt = strings.TrimPrefix(args[i], "-o=")
		case strings.HasPrefix(args[i], "--output="):
			outputFmt = strings.TrimPrefix(args[i], "--output=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-"):
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if outputFmt == "" {
		outputFmt = "text"
	}
	if outputFmt != "text" && outputFmt != "json" {
		return fmt.Errorf("unknown output format: %q (expected text or json)", outputFmt)
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "init":
		dir := "."
		if len(cmdArgs) > 0 {
			dir = cmdArgs[0]
		}
		return runInit(stdout, dir)
	case "say":
		if len(cmdArgs) < 2 {
			return fmt.Errorf("usage: sayang say <chat_id> <text>")
		}
		return runSay(ctx, stdout, stderr, configPath, cmdArgs[0], strings.Join(cmdArgs[1:], " "))
	case "photo":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: sayang photo <chat_id>")
		}
		return runPhoto(ctx, stdout, stderr, configPath, cmdArgs[0])
	case "tick":
		hour := -1
		if len(cmdArgs) > 0 {
			h, err := strconv.Atoi(cmdArgs[0])
			if err != nil || h < 0 || h > 23 {
				return fmt.Errorf("usage: sayang tick [hour 0-23]")
			}
			hour = h
		}
		return runTick(ctx, stdout, stderr, configPath, outputFmt, hour)
	case "reminders":
		if len(cmdArgs) != 1 {
			return fmt.Errorf("usage: sayang reminders <chat_id>")
		}
		return runReminders(ctx, stdout, stderr, configPath, outputFmt, cmdArgs[0])
	case "version":
		return runVersion(stdout, outputFmt)
	case "":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

// runVersion prints build metadata in the requested output format.
func runVersion(w io.Writer, outputFmt string) error {
	info := buildinfo.Info()
	if outputFmt == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(info)
	}
	fmt.Fprintln(w, buildinfo.String())
	for _, k := range []string{"version", "git_commit", "git_branch", "build_time", "go_version", "os", "arch"} {
		if v, ok := info[k]; ok {
			fmt.Fprintf(w, "  %-12s %s\n", k+":", v)
		}
	}
	return nil
}

func printUsage(w io.Writer) error {
	fmt.Fprintln(w, "Sayang - Telegram companion bot")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage: sayang [flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve                  Run the bot")
	fmt.Fprintln(w, "  init [dir]             Write a starter config.yaml (default: .)")
	fmt.Fprintln(w, "  say <chat_id> <text>   Run one message through the pipeline")
	fmt.Fprintln(w, "  photo <chat_id>        Reply to a photo for chat_id")
	fmt.Fprintln(w, "  tick [hour]            Show what a scheduler tick would send")
	fmt.Fprintln(w, "  reminders <chat_id>    List reminder rules for a chat")
	fmt.Fprintln(w, "  version                Show version information")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Flags:")
	fmt.Fprintln(w, "  -config <path>    Path to config file (default: auto-discover)")
	fmt.Fprintln(w, "  -o, --output fmt  Output format: text (default) or json")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Config search order:")
	fmt.Fprintln(w, "  ./config.yaml, ~/.config/sayang/config.yaml, /etc/sayang/config.yaml")
	return nil
}

// runServe is the primary operating mode. It opens the store, checks
// the bot token, and runs the bridge, scheduler and optional MQTT
// publisher until SIGINT or SIGTERM. The store is closed last.
func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Sayang", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = configuredLogger(stdout, cfg)
	logger.Info("config loaded",
		"path", cfgPath,
		"store", cfg.Store.Driver,
		"scheduler", cfg.Scheduler.Enabled,
		"mqtt", cfg.MQTT.Configured(),
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("store close failed", "error", err)
		}
	}()

	tg := telegram.NewClient(telegram.Config{
		Token:          cfg.Telegram.Token,
		APIURL:         cfg.Telegram.APIURL,
		PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
		SendRatePerSec: cfg.Telegram.SendRatePerSec,
		Logger:         logger,
	})
	me, err := tg.GetMe(ctx)
	if err != nil {
		if telegram.IsUnauthorized(err) {
			return fmt.Errorf("telegram rejected the bot token: %w", err)
		}
		return fmt.Errorf("telegram getMe: %w", err)
	}
	logger.Info("telegram connected", "username", me.Username, "bot_id", me.ID)

	picker := persona.NewRandPicker()
	disp := dispatch.New(dispatch.Config{
		Store:  st,
		Picker: picker,
		Logger: logger,
	})

	br := bridge.New(bridge.Config{
		Poller:         tg,
		Sender:         tg,
		Handler:        disp,
		Logger:         logger,
		PollTimeoutSec: cfg.Telegram.PollTimeoutSec,
		RateLimit:      cfg.Telegram.ChatRateLimit,
	})

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = newScheduler(logger, cfg, st, tg, picker)
		if err != nil {
			return err
		}
	} else {
		logger.Info("scheduler disabled")
	}

	var pub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("mqtt instance id: %w", err)
		}
		pub = mqtt.New(cfg.MQTT, instanceID, &statsAdapter{store: st, bridge: br, sched: sched}, logger)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return br.Start(gctx)
	})

	if sched != nil {
		sched.Start(gctx)
		defer sched.Stop()
	}

	if pub != nil {
		// A broker outage must not take the bot down.
		g.Go(func() error {
			if err := pub.Start(gctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			offlineCtx, offlineCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer offlineCancel()
			if err := pub.Stop(offlineCtx); err != nil {
				logger.Warn("mqtt shutdown failed", "error", err)
			}
			return nil
		})
		logger.Info("mqtt publishing enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
			"interval", cfg.MQTT.PublishIntervalSec,
		)
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	err = g.Wait()
	logger.Info("Sayang stopped", "received", br.Stats().Received)
	return err
}

// runSay pushes one text message through the dispatcher against the
// configured store and prints the reply. Nothing is sent to Telegram.
func runSay(ctx context.Context, stdout, stderr io.Writer, configPath, chatArg, text string) error {
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return err
	}
	return withDispatcher(ctx, stderr, configPath, func(d *dispatch.Dispatcher) error {
		reply, err := d.OnTextMessage(ctx, chatID, text)
		if err != nil {
			return fmt.Errorf("say: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	})
}

func runPhoto(ctx context.Context, stdout, stderr io.Writer, configPath, chatArg string) error {
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return err
	}
	return withDispatcher(ctx, stderr, configPath, func(d *dispatch.Dispatcher) error {
		reply, err := d.OnPhotoMessage(ctx, chatID)
		if err != nil {
			return fmt.Errorf("photo: %w", err)
		}
		fmt.Fprintln(stdout, reply)
		return nil
	})
}

func withDispatcher(ctx context.Context, stderr io.Writer, configPath string, fn func(*dispatch.Dispatcher) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	return fn(dispatch.New(dispatch.Config{Store: st, Logger: logger}))
}

// runTick plans a scheduler tick without sending anything. hour < 0
// means the current hour in the configured timezone.
func runTick(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt string, hour int) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger := configuredLogger(stderr, cfg)

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	sched, err := newScheduler(logger, cfg, st, nil, persona.NewRandPicker())
	if err != nil {
		return err
	}

	loc, _ := cfg.Scheduler.Location()
	now := time.Now().In(loc)
	if hour >= 0 {
		now = time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, loc)
	}

	msgs, err := sched.Plan(ctx, now)
	if err != nil {
		return fmt.Errorf("tick: %w", err)
	}

	if outputFmt == "json" {
		if msgs == nil {
			msgs = []scheduler.Outbound{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(msgs)
	}

	fmt.Fprintf(stdout, "Tick at %s: %d message(s)\n", now.Format("2006-01-02 15:04 MST"), len(msgs))
	for _, m := range msgs {
		fmt.Fprintf(stdout, "  %-8s %d  %s\n", m.Kind, m.ChatID, m.Text)
	}
	return nil
}

func runReminders(ctx context.Context, stdout, stderr io.Writer, configPath, outputFmt, chatArg string) error {
	chatID, err := parseChatID(chatArg)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rems, err := st.ListReminders(ctx, chatID)
	if err != nil {
		return err
	}

	if outputFmt == "json" {
		if rems == nil {
			rems = []store.Reminder{}
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rems)
	}

	if len(rems) == 0 {
		fmt.Fprintf(stdout, "No reminders for chat %d\n", chatID)
		return nil
	}
	for _, r := range rems {
		fmt.Fprintf(stdout, "%4d  %q => %s\n", r.ID, r.Keyword, r.Message)
	}
	return nil
}

func parseChatID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chat id %q", s)
	}
	return id, nil
}

// openStore opens the configured backend, creating the SQLite
// directory if needed.
func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	if cfg.Store.Driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}
	st, err := store.Open(ctx, store.Options{
		Driver: cfg.Store.Driver,
		Path:   cfg.Store.Path,
		DSN:    cfg.Store.DSN,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func newScheduler(logger *slog.Logger, cfg *config.Config, st store.Store, sender scheduler.Sender, rng scheduler.Roller) (*scheduler.Scheduler, error) {
	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("scheduler timezone: %w", err)
	}
	return scheduler.New(logger, st, sender, rng, scheduler.Config{
		Interval:        cfg.Scheduler.Interval.Duration,
		InitialDelay:    cfg.Scheduler.InitialDelay.Duration,
		Location:        loc,
		MorningHour:     cfg.Scheduler.MorningHour,
		NightHour:       cfg.Scheduler.NightHour,
		PingProbability: cfg.Scheduler.PingProbability,
	}), nil
}

// configuredLogger builds the logger described by cfg. The level has
// already been validated by config.Load.
func configuredLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	level, _ := config.ParseLogLevel(cfg.LogLevel)
	return config.NewLogger(w, level, cfg.LogFormat)
}

// loadConfig locates and parses the YAML configuration file. Returns
// the parsed config and the path that was loaded.
func loadConfig(explicit string) (*config.Config, string, error) {
	cfgPath, err := config.FindConfig(explicit)
	if err != nil {
		return nil, "", err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, cfgPath, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	return cfg, cfgPath, nil
}

// statsAdapter feeds the MQTT publisher from the store, bridge and
// scheduler. sched is nil when the scheduler is disabled.
type statsAdapter struct {
	store  store.Store
	bridge *bridge.Bridge
	sched  *scheduler.Scheduler
}

func (a *statsAdapter) Snapshot(ctx context.Context) (mqtt.Snapshot, error) {
	counts, err := a.store.Stats(ctx)
	if err != nil {
		return mqtt.Snapshot{}, err
	}

	snap := mqtt.Snapshot{
		Uptime:        buildinfo.Uptime(),
		Version:       buildinfo.Version,
		Conversations: counts.Conversations,
		Reminders:     counts.Reminders,
	}
	if a.bridge != nil {
		snap.Received = a.bridge.Stats().Received
	}
	if a.sched != nil {
		if last := a.sched.Stats().LastTick; last != nil {
			snap.LastTick = last.At
			snap.LastTickSent = last.Sent
		}
	}
	return snap, nil
}

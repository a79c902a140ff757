// Command coursesync reconciles course videos with YouTube, PeerTube and the
// course.yml files of the course repository.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"coursesync/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// The first signal ends the run after the current video; a second
		// one kills the process.
		<-ctx.Done()
		stop()
	}()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	platformFlag := &cli.StringFlag{
		Name:    "platform",
		Aliases: []string{"p"},
		Usage:   "restrict to one platform (youtube or peertube)",
	}

	return &cli.App{
		Name:  "coursesync",
		Usage: "upload course videos and keep course.yml in sync",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a JSON config file",
				EnvVars: []string{"COURSESYNC_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log at debug level",
			},
		},
		Commands: []*cli.Command{{
			Name:   "folders",
			Usage:  "list the batch folders of the input directory",
			Action: withEnv(cmdFolders),
		}, {
			Name:      "extract",
			Usage:     "show the metadata extracted from a folder",
			ArgsUsage: "<folder>",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "save",
					Usage: "write the records to <folder>/metadata.json",
				},
			},
			Action: withEnv(cmdExtract),
		}, {
			Name:   "auth",
			Usage:  "sign in to every configured platform and cache credentials",
			Action: withEnv(cmdAuth),
		}, {
			Name:      "upload",
			Usage:     "upload a folder and record the results",
			ArgsUsage: "<folder>",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "youtube", Usage: "upload to YouTube"},
				&cli.BoolFlag{Name: "peertube", Usage: "upload to PeerTube"},
				&cli.BoolFlag{
					Name:    "interactive",
					Aliases: []string{"i"},
					Usage:   "confirm replacements and duplicates before acting",
				},
				&cli.BoolFlag{Name: "no-thumbnails", Usage: "skip thumbnail generation"},
			},
			Action: withEnv(cmdUpload),
		}, {
			Name:   "sync-course",
			Usage:  "write the stored platform IDs into every course.yml",
			Flags:  []cli.Flag{platformFlag},
			Action: withEnv(cmdSyncCourse),
		}, {
			Name:      "thumbnails",
			Usage:     "set thumbnails on uploaded videos from the files in a folder",
			ArgsUsage: "<folder>",
			Flags: []cli.Flag{
				platformFlag,
				&cli.BoolFlag{Name: "force", Usage: "replace thumbnails already set"},
			},
			Action: withEnv(cmdThumbnails),
		}},
	}
}

// env is what every command runs with.
type env struct {
	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
	errOut io.Writer
	in     *bufio.Reader
}

func withEnv(f func(*env, *cli.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			return err
		}
		if c.Bool("verbose") {
			level = slog.LevelDebug
		}

		errOut := c.App.ErrWriter
		if errOut == nil {
			errOut = os.Stderr
		}
		in := c.App.Reader
		if in == nil {
			in = os.Stdin
		}
		logger := slog.New(slog.NewTextHandler(errOut, &slog.HandlerOptions{Level: level}))
		slog.SetDefault(logger)

		return f(&env{
			cfg:    cfg,
			logger: logger,
			out:    c.App.Writer,
			errOut: errOut,
			in:     bufio.NewReader(in),
		}, c)
	}
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	twitter_video_dl "github.com/lanesky/twitter-video-dl"
	_ "github.com/lanesky/twitter-video-dl/provider/twitter"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logger.Sync()
	zap.RedirectStdLog(logger)
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = twitter_video_dl.WithLogger(ctx, logger)

	app := &cli.App{
		Name:      "twitter-video-dl",
		Usage:     "download the video from a tweet",
		ArgsUsage: "TWEET_URL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "target",
				Value: ".",
				Usage: "save downloaded video to `DIR`",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				_ = cli.ShowAppHelp(c)
				return cli.Exit("expected exactly one tweet URL", 2)
			}
			return download(ctx, c.Args().First(), c.String("target"))
		},
		HideHelpCommand: true,
	}

	result := run(func() error { return app.Run(os.Args) })

	select {
	case err = <-result:
		if err != nil {
			logger.Fatal(err.Error())
		}
	case <-ctx.Done():
		logger.Error(ctx.Err().Error())
		stop()
	}
}

// run executes f in a goroutine, returning its result via a channel, so the process keeps reacting to
// signals while the CLI action is blocked on I/O.
func run(f func() error) <-chan error {
	c := make(chan error, 1)
	go func() {
		c <- f()
	}()
	return c
}

func download(ctx context.Context, source string, target string) error {
	logger := twitter_video_dl.Logger(ctx).Sugar()
	logger.Infof("Downloading from %s into %s", source, target)

	if err := os.MkdirAll(target, 0775); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	match, err := twitter_video_dl.DefaultProviderRegistry.Match(source)
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}

	logger.Info("Starting recon...")
	resolved, err := match.Source.Recon(ctx)
	if err != nil {
		return fmt.Errorf("recon failed: %w", err)
	}

	logger.Info("Starting download...")
	bar := progressbar.DefaultBytes(1, "downloading")
	downloadBuilder := twitter_video_dl.NewDownloadBuilder()
	downloadBuilder.WithContext(ctx)
	downloadBuilder.WithProgressCallback(func(downloaded int, expected int) {
		if bar.GetMax() != expected {
			bar.ChangeMax(expected)
		}
		_ = bar.Set(downloaded)
	})
	downloadBuilder.WithPercentCallback(func(percent int) {
		logger.Infof("Download progress: %d%%", percent)
	})
	downloadBuilder.WithTargetPrefix(strings.TrimRight(target, "/") + "/")
	download, err := downloadBuilder.Build()
	if err != nil {
		return err
	}
	defer download.Close()

	logger.Infof("download %s: %v", download.ID(), resolved)
	if err := resolved.Download(download); err != nil {
		return fmt.Errorf("download failed: %w", err)
	}
	logger.Info("Download complete!")

	return nil
}

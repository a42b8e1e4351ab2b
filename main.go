package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/jawher/mow.cli"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bilbercode/scrubcast/internal/convert"
	"github.com/bilbercode/scrubcast/internal/display"
	"github.com/bilbercode/scrubcast/internal/rtsp"
)

const (
	appName = "scrubcast"
	appDesc = "frame streaming server and scrubbing client"
)

func main() {

	app := cli.App(appName, appDesc)

	logLevel := app.String(cli.StringOpt{
		Name:   "log.level",
		Desc:   "log level (debug, info, warn, error)",
		EnvVar: "LOG_LEVEL",
		Value:  "info",
	})

	app.Before = func() {
		level, err := log.ParseLevel(*logLevel)
		if err != nil {
			log.WithError(err).Panic("failed to parse log level")
		}
		log.SetLevel(level)
	}

	app.Command("server", "serve frame containers", serverCmd)
	app.Command("client", "connect to a server and play a resource", clientCmd)
	app.Command("convert", "convert a video into a frame container", convertCmd)

	err := app.Run(os.Args)
	if err != nil {
		log.WithError(err).Panic("failed to execute application")
	}
}

func serverCmd(cmd *cli.Cmd) {
	addr := cmd.String(cli.StringOpt{
		Name:   "addr",
		Desc:   "control protocol listen address",
		EnvVar: "SERVER_ADDR",
		Value:  ":8554",
	})

	root := cmd.String(cli.StringOpt{
		Name:   "root",
		Desc:   "directory resources are served from",
		EnvVar: "MEDIA_ROOT",
		Value:  ".",
	})

	interval := cmd.String(cli.StringOpt{
		Name:   "interval",
		Desc:   "time between frames",
		EnvVar: "FRAME_INTERVAL",
		Value:  rtsp.DefaultFrameInterval.String(),
	})

	dscp := cmd.Int(cli.IntOpt{
		Name:   "dscp",
		Desc:   "DSCP value for data packets, 0 to leave unmarked",
		EnvVar: "DSCP",
		Value:  0,
	})

	metricsAddr := cmd.String(cli.StringOpt{
		Name:   "metrics.addr",
		Desc:   "prometheus listen address, empty to disable",
		EnvVar: "METRICS_ADDR",
		Value:  "",
	})

	cmd.Action = func() {
		frameInterval, err := time.ParseDuration(*interval)
		if err != nil {
			log.WithError(err).Panic("failed to parse frame interval")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := rtsp.NewServer(rtsp.ServerConfig{
			MediaRoot:     *root,
			FrameInterval: frameInterval,
			DSCP:          *dscp,
		})

		group, ctx := errgroup.WithContext(ctx)

		group.Go(func() error {
			return server.Start(ctx, *addr)
		})

		if *metricsAddr != "" {
			group.Go(func() error {
				return serveMetrics(ctx, *metricsAddr)
			})
		}

		err = group.Wait()
		if err != nil {
			log.WithError(err).Panic("stopped")
		}
		log.Info("server stopped")
	}
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("metrics listening on %s", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func clientCmd(cmd *cli.Cmd) {
	server := cmd.String(cli.StringOpt{
		Name:   "server",
		Desc:   "control protocol address of the server",
		EnvVar: "SERVER",
		Value:  "localhost:8554",
	})

	resource := cmd.String(cli.StringOpt{
		Name:   "resource",
		Desc:   "container to play",
		EnvVar: "RESOURCE",
		Value:  "movie.cnt",
	})

	rtpPort := cmd.Int(cli.IntOpt{
		Name:   "rtp-port",
		Desc:   "local data port, 0 for any",
		EnvVar: "RTP_PORT",
		Value:  25000,
	})

	out := cmd.String(cli.StringOpt{
		Name:   "out",
		Desc:   "directory the latest frame is written to",
		EnvVar: "CACHE_DIR",
		Value:  ".",
	})

	replyTimeout := cmd.String(cli.StringOpt{
		Name:   "reply-timeout",
		Desc:   "how long to wait for each server reply",
		EnvVar: "REPLY_TIMEOUT",
		Value:  rtsp.DefaultReplyTimeout.String(),
	})

	cmd.Action = func() {
		timeout, err := time.ParseDuration(*replyTimeout)
		if err != nil {
			log.WithError(err).Panic("failed to parse reply timeout")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sink := display.NewFileSink(*out)
		controller, err := rtsp.Dial(ctx, *server, rtsp.ControllerConfig{
			Resource:     *resource,
			RTPPort:      *rtpPort,
			ReplyTimeout: timeout,
			Display:      sink,
		})
		if err != nil {
			log.WithError(err).Panic("failed to connect")
		}
		defer controller.Close()

		newConsole(controller, sink, os.Stdin, os.Stdout).Run(ctx)
	}
}

func convertCmd(cmd *cli.Cmd) {
	input := cmd.String(cli.StringOpt{
		Name:   "i input",
		Desc:   "video file to convert",
		EnvVar: "INPUT",
		Value:  "",
	})

	output := cmd.String(cli.StringOpt{
		Name:   "o output",
		Desc:   "container file to write",
		EnvVar: "OUTPUT",
		Value:  "movie.cnt",
	})

	mjpeg := cmd.Bool(cli.BoolOpt{
		Name:   "mjpeg",
		Desc:   "input is already an MJPEG stream, skip ffmpeg",
		EnvVar: "MJPEG",
		Value:  false,
	})

	scale := cmd.String(cli.StringOpt{
		Name:   "scale",
		Desc:   "output frame size",
		EnvVar: "SCALE",
		Value:  "640:360",
	})

	bitrate := cmd.String(cli.StringOpt{
		Name:   "bitrate",
		Desc:   "MJPEG bitrate",
		EnvVar: "BITRATE",
		Value:  "1000k",
	})

	ffmpeg := cmd.String(cli.StringOpt{
		Name:   "ffmpeg",
		Desc:   "ffmpeg binary",
		EnvVar: "FFMPEG",
		Value:  "ffmpeg",
	})

	cmd.Action = func() {
		if *input == "" {
			log.Panic("no input given")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		converter := convert.NewConverter(convert.Options{
			FFmpeg:  *ffmpeg,
			Scale:   *scale,
			Bitrate: *bitrate,
			MJPEG:   *mjpeg,
		})
		_, err := converter.Convert(ctx, *input, *output)
		if err != nil {
			log.WithError(err).Panic("failed to convert")
		}
	}
}

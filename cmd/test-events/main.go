package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/okian/wddbridge/internal/adapters/wdd"
	"github.com/okian/wddbridge/internal/testevents"
)

func main() {
	var (
		url      = pflag.String("url", testevents.DefaultURL, "websocket URL of the bridge")
		authKey  = pflag.String("authkey", os.Getenv("WDD_WDD_AUTHKEY"), "decoder auth key")
		adminURL = pflag.String("admin", testevents.DefaultAdminURL, "admin API base URL, empty skips verification")
		camera   = pflag.String("camera", testevents.DefaultCamera, "cam_id of the simulated camera")
		useCBOR  = pflag.Bool("cbor", false, "send binary CBOR frames")
		dances   = pflag.Int("dances", testevents.DefaultDances, "number of dances")
		waggles  = pflag.Int("waggles", testevents.DefaultWaggles, "waggle runs per dance")
		interval = pflag.Duration("interval", testevents.DefaultInterval, "detection time between waggles of a dance")
		pace     = pflag.Duration("pace", testevents.DefaultPace, "wall time between frames")
		width    = pflag.Float64("width", testevents.DefaultWidth, "image width in pixels")
		height   = pflag.Float64("height", testevents.DefaultHeight, "image height in pixels")
		spread   = pflag.Float64("spread", testevents.DefaultSpread, "pixel jitter around a dance's centre")
		timeout  = pflag.Duration("timeout", testevents.DefaultTimeout, "dial and admin request timeout")
		logFile  = pflag.String("log", "", "log file (default: wdd_sim_TIMESTAMP.log)")
		verbose  = pflag.Bool("verbose", false, "log every dance")
		help     = pflag.BoolP("help", "h", false, "show help")
	)
	pflag.Parse()

	if *help {
		testevents.ShowHelp()
		return
	}

	if err := testevents.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	format := wdd.FormatJSON
	if *useCBOR {
		format = wdd.FormatCBOR
	}
	config := &testevents.Config{
		URL:      *url,
		AuthKey:  *authKey,
		AdminURL: *adminURL,
		Camera:   *camera,
		Format:   format,
		Dances:   *dances,
		Waggles:  *waggles,
		Interval: *interval,
		Pace:     *pace,
		Width:    *width,
		Height:   *height,
		Spread:   *spread,
		Timeout:  *timeout,
		LogFile:  *logFile,
		Verbose:  *verbose,
	}

	if err := testevents.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Simulation failed: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

// Copyright (c) 2018 Yandex LLC. All rights reserved.
// Use of this source code is governed by a MPL 2.0
// license that can be found in the LICENSE file.

package cli

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/yandex/funnel/components/framers"
	"github.com/yandex/funnel/components/handlers"
	"github.com/yandex/funnel/core/config"
	"github.com/yandex/funnel/core/replay"
	"github.com/yandex/funnel/core/server"
	"github.com/yandex/funnel/lib/zaputil"
)

const Version = "0.1.0"
const defaultConfigFile = "funnel"

var configSearchDirs = []string{"./", "./config", "/etc/funnel"}

const (
	ModeServe  = "serve"
	ModeReplay = "replay"
)

type cliConfig struct {
	Log  zaputil.LoggerConfig `config:"log"`
	Mode string               `config:"mode" validate:"oneof=serve replay"`
	// Framer and Handler are configs with type key.
	// Framer is created for every connection, and handler factory is shared.
	Framer  map[string]interface{} `config:"framer" validate:"required"`
	Handler map[string]interface{} `config:"handler" validate:"required"`
	// Server and Replay are decoded only for selected mode.
	Server map[string]interface{} `config:"server"`
	Replay map[string]interface{} `config:"replay"`
}

func defaultConfig() cliConfig {
	return cliConfig{
		Log:  zaputil.DefaultLoggerConfig(),
		Mode: ModeServe,
	}
}

type monitoringConfig struct {
	Expvar     string
	CPUProfile string
	MemProfile string
}

func Run() {
	flags := pflag.NewFlagSet("funnel", pflag.ExitOnError)
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of funnel: funnel [flags] [<config_filename>]\n"+
			"<config_filename> is './%s.(yaml|json|...)' by default\n", defaultConfigFile)
		flags.PrintDefaults()
	}
	var (
		example    bool
		monitoring monitoringConfig
	)
	flags.BoolVar(&example, "example", false, "print example config to STDOUT and exit")
	flags.StringVar(&monitoring.CPUProfile, "cpuprofile", "", "write cpu profile to file")
	flags.StringVar(&monitoring.MemProfile, "memprofile", "", "write memory profile to this file")
	flags.StringVar(&monitoring.Expvar, "expvar", "", "start HTTP server with monitoring variables on address")
	flags.String("mode", "", "run mode: serve or replay. Overrides config")
	flags.String("endpoint", "", "serve endpoint: host:port or unix socket path. Overrides config")
	flags.String("source", "", "replay source: file path or stdin. Overrides config")
	_ = flags.Parse(os.Args[1:])

	if example {
		fmt.Print(exampleConfig)
		return
	}

	v := newViper()
	bindFlags(v, flags)
	log, conf := readConfig(v, flags.Args())
	closeMonitoring := startMonitoring(log, monitoring)
	defer closeMonitoring()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fs := afero.NewOsFs()
	handlerFactory, err := handlers.NewFactory(conf.Handler, handlers.Deps{Log: log, Fs: fs})
	if err != nil {
		log.Fatal("Handler create failed", zap.Error(err))
	}
	defer func() {
		err := handlerFactory.Close()
		if err != nil {
			log.Error("Handler close failed", zap.Error(err))
		}
	}()
	newFramer := func() (framers.Framer, error) {
		return framers.New(conf.Framer)
	}
	if _, err := newFramer(); err != nil {
		log.Fatal("Framer create failed", zap.Error(err))
	}

	switch conf.Mode {
	case ModeServe:
		err = runServe(ctx, log, conf, newFramer, handlerFactory, cancel)
	case ModeReplay:
		err = runReplay(ctx, log, fs, conf, newFramer, handlerFactory, cancel)
	}
	if err != nil {
		log.Error("Run failed", zap.Error(err))
		closeMonitoring()
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("Run successfully finished")
}

func runServe(ctx context.Context, log *zap.Logger, conf cliConfig, newFramer func() (framers.Framer, error), hf *handlers.Factory, interrupt func()) error {
	serverConf := server.DefaultConfig()
	err := config.DecodeAndValidate(conf.Server, &serverConf)
	if err != nil {
		return errors.WithMessage(err, "server config")
	}
	m := newServerMetrics()
	startReport(log, m)
	go handleSignals(log, interrupt, serverConf.ShutdownTimeout)
	s := server.New(serverConf, server.Deps{
		Log:       log,
		NewFramer: newFramer,
		Handlers:  hf,
		Metrics:   m,
	})
	return s.Run(ctx)
}

func runReplay(ctx context.Context, log *zap.Logger, fs afero.Fs, conf cliConfig, newFramer func() (framers.Framer, error), hf *handlers.Factory, interrupt func()) error {
	replayConf := replay.DefaultConfig()
	err := config.DecodeAndValidate(conf.Replay, &replayConf)
	if err != nil {
		return errors.WithMessage(err, "replay config")
	}
	framer, err := newFramer()
	if err != nil {
		return err
	}
	go handleSignals(log, interrupt, replayConf.Connection.DrainTimeout)
	_, err = replay.Run(ctx, replayConf, replay.Deps{
		Log:      log,
		Fs:       fs,
		Framer:   framer,
		Encoder:  framer,
		Handlers: hf,
		Metrics:  newServerMetrics().Connection,
	})
	return err
}

func readConfig(v *viper.Viper, args []string) (*zap.Logger, cliConfig) {
	bootLog, err := zap.NewDevelopment(zap.AddCaller())
	if err != nil {
		panic(err)
	}
	bootLog.Info("Funnel started", zap.String("version", Version))
	if len(args) > 0 {
		v.SetConfigFile(args[0])
	}
	err = v.ReadInConfig()
	bootLog.Info("Reading config", zap.String("file", v.ConfigFileUsed()))
	if err != nil {
		bootLog.Fatal("Config read failed", zap.Error(err))
	}
	conf := defaultConfig()
	err = config.DecodeAndValidate(v.AllSettings(), &conf)
	if err != nil {
		bootLog.Fatal("Config decode failed", zap.Error(err))
	}
	log, err := zaputil.NewLogger(conf.Log)
	if err != nil {
		bootLog.Fatal("Logger create failed", zap.Error(err))
	}
	zap.ReplaceGlobals(log)
	zap.RedirectStdLog(log)
	return log, conf
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigName(defaultConfigFile)
	for _, dir := range configSearchDirs {
		v.AddConfigPath(dir)
	}
	return v
}

// bindFlags makes changed flags override config values.
// Not changed flags are ignored, so their empty defaults don't override config.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	keys := map[string]string{
		"mode":     "mode",
		"endpoint": "server.endpoint",
		"source":   "replay.source",
	}
	for name, key := range keys {
		if f := flags.Lookup(name); f.Changed {
			v.Set(key, f.Value.String())
		}
	}
}

func handleSignals(log *zap.Logger, interrupt func(), gracefulTimeout time.Duration) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigs
	switch sig {
	case syscall.SIGINT:
		// Extra time for stream flush and resources release.
		interruptTimeout := gracefulTimeout + 5*time.Second
		log.Info("SIGINT received. Trying to stop gracefully.", zap.Duration("timeout", interruptTimeout))
		interrupt()
		select {
		case <-time.After(interruptTimeout):
			log.Fatal("Interrupt timeout exceeded")
		case sig := <-sigs:
			log.Fatal("Another signal received. Quiting.", zap.Stringer("signal", sig))
		}
	case syscall.SIGTERM:
		log.Fatal("SIGTERM received. Quiting.")
	default:
		log.Fatal("Unexpected signal received. Quiting.", zap.Stringer("signal", sig))
	}
}

func startMonitoring(log *zap.Logger, conf monitoringConfig) (stop func()) {
	if conf.Expvar != "" {
		go func() {
			err := http.ListenAndServe(conf.Expvar, nil)
			log.Fatal("Monitoring server failed", zap.Error(err))
		}()
	}
	var stops []func()
	if conf.CPUProfile != "" {
		f, err := os.Create(conf.CPUProfile)
		if err != nil {
			log.Fatal("CPU profile file create fail", zap.Error(err))
		}
		_ = pprof.StartCPUProfile(f)
		stops = append(stops, func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		})
	}
	if conf.MemProfile != "" {
		f, err := os.Create(conf.MemProfile)
		if err != nil {
			log.Fatal("Memory profile file create fail", zap.Error(err))
		}
		stops = append(stops, func() {
			_ = pprof.WriteHeapProfile(f)
			_ = f.Close()
		})
	}
	var stopped bool
	stop = func() {
		if stopped {
			return
		}
		stopped = true
		for _, s := range stops {
			s()
		}
	}
	return
}

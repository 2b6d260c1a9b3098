package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/cheggaaa/pb/v3"
	"keyprobe/internal/app"
	"keyprobe/internal/core/scheduler"
	"keyprobe/internal/core/validator"
	"keyprobe/internal/exporter"
	"keyprobe/internal/keystore"
	"keyprobe/internal/shared/config"
	"keyprobe/internal/shared/logger"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	serve := flag.Bool("serve", false, "Start the web API and keep running")
	skipSucceeded := flag.Bool("skip-succeeded", false, "Only query keys whose last query did not succeed")
	exportPath := flag.String("export", "", "Export results to this file (.csv, .json or .yaml)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] [files...]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	iniPath := filepath.Join(*configDir, "keyprobe.ini")

	// 1. 加载 .ini 行为配置
	cfg := config.Default()
	if err := config.LoadIni(cfg, iniPath); err != nil {
		// Use standard fmt before logger is initialized.
		fmt.Fprintf(os.Stderr, "Fatal: Failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	// 1.1 初始化日志系统
	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// 2. 创建服务器并加载已保存的 key
	appServer, err := app.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}

	// 3. 导入命令行给出的文件
	files := flag.Args()
	if len(files) > 0 {
		res, err := appServer.ImportFiles(files)
		if err != nil {
			logger.Fatal().Err(err).Msg("Import failed")
		}
		for _, e := range res.Errors {
			logger.Warn().Str("error", e).Msg("Source skipped")
		}
	}

	// 第一次信号停止派发新的 key，第二次中止正在进行的查询
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	if *serve {
		if err := appServer.Serve(); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start web API")
		}
		if len(files) > 0 {
			runBatch(appServer, *skipSucceeded, false)
		}
		<-sigCh
		appServer.Shutdown()
		return
	}

	go func() {
		<-sigCh
		logger.Warn().Msg("Interrupt received, finishing in-flight queries. Press Ctrl+C again to abort.")
		appServer.StopQuery()
		<-sigCh
		appServer.Shutdown()
	}()

	ok := runBatch(appServer, *skipSucceeded, true)
	appServer.Shutdown()

	if *exportPath != "" {
		if err := exporter.ExportFile(*exportPath, appServer.Records()); err != nil {
			logger.Fatal().Err(err).Str("path", *exportPath).Msg("Export failed")
		}
		logger.Info().Str("path", *exportPath).Msg("Results exported.")
	}
	printSummary(appServer.Records())
	if !ok {
		os.Exit(1)
	}
}

// runBatch starts one batch and, when wait is set, blocks until it is done.
func runBatch(appServer *app.AppServer, skipSucceeded, wait bool) bool {
	var bar *pb.ProgressBar
	if wait {
		bar = pb.New(0)
		bar.SetTemplate(`{{counters . }} {{bar . }} {{percent . }} {{etime . }}`)
		appServer.Subscribe(func(_ string, ev scheduler.Event) {
			if ev.Type == scheduler.EventOutcome {
				bar.Increment()
			}
		})
	}

	info, err := appServer.StartQuery(skipSucceeded)
	if err != nil {
		if errors.Is(err, app.ErrNoKeys) {
			logger.Warn().Msg("No keys to query. Pass files containing keys as arguments.")
			return true
		}
		logger.Error().Err(err).Msg("Failed to start query")
		return false
	}
	if !wait {
		return true
	}

	bar.SetTotal(int64(info.Count))
	bar.Start()
	err = appServer.WaitQuery(context.Background())
	bar.Finish()
	return err == nil
}

func printSummary(records []keystore.Record) {
	counts := map[validator.Verdict]int{}
	failed, unqueried := 0, 0
	for _, r := range records {
		switch {
		case r.Outcome == nil:
			unqueried++
		case r.Outcome.Phase == validator.PhaseFailed && r.Outcome.Verdict == validator.VerdictNone:
			failed++
		default:
			counts[r.Outcome.Verdict]++
		}
	}
	fmt.Printf("keys: %d  valid: %d  invalid: %d  unknown: %d  failed: %d  not queried: %d\n",
		len(records), counts[validator.VerdictValid], counts[validator.VerdictInvalid],
		counts[validator.VerdictUnknown], failed, unqueried)
}

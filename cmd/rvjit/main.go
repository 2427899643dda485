package main

import (
	"errors"
	"flag"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"rvjit/pkg/config"
	"rvjit/pkg/hart"
	"rvjit/pkg/interpreter"
	"rvjit/pkg/jit"
	"rvjit/pkg/loader"
	"rvjit/pkg/metrics"
	"rvjit/pkg/profile"
	"rvjit/pkg/ram"
	"rvjit/pkg/types"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML configuration file")
	mode := flag.String("mode", "", "Execution mode: simple or bb")
	policy := flag.String("policy", "", "Compile policy: interpret, eager or after")
	hot := flag.Uint64("hot", 0, "Visits before the after policy compiles a block")
	inline := flag.Bool("inline", false, "Inline ALU fast paths in compiled blocks")
	verify := flag.Bool("verify", false, "Rebuild cached blocks whose code changed")
	raw := flag.Bool("raw", false, "Treat the program as a flat binary loaded at memory_base")
	limit := flag.Uint64("max-instructions", 0, "Stop after this many instructions (0 = unlimited)")
	profilePath := flag.String("profile", "", "Directory of the persistent block profile")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address")
	traceFile := flag.String("trace", "", "Write a per-block trace to this file")
	logLevel := flag.String("log-level", "", "Log level")

	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatal("usage: rvjit [flags] program")
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	cfg.ApplyEnv()

	// Flags set on the command line win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "mode":
			cfg.Mode = *mode
		case "policy":
			cfg.Policy = *policy
		case "hot":
			cfg.HotThreshold = *hot
		case "inline":
			cfg.Inline = *inline
		case "verify":
			cfg.VerifyCode = *verify
		case "max-instructions":
			cfg.MaxInstructions = *limit
		case "profile":
			cfg.ProfilePath = *profilePath
		case "metrics-addr":
			cfg.MetricsAddr = *metricsAddr
		case "trace":
			cfg.TraceFile = *traceFile
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, _ := cfg.Level()
	log.SetLevel(level)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	os.Exit(run(cfg, flag.Arg(0), *raw))
}

// run executes the program and returns the process exit status.
func run(cfg config.Config, program string, raw bool) int {
	mem, err := ram.New(cfg.MemoryBase, cfg.MemorySize)
	if err != nil {
		log.Fatalf("Failed to map guest memory: %v", err)
	}
	defer mem.Close()

	var img *loader.Image
	if raw {
		data, err := os.ReadFile(program)
		if err != nil {
			log.Fatalf("Failed to read program: %v", err)
		}
		img, err = loader.LoadRaw(mem, cfg.MemoryBase, data)
		if err != nil {
			log.Fatalf("Failed to load program: %v", err)
		}
	} else {
		img, err = loader.LoadELFFile(mem, program)
		if err != nil {
			log.Fatalf("Failed to load program: %v", err)
		}
	}
	if img.High > cfg.StackTop()-cfg.StackSize {
		log.Fatalf("Program [0x%x, 0x%x) overlaps the stack", img.Low, img.High)
	}

	mode, _ := cfg.HartMode()
	policy, _ := cfg.HartPolicy()
	opts := []hart.Option{
		hart.WithMode(mode),
		hart.WithPolicy(policy),
		hart.WithInlining(cfg.Inline),
		hart.WithVerifyCode(cfg.VerifyCode),
		hart.WithInstructionLimit(cfg.MaxInstructions),
		hart.WithStackPointer(types.Register(cfg.StackTop())),
		hart.WithStdout(os.Stdout),
		hart.WithStderr(os.Stderr),
	}

	var rt *jit.Runtime
	if mode == hart.ModeBB {
		rt, err = jit.NewRuntime()
		if err != nil {
			log.Fatalf("Failed to create JIT runtime: %v", err)
		}
		log.WithField("environment", rt.Environment()).Debug("jit runtime ready")
		opts = append(opts, hart.WithCompiler(jit.NewCompiler(rt, jit.WithInlining(cfg.Inline))))
	}

	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		col, err := metrics.NewCollector(reg)
		if err != nil {
			log.Fatalf("Failed to register metrics: %v", err)
		}
		opts = append(opts, hart.WithMetrics(col))
		srv := &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	if cfg.ProfilePath != "" {
		store, err := profile.Open(cfg.ProfilePath)
		if err != nil {
			log.Fatalf("Failed to open profile: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.Errorf("Failed to save profile: %v", err)
			}
		}()
		opts = append(opts, hart.WithProfile(store))
	}

	if cfg.TraceFile != "" {
		tracer, closer, err := hart.NewTraceLogger(cfg.TraceFile)
		if err != nil {
			log.Fatalf("Failed to open trace file: %v", err)
		}
		defer closer.Close()
		opts = append(opts, hart.WithTracer(tracer))
	}

	h, err := hart.New(mem, types.Register(img.Entry), opts...)
	if err != nil {
		log.Fatalf("Failed to create hart: %v", err)
	}
	res, err := h.Run()

	fields := log.Fields{
		"reason":          res.Reason,
		"retired":         res.Retired,
		"blocksBuilt":     res.Stats.BlocksBuilt,
		"blocksCompiled":  res.Stats.BlocksCompiled,
		"nativeRuns":      res.Stats.NativeRuns,
		"interpretedRuns": res.Stats.InterpretedRuns,
	}
	if rt != nil {
		fields["codeBytes"] = rt.Stats().CodeBytes
	}
	log.WithFields(fields).Info("summary")

	if err != nil {
		log.Errorf("Emulation failed: %v", err)
		return 1
	}
	if res.Reason == interpreter.StopExit {
		return int(res.ExitCode & 0xff)
	}
	return 0
}

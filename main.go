package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"TFP/internal/acoustic"
	"TFP/internal/compute"
	"TFP/internal/config"
)

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if *watchFlag && *configFlag == "" {
		return errors.New("-watch needs -config")
	}

	var profile *cpuProfile
	if *cpuProfileFlag != "" {
		if profile, err = startCPUProfile(*cpuProfileFlag); err != nil {
			return err
		}
		defer profile.Stop()
	}

	arr, err := buildArray(cfg.Transducer)
	if err != nil {
		return err
	}
	sampler, err := buildSampler(cfg.Skull)
	if err != nil {
		return err
	}
	backend := buildBackend(cfg.Workers, *openCLFlag)
	log.Printf("Kernels running on %s", backend.Name())

	cc := compute.NewContext(acoustic.Kernels(), backend)
	defer cc.Close()
	baseline := activeFlags(arr.Elements())
	planner := acoustic.NewPlanner(cc, arr, cfg.Params())
	defer func() {
		if err := planner.Release(); err != nil {
			log.Printf("Releasing planner buffers: %v", err)
		}
	}()
	if err := cfg.Apply(planner); err != nil {
		return err
	}
	planner.SetSampler(sampler)
	log.Printf("%d elements (%d active)", arr.Len(), arr.ActiveCount())

	if err := runPlan(planner, cfg); err != nil {
		return err
	}
	if err := profile.Stop(); err != nil {
		log.Printf("Closing CPU profile: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *watchFlag {
		reload := func(next config.Config) {
			if err := replan(planner, baseline, cfg, next); err != nil {
				log.Printf("Replan failed: %v", err)
				return
			}
			cfg = next
		}
		if !*previewFlag {
			return config.Watch(ctx, *configFlag, planFlags(), reload)
		}
		go func() {
			if err := config.Watch(ctx, *configFlag, planFlags(), reload); err != nil {
				log.Printf("Config watcher stopped: %v", err)
			}
		}()
	}
	if *previewFlag {
		return runPreview(planner)
	}
	return nil
}

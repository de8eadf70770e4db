package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/log"

	"crz64i/pkg/asm"
	"crz64i/pkg/config"
	"crz64i/pkg/ir"
	"crz64i/pkg/sim"
)

func main() {
	inPath := flag.String("in", "", "input IR file: textual (.s) or JSON (.json)")
	outPath := flag.String("out", "", "write the assembled ops as JSON IR")
	runProgram := flag.Bool("run", false, "run the program on the simulator")
	restorePath := flag.String("restore", "", "restore a simulator snapshot and continue from its PC")
	snapshotPath := flag.String("snapshot", "", "write a simulator snapshot after the run")
	configPath := flag.String("config", "", "JSON configuration file")
	allowIO := flag.Bool("allow-io", false, "allow WRITE_IO")
	allowDMA := flag.Bool("allow-dma", false, "allow DMA_START")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := log.LevelInfo
	if *verbose {
		level = log.LevelDebug
	}
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, level, false)))

	if *inPath == "" {
		fmt.Fprintln(os.Stderr, "nothing to do: provide -in <ir file>")
		flag.Usage()
		os.Exit(2)
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}

	ops, err := loadProgram(*inPath, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %q: %v\n", *inPath, err)
		os.Exit(1)
	}
	fmt.Printf("loaded %d ops from %s\n", len(ops), *inPath)

	if *outPath != "" {
		if err := writeIR(*outPath, ops); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write IR %q: %v\n", *outPath, err)
			os.Exit(1)
		}
	}

	if !*runProgram && *restorePath == "" {
		return
	}
	if err := runProgramFile(ops, cfg, *restorePath, *snapshotPath, *allowIO, *allowDMA); err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		os.Exit(1)
	}
}

// loadProgram reads JSON IR when the file ends in .json and textual IR
// otherwise.
func loadProgram(path string, cfg *config.Config) ([]ir.Op, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ir.Decode(data)
	}
	ops, _, err := asm.Assemble(string(data), cfg)
	return ops, err
}

func writeIR(path string, ops []ir.Op) error {
	data, err := ir.Encode(ops)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func runProgramFile(ops []ir.Op, cfg *config.Config, restorePath, snapshotPath string, allowIO, allowDMA bool) error {
	vm := sim.New(cfg, sim.WithSandbox(allowIO, allowDMA))

	var res sim.Result
	var err error
	if restorePath != "" {
		data, rerr := os.ReadFile(restorePath)
		if rerr != nil {
			return rerr
		}
		if rerr := vm.Restore(data); rerr != nil {
			return rerr
		}
		res, err = vm.RunProgram(ops)
	} else {
		res, err = vm.Run(ops)
	}
	if err != nil {
		return err
	}

	fmt.Printf("run %s: steps=%d cycles=%d energy=%.3e J peak=%.2f°C pc=%d\n",
		res.Status, res.Steps, res.Cycles, res.Energy, res.PeakTemperature, vm.PC)
	report, err := json.MarshalIndent(vm.EnergyReport(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(report))

	if snapshotPath != "" {
		data, err := vm.Snapshot()
		if err != nil {
			return err
		}
		if err := os.WriteFile(snapshotPath, data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
	"go.uber.org/zap"

	"github.com/wippyai/multicall/engine"
	"github.com/wippyai/multicall/invocation"
)

type globalOptions struct {
	Verbose bool `short:"v" long:"verbose" description:"Log debug output to stderr"`
}

var global globalOptions

func main() {
	parser := flags.NewParser(&global, flags.HelpFlag|flags.PassDoubleDash)
	parser.ShortDescription = "Call many functions with one set of arguments"
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		if cmd == nil {
			return nil
		}
		if global.Verbose {
			log, err := zap.NewDevelopment()
			if err != nil {
				return fmt.Errorf("create logger: %w", err)
			}
			defer log.Sync()
			engine.SetLogger(log)
			invocation.SetLogger(log)
		}
		return cmd.Execute(args)
	}

	mustAdd(parser.AddCommand("inspect",
		"Describe signature encodings",
		"Parses each encoding and prints its return type, argument slots, frame length and stack size.",
		&inspectCommand{}))
	mustAdd(parser.AddCommand("exports",
		"List the exports of a WebAssembly module",
		"Prints every exported function with the encoding derived from its core type.",
		&exportsCommand{}))
	mustAdd(parser.AddCommand("run",
		"Invoke WebAssembly exports with shared arguments",
		"Calls each named export in order with the same arguments and prints every return value.",
		&runCommand{}))
	mustAdd(parser.AddCommand("gen",
		"Generate typed Go wrappers for an encoding",
		"Writes a Go file with a function type, a callable constructor and a typed invocation.",
		&genCommand{}))

	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			fmt.Println(fe.Message)
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func mustAdd(_ *flags.Command, err error) {
	if err != nil {
		panic(err)
	}
}

// loadInstance compiles and instantiates a module file. The returned close
// function releases both the instance and the engine.
func loadInstance(ctx context.Context, path string, memoryLimit uint32) (*engine.WazeroInstance, func(), error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read file: %w", err)
	}
	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{MemoryLimitPages: memoryLimit})
	if err != nil {
		return nil, nil, fmt.Errorf("create engine: %w", err)
	}
	mod, err := eng.LoadModule(ctx, data)
	if err != nil {
		eng.Close(ctx)
		return nil, nil, fmt.Errorf("load module: %w", err)
	}
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		eng.Close(ctx)
		return nil, nil, fmt.Errorf("instantiate: %w", err)
	}
	return inst, func() {
		inst.Close(ctx)
		eng.Close(ctx)
	}, nil
}

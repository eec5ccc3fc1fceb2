package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/multicall/encoding"
	"github.com/wippyai/multicall/engine"
	"github.com/wippyai/multicall/internal/gen"
	"github.com/wippyai/multicall/invocation"
	"github.com/wippyai/multicall/signature"
)

var models = map[string]encoding.Model{
	"host":   encoding.Host,
	"lp64":   encoding.LP64,
	"ilp32":  encoding.ILP32,
	"wasm32": encoding.Wasm32,
}

type inspectCommand struct {
	Model    string `short:"m" long:"model" default:"host" choice:"host" choice:"lp64" choice:"ilp32" choice:"wasm32" description:"Data model for sizes and offsets"`
	Selector bool   `short:"s" long:"selector" description:"Also print the method encoding with a selector after self"`
	Args     struct {
		Encodings []string `positional-arg-name:"encoding" required:"1"`
	} `positional-args:"yes"`
}

func (c *inspectCommand) Execute([]string) error {
	model := models[c.Model]
	p := newPrinter()
	for n, enc := range c.Args.Encodings {
		sig, err := signature.ParseModel(enc, model)
		if err != nil {
			return err
		}
		if n > 0 {
			p.printf("\n")
		}
		p.title(enc)
		p.printf("  %-12s %s\n", "model", model.Name)
		p.printf("  %-12s %s  %s, %d bytes\n", "return", p.typ(sig.Return().String()), sig.Return().Kind(), sig.ReturnSize())
		for i := 0; i < sig.ArgumentCount(); i++ {
			t, _ := sig.Argument(i)
			label := fmt.Sprintf("arg %d", i)
			if i == 0 {
				label = "self"
			}
			var notes []string
			if sig.ArgumentIsObject(i) {
				notes = append(notes, "object")
			}
			if sig.ArgumentIsPointer(i) {
				notes = append(notes, "pointer")
			}
			note := ""
			if len(notes) > 0 {
				note = " (" + strings.Join(notes, ", ") + ")"
			}
			p.printf("  %-12s %s  %s, %d bytes at offset %d%s\n",
				label, p.typ(sig.ArgumentEncoding(i)), t.Kind(), sig.ArgumentSize(i), sig.ArgumentOffset(i), note)
		}
		p.printf("  %-12s %d\n", "frame length", sig.FrameLength())
		p.printf("  %-12s %d\n", "stack size", sig.StackSize())
		if c.Selector {
			method, err := encoding.NewParser(model).InsertSelector(enc)
			if err != nil {
				return err
			}
			p.printf("  %-12s %s\n", "method", p.typ(method))
		}
	}
	return nil
}

type exportsCommand struct {
	Args struct {
		Module string `positional-arg-name:"module.wasm" required:"1"`
	} `positional-args:"yes"`
}

func (c *exportsCommand) Execute([]string) error {
	ctx := context.Background()
	inst, done, err := loadInstance(ctx, c.Args.Module, 0)
	if err != nil {
		return err
	}
	defer done()

	p := newPrinter()
	p.title(c.Args.Module)
	for _, name := range inst.ExportNames() {
		e, err := inst.Export(name)
		if err != nil {
			return err
		}
		def := e.Definition()
		core := fmt.Sprintf("(%s) -> (%s)", valueTypes(def.ParamTypes()), valueTypes(def.ResultTypes()))
		enc, err := engine.EncodingForCore(def)
		if err != nil {
			p.printf("  %s %s  %s\n", p.fn(name), core, p.failure("not callable"))
			continue
		}
		p.printf("  %s %s  %s\n", p.fn(name), core, p.typ(enc))
	}
	return nil
}

func valueTypes(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ", ")
}

type runCommand struct {
	Exports     []string `short:"e" long:"export" description:"Export to call; repeat to call several in order"`
	Signature   string   `short:"s" long:"sig" description:"Signature encoding; defaults to the first export's core type"`
	Args        []string `short:"a" long:"arg" description:"Value for the next argument slot; structs and arrays take comma-separated leaves"`
	Interactive bool     `short:"i" long:"interactive" description:"Pick exports and enter arguments in a terminal UI"`
	MemoryLimit uint32   `long:"memory-limit" description:"Maximum linear memory in 64KiB pages"`
	Module      struct {
		Path string `positional-arg-name:"module.wasm" required:"1"`
	} `positional-args:"yes"`
}

func (c *runCommand) Execute([]string) error {
	if c.Interactive {
		return runInteractive(c.Module.Path, c.MemoryLimit)
	}
	if len(c.Exports) == 0 {
		return fmt.Errorf("no exports given; use -e name")
	}

	ctx := context.Background()
	inst, done, err := loadInstance(ctx, c.Module.Path, c.MemoryLimit)
	if err != nil {
		return err
	}
	defer done()

	inv, err := newInvocation(inst, c.Exports, c.Signature)
	if err != nil {
		return err
	}
	defer inv.Close()
	if err := setArguments(inv, c.Args); err != nil {
		return err
	}
	if err := inv.Invoke(ctx); err != nil {
		return fmt.Errorf("invoke: %w", err)
	}

	p := newPrinter()
	p.title(inv.Signature().Encoding())
	for i, line := range formatReturns(inv) {
		p.printf("  %s  %s\n", p.fn(c.Exports[i]), p.result(line))
	}
	return nil
}

// newInvocation builds an invocation over the named exports. Without an
// explicit encoding each export is typed from its core signature and the
// first one fixes the shape.
func newInvocation(inst *engine.WazeroInstance, names []string, enc string) (*invocation.Invocation, error) {
	cfg := invocation.Config{Introspector: engine.Introspector{Instance: inst}}
	inv := invocation.New(cfg)
	if enc != "" {
		var err error
		if inv, err = invocation.NewWithEncoding(enc, cfg); err != nil {
			return nil, err
		}
	}
	for _, name := range names {
		if enc == "" {
			if err := inv.AddHandle(name); err != nil {
				return nil, fmt.Errorf("export %s: %w", name, err)
			}
			continue
		}
		call, err := inst.Callable(name, enc, 0)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
		if err := inv.AddCallable(call); err != nil {
			return nil, fmt.Errorf("export %s: %w", name, err)
		}
	}
	return inv, nil
}

func setArguments(inv *invocation.Invocation, args []string) error {
	sig := inv.Signature()
	if want := sig.ArgumentCount() - 1; len(args) != want {
		return fmt.Errorf("signature %s takes %d arguments, got %d", sig, want, len(args))
	}
	for i, text := range args {
		t, _ := sig.Argument(i + 1)
		b, err := parseValue(t, text)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i+1, err)
		}
		if err := inv.SetArgument(i+1, b); err != nil {
			return err
		}
	}
	return nil
}

func formatReturns(inv *invocation.Invocation) []string {
	rt := inv.Signature().Return()
	buf := make([]byte, rt.Size())
	out := make([]string, inv.CallableCount())
	for i := range out {
		if err := inv.ReturnValue(i, buf); err != nil {
			out[i] = err.Error()
			continue
		}
		out[i] = formatValue(rt, buf)
	}
	return out
}

type genCommand struct {
	Name    string `short:"n" long:"name" required:"1" description:"Exported base name of the generated declarations"`
	Package string `short:"p" long:"package" default:"main" description:"Package clause of the generated file"`
	Output  string `short:"o" long:"output" description:"Output file; stdout when empty"`
	Args    struct {
		Encoding string `positional-arg-name:"encoding" required:"1"`
	} `positional-args:"yes"`
}

func (c *genCommand) Execute([]string) error {
	opts := gen.Options{Package: c.Package, Name: c.Name, Encoding: c.Args.Encoding}
	if c.Output == "" {
		return gen.Render(os.Stdout, opts)
	}
	f, err := os.Create(c.Output)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := gen.Render(f, opts); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

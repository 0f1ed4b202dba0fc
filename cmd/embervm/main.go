// Command embervm is Ember's CLI: run source or compiled chunks, compile to
// disk, disassemble, or drop into a REPL.
package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/emberlang/ember/pkg/ast"
	"github.com/emberlang/ember/pkg/bytecode"
	"github.com/emberlang/ember/pkg/compiler"
	"github.com/emberlang/ember/pkg/parser"
	"github.com/emberlang/ember/pkg/vm"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const version = "0.1.0"

var (
	flagTrace bool
	flagDebug bool
	log       = logrus.New()
)

func main() {
	root := &cobra.Command{
		Use:     "embervm",
		Short:   "Ember language compiler and virtual machine",
		Version: version,
	}
	root.PersistentFlags().BoolVar(&flagTrace, "trace", false, "log a disassembled instruction trace during execution")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "attach the interactive debugger (breakpoints, stepping)")

	root.AddCommand(runCmd(), buildCmd(), disasmCmd(), replCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <file.em|file.emc>",
		Short: "Compile (if needed) and execute a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(runFile(args[0]))
			return nil
		},
	}
}

func buildCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "build <file.em> [out.emc]",
		Short: "Compile a source file to a binary chunk container",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := ""
			if len(args) == 2 {
				out = args[1]
			}
			os.Exit(buildFile(args[0], out))
			return nil
		},
	}
}

func disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <file.em|file.emc>",
		Short: "Print the disassembly of a source or compiled chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(disasmFile(args[0]))
			return nil
		},
	}
}

func replCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive read-eval-print loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			runREPL()
			return nil
		},
	}
}

func configureTracing() {
	if flagTrace {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
}

// loadChunk compiles an .em source file or decodes an .emc binary file,
// returning the exit code to use on failure (0 means success).
func loadChunk(filename string) (*bytecode.Chunk, int) {
	data, err := os.ReadFile(filename)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "reading file"))
		return nil, 1
	}
	if filepath.Ext(filename) == ".emc" {
		chunk, err := bytecode.Decode(data)
		if err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "decoding bytecode"))
			return nil, 1
		}
		return chunk, 0
	}

	p := parser.New(string(data))
	program, err := p.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "parse error"))
		for _, e := range p.Errors() {
			fmt.Fprintln(os.Stderr, " ", e)
		}
		return nil, 1
	}
	c := compiler.New()
	chunk, err := c.Compile(program)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "compile error"))
		return nil, 2
	}
	return chunk, 0
}

func runFile(filename string) int {
	configureTracing()
	chunk, code := loadChunk(filename)
	if chunk == nil {
		return code
	}
	m := vm.New(chunk)
	m.Log = log
	m.Debug = flagDebug
	if err := m.Run(); err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "runtime error"))
		return 3
	}
	return 0
}

func buildFile(inputFile, outputFile string) int {
	data, err := os.ReadFile(inputFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "reading file"))
		return 1
	}
	p := parser.New(string(data))
	program, err := p.Parse()
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "parse error"))
		return 1
	}
	c := compiler.New()
	chunk, err := c.Compile(program)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "compile error"))
		return 2
	}
	if outputFile == "" {
		outputFile = strings.TrimSuffix(inputFile, filepath.Ext(inputFile)) + ".emc"
	}
	encoded, err := bytecode.Encode(chunk)
	if err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "encoding chunk"))
		return 2
	}
	if err := os.WriteFile(outputFile, encoded, 0o644); err != nil {
		fmt.Fprintln(os.Stderr, errors.Wrap(err, "writing output"))
		return 2
	}
	fmt.Printf("compiled %s -> %s\n", inputFile, outputFile)
	return 0
}

func disasmFile(filename string) int {
	chunk, code := loadChunk(filename)
	if chunk == nil {
		return code
	}
	fmt.Print(bytecode.Disassemble(chunk))
	return 0
}

// runREPL maintains one persistent Compiler and VM across lines, so globals
// and struct blueprints declared on one line stay visible on the next.
// Because the compiler is append-only (it never rewinds Code), each line's
// freshly-compiled instructions are appended to the chunk the VM is already
// running, and the VM resumes from wherever it left off.
func runREPL() {
	configureTracing()
	fmt.Printf("ember %s\n", version)
	fmt.Println("enter statements; :quit to exit")

	c := compiler.New()
	chunk, _ := c.Compile(&ast.Program{})
	m := vm.New(chunk)
	m.Log = log
	m.Debug = flagDebug

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("ember> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case ":quit", ":exit":
			return
		case "":
			continue
		}

		p := parser.New(line)
		program, err := p.Parse()
		if err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "parse error"))
			continue
		}
		start := chunk.Len()
		newChunk, err := c.Compile(program)
		if err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "compile error"))
			continue
		}
		chunk = newChunk
		if err := m.Resume(chunk, start); err != nil {
			fmt.Fprintln(os.Stderr, errors.Wrap(err, "runtime error"))
		}
	}
}

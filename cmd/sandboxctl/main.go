package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	wasmsandbox "github.com/aegisedge/wasm-sandbox"
	"github.com/aegisedge/wasm-sandbox/engine"
	"github.com/aegisedge/wasm-sandbox/hostapi"
	"github.com/aegisedge/wasm-sandbox/policy"
	"github.com/aegisedge/wasm-sandbox/registry"
	"github.com/aegisedge/wasm-sandbox/wasm"
)

func main() {
	var (
		modulesFlag = flag.String("modules", "", "Modules to load as class:path pairs, comma-separated")
		wasmFile    = flag.String("wasm", "", "Path to a single module binary")
		classFlag   = flag.String("class", "waf", "Module class for -wasm (waf or edge_function)")
		idFlag      = flag.String("id", "", "Module id for -wasm (defaults to the file name)")
		method      = flag.String("method", "GET", "Request method")
		uri         = flag.String("uri", "/", "Request URI")
		headersFlag = flag.String("headers", "", "Request headers (Name=Value,Name2=Value2)")
		body        = flag.String("body", "", "Request body")
		policyFile  = flag.String("policy", "", "YAML file with per-class limit overrides")
		redisAddr   = flag.String("redis", "", "Redis address for the module cache (default in-memory)")
		list        = flag.Bool("list", false, "Print loaded module info and exit")
		verbose     = flag.Bool("v", false, "Enable debug logging")
		interactive = flag.Bool("i", false, "Interactive mode with TUI")
	)
	flag.Parse()

	specs, err := parseModuleSpecs(*modulesFlag, *wasmFile, *classFlag, *idFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: sandboxctl -wasm <file.wasm> [-class waf|edge_function] [-uri /path]")
		fmt.Fprintln(os.Stderr, "       sandboxctl -modules waf:scanner.wasm,edge_function:tagger.wasm -list")
		fmt.Fprintln(os.Stderr, "       sandboxctl -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		engine.SetLogger(l)
		registry.SetLogger(l)
	}

	if *interactive {
		if err := runInteractive(specs, *policyFile, *redisAddr); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	execCtx := &wasmsandbox.ExecutionContext{
		RequestMethod:  *method,
		RequestURI:     *uri,
		RequestHeaders: parseHeaders(*headersFlag),
	}
	if *body != "" {
		execCtx.RequestBody = []byte(*body)
	}
	if err := run(specs, *policyFile, *redisAddr, execCtx, *list); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// moduleSpec names one module to load.
type moduleSpec struct {
	id    string
	class wasmsandbox.ModuleClass
	path  string
}

func parseModuleSpecs(modulesFlag, wasmFile, classFlag, idFlag string) ([]moduleSpec, error) {
	var specs []moduleSpec
	if wasmFile != "" {
		id := idFlag
		if id == "" {
			id = strings.TrimSuffix(filepath.Base(wasmFile), filepath.Ext(wasmFile))
		}
		class := wasmsandbox.ModuleClass(classFlag)
		if !class.Valid() {
			return nil, fmt.Errorf("unknown class %q", classFlag)
		}
		specs = append(specs, moduleSpec{id: id, class: class, path: wasmFile})
	}
	if modulesFlag == "" {
		return specs, nil
	}
	for _, entry := range strings.Split(modulesFlag, ",") {
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("bad module spec %q, want class:path", entry)
		}
		class := wasmsandbox.ModuleClass(parts[0])
		if !class.Valid() {
			return nil, fmt.Errorf("unknown class %q in %q", parts[0], entry)
		}
		id := strings.TrimSuffix(filepath.Base(parts[1]), filepath.Ext(parts[1]))
		specs = append(specs, moduleSpec{id: id, class: class, path: parts[1]})
	}
	return specs, nil
}

func parseHeaders(s string) []wasmsandbox.Header {
	if s == "" {
		return nil
	}
	var headers []wasmsandbox.Header
	for _, kv := range strings.Split(s, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			headers = append(headers, wasmsandbox.Header{Name: parts[0], Value: parts[1]})
		}
	}
	return headers
}

// setup builds the runtime stack shared by both modes. The returned
// cleanup closes everything.
func setup(ctx context.Context, specs []moduleSpec, policyFile, redisAddr string) (*registry.Registry, func(), error) {
	pol := policy.Default()
	if policyFile != "" {
		var err error
		if pol, err = policy.LoadFile(policyFile); err != nil {
			return nil, nil, fmt.Errorf("loading policy: %w", err)
		}
	}

	var cache hostapi.Cache = hostapi.NewMemoryCache()
	var closeCache func()
	if redisAddr != "" {
		rc, err := hostapi.DialRedis(ctx, redisAddr, "")
		if err != nil {
			return nil, nil, err
		}
		cache = rc
		closeCache = func() { rc.Close() }
	}

	eng, err := engine.New(ctx, pol, cache)
	if err != nil {
		if closeCache != nil {
			closeCache()
		}
		return nil, nil, fmt.Errorf("creating engine: %w", err)
	}
	cleanup := func() {
		eng.Close(ctx)
		if closeCache != nil {
			closeCache()
		}
	}

	reg := registry.New(eng, nil)
	for _, spec := range specs {
		meta := wasmsandbox.Metadata{Name: spec.id, Class: spec.class}
		if err := reg.LoadFile(ctx, spec.id, spec.path, meta); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	return reg, cleanup, nil
}

func run(specs []moduleSpec, policyFile, redisAddr string, execCtx *wasmsandbox.ExecutionContext, listOnly bool) error {
	ctx := context.Background()
	reg, cleanup, err := setup(ctx, specs, policyFile, redisAddr)
	if err != nil {
		return err
	}
	defer cleanup()

	if listOnly {
		for _, entry := range reg.List() {
			if err := printModuleInfo(entry); err != nil {
				return err
			}
		}
		return nil
	}

	dispatcher := registry.NewDispatcher(reg)
	for _, spec := range specs {
		fmt.Printf("== %s (%s) ==\n", spec.id, spec.class)
		switch spec.class {
		case wasmsandbox.ClassWAF:
			verdict, err := dispatcher.Analyze(ctx, spec.id, execCtx)
			if err != nil {
				return err
			}
			fmt.Print(formatVerdict(verdict))
		case wasmsandbox.ClassEdgeFunction:
			out, err := dispatcher.Handle(ctx, spec.id, execCtx)
			if err != nil {
				return err
			}
			fmt.Print(formatContext(out))
			execCtx = out
		}
	}
	return nil
}

func printModuleInfo(entry registry.Entry) error {
	data, err := os.ReadFile(entry.Metadata.OriginRef)
	if err != nil {
		return err
	}
	mod, err := wasm.ParseModule(data)
	if err != nil {
		return err
	}

	fmt.Printf("Module: %s\n", entry.ID)
	fmt.Printf("  Class:    %s\n", entry.Metadata.Class)
	fmt.Printf("  Origin:   %s\n", entry.Metadata.OriginRef)
	fmt.Printf("  Size:     %d bytes\n", len(data))
	if len(mod.Memories) > 0 {
		fmt.Printf("  Memory:   min %d pages\n", mod.Memories[0].Limits.Min)
	}
	fmt.Printf("  Imports:\n")
	for _, imp := range mod.Imports {
		fmt.Printf("    %s.%s\n", imp.Module, imp.Name)
	}
	fmt.Printf("  Exports:\n")
	for _, exp := range mod.Exports {
		fmt.Printf("    %s\n", exp.Name)
	}
	return nil
}

func formatVerdict(v *wasmsandbox.WAFResult) string {
	var b strings.Builder
	if v.Blocked {
		b.WriteString("Verdict: BLOCKED\n")
	} else {
		b.WriteString("Verdict: allowed\n")
	}
	for _, m := range v.Matches {
		fmt.Fprintf(&b, "  rule %d [%s] severity %d at %s: %s\n",
			m.RuleID, m.Category, m.Severity, m.Location, m.Description)
		if m.MatchedValue != "" {
			fmt.Fprintf(&b, "    matched: %q\n", m.MatchedValue)
		}
	}
	fmt.Fprintf(&b, "Execution: %dus\n", v.ExecutionTimeUs)
	return b.String()
}

func formatContext(c *wasmsandbox.ExecutionContext) string {
	var b strings.Builder
	if c.ResponseStatus != 0 {
		fmt.Fprintf(&b, "Status: %d\n", c.ResponseStatus)
	}
	for _, h := range c.ResponseHeaders {
		fmt.Fprintf(&b, "Header: %s: %s\n", h.Name, h.Value)
	}
	if len(c.ResponseBody) > 0 {
		fmt.Fprintf(&b, "Body: %s\n", c.ResponseBody)
	}
	if c.TerminateEarly {
		b.WriteString("Terminate early: yes\n")
	}
	return b.String()
}

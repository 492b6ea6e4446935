package svn

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// fakeExecutor answers svn invocations from a table keyed by the joined args.
type fakeExecutor struct {
	mu      sync.Mutex
	outputs map[string]string
	errs    map[string]error
	calls   []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeExecutor) Run(_ context.Context, _ string, args ...string) (string, error) {
	key := strings.Join(args, " ")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, key)
	if err, ok := f.errs[key]; ok {
		return "", err
	}
	if out, ok := f.outputs[key]; ok {
		return out, nil
	}
	return "", fmt.Errorf("unexpected svn invocation: %s", key)
}

func (f *fakeExecutor) set(key, out string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.errs, key)
	f.outputs[key] = out
}

func (f *fakeExecutor) fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = err
}

func (f *fakeExecutor) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == key {
			n++
		}
	}
	return n
}

func statusKey(root string) string {
	return "status --xml --no-ignore --ignore-externals " + root
}

func statusXML(root string, entries ...[2]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n<status>\n")
	fmt.Fprintf(&b, "<target path=%q>\n", root)
	for _, e := range entries {
		fmt.Fprintf(&b, "<entry path=%q>\n<wc-status item=%q props=\"none\"></wc-status>\n</entry>\n", e[0], e[1])
	}
	b.WriteString("</target>\n</status>")
	return b.String()
}

package cli

import (
	"bufio"
	"context"
	"strings"
	"testing"
)

type fakeExec struct {
	calls []string
}

func (f *fakeExec) record(name string) error {
	f.calls = append(f.calls, name)
	return nil
}

func (f *fakeExec) Invite(ctx context.Context) error    { return f.record("invite") }
func (f *fakeExec) Accept(ctx context.Context) error    { return f.record("accept") }
func (f *fakeExec) Decline(ctx context.Context) error   { return f.record("decline") }
func (f *fakeExec) Providers(ctx context.Context) error { return f.record("providers") }
func (f *fakeExec) Clients(ctx context.Context) error   { return f.record("clients") }
func (f *fakeExec) Backup(ctx context.Context) error    { return f.record("backup") }
func (f *fakeExec) Restore(ctx context.Context) error   { return f.record("restore") }
func (f *fakeExec) Discover(ctx context.Context) error  { return f.record("discover") }
func (f *fakeExec) Status(ctx context.Context) error    { return f.record("status") }
func (f *fakeExec) Settings(ctx context.Context) error  { return f.record("settings") }
func (f *fakeExec) Remove(ctx context.Context) error    { return f.record("remove") }

func TestRunREPL_DispatchesCommands(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader(strings.Join([]string{
		"help",
		"invite",
		"providers",
		"backup",
		"status",
		"",
		"foobar",
		"discover",
		"exit",
		"restore",
	}, "\n"))

	exec := &fakeExec{}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "(ALFA)" }, sc)

	wantOrder := []string{"invite", "providers", "backup", "status", "discover"}
	if len(exec.calls) != len(wantOrder) {
		t.Fatalf("calls mismatch: got %v, want %v", exec.calls, wantOrder)
	}
	for i, c := range exec.calls {
		if c != wantOrder[i] {
			t.Fatalf("call %d: got %q, want %q (all: %v)", i, c, wantOrder[i], exec.calls)
		}
	}
}

func TestRunREPL_EOFStopsLoop(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader("clients\n")
	exec := &fakeExec{}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "" }, sc)

	if len(exec.calls) != 1 || exec.calls[0] != "clients" {
		t.Fatalf("unexpected calls: %v", exec.calls)
	}
}

func TestRunREPL_QuitAlias(t *testing.T) {
	origPrint := printlnFn
	printlnFn = func(...any) (int, error) { return 0, nil }
	t.Cleanup(func() { printlnFn = origPrint })

	input := strings.NewReader("quit\ninvite\n")
	exec := &fakeExec{}
	sc := bufio.NewScanner(input)

	runREPL(context.Background(), exec, func() string { return "" }, sc)

	if len(exec.calls) != 0 {
		t.Fatalf("unexpected calls after quit: %v", exec.calls)
	}
}

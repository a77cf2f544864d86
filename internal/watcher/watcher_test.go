package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const quiet = 50 * time.Millisecond

func startWatcher(t *testing.T, files ...string) *Watcher {
	t.Helper()
	w, err := New(files, quiet)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	if err := w.Start(); err != nil {
		t.Fatalf("failed to start watcher: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w
}

func waitEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestWatcherCreation(t *testing.T) {
	dir := t.TempDir()
	w, err := New([]string{filepath.Join(dir, "a.plist"), filepath.Join(dir, "b")}, 0)
	if err != nil {
		t.Fatalf("failed to create watcher: %v", err)
	}
	defer w.fsWatcher.Close()

	if len(w.Files()) != 2 {
		t.Errorf("expected 2 watched files, got %d", len(w.Files()))
	}
	if w.quiet != 500*time.Millisecond {
		t.Errorf("expected default quiet period, got %v", w.quiet)
	}
	if len(w.dirs()) != 1 {
		t.Errorf("files in one directory share a watch, got %v", w.dirs())
	}
}

func TestWatcherReportsWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "com.example.agent.plist")
	w := startWatcher(t, target)

	if err := os.WriteFile(target, []byte("<plist/>"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := waitEvent(t, w)
	if len(ev.Paths) != 1 || ev.Paths[0] != target {
		t.Errorf("expected %s, got %v", target, ev.Paths)
	}
}

func TestWatcherReportsRemove(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "script")
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write: %v", err)
	}
	w := startWatcher(t, target)

	if err := os.Remove(target); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ev := waitEvent(t, w)
	if len(ev.Paths) != 1 {
		t.Errorf("expected one path, got %v", ev.Paths)
	}
}

func TestWatcherDebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	w := startWatcher(t, a, b)

	for i := 0; i < 5; i++ {
		os.WriteFile(a, []byte{byte(i)}, 0600)
		os.WriteFile(b, []byte{byte(i)}, 0600)
	}

	ev := waitEvent(t, w)
	if len(ev.Paths) != 2 {
		t.Errorf("expected both paths in one batch, got %v", ev.Paths)
	}

	select {
	case extra := <-w.Events():
		t.Errorf("unexpected second batch %v", extra)
	case <-time.After(4 * quiet):
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	w := startWatcher(t, filepath.Join(dir, "watched"))

	os.WriteFile(filepath.Join(dir, "unrelated"), []byte("x"), 0600)

	select {
	case ev := <-w.Events():
		t.Errorf("unexpected event %v", ev)
	case <-time.After(4 * quiet):
	}
}

func TestWatcherMissingDirectory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "bin")
	target := filepath.Join(dir, "hangulkeymapping")
	w := startWatcher(t, target)

	if err := os.Mkdir(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Give the watcher a moment to pick up the new directory.
	time.Sleep(quiet)
	if err := os.WriteFile(target, []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatalf("write: %v", err)
	}

	ev := waitEvent(t, w)
	if len(ev.Paths) != 1 || ev.Paths[0] != target {
		t.Errorf("expected %s, got %v", target, ev.Paths)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "f")

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan Event, 1)
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, []string{target}, quiet, func(ev Event) {
			select {
			case got <- ev:
			default:
			}
		}, nil)
	}()

	// Retry the write until the watch is in place.
	deadline := time.After(3 * time.Second)
	for received := false; !received; {
		os.WriteFile(target, []byte("x"), 0600)
		select {
		case <-got:
			received = true
		case <-time.After(4 * quiet):
		case <-deadline:
			t.Fatal("timed out waiting for callback")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

//go:build unix

package compile

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/k11v/latexworker/internal/run"
)

// fakeLatexmk behaves like latexmk for a main file whose content says what to do:
// "loop" never finishes, "fail" exits 12 without a PDF, anything else is copied into the PDF.
// The log is always written first.
const fakeLatexmk = `#!/bin/sh
out=
while [ $# -gt 1 ]; do
	if [ "$1" = -output-directory ]; then
		shift
		out=$1
	fi
	shift
done
main=$1
stem=$(basename "$main")
stem=${stem%.*}
echo "log of $main" > "$out/$stem.log"
if grep -q loop "$main"; then
	sleep 30
fi
if grep -q fail "$main"; then
	echo "$main:1: Undefined control sequence." >&2
	exit 12
fi
sleep 0.2
cat "$main" > "$out/$stem.pdf"
echo "Latexmk: wrote $stem.pdf"
`

func newProcessExecutor(t *testing.T) *Executor {
	t.Helper()
	tool := filepath.Join(t.TempDir(), "latexmk")
	if err := os.WriteFile(tool, []byte(fakeLatexmk), 0o777); err != nil {
		t.Fatalf("got %q err", err)
	}
	return &Executor{Runner: &run.ProcessRunner{Path: tool, WaitDelay: 2 * time.Second}}
}

func TestExecutorExecuteProcess(t *testing.T) {
	t.Run("compiles into the build directory", func(t *testing.T) {
		executor := newProcessExecutor(t)
		projectRoot := t.TempDir()
		buildDir := filepath.Join(t.TempDir(), "build")
		writeFile(t, filepath.Join(projectRoot, "paper.tex"), "hello")

		resp := executor.Execute(context.Background(), &Request{
			ProjectRoot: projectRoot,
			MainFile:    "paper.tex",
			BuildDir:    buildDir,
			TimeoutMs:   10000,
		})

		if !resp.Success || resp.TimedOut || resp.Error != nil {
			t.Fatalf("got %+v, want a successful response", resp)
		}
		if resp.ExitCode == nil || *resp.ExitCode != 0 {
			t.Errorf("got %v ExitCode, want 0", resp.ExitCode)
		}
		if got, want := deref(resp.PDFPath), filepath.Join(buildDir, "paper.pdf"); got != want {
			t.Errorf("got %q PDFPath, want %q", got, want)
		}
		if got, want := derefInt64(resp.PDFBytes), int64(len("hello")); got != want {
			t.Errorf("got %d PDFBytes, want %d", got, want)
		}
		if got, want := deref(resp.LogPath), filepath.Join(buildDir, "paper.log"); got != want {
			t.Errorf("got %q LogPath, want %q", got, want)
		}
		if got, want := resp.Stdout, "Latexmk: wrote paper.pdf\n"; got != want {
			t.Errorf("got %q Stdout, want %q", got, want)
		}
	})

	t.Run("reports a compilation failure with the exit code and the log", func(t *testing.T) {
		executor := newProcessExecutor(t)
		projectRoot := t.TempDir()
		buildDir := t.TempDir()
		writeFile(t, filepath.Join(projectRoot, "main.tex"), "fail")

		resp := executor.Execute(context.Background(), &Request{
			ProjectRoot: projectRoot,
			MainFile:    "main.tex",
			BuildDir:    buildDir,
			TimeoutMs:   10000,
		})

		assertFailure(t, resp, MessageNoPDF)
		if resp.ExitCode == nil || *resp.ExitCode != 12 {
			t.Errorf("got %v ExitCode, want 12", resp.ExitCode)
		}
		if resp.TimedOut {
			t.Error("got TimedOut")
		}
		if got, want := deref(resp.LogPath), filepath.Join(buildDir, "main.log"); got != want {
			t.Errorf("got %q LogPath, want %q", got, want)
		}
		if got, want := resp.Stderr, "main.tex:1: Undefined control sequence.\n"; got != want {
			t.Errorf("got %q Stderr, want %q", got, want)
		}
	})

	t.Run("reports a timeout", func(t *testing.T) {
		executor := newProcessExecutor(t)
		projectRoot := t.TempDir()
		buildDir := t.TempDir()
		writeFile(t, filepath.Join(projectRoot, "main.tex"), "loop")

		start := time.Now()
		resp := executor.Execute(context.Background(), &Request{
			ProjectRoot: projectRoot,
			MainFile:    "main.tex",
			BuildDir:    buildDir,
			TimeoutMs:   300,
		})
		if elapsed := time.Since(start); elapsed > 10*time.Second {
			t.Errorf("got %v elapsed, want the run cut short", elapsed)
		}

		assertFailure(t, resp, MessageTimedOut)
		if !resp.TimedOut {
			t.Error("got not TimedOut")
		}
		if resp.ExitCode != nil {
			t.Errorf("got %d ExitCode, want nil", *resp.ExitCode)
		}
		if resp.LogPath == nil {
			t.Error("got nil LogPath")
		}
	})

	t.Run("runs concurrent invocations independently", func(t *testing.T) {
		executor := newProcessExecutor(t)

		const n = 2
		buildDirs := make([]string, n)
		resps := make([]*Response, n)
		var wg sync.WaitGroup
		for i := range n {
			projectRoot := t.TempDir()
			buildDirs[i] = t.TempDir()
			writeFile(t, filepath.Join(projectRoot, "main.tex"), fmt.Sprintf("document %d", i))

			wg.Add(1)
			go func() {
				defer wg.Done()
				resps[i] = executor.Execute(context.Background(), &Request{
					ProjectRoot: projectRoot,
					MainFile:    "main.tex",
					BuildDir:    buildDirs[i],
					TimeoutMs:   10000,
				})
			}()
		}
		wg.Wait()

		for i, resp := range resps {
			if !resp.Success {
				t.Fatalf("got %+v, want a successful response", resp)
			}
			if got, want := deref(resp.PDFPath), filepath.Join(buildDirs[i], "main.pdf"); got != want {
				t.Errorf("got %q PDFPath, want %q", got, want)
			}
			content, err := os.ReadFile(deref(resp.PDFPath))
			if err != nil {
				t.Fatalf("got %q err", err)
			}
			if got, want := string(content), fmt.Sprintf("document %d", i); got != want {
				t.Errorf("got %q PDF content, want %q", got, want)
			}
			if got, want := deref(resp.LogPath), filepath.Join(buildDirs[i], "main.log"); got != want {
				t.Errorf("got %q LogPath, want %q", got, want)
			}
			if got, want := resp.Stdout, "Latexmk: wrote main.pdf\n"; got != want {
				t.Errorf("got %q Stdout, want %q", got, want)
			}
		}
	})
}

func TestExecutorExecuteLatexmk(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping in short mode")
	}
	path, err := exec.LookPath("latexmk")
	if err != nil {
		t.Skip("skipping without latexmk")
	}

	projectRoot := t.TempDir()
	buildDir := filepath.Join(projectRoot, "out")
	writeFile(t, filepath.Join(projectRoot, "main.tex"), `\documentclass{article}
\begin{document}
Hello, world.
\end{document}
`)
	executor := &Executor{Runner: &run.ProcessRunner{Path: path, WaitDelay: 2 * time.Second}}

	resp := executor.Execute(context.Background(), &Request{
		ProjectRoot: projectRoot,
		MainFile:    "main.tex",
		BuildDir:    buildDir,
		TimeoutMs:   120000,
	})

	if !resp.Success {
		t.Fatalf("got %q Error, want a successful response\nstdout: %s\nstderr: %s", deref(resp.Error), resp.Stdout, resp.Stderr)
	}
	if got := derefInt64(resp.PDFBytes); got <= 0 {
		t.Errorf("got %d PDFBytes, want a non-empty PDF", got)
	}
	if got, want := deref(resp.LogPath), filepath.Join(buildDir, "main.log"); got != want {
		t.Errorf("got %q LogPath, want %q", got, want)
	}
}

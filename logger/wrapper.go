package logger

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// RankEnv carries the rank of a launched child process.
const RankEnv = "LSSVM_RANK"

// WorldSizeEnv carries the number of launched child processes.
const WorldSizeEnv = "LSSVM_WORLD_SIZE"

type rankExit struct {
	rank int
	code int
}

// WrapRanks starts executable once per rank with RankEnv and WorldSizeEnv
// set, relays the JSON log lines of every child and exits with the first
// non-zero exit code once all children have finished.
func WrapRanks(ranks int, executable string, arg ...string) {
	wrapperLogger := NewLogger("Ranks wrapper")
	defer handlePanic(wrapperLogger)

	exitCh := make(chan rankExit, ranks)
	logsCh := make(chan rankLine)
	var collectors sync.WaitGroup

	for rank := 0; rank < ranks; rank++ {
		r, w, err := os.Pipe()
		if err != nil {
			wrapperLogger.Fatal().Err(err).Int("rank", rank).Msg("Could not create pipe for logs")
			os.Exit(1)
		}

		cmd := exec.Command(executable, arg...)
		cmd.Env = append(os.Environ(),
			fmt.Sprintf("%s=%d", RankEnv, rank),
			fmt.Sprintf("%s=%d", WorldSizeEnv, ranks),
		)
		cmd.Stdout = os.Stdout
		cmd.Stderr = w

		if err = cmd.Start(); err != nil {
			wrapperLogger.Fatal().Err(err).Int("rank", rank).Msg("Could not launch rank process")
			os.Exit(1)
		}
		// The child holds its own copy of the write end.
		w.Close()

		go waitForCommandToExit(cmd, rank, wrapperLogger, exitCh)
		collectors.Add(1)
		go func(rank int, r io.ReadCloser) {
			defer collectors.Done()
			collectLogs(r, rank, wrapperLogger, logsCh)
		}(rank, r)
	}
	go func() {
		collectors.Wait()
		close(logsCh)
	}()

	panicLogs := make(map[int]*strings.Builder)
	foundPanic := make(map[int]bool)
	exitCode := 0
	remaining := ranks
	logsOpen := true
	for remaining > 0 || logsOpen {
		select {
		case exit := <-exitCh:
			remaining--
			exitCode = handleExit(exit, panicLogs[exit.rank], exitCode, wrapperLogger)
		case line, ok := <-logsCh:
			if !ok {
				logsOpen = false
				logsCh = nil
				continue
			}
			builder, found := panicLogs[line.rank]
			if !found {
				builder = &strings.Builder{}
				panicLogs[line.rank] = builder
			}
			foundPanic[line.rank] = handleLogLine(line.text, foundPanic[line.rank], builder, wrapperLogger)
		}
	}
	os.Exit(exitCode)
}

type rankLine struct {
	rank int
	text []byte
}

func waitForCommandToExit(cmd *exec.Cmd, rank int, wrapperLogger zerolog.Logger, exitCh chan<- rankExit) {
	defer handlePanic(wrapperLogger)
	err := cmd.Wait()
	if err == nil {
		exitCh <- rankExit{rank: rank}
		return
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		exitCh <- rankExit{rank: rank, code: 1}
		return
	}
	exitCh <- rankExit{rank: rank, code: exitErr.ExitCode()}
}

func collectLogs(r io.ReadCloser, rank int, wrapperLogger zerolog.Logger, logsCh chan<- rankLine) {
	defer handlePanic(wrapperLogger)
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		logsCh <- rankLine{rank: rank, text: line}
	}
	if err := scanner.Err(); err != nil {
		wrapperLogger.Error().Err(err).Int("rank", rank).Msg("Error scanning piped rank process's Stderr")
	}
}

func handleExit(exit rankExit, panicLogs *strings.Builder, exitCode int, wrapperLogger zerolog.Logger) int {
	if exit.code == 0 {
		wrapperLogger.Info().Int("rank", exit.rank).Msg("Exited with code 0")
		return exitCode
	}
	logs := ""
	if panicLogs != nil {
		logs = panicLogs.String()
	}
	wrapperLogger.Error().
		Err(errors.New(logs)).
		Int("rank", exit.rank).
		Msgf("Exited with code: %d", exit.code)
	if exitCode == 0 {
		return exit.code
	}
	return exitCode
}

func handleLogLine(logsLineBytes []byte, foundPanic bool, builder *strings.Builder, wrapperLogger zerolog.Logger) bool {
	logsLine := string(logsLineBytes)
	if !foundPanic && strings.HasPrefix(logsLine, "panic") {
		foundPanic = true
	}
	switch {
	case len(logsLineBytes) == 0:
		return foundPanic
	case foundPanic:
		builder.WriteString(fmt.Sprintf("%s\n", logsLine))
	case isJSON(logsLineBytes):
		println(logsLine)
	default:
		wrapperLogger.Error().Msgf("Got log line that is not JSON formatted: '%s'", logsLine)
	}
	return foundPanic
}

func handlePanic(wrapperLogger zerolog.Logger) {
	r := recover()
	if r == nil {
		return
	}
	wrapperLogger.Fatal().
		Caller().
		Str("error", fmt.Sprint(r)).
		Str("stack_trace", string(debug.Stack())).
		Msg("Program panicked and exited")
}

func isJSON(b []byte) bool {
	var js json.RawMessage
	err := json.Unmarshal(b, &js)
	return err == nil && js != nil
}

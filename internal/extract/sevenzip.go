package extract

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
)

// SevenZipCodec shells out to the 7-Zip CLI. Its `-bsp1` stream prints
// percent lines which the Extractor parses for progress.
type SevenZipCodec struct {
	// Binary is the codec executable; defaults to "7z".
	Binary string
}

// NewSevenZipCodec creates a SevenZipCodec using the given binary,
// or "7z" when empty.
func NewSevenZipCodec(binary string) *SevenZipCodec {
	if binary == "" {
		binary = "7z"
	}
	return &SevenZipCodec{Binary: binary}
}

// SoftError is returned when the codec exited non-zero but every reported
// error line is tolerable (it does not affect archive completeness).
type SoftError struct {
	Lines []string
}

func (e *SoftError) Error() string {
	return fmt.Sprintf("codec reported %d tolerable errors", len(e.Lines))
}

// tolerableErrorLine reports whether a codec error line can be ignored.
// "Unsupported method" shows up for exotic entries 7-Zip cannot decode but
// does not imply the rest of the archive failed.
func tolerableErrorLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "unsupported method")
}

// Extract runs the codec. Split archives are handled natively by passing
// the ".001" part. On cancellation the codec process is killed.
func (c *SevenZipCodec) Extract(ctx context.Context, archivePath, destDir string, onOutput OutputCallback) error {
	cmd := exec.CommandContext(ctx, c.Binary, "x", "-y", "-bsp1", "-bse1", "-o"+destDir, archivePath)

	// Single interleaved stream for stdout and stderr.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	slog.Debug("running archive codec", "binary", c.Binary, "archive", archivePath)

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return fmt.Errorf("failed to start codec: %w", err)
	}

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- cmd.Wait()
		pw.Close()
	}()

	var errorLines []string
	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(strings.ToUpper(line), "ERROR") {
			errorLines = append(errorLines, line)
		}
		if onOutput != nil {
			onOutput(line)
		}
	}

	waitErr := <-waitCh
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if waitErr == nil {
		return nil
	}

	if len(errorLines) > 0 {
		allTolerable := true
		for _, l := range errorLines {
			if !tolerableErrorLine(l) {
				allTolerable = false
				break
			}
		}
		if allTolerable {
			return &SoftError{Lines: errorLines}
		}
	}
	return fmt.Errorf("codec failed: %w", waitErr)
}

// Package decoder invokes the external MDF decoder binary. The decoder
// reads raw log files from an input directory and writes a
// device/message/YYYY/MM/DD/file.parquet tree to an output directory.
// A nonzero exit fails the whole batch.
package decoder

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/canlake/canlake/pkg/canerr"
)

// Decoder runs the external decode binary.
type Decoder struct {
	// Path to the decoder binary; relative paths are resolved against
	// the working directory.
	Path string

	Logger *log.Logger
}

// New creates a decoder for the given binary path.
func New(path string, logger *log.Logger) *Decoder {
	return &Decoder{Path: path, Logger: logger}
}

// Run decodes every log file under inputDir into outputDir. inputDir
// must contain at least one file; the decoder's stdout/stderr are
// passed through to the process output.
func (d *Decoder) Run(ctx context.Context, inputDir, outputDir string) error {
	const op = "decoder.run"

	entries, err := os.ReadDir(inputDir)
	if err != nil {
		return canerr.E(canerr.KindDecode, op, err)
	}
	hasFiles := false
	for _, e := range entries {
		if !e.IsDir() {
			hasFiles = true
			break
		}
	}
	if !hasFiles {
		return canerr.E(canerr.KindDecode, op, fmt.Errorf("no log files available for decoding in %s", inputDir))
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return canerr.E(canerr.KindDecode, op, err)
	}

	binary := d.Path
	if !filepath.IsAbs(binary) {
		if abs, err := filepath.Abs(binary); err == nil {
			binary = abs
		}
	}

	cmd := exec.CommandContext(ctx, binary,
		"-i", inputDir,
		"-O", outputDir,
		"--verbosity=1",
		"-X",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		return canerr.E(canerr.KindDecode, op, fmt.Errorf("decoder %s failed: %w", d.Path, err))
	}

	count := 0
	filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && filepath.Ext(path) == ".parquet" {
			count++
		}
		return nil
	})
	d.Logger.Printf("decoding created %d parquet files", count)
	return nil
}

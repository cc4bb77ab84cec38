// Package muxer assembles downloaded segment files into a single playable
// media file. FFmpeg's concat demuxer with stream copy is the primary path;
// a raw binary concatenation is the fallback when FFmpeg produces an output
// too small to be the real video.
package muxer

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/streamvault/streamvault/internal/logging"
	"github.com/streamvault/streamvault/internal/metrics"
)

// Options holds the inputs for one mux operation.
type Options struct {
	// SegmentPaths are the downloaded segment files in playback order.
	SegmentPaths []string
	// InitSegmentPath is the fMP4 initialization segment, empty for TS.
	InitSegmentPath string
	OutputPath      string
	// TSInput selects the AAC ADTS-to-ASC bitstream filter, which MPEG-TS
	// audio needs when remuxed into MP4.
	TSInput bool
}

// Muxer runs FFmpeg to combine segments.
type Muxer struct {
	ffmpegPath string
	logger     *logging.Logger
}

// New creates a muxer using the given ffmpeg binary.
func New(ffmpegPath string, logger *logging.Logger) *Muxer {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Muxer{ffmpegPath: ffmpegPath, logger: logger}
}

// Mux combines the segments into OutputPath. The FFmpeg output is distrusted
// when it comes out smaller than half the combined input size; that shape of
// failure means the demuxer silently dropped most of the stream, and the
// binary fallback preserves the data instead.
func (m *Muxer) Mux(ctx context.Context, opts Options) error {
	if len(opts.SegmentPaths) == 0 {
		return fmt.Errorf("no segments to mux")
	}

	start := time.Now()

	inputSize, err := totalSize(opts.SegmentPaths)
	if err != nil {
		return fmt.Errorf("failed to stat segments: %w", err)
	}

	ffmpegErr := m.runFFmpeg(ctx, opts)
	if ffmpegErr == nil {
		out, err := os.Stat(opts.OutputPath)
		if err == nil && out.Size()*2 >= inputSize {
			metrics.RecordMuxOperation("ffmpeg", "success", time.Since(start).Seconds())
			return nil
		}
		m.logger.WithField("output_path", opts.OutputPath).
			Warn("ffmpeg output suspiciously small, falling back to binary concat")
	} else {
		m.logger.WithError(ffmpegErr).Warn("ffmpeg mux failed, falling back to binary concat")
	}
	metrics.RecordMuxOperation("ffmpeg", "error", time.Since(start).Seconds())

	if err := binaryConcat(opts.InitSegmentPath, opts.SegmentPaths, opts.OutputPath); err != nil {
		metrics.RecordMuxOperation("concat", "error", time.Since(start).Seconds())
		return fmt.Errorf("binary concat fallback failed: %w", err)
	}

	metrics.RecordMuxOperation("concat", "success", time.Since(start).Seconds())
	return nil
}

// runFFmpeg performs the concat-demuxer stream copy.
func (m *Muxer) runFFmpeg(ctx context.Context, opts Options) error {
	concatFile, err := createConcatFile(opts.InitSegmentPath, opts.SegmentPaths)
	if err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(concatFile)

	args := concatArgs(concatFile, opts.OutputPath, opts.TSInput)
	cmd := exec.CommandContext(ctx, m.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w, output: %s", err, string(output))
	}
	return nil
}

// concatArgs builds the FFmpeg argument list for a concat-demuxer copy.
func concatArgs(concatFile, outputPath string, tsInput bool) []string {
	args := []string{
		"-f", "concat",
		"-safe", "0",
		"-i", concatFile,
		"-c", "copy",
	}
	if tsInput {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	return append(args, "-y", outputPath)
}

// createConcatFile writes the concat-demuxer list file. The init segment,
// when present, must be first so the decoder configuration precedes the
// media it describes.
func createConcatFile(initPath string, segments []string) (string, error) {
	tempFile, err := os.CreateTemp("", "concat_*.txt")
	if err != nil {
		return "", err
	}
	defer tempFile.Close()

	paths := segments
	if initPath != "" {
		paths = append([]string{initPath}, segments...)
	}

	for _, p := range paths {
		absPath, err := filepath.Abs(p)
		if err != nil {
			os.Remove(tempFile.Name())
			return "", err
		}
		if _, err := fmt.Fprintf(tempFile, "file '%s'\n", absPath); err != nil {
			os.Remove(tempFile.Name())
			return "", err
		}
	}

	return tempFile.Name(), nil
}

// binaryConcat appends the raw segment bytes into one file, init segment
// first. MPEG-TS segments concatenate cleanly; fMP4 needs the init segment
// in front to stay decodable.
func binaryConcat(initPath string, segments []string, outputPath string) error {
	out, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer out.Close()

	paths := segments
	if initPath != "" {
		paths = append([]string{initPath}, segments...)
	}

	for _, p := range paths {
		if err := appendFile(out, p); err != nil {
			return fmt.Errorf("failed to append %s: %w", p, err)
		}
	}
	return nil
}

func appendFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	_, err = io.Copy(dst, src)
	return err
}

// totalSize sums the sizes of the given files.
func totalSize(paths []string) (int64, error) {
	var total int64
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return 0, err
		}
		total += info.Size()
	}
	return total, nil
}

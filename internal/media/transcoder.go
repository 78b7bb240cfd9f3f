// Package media wraps the external ffmpeg/ffprobe binaries behind a small
// transcode contract: encode one chapter, probe a duration, concatenate a
// book. Every invocation runs in its own scratch directory and honors
// context cancellation by killing the in-flight process.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrCancelled is returned when a transcode operation was aborted via its
// context. It is distinguishable from a transcode failure so callers can map
// it to a non-error outcome.
var ErrCancelled = errors.New("transcode cancelled")

// TranscodeError wraps a failed ffmpeg/ffprobe invocation. Stderr is kept
// for server logs only and must not be returned to clients.
type TranscodeError struct {
	Op     string // "encode", "probe", "concat"
	Stderr string
	Err    error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *TranscodeError) Unwrap() error { return e.Err }

const (
	// minTempo and maxTempo bound the requested playback-speed filter.
	minTempo = 0.5
	maxTempo = 3.0

	// defaultBitrate is the constant bitrate applied to every encode.
	defaultBitrate = "64k"

	// stderrTailLimit caps how much process stderr is retained for logs.
	stderrTailLimit = 4096
)

// Config configures a Transcoder.
type Config struct {
	// FFmpegPath overrides the ffmpeg binary (default: resolved from PATH).
	FFmpegPath string
	// FFprobePath overrides the ffprobe binary (default: resolved from PATH).
	FFprobePath string
	// ScratchRoot is the directory under which per-invocation scratch
	// workspaces are created. Defaults to the system temp dir.
	ScratchRoot string
	// Bitrate overrides the encode bitrate (default: 64k).
	Bitrate string
	// Logger receives debug/warn output. Defaults to slog.Default().
	Logger *slog.Logger
}

// Transcoder shells out to ffmpeg and ffprobe.
type Transcoder struct {
	ffmpegPath  string
	ffprobePath string
	scratchRoot string
	bitrate     string
	logger      *slog.Logger
}

// New creates a Transcoder, resolving binary paths from PATH when not
// overridden. Returns an error if either binary cannot be found.
func New(cfg Config) (*Transcoder, error) {
	ffmpegPath := cfg.FFmpegPath
	if ffmpegPath == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		ffmpegPath = path
	}

	ffprobePath := cfg.FFprobePath
	if ffprobePath == "" {
		path, err := exec.LookPath("ffprobe")
		if err != nil {
			return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
		}
		ffprobePath = path
	}

	scratchRoot := cfg.ScratchRoot
	if scratchRoot == "" {
		scratchRoot = os.TempDir()
	}

	bitrate := cfg.Bitrate
	if bitrate == "" {
		bitrate = defaultBitrate
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Transcoder{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		scratchRoot: scratchRoot,
		bitrate:     bitrate,
		logger:      logger,
	}, nil
}

// EncodeOptions configures a single-chapter encode.
type EncodeOptions struct {
	// Format selects the target codec/container per the encoding policy.
	Format Format
	// Tempo applies an atempo speed filter when != 0 and != 1.0.
	// Values are clamped to [0.5, 3.0]; factors above 2.0 are achieved by
	// chaining two filter passes.
	Tempo float64
	// Title is embedded as container metadata when non-empty.
	Title string
}

// Encode transcodes raw audio bytes to the target format and returns the
// encoded bytes together with the probed duration in seconds.
func (t *Transcoder) Encode(ctx context.Context, input []byte, opts EncodeOptions) ([]byte, float64, error) {
	scratch, cleanup, err := t.scratchDir("encode")
	if err != nil {
		return nil, 0, err
	}
	defer cleanup()

	inPath := filepath.Join(scratch, "input")
	if err := os.WriteFile(inPath, input, 0o644); err != nil {
		return nil, 0, fmt.Errorf("failed to write encode input: %w", err)
	}
	outPath := filepath.Join(scratch, "output."+opts.Format.Ext())

	args := []string{
		"-y",
		"-i", inPath,
		"-vn",
		"-c:a", opts.Format.Codec(),
		"-b:a", t.bitrate,
	}
	if filter := tempoFilter(opts.Tempo); filter != "" {
		args = append(args, "-filter:a", filter)
	}
	if opts.Title != "" {
		args = append(args, "-metadata", "title="+opts.Title)
	}
	if opts.Format == FormatM4B {
		args = append(args, "-f", "mp4")
	}
	args = append(args, outPath)

	if err := t.runFFmpeg(ctx, "encode", args); err != nil {
		return nil, 0, err
	}

	duration, err := t.ProbeDuration(ctx, outPath)
	if err != nil {
		return nil, 0, err
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read encode output: %w", err)
	}

	return out, duration, nil
}

// ProbeDuration returns the duration in seconds of the audio file at path.
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		return 0, &TranscodeError{Op: "probe", Stderr: exitStderr(err), Err: err}
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, &TranscodeError{Op: "probe", Err: fmt.Errorf("failed to parse duration: %w", err)}
	}

	return duration, nil
}

// ProbeDurationBytes probes the duration of in-memory audio bytes.
func (t *Transcoder) ProbeDurationBytes(ctx context.Context, data []byte) (float64, error) {
	scratch, cleanup, err := t.scratchDir("probe")
	if err != nil {
		return 0, err
	}
	defer cleanup()

	path := filepath.Join(scratch, "probe-input")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return 0, fmt.Errorf("failed to write probe input: %w", err)
	}

	return t.ProbeDuration(ctx, path)
}

// ConcatJob describes a whole-book concatenation.
type ConcatJob struct {
	// Format selects the concat policy: MP3 inputs are re-encoded through
	// libmp3lame to normalize headers, M4B inputs are stream-copied.
	Format Format
	// Inputs are paths to the staged chapter files, in playback order.
	Inputs []string
	// Chapters, when non-empty, is rendered as an FFMETADATA side input and
	// attached to M4B output (ignored for MP3, which has no chapter atom).
	Chapters []ChapterMark
}

// Concat joins the staged chapter files into one deliverable and returns its
// bytes.
func (t *Transcoder) Concat(ctx context.Context, job ConcatJob) ([]byte, error) {
	if len(job.Inputs) == 0 {
		return nil, &TranscodeError{Op: "concat", Err: errors.New("no input files provided")}
	}

	scratch, cleanup, err := t.scratchDir("concat")
	if err != nil {
		return nil, err
	}
	defer cleanup()

	// Concat demuxer list file. Paths must be single-quote escaped.
	var lines []string
	for _, f := range job.Inputs {
		escapedPath := strings.ReplaceAll(f, "'", "'\\''")
		lines = append(lines, fmt.Sprintf("file '%s'", escapedPath))
	}
	listPath := filepath.Join(scratch, "list.txt")
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return nil, fmt.Errorf("failed to create concat list: %w", err)
	}

	outPath := filepath.Join(scratch, "output."+job.Format.Ext())

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
	}
	switch job.Format {
	case FormatM4B:
		if len(job.Chapters) > 0 {
			metaPath := filepath.Join(scratch, "chapters.meta")
			meta := BuildChapterMetadata(job.Chapters)
			if err := os.WriteFile(metaPath, []byte(meta), 0o644); err != nil {
				return nil, fmt.Errorf("failed to write chapter metadata: %w", err)
			}
			args = append(args, "-i", metaPath, "-map_metadata", "1")
		}
		args = append(args, "-c", "copy", "-f", "mp4")
	default:
		// MP3 is re-encoded rather than stream-copied so the combined file
		// carries consistent headers and an accurate duration.
		args = append(args, "-c:a", "libmp3lame", "-b:a", t.bitrate)
	}
	args = append(args, outPath)

	if err := t.runFFmpeg(ctx, "concat", args); err != nil {
		return nil, err
	}

	out, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read concat output: %w", err)
	}

	return out, nil
}

// runFFmpeg executes ffmpeg with the given args inside the current scratch
// workspace, mapping cancellation and failure to the package error types.
func (t *Transcoder) runFFmpeg(ctx context.Context, op string, args []string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		// Context cancellation kills the child process; report it as a
		// cancel, not a transcode failure.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
		}
		stderr := string(output)
		if len(stderr) > stderrTailLimit {
			stderr = stderr[len(stderr)-stderrTailLimit:]
		}
		t.logger.Error("ffmpeg invocation failed", "op", op, "error", err, "stderr", stderr)
		return &TranscodeError{Op: op, Stderr: stderr, Err: err}
	}
	return nil
}

// scratchDir creates an isolated workspace for one invocation. The returned
// cleanup removes it on every exit path.
func (t *Transcoder) scratchDir(op string) (string, func(), error) {
	dir, err := os.MkdirTemp(t.scratchRoot, "audiobookd-"+op+"-*")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(dir); err != nil {
			t.logger.Warn("failed to remove scratch dir", "dir", dir, "error", err)
		}
	}
	return dir, cleanup, nil
}

// CheckAvailable checks if ffmpeg and ffprobe are available.
func CheckAvailable() error {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// tempoFilter builds the atempo filter expression for the requested speed.
// Returns "" when no filter is needed. Speeds are clamped to [0.5, 3.0];
// ffmpeg's atempo filter only accepts factors up to 2.0, so larger factors
// are split into a 2.0 pass followed by the remainder.
func tempoFilter(speed float64) string {
	if speed == 0 || speed == 1.0 {
		return ""
	}
	if speed < minTempo {
		speed = minTempo
	}
	if speed > maxTempo {
		speed = maxTempo
	}
	if speed > 2.0 {
		return fmt.Sprintf("atempo=2.0,atempo=%s", formatTempo(speed/2.0))
	}
	return "atempo=" + formatTempo(speed)
}

func formatTempo(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func exitStderr(err error) string {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s := string(exitErr.Stderr)
		if len(s) > stderrTailLimit {
			s = s[len(s)-stderrTailLimit:]
		}
		return s
	}
	return ""
}

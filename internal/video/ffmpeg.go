package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/lapvision/lapvision/internal/monitoring"
)

// FFmpegSource decodes frames by shelling out to ffmpeg. Each Decode runs a
// short-lived process that seeks to the frame's timestamp and emits one PNG
// over an image2pipe; stream metadata comes from a single ffprobe call at
// open time.
type FFmpegSource struct {
	info        Info
	ffmpegPath  string
	ffprobePath string
}

// OpenFFmpegSource probes path and returns a Source backed by the ffmpeg and
// ffprobe binaries on PATH.
func OpenFFmpegSource(ctx context.Context, path string) (*FFmpegSource, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file: %w", err)
	}

	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-hide_banner", "-loglevel", "error",
		"-print_format", "json",
		"-show_streams", "-show_format",
		"-select_streams", "v:0",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %v: %s", path, err, strings.TrimSpace(stderr.String()))
	}

	info, err := parseProbeOutput(stdout.Bytes(), path)
	if err != nil {
		return nil, err
	}

	monitoring.Logf("video: opened %s (%.3f fps, %d frames, %s)",
		path, info.FPS, info.TotalFrames, info.FormattedDuration())

	return &FFmpegSource{
		info:        info,
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
	}, nil
}

// Info returns the stream metadata captured at open time.
func (s *FFmpegSource) Info() Info {
	return s.info
}

// Decode seeks to the frame's timestamp and decodes exactly one PNG frame.
func (s *FFmpegSource) Decode(ctx context.Context, index int) (*Frame, error) {
	if err := s.info.CheckIndex(index); err != nil {
		return nil, err
	}

	seek := s.info.FrameTime(index)
	cmd := exec.CommandContext(ctx, s.ffmpegPath,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(seek, 'f', 6, 64),
		"-i", s.info.Path,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("frame %d: ffmpeg: %s: %w", index, strings.TrimSpace(stderr.String()), ErrDecodeFailure)
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("frame %d: ffmpeg produced no output: %w", index, ErrDecodeFailure)
	}

	return &Frame{Index: index, Data: stdout.Bytes()}, nil
}

// Close releases the source. Decodes run one process each, so there is no
// long-lived handle to tear down.
func (s *FFmpegSource) Close() error {
	return nil
}

type probeStream struct {
	CodecType    string `json:"codec_type"`
	RFrameRate   string `json:"r_frame_rate"`
	AvgFrameRate string `json:"avg_frame_rate"`
	NBFrames     string `json:"nb_frames"`
	Duration     string `json:"duration"`
}

type probeFormat struct {
	Duration string `json:"duration"`
}

type probeOutput struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

// parseProbeOutput extracts Info from ffprobe's JSON document. Containers
// that omit nb_frames fall back to duration*fps; duration falls back from
// the stream to the format section.
func parseProbeOutput(data []byte, path string) (Info, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return Info{}, fmt.Errorf("parse ffprobe output for %s: %w", path, err)
	}
	if len(probe.Streams) == 0 {
		return Info{}, fmt.Errorf("no video stream in %s", path)
	}
	stream := probe.Streams[0]

	fps, err := parseFrameRate(stream.AvgFrameRate)
	if err != nil || fps <= 0 {
		fps, err = parseFrameRate(stream.RFrameRate)
		if err != nil || fps <= 0 {
			return Info{}, fmt.Errorf("no usable frame rate for %s", path)
		}
	}

	duration := 0.0
	if stream.Duration != "" {
		duration, _ = strconv.ParseFloat(stream.Duration, 64)
	}
	if duration <= 0 && probe.Format.Duration != "" {
		duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}

	totalFrames := 0
	if stream.NBFrames != "" {
		totalFrames, _ = strconv.Atoi(stream.NBFrames)
	}
	if totalFrames <= 0 && duration > 0 {
		totalFrames = int(duration * fps)
	}
	if totalFrames <= 0 {
		return Info{}, fmt.Errorf("cannot determine frame count for %s", path)
	}
	if duration <= 0 {
		duration = float64(totalFrames) / fps
	}

	return Info{
		Path:        path,
		FPS:         fps,
		TotalFrames: totalFrames,
		Duration:    duration,
	}, nil
}

// parseFrameRate parses an ffprobe rational like "60/1" or "60000/1001".
func parseFrameRate(s string) (float64, error) {
	if s == "" || s == "0/0" {
		return 0, fmt.Errorf("empty frame rate")
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, fmt.Errorf("frame rate %q: %w", s, err)
	}
	if !found {
		return n, nil
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil {
		return 0, fmt.Errorf("frame rate %q: %w", s, err)
	}
	if d == 0 {
		return 0, fmt.Errorf("frame rate %q has zero denominator", s)
	}
	return n / d, nil
}

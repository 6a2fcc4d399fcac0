package transport

import (
	"fmt"
	"runtime"
	"strconv"
)

// FFmpegBin is the transport binary. Overridable for tests and exotic
// installs via config.
const FFmpegBin = "ffmpeg"

// EncodeParams describe the sender-side encoder invocation.
type EncodeParams struct {
	Width     int
	Height    int
	Framerate int
	PeerAddr  string
	VideoPort int
	BitrateK  int // kbps, 0 means the 1000k reference default
}

// EncoderArgs builds the ffmpeg argument list for the sender: raw BGR24
// frames on stdin, H.264 in MPEG-TS over UDP out. Tuned for latency, not
// quality: ultrafast + zerolatency with a tight VBV buffer.
func EncoderArgs(p EncodeParams) []string {
	bitrate := p.BitrateK
	if bitrate <= 0 {
		bitrate = 1000
	}
	return []string{
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", p.Width, p.Height),
		"-framerate", strconv.Itoa(p.Framerate),
		"-i", "pipe:0",
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-b:v", fmt.Sprintf("%dk", bitrate),
		"-minrate", fmt.Sprintf("%dk", bitrate*8/10),
		"-maxrate", fmt.Sprintf("%dk", bitrate*12/10),
		"-bufsize", fmt.Sprintf("%dk", bitrate),
		"-g", strconv.Itoa(p.Framerate * 2),
		"-keyint_min", strconv.Itoa(p.Framerate),
		"-r", strconv.Itoa(p.Framerate),
		"-f", "mpegts",
		fmt.Sprintf("udp://%s:%d?pkt_size=1316", p.PeerAddr, p.VideoPort),
	}
}

// DecoderArgs builds the ffmpeg argument list for the receiver: MPEG-TS
// over UDP in, raw BGR24 frames on stdout out. Buffering is disabled
// everywhere it can be; corrupt frames are discarded rather than delayed.
func DecoderArgs(videoPort int) []string {
	return []string{
		"-i", fmt.Sprintf("udp://@127.0.0.1:%d?timeout=1000000&fifo_size=1000000", videoPort),
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-vsync", "0",
		"-flags", "low_delay",
		"-fflags", "nobuffer+discardcorrupt",
		"pipe:1",
	}
}

// CaptureArgs builds the ffmpeg argument list for the webcam source: device
// capture in, raw BGR24 frames on stdout out. The input device is platform
// specific, matching the boxes this actually runs on.
func CaptureArgs(device string, width, height, framerate int) []string {
	inputFormat := "video4linux2"
	if runtime.GOOS == "darwin" {
		inputFormat = "avfoundation"
		if device == "" {
			device = "0"
		}
	}
	if device == "" {
		device = "/dev/video0"
	}
	return []string{
		"-f", inputFormat,
		"-framerate", strconv.Itoa(framerate),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"pipe:1",
	}
}

// MuxerArgs builds the ffmpeg argument list for the recorder: the MPEG-TS
// byte stream on stdin is remuxed (no re-encode) into an MP4 file.
func MuxerArgs(outputPath string) []string {
	return []string{
		"-y",
		"-fflags", "nobuffer",
		"-i", "pipe:0",
		"-c:v", "copy",
		"-movflags", "faststart",
		"-reset_timestamps", "1",
		outputPath,
	}
}

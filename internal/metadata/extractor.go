package metadata

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"riffstore/internal/config"
	"riffstore/pkg/models"

	"github.com/abema/go-mp4"
	"github.com/dhowden/tag"
	"github.com/go-audio/wav"
	"github.com/mewkiz/flac"
	"github.com/sirupsen/logrus"
	"github.com/tcolgate/mp3"
	"golang.org/x/crypto/blake2b"
)

// UnknownArtist is used when a file carries no artist tag.
const UnknownArtist = "Unknown Artist"

// FileInfo is what probing a media file yields.
type FileInfo struct {
	Path     string
	Title    string
	Artist   string
	Album    string
	Duration int // in seconds
	Format   string
	Size     int64
	Checksum string // blake2b-256, hex
	IsVideo  bool
	Metadata models.Metadata
}

// Prober reads tags, duration and a content checksum from media files.
type Prober struct {
	supportedFormats []string
	videoFormats     []string
	logger           *logrus.Logger
}

// NewProber creates a prober for the library's configured formats.
func NewProber(cfg config.LibraryConfig, logger *logrus.Logger) *Prober {
	return &Prober{
		supportedFormats: cfg.SupportedFormats,
		videoFormats:     cfg.VideoFormats,
		logger:           logger,
	}
}

// IsSupported checks if a file has a supported media extension
func (p *Prober) IsSupported(filePath string) bool {
	return slices.Contains(p.supportedFormats, strings.ToLower(filepath.Ext(filePath)))
}

// Probe extracts metadata from a media file. Missing tags fall back to the
// file name and UnknownArtist; a duration that cannot be determined is 0.
func (p *Prober) Probe(filePath string) (*FileInfo, error) {
	startTime := time.Now()

	if !p.IsSupported(filePath) {
		return nil, fmt.Errorf("unsupported media format: %s", filepath.Ext(filePath))
	}

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open media file: %w", err)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat media file: %w", err)
	}

	checksum, err := Checksum(file)
	if err != nil {
		return nil, err
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	info := &FileInfo{
		Path:     filePath,
		Title:    strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath)),
		Artist:   UnknownArtist,
		Format:   strings.TrimPrefix(ext, "."),
		Size:     stat.Size(),
		Checksum: checksum,
		IsVideo:  slices.Contains(p.videoFormats, ext),
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind media file: %w", err)
	}
	if m, err := tag.ReadFrom(file); err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Debug("No readable tags, using filename")
	} else {
		applyTags(info, m)
	}

	duration, hasVideo, err := p.probeDuration(filePath, ext)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"filePath": filePath,
			"error":    err.Error(),
		}).Warn("Failed to calculate duration, setting to 0")
	}
	info.Duration = duration
	info.IsVideo = info.IsVideo || hasVideo

	p.logger.WithFields(logrus.Fields{
		"filePath":       filePath,
		"title":          info.Title,
		"artist":         info.Artist,
		"duration":       info.Duration,
		"processingTime": time.Since(startTime),
	}).Debug("Successfully probed media file")

	return info, nil
}

func applyTags(info *FileInfo, m tag.Metadata) {
	if title := strings.TrimSpace(m.Title()); title != "" {
		info.Title = title
	}
	if artist := strings.TrimSpace(m.Artist()); artist != "" {
		info.Artist = artist
	}
	info.Album = strings.TrimSpace(m.Album())

	extra := map[string]any{}
	if genre := strings.TrimSpace(m.Genre()); genre != "" {
		extra["genre"] = genre
	}
	if year := m.Year(); year > 0 {
		extra["year"] = year
	}
	if n, total := m.Track(); n > 0 {
		extra["track_number"] = n
		if total > 0 {
			extra["track_total"] = total
		}
	}
	if albumArtist := strings.TrimSpace(m.AlbumArtist()); albumArtist != "" {
		extra["album_artist"] = albumArtist
	}
	if ft := m.FileType(); ft != tag.UnknownFileType {
		extra["file_type"] = string(ft)
	}
	// a map of strings and ints always encodes
	info.Metadata, _ = models.NewMetadata(extra)
}

// Checksum returns the hex blake2b-256 digest of everything read from r.
func Checksum(r io.Reader) (string, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("failed to hash media file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// probeDuration calculates the duration in seconds. For MP4 containers it
// also reports whether a video track is present.
func (p *Prober) probeDuration(filePath, ext string) (int, bool, error) {
	switch ext {
	case ".mp3":
		d, err := p.durationMP3(filePath)
		return d, false, err
	case ".flac":
		d, err := durationFLAC(filePath)
		return d, false, err
	case ".wav":
		d, err := durationWAV(filePath)
		return d, false, err
	case ".m4a", ".mp4", ".m4v", ".mov":
		return durationMP4(filePath)
	default:
		return 0, false, fmt.Errorf("duration not supported for %s", ext)
	}
}

// MP3 duration using frame decoding; fallback to average bitrate estimation only if frames fail entirely.
func (p *Prober) durationMP3(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := mp3.NewDecoder(f)
	var total time.Duration
	var skipped int
	frames := 0
	for {
		var fr mp3.Frame
		if err := dec.Decode(&fr, &skipped); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if frames == 0 { // could not decode any frame
				return estimateFromFileSize(path, 192000)
			}
			break // partial decode; use what we have
		}
		total += fr.Duration()
		frames++
	}
	return int(total.Seconds()), nil
}

// FLAC duration via STREAMINFO metadata block
func durationFLAC(path string) (int, error) {
	stream, err := flac.ParseFile(path)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	si := stream.Info
	if si.NSamples > 0 && si.SampleRate > 0 {
		secs := float64(si.NSamples) / float64(si.SampleRate)
		return int(secs + 0.5), nil
	}
	return 0, fmt.Errorf("flac stream missing sample info")
}

// WAV duration from the header and the PCM payload size.
func durationWAV(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return 0, fmt.Errorf("invalid wav file")
	}
	if dec.SampleRate == 0 || dec.BitDepth == 0 || dec.NumChans == 0 {
		return 0, fmt.Errorf("invalid wav header")
	}
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	const headerSize = 44
	pcmBytes := st.Size() - headerSize
	if pcmBytes < 0 {
		pcmBytes = 0
	}
	bytesPerSampleFrame := int64(dec.BitDepth/8) * int64(dec.NumChans)
	if bytesPerSampleFrame <= 0 {
		return 0, fmt.Errorf("invalid sample frame size")
	}
	sampleFrames := pcmBytes / bytesPerSampleFrame
	secs := float64(sampleFrames) / float64(dec.SampleRate)
	return int(secs + 0.5), nil
}

// MP4/M4A duration from the movie header; any AVC track marks the file as video.
func durationMP4(path string) (int, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false, err
	}
	defer f.Close()

	info, err := mp4.Probe(f)
	if err != nil {
		return 0, false, fmt.Errorf("failed to probe mp4: %w", err)
	}

	hasVideo := false
	for _, track := range info.Tracks {
		if track.Codec == mp4.CodecAVC1 {
			hasVideo = true
		}
	}
	if info.Timescale == 0 {
		return 0, hasVideo, fmt.Errorf("invalid timescale")
	}
	secs := float64(info.Duration) / float64(info.Timescale)
	return int(secs + 0.5), hasVideo, nil
}

// estimateFromFileSize provides last-resort estimation if parsing fails.
func estimateFromFileSize(path string, bitrate int) (int, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if bitrate <= 0 {
		return 0, fmt.Errorf("invalid bitrate")
	}
	dur := (st.Size() * 8) / int64(bitrate)
	return int(dur), nil
}

// ContentType returns the MIME type for a media file
func ContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".mp3":
		return "audio/mpeg"
	case ".flac":
		return "audio/flac"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".mp4", ".m4v":
		return "video/mp4"
	case ".webm":
		return "video/webm"
	case ".mkv":
		return "video/x-matroska"
	default:
		return "application/octet-stream"
	}
}

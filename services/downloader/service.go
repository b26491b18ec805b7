package downloader

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/VoidObscura/sabrdaemon/config"
	"github.com/VoidObscura/sabrdaemon/internal"
	"github.com/VoidObscura/sabrdaemon/internal/sabr"
	"github.com/VoidObscura/sabrdaemon/logger"
	"github.com/VoidObscura/sabrdaemon/services/meta"
	"github.com/gcottom/retry"

	"golang.org/x/text/unicode/norm"
)

// StartDownload registers a job for the track and fetches it in the
// background. A job already running for the same track is returned
// as-is.
func (s *Service) StartDownload(ctx context.Context, req DownloadRequest) (*Job, error) {
	if req.TrackID == "" || req.StreamingURL == "" || req.Itag == 0 {
		return nil, fmt.Errorf("download request requires trackId, streamingUrl and itag")
	}
	job := &Job{TrackID: req.TrackID, State: JobQueued}
	if existing, loaded := s.Jobs.LoadOrStore(req.TrackID, job); loaded {
		current := existing.(*Job)
		if current.Snapshot().State != JobFailed {
			logger.InfoC(ctx, "download already in flight", slog.String("id", req.TrackID))
			return current, nil
		}
		s.Jobs.Store(req.TrackID, job)
	}
	go s.runJob(logger.WithLogger(context.Background(), logger.FromContext(ctx)), job, req)
	return job, nil
}

// GetJob returns the job for a track id, if any.
func (s *Service) GetJob(id string) (*Job, bool) {
	v, ok := s.Jobs.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Job), true
}

func (s *Service) runJob(ctx context.Context, job *Job, req DownloadRequest) {
	job.setState(JobFetching)
	result, err := s.fetchTrack(ctx, req)
	if err != nil {
		logger.ErrorC(ctx, "fetch failed", slog.String("id", req.TrackID), slog.Any("error", err))
		job.fail(err)
		return
	}
	job.mu.Lock()
	job.BytesWritten = result.BytesWritten
	job.mu.Unlock()

	job.setState(JobTagging)
	savedPath, err := s.tagAndSave(ctx, req, result.OutputPath)
	if err != nil {
		logger.ErrorC(ctx, "save failed", slog.String("id", req.TrackID), slog.Any("error", err))
		job.fail(err)
		return
	}
	s.Cleanup(ctx, req.TrackID, req.Itag)
	job.mu.Lock()
	job.SavedPath = savedPath
	job.State = JobDone
	job.mu.Unlock()
}

// fetchTrack drives one SABR fetch into the temp dir. When the first
// attempt fails, the fetch is handed to retry.Retry with a limit of 2.
// A first attempt that fails on attestation is not retried here: the
// host has to mint a fresh poToken first.
func (s *Service) fetchTrack(ctx context.Context, req DownloadRequest) (*sabr.FetchResult, error) {
	poToken, err := decodeBase64(req.PoToken)
	if err != nil {
		return nil, fmt.Errorf("bad poToken: %w", err)
	}
	ustreamerConfig, err := decodeBase64(req.UstreamerConfig)
	if err != nil {
		return nil, fmt.Errorf("bad ustreamerConfig: %w", err)
	}
	if err = os.Mkdir(config.AppConfig.TempDir, 0755); err != nil && !os.IsExist(err) {
		logger.ErrorC(ctx, "failed to create temp dir", slog.Any("error", err))
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	fetchReq := sabr.FetchRequest{
		StreamingURL:    req.StreamingURL,
		Itag:            req.Itag,
		LastModified:    req.LastModified,
		DurationMs:      req.DurationMs,
		PoToken:         poToken,
		UstreamerConfig: ustreamerConfig,
		OutputPath:      s.tempPath(req.TrackID, req.Itag),
	}

	result, err := s.SabrClient.Fetch(ctx, fetchReq)
	if err == nil {
		return result, nil
	}
	if sabr.IsFatalForToken(err) {
		return nil, err
	}
	logger.WarnC(ctx, "fetch failed, retrying", slog.String("id", req.TrackID), slog.Any("error", err))
	res, err := retry.Retry(retry.NewAlgSimpleDefault(), 2, s.SabrClient.Fetch, ctx, fetchReq)
	if err != nil {
		return nil, err
	}
	return res[0].(*sabr.FetchResult), nil
}

func (s *Service) tagAndSave(ctx context.Context, req DownloadRequest, fetchedPath string) (string, error) {
	data, err := os.ReadFile(fetchedPath)
	if err != nil {
		return "", fmt.Errorf("failed to read fetched file: %w", err)
	}
	hints := meta.TrackMeta{ID: req.TrackID, Title: req.Title, Artist: req.Artist}
	tagged, err := s.MetaServiceClient.AddMeta(ctx, hints, data)
	if err != nil {
		logger.WarnC(ctx, "tagging failed, saving raw stream", slog.String("id", req.TrackID), slog.Any("error", err))
		tagged = data
	}
	return s.SaveFile(ctx, req, tagged)
}

// SaveFile lands the tagged bytes in the library, skipping tracks the
// startup scan already found.
func (s *Service) SaveFile(ctx context.Context, req DownloadRequest, data []byte) (string, error) {
	key := strings.TrimSpace(req.Title) + " - " + strings.TrimSpace(req.Artist)
	logger.InfoC(ctx, "checking if file already exists in library map", slog.String("key", key))
	if _, ok := s.LibraryMap.Load(key); ok {
		logger.InfoC(ctx, "file already exists in library, skipping", slog.String("id", req.TrackID), slog.String("key", key))
		return "", nil
	}
	s.LibraryMap.Store(key, true)

	if err := os.Mkdir(config.AppConfig.MusicDir, 0755); err != nil && !os.IsExist(err) {
		logger.ErrorC(ctx, "failed to create save dir", slog.Any("error", err))
		return "", fmt.Errorf("failed to create save dir: %w", err)
	}
	savePath := fmt.Sprintf("%s - %s.%s", req.Artist, req.Title, internal.FileFormatForItag(req.Itag))
	savePath = SanitizeFilename(savePath)
	savePath = filepath.Join(config.AppConfig.MusicDir, savePath)
	savePath = internal.SanitizePath(savePath)
	logger.InfoC(ctx, "saving file", slog.String("path", savePath), slog.String("id", req.TrackID))
	if err := os.WriteFile(savePath, data, 0644); err != nil {
		logger.ErrorC(ctx, "failed to write file", slog.String("id", req.TrackID), slog.Any("error", err))
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	logger.InfoC(ctx, "file saved successfully", slog.String("path", savePath), slog.String("id", req.TrackID))
	return savePath, nil
}

func (s *Service) tempPath(id string, itag int64) string {
	return fmt.Sprintf("%s/%s.%s", config.AppConfig.TempDir, id, internal.FileFormatForItag(itag))
}

func (s *Service) Cleanup(ctx context.Context, id string, itag int64) {
	_ = os.Remove(s.tempPath(id, itag))
}

// decodeBase64 accepts the URL-safe unpadded form first, then the
// standard alphabet, matching what the player hands over.
func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	value = strings.TrimSpace(value)
	if out, err := base64.RawURLEncoding.DecodeString(value); err == nil {
		return out, nil
	}
	if out, err := base64.URLEncoding.DecodeString(value); err == nil {
		return out, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

func SanitizeFilename(name string) string {
	if name == "" || name == "." || name == ".." {
		return "_"
	}

	// Separate extension so we can truncate the base safely.
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	// Normalize to NFD so it matches macOS on-disk normalization.
	base = norm.NFD.String(base)
	ext = norm.NFD.String(ext)

	// Replace path separators and other problem chars.
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		"\x00", "", // NUL never allowed
		":", "-", // safer across tools
		"*", "-",
		"?", "-",
		"\"", "'",
		"<", "(",
		">", ")",
		"|", "-",
	)
	base = replacer.Replace(base)

	// Remove control chars and trim weird spacing.
	var b strings.Builder
	b.Grow(len(base))
	prevSpace := false
	for _, r := range base {
		if r == utf8.RuneError {
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		// collapse whitespace runs to single space
		if unicode.IsSpace(r) {
			if !prevSpace {
				b.WriteRune(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	base = strings.TrimSpace(b.String())

	// If the base becomes empty, use a placeholder.
	if base == "" {
		base = "_"
	}

	// Optional: collapse runs of dashes/spaces.
	reDash := regexp.MustCompile(`[ \-]{2,}`)
	base = reDash.ReplaceAllString(base, "-")

	// Final name then truncate to 255 bytes (keep extension intact).
	const maxBytes = 255
	fn := base + ext
	if len(fn) > maxBytes {
		// Shrink base portion to fit.
		target := maxBytes - len(ext)
		if target < 1 {
			target = maxBytes // worst-case: no ext space; just hard cut
		}
		base = truncateBytes(base, target)
		fn = base + ext
		if len(fn) > maxBytes {
			fn = truncateBytes(fn, maxBytes)
		}
	}

	// Disallow dot-only and leading/trailing dots/spaces (some tools hate these).
	fn = strings.Trim(fn, " .")
	if fn == "" {
		fn = "_"
	}
	reg := regexp.MustCompile(`[^a-zA-Z0-9_.\-()&]`)
	fn = reg.ReplaceAllString(fn, "_") // replace any remaining illegal chars with underscore
	return fn
}

// truncateBytes cuts a string to at most n bytes without splitting runes.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	var buf bytes.Buffer
	buf.Grow(n)
	for _, r := range s {
		rb := make([]byte, 4)
		nb := utf8.EncodeRune(rb, r)
		if buf.Len()+nb > n {
			break
		}
		buf.Write(rb[:nb])
	}
	return buf.String()
}

package sabr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/VoidObscura/sabrdaemon/internal/sabr/ump"
	"github.com/VoidObscura/sabrdaemon/logger"
)

// FetchRequest carries everything one fetch needs. PoToken and
// UstreamerConfig are the raw decoded bytes; base64 handling is the
// caller's concern.
type FetchRequest struct {
	StreamingURL    string
	Itag            int64
	LastModified    int64
	DurationMs      int64
	PoToken         []byte
	UstreamerConfig []byte
	OutputPath      string
}

// FetchResult reports a completed fetch.
type FetchResult struct {
	BytesWritten int64
	OutputPath   string
}

// session is the per-fetch root state driven by the request loop.
type session struct {
	client *Client

	url           string
	preferredItag int64
	preferredLmt  int64

	poToken         []byte
	ustreamerConfig []byte

	requestNumber  int
	playerTimeMs   int64
	playbackCookie []byte

	sabrContextUpdates map[int64]*sabrContext
	sabrContextsToSend map[int64]struct{}

	initializedFormats map[string]*initializedFormat
	partialSegments    map[int64]*partialSegment
	audioFormatKey     string

	streamComplete    bool
	activityInRequest bool
	stalledRequests   int

	out          *os.File
	bytesWritten int64
}

// Fetch streams one complete audio track to req.OutputPath. The loop
// runs one HTTP round-trip at a time until the server's stream is
// complete, the stall limit trips or the request cap is reached. A
// fetch that produced no audio bytes removes the output file and fails.
func (c *Client) Fetch(ctx context.Context, req FetchRequest) (*FetchResult, error) {
	out, err := os.Create(req.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("creating output file: %w", err)
	}

	s := &session{
		client:             c,
		url:                req.StreamingURL,
		preferredItag:      req.Itag,
		preferredLmt:       req.LastModified,
		poToken:            req.PoToken,
		ustreamerConfig:    req.UstreamerConfig,
		sabrContextUpdates: make(map[int64]*sabrContext),
		sabrContextsToSend: make(map[int64]struct{}),
		initializedFormats: make(map[string]*initializedFormat),
		partialSegments:    make(map[int64]*partialSegment),
		out:                out,
	}

	runErr := s.run(ctx)
	closeErr := out.Close()

	if runErr == nil && s.bytesWritten == 0 {
		runErr = &EmptyStreamError{}
	}
	if runErr != nil {
		if s.bytesWritten == 0 {
			_ = os.Remove(req.OutputPath)
		}
		return nil, runErr
	}
	if closeErr != nil {
		return nil, fmt.Errorf("closing output file: %w", closeErr)
	}
	logger.InfoC(ctx, "fetch complete",
		slog.String("path", req.OutputPath),
		slog.Int64("bytes", s.bytesWritten),
		slog.Int("requests", s.requestNumber))
	return &FetchResult{BytesWritten: s.bytesWritten, OutputPath: req.OutputPath}, nil
}

func (s *session) run(ctx context.Context) error {
	for !s.streamComplete && s.requestNumber < maxRequests {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.requestNumber++
		s.activityInRequest = false
		s.partialSegments = make(map[int64]*partialSegment)

		if err := s.doRequest(ctx); err != nil {
			return err
		}

		if s.activityInRequest {
			s.stalledRequests = 0
		} else {
			s.stalledRequests++
			if s.stalledRequests >= maxStalledRequests {
				logger.WarnC(ctx, "stream stalled, giving up",
					slog.Int("requests", s.requestNumber),
					slog.Int64("bytes", s.bytesWritten))
				break
			}
		}

		s.checkStreamComplete()
		if !s.streamComplete {
			s.advancePlayerTime()
		}
	}
	return nil
}

func (s *session) doRequest(ctx context.Context) error {
	body, err := s.client.post(ctx, s.url, s.requestNumber, s.buildRequestBody())
	if err != nil {
		return err
	}
	defer body.Close()

	parts := ump.NewPartReader(body)
	partCount := 0
	for {
		part, err := parts.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &ProtocolError{Msg: "malformed ump stream", Err: err}
		}
		partCount++
		if err := s.handlePart(ctx, part); err != nil {
			return err
		}
	}
	if partCount == 0 {
		return &ProtocolError{Msg: "empty response body"}
	}
	return nil
}

// checkStreamComplete decides end of stream from the audio format's
// consumed ranges: either every announced segment was received, or the
// player time has caught up with the announced end time.
func (s *session) checkStreamComplete() {
	format, ok := s.initializedFormats[s.audioFormatKey]
	if s.audioFormatKey == "" || !ok {
		return
	}
	var maxEndSequence int64 = -1
	for _, cr := range format.ConsumedRanges {
		if cr.EndSequenceNumber >= sentinelEndSequence {
			continue
		}
		if cr.EndSequenceNumber > maxEndSequence {
			maxEndSequence = cr.EndSequenceNumber
		}
	}
	if format.TotalSegments > 0 && maxEndSequence >= format.TotalSegments {
		s.streamComplete = true
		return
	}
	if format.EndTimeMs > 0 && s.playerTimeMs >= format.EndTimeMs {
		s.streamComplete = true
	}
}

// advancePlayerTime moves the virtual playhead forward, never backward.
// If a consumed range covers the current time the playhead jumps to its
// end; otherwise it jumps to the furthest end of any range.
func (s *session) advancePlayerTime() {
	format, ok := s.initializedFormats[s.audioFormatKey]
	if s.audioFormatKey == "" || !ok {
		return
	}
	var furthest int64 = -1
	for _, cr := range format.ConsumedRanges {
		if cr.EndSequenceNumber >= sentinelEndSequence {
			continue
		}
		end := cr.StartTimeMs + cr.DurationMs
		if cr.StartTimeMs <= s.playerTimeMs && s.playerTimeMs < end {
			if end > s.playerTimeMs {
				s.playerTimeMs = end
			}
			return
		}
		if end > furthest {
			furthest = end
		}
	}
	if furthest > s.playerTimeMs {
		s.playerTimeMs = furthest
	}
}

// IsFatalForToken reports whether err means the poToken was rejected and
// a retry needs a freshly minted token.
func IsFatalForToken(err error) bool {
	var attestation *AttestationRequiredError
	return errors.As(err, &attestation)
}

package sabr

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/VoidObscura/sabrdaemon/internal/sabr/protos"
	"github.com/VoidObscura/sabrdaemon/internal/sabr/ump"
	"github.com/VoidObscura/sabrdaemon/logger"
)

// handlePart dispatches one UMP part against the session. Unknown part
// types are skipped.
func (s *session) handlePart(ctx context.Context, part *ump.Part) error {
	switch part.Type {
	case partMediaHeader:
		s.onMediaHeader(ctx, part.Data)
	case partMedia:
		return s.onMedia(ctx, part.Data)
	case partMediaEnd:
		s.onMediaEnd(ctx, part.Data)
	case partLiveMetadata:
		// live streams only, nothing to track for a track fetch
	case partNextRequestPolicy:
		s.onNextRequestPolicy(part.Data)
	case partFormatInitialization:
		s.onFormatInitialization(ctx, part.Data)
	case partSabrRedirect:
		s.onRedirect(ctx, part.Data)
	case partSabrError:
		return onSabrError(part.Data)
	case partSabrContextUpdate:
		s.onContextUpdate(part.Data)
	case partStreamProtectionStatus:
		return onStreamProtectionStatus(ctx, part.Data)
	case partSabrContextSendingPolicy:
		s.onContextSendingPolicy(part.Data)
	default:
		logger.DebugC(ctx, "skipping unknown ump part", slog.Int64("type", part.Type), slog.Int("size", len(part.Data)))
	}
	return nil
}

func (s *session) onMediaHeader(ctx context.Context, payload []byte) {
	header := protos.Parse(payload)
	headerID, ok := header.FirstVarint(1)
	if !ok {
		return
	}

	var formatKey string
	if formatID, ok := header.FirstMessage(13); ok {
		if itag, ok := formatID.FirstVarint(1); ok {
			formatKey = strconv.FormatInt(itag, 10)
		}
	}
	if formatKey == "" {
		if itag, ok := header.FirstVarint(3); ok {
			formatKey = strconv.FormatInt(itag, 10)
		}
	}
	if formatKey == "" {
		return
	}

	// An uninitialized format still gets a partial entry so its MEDIA
	// bytes can be consumed and dropped.
	discard := true
	if format, ok := s.initializedFormats[formatKey]; ok {
		discard = format.Discard
	}

	seg := &partialSegment{
		FormatKey:     formatKey,
		IsInitSegment: header.FirstBool(8),
		Discard:       discard,
	}
	seg.SequenceNumber, _ = header.FirstVarint(9)
	seg.StartMs, _ = header.FirstVarint(11)
	seg.DurationMs, _ = header.FirstVarint(12)
	s.partialSegments[headerID] = seg
}

func (s *session) onMedia(ctx context.Context, payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	headerID, n := ump.Varint(payload)
	if n <= 0 {
		return &ProtocolError{Msg: "media part with truncated header id"}
	}
	seg, ok := s.partialSegments[headerID]
	if !ok {
		return nil
	}
	data := payload[n:]
	if !seg.Discard {
		written, err := s.out.Write(data)
		s.bytesWritten += int64(written)
		if err != nil {
			return fmt.Errorf("writing audio segment: %w", err)
		}
	}
	seg.ReceivedBytes += int64(len(data))
	return nil
}

func (s *session) onMediaEnd(ctx context.Context, payload []byte) {
	headerID, n := ump.Varint(payload)
	if n <= 0 {
		return
	}
	seg, ok := s.partialSegments[headerID]
	if !ok {
		return
	}
	delete(s.partialSegments, headerID)
	if seg.Discard {
		return
	}
	s.activityInRequest = true

	format, ok := s.initializedFormats[seg.FormatKey]
	if !ok {
		return
	}
	if seg.IsInitSegment {
		format.InitSegmentReceived = true
		return
	}
	for i := range format.ConsumedRanges {
		cr := &format.ConsumedRanges[i]
		if cr.EndSequenceNumber+1 == seg.SequenceNumber {
			cr.EndSequenceNumber = seg.SequenceNumber
			cr.DurationMs = (seg.StartMs - cr.StartTimeMs) + seg.DurationMs
			return
		}
	}
	format.ConsumedRanges = append(format.ConsumedRanges, ConsumedRange{
		StartSequenceNumber: seg.SequenceNumber,
		EndSequenceNumber:   seg.SequenceNumber,
		StartTimeMs:         seg.StartMs,
		DurationMs:          seg.DurationMs,
	})
}

func (s *session) onNextRequestPolicy(payload []byte) {
	policy := protos.Parse(payload)
	if cookie, ok := policy.FirstBytes(7); ok {
		s.playbackCookie = append([]byte(nil), cookie...)
	}
}

func (s *session) onFormatInitialization(ctx context.Context, payload []byte) {
	metadata := protos.Parse(payload)
	formatID, ok := metadata.FirstMessage(2)
	if !ok {
		return
	}
	itag, ok := formatID.FirstVarint(1)
	if !ok {
		return
	}
	key := strconv.FormatInt(itag, 10)
	if _, ok := s.initializedFormats[key]; ok {
		return
	}

	format := &initializedFormat{FormatID: FormatID{Itag: itag}}
	format.Lmt, _ = formatID.FirstVarint(2)
	format.Xtags, _ = formatID.FirstString(3)
	format.EndTimeMs, _ = metadata.FirstVarint(3)
	format.TotalSegments, _ = metadata.FirstVarint(4)
	format.MimeType, _ = metadata.FirstString(5)
	format.Discard = !strings.HasPrefix(format.MimeType, "audio/")
	if format.Discard {
		format.ConsumedRanges = []ConsumedRange{{
			StartSequenceNumber: 0,
			EndSequenceNumber:   sentinelEndSequence,
			StartTimeMs:         0,
			DurationMs:          sentinelDurationMs,
		}}
	} else if s.audioFormatKey == "" {
		s.audioFormatKey = key
	}
	s.initializedFormats[key] = format
	logger.InfoC(ctx, "format initialized",
		slog.String("key", key),
		slog.String("mimeType", format.MimeType),
		slog.Bool("discard", format.Discard),
		slog.Int64("totalSegments", format.TotalSegments))
}

func (s *session) onRedirect(ctx context.Context, payload []byte) {
	redirect := protos.Parse(payload)
	if target, ok := redirect.FirstString(1); ok && target != "" {
		logger.InfoC(ctx, "following sabr redirect", slog.String("url", target))
		s.url = target
	}
}

func onSabrError(payload []byte) error {
	serverError := protos.Parse(payload)
	sabrErr := &SabrError{}
	sabrErr.Type, _ = serverError.FirstString(1)
	sabrErr.Action, _ = serverError.FirstVarint(2)
	if detail, ok := serverError.FirstMessage(3); ok {
		sabrErr.StatusCode, _ = detail.FirstVarint(1)
	}
	return sabrErr
}

func (s *session) onContextUpdate(payload []byte) {
	update := protos.Parse(payload)
	contextType, ok := update.FirstVarint(1)
	if !ok {
		return
	}
	writePolicy, _ := update.FirstVarint(5)
	if _, exists := s.sabrContextUpdates[contextType]; exists && writePolicy == 2 {
		// keep-first policy, the stored value wins
		return
	}
	value, _ := update.FirstBytes(3)
	sendByDefault := update.FirstBool(4)
	s.sabrContextUpdates[contextType] = &sabrContext{
		Type:          contextType,
		Value:         append([]byte(nil), value...),
		SendByDefault: sendByDefault,
		WritePolicy:   writePolicy,
	}
	if sendByDefault {
		s.sabrContextsToSend[contextType] = struct{}{}
	}
}

// Stream protection status codes.
const (
	protectionStatusOK       = 1
	protectionStatusPending  = 2
	protectionStatusRequired = 3
)

func onStreamProtectionStatus(ctx context.Context, payload []byte) error {
	status, _ := protos.Parse(payload).FirstVarint(1)
	switch status {
	case protectionStatusOK:
	case protectionStatusPending:
		logger.WarnC(ctx, "stream protection pending, server may demand attestation")
	case protectionStatusRequired:
		return &AttestationRequiredError{}
	}
	return nil
}

func (s *session) onContextSendingPolicy(payload []byte) {
	policy := protos.Parse(payload)
	for _, contextType := range policy.Varints(1) {
		s.sabrContextsToSend[contextType] = struct{}{}
	}
	for _, contextType := range policy.Varints(2) {
		delete(s.sabrContextsToSend, contextType)
	}
	for _, contextType := range policy.Varints(3) {
		// Dropped from the stored updates but intentionally left in the
		// send set: it is declared as an unsent type until the server
		// pushes a fresh value.
		delete(s.sabrContextUpdates, contextType)
	}
}

package meta

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/VoidObscura/sabrdaemon/logger"
	"github.com/gcottom/audiometa/v3"
	"github.com/gcottom/retry"
	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
)

// AddMeta tags the downloaded audio with the best metadata match and
// returns the tagged bytes. Containers the tag library cannot open are
// returned untouched so the download still lands in the library.
func (s *Service) AddMeta(ctx context.Context, hints TrackMeta, data []byte) ([]byte, error) {
	trackMeta, err := s.GetBestMeta(ctx, hints)
	if err != nil {
		logger.ErrorC(ctx, "failed to get best meta", slog.Any("error", err))
		trackMeta = &hints
	}

	tag, err := audiometa.OpenTag(bytes.NewReader(data))
	if err != nil {
		logger.WarnC(ctx, "container not taggable, saving as-is", slog.String("id", hints.ID), slog.Any("error", err))
		return data, nil
	}
	tag.SetAlbum(strings.TrimSpace(trackMeta.Album))
	tag.SetArtist(strings.TrimSpace(trackMeta.Artist))
	tag.SetTitle(strings.TrimSpace(trackMeta.Title))
	if trackMeta.Genre != "" {
		tag.SetGenre(strings.TrimSpace(trackMeta.Genre))
	}
	if trackMeta.CoverArtURL != "" {
		response, err := http.Get(trackMeta.CoverArtURL)
		if err != nil {
			logger.ErrorC(ctx, "failed to get cover art", slog.Any("error", err))
			return nil, err
		}
		defer response.Body.Close()
		img, _, err := image.Decode(response.Body)
		if err != nil {
			logger.ErrorC(ctx, "failed to decode cover art", slog.Any("error", err))
			return nil, err
		}
		tag.SetCoverArt(&img)
	}
	out := new(bytes.Buffer)
	if err = tag.Save(out); err != nil {
		logger.ErrorC(ctx, "failed to save tag", slog.Any("error", err))
		return nil, err
	}
	return out.Bytes(), nil
}

// GetBestMeta enriches the host-supplied hints with a Spotify match.
func (s *Service) GetBestMeta(ctx context.Context, hints TrackMeta) (*TrackMeta, error) {
	res, err := retry.Retry(retry.NewAlgSimpleDefault(), 3, s.GetSpotifyMeta, ctx, hints)
	if err != nil {
		logger.ErrorC(ctx, "failed to get spotify meta", slog.Any("error", err))
		return nil, err
	}
	spotifyMetas := res[0].([]TrackMeta)
	bestMeta := s.GetBestMetaMatch(ctx, hints, spotifyMetas)
	return &bestMeta, nil
}

func (s *Service) GetSpotifyMeta(ctx context.Context, trackMeta TrackMeta) ([]TrackMeta, error) {
	searchTerm := fmt.Sprintf("track:%s artist:%s", trackMeta.Title, trackMeta.Artist)
	logger.InfoC(ctx, "searching spotify", slog.String("searchTerm", searchTerm))

	token, err := s.GetSpotifyToken(ctx)
	if err != nil {
		logger.ErrorC(ctx, "failed to get spotify token", slog.Any("error", err))
		return nil, err
	}

	authClient := spotifyauth.New().Client(ctx, token)
	spotifyClient := spotify.New(authClient)

	res, err := spotifyClient.Search(ctx, searchTerm, spotify.SearchTypeTrack)
	if err != nil {
		logger.ErrorC(ctx, "failed to search spotify", slog.Any("error", err))
		return nil, err
	}

	trackMetas := make([]TrackMeta, 0)
	for _, track := range res.Tracks.Tracks {
		resMeta := TrackMeta{}
		if len(track.Album.Images) > 0 {
			resMeta.CoverArtURL = track.Album.Images[0].URL
		}

		artists := make([]string, 0)
		for _, artist := range track.Artists {
			artists = append(artists, artist.Name)
		}

		resMeta.Artist = strings.Join(artists, ", ")
		resMeta.Album = track.Album.Name
		resMeta.Title = track.Name
		resMeta.ID = trackMeta.ID
		trackMetas = append(trackMetas, resMeta)
	}

	logger.InfoC(ctx, "spotify search results", slog.Any("results", trackMetas))
	return trackMetas, nil
}

func (s *Service) GetSpotifyToken(ctx context.Context) (*oauth2.Token, error) {
	token, err := s.SpotifyConfig.Token(ctx)
	if err != nil {
		logger.ErrorC(ctx, "failed to get spotify token", slog.Any("error", err))
		return nil, err
	}
	return token, nil
}

// GetBestMetaMatch compares the hint title/artist against every Spotify
// candidate, trying the raw title plus sanitized and feat-stripped
// variants. Without a match it returns the hints with the sanitized title
// in place of the hint title.
func (s *Service) GetBestMetaMatch(ctx context.Context, hints TrackMeta, spotifyMetas []TrackMeta) TrackMeta {
	sanitizedTitle := s.SanitizeString(s.SanitizeParenthesis(hints.Title))
	featStrippedTitle := strings.Split(sanitizedTitle, "feat")[0]
	titles := []string{hints.Title, sanitizedTitle, featStrippedTitle}
	for i, title := range titles {
		titles[i] = strings.Trim(strings.ReplaceAll(title, "  ", " "), " ")
	}

	for _, spotifyMeta := range spotifyMetas {
		for _, title := range titles {
			if s.EqualIgnoringWhitespace(title, spotifyMeta.Title) && s.EqualIgnoringWhitespace(s.SanitizeAuthor(hints.Artist), s.SanitizeAuthor(spotifyMeta.Artist)) {
				return TrackMeta{Title: spotifyMeta.Title, Artist: spotifyMeta.Artist, Album: spotifyMeta.Album, ID: hints.ID, CoverArtURL: spotifyMeta.CoverArtURL}
			}
		}
	}
	logger.InfoC(ctx, "no confident spotify match, keeping hints", slog.String("title", sanitizedTitle))
	return TrackMeta{Title: sanitizedTitle, Artist: hints.Artist, Album: hints.Album, ID: hints.ID, CoverArtURL: hints.CoverArtURL}
}

func (s *Service) SanitizeString(str string) string {
	regex := regexp.MustCompile(`[^a-zA-Z0-9\s\:\-]`)
	return regex.ReplaceAllString(str, "")
}

func (s *Service) SanitizeParenthesis(str string) string {
	regex := regexp.MustCompile(`\([^\(\)]*\)|\[[^\[\]]*\]`)
	return regex.ReplaceAllString(str, "")
}

func (s *Service) EqualIgnoringWhitespace(s1, s2 string) bool {
	regex := regexp.MustCompile(`\s+`)
	cleanS1 := regex.ReplaceAllString(s1, "")
	cleanS2 := regex.ReplaceAllString(s2, "")
	return strings.EqualFold(cleanS1, cleanS2)
}

func (s *Service) SanitizeAuthor(author string) string {
	author = strings.ToLower(author)
	r := regexp.MustCompile(` - official|-official|official| - vevo|-vevo|vevo|@| - topic|-topic|topic`)
	author = r.ReplaceAllString(author, "")
	author = strings.Trim(author, " ")
	return author
}

package meta

import "golang.org/x/oauth2/clientcredentials"

type Service struct {
	SpotifyConfig *clientcredentials.Config
}

// TrackMeta is the tag set written onto a finished download. The host
// player supplies title/artist hints with the download request; Spotify
// fills in album and cover art when a confident match exists.
type TrackMeta struct {
	ID          string
	Title       string
	Artist      string
	Album       string
	Genre       string
	CoverArtURL string
}

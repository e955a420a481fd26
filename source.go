package twitter_video_dl

import (
	"context"
)

type SourceInfo interface {
	ID() string
	Title() string
}

type Source interface {
	// URL should return the canonical URL for this source. It is assumed that the Provider.Match that created the
	// Source would successfully match this canonical URL.
	URL() string
	// Recon should fetch whatever upstream state is needed to make the source downloadable, e.g. API credentials
	// and media metadata, returning a ResolvedSource that knows exactly what to download.
	Recon(context.Context) (ResolvedSource, error)
}

type ResolvedSource interface {
	Source
	// Info should return information about the download. Expected to be non-nil after a successful Recon.
	Info() SourceInfo
	// Download should fetch the actual video.
	Download(Download) error
}

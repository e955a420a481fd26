package twitter

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	twitter_video_dl "github.com/lanesky/twitter-video-dl"
)

var ErrBadTweetURL = errors.New("could not parse tweet ID from URL")

// tweetIDPattern matches the numeric tweet ID in any .../status/<id> URL, regardless of hostname, so both
// twitter.com and x.com links (and short forms like /i/status/<id>) are accepted.
var tweetIDPattern = regexp.MustCompile(`status/(\d+)`)

type source struct {
	tweetID string
	client  *Client
}

func (s *source) URL() string {
	return fmt.Sprintf("https://x.com/i/status/%s", s.tweetID)
}

func (s *source) String() string {
	return s.URL()
}

// Recon authenticates against the API and resolves the tweet into its downloadable video variants.
func (s *source) Recon(ctx context.Context) (twitter_video_dl.ResolvedSource, error) {
	if err := s.client.Authenticate(ctx); err != nil {
		return nil, err
	}
	details, err := s.client.TweetDetails(ctx, s.tweetID)
	if err != nil {
		return nil, err
	}
	variants, err := extractVariants(details)
	if err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, ErrNoVideo
	}
	return &resolvedSource{source: *s, variants: variants}, nil
}

type resolvedSource struct {
	source
	variants []Variant
}

func (s *resolvedSource) Recon(ctx context.Context) (twitter_video_dl.ResolvedSource, error) {
	return s, nil
}

func (s *resolvedSource) Info() twitter_video_dl.SourceInfo {
	return &sourceInfo{tweetID: s.tweetID}
}

// Download fetches every variant in turn. A variant failure aborts the remaining variants; the failed
// variant's partial file has already been cleaned up by the Download.
func (s *resolvedSource) Download(d twitter_video_dl.Download) error {
	logger := twitter_video_dl.Logger(d.Context()).Sugar()
	for _, variant := range s.variants {
		if err := s.downloadVariant(d, variant); err != nil {
			return err
		}
		logger.Infof("downloaded %s", s.filename(variant))
	}
	return nil
}

func (s *resolvedSource) downloadVariant(d twitter_video_dl.Download, variant Variant) error {
	stream, size, err := s.client.OpenStream(d.Context(), variant.URL)
	if err != nil {
		return err
	}
	defer stream.Close()
	if size > 0 {
		d.AddExpectedBytes(int(size))
	}
	return d.SaveStream(s.filename(variant), stream)
}

// filename is deterministic per {tweet, bitrate}. Variants sharing a bitrate overwrite each other, which
// matches the naming scheme of the upstream tool.
func (s *resolvedSource) filename(variant Variant) string {
	return fmt.Sprintf("tweet_%s_%d.mp4", s.tweetID, variant.Bitrate)
}

func (s *resolvedSource) String() string {
	return fmt.Sprintf("tweet %s (%d variants)", s.tweetID, len(s.variants))
}

type sourceInfo struct {
	tweetID string
}

func (i *sourceInfo) ID() string {
	return i.tweetID
}

func (i *sourceInfo) Title() string {
	return fmt.Sprintf("tweet %s", i.tweetID)
}

// Match gives a Source for any URL containing a status/<digits> path segment.
func Match(s string) (twitter_video_dl.Source, error) {
	return MatchWithClient(s, NewClient())
}

// MatchWithClient is Match with a custom API client, e.g. one pointed at stub endpoints.
func MatchWithClient(s string, client *Client) (twitter_video_dl.Source, error) {
	m := tweetIDPattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("%w: %v", ErrBadTweetURL, s)
	}
	return &source{tweetID: m[1], client: client}, nil
}

func New() twitter_video_dl.Provider {
	return twitter_video_dl.Provider{Name: "twitter", Match: Match}
}

func init() {
	twitter_video_dl.DefaultProviderRegistry.MustAdd(New())
}

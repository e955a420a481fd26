package twitter

import (
	"errors"
	"fmt"

	"github.com/bitly/go-simplejson"
)

// mp4ContentType is the only container this tool downloads; HLS playlist variants and the like are skipped.
const mp4ContentType = "video/mp4"

var (
	ErrNoVideoInfo = errors.New("could not find video information in tweet data")
	ErrNoVideo     = errors.New("no video found in tweet")
)

// A Variant is one encoded rendition of a tweet's video. Bitrate is 0 when the upstream doesn't declare one.
type Variant struct {
	Bitrate     int
	URL         string
	ContentType string
}

// extractVariants digs the variant list out of the raw tweet description and keeps the mp4 renditions.
// The path is fixed: data → tweetResult → result → legacy → entities → media[0] → video_info → variants.
// A missing or misshapen path is ErrNoVideoInfo; a path that resolves but has no mp4 renditions gives an
// empty (non-error) result, so the caller can report "no video" instead of a parse fault.
func extractVariants(details *simplejson.Json) ([]Variant, error) {
	media := details.GetPath("data", "tweetResult", "result", "legacy", "entities", "media")
	if entities, err := media.Array(); err != nil || len(entities) == 0 {
		return nil, fmt.Errorf("%w: no media entities", ErrNoVideoInfo)
	}
	rawVariants := media.GetIndex(0).GetPath("video_info", "variants")
	entries, err := rawVariants.Array()
	if err != nil {
		return nil, fmt.Errorf("%w: first media entity has no video_info", ErrNoVideoInfo)
	}

	variants := make([]Variant, 0, len(entries))
	for i := range entries {
		entry := rawVariants.GetIndex(i)
		contentType, err := entry.Get("content_type").String()
		if err != nil {
			return nil, fmt.Errorf("%w: variant %d has no content_type", ErrNoVideoInfo, i)
		}
		if contentType != mp4ContentType {
			continue
		}
		variantURL, err := entry.Get("url").String()
		if err != nil {
			return nil, fmt.Errorf("%w: variant %d has no url", ErrNoVideoInfo, i)
		}
		variants = append(variants, Variant{
			Bitrate:     entry.Get("bitrate").MustInt(0),
			URL:         variantURL,
			ContentType: contentType,
		})
	}
	return variants, nil
}

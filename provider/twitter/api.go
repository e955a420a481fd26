package twitter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"

	"github.com/bitly/go-simplejson"

	twitter_video_dl "github.com/lanesky/twitter-video-dl"
)

const (
	defaultAPIURL      = "https://api.x.com/graphql/OoJd6A50cv8GsifjoOHGfg/TweetResultByRestId"
	defaultActivateURL = "https://api.twitter.com/1.1/guest/activate.json"
	defaultMainJSURL   = "https://abs.twimg.com/responsive-web/client-web/main.165ee22a.js"
)

// tweetFeatures is the capability flag set the GraphQL endpoint requires to accept the request. It is an
// opaque contract constant owned by the upstream; omitting any flag risks a rejected or malformed response,
// so it is kept as one literal instead of being assembled flag by flag.
const tweetFeatures = `{"creator_subscriptions_tweet_preview_api_enabled":true,"communities_web_enable_tweet_community_results_fetch":true,"c9s_tweet_anatomy_moderator_badge_enabled":true,"articles_preview_enabled":true,"responsive_web_edit_tweet_api_enabled":true,"graphql_is_translatable_rweb_tweet_is_translatable_enabled":true,"view_counts_everywhere_api_enabled":true,"longform_notetweets_consumption_enabled":true,"responsive_web_twitter_article_tweet_consumption_enabled":true,"tweet_awards_web_tipping_enabled":false,"creator_subscriptions_quote_tweet_preview_enabled":false,"freedom_of_speech_not_reach_fetch_enabled":true,"standardized_nudges_misinfo":true,"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled":true,"rweb_video_timestamps_enabled":true,"longform_notetweets_rich_text_read_enabled":true,"longform_notetweets_inline_media_enabled":true,"rweb_tipjar_consumption_enabled":true,"responsive_web_graphql_exclude_directive_enabled":true,"verified_phone_label_enabled":false,"responsive_web_graphql_skip_user_profile_image_extensions_enabled":false,"responsive_web_graphql_timeline_navigation_enabled":true,"responsive_web_enhance_cards_enabled":false}`

// bearerPattern matches the API bearer token embedded in the upstream client script. The prefix and the
// format are not published anywhere; this is the first thing to check when authentication starts failing.
var bearerPattern = regexp.MustCompile(`AAAAAAAAA[^"]+`)

var (
	ErrCredential  = errors.New("credential acquisition failed")
	ErrTweetLookup = errors.New("tweet lookup failed")
)

// sessionTransport injects a persistent header set into every outgoing request.
type sessionTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *sessionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, vs := range t.headers {
		if req.Header.Get(k) == "" {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// Client talks to the Twitter/X API as an unauthenticated guest. Every request rides on a shared
// browser-like header set; after a successful Authenticate the bearer and guest tokens are part of that
// set, so all later requests carry them too. A Client is intended to live for one download run; tokens are
// never persisted.
type Client struct {
	httpClient  *http.Client
	session     *sessionTransport
	apiURL      string
	activateURL string
	mainJSURL   string
	bearerToken string
	guestToken  string
}

type ClientOption func(*Client)

// WithEndpoints overrides the upstream endpoint URLs, e.g. to point at stub servers in tests.
func WithEndpoints(apiURL string, activateURL string, mainJSURL string) ClientOption {
	return func(c *Client) {
		c.apiURL = apiURL
		c.activateURL = activateURL
		c.mainJSURL = mainJSURL
	}
}

// WithBaseTransport overrides the transport the session headers are applied on top of.
func WithBaseTransport(base http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.session.base = base
	}
}

func NewClient(opts ...ClientOption) *Client {
	session := &sessionTransport{headers: baseHeaders()}
	c := &Client{
		httpClient:  &http.Client{Transport: session},
		session:     session,
		apiURL:      defaultAPIURL,
		activateURL: defaultActivateURL,
		mainJSURL:   defaultMainJSURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func baseHeaders() http.Header {
	h := http.Header{}
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:84.0) Gecko/20100101 Firefox/84.0")
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "de,en-US;q=0.7,en;q=0.3")
	h.Set("TE", "trailers")
	return h
}

// Authenticate scrapes the bearer token out of the client script and exchanges it for a guest token. Both
// are attached to the session headers for all later requests.
func (c *Client) Authenticate(ctx context.Context) error {
	bearer, err := c.fetchBearerToken(ctx)
	if err != nil {
		return err
	}
	c.bearerToken = bearer
	c.session.headers.Set("Authorization", "Bearer "+bearer)

	guest, err := c.fetchGuestToken(ctx)
	if err != nil {
		return err
	}
	c.guestToken = guest
	c.session.headers.Set("x-guest-token", guest)
	return nil
}

func (c *Client) fetchBearerToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.mainJSURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to fetch client script: %v", ErrCredential, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: client script returned %v", ErrCredential, resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: failed to read client script: %v", ErrCredential, err)
	}
	// A success status is no guarantee the script still embeds a token in the expected format.
	token := bearerPattern.Find(body)
	if token == nil {
		return "", fmt.Errorf("%w: bearer token not found in client script", ErrCredential)
	}
	return string(token), nil
}

func (c *Client) fetchGuestToken(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.activateURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCredential, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: failed to activate guest session: %v", ErrCredential, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: guest activation returned %v", ErrCredential, resp.Status)
	}
	j, err := simplejson.NewFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: guest activation response is not JSON: %v", ErrCredential, err)
	}
	token, err := j.Get("guest_token").String()
	if err != nil {
		return "", fmt.Errorf("%w: guest activation response has no guest_token", ErrCredential)
	}
	return token, nil
}

// TweetDetails fetches the raw GraphQL description of a tweet. The response schema is owned by the
// upstream and changes without notice, so it is returned as-is for extractVariants to pick apart.
func (c *Client) TweetDetails(ctx context.Context, tweetID string) (*simplejson.Json, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tweetDetailURL(tweetID), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTweetLookup, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTweetLookup, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: tweet detail endpoint returned %v", ErrTweetLookup, resp.Status)
	}
	j, err := simplejson.NewFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: tweet detail response is not JSON: %v", ErrTweetLookup, err)
	}
	return j, nil
}

func (c *Client) tweetDetailURL(tweetID string) string {
	variables := fmt.Sprintf(`{"tweetId":%q,"withCommunity":false,"includePromotedContent":false,"withVoice":false}`, tweetID)
	query := url.Values{}
	query.Set("variables", variables)
	query.Set("features", tweetFeatures)
	return c.apiURL + "?" + query.Encode()
}

// OpenStream starts a streamed GET of a media asset, returning the body and the declared content length
// (0 when unknown). The caller owns closing the body.
func (c *Client) OpenStream(ctx context.Context, assetURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", twitter_video_dl.ErrDownloadFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", twitter_video_dl.ErrDownloadFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("%w: unexpected status %v", twitter_video_dl.ErrDownloadFailed, resp.Status)
	}
	length := resp.ContentLength
	if length < 0 {
		length = 0
	}
	return resp.Body, length, nil
}

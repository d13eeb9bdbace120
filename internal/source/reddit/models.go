package reddit

import "encoding/json"

// listing is one element of the array returned by a permalink .json call.
type listing struct {
	Data struct {
		Children []struct {
			Kind string          `json:"kind"`
			Data json.RawMessage `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

type post struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Title         string                   `json:"title"`
	Score         int                      `json:"score"`
	NumComments   int                      `json:"num_comments"`
	Over18        bool                     `json:"over_18"`
	Spoiler       bool                     `json:"spoiler"`
	Selftext      string                   `json:"selftext"`
	SelftextHTML  string                   `json:"selftext_html"`
	LinkFlairText string                   `json:"link_flair_text"`
	URL           string                   `json:"url"`
	Thumbnail     string                   `json:"thumbnail"`
	IsVideo       bool                     `json:"is_video"`
	IsGallery     bool                     `json:"is_gallery"`
	Media         *media                   `json:"media"`
	Preview       *preview                 `json:"preview"`
	MediaMetadata map[string]mediaMetadata `json:"media_metadata"`
	GalleryData   *galleryData             `json:"gallery_data"`
}

type media struct {
	RedditVideo *struct {
		FallbackURL string `json:"fallback_url"`
		Duration    int    `json:"duration"`
	} `json:"reddit_video"`
}

type preview struct {
	Images []struct {
		Source struct {
			URL    string `json:"url"`
			Width  int    `json:"width"`
			Height int    `json:"height"`
		} `json:"source"`
	} `json:"images"`
}

type mediaMetadata struct {
	Status string `json:"status"`
	Kind   string `json:"e"`
	Source struct {
		URL string `json:"u"`
		GIF string `json:"gif"`
	} `json:"s"`
}

type galleryData struct {
	Items []struct {
		MediaID string `json:"media_id"`
	} `json:"items"`
}

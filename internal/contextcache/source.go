package contextcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// HTTPSourceConfig holds content API client configuration.
type HTTPSourceConfig struct {
	BaseURL string
	Timeout time.Duration
}

// HTTPSource loads course materials from the platform content API,
// the boundary to the durable document store.
type HTTPSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPSource creates a content API client.
func NewHTTPSource(cfg HTTPSourceConfig) (*HTTPSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("content API base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSource{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// Materials fetches the transcript and summary tiers for one video.
func (s *HTTPSource) Materials(ctx context.Context, courseID, videoURL string) (Materials, error) {
	endpoint := fmt.Sprintf("%s/internal/courses/%s/video-context?video_url=%s",
		s.baseURL, url.PathEscape(courseID), url.QueryEscape(videoURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Materials{}, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Materials{}, fmt.Errorf("content API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Unknown video: no materials, not an error.
		return Materials{}, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Materials{}, fmt.Errorf("content API returned status %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		CourseTitle    string `json:"course_title"`
		Transcript     string `json:"transcript"`
		VideoSummary   string `json:"video_summary"`
		SectionSummary string `json:"section_summary"`
		CourseSummary  string `json:"course_summary"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Materials{}, fmt.Errorf("failed to decode response: %w", err)
	}

	return Materials{
		CourseTitle:    payload.CourseTitle,
		Transcript:     payload.Transcript,
		VideoSummary:   payload.VideoSummary,
		SectionSummary: payload.SectionSummary,
		CourseSummary:  payload.CourseSummary,
	}, nil
}

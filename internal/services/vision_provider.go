package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/threadscope/threadscope-backend/internal/logger"
)

// ImageAnnotation is what the vision stage contributes to a post:
// labels and any text found inside attached images. Advisory context
// for the analyst, never load-bearing for metrics.
type ImageAnnotation struct {
	SourceURL string   `json:"source_url"`
	Labels    []string `json:"labels,omitempty"`
	Text      string   `json:"text,omitempty"`
}

type VisionProvider interface {
	AnnotateImages(ctx context.Context, imageURLs []string) ([]ImageAnnotation, error)
	Close() error
}

type visionProvider struct {
	log    *logger.Logger
	client *vision.ImageAnnotatorClient
}

func NewVisionProvider(baseLog *logger.Logger) (VisionProvider, error) {
	log := baseLog.With("service", "VisionProvider")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()
	var (
		client *vision.ImageAnnotatorClient
		err    error
	)
	if creds != "" {
		client, err = vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(creds))
	} else {
		// ADC (attached service account)
		client, err = vision.NewImageAnnotatorClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &visionProvider{log: log, client: client}, nil
}

func (s *visionProvider) AnnotateImages(ctx context.Context, imageURLs []string) ([]ImageAnnotation, error) {
	if len(imageURLs) == 0 {
		return nil, nil
	}
	requests := make([]*visionpb.AnnotateImageRequest, 0, len(imageURLs))
	for _, u := range imageURLs {
		requests = append(requests, &visionpb.AnnotateImageRequest{
			Image: &visionpb.Image{
				Source: &visionpb.ImageSource{ImageUri: u},
			},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: 10},
				{Type: visionpb.Feature_TEXT_DETECTION},
			},
		})
	}

	resp, err := s.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{Requests: requests})
	if err != nil {
		return nil, fmt.Errorf("batch annotate: %w", err)
	}

	out := make([]ImageAnnotation, 0, len(resp.Responses))
	for i, r := range resp.Responses {
		ann := ImageAnnotation{SourceURL: imageURLs[i]}
		if r.Error != nil {
			s.log.Warn("image annotation failed", "url", imageURLs[i], "error", r.Error.Message)
			out = append(out, ann)
			continue
		}
		for _, l := range r.LabelAnnotations {
			ann.Labels = append(ann.Labels, l.Description)
		}
		if r.FullTextAnnotation != nil {
			ann.Text = r.FullTextAnnotation.Text
		}
		out = append(out, ann)
	}
	return out, nil
}

func (s *visionProvider) Close() error { return s.client.Close() }

package stt

import (
	"context"
	"fmt"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleRecognizer opens streaming sessions against Cloud Speech-to-Text.
type GoogleRecognizer struct {
	client *speech.Client
}

func NewGoogleRecognizer(
	ctx context.Context,
	opts ...option.ClientOption,
) (*GoogleRecognizer, error) {
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleRecognizer{client: client}, nil
}

func (r *GoogleRecognizer) Open(ctx context.Context) (Stream, error) {
	stream, err := r.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}
	return &googleStream{stream: stream}, nil
}

func (r *GoogleRecognizer) Close() error {
	return r.client.Close()
}

type googleStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (s *googleStream) SendConfig(cfg Config) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:                   googleEncoding(cfg.Encoding),
					SampleRateHertz:            cfg.SampleRateHertz,
					LanguageCode:               cfg.LanguageCode,
					EnableAutomaticPunctuation: cfg.AutomaticPunctuation,
				},
				InterimResults:  cfg.InterimResults,
				SingleUtterance: cfg.SingleUtterance,
			},
		},
	})
}

func (s *googleStream) SendAudio(data []byte) error {
	return s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: data,
		},
	})
}

func (s *googleStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *googleStream) Recv() (*Response, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return nil, err
	}
	return responseFromProto(resp), nil
}

func googleEncoding(e Encoding) speechpb.RecognitionConfig_AudioEncoding {
	switch e {
	case EncodingLinear16:
		return speechpb.RecognitionConfig_LINEAR16
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}

func responseFromProto(resp *speechpb.StreamingRecognizeResponse) *Response {
	out := &Response{}

	if e := resp.GetError(); e != nil {
		out.Error = &ServiceError{Code: e.GetCode(), Message: e.GetMessage()}
	}

	for _, result := range resp.GetResults() {
		r := Result{
			IsFinal:   result.GetIsFinal(),
			Stability: result.GetStability(),
		}
		for _, alt := range result.GetAlternatives() {
			r.Alternatives = append(r.Alternatives, Alternative{
				Transcript: alt.GetTranscript(),
				Confidence: alt.GetConfidence(),
			})
		}
		out.Results = append(out.Results, r)
	}

	return out
}

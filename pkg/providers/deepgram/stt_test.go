package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	restinterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
)

type fakeREST struct {
	body []byte
	opts *interfaces.PreRecordedTranscriptionOptions
	res  string
	err  error
}

func (f *fakeREST) FromStream(_ context.Context, src io.Reader, options *interfaces.PreRecordedTranscriptionOptions) (*restinterfaces.PreRecordedResponse, error) {
	f.body, _ = io.ReadAll(src)
	f.opts = options
	if f.err != nil {
		return nil, f.err
	}
	var out restinterfaces.PreRecordedResponse
	if err := json.Unmarshal([]byte(f.res), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func TestTranscribeReturnsFirstAlternative(t *testing.T) {
	fake := &fakeREST{res: `{"results":{"channels":[{"alternatives":[{"transcript":" bom dia ","confidence":0.9}]}]}}`}
	tr := newTranscriber(Config{SmartFormat: true}, fake)

	text, err := tr.Transcribe(context.Background(), []byte("RIFFwav"))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if text != "bom dia" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if string(fake.body) != "RIFFwav" {
		t.Fatalf("audio not streamed")
	}
	if fake.opts.Model != DefaultModel || fake.opts.Language != "pt-BR" || !fake.opts.SmartFormat {
		t.Fatalf("unexpected options %+v", fake.opts)
	}
}

func TestTranscribeEmptyResult(t *testing.T) {
	tr := newTranscriber(Config{}, &fakeREST{res: `{"results":{"channels":[]}}`})
	text, err := tr.Transcribe(context.Background(), []byte("x"))
	if err != nil || text != "" {
		t.Fatalf("expected empty transcript, got %q, %v", text, err)
	}
}

func TestTranscribeError(t *testing.T) {
	boom := errors.New("boom")
	tr := newTranscriber(Config{}, &fakeREST{err: boom})
	if _, err := tr.Transcribe(context.Background(), []byte("x")); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestNewRequiresKey(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected missing key error")
	}
}
